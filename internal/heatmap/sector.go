// Package heatmap turns a set of intensity-weighted geographic points into
// colored raster tiles.
//
// A HeatMap is built once from the full dataset: it owns the spatial index and
// the color gradient, both immutable afterwards. Each tile render queries the
// index with the tile's sector widened by a bleed margin, rasterizes the heat
// field over the widened raster, and clips the margin away so neighbouring
// tiles meet without seams. Renders share no mutable state and may run in
// parallel.
package heatmap

import (
	"fmt"
	"math"

	"github.com/golang/geo/r2"

	"heatmap-tiles/internal/spatial"
)

// Point is one input record. Intensity must be non-negative.
type Point struct {
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	Intensity float64 `json:"intensity"`
}

// Sector is an axis-aligned geographic region in degrees.
type Sector struct {
	MinLat float64 `json:"minLat"`
	MaxLat float64 `json:"maxLat"`
	MinLon float64 `json:"minLon"`
	MaxLon float64 `json:"maxLon"`
}

// DeltaLat returns the latitude span in degrees.
func (s Sector) DeltaLat() float64 { return s.MaxLat - s.MinLat }

// DeltaLon returns the longitude span in degrees.
func (s Sector) DeltaLon() float64 { return s.MaxLon - s.MinLon }

// Validate reports an error for non-finite or inverted sectors.
func (s Sector) Validate() error {
	for _, v := range []float64{s.MinLat, s.MaxLat, s.MinLon, s.MaxLon} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("sector %v is not finite", s)
		}
	}
	if s.MinLat >= s.MaxLat || s.MinLon >= s.MaxLon {
		return fmt.Errorf("sector %v is empty or inverted", s)
	}
	return nil
}

// Contains reports whether the location lies within the sector (closed bounds).
func (s Sector) Contains(lat, lon float64) bool {
	return lat >= s.MinLat && lat <= s.MaxLat && lon >= s.MinLon && lon <= s.MaxLon
}

// Extend widens the sector by a pixel margin on every side, where the sector
// spans width×height pixels. Working in whole pixels keeps the pixel grids of
// adjacent tiles aligned.
func (s Sector) Extend(marginX, marginY, width, height int) Sector {
	dLon := s.DeltaLon() / float64(width) * float64(marginX)
	dLat := s.DeltaLat() / float64(height) * float64(marginY)
	return Sector{
		MinLat: s.MinLat - dLat,
		MaxLat: s.MaxLat + dLat,
		MinLon: s.MinLon - dLon,
		MaxLon: s.MaxLon + dLon,
	}
}

// IndexRect maps the sector into the index's normalized space (x = lon+180, y = lat+90).
func (s Sector) IndexRect() r2.Rect {
	return spatial.NewRect(s.MinLon+180, s.MinLat+90, s.DeltaLon(), s.DeltaLat())
}

func (s Sector) String() string {
	return fmt.Sprintf("[lat %.6g..%.6g, lon %.6g..%.6g]", s.MinLat, s.MaxLat, s.MinLon, s.MaxLon)
}

// margins returns the bleed margin in pixels for an extension factor.
func margins(extension float64, width, height int) (int, int) {
	if extension <= 0 {
		return 0, 0
	}
	return int(math.Ceil(extension * float64(width))), int(math.Ceil(extension * float64(height)))
}

func toItem(p Point, ref uint32) spatial.Item {
	return spatial.Item{X: p.Lon + 180, Y: p.Lat + 90, Weight: p.Intensity, Ref: ref}
}
