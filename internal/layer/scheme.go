// Package layer serves heat map tiles addressed by level, row and column.
package layer

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"

	"heatmap-tiles/internal/heatmap"
)

// ErrInvalidKey is returned for tile keys outside a scheme's level set.
var ErrInvalidKey = errors.New("invalid tile key")

const (
	maxGeographicLevel = 20
	maxMercatorLevel   = 24

	// Latitude where the square web mercator world ends.
	mercatorMaxLat = 85.05112877980659
)

// TileKey addresses one tile of a level set.
type TileKey struct {
	Level int `json:"level"`
	Row   int `json:"row"`
	Col   int `json:"col"`
}

func (k TileKey) String() string {
	return fmt.Sprintf("%d/%d/%d", k.Level, k.Col, k.Row)
}

// Scheme maps tile keys to geographic sectors.
type Scheme interface {
	Name() string
	Sector(key TileKey) (heatmap.Sector, error)
	// Covering returns the keys of all tiles at level that intersect sector.
	Covering(sector heatmap.Sector, level int) []TileKey
	// RowFromTop returns the key's row counted from the northern edge.
	RowFromTop(key TileKey) int
}

// SchemeByName returns "geographic" or "webmercator".
func SchemeByName(name string) (Scheme, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "geographic", "geo", "wgs84":
		return GeographicScheme{LevelZeroDelta: 90}, nil
	case "webmercator", "mercator", "xyz":
		return WebMercatorScheme{}, nil
	default:
		return nil, fmt.Errorf("unknown tile scheme %q", name)
	}
}

// GeographicScheme is an equirectangular level set. Level 0 tiles span
// LevelZeroDelta degrees and each level halves the span. Row 0 starts at -90°
// and column 0 at -180°.
type GeographicScheme struct {
	LevelZeroDelta float64
}

func (GeographicScheme) Name() string { return "geographic" }

func (s GeographicScheme) delta(level int) float64 {
	return s.LevelZeroDelta / float64(uint64(1)<<uint(level))
}

func (s GeographicScheme) dims(level int) (rows, cols int) {
	d := s.delta(level)
	return int(math.Ceil(180/d - 1e-9)), int(math.Ceil(360/d - 1e-9))
}

func (s GeographicScheme) Sector(key TileKey) (heatmap.Sector, error) {
	if !(s.LevelZeroDelta > 0) || s.LevelZeroDelta > 180 {
		return heatmap.Sector{}, fmt.Errorf("%w: level zero delta %v", ErrInvalidKey, s.LevelZeroDelta)
	}
	if key.Level < 0 || key.Level > maxGeographicLevel {
		return heatmap.Sector{}, fmt.Errorf("%w: level %d", ErrInvalidKey, key.Level)
	}
	rows, cols := s.dims(key.Level)
	if key.Row < 0 || key.Row >= rows || key.Col < 0 || key.Col >= cols {
		return heatmap.Sector{}, fmt.Errorf("%w: %v outside %dx%d", ErrInvalidKey, key, cols, rows)
	}

	d := s.delta(key.Level)
	minLat := -90 + float64(key.Row)*d
	minLon := -180 + float64(key.Col)*d
	return heatmap.Sector{
		MinLat: minLat,
		MaxLat: math.Min(minLat+d, 90),
		MinLon: minLon,
		MaxLon: math.Min(minLon+d, 180),
	}, nil
}

func (s GeographicScheme) Covering(sector heatmap.Sector, level int) []TileKey {
	if sector.Validate() != nil || !(s.LevelZeroDelta > 0) || level < 0 || level > maxGeographicLevel {
		return nil
	}
	d := s.delta(level)
	rows, cols := s.dims(level)

	r0 := clampInt(int(math.Floor((sector.MinLat+90)/d)), 0, rows-1)
	r1 := clampInt(int(math.Ceil((sector.MaxLat+90)/d))-1, 0, rows-1)
	c0 := clampInt(int(math.Floor((sector.MinLon+180)/d)), 0, cols-1)
	c1 := clampInt(int(math.Ceil((sector.MaxLon+180)/d))-1, 0, cols-1)

	keys := make([]TileKey, 0, (r1-r0+1)*(c1-c0+1))
	for row := r1; row >= r0; row-- {
		for col := c0; col <= c1; col++ {
			keys = append(keys, TileKey{Level: level, Row: row, Col: col})
		}
	}
	return keys
}

func (s GeographicScheme) RowFromTop(key TileKey) int {
	rows, _ := s.dims(key.Level)
	return rows - 1 - key.Row
}

// WebMercatorScheme is the z/x/y scheme of slippy maps. Row 0 is the
// northernmost row. Sectors are the tiles' longitude/latitude bounds.
//
// Tiles are addressed in mercator but drawn by the rasterizer, which spaces
// latitude linearly inside each sector. A point therefore lands up to a few
// pixels off its true mercator row, more so at high latitudes and on low
// levels where one tile spans many degrees. Tile edges still match exactly,
// so neighbouring tiles join without seams.
type WebMercatorScheme struct{}

func (WebMercatorScheme) Name() string { return "webmercator" }

func (WebMercatorScheme) Sector(key TileKey) (heatmap.Sector, error) {
	if key.Level < 0 || key.Level > maxMercatorLevel {
		return heatmap.Sector{}, fmt.Errorf("%w: level %d", ErrInvalidKey, key.Level)
	}
	n := 1 << uint(key.Level)
	if key.Row < 0 || key.Row >= n || key.Col < 0 || key.Col >= n {
		return heatmap.Sector{}, fmt.Errorf("%w: %v outside %dx%d", ErrInvalidKey, key, n, n)
	}

	b := maptile.New(uint32(key.Col), uint32(key.Row), maptile.Zoom(key.Level)).Bound()
	return boundToSector(b), nil
}

func (WebMercatorScheme) Covering(sector heatmap.Sector, level int) []TileKey {
	if sector.Validate() != nil || level < 0 || level > maxMercatorLevel {
		return nil
	}
	z := maptile.Zoom(level)
	n := 1 << uint(level)

	nw := maptile.At(orb.Point{clampLon(sector.MinLon), clampLat(sector.MaxLat)}, z)
	se := maptile.At(orb.Point{clampLon(sector.MaxLon), clampLat(sector.MinLat)}, z)

	c0, c1 := clampInt(int(nw.X), 0, n-1), clampInt(int(se.X), 0, n-1)
	r0, r1 := clampInt(int(nw.Y), 0, n-1), clampInt(int(se.Y), 0, n-1)

	keys := make([]TileKey, 0, (r1-r0+1)*(c1-c0+1))
	for row := r0; row <= r1; row++ {
		for col := c0; col <= c1; col++ {
			keys = append(keys, TileKey{Level: level, Row: row, Col: col})
		}
	}
	return keys
}

func (WebMercatorScheme) RowFromTop(key TileKey) int { return key.Row }

func boundToSector(b orb.Bound) heatmap.Sector {
	return heatmap.Sector{
		MinLat: b.Min.Lat(),
		MaxLat: b.Max.Lat(),
		MinLon: b.Min.Lon(),
		MaxLon: b.Max.Lon(),
	}
}

func clampLat(lat float64) float64 {
	const limit = mercatorMaxLat - 1e-9
	return math.Max(-limit, math.Min(lat, limit))
}

func clampLon(lon float64) float64 {
	// maptile.At maps 180° to the column past the last one
	return math.Max(-180, math.Min(lon, 180-1e-9))
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
