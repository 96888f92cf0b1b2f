package heatmap

import (
	"fmt"
	"math"
)

// RadiusFunc computes a radius in pixels for a tile, so the radius can follow the zoom level.
type RadiusFunc func(sector Sector, width, height int) float64

// Radius is either a fixed pixel radius or one computed per tile.
// The zero value is a fixed radius of 0 (no visible contribution).
type Radius struct {
	fixed float64
	fn    RadiusFunc
}

// FixedRadius returns a radius that is the same for every tile.
func FixedRadius(px float64) Radius {
	return Radius{fixed: px}
}

// ComputedRadius returns a radius evaluated for each tile render.
func ComputedRadius(fn RadiusFunc) Radius {
	return Radius{fn: fn}
}

// IsComputed reports whether the radius depends on the tile.
func (r Radius) IsComputed() bool {
	return r.fn != nil
}

// Resolve returns the radius in pixels for a tile of the given sector and size.
func (r Radius) Resolve(sector Sector, width, height int) float64 {
	if r.fn != nil {
		return r.fn(sector, width, height)
	}
	return r.fixed
}

func (r Radius) String() string {
	if r.fn != nil {
		return "computed"
	}
	return fmt.Sprintf("%gpx", r.fixed)
}

// ZoomScaledRadius grows the base radius as tiles cover fewer degrees, so
// hotspots keep a similar geographic footprint across zoom levels.
// referenceDelta is the longitude span at which the radius equals base;
// the result is clamped to [base, maxRadius].
func ZoomScaledRadius(base, referenceDelta, maxRadius float64) RadiusFunc {
	return func(sector Sector, width, height int) float64 {
		delta := sector.DeltaLon()
		if delta <= 0 || referenceDelta <= 0 {
			return base
		}
		r := base * math.Sqrt(referenceDelta/delta)
		return math.Max(base, math.Min(r, maxRadius))
	}
}
