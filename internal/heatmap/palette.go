package heatmap

import (
	"cmp"
	"image/color"
	"math"
	"slices"
	"sort"
)

// paletteSize is the number of precomputed colors; one per alpha level.
const paletteSize = 256

// Palette is the lookup side of a Gradient: stops sorted by position and
// linearly interpolated into a fixed table.
type Palette struct {
	colors [paletteSize]color.NRGBA
}

// NewPalette sorts the gradient's stops (stable, so equal positions keep scale
// order) and precomputes the interpolated ramp. Values below the first stop take
// its color; values above the last stop take the last color. An empty gradient
// yields a fully transparent palette.
func NewPalette(g Gradient) *Palette {
	p := &Palette{}
	stops := g.Stops()
	if len(stops) == 0 {
		return p
	}

	slices.SortStableFunc(stops, func(a, b Stop) int {
		return cmp.Compare(a.Position, b.Position)
	})

	for i := range p.colors {
		p.colors[i] = interpolate(stops, float64(i)/(paletteSize-1))
	}
	return p
}

// At returns the color for a normalized value; v is clamped to [0,1].
func (p *Palette) At(v float64) color.NRGBA {
	if !(v > 0) {
		return p.colors[0]
	}
	if v >= 1 {
		return p.colors[paletteSize-1]
	}
	return p.colors[int(v*(paletteSize-1)+0.5)]
}

// interpolate does a binary search for the surrounding stops and blends them.
func interpolate(stops []Stop, v float64) color.NRGBA {
	// idx = number of stops at or below v
	idx := sort.Search(len(stops), func(i int) bool {
		return stops[i].Position > v
	})

	if idx == 0 {
		return stops[0].Color
	}
	if idx == len(stops) {
		return stops[len(stops)-1].Color
	}

	lo, hi := stops[idx-1], stops[idx]
	t := (v - lo.Position) / (hi.Position - lo.Position)

	return color.NRGBA{
		R: lerp8(lo.Color.R, hi.Color.R, t),
		G: lerp8(lo.Color.G, hi.Color.G, t),
		B: lerp8(lo.Color.B, hi.Color.B, t),
		A: lerp8(lo.Color.A, hi.Color.A, t),
	}
}

func lerp8(a, b uint8, t float64) uint8 {
	return uint8(math.Round(float64(a) + t*(float64(b)-float64(a))))
}
