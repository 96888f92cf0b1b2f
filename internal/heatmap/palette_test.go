package heatmap

import (
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPaletteEndpoints(t *testing.T) {
	p := NewPalette(BuildGradient(nil, IntervalContinuous, DefaultScale()))

	blue := color.NRGBA{B: 255, A: 255}
	red := color.NRGBA{R: 255, A: 255}

	assert.Equal(t, blue, p.At(0))
	assert.Equal(t, blue, p.At(-3))
	assert.Equal(t, red, p.At(1))
	assert.Equal(t, red, p.At(7))
	// Above the last stop (0.8) the last color holds
	assert.Equal(t, red, p.At(0.9))
}

func TestPaletteInterpolates(t *testing.T) {
	p := NewPalette(BuildGradient(nil, IntervalContinuous, DefaultScale()))

	// Halfway between blue (0.0) and cyan (0.2)
	c := p.At(0.1)
	assert.Equal(t, uint8(0), c.R)
	assert.InDelta(t, 128, int(c.G), 3)
	assert.Equal(t, uint8(255), c.B)

	// Exactly at the yellow stop
	assert.Equal(t, color.NRGBA{R: 255, G: 255, A: 255}, p.At(0.6))
}

func TestPaletteSortsStops(t *testing.T) {
	g := Gradient{stops: []Stop{
		{Position: 1, Color: color.NRGBA{R: 255, A: 255}},
		{Position: 0, Color: color.NRGBA{B: 255, A: 255}},
	}}
	p := NewPalette(g)

	assert.Equal(t, color.NRGBA{B: 255, A: 255}, p.At(0))
	assert.Equal(t, color.NRGBA{R: 255, A: 255}, p.At(1))
}

func TestPaletteDuplicatePositions(t *testing.T) {
	// Collapsed quantile stops: everything at 0 → the last of them wins above 0.
	g := BuildGradient(intensities(0, 0, 0, 0, 0), IntervalQuantile, DefaultScale())
	p := NewPalette(g)

	assert.Equal(t, color.NRGBA{R: 255, A: 255}, p.At(0.5))
}

func TestPaletteEmpty(t *testing.T) {
	p := NewPalette(Gradient{})
	assert.Equal(t, color.NRGBA{}, p.At(0.5))
}
