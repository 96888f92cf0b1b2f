package heatmap

import (
	"cmp"
	"fmt"
	"image/color"
	"slices"
	"strings"
)

// IntervalType selects how gradient stops are placed.
type IntervalType int

const (
	// IntervalContinuous spaces stops evenly by scale index.
	IntervalContinuous IntervalType = iota
	// IntervalQuantile places stops at intensity quantiles of the dataset.
	IntervalQuantile
)

func (t IntervalType) String() string {
	switch t {
	case IntervalContinuous:
		return "continuous"
	case IntervalQuantile:
		return "quantile"
	default:
		return fmt.Sprintf("IntervalType(%d)", int(t))
	}
}

// ParseInterval parses "continuous" or "quantile" (case-insensitive).
func ParseInterval(s string) (IntervalType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "continuous":
		return IntervalContinuous, nil
	case "quantile":
		return IntervalQuantile, nil
	default:
		return 0, fmt.Errorf("unknown interval type %q", s)
	}
}

// Stop is one gradient stop: a normalized position in [0,1] and its color.
type Stop struct {
	Position float64
	Color    color.NRGBA
}

// Gradient maps normalized intensity positions to colors.
// Stops are kept in scale order and are not necessarily sorted by position;
// NewPalette sorts them for lookup.
type Gradient struct {
	stops []Stop
}

// Stops returns a copy of the gradient stops in scale order.
func (g Gradient) Stops() []Stop {
	return slices.Clone(g.stops)
}

// Len returns the number of stops.
func (g Gradient) Len() int {
	return len(g.stops)
}

// DefaultScale is the five-stop blue → cyan → lime → yellow → red ramp.
func DefaultScale() []color.NRGBA {
	return []color.NRGBA{
		{R: 0, G: 0, B: 255, A: 255},
		{R: 0, G: 255, B: 255, A: 255},
		{R: 0, G: 255, B: 0, A: 255},
		{R: 255, G: 255, B: 0, A: 255},
		{R: 255, G: 0, B: 0, A: 255},
	}
}

// BuildGradient places one stop per scale color.
//
// Continuous: stop i sits at i/N. Quantile: points are stably sorted by
// intensity and stop i sits at the intensity found at rank floor(i/N·count),
// normalized by the maximum intensity. With fewer points than colors the
// quantile strategy falls back to continuous. A zero maximum is treated as 1,
// so every stop collapses to 0.
func BuildGradient(points []Point, interval IntervalType, scale []color.NRGBA) Gradient {
	n := len(scale)
	if n == 0 {
		return Gradient{}
	}
	stops := make([]Stop, n)

	if interval != IntervalQuantile || len(points) < n {
		for i, c := range scale {
			stops[i] = Stop{Position: float64(i) / float64(n), Color: c}
		}
		return Gradient{stops: stops}
	}

	sorted := slices.Clone(points)
	slices.SortStableFunc(sorted, func(a, b Point) int {
		return cmp.Compare(a.Intensity, b.Intensity)
	})

	maxIntensity := sorted[len(sorted)-1].Intensity
	if maxIntensity == 0 {
		maxIntensity = 1
	}

	count := len(sorted)
	for i, c := range scale {
		// floor((i/N)·count) without float rounding surprises
		rank := i * count / n
		stops[i] = Stop{Position: sorted[rank].Intensity / maxIntensity, Color: c}
	}
	return Gradient{stops: stops}
}
