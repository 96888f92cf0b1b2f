package heatmap

import (
	"image"
	"image/color"
	"math"

	"github.com/fogleman/gg"

	"heatmap-tiles/internal/render"
)

// CanvasRasterizer draws every point as a radial-gradient circle with gg,
// fading from alpha intensity·increment at the center to 0 at the radius.
// Circles are composited with the "over" operator, so overlapping points
// saturate instead of summing exactly. The alpha channel is then blurred and
// colorized like the accumulation strategy.
type CanvasRasterizer struct{}

// Name implements Rasterizer.
func (CanvasRasterizer) Name() string { return "canvas" }

// Rasterize implements Rasterizer.
func (CanvasRasterizer) Rasterize(points []Point, r Raster) *render.Buffer {
	if r.Width <= 0 || r.Height <= 0 {
		return render.NewBuffer(r.Width, r.Height)
	}

	dc := gg.NewContext(r.Width, r.Height)
	if r.Radius > 0 {
		for _, p := range points {
			a := math.Min(p.Intensity*r.Increment, 1)
			if !(a > 0) {
				continue
			}

			cx, cy := r.project(p.Lat, p.Lon)
			grad := gg.NewRadialGradient(cx, cy, 0, cx, cy, r.Radius)
			grad.AddColorStop(0, color.NRGBA{A: uint8(a*255 + 0.5)})
			grad.AddColorStop(1, color.NRGBA{})

			dc.SetFillStyle(grad)
			dc.DrawCircle(cx, cy, r.Radius)
			dc.Fill()
		}
	}

	field := make([]float64, r.Width*r.Height)
	if rgba, ok := dc.Image().(*image.RGBA); ok {
		for i := range field {
			field[i] = float64(rgba.Pix[i*4+3]) / 255
		}
	}

	blurField(field, r.Width, r.Height, r.Blur)
	return colorize(field, r.Width, r.Height, r.Palette)
}
