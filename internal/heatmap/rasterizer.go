package heatmap

import (
	"fmt"
	"math"
	"strings"

	"heatmap-tiles/internal/render"
)

// Raster describes the working raster a Rasterizer fills: the tile's
// extended sector and pixel size, plus the resolved drawing parameters.
type Raster struct {
	Sector    Sector
	Width     int
	Height    int
	Radius    float64 // pixels, already resolved for this tile
	Blur      float64 // pixels
	Increment float64 // heat added per unit of intensity at a point's center
	Palette   *Palette
}

// project maps a location to continuous pixel coordinates (north up).
func (r Raster) project(lat, lon float64) (x, y float64) {
	x = (lon - r.Sector.MinLon) / r.Sector.DeltaLon() * float64(r.Width)
	y = (r.Sector.MaxLat - lat) / r.Sector.DeltaLat() * float64(r.Height)
	return x, y
}

// Rasterizer draws points into a colored buffer of exactly r.Width×r.Height.
// Implementations must be safe for concurrent use.
type Rasterizer interface {
	Name() string
	Rasterize(points []Point, r Raster) *render.Buffer
}

// RasterizerByName returns the rasterizer registered under name.
func RasterizerByName(name string) (Rasterizer, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "accumulation":
		return AccumulationRasterizer{}, nil
	case "canvas":
		return CanvasRasterizer{}, nil
	default:
		return nil, fmt.Errorf("unknown rasterizer %q", name)
	}
}

// AccumulationRasterizer is the default strategy. Each point adds
// intensity·increment·(1 − d/radius) to every pixel closer than radius;
// overlapping contributions sum. The field is then blurred and colorized.
type AccumulationRasterizer struct{}

// Name implements Rasterizer.
func (AccumulationRasterizer) Name() string { return "accumulation" }

// Rasterize implements Rasterizer.
func (AccumulationRasterizer) Rasterize(points []Point, r Raster) *render.Buffer {
	field := make([]float64, r.Width*r.Height)
	accumulate(field, points, r)
	blurField(field, r.Width, r.Height, r.Blur)
	return colorize(field, r.Width, r.Height, r.Palette)
}

// accumulate adds the linear radial falloff of every point into field.
func accumulate(field []float64, points []Point, r Raster) {
	rad := r.Radius
	if !(rad > 0) || r.Width <= 0 || r.Height <= 0 {
		return
	}

	for _, p := range points {
		mag := p.Intensity * r.Increment
		if !(mag > 0) {
			continue
		}

		cx, cy := r.project(p.Lat, p.Lon)

		// Pixel box touched by the disc, clipped to the raster
		x0 := max(0, int(math.Floor(cx-rad)))
		x1 := min(r.Width-1, int(math.Ceil(cx+rad)))
		y0 := max(0, int(math.Floor(cy-rad)))
		y1 := min(r.Height-1, int(math.Ceil(cy+rad)))

		for y := y0; y <= y1; y++ {
			dy := float64(y) + 0.5 - cy
			row := field[y*r.Width : (y+1)*r.Width]
			for x := x0; x <= x1; x++ {
				dx := float64(x) + 0.5 - cx
				d := math.Sqrt(dx*dx + dy*dy)
				if d >= rad {
					continue
				}
				row[x] += mag * (1 - d/rad)
			}
		}
	}
}

// blurField applies a separable Gaussian blur in place. The kernel radius is
// ceil(amount) pixels with sigma = amount/3; at the raster edges the kernel is
// truncated and renormalized.
func blurField(field []float64, width, height int, amount float64) {
	radius := int(math.Ceil(amount))
	if !(amount > 0) || radius == 0 || width == 0 || height == 0 {
		return
	}

	kernel := gaussianKernel(radius, amount/3)
	tmp := make([]float64, len(field))

	// Horizontal pass: field -> tmp
	for y := 0; y < height; y++ {
		row := field[y*width : (y+1)*width]
		out := tmp[y*width : (y+1)*width]
		for x := 0; x < width; x++ {
			var sum, wsum float64
			for k := -radius; k <= radius; k++ {
				sx := x + k
				if sx < 0 || sx >= width {
					continue
				}
				w := kernel[k+radius]
				sum += row[sx] * w
				wsum += w
			}
			out[x] = sum / wsum
		}
	}

	// Vertical pass: tmp -> field
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			var sum, wsum float64
			for k := -radius; k <= radius; k++ {
				sy := y + k
				if sy < 0 || sy >= height {
					continue
				}
				w := kernel[k+radius]
				sum += tmp[sy*width+x] * w
				wsum += w
			}
			field[y*width+x] = sum / wsum
		}
	}
}

func gaussianKernel(radius int, sigma float64) []float64 {
	kernel := make([]float64, 2*radius+1)
	twoSigmaSq := 2 * sigma * sigma
	for i := range kernel {
		d := float64(i - radius)
		kernel[i] = math.Exp(-d * d / twoSigmaSq)
	}
	return kernel
}

// colorize maps each heat value through the palette. Alpha follows the heat
// magnitude (clamped to 1), so zero heat is fully transparent.
func colorize(field []float64, width, height int, palette *Palette) *render.Buffer {
	buf := render.NewBuffer(width, height)
	if palette == nil {
		return buf
	}

	pix := buf.Pix()
	for i, v := range field {
		if !(v > 0) {
			continue
		}
		a := math.Min(v, 1)
		c := palette.At(a)
		alpha := uint8(a*float64(c.A) + 0.5)
		if alpha == 0 {
			continue
		}

		idx := i * 4
		pix[idx] = c.R
		pix[idx+1] = c.G
		pix[idx+2] = c.B
		pix[idx+3] = alpha
	}
	return buf
}
