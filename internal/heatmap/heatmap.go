package heatmap

import (
	"errors"
	"fmt"
	"image/color"
	"math"
	"time"

	"heatmap-tiles/internal/render"
	"heatmap-tiles/internal/spatial"
)

var (
	// ErrInvalidOptions is returned by New for malformed configuration.
	ErrInvalidOptions = errors.New("invalid heat map options")
	// ErrInvalidPoint is returned by New for an input point it cannot index.
	ErrInvalidPoint = errors.New("invalid point")
	// ErrInvalidRequest is returned for malformed tile requests.
	ErrInvalidRequest = errors.New("invalid tile request")
)

// Options configure a HeatMap. Start from DefaultOptions.
type Options struct {
	Scale                 []color.NRGBA
	Interval              IntervalType
	Radius                Radius
	Blur                  float64 // pixels
	IncrementPerIntensity float64
	// Extension is the bleed margin as a fraction of the tile size on each side.
	// It should cover radius+blur pixels, or seams appear at tile borders.
	Extension  float64
	MaxObjects int // points per index leaf before it splits
	MaxLevels  int // index depth cap
	Rasterizer Rasterizer
}

// DefaultOptions returns the stock configuration.
func DefaultOptions() Options {
	return Options{
		Scale:                 DefaultScale(),
		Interval:              IntervalContinuous,
		Radius:                FixedRadius(25),
		Blur:                  10,
		IncrementPerIntensity: 0.025,
		Extension:             0.125,
		MaxObjects:            10,
		MaxLevels:             8,
		Rasterizer:            AccumulationRasterizer{},
	}
}

// Validate rejects configuration that would silently degrade every render.
func (o Options) Validate() error {
	switch {
	case len(o.Scale) == 0:
		return fmt.Errorf("%w: color scale is empty", ErrInvalidOptions)
	case !o.Radius.IsComputed() && !(o.Radius.fixed >= 0):
		return fmt.Errorf("%w: radius %v is negative", ErrInvalidOptions, o.Radius)
	case !(o.Blur >= 0):
		return fmt.Errorf("%w: blur %v is negative", ErrInvalidOptions, o.Blur)
	case !(o.IncrementPerIntensity >= 0):
		return fmt.Errorf("%w: incrementPerIntensity %v is negative", ErrInvalidOptions, o.IncrementPerIntensity)
	case !(o.Extension >= 0):
		return fmt.Errorf("%w: extension %v is negative", ErrInvalidOptions, o.Extension)
	case o.MaxObjects < 1:
		return fmt.Errorf("%w: maxObjects must be at least 1, got %d", ErrInvalidOptions, o.MaxObjects)
	case o.MaxLevels < 0:
		return fmt.Errorf("%w: maxLevels must not be negative, got %d", ErrInvalidOptions, o.MaxLevels)
	case o.Interval != IntervalContinuous && o.Interval != IntervalQuantile:
		return fmt.Errorf("%w: %v", ErrInvalidOptions, o.Interval)
	}
	return nil
}

// TileRequest is one render: a sector, an output size, and the drawing parameters.
type TileRequest struct {
	Sector                Sector
	Width                 int
	Height                int
	Radius                Radius
	Blur                  float64
	Palette               *Palette
	IncrementPerIntensity float64
	Extension             float64
}

// Tile is a rendered tile and a few facts about how it was produced.
type Tile struct {
	*render.Buffer
	Candidates int           // points retrieved for the extended sector
	Radius     float64       // resolved radius in pixels
	Elapsed    time.Duration // render wall time
}

// HeatMap holds the immutable index and gradient for one dataset.
type HeatMap struct {
	points   []Point
	index    *spatial.QuadTree
	gradient Gradient
	palette  *Palette
	opts     Options
}

// New validates opts and points, then builds the spatial index and gradient.
// points is copied; the caller keeps ownership of the slice.
func New(points []Point, opts Options) (*HeatMap, error) {
	if opts.Rasterizer == nil {
		opts.Rasterizer = AccumulationRasterizer{}
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	for i, p := range points {
		if err := validatePoint(p); err != nil {
			return nil, fmt.Errorf("%w: point %d: %v", ErrInvalidPoint, i, err)
		}
	}

	h := &HeatMap{
		points: append([]Point(nil), points...),
		index:  spatial.NewQuadTree(spatial.GeographicBounds(), opts.MaxObjects, opts.MaxLevels),
		opts:   opts,
	}
	for i, p := range h.points {
		h.index.Insert(toItem(p, uint32(i)))
	}

	h.gradient = BuildGradient(h.points, opts.Interval, opts.Scale)
	h.palette = NewPalette(h.gradient)
	return h, nil
}

func validatePoint(p Point) error {
	switch {
	case math.IsNaN(p.Lat) || p.Lat < -90 || p.Lat > 90:
		return fmt.Errorf("latitude %v out of range", p.Lat)
	case math.IsNaN(p.Lon) || p.Lon < -180 || p.Lon > 180:
		return fmt.Errorf("longitude %v out of range", p.Lon)
	case !(p.Intensity >= 0) || math.IsInf(p.Intensity, 1):
		return fmt.Errorf("intensity %v must be finite and non-negative", p.Intensity)
	}
	return nil
}

// Len returns the number of indexed points.
func (h *HeatMap) Len() int { return len(h.points) }

// Options returns the configuration the heat map was built with.
func (h *HeatMap) Options() Options { return h.opts }

// Gradient returns the gradient built from the dataset.
func (h *HeatMap) Gradient() Gradient { return h.gradient }

// Palette returns the color lookup derived from the gradient.
func (h *HeatMap) Palette() *Palette { return h.palette }

// IndexStats returns the spatial index statistics.
func (h *HeatMap) IndexStats() spatial.TreeStats { return h.index.Stats() }

// Candidates returns the points inside sector, each once, in input order.
func (h *HeatMap) Candidates(sector Sector) []Point {
	handles := h.index.RetrieveHandles(sector.IndexRect())
	out := make([]Point, len(handles))
	for i, hd := range handles {
		// Handles match input order because every point was inserted.
		out[i] = h.points[hd]
	}
	return out
}

// Request returns a TileRequest for sector using the heat map's own options.
func (h *HeatMap) Request(sector Sector, width, height int) TileRequest {
	return TileRequest{
		Sector:                sector,
		Width:                 width,
		Height:                height,
		Radius:                h.opts.Radius,
		Blur:                  h.opts.Blur,
		Palette:               h.palette,
		IncrementPerIntensity: h.opts.IncrementPerIntensity,
		Extension:             h.opts.Extension,
	}
}

// RenderTile renders sector at width×height pixels with the heat map's options.
func (h *HeatMap) RenderTile(sector Sector, width, height int) (*Tile, error) {
	return h.Render(h.Request(sector, width, height))
}

// Render renders one tile: widen the sector by the bleed margin, retrieve the
// candidate points, rasterize the widened raster, then clip the margin away.
// A tile with no candidates is fully transparent.
func (h *HeatMap) Render(req TileRequest) (*Tile, error) {
	if req.Width <= 0 || req.Height <= 0 {
		return nil, fmt.Errorf("%w: size %dx%d", ErrInvalidRequest, req.Width, req.Height)
	}
	if err := req.Sector.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if req.Palette == nil {
		req.Palette = h.palette
	}
	start := time.Now()

	mx, my := margins(req.Extension, req.Width, req.Height)
	extended := req.Sector.Extend(mx, my, req.Width, req.Height)

	candidates := h.Candidates(extended)
	radius := req.Radius.Resolve(req.Sector, req.Width, req.Height)

	tile := &Tile{Candidates: len(candidates), Radius: radius}
	if len(candidates) == 0 {
		tile.Buffer = render.NewBuffer(req.Width, req.Height)
		tile.Elapsed = time.Since(start)
		return tile, nil
	}

	full := h.opts.Rasterizer.Rasterize(candidates, Raster{
		Sector:    extended,
		Width:     req.Width + 2*mx,
		Height:    req.Height + 2*my,
		Radius:    radius,
		Blur:      req.Blur,
		Increment: req.IncrementPerIntensity,
		Palette:   req.Palette,
	})
	tile.Buffer = full.Crop(mx, my, req.Width, req.Height)
	tile.Elapsed = time.Since(start)
	return tile, nil
}
