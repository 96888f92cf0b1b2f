// Package render holds the pixel buffer tiles are rasterized into.
package render

import (
	"image"
	"image/color"
	"io"

	"github.com/fogleman/gg"
)

// Buffer is a direct-access RGBA pixel buffer (non-premultiplied, 8 bits per channel).
// It bypasses image.Image's interface overhead for the per-pixel hot paths.
type Buffer struct {
	pix    []byte
	width  int
	height int
	stride int // bytes per row (width * 4)
}

// NewBuffer creates a fully transparent buffer with the given dimensions.
func NewBuffer(width, height int) *Buffer {
	return NewBufferFrom(width, height, nil)
}

// NewBufferFrom wraps pix, or allocates a new backing slice if pix is too small.
func NewBufferFrom(width, height int, pix []byte) *Buffer {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	stride := width * 4
	if len(pix) < stride*height {
		pix = make([]byte, stride*height)
	}
	return &Buffer{
		pix:    pix[:stride*height],
		width:  width,
		height: height,
		stride: stride,
	}
}

// Width returns the buffer width in pixels.
func (b *Buffer) Width() int { return b.width }

// Height returns the buffer height in pixels.
func (b *Buffer) Height() int { return b.height }

// Pix returns the underlying pixel bytes (row-major RGBA).
func (b *Buffer) Pix() []byte { return b.pix }

// Clear fills the entire buffer with a solid color.
func (b *Buffer) Clear(c color.NRGBA) {
	for i := 0; i < len(b.pix); i += 4 {
		b.pix[i] = c.R
		b.pix[i+1] = c.G
		b.pix[i+2] = c.B
		b.pix[i+3] = c.A
	}
}

// Set writes a single pixel; out-of-bounds writes are ignored.
func (b *Buffer) Set(x, y int, c color.NRGBA) {
	if x < 0 || x >= b.width || y < 0 || y >= b.height {
		return
	}
	idx := y*b.stride + x*4
	b.pix[idx] = c.R
	b.pix[idx+1] = c.G
	b.pix[idx+2] = c.B
	b.pix[idx+3] = c.A
}

// At reads a single pixel; out-of-bounds reads return transparent black.
func (b *Buffer) At(x, y int) color.NRGBA {
	if x < 0 || x >= b.width || y < 0 || y >= b.height {
		return color.NRGBA{}
	}
	idx := y*b.stride + x*4
	return color.NRGBA{R: b.pix[idx], G: b.pix[idx+1], B: b.pix[idx+2], A: b.pix[idx+3]}
}

// Crop copies the w×h region starting at (x, y) into a new buffer.
// Parts of the region outside b are left transparent.
func (b *Buffer) Crop(x, y, w, h int) *Buffer {
	out := NewBuffer(w, h)

	// Clip the source rectangle to bounds
	x1 := max(0, x)
	y1 := max(0, y)
	x2 := min(b.width, x+w)
	y2 := min(b.height, y+h)
	if x1 >= x2 || y1 >= y2 {
		return out
	}

	rowBytes := (x2 - x1) * 4
	for sy := y1; sy < y2; sy++ {
		src := sy*b.stride + x1*4
		dst := (sy-y)*out.stride + (x1-x)*4
		copy(out.pix[dst:dst+rowBytes], b.pix[src:src+rowBytes])
	}
	return out
}

// IsTransparent reports whether every pixel has alpha 0.
func (b *Buffer) IsTransparent() bool {
	for i := 3; i < len(b.pix); i += 4 {
		if b.pix[i] != 0 {
			return false
		}
	}
	return true
}

// NRGBA returns an image view sharing the buffer's memory.
func (b *Buffer) NRGBA() *image.NRGBA {
	return &image.NRGBA{
		Pix:    b.pix,
		Stride: b.stride,
		Rect:   image.Rect(0, 0, b.width, b.height),
	}
}

// EncodePNG writes the buffer as a PNG image.
func (b *Buffer) EncodePNG(w io.Writer) error {
	return gg.NewContextForImage(b.NRGBA()).EncodePNG(w)
}
