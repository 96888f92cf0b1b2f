package render

import (
	"bytes"
	"image/color"
	"image/png"
	"testing"
)

// TestNewBuffer tests buffer allocation
func TestNewBuffer(t *testing.T) {
	b := NewBuffer(8, 4)

	if b.Width() != 8 || b.Height() != 4 {
		t.Fatalf("Expected 8x4, got %dx%d", b.Width(), b.Height())
	}
	if len(b.Pix()) != 8*4*4 {
		t.Errorf("Expected %d bytes, got %d", 8*4*4, len(b.Pix()))
	}
	if !b.IsTransparent() {
		t.Error("New buffer should be fully transparent")
	}
}

// TestNewBufferFromReusesSlice tests that a large enough slice is reused
func TestNewBufferFromReusesSlice(t *testing.T) {
	pix := make([]byte, 100)
	b := NewBufferFrom(2, 2, pix)

	b.Set(0, 0, color.NRGBA{R: 9, A: 255})
	if pix[0] != 9 {
		t.Error("Buffer should write through to the provided slice")
	}

	small := NewBufferFrom(4, 4, make([]byte, 3))
	if len(small.Pix()) != 64 {
		t.Errorf("Short slice should be replaced, got %d bytes", len(small.Pix()))
	}
}

// TestSetAndAtBounds tests pixel access and out-of-bounds handling
func TestSetAndAtBounds(t *testing.T) {
	b := NewBuffer(3, 3)
	c := color.NRGBA{R: 1, G: 2, B: 3, A: 4}

	b.Set(2, 1, c)
	if got := b.At(2, 1); got != c {
		t.Errorf("Expected %v, got %v", c, got)
	}

	// Out of bounds must not panic
	b.Set(-1, 0, c)
	b.Set(3, 3, c)
	if got := b.At(5, 5); got != (color.NRGBA{}) {
		t.Errorf("Out-of-bounds read should be transparent, got %v", got)
	}
}

// TestCrop tests copying a sub-region
func TestCrop(t *testing.T) {
	b := NewBuffer(4, 4)
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			b.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), A: 255})
		}
	}

	sub := b.Crop(1, 2, 2, 2)
	if sub.Width() != 2 || sub.Height() != 2 {
		t.Fatalf("Expected 2x2, got %dx%d", sub.Width(), sub.Height())
	}
	if got := sub.At(0, 0); got.R != 1 || got.G != 2 {
		t.Errorf("Expected origin (1,2), got (%d,%d)", got.R, got.G)
	}
	if got := sub.At(1, 1); got.R != 2 || got.G != 3 {
		t.Errorf("Expected corner (2,3), got (%d,%d)", got.R, got.G)
	}

	// Partially outside: the outside part stays transparent
	edge := b.Crop(3, 3, 2, 2)
	if edge.At(0, 0).A != 255 {
		t.Error("Inside pixel should be copied")
	}
	if edge.At(1, 1).A != 0 {
		t.Error("Outside pixel should be transparent")
	}
}

// TestClear tests filling with a color
func TestClear(t *testing.T) {
	b := NewBuffer(2, 2)
	b.Clear(color.NRGBA{R: 255, A: 128})

	if b.IsTransparent() {
		t.Error("Buffer should not be transparent after Clear")
	}
	if got := b.At(1, 1); got.R != 255 || got.A != 128 {
		t.Errorf("Unexpected pixel %v", got)
	}
}

// TestEncodePNG tests PNG output round trip dimensions
func TestEncodePNG(t *testing.T) {
	b := NewBuffer(16, 8)
	b.Set(3, 3, color.NRGBA{R: 255, A: 255})

	var out bytes.Buffer
	if err := b.EncodePNG(&out); err != nil {
		t.Fatalf("EncodePNG failed: %v", err)
	}

	img, err := png.Decode(&out)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if img.Bounds().Dx() != 16 || img.Bounds().Dy() != 8 {
		t.Errorf("Expected 16x8 image, got %v", img.Bounds())
	}
	if _, _, _, a := img.At(3, 3).RGBA(); a != 0xffff {
		t.Errorf("Expected opaque pixel, got alpha %d", a)
	}
}
