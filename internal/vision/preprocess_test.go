package vision

import (
	"image"
	"image/color"
	"math"
	"testing"
)

func uniformImage(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func approx(a, b float32) bool {
	return math.Abs(float64(a-b)) < 1e-3
}

func TestPrepareSquareNoPadding(t *testing.T) {
	const size = 8
	img := uniformImage(size, size, color.RGBA{255, 0, 0, 255})
	dst := make([]float32, 3*size*size)

	geom := prepare(img, size, dst)

	if geom.scale != 1 || geom.padX != 0 || geom.padY != 0 {
		t.Errorf("geom = %+v, want scale 1 no padding", geom)
	}
	if geom.srcW != size || geom.srcH != size {
		t.Errorf("geom src = %dx%d, want %dx%d", geom.srcW, geom.srcH, size, size)
	}

	// Pure red: R channel 1.0, G and B 0.
	area := size * size
	if !approx(dst[0], 1.0) {
		t.Errorf("R[0] = %v, want 1.0", dst[0])
	}
	if !approx(dst[area], 0) || !approx(dst[2*area], 0) {
		t.Errorf("G[0]=%v B[0]=%v, want 0", dst[area], dst[2*area])
	}
}

func TestPrepareWideImagePadsVertically(t *testing.T) {
	const size = 8
	img := uniformImage(8, 4, color.RGBA{0, 0, 255, 255})
	dst := make([]float32, 3*size*size)

	geom := prepare(img, size, dst)

	if geom.scale != 1 {
		t.Errorf("scale = %v, want 1 (no upscale past native resolution)", geom.scale)
	}
	if geom.padX != 0 || geom.padY != 2 {
		t.Errorf("padding = (%d, %d), want (0, 2)", geom.padX, geom.padY)
	}

	area := size * size
	grayVal := float32(114) / 255.0

	// Top row is padding.
	if !approx(dst[0], grayVal) || !approx(dst[area], grayVal) || !approx(dst[2*area], grayVal) {
		t.Errorf("padding pixel = (%v, %v, %v), want uniform %v",
			dst[0], dst[area], dst[2*area], grayVal)
	}

	// Center row is image content: pure blue.
	center := 4*size + 4
	if !approx(dst[2*area+center], 1.0) {
		t.Errorf("B[center] = %v, want 1.0", dst[2*area+center])
	}
	if !approx(dst[center], 0) {
		t.Errorf("R[center] = %v, want 0", dst[center])
	}
}

func TestPrepareDownscales(t *testing.T) {
	const size = 8
	img := uniformImage(16, 16, color.RGBA{0, 255, 0, 255})
	dst := make([]float32, 3*size*size)

	geom := prepare(img, size, dst)

	if geom.scale != 0.5 {
		t.Errorf("scale = %v, want 0.5", geom.scale)
	}
	if geom.padX != 0 || geom.padY != 0 {
		t.Errorf("padding = (%d, %d), want none", geom.padX, geom.padY)
	}
	if geom.srcW != 16 || geom.srcH != 16 {
		t.Errorf("geom src = %dx%d, want 16x16", geom.srcW, geom.srcH)
	}

	// Downscaled pure green stays pure green.
	area := size * size
	center := 4*size + 4
	if !approx(dst[area+center], 1.0) {
		t.Errorf("G[center] = %v, want 1.0", dst[area+center])
	}
}
