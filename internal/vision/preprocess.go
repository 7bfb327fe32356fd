package vision

import (
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/nfnt/resize"
)

// letterboxGray is the pad color YOLO exports are trained with.
var letterboxGray = color.RGBA{114, 114, 114, 255}

// letterbox holds the geometry of a letterboxed frame so detections
// can be mapped back to source-image coordinates.
type letterbox struct {
	scale      float32
	padX, padY int
	srcW, srcH int
}

// prepare scales img to fit a size×size square preserving aspect
// ratio, pads the remainder with gray, and writes the result into dst
// as a CHW float32 RGB tensor normalized to [0,1]. dst must hold
// 3*size*size values.
func prepare(img image.Image, size int, dst []float32) letterbox {
	bounds := img.Bounds()
	srcW, srcH := bounds.Dx(), bounds.Dy()

	scale := float32(size) / float32(srcW)
	if s := float32(size) / float32(srcH); s < scale {
		scale = s
	}
	// Never upscale past 1:1; small frames keep their native resolution.
	if scale > 1 {
		scale = 1
	}

	newW := int(math.Round(float64(float32(srcW) * scale)))
	newH := int(math.Round(float64(float32(srcH) * scale)))

	scaled := img
	if newW != srcW || newH != srcH {
		scaled = resize.Resize(uint(newW), uint(newH), img, resize.Bilinear)
	}

	padX := (size - newW) / 2
	padY := (size - newH) / 2

	canvas := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(canvas, canvas.Bounds(), &image.Uniform{C: letterboxGray}, image.Point{}, draw.Src)
	draw.Draw(canvas, image.Rect(padX, padY, padX+newW, padY+newH), scaled, scaled.Bounds().Min, draw.Src)

	// RGBA → CHW float32. The canvas stride is fixed, so index math is
	// cheaper than calling At() per pixel.
	area := size * size
	for y := 0; y < size; y++ {
		row := canvas.Pix[y*canvas.Stride:]
		for x := 0; x < size; x++ {
			i := y*size + x
			dst[i] = float32(row[x*4]) / 255.0
			dst[area+i] = float32(row[x*4+1]) / 255.0
			dst[2*area+i] = float32(row[x*4+2]) / 255.0
		}
	}

	return letterbox{
		scale: scale,
		padX:  padX,
		padY:  padY,
		srcW:  srcW,
		srcH:  srcH,
	}
}
