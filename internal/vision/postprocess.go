package vision

import (
	"image"
	"math"
	"sort"
)

// decodeOutput converts a raw YOLO output tensor into detections in
// source-image coordinates. The tensor layout is [1, 4+numClasses,
// anchors]: four box channels (cx, cy, w, h in letterbox pixels)
// followed by one score channel per class, each of length anchors.
func decodeOutput(out []float32, labels []string, anchors int, confThreshold float32, geom letterbox) []Detection {
	numClasses := len(labels)
	var dets []Detection

	for a := 0; a < anchors; a++ {
		bestClass := -1
		var bestScore float32
		for c := 0; c < numClasses; c++ {
			if score := out[(4+c)*anchors+a]; score > bestScore {
				bestScore = score
				bestClass = c
			}
		}
		if bestClass < 0 || bestScore < confThreshold {
			continue
		}

		cx := out[a]
		cy := out[anchors+a]
		w := out[2*anchors+a]
		h := out[3*anchors+a]

		// Undo the letterbox: remove padding, then the scale factor.
		x1 := (cx - w/2 - float32(geom.padX)) / geom.scale
		y1 := (cy - h/2 - float32(geom.padY)) / geom.scale
		x2 := (cx + w/2 - float32(geom.padX)) / geom.scale
		y2 := (cy + h/2 - float32(geom.padY)) / geom.scale

		box := image.Rect(
			clamp(int(math.Round(float64(x1))), 0, geom.srcW),
			clamp(int(math.Round(float64(y1))), 0, geom.srcH),
			clamp(int(math.Round(float64(x2))), 0, geom.srcW),
			clamp(int(math.Round(float64(y2))), 0, geom.srcH),
		)
		if box.Empty() {
			continue
		}

		dets = append(dets, Detection{
			Class:      bestClass,
			Label:      labels[bestClass],
			Confidence: bestScore,
			Box:        box,
		})
	}

	return dets
}

// nonMaxSuppression drops detections that overlap a higher-confidence
// detection of the same class by more than iouThreshold. Standard
// greedy class-wise NMS.
func nonMaxSuppression(dets []Detection, iouThreshold float32) []Detection {
	if len(dets) <= 1 {
		return dets
	}

	sorted := make([]Detection, len(dets))
	copy(sorted, dets)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Confidence > sorted[j].Confidence
	})

	suppressed := make([]bool, len(sorted))
	var kept []Detection

	for i := range sorted {
		if suppressed[i] {
			continue
		}
		kept = append(kept, sorted[i])
		for j := i + 1; j < len(sorted); j++ {
			if suppressed[j] || sorted[j].Class != sorted[i].Class {
				continue
			}
			if iou(sorted[i].Box, sorted[j].Box) > iouThreshold {
				suppressed[j] = true
			}
		}
	}

	return kept
}

// iou returns the intersection-over-union of two boxes.
func iou(a, b image.Rectangle) float32 {
	inter := a.Intersect(b)
	if inter.Empty() {
		return 0
	}
	interArea := inter.Dx() * inter.Dy()
	union := a.Dx()*a.Dy() + b.Dx()*b.Dy() - interArea
	if union <= 0 {
		return 0
	}
	return float32(interArea) / float32(union)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
