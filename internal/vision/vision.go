// Package vision runs henhouse snapshots through a pre-trained YOLO
// object-detection model and tallies what it finds. Inference is
// delegated entirely to ONNX Runtime; this package only prepares the
// input tensor and decodes the output into labeled bounding boxes.
package vision

import "image"

// Detection is a single object the model found in a snapshot. Box is
// in source-image pixel coordinates.
type Detection struct {
	// Class is the model's class index for this detection.
	Class int
	// Label is the class name, from the configured label list.
	Label string
	// Confidence is the model's score for this detection, 0..1.
	Confidence float32
	// Box is the object's bounding box in the source image.
	Box image.Rectangle
}

// Count tallies detections per label. Every configured label is
// present in the result, zero included, so downstream sensors always
// publish a value for every class.
func Count(labels []string, dets []Detection) map[string]int {
	counts := make(map[string]int, len(labels))
	for _, l := range labels {
		counts[l] = 0
	}
	for _, d := range dets {
		if _, ok := counts[d.Label]; ok {
			counts[d.Label]++
		}
	}
	return counts
}
