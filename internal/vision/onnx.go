package vision

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/mtholden/henwatch/internal/config"
)

// Default tensor names produced by ultralytics ONNX exports.
const (
	defaultInputName  = "images"
	defaultOutputName = "output0"
)

// runtimeEnv guards ONNX Runtime environment initialization, which
// must happen exactly once per process.
var runtimeEnv struct {
	once sync.Once
	err  error
}

func initRuntime(library string) error {
	runtimeEnv.once.Do(func() {
		if library != "" {
			ort.SetSharedLibraryPath(library)
		}
		runtimeEnv.err = ort.InitializeEnvironment()
	})
	return runtimeEnv.err
}

// ONNXDetector runs a YOLO-family ONNX export on CPU through ONNX
// Runtime. The session and its input/output tensors are allocated once
// at construction and reused for every frame; Detect serializes access
// with a mutex since ONNX Runtime sessions are not safe for concurrent
// Run calls on shared tensors.
type ONNXDetector struct {
	cfg     config.DetectorConfig
	logger  *slog.Logger
	anchors int

	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

// NewONNXDetector loads the model and prepares a reusable inference
// session. The caller owns the detector and must Close it.
func NewONNXDetector(cfg config.DetectorConfig, logger *slog.Logger) (*ONNXDetector, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := initRuntime(cfg.Library); err != nil {
		return nil, fmt.Errorf("initialize onnxruntime: %w", err)
	}

	size := cfg.InputSize

	// YOLO detection heads predict at strides 8, 16, and 32; the anchor
	// count follows directly from the input resolution.
	anchors := (size/8)*(size/8) + (size/16)*(size/16) + (size/32)*(size/32)

	input, err := ort.NewTensor(ort.NewShape(1, 3, int64(size), int64(size)),
		make([]float32, 3*size*size))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	output, err := ort.NewEmptyTensor[float32](
		ort.NewShape(1, int64(4+len(cfg.Labels)), int64(anchors)))
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(cfg.Model,
		[]string{defaultInputName}, []string{defaultOutputName},
		[]ort.ArbitraryTensor{input}, []ort.ArbitraryTensor{output}, nil)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("load model %s: %w", cfg.Model, err)
	}

	logger.Info("detection model loaded",
		"model", cfg.Model,
		"labels", cfg.Labels,
		"input_size", size,
		"anchors", anchors,
	)

	return &ONNXDetector{
		cfg:     cfg,
		logger:  logger,
		anchors: anchors,
		session: session,
		input:   input,
		output:  output,
	}, nil
}

// Detect runs one snapshot through the model and returns the
// detections above the configured confidence threshold, after
// class-wise non-maximum suppression.
func (d *ONNXDetector) Detect(ctx context.Context, img image.Image) ([]Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	start := time.Now()
	geom := prepare(img, d.cfg.InputSize, d.input.GetData())

	if err := d.session.Run(); err != nil {
		return nil, fmt.Errorf("inference: %w", err)
	}

	dets := decodeOutput(d.output.GetData(), d.cfg.Labels, d.anchors, d.cfg.Confidence, geom)
	dets = nonMaxSuppression(dets, d.cfg.IoU)

	d.logger.Debug("detection complete",
		"detections", len(dets),
		"elapsed_ms", time.Since(start).Milliseconds(),
		"source_size", fmt.Sprintf("%dx%d", geom.srcW, geom.srcH),
	)

	return dets, nil
}

// Close releases the session and its tensors. The detector must not
// be used afterwards.
func (d *ONNXDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.session != nil {
		d.session.Destroy()
		d.session = nil
	}
	if d.input != nil {
		d.input.Destroy()
		d.input = nil
	}
	if d.output != nil {
		d.output.Destroy()
		d.output = nil
	}
	return nil
}
