// Package monitor runs the detection loop: acquire a snapshot, run it
// through the detector, tally counts by class, publish, sleep, repeat.
// A failed cycle publishes zero counts and keeps going; an offline
// camera or a bad frame must never take the monitor down.
package monitor

import (
	"context"
	"image"
	"log/slog"
	"time"

	"github.com/mtholden/henwatch/internal/camera"
	"github.com/mtholden/henwatch/internal/mqtt"
	"github.com/mtholden/henwatch/internal/vision"
)

// Detector runs object detection on a single snapshot. Satisfied by
// [vision.ONNXDetector].
type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]vision.Detection, error)
}

// Publisher pushes the current counts to the broker. Satisfied by
// [mqtt.Publisher]; nil disables publishing (detect-only mode).
type Publisher interface {
	PublishStates(ctx context.Context)
}

// Monitor owns the periodic detection cycle.
type Monitor struct {
	source    camera.Source
	detector  Detector
	labels    []string
	counts    *mqtt.Counts
	publisher Publisher
	interval  time.Duration
	logger    *slog.Logger
}

// New creates a Monitor. publisher may be nil, in which case cycles
// still run and update counts (visible via the status endpoint) but
// nothing is sent to MQTT.
func New(source camera.Source, detector Detector, labels []string, counts *mqtt.Counts, publisher Publisher, interval time.Duration, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		source:    source,
		detector:  detector,
		labels:    labels,
		counts:    counts,
		publisher: publisher,
		interval:  interval,
		logger:    logger,
	}
}

// Run executes detection cycles until ctx is cancelled. The first
// cycle runs immediately; subsequent cycles run every interval.
func (m *Monitor) Run(ctx context.Context) {
	m.logger.Info("monitor started",
		"source", m.source.Name(),
		"interval", m.interval.String(),
		"labels", m.labels,
	)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("monitor stopped")
			return
		case <-ticker.C:
			m.runCycle(ctx)
		}
	}
}

// runCycle performs one acquire → detect → tally → publish pass. Any
// failure zeroes the counts before publishing so HA never shows stale
// values from a camera or model that has gone away.
func (m *Monitor) runCycle(ctx context.Context) {
	tally, err := m.RunOnce(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return // shutting down, not a cycle failure
		}
		m.logger.Error("detection cycle failed", "error", err)
		m.counts.RecordFailure()
	} else {
		m.logger.Info("detection cycle complete", "counts", tally)
	}

	if m.publisher != nil {
		m.publisher.PublishStates(ctx)
	}
}

// RunOnce performs a single acquire-and-detect pass and records the
// tally. It is also the backend for the one-shot detect subcommand.
func (m *Monitor) RunOnce(ctx context.Context) (map[string]int, error) {
	start := time.Now()

	img, err := m.source.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	dets, err := m.detector.Detect(ctx, img)
	if err != nil {
		return nil, err
	}

	tally := vision.Count(m.labels, dets)
	took := time.Since(start)
	m.counts.Record(tally, took)

	m.logger.Debug("snapshot processed",
		"detections", len(dets),
		"elapsed_ms", took.Milliseconds(),
	)

	return tally, nil
}
