package mqtt

import (
	"sync"
	"time"
)

// Counts holds the latest detection tally. It is safe for concurrent
// use: the monitor loop writes after each cycle and the publisher and
// status endpoint read from other goroutines.
type Counts struct {
	mu           sync.Mutex
	tally        map[string]int
	lastDetected time.Time
	lastDuration time.Duration
	cycles       int64
	failures     int64
}

// CountsSnapshot is a point-in-time copy of the accumulator state.
type CountsSnapshot struct {
	Tally        map[string]int `json:"tally"`
	LastDetected time.Time      `json:"last_detected"`
	LastDuration time.Duration  `json:"last_duration"`
	Cycles       int64          `json:"cycles"`
	Failures     int64          `json:"failures"`
}

// NewCounts creates an accumulator with every label zeroed, so the
// first publish after startup reports complete (if empty) state
// rather than missing entities.
func NewCounts(labels []string) *Counts {
	tally := make(map[string]int, len(labels))
	for _, l := range labels {
		tally[l] = 0
	}
	return &Counts{tally: tally}
}

// Record stores the tally from a successful detection cycle.
func (c *Counts) Record(tally map[string]int, took time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for label := range c.tally {
		c.tally[label] = tally[label]
	}
	c.lastDetected = time.Now()
	c.lastDuration = took
	c.cycles++
}

// RecordFailure zeroes every label after a failed cycle. Publishing
// zeros (rather than holding the previous values) keeps HA from
// displaying stale counts when the camera or model is down.
func (c *Counts) RecordFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for label := range c.tally {
		c.tally[label] = 0
	}
	c.cycles++
	c.failures++
}

// Snapshot returns a copy of the current state.
func (c *Counts) Snapshot() CountsSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	tally := make(map[string]int, len(c.tally))
	for k, v := range c.tally {
		tally[k] = v
	}
	return CountsSnapshot{
		Tally:        tally,
		LastDetected: c.lastDetected,
		LastDuration: c.lastDuration,
		Cycles:       c.cycles,
		Failures:     c.failures,
	}
}
