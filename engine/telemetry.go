package engine

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// measureTick derives per-tick latency and confidence from the contributing
// gestures. A zero result timestamp falls back to the frame's arrival time.
// With no contributors both values are 0.
func measureTick(now, arrivedAt time.Time, contributing []GestureDetectionResult) (latencyMs, confidence float64) {
	if len(contributing) == 0 {
		return 0, 0
	}

	var oldest time.Time
	sum := 0.0
	for _, r := range contributing {
		ts := r.Timestamp
		if ts.IsZero() {
			ts = arrivedAt
		}
		if oldest.IsZero() || ts.Before(oldest) {
			oldest = ts
		}
		sum += r.Confidence
	}

	if !oldest.IsZero() {
		latencyMs = float64(now.Sub(oldest)) / float64(time.Millisecond)
		if latencyMs < 0 {
			latencyMs = 0
		}
	}
	return latencyMs, sum / float64(len(contributing))
}

// latencyTracker keeps the last published latency (lock-free for GetLatency)
// and running aggregates over ticks that had contributing gestures.
type latencyTracker struct {
	lastBits atomic.Uint64

	mu      sync.Mutex
	samples uint64
	sumMs   float64
	maxMs   float64
}

func (t *latencyTracker) record(latencyMs float64, contributed bool) {
	t.lastBits.Store(math.Float64bits(latencyMs))
	if !contributed {
		return
	}
	t.mu.Lock()
	t.samples++
	t.sumMs += latencyMs
	if latencyMs > t.maxMs {
		t.maxMs = latencyMs
	}
	t.mu.Unlock()
}

func (t *latencyTracker) last() float64 {
	return math.Float64frombits(t.lastBits.Load())
}

func (t *latencyTracker) aggregates() (avgMs, maxMs float64, samples uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.samples > 0 {
		avgMs = t.sumMs / float64(t.samples)
	}
	return avgMs, t.maxMs, t.samples
}
