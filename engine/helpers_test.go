package engine

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

// sinkCall records one AudioParameterSink invocation.
type sinkCall struct {
	Method string
	Stem   StemID
	Band   EQBand
	Deck   string
	Value  float64
	On     bool
}

// recordingSink is a test double for AudioParameterSink.
type recordingSink struct {
	calls     []sinkCall
	failStems map[StemID]bool
}

func newRecordingSink() *recordingSink {
	return &recordingSink{failStems: make(map[StemID]bool)}
}

var errStemGone = errors.New("stem no longer exists")

func (s *recordingSink) record(c sinkCall) error {
	if c.Stem != "" && s.failStems[c.Stem] {
		return errStemGone
	}
	s.calls = append(s.calls, c)
	return nil
}

func (s *recordingSink) SetStemVolume(stem StemID, v float64) error {
	return s.record(sinkCall{Method: "SetStemVolume", Stem: stem, Value: v})
}

func (s *recordingSink) SetStemMute(stem StemID, muted bool) error {
	return s.record(sinkCall{Method: "SetStemMute", Stem: stem, On: muted})
}

func (s *recordingSink) SetStemSolo(stem StemID, solo bool) error {
	return s.record(sinkCall{Method: "SetStemSolo", Stem: stem, On: solo})
}

func (s *recordingSink) SetStemPan(stem StemID, pan float64) error {
	return s.record(sinkCall{Method: "SetStemPan", Stem: stem, Value: pan})
}

func (s *recordingSink) SetStemEQ(stem StemID, band EQBand, v float64) error {
	return s.record(sinkCall{Method: "SetStemEQ", Stem: stem, Band: band, Value: v})
}

func (s *recordingSink) SetCrossfaderPosition(v float64) error {
	return s.record(sinkCall{Method: "SetCrossfaderPosition", Value: v})
}

func (s *recordingSink) SetDeckVolume(deck string, v float64) error {
	return s.record(sinkCall{Method: "SetDeckVolume", Deck: deck, Value: v})
}

func (s *recordingSink) callsTo(method string) []sinkCall {
	var out []sinkCall
	for _, c := range s.calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(clk *fakeClock) Config {
	cfg := DefaultConfig()
	cfg.Logger = quietLogger()
	cfg.Now = clk.now
	return cfg
}

func mapping(id string, g GestureType, hand HandRequirement, target Target, control ControlType) GestureMapping {
	return GestureMapping{
		ID:              id,
		Name:            id,
		GestureType:     g,
		HandRequirement: hand,
		Target:          target,
		Control:         control,
		Sensitivity:     1.0,
	}
}

func profile(id string, ms ...GestureMapping) MappingProfile {
	return MappingProfile{ID: id, Name: id, Mappings: ms}
}

func result(g GestureType, hand Hand, value, confidence float64) GestureDetectionResult {
	return GestureDetectionResult{
		GestureType: g,
		Hand:        hand,
		Confidence:  confidence,
		Value:       value,
		Position:    Point{X: 0.5, Y: 0.5},
	}
}

func frame(rs ...GestureDetectionResult) Frame {
	return Frame{Results: rs}
}

func newTestEngine(t *testing.T, clk *fakeClock, sink AudioParameterSink, profiles ...MappingProfile) *Engine {
	t.Helper()
	e, err := New(testConfig(clk), sink, profiles, "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

// process submits f, ticks, and advances the clock by one 60 Hz frame.
func process(t *testing.T, e *Engine, clk *fakeClock, f Frame) FeedbackState {
	t.Helper()
	fs, err := e.Process(f)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	clk.advance(16 * time.Millisecond)
	return fs
}

// waitUntil polls cond until it returns true or the timeout expires.
func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}
