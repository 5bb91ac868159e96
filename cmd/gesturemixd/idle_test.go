package main

import (
	"context"
	"sync"
	"testing"
	"time"

	"gesturemix/engine"
)

// countingEngine counts submissions; external frames are simulated by bumping
// the counter directly.
type countingEngine struct {
	mu        sync.Mutex
	submitted uint64
	empty     int
}

func (c *countingEngine) Submit(f engine.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.submitted++
	if len(f.Results) == 0 {
		c.empty++
	}
	return nil
}

func (c *countingEngine) Stats() engine.Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return engine.Stats{FramesSubmitted: c.submitted}
}

func (c *countingEngine) emptyCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.empty
}

func TestIdleTicker_SubmitsWhenQuiet(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eng := &countingEngine{}
	done := make(chan struct{})
	go func() {
		defer close(done)
		runIdleTicker(ctx, eng, 100, quietLogger())
	}()

	waitUntil(t, time.Second, func() bool { return eng.emptyCount() >= 3 }, "idle frames not submitted")

	cancel()
	<-done
}

func TestIdleTicker_QuietWhileFramesArrive(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eng := &countingEngine{}
	done := make(chan struct{})
	go func() {
		defer close(done)
		// 20 Hz check, 1 kHz traffic
		runIdleTicker(ctx, eng, 20, quietLogger())
	}()

	stop := time.After(300 * time.Millisecond)
	tick := time.NewTicker(time.Millisecond)
	defer tick.Stop()
loop:
	for {
		select {
		case <-stop:
			break loop
		case <-tick.C:
			eng.mu.Lock()
			eng.submitted++
			eng.mu.Unlock()
		}
	}
	cancel()
	<-done

	if n := eng.emptyCount(); n != 0 {
		t.Fatalf("idle ticker submitted %d frames during traffic", n)
	}
}

func TestIdleTicker_DisabledAtZeroHz(t *testing.T) {
	eng := &countingEngine{}
	runIdleTicker(context.Background(), eng, 0, quietLogger())
	if eng.emptyCount() != 0 {
		t.Fatalf("disabled ticker submitted frames")
	}
}
