package main

import (
	"context"
	"log/slog"
	"time"

	"gesturemix/engine"
)

// idleEngine is what the idle ticker needs from the engine.
type idleEngine interface {
	Submit(f engine.Frame) error
	Stats() engine.Stats
}

// runIdleTicker keeps hold and decay moving while no classifier is sending.
// At each interval, if nothing was submitted since the previous check, it
// submits an empty frame.
func runIdleTicker(ctx context.Context, eng idleEngine, hz int, logger *slog.Logger) {
	if hz <= 0 {
		return
	}
	ticker := time.NewTicker(time.Second / time.Duration(hz))
	defer ticker.Stop()

	last := eng.Stats().FramesSubmitted
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n := eng.Stats().FramesSubmitted
			if n != last {
				last = n
				continue
			}
			if err := eng.Submit(engine.Frame{}); err != nil {
				logger.Warn("idle frame rejected", "error", err)
				continue
			}
			last = n + 1
		}
	}
}
