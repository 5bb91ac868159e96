package engine

import (
	"sync"
	"sync/atomic"
)

// frameInbox is a single-slot, latest-value-wins mailbox between frame
// producers and the dispatch loop.
//
// put never blocks: a frame that has not been taken yet is overwritten and
// counted as a drop. notify carries at most one pending wake-up for Run.
type frameInbox struct {
	mu      sync.Mutex
	frame   Frame
	pending bool

	notify chan struct{}

	submitted atomic.Uint64
	drops     atomic.Uint64
}

func newFrameInbox() *frameInbox {
	return &frameInbox{notify: make(chan struct{}, 1)}
}

func (b *frameInbox) put(f Frame) {
	b.mu.Lock()
	if b.pending {
		b.drops.Add(1)
	}
	b.frame = f
	b.pending = true
	b.mu.Unlock()

	b.submitted.Add(1)

	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// take removes the pending frame, if any.
func (b *frameInbox) take() (Frame, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.pending {
		return Frame{}, false
	}
	f := b.frame
	b.frame = Frame{}
	b.pending = false
	return f, true
}
