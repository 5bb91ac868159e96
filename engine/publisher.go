package engine

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// EventName selects an observer channel.
type EventName string

// EventFeedbackUpdate fires once per tick with the new FeedbackState.
const EventFeedbackUpdate EventName = "feedbackUpdate"

// SubscriptionID identifies a registered observer; pass it to Off.
type SubscriptionID string

// FeedbackCallback receives a private copy of each snapshot. A returned error
// or a panic is logged and never reaches the dispatch loop.
type FeedbackCallback func(FeedbackState) error

type subscription struct {
	id SubscriptionID
	cb FeedbackCallback
}

// publisher is an ordered observer registry with synchronous delivery.
type publisher struct {
	mu   sync.Mutex
	subs map[EventName][]subscription

	logger *slog.Logger
}

func newPublisher(logger *slog.Logger) *publisher {
	return &publisher{
		subs:   make(map[EventName][]subscription),
		logger: logger,
	}
}

func validEvent(ev EventName) bool { return ev == EventFeedbackUpdate }

func (p *publisher) on(ev EventName, cb FeedbackCallback) (SubscriptionID, error) {
	if !validEvent(ev) {
		return "", &ValidationError{Field: "event", Value: ev, Reason: "unknown event"}
	}
	if cb == nil {
		return "", &ValidationError{Field: "callback", Reason: "must not be nil"}
	}
	id := SubscriptionID(uuid.NewString())

	p.mu.Lock()
	p.subs[ev] = append(p.subs[ev], subscription{id: id, cb: cb})
	p.mu.Unlock()
	return id, nil
}

func (p *publisher) off(ev EventName, id SubscriptionID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	list := p.subs[ev]
	for i, s := range list {
		if s.id == id {
			// Copy so an in-flight publish keeps iterating its own slice.
			next := make([]subscription, 0, len(list)-1)
			next = append(next, list[:i]...)
			next = append(next, list[i+1:]...)
			p.subs[ev] = next
			return nil
		}
	}
	return &NotFoundError{Kind: "subscription", ID: string(id)}
}

func (p *publisher) count(ev EventName) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs[ev])
}

// publish delivers state to every observer in registration order. The list is
// read under the lock and invoked outside it, so callbacks may call On/Off.
func (p *publisher) publish(ev EventName, state FeedbackState) {
	p.mu.Lock()
	list := p.subs[ev]
	p.mu.Unlock()

	for _, s := range list {
		p.deliver(s, state.Clone())
	}
}

func (p *publisher) deliver(s subscription, state FeedbackState) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("feedback observer panicked",
				"subscription", s.id,
				"panic", fmt.Sprint(r),
			)
		}
	}()
	if err := s.cb(state); err != nil {
		p.logger.Error("feedback observer failed",
			"subscription", s.id,
			"err", err,
		)
	}
}
