package engine

import (
	"errors"
	"slices"
	"testing"
)

func TestPublisher_DeliversInRegistrationOrder(t *testing.T) {
	p := newPublisher(quietLogger())
	var order []int
	for i := 0; i < 3; i++ {
		if _, err := p.on(EventFeedbackUpdate, func(FeedbackState) error {
			order = append(order, i)
			return nil
		}); err != nil {
			t.Fatal(err)
		}
	}
	p.publish(EventFeedbackUpdate, FeedbackState{Seq: 1})
	if !slices.Equal(order, []int{0, 1, 2}) {
		t.Fatalf("delivery order = %v", order)
	}
}

func TestPublisher_IsolatesFailingObservers(t *testing.T) {
	p := newPublisher(quietLogger())
	delivered := 0
	_, _ = p.on(EventFeedbackUpdate, func(FeedbackState) error { panic("boom") })
	_, _ = p.on(EventFeedbackUpdate, func(FeedbackState) error { return errors.New("render failed") })
	_, _ = p.on(EventFeedbackUpdate, func(FeedbackState) error {
		delivered++
		return nil
	})

	p.publish(EventFeedbackUpdate, FeedbackState{})
	p.publish(EventFeedbackUpdate, FeedbackState{})
	if delivered != 2 {
		t.Fatalf("healthy observer saw %d updates, want 2", delivered)
	}
}

func TestPublisher_ObserversGetPrivateCopies(t *testing.T) {
	p := newPublisher(quietLogger())
	_, _ = p.on(EventFeedbackUpdate, func(fs FeedbackState) error {
		fs.ControlValues["m"] = 42
		fs.ActiveGestures[0].Value = 0
		return nil
	})
	var seen FeedbackState
	_, _ = p.on(EventFeedbackUpdate, func(fs FeedbackState) error {
		seen = fs
		return nil
	})

	state := FeedbackState{
		ControlValues:  map[string]float64{"m": 0.5},
		ActiveGestures: []GestureDetectionResult{result(GesturePinch, HandLeft, 0.8, 0.9)},
	}
	p.publish(EventFeedbackUpdate, state)

	if seen.ControlValues["m"] != 0.5 || seen.ActiveGestures[0].Value != 0.8 {
		t.Fatalf("observer mutation leaked: %+v", seen)
	}
	if state.ControlValues["m"] != 0.5 {
		t.Fatalf("publisher's own snapshot was mutated")
	}
}

func TestPublisher_OnOff(t *testing.T) {
	p := newPublisher(quietLogger())
	calls := 0
	id, err := p.on(EventFeedbackUpdate, func(FeedbackState) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	p.publish(EventFeedbackUpdate, FeedbackState{})
	if err := p.off(EventFeedbackUpdate, id); err != nil {
		t.Fatalf("off: %v", err)
	}
	p.publish(EventFeedbackUpdate, FeedbackState{})
	if calls != 1 {
		t.Fatalf("calls = %d after off, want 1", calls)
	}

	if err := p.off(EventFeedbackUpdate, id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second off: expected NotFoundError, got %v", err)
	}
	if _, err := p.on("volumeChanged", func(FeedbackState) error { return nil }); !errors.Is(err, ErrValidation) {
		t.Fatalf("unknown event: expected ValidationError, got %v", err)
	}
	if _, err := p.on(EventFeedbackUpdate, nil); !errors.Is(err, ErrValidation) {
		t.Fatalf("nil callback: expected ValidationError, got %v", err)
	}
}

func TestPublisher_ObserverMayUnsubscribeDuringDelivery(t *testing.T) {
	p := newPublisher(quietLogger())
	var id SubscriptionID
	second := 0
	id, _ = p.on(EventFeedbackUpdate, func(FeedbackState) error {
		return p.off(EventFeedbackUpdate, id)
	})
	_, _ = p.on(EventFeedbackUpdate, func(FeedbackState) error {
		second++
		return nil
	})

	p.publish(EventFeedbackUpdate, FeedbackState{})
	p.publish(EventFeedbackUpdate, FeedbackState{})
	if second != 2 || p.count(EventFeedbackUpdate) != 1 {
		t.Fatalf("second=%d count=%d", second, p.count(EventFeedbackUpdate))
	}
}
