package eventbus

import (
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

func TestBus_Publish_DeliversToSubscriber(t *testing.T) {
	b := New(zerolog.Nop())
	var got Event
	var mu sync.Mutex
	b.Subscribe(EventTaskComplete, func(e Event) {
		mu.Lock()
		got = e
		mu.Unlock()
	})

	b.Publish(Event{Type: EventTaskComplete, Key: "build.api.abc12345"})

	mu.Lock()
	defer mu.Unlock()
	if got.Key != "build.api.abc12345" {
		t.Errorf("got %+v", got)
	}
}

func TestBus_Publish_PanicTrapped(t *testing.T) {
	b := New(zerolog.Nop())
	called := false
	b.Subscribe(EventTaskError, func(Event) { panic("boom") })
	b.Subscribe(EventTaskError, func(Event) { called = true })

	b.Publish(Event{Type: EventTaskError})

	if !called {
		t.Errorf("expected second subscriber still invoked after first panicked")
	}
}

func TestBus_Publish_OnlyMatchingTypeDelivered(t *testing.T) {
	b := New(zerolog.Nop())
	count := 0
	b.Subscribe(EventTaskComplete, func(Event) { count++ })

	b.Publish(Event{Type: EventTaskError})

	if count != 0 {
		t.Errorf("expected no delivery for mismatched event type, got %d", count)
	}
}
