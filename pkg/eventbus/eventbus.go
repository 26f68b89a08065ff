// Package eventbus implements the typed in-process pub/sub used by the
// scheduler and external observers (dashboard, log exporters, the durable
// run recorder). Subscriber panics are trapped and logged, never
// propagated into the scheduler.
package eventbus

import (
	"sync"

	"github.com/rs/zerolog"
)

// EventType names one of the scheduler lifecycle events.
type EventType string

const (
	EventTaskPending         EventType = "taskPending"
	EventTaskProcessing      EventType = "taskProcessing"
	EventTaskComplete        EventType = "taskComplete"
	EventTaskError           EventType = "taskError"
	EventTaskGraphProcessing EventType = "taskGraphProcessing"
	EventTaskGraphComplete   EventType = "taskGraphComplete"
)

// Event is the payload delivered to subscribers. Fields are populated
// according to Type; Key/BaseKey are set for all task-level events.
type Event struct {
	Type    EventType   `json:"type"`
	Key     string      `json:"key,omitempty"`
	BaseKey string      `json:"baseKey,omitempty"`
	Payload interface{} `json:"payload,omitempty"`
}

// Handler receives an Event. It must not block indefinitely; the bus calls
// handlers synchronously on the emitting goroutine.
type Handler func(Event)

// Bus is a typed, synchronous, panic-safe pub/sub bus.
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	log      zerolog.Logger
}

// New constructs an empty Bus. A zero-value zerolog.Logger is fine; callers
// typically pass a component logger from pkg/telemetry.
func New(log zerolog.Logger) *Bus {
	return &Bus{
		handlers: make(map[EventType][]Handler),
		log:      log,
	}
}

// Subscribe registers h to receive every Event of type t. Subscriptions are
// permanent for the Bus's lifetime; there is no Unsubscribe because the
// scheduler's observers are expected to live as long as the scheduler.
func (b *Bus) Subscribe(t EventType, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = append(b.handlers[t], h)
}

// Publish invokes every handler registered for evt.Type synchronously on
// the calling goroutine, in registration order. A handler that panics is
// trapped and logged; the panic never aborts delivery to the remaining
// handlers and never propagates to the caller.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers[evt.Type]...)
	b.mu.RUnlock()

	for _, h := range handlers {
		b.safeInvoke(h, evt)
	}
}

func (b *Bus) safeInvoke(h Handler, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().
				Interface("panic", r).
				Str("eventType", string(evt.Type)).
				Msg("eventbus subscriber panicked")
		}
	}()
	h(evt)
}
