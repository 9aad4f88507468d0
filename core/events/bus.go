// Package events provides the publish/subscribe bus that emit tasks
// publish entity lifecycle events to.
package events

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Event is a published entity lifecycle event.
type Event struct {
	// Name is the event name, e.g. "user.after_create".
	Name string

	// Entity is the name of the entity the event is about.
	Entity string

	// Phase is the lifecycle phase that emitted the event.
	Phase string

	// ID is the record id, when known.
	ID string

	// Data is a copy of the record attributes.
	Data map[string]any
}

// Handler processes an event. Errors are logged, never returned to the
// publisher.
type Handler func(ctx context.Context, event Event) error

type subscription struct {
	id      uint64
	handler Handler
}

// Bus dispatches events to subscribers. Patterns:
//   - "user.after_create" matches exactly
//   - "user.*" matches every event of an entity
//   - "*" matches everything
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]subscription
	nextID   uint64
	logger   zerolog.Logger
}

// NewBus creates an empty bus.
func NewBus(logger zerolog.Logger) *Bus {
	return &Bus{
		handlers: make(map[string][]subscription),
		logger:   logger,
	}
}

// Subscribe registers handler for pattern and returns a function that
// removes it.
func (b *Bus) Subscribe(pattern string, handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.handlers[pattern] = append(b.handlers[pattern], subscription{id: id, handler: handler})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.handlers[pattern]
		for i, s := range subs {
			if s.id == id {
				b.handlers[pattern] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
		if len(b.handlers[pattern]) == 0 {
			delete(b.handlers, pattern)
		}
	}
}

// Publish calls every matching handler synchronously: exact subscribers
// first, then entity wildcards, then global ones.
func (b *Bus) Publish(ctx context.Context, event Event) {
	matched := b.match(event.Name)

	b.logger.Debug().
		Str("event", event.Name).
		Str("entity", event.Entity).
		Str("phase", event.Phase).
		Int("handlers", len(matched)).
		Msg("event published")

	for _, handler := range matched {
		if err := handler(ctx, event); err != nil {
			b.logger.Error().
				Err(err).
				Str("event", event.Name).
				Msg("event handler error")
		}
	}
}

// LogHandler returns a handler that writes each event to logger.
func LogHandler(logger zerolog.Logger) Handler {
	return func(_ context.Context, event Event) error {
		logger.Info().
			Str("event", event.Name).
			Str("entity", event.Entity).
			Str("phase", event.Phase).
			Str("id", event.ID).
			Msg("entity event")
		return nil
	}
}

// PublishAsync publishes on a new goroutine.
func (b *Bus) PublishAsync(ctx context.Context, event Event) {
	go b.Publish(context.WithoutCancel(ctx), event)
}

// HasSubscribers reports whether any handler matches name.
func (b *Bus) HasSubscribers(name string) bool {
	return len(b.match(name)) > 0
}

func (b *Bus) match(name string) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()

	patterns := []string{name}
	if prefix, _, ok := strings.Cut(name, "."); ok {
		patterns = append(patterns, prefix+".*")
	}
	patterns = append(patterns, "*")

	var matched []Handler
	for _, p := range patterns {
		for _, s := range b.handlers[p] {
			matched = append(matched, s.handler)
		}
	}
	return matched
}
