// Package bus provides the in-process event bus connecting agents,
// services, and the journal. Delivery is synchronous: Publish runs every
// matching handler inline and returns only after all of them finish, so
// callers can rely on downstream effects (journaling, projections) being
// applied when Publish returns.
package bus

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/tazuna-ai/tazuna/internal/model"
)

// AllEvents subscribes a handler to every event type.
const AllEvents model.EventType = "*"

// Handler consumes one event. Returning an error does not prevent later
// handlers from running; Publish joins all handler errors.
type Handler func(ctx context.Context, ev model.Event) error

// Bus is a synchronous publish/subscribe dispatcher. Handlers run in
// subscription order, wildcard subscriptions included.
type Bus struct {
	mu   sync.RWMutex
	seq  int
	subs map[model.EventType][]subscription
}

type subscription struct {
	seq int
	fn  Handler
}

// New returns an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[model.EventType][]subscription)}
}

// Subscribe registers a handler for the given event type. Use AllEvents
// to receive every event. Safe for concurrent use.
func (b *Bus) Subscribe(eventType model.EventType, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[eventType] = append(b.subs[eventType], subscription{seq: b.seq, fn: h})
	b.seq++
}

// Publish delivers the event to every handler subscribed to its type or
// to AllEvents, in subscription order. Handler errors are collected and
// joined; a failing handler does not stop later handlers.
func (b *Bus) Publish(ctx context.Context, ev model.Event) error {
	b.mu.RLock()
	matched := make([]subscription, 0, len(b.subs[ev.Type])+len(b.subs[AllEvents]))
	matched = append(matched, b.subs[ev.Type]...)
	matched = append(matched, b.subs[AllEvents]...)
	b.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].seq < matched[j].seq })

	var errs []error
	for _, sub := range matched {
		if err := sub.fn(ctx, ev); err != nil {
			errs = append(errs, fmt.Errorf("bus: %s handler: %w", ev.Type, err))
		}
	}
	return errors.Join(errs...)
}
