package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrNoTenant rejects events that are not scoped to a tenant.
var ErrNoTenant = errors.New("event has no tenant")

// EventHandler handles a published event.
type EventHandler func(context.Context, Event) error

// Dispatcher interface allows event publication/subscription.
type Dispatcher interface {
	Publish(ctx context.Context, event Event) error
	Subscribe(eventType EventType, handler EventHandler)
}

// syncDispatcher runs handlers on the publishing goroutine in subscription order.
// Handler lists are replaced on Subscribe, never mutated, so Publish reads them
// without holding the lock while handlers run.
type syncDispatcher struct {
	mu       sync.RWMutex
	handlers map[EventType][]EventHandler
}

// NewInMemoryDispatcher creates a dispatcher instance.
func NewInMemoryDispatcher() Dispatcher {
	return &syncDispatcher{handlers: make(map[EventType][]EventHandler)}
}

// Publish invokes every handler of the event type. A failing or panicking handler does not
// stop the others; failures come back joined and tagged with the handler position.
func (d *syncDispatcher) Publish(ctx context.Context, event Event) error {
	if event.TenantID == "" {
		return fmt.Errorf("%w: %s", ErrNoTenant, event.Type)
	}
	d.mu.RLock()
	subscribed := d.handlers[event.Type]
	d.mu.RUnlock()

	var errs []error
	for i, handler := range subscribed {
		if err := invoke(ctx, handler, event); err != nil {
			errs = append(errs, fmt.Errorf("%s handler %d: %w", event.Type, i, err))
		}
	}
	return errors.Join(errs...)
}

func invoke(ctx context.Context, handler EventHandler, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return handler(ctx, event)
}

// Subscribe registers a handler for the given event type.
func (d *syncDispatcher) Subscribe(eventType EventType, handler EventHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	current := d.handlers[eventType]
	next := make([]EventHandler, len(current), len(current)+1)
	copy(next, current)
	d.handlers[eventType] = append(next, handler)
}
