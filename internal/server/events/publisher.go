package events

import (
	"context"
	"sync"

	"github.com/danmarauda/server/internal/logging"
)

// Publisher is the DomainEventPublisher seam. Implementations must be safe
// for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Handler consumes one event.
type Handler func(ctx context.Context, event Event) error

// Dispatcher is an in-process Publisher that fans events out to handlers
// registered per event type. Handler errors are logged and swallowed: a sync
// must not fail because a downstream consumer could not be reached.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	logger   logging.Logger
}

func NewDispatcher(logger logging.Logger) *Dispatcher {
	return &Dispatcher{
		handlers: make(map[string][]Handler),
		logger:   logger.With("module", "events"),
	}
}

// Subscribe registers a handler for an event type.
func (d *Dispatcher) Subscribe(eventType string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[eventType] = append(d.handlers[eventType], h)
}

func (d *Dispatcher) Publish(ctx context.Context, event Event) error {
	d.mu.RLock()
	handlers := d.handlers[event.EventType()]
	d.mu.RUnlock()

	for _, h := range handlers {
		if err := h(ctx, event); err != nil {
			d.logger.Error(ctx, "event handler failed", "event", event.EventType(), "error", err.Error())
		}
	}
	return nil
}
