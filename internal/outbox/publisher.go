package outbox

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/quantleap/tradecrm/internal/events"
	"github.com/quantleap/tradecrm/pkg/logger"
)

// Publisher delivers a rehydrated domain event to downstream consumers.
// Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, evt events.Event) error
}

// Handler consumes one event type.
type Handler func(ctx context.Context, evt events.Event) error

// Bus is an in-process publisher fanning events out to subscribed handlers.
// Consumers must tolerate out-of-order and duplicate delivery: the outbox
// guarantees at-least-once, nothing stronger.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	log      *zap.Logger
}

// NewBus constructs an empty event bus.
func NewBus() *Bus {
	return &Bus{
		handlers: make(map[string][]Handler),
		log:      logger.WithModule("outbox.bus"),
	}
}

// Subscribe registers a handler for the named event type.
func (b *Bus) Subscribe(eventType string, handler Handler) {
	if handler == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// Publish invokes every handler subscribed to the event's type. The first
// handler error aborts delivery so the message is retried; handlers must
// therefore be idempotent.
func (b *Bus) Publish(ctx context.Context, evt events.Event) error {
	if evt == nil {
		return nil
	}

	b.mu.RLock()
	subscribed := b.handlers[evt.EventType()]
	b.mu.RUnlock()

	if len(subscribed) == 0 {
		b.log.Debug("no subscribers", zap.String("type", evt.EventType()))
		return nil
	}

	for _, handler := range subscribed {
		if err := handler(ctx, evt); err != nil {
			return err
		}
	}
	return nil
}
