// Package memory provides an in-process status event broker. It stands in
// for Kafka in development, where durability is not required.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/ahrav/codereport/internal/domain/report"
)

// Handler receives a status change. A returned error stops delivery to the
// remaining handlers and is reported to the publisher.
type Handler func(ctx context.Context, evt report.StatusChangedEvent) error

// Broker fans status changes out to subscribed handlers synchronously.
// It implements report.EventPublisher.
type Broker struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[uint64]Handler
	order    []uint64
}

var _ report.EventPublisher = (*Broker)(nil)

// NewBroker creates a broker with no subscribers.
func NewBroker() *Broker {
	return &Broker{handlers: make(map[uint64]Handler)}
}

// Subscribe registers handler until ctx is done. Handlers run in
// registration order.
func (b *Broker) Subscribe(ctx context.Context, handler Handler) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if handler == nil {
		return errors.New("handler cannot be nil")
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.handlers[id] = handler
	b.order = append(b.order, id)
	b.mu.Unlock()

	context.AfterFunc(ctx, func() { b.unsubscribe(id) })

	return nil
}

func (b *Broker) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.handlers, id)
	for i, v := range b.order {
		if v == id {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
}

// PublishStatusChanged delivers evt to every subscriber, stopping at the
// first error. Handlers are copied first so none runs under the lock.
func (b *Broker) PublishStatusChanged(ctx context.Context, evt report.StatusChangedEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.order))
	for _, id := range b.order {
		handlers = append(handlers, b.handlers[id])
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := h(ctx, evt); err != nil {
			return err
		}
	}
	return nil
}
