package plugin

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/triagehub/triagehub-backend/internal/models"
)

// subscriberBuffer bounds each subscriber's queue; a subscriber that falls
// this far behind starts losing events (logged).
const subscriberBuffer = 256

// EventBus is single-process pub/sub from the triage engine to plugins.
// Publish never blocks the publisher; each subscriber drains its own queue
// on a dedicated goroutine, which gives per-subscriber in-order delivery
// and isolates slow or failing subscribers from each other.
type EventBus struct {
	logger *slog.Logger

	mu     sync.Mutex
	subs   []*busSubscriber
	closed bool
}

type busSubscriber struct {
	name string
	fn   func(ctx context.Context, ev models.Event)
	ch   chan models.Event
	done chan struct{}
}

// NewEventBus creates an empty bus.
func NewEventBus(logger *slog.Logger) *EventBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBus{logger: logger}
}

// Subscribe registers fn under name and starts its delivery goroutine.
func (b *EventBus) Subscribe(name string, fn func(ctx context.Context, ev models.Event)) {
	sub := &busSubscriber{
		name: name,
		fn:   fn,
		ch:   make(chan models.Event, subscriberBuffer),
		done: make(chan struct{}),
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	go sub.run(b.logger)
}

func (s *busSubscriber) run(logger *slog.Logger) {
	defer close(s.done)
	for ev := range s.ch {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("event subscriber panicked",
						"subscriber", s.name, "event_type", ev.Type, "panic", r)
				}
			}()
			s.fn(context.Background(), ev)
		}()
	}
}

// Publish delivers ev to every subscriber without blocking the caller.
// A full subscriber queue drops the event for that subscriber only.
func (b *EventBus) Publish(ev models.Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	b.mu.Lock()
	subs := make([]*busSubscriber, len(b.subs))
	copy(subs, b.subs)
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return
	}
	for _, sub := range subs {
		select {
		case sub.ch <- ev:
		default:
			b.logger.Warn("event dropped for slow subscriber",
				"subscriber", sub.name, "event_type", ev.Type)
		}
	}
}

// Close stops delivery and waits for in-flight handlers to finish.
func (b *EventBus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	for _, sub := range subs {
		close(sub.ch)
		<-sub.done
	}
}
