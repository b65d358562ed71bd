// Package events implements the kernel's publish/subscribe event bus.
//
// Modules communicate through named events without holding references to
// each other:
//
//	bus.Subscribe("sales.order.confirmed", onOrderConfirmed)
//	bus.Publish(ctx, "sales.order.confirmed", order)
//
// The bus is synchronous and does no locking; callers serialize access.
package events

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type subscription struct {
	id      SubscriptionID
	handler Handler
}

// Bus delivers published payloads to every subscriber of an event
type Bus struct {
	subscribers map[string][]subscription
	logger      *zap.Logger
}

// Option configures a Bus
type Option func(*Bus)

// WithLogger sets the logger used to report handler failures
func WithLogger(logger *zap.Logger) Option {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// NewBus creates an empty event bus
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		subscribers: make(map[string][]subscription),
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger.Debug("Event bus initialized")
	return b
}

// Subscribe appends handler to the subscribers of event. Subscribing the
// same handler twice delivers each event to it twice.
func (b *Bus) Subscribe(event string, handler Handler) (SubscriptionID, error) {
	if event == "" {
		return SubscriptionID{}, ErrEmptyEventName
	}
	if handler == nil {
		return SubscriptionID{}, fmt.Errorf("nil handler for event %q", event)
	}

	id := SubscriptionID(uuid.New())
	b.subscribers[event] = append(b.subscribers[event], subscription{id: id, handler: handler})
	b.logger.Debug("Subscribed to event", zap.String("event", event), zap.Stringer("subscription", id))
	return id, nil
}

// Unsubscribe removes the subscription id from event. It reports whether a
// subscription was removed; an unknown id is logged, not treated as an error.
func (b *Bus) Unsubscribe(event string, id SubscriptionID) bool {
	subs := b.subscribers[event]
	for i, sub := range subs {
		if sub.id != id {
			continue
		}
		b.subscribers[event] = append(subs[:i:i], subs[i+1:]...)
		if len(b.subscribers[event]) == 0 {
			delete(b.subscribers, event)
		}
		b.logger.Debug("Unsubscribed from event", zap.String("event", event), zap.Stringer("subscription", id))
		return true
	}

	b.logger.Warn("Subscription not found for event", zap.String("event", event), zap.Stringer("subscription", id))
	return false
}

// Publish delivers payload to every current subscriber of event in
// subscription order. A failing or panicking handler is logged and skipped;
// Publish itself never fails.
func (b *Bus) Publish(ctx context.Context, event string, payload any) {
	subs := b.subscribers[event]
	if len(subs) == 0 {
		b.logger.Debug("No subscribers for event", zap.String("event", event))
		return
	}

	b.logger.Debug("Publishing event", zap.String("event", event), zap.Int("subscribers", len(subs)))

	// Handlers may subscribe or unsubscribe while we iterate; deliver to the
	// subscribers present when publishing started.
	snapshot := make([]subscription, len(subs))
	copy(snapshot, subs)

	for _, sub := range snapshot {
		if err := b.deliver(ctx, sub, payload); err != nil {
			b.logger.Error("Error in event handler",
				zap.String("event", event),
				zap.Stringer("subscription", sub.id),
				zap.Error(err))
		}
	}
}

func (b *Bus) deliver(ctx context.Context, sub subscription, payload any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return sub.handler(ctx, payload)
}

// Clear drops all subscribers of event
func (b *Bus) Clear(event string) {
	if _, ok := b.subscribers[event]; ok {
		delete(b.subscribers, event)
		b.logger.Debug("Cleared subscribers", zap.String("event", event))
	}
}

// ClearAll drops every subscription
func (b *Bus) ClearAll() {
	b.subscribers = make(map[string][]subscription)
	b.logger.Debug("Cleared all event subscribers")
}

// EventNames returns the events that have subscribers, sorted
func (b *Bus) EventNames() []string {
	names := make([]string, 0, len(b.subscribers))
	for name := range b.subscribers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SubscriberCount returns the number of subscribers of event
func (b *Bus) SubscriberCount(event string) int {
	return len(b.subscribers[event])
}
