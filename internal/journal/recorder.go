package journal

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mindzen-erp/mindzen/internal/events"
)

type subscription struct {
	event string
	id    events.SubscriptionID
}

// Recorder appends lifecycle events from an event bus to a Sink
type Recorder struct {
	sink   Sink
	bus    *events.Bus
	subs   []subscription
	now    func() time.Time
	logger *zap.Logger
}

// RecorderOption configures a Recorder
type RecorderOption func(*Recorder)

// WithLogger sets the recorder logger
func WithLogger(logger *zap.Logger) RecorderOption {
	return func(r *Recorder) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithClock sets the time source used to stamp entries
func WithClock(now func() time.Time) RecorderOption {
	return func(r *Recorder) {
		r.now = now
	}
}

// NewRecorder creates a recorder writing to sink
func NewRecorder(sink Sink, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		sink:   sink,
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Attach subscribes the recorder to the lifecycle events of bus. Attaching
// an attached recorder detaches it from its previous bus first.
func (r *Recorder) Attach(bus *events.Bus) error {
	r.Detach()

	moduleHandler := func(event string) events.Handler {
		return events.Handle(func(ctx context.Context, p events.ModulePayload) error {
			return r.record(ctx, event, p.Module)
		})
	}

	handlers := []struct {
		event   string
		handler events.Handler
	}{
		{events.ModuleInstalled, moduleHandler(events.ModuleInstalled)},
		{events.ModuleUninstalled, moduleHandler(events.ModuleUninstalled)},
		{events.EngineShutdown, events.Handle(func(ctx context.Context, _ events.ShutdownPayload) error {
			return r.record(ctx, events.EngineShutdown, "")
		})},
	}

	r.bus = bus
	for _, h := range handlers {
		id, err := bus.Subscribe(h.event, h.handler)
		if err != nil {
			r.Detach()
			return err
		}
		r.subs = append(r.subs, subscription{event: h.event, id: id})
	}

	r.logger.Debug("Journal recorder attached", zap.Int("events", len(r.subs)))
	return nil
}

// Detach removes the recorder's subscriptions
func (r *Recorder) Detach() {
	if r.bus == nil {
		return
	}
	for _, sub := range r.subs {
		r.bus.Unsubscribe(sub.event, sub.id)
	}
	r.subs = nil
	r.bus = nil
}

func (r *Recorder) record(ctx context.Context, event, module string) error {
	entry := NewEntry(event, module, r.now())
	if err := r.sink.Append(ctx, entry); err != nil {
		return err
	}
	r.logger.Debug("Journal entry recorded", zap.String("event", event), zap.String("module", module))
	return nil
}
