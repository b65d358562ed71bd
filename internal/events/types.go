package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Events published by the kernel itself
const (
	ModuleInstalled   = "module.installed"
	ModuleUninstalled = "module.uninstalled"
	EngineShutdown    = "engine.shutdown"
)

// ErrEmptyEventName is returned when subscribing with an empty event name
var ErrEmptyEventName = errors.New("event name must not be empty")

// Handler receives the payload of a published event
type Handler func(ctx context.Context, payload any) error

// SubscriptionID identifies a single subscription for Unsubscribe
type SubscriptionID uuid.UUID

func (id SubscriptionID) String() string {
	return uuid.UUID(id).String()
}

// ModulePayload is the payload of module.installed and module.uninstalled
type ModulePayload struct {
	Module string `json:"module"`
}

// ShutdownPayload is the payload of engine.shutdown
type ShutdownPayload struct{}

// PayloadTypeError reports a payload that a typed handler cannot accept
type PayloadTypeError struct {
	Want string
	Got  any
}

func (e *PayloadTypeError) Error() string {
	return fmt.Sprintf("unexpected payload type %T, want %s", e.Got, e.Want)
}

// Handle adapts a typed handler to a Handler. A payload of any other type
// fails the call with a *PayloadTypeError, which the bus isolates and logs
// like any other handler failure.
func Handle[T any](fn func(ctx context.Context, payload T) error) Handler {
	return func(ctx context.Context, payload any) error {
		typed, ok := payload.(T)
		if !ok {
			var zero T
			return &PayloadTypeError{Want: fmt.Sprintf("%T", zero), Got: payload}
		}
		return fn(ctx, typed)
	}
}
