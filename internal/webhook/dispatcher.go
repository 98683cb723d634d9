package webhook

import (
	"context"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/moto-storefront/internal/domain/order"
)

// State is where a delivery ended up after dispatch.
type State string

const (
	StateApplied   State = "applied"
	StateIgnored   State = "ignored"
	StateUnmatched State = "logged_unmatched"
)

// Result reports how an event was handled.
type Result struct {
	State       State
	Outcome     order.Outcome
	OrderNumber string
}

// HandlerFunc handles one verified event.
type HandlerFunc func(ctx context.Context, env *Envelope) (Result, error)

// Dispatcher routes verified events to a handler by type. Unknown types are
// acknowledged so the gateway does not keep redelivering them.
type Dispatcher struct {
	handlers map[string]HandlerFunc
}

// NewDispatcher creates an empty Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]HandlerFunc)}
}

// Handle registers h for eventType, replacing any previous handler.
func (d *Dispatcher) Handle(eventType string, h HandlerFunc) {
	d.handlers[eventType] = h
}

// Dispatch runs the handler registered for env.Type.
func (d *Dispatcher) Dispatch(ctx context.Context, env *Envelope) (Result, error) {
	h, ok := d.handlers[env.Type]
	if !ok {
		zctx.From(ctx).Info("Unhandled webhook event type",
			zap.String("event_type", env.Type),
			zap.String("event_id", env.EventID),
		)
		return Result{State: StateIgnored}, nil
	}
	return h(ctx, env)
}
