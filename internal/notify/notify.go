// Package notify delivers order lifecycle notifications (confirmation and
// refund emails, analytics) off the request path.
package notify

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Kind names a lifecycle notification.
type Kind string

const (
	KindConfirmed         Kind = "order.confirmed"
	KindCancelled         Kind = "order.cancelled"
	KindRefunded          Kind = "order.refunded"
	KindPartiallyRefunded Kind = "order.partially_refunded"
)

// Notification describes an order state change worth telling someone about.
type Notification struct {
	Kind          Kind
	OrderID       string
	OrderNumber   string
	Status        string
	PaymentStatus string
}

// Sink performs the actual delivery.
type Sink interface {
	Send(ctx context.Context, n Notification) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, n Notification) error

// Send calls f(ctx, n).
func (f SinkFunc) Send(ctx context.Context, n Notification) error { return f(ctx, n) }

// LogSink writes notifications to the context logger.
var LogSink = SinkFunc(func(ctx context.Context, n Notification) error {
	zctx.From(ctx).Info("Order notification",
		zap.String("kind", string(n.Kind)),
		zap.String("order_id", n.OrderID),
		zap.String("order_number", n.OrderNumber),
		zap.String("status", n.Status),
		zap.String("payment_status", n.PaymentStatus),
	)
	return nil
})

// Config controls delivery bounds.
type Config struct {
	// Timeout caps a single delivery.
	Timeout time.Duration
	// Concurrency caps in-flight deliveries. Notifications beyond it are
	// dropped rather than queued.
	Concurrency int64
}

// Dispatcher sends notifications asynchronously. Notify never blocks the
// caller.
type Dispatcher struct {
	sink    Sink
	timeout time.Duration
	sem     *semaphore.Weighted
	size    int64
	base    context.Context

	inFlight atomic.Int64
	dropped  atomic.Int64
}

// NewDispatcher creates a Dispatcher. base bounds the lifetime of in-flight
// deliveries and supplies their logger.
func NewDispatcher(base context.Context, sink Sink, cfg Config) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 64
	}
	return &Dispatcher{
		sink:    sink,
		timeout: cfg.Timeout,
		sem:     semaphore.NewWeighted(cfg.Concurrency),
		size:    cfg.Concurrency,
		base:    base,
	}
}

// Notify schedules delivery of n and returns immediately. It reports whether
// the notification was accepted.
func (d *Dispatcher) Notify(ctx context.Context, n Notification) bool {
	lg := zctx.From(ctx)
	if !d.sem.TryAcquire(1) {
		d.dropped.Add(1)
		lg.Warn("Notification dropped, dispatcher saturated",
			zap.String("kind", string(n.Kind)),
			zap.String("order_number", n.OrderNumber),
		)
		return false
	}

	d.inFlight.Add(1)
	go func() {
		defer d.sem.Release(1)
		defer d.inFlight.Add(-1)

		sendCtx, cancel := context.WithTimeout(zctx.Base(d.base, lg), d.timeout)
		defer cancel()

		if err := d.sink.Send(sendCtx, n); err != nil {
			lg.Error("Notification delivery failed",
				zap.String("kind", string(n.Kind)),
				zap.String("order_number", n.OrderNumber),
				zap.Error(err),
			)
		}
	}()
	return true
}

// Wait blocks until all in-flight deliveries finish or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	if err := d.sem.Acquire(ctx, d.size); err != nil {
		return err
	}
	d.sem.Release(d.size)
	return nil
}

// InFlight returns the number of deliveries currently running.
func (d *Dispatcher) InFlight() int64 { return d.inFlight.Load() }

// Dropped returns how many notifications were refused since start.
func (d *Dispatcher) Dropped() int64 { return d.dropped.Load() }
