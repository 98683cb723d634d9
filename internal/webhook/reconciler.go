package webhook

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/moto-storefront/internal/domain/order"
	"github.com/xenking/moto-storefront/internal/notify"
)

const instrumentationName = "github.com/xenking/moto-storefront/internal/webhook"

// Notifier receives lifecycle notifications for applied transitions. It must
// not block.
type Notifier interface {
	Notify(ctx context.Context, n notify.Notification) bool
}

// Reconciler applies payment and refund events to locally stored orders.
type Reconciler struct {
	orders   order.Repository
	notifier Notifier
	timeout  time.Duration
	now      func() time.Time
	tracer   trace.Tracer
	events   metric.Int64Counter
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithTimeout bounds each persistence round trip.
func WithTimeout(d time.Duration) Option {
	return func(r *Reconciler) { r.timeout = d }
}

// WithTracerProvider sets the tracer provider for reconciliation spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(r *Reconciler) { r.tracer = tp.Tracer(instrumentationName) }
}

// WithMeterProvider sets the meter provider for outcome counters.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(r *Reconciler) { r.events = newEventCounter(mp.Meter(instrumentationName)) }
}

// NewReconciler creates a Reconciler over orders. notifier may be nil.
func NewReconciler(orders order.Repository, notifier Notifier, opts ...Option) *Reconciler {
	r := &Reconciler{
		orders:   orders,
		notifier: notifier,
		timeout:  8 * time.Second,
		now:      time.Now,
		tracer:   tracenoop.NewTracerProvider().Tracer(instrumentationName),
		events:   newEventCounter(metricnoop.NewMeterProvider().Meter(instrumentationName)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func newEventCounter(m metric.Meter) metric.Int64Counter {
	c, err := m.Int64Counter("webhook.events",
		metric.WithDescription("Webhook events handled, by type, state and transition outcome"),
	)
	if err != nil {
		c, _ = metricnoop.NewMeterProvider().Meter(instrumentationName).Int64Counter("webhook.events")
	}
	return c
}

// Register wires the reconciler's handlers into d.
func (r *Reconciler) Register(d *Dispatcher) {
	d.Handle(TypePaymentUpdated, r.PaymentUpdated)
	d.Handle(TypeRefundUpdated, r.RefundUpdated)
	d.Handle(TypeOrderUpdated, r.OrderUpdated)
}

// PaymentUpdated applies a payment.updated event.
func (r *Reconciler) PaymentUpdated(ctx context.Context, env *Envelope) (Result, error) {
	p, err := env.Payment()
	if err != nil {
		return Result{}, err
	}
	ctx = zctx.With(ctx,
		zap.String("gateway_payment_id", p.ID),
		zap.String("gateway_status", p.Status),
	)
	key := order.LookupKey{PaymentID: p.ID, OrderID: p.OrderID}
	return r.reconcile(ctx, env, key, func(context.Context, *order.Order, order.Tx) (order.Event, error) {
		return order.Event{Kind: order.EventPaymentUpdated, GatewayStatus: p.Status}, nil
	})
}

// RefundUpdated records the refund in the ledger and applies the cumulative
// refunded amount to the order.
func (r *Reconciler) RefundUpdated(ctx context.Context, env *Envelope) (Result, error) {
	rf, err := env.Refund()
	if err != nil {
		return Result{}, err
	}
	ctx = zctx.With(ctx,
		zap.String("gateway_refund_id", rf.ID),
		zap.String("gateway_status", rf.Status),
		zap.String("refund_amount", rf.AmountMoney.Decimal().StringFixed(2)),
	)
	key := order.LookupKey{PaymentID: rf.PaymentID, OrderID: rf.OrderID}
	return r.reconcile(ctx, env, key, func(ctx context.Context, o *order.Order, tx order.Tx) (order.Event, error) {
		total, err := tx.RecordRefund(ctx, order.Refund{
			GatewayRefundID: rf.ID,
			OrderID:         o.ID,
			Amount:          rf.AmountMoney.Decimal(),
			Status:          rf.Status,
		})
		if err != nil {
			return order.Event{}, errors.Wrap(err, "record refund")
		}
		return order.Event{
			Kind:          order.EventRefundUpdated,
			GatewayStatus: rf.Status,
			RefundedTotal: total,
		}, nil
	})
}

// OrderUpdated only logs; gateway order state does not drive local state.
func (r *Reconciler) OrderUpdated(ctx context.Context, env *Envelope) (Result, error) {
	u, err := env.OrderUpdate()
	if err != nil {
		return Result{}, err
	}
	zctx.From(ctx).Info("Gateway order updated",
		zap.String("gateway_order_id", u.OrderID),
		zap.String("state", u.State),
		zap.Int64("version", u.Version),
	)
	r.record(ctx, env.Type, StateIgnored, "")
	return Result{State: StateIgnored}, nil
}

type eventFunc func(ctx context.Context, o *order.Order, tx order.Tx) (order.Event, error)

func (r *Reconciler) reconcile(ctx context.Context, env *Envelope, key order.LookupKey, build eventFunc) (_ Result, rerr error) {
	ctx, span := r.tracer.Start(ctx, "Reconciler."+env.Type,
		trace.WithAttributes(
			attribute.String("webhook.event_id", env.EventID),
			attribute.String("gateway.payment_id", key.PaymentID),
			attribute.String("gateway.order_id", key.OrderID),
		))
	defer func() {
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, rerr.Error())
		}
		span.End()
	}()
	lg := zctx.From(ctx)

	if key.Empty() {
		lg.Warn("Webhook event carries no gateway reference")
		r.record(ctx, env.Type, StateUnmatched, "")
		return Result{State: StateUnmatched}, nil
	}

	var (
		res  order.Result
		prev order.Order
	)
	opCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	updated, err := r.orders.Update(opCtx, key, func(ctx context.Context, o *order.Order, tx order.Tx) (bool, error) {
		prev = *o
		ev, err := build(ctx, o, tx)
		if err != nil {
			return false, err
		}
		res = order.Transition(*o, ev)
		return res.ApplyTo(o, r.now()), nil
	})
	switch {
	case errors.Is(err, order.ErrNotFound):
		lg.Warn("No order matches webhook event")
		r.record(ctx, env.Type, StateUnmatched, "")
		return Result{State: StateUnmatched}, nil
	case err != nil:
		return Result{}, errors.Wrap(err, "apply transition")
	}

	lg = lg.With(
		zap.String("order_number", updated.OrderNumber),
		zap.String("outcome", string(res.Outcome)),
		zap.String("status", string(updated.Status)),
		zap.String("payment_status", string(updated.PaymentStatus)),
	)
	span.SetAttributes(
		attribute.String("order.number", updated.OrderNumber),
		attribute.String("transition.outcome", string(res.Outcome)),
	)

	state := StateIgnored
	switch res.Outcome {
	case order.OutcomeApplied:
		state = StateApplied
		lg.Info("Order reconciled", zap.String("previous_status", string(prev.Status)))
		r.notify(ctx, prev, *updated)
	case order.OutcomeUnhandledStatus:
		lg.Warn("Unhandled gateway sub-status")
	default:
		lg.Info("Webhook event left order unchanged")
	}
	r.record(ctx, env.Type, state, res.Outcome)
	return Result{State: state, Outcome: res.Outcome, OrderNumber: updated.OrderNumber}, nil
}

func (r *Reconciler) notify(ctx context.Context, prev, next order.Order) {
	if r.notifier == nil {
		return
	}
	var kind notify.Kind
	switch {
	case next.Status == order.StatusRefunded:
		kind = notify.KindRefunded
	case next.Status == order.StatusCancelled:
		kind = notify.KindCancelled
	case next.PaymentStatus == order.PaymentPartiallyRefunded && !next.RefundedAmount.Equal(prev.RefundedAmount):
		kind = notify.KindPartiallyRefunded
	case next.Status == order.StatusConfirmed && prev.Status != order.StatusConfirmed:
		kind = notify.KindConfirmed
	default:
		return
	}
	r.notifier.Notify(ctx, notify.Notification{
		Kind:          kind,
		OrderID:       next.ID,
		OrderNumber:   next.OrderNumber,
		Status:        string(next.Status),
		PaymentStatus: string(next.PaymentStatus),
	})
}

func (r *Reconciler) record(ctx context.Context, eventType string, state State, outcome order.Outcome) {
	r.events.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event.type", eventType),
		attribute.String("state", string(state)),
		attribute.String("outcome", string(outcome)),
	))
}
