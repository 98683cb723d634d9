package order

import (
	"time"

	"github.com/shopspring/decimal"
)

// Gateway payment and refund statuses as reported in webhook payloads.
const (
	GatewayCompleted = "COMPLETED"
	GatewayFailed    = "FAILED"
	GatewayCanceled  = "CANCELED"
)

// RefundEpsilon absorbs rounding when classifying a refund as full.
var RefundEpsilon = decimal.New(1, -2)

// EventKind identifies which gateway object an event describes.
type EventKind string

const (
	EventPaymentUpdated EventKind = "payment.updated"
	EventRefundUpdated  EventKind = "refund.updated"
)

// Event is the reconciler's view of a gateway event, reduced to the fields
// that drive a transition.
type Event struct {
	Kind EventKind
	// GatewayStatus is the payment status for payment events and the refund
	// status for refund events.
	GatewayStatus string
	// RefundedTotal is the cumulative completed refund amount for the order,
	// including the refund carried by this event.
	RefundedTotal decimal.Decimal
}

// Outcome classifies what a transition did.
type Outcome string

const (
	OutcomeApplied         Outcome = "applied"
	OutcomeUnchanged       Outcome = "unchanged"
	OutcomeTerminal        Outcome = "terminal"
	OutcomeUnhandledStatus Outcome = "unhandled_status"
	OutcomeRefundPending   Outcome = "refund_pending"
)

// Result is the next state computed for an order. StampProcessedAt asks the
// caller to set ProcessedAt; the transition itself never reads the clock.
type Result struct {
	Status           Status
	PaymentStatus    PaymentStatus
	RefundedAmount   decimal.Decimal
	StampProcessedAt bool
	Outcome          Outcome
}

// Transition computes the next state of o for ev. It is pure and idempotent:
// applying the result of an event to an order that already reflects it
// yields OutcomeUnchanged.
//
// Cancelled and refunded orders absorb every event. Refund-derived payment
// statuses are never overwritten by a capture, so a capture and a full
// refund converge to REFUNDED in either arrival order.
func Transition(o Order, ev Event) Result {
	res := Result{
		Status:         o.Status,
		PaymentStatus:  o.PaymentStatus,
		RefundedAmount: o.RefundedAmount,
		Outcome:        OutcomeUnchanged,
	}
	if o.Status.Terminal() || o.PaymentStatus == PaymentRefunded {
		res.Outcome = OutcomeTerminal
		return res
	}

	switch ev.Kind {
	case EventPaymentUpdated:
		applyPayment(&res, o, ev.GatewayStatus)
	case EventRefundUpdated:
		applyRefund(&res, o, ev)
	default:
		res.Outcome = OutcomeUnhandledStatus
		return res
	}

	if res.Outcome == OutcomeUnchanged && res.differsFrom(o) {
		res.Outcome = OutcomeApplied
	}
	return res
}

func applyPayment(res *Result, o Order, gatewayStatus string) {
	switch gatewayStatus {
	case GatewayCompleted:
		if o.PaymentStatus != PaymentPartiallyRefunded {
			res.PaymentStatus = PaymentCaptured
		}
		if o.Status == StatusPending {
			res.Status = StatusConfirmed
		}
		res.StampProcessedAt = o.ProcessedAt == nil
	case GatewayFailed:
		res.PaymentStatus = PaymentFailed
		res.Status = StatusCancelled
	case GatewayCanceled:
		res.PaymentStatus = PaymentCancelled
		res.Status = StatusCancelled
	default:
		res.Outcome = OutcomeUnhandledStatus
	}
}

func applyRefund(res *Result, o Order, ev Event) {
	if ev.GatewayStatus != GatewayCompleted {
		res.Outcome = OutcomeRefundPending
		return
	}
	res.RefundedAmount = ev.RefundedTotal
	if IsFullRefund(ev.RefundedTotal, o.TotalAmount) {
		res.PaymentStatus = PaymentRefunded
		res.Status = StatusRefunded
		return
	}
	res.PaymentStatus = PaymentPartiallyRefunded
}

// IsFullRefund reports whether refunded covers total within RefundEpsilon.
func IsFullRefund(refunded, total decimal.Decimal) bool {
	if refunded.GreaterThan(total) {
		return true
	}
	return refunded.Sub(total).Abs().LessThan(RefundEpsilon)
}

func (r Result) differsFrom(o Order) bool {
	return r.Status != o.Status ||
		r.PaymentStatus != o.PaymentStatus ||
		!r.RefundedAmount.Equal(o.RefundedAmount) ||
		r.StampProcessedAt
}

// ApplyTo writes the result into o, stamping ProcessedAt with now when
// requested. It reports whether o changed.
func (r Result) ApplyTo(o *Order, now time.Time) bool {
	if r.Outcome != OutcomeApplied {
		return false
	}
	o.Status = r.Status
	o.PaymentStatus = r.PaymentStatus
	o.RefundedAmount = r.RefundedAmount
	if r.StampProcessedAt && o.ProcessedAt == nil {
		t := now.UTC()
		o.ProcessedAt = &t
	}
	o.UpdatedAt = now.UTC()
	return true
}
