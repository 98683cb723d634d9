package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Status is the storefront-facing order state.
type Status string

const (
	StatusPending           Status = "PENDING"
	StatusConfirmed         Status = "CONFIRMED"
	StatusCancelled         Status = "CANCELLED"
	StatusRefunded          Status = "REFUNDED"
	StatusPartiallyRefunded Status = "PARTIALLY_REFUNDED"
)

// Terminal reports whether no further payment event may move the order.
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusRefunded
}

// PaymentStatus mirrors the gateway payment state as last reconciled.
type PaymentStatus string

const (
	PaymentPending           PaymentStatus = "PENDING"
	PaymentCaptured          PaymentStatus = "CAPTURED"
	PaymentFailed            PaymentStatus = "FAILED"
	PaymentCancelled         PaymentStatus = "CANCELLED"
	PaymentRefunded          PaymentStatus = "REFUNDED"
	PaymentPartiallyRefunded PaymentStatus = "PARTIALLY_REFUNDED"
)

var (
	// ErrNotFound is returned when no order matches a lookup key.
	ErrNotFound = errors.New("order not found")
	// ErrDuplicatePaymentID is returned when a gateway payment id is already
	// bound to another order.
	ErrDuplicatePaymentID = errors.New("gateway payment id already bound to an order")
)

// Order represents a placed customer order and its reconciled payment state.
type Order struct {
	ID               string
	OrderNumber      string
	GatewayPaymentID string
	GatewayOrderID   string
	Items            []OrderItem
	Status           Status
	PaymentStatus    PaymentStatus
	TotalAmount      decimal.Decimal
	RefundedAmount   decimal.Decimal
	ProcessedAt      *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// OrderItem represents a single line item in an order.
type OrderItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// Refund is one gateway refund object as recorded in the refund ledger.
type Refund struct {
	GatewayRefundID string
	OrderID         string
	Amount          decimal.Decimal
	Status          string
}

// LookupKey selects an order by one of its gateway references. PaymentID is
// tried first; OrderID is the fallback.
type LookupKey struct {
	PaymentID string
	OrderID   string
}

// Empty reports whether the key carries no reference at all.
func (k LookupKey) Empty() bool {
	return k.PaymentID == "" && k.OrderID == ""
}

// Tx exposes the operations available while an order row is locked.
type Tx interface {
	// RecordRefund upserts the refund into the ledger and returns the sum of
	// all completed refunds for the order, including this one.
	RecordRefund(ctx context.Context, r Refund) (decimal.Decimal, error)
}

// UpdateFunc mutates a locked order in place. Returning changed=false skips
// the write.
type UpdateFunc func(ctx context.Context, o *Order, tx Tx) (changed bool, err error)

// Repository defines persistence operations for orders.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	GetByNumber(ctx context.Context, orderNumber string) (*Order, error)
	// Update locks the order matched by key, runs fn, and persists the result
	// atomically. Returns ErrNotFound when nothing matches.
	Update(ctx context.Context, key LookupKey, fn UpdateFunc) (*Order, error)
}
