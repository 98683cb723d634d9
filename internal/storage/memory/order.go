// Package memory provides an in-process order store for local development
// and tests. Every order has its own lock, so updates to one order are
// serialized while different orders proceed in parallel.
package memory

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/xenking/moto-storefront/internal/domain/order"
)

var _ order.Repository = (*OrderRepository)(nil)

type orderEntry struct {
	mu      sync.Mutex
	order   order.Order
	refunds map[string]order.Refund
}

// OrderRepository implements order.Repository in memory.
type OrderRepository struct {
	mu             sync.RWMutex
	byID           map[string]*orderEntry
	byPaymentID    map[string]string
	byGatewayOrder map[string]string
	byNumber       map[string]string
}

// NewOrderRepository returns an empty OrderRepository.
func NewOrderRepository() *OrderRepository {
	return &OrderRepository{
		byID:           make(map[string]*orderEntry),
		byPaymentID:    make(map[string]string),
		byGatewayOrder: make(map[string]string),
		byNumber:       make(map[string]string),
	}
}

// Create stores a new order. It fails with order.ErrDuplicatePaymentID when
// the gateway payment id is already bound.
func (r *OrderRepository) Create(_ context.Context, o *order.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byPaymentID[o.GatewayPaymentID]; ok {
		return order.ErrDuplicatePaymentID
	}
	r.byID[o.ID] = &orderEntry{order: clone(*o), refunds: make(map[string]order.Refund)}
	r.byPaymentID[o.GatewayPaymentID] = o.ID
	if o.GatewayOrderID != "" {
		r.byGatewayOrder[o.GatewayOrderID] = o.ID
	}
	r.byNumber[o.OrderNumber] = o.ID
	return nil
}

// GetByNumber returns a snapshot of the order with the given number.
func (r *OrderRepository) GetByNumber(_ context.Context, orderNumber string) (*order.Order, error) {
	r.mu.RLock()
	e, ok := r.byID[r.byNumber[orderNumber]]
	r.mu.RUnlock()
	if !ok {
		return nil, order.ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	o := clone(e.order)
	return &o, nil
}

// Update locks the matched order for the duration of fn. Refunds recorded
// through the Tx are kept only if fn succeeds.
func (r *OrderRepository) Update(ctx context.Context, key order.LookupKey, fn order.UpdateFunc) (*order.Order, error) {
	e, ok := r.lookup(key)
	if !ok {
		return nil, order.ErrNotFound
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	work := clone(e.order)
	tx := &orderTx{committed: e.refunds, staged: make(map[string]order.Refund)}
	changed, err := fn(ctx, &work, tx)
	if err != nil {
		return nil, err
	}
	for id, rf := range tx.staged {
		e.refunds[id] = rf
	}
	if changed {
		e.order = work
	}
	out := clone(e.order)
	return &out, nil
}

func (r *OrderRepository) lookup(key order.LookupKey) (*orderEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if id, ok := r.byPaymentID[key.PaymentID]; ok && key.PaymentID != "" {
		return r.byID[id], true
	}
	if id, ok := r.byGatewayOrder[key.OrderID]; ok && key.OrderID != "" {
		return r.byID[id], true
	}
	return nil, false
}

type orderTx struct {
	committed map[string]order.Refund
	staged    map[string]order.Refund
}

func (tx *orderTx) RecordRefund(_ context.Context, rf order.Refund) (decimal.Decimal, error) {
	tx.staged[rf.GatewayRefundID] = rf

	total := decimal.Zero
	for id, c := range tx.committed {
		if _, ok := tx.staged[id]; ok {
			continue
		}
		if c.Status == order.GatewayCompleted {
			total = total.Add(c.Amount)
		}
	}
	for _, s := range tx.staged {
		if s.Status == order.GatewayCompleted {
			total = total.Add(s.Amount)
		}
	}
	return total, nil
}

func clone(o order.Order) order.Order {
	o.Items = append([]order.OrderItem(nil), o.Items...)
	if o.ProcessedAt != nil {
		t := *o.ProcessedAt
		o.ProcessedAt = &t
	}
	return o
}
