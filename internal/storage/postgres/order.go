package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/moto-storefront/internal/domain/order"
)

const (
	orderColumns = `id, order_number, gateway_payment_id, COALESCE(gateway_order_id, ''), items,
	status, payment_status, total_amount, refunded_amount, processed_at, created_at, updated_at`

	createOrderSQL = `INSERT INTO orders (id, order_number, gateway_payment_id, gateway_order_id, items,
	status, payment_status, total_amount, refunded_amount, created_at, updated_at)
	VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9, $10, $10)`

	getOrderByNumberSQL = `SELECT ` + orderColumns + ` FROM orders WHERE order_number = $1`

	lockByPaymentIDSQL = `SELECT ` + orderColumns + ` FROM orders WHERE gateway_payment_id = $1 FOR UPDATE`

	lockByGatewayOrderIDSQL = `SELECT ` + orderColumns + ` FROM orders WHERE gateway_order_id = $1 FOR UPDATE`

	updateOrderSQL = `UPDATE orders
	SET status = $2, payment_status = $3, refunded_amount = $4, processed_at = $5, updated_at = $6
	WHERE id = $1`

	upsertRefundSQL = `INSERT INTO order_refunds (gateway_refund_id, order_id, amount, status)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (gateway_refund_id) DO UPDATE
	SET amount = EXCLUDED.amount, status = EXCLUDED.status, updated_at = now()`

	sumCompletedRefundsSQL = `SELECT COALESCE(SUM(amount), 0) FROM order_refunds
	WHERE order_id = $1 AND status = $2`

	uniqueViolation     = "23505"
	paymentIDConstraint = "orders_gateway_payment_id_key"
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL. Updates
// lock the order row for the duration of a transaction, so concurrent
// deliveries for the same order are applied one after another.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists a new order. The order items are serialized to JSON for
// storage in the JSONB column.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	itemsJSON, err := json.Marshal(o.Items)
	if err != nil {
		return errors.Wrap(err, "marshal order items")
	}

	created := o.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err = r.pool.Exec(ctx, createOrderSQL,
		o.ID, o.OrderNumber, o.GatewayPaymentID, o.GatewayOrderID, itemsJSON,
		string(o.Status), string(o.PaymentStatus), o.TotalAmount, o.RefundedAmount, created,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == paymentIDConstraint {
			return order.ErrDuplicatePaymentID
		}
		return errors.Wrapf(err, "create order %q", o.ID)
	}
	return nil
}

// GetByNumber returns the order with the given order number.
func (r *OrderRepository) GetByNumber(ctx context.Context, orderNumber string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, getOrderByNumberSQL, orderNumber)
	if err != nil {
		return nil, errors.Wrapf(err, "get order %q", orderNumber)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get order %q", orderNumber)
	}
	return &o, nil
}

// Update locks the order matching key with SELECT ... FOR UPDATE, runs fn
// and writes the result in the same transaction. Refunds recorded through
// the Tx commit or roll back together with the order.
func (r *OrderRepository) Update(ctx context.Context, key order.LookupKey, fn order.UpdateFunc) (*order.Order, error) {
	var out *order.Order
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		o, err := lockOrder(ctx, tx, key)
		if err != nil {
			return err
		}

		changed, err := fn(ctx, o, &orderTx{tx: tx, orderID: o.ID})
		if err != nil {
			return err
		}
		if changed {
			if _, err := tx.Exec(ctx, updateOrderSQL,
				o.ID, string(o.Status), string(o.PaymentStatus), o.RefundedAmount, o.ProcessedAt, o.UpdatedAt,
			); err != nil {
				return errors.Wrapf(err, "update order %q", o.ID)
			}
		}
		out = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func lockOrder(ctx context.Context, tx pgx.Tx, key order.LookupKey) (*order.Order, error) {
	lookups := []struct {
		query string
		arg   string
	}{
		{lockByPaymentIDSQL, key.PaymentID},
		{lockByGatewayOrderIDSQL, key.OrderID},
	}
	for _, l := range lookups {
		if l.arg == "" {
			continue
		}
		rows, err := tx.Query(ctx, l.query, l.arg)
		if err != nil {
			return nil, errors.Wrap(err, "lock order")
		}
		o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			continue
		case err != nil:
			return nil, errors.Wrap(err, "lock order")
		}
		return &o, nil
	}
	return nil, order.ErrNotFound
}

type orderTx struct {
	tx      pgx.Tx
	orderID string
}

func (t *orderTx) RecordRefund(ctx context.Context, rf order.Refund) (decimal.Decimal, error) {
	if _, err := t.tx.Exec(ctx, upsertRefundSQL, rf.GatewayRefundID, t.orderID, rf.Amount, rf.Status); err != nil {
		return decimal.Zero, errors.Wrapf(err, "upsert refund %q", rf.GatewayRefundID)
	}
	var total decimal.Decimal
	if err := t.tx.QueryRow(ctx, sumCompletedRefundsSQL, t.orderID, order.GatewayCompleted).Scan(&total); err != nil {
		return decimal.Zero, errors.Wrap(err, "sum refunds")
	}
	return total, nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o             order.Order
		items         []byte
		status        string
		paymentStatus string
	)
	err := row.Scan(
		&o.ID, &o.OrderNumber, &o.GatewayPaymentID, &o.GatewayOrderID, &items,
		&status, &paymentStatus, &o.TotalAmount, &o.RefundedAmount, &o.ProcessedAt, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return o, err
	}
	o.Status = order.Status(status)
	o.PaymentStatus = order.PaymentStatus(paymentStatus)
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return o, errors.Wrap(err, "unmarshal order items")
	}
	return o, nil
}
