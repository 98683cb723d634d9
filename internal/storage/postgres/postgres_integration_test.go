//go:build integration

package postgres

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xenking/moto-storefront/internal/domain/order"
	"github.com/xenking/moto-storefront/internal/domain/product"
)

func setupPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:17-alpine",
		tcpostgres.WithDatabase("moto_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := NewPool(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, RunMigrations(ctx, pool))
	require.NoError(t, RunMigrations(ctx, pool), "migrations must be re-runnable")
	return pool
}

func newPendingOrder(id, paymentID string) *order.Order {
	return &order.Order{
		ID:               id,
		OrderNumber:      "MS-" + paymentID,
		GatewayPaymentID: paymentID,
		GatewayOrderID:   "gord-" + paymentID,
		Items:            []order.OrderItem{{ProductID: "jkt-01", Quantity: 2}},
		Status:           order.StatusPending,
		PaymentStatus:    order.PaymentPending,
		TotalAmount:      decimal.RequireFromString("100.00"),
		RefundedAmount:   decimal.Zero,
	}
}

func TestPostgres(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	pool := setupPostgres(t)
	ctx := context.Background()
	orders := NewOrderRepository(pool)

	t.Run("products", func(t *testing.T) {
		products := NewProductRepository(pool)
		require.NoError(t, products.Upsert(ctx, product.Product{
			ID: "jkt-01", Name: "Jacket", Price: decimal.RequireFromString("249.90"), Category: "apparel",
		}))
		require.NoError(t, products.Upsert(ctx, product.Product{
			ID: "jkt-01", Name: "Touring Jacket", Price: decimal.RequireFromString("239.90"), Category: "apparel",
		}))

		got, err := products.GetByIDs(ctx, []string{"jkt-01", "missing"})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "Touring Jacket", got[0].Name)
		assert.True(t, decimal.RequireFromString("239.90").Equal(got[0].Price))
	})

	t.Run("create and get", func(t *testing.T) {
		o := newPendingOrder("6f0c3a8e-5a44-4a8f-9d1b-0a4b8f3f2c11", "pay_create")
		require.NoError(t, orders.Create(ctx, o))

		dup := newPendingOrder("0b1d0c7a-43d5-4c47-8d4e-5b9a9f0e7d22", "pay_create")
		dup.OrderNumber = "MS-other"
		dup.GatewayOrderID = ""
		assert.ErrorIs(t, orders.Create(ctx, dup), order.ErrDuplicatePaymentID)

		got, err := orders.GetByNumber(ctx, "MS-pay_create")
		require.NoError(t, err)
		assert.Equal(t, o.ID, got.ID)
		assert.Equal(t, order.StatusPending, got.Status)
		assert.Equal(t, o.Items, got.Items)
		assert.Nil(t, got.ProcessedAt)

		_, err = orders.GetByNumber(ctx, "MS-nope")
		assert.ErrorIs(t, err, order.ErrNotFound)
	})

	t.Run("update by gateway order id", func(t *testing.T) {
		require.NoError(t, orders.Create(ctx, newPendingOrder("1c2d3e4f-1111-4a8f-9d1b-0a4b8f3f2c11", "pay_upd")))

		now := time.Now().UTC().Truncate(time.Microsecond)
		updated, err := orders.Update(ctx, order.LookupKey{OrderID: "gord-pay_upd"},
			func(_ context.Context, o *order.Order, _ order.Tx) (bool, error) {
				o.Status = order.StatusConfirmed
				o.PaymentStatus = order.PaymentCaptured
				o.ProcessedAt = &now
				o.UpdatedAt = now
				return true, nil
			})
		require.NoError(t, err)
		assert.Equal(t, order.StatusConfirmed, updated.Status)

		got, err := orders.GetByNumber(ctx, "MS-pay_upd")
		require.NoError(t, err)
		assert.Equal(t, order.PaymentCaptured, got.PaymentStatus)
		require.NotNil(t, got.ProcessedAt)
		assert.True(t, now.Equal(*got.ProcessedAt))

		_, err = orders.Update(ctx, order.LookupKey{PaymentID: "pay_missing"},
			func(context.Context, *order.Order, order.Tx) (bool, error) { return true, nil })
		assert.ErrorIs(t, err, order.ErrNotFound)
	})

	t.Run("refund ledger", func(t *testing.T) {
		require.NoError(t, orders.Create(ctx, newPendingOrder("2d3e4f5a-2222-4a8f-9d1b-0a4b8f3f2c11", "pay_rf")))

		record := func(rf order.Refund) decimal.Decimal {
			var total decimal.Decimal
			_, err := orders.Update(ctx, order.LookupKey{PaymentID: "pay_rf"},
				func(ctx context.Context, _ *order.Order, tx order.Tx) (bool, error) {
					var err error
					total, err = tx.RecordRefund(ctx, rf)
					return false, err
				})
			require.NoError(t, err)
			return total
		}

		total := record(order.Refund{GatewayRefundID: "rf_1", Amount: decimal.RequireFromString("30.00"), Status: "PENDING"})
		assert.True(t, decimal.Zero.Equal(total))

		total = record(order.Refund{GatewayRefundID: "rf_1", Amount: decimal.RequireFromString("30.00"), Status: "COMPLETED"})
		assert.True(t, decimal.RequireFromString("30.00").Equal(total))

		total = record(order.Refund{GatewayRefundID: "rf_1", Amount: decimal.RequireFromString("30.00"), Status: "COMPLETED"})
		assert.True(t, decimal.RequireFromString("30.00").Equal(total), "redelivery must not double count")

		total = record(order.Refund{GatewayRefundID: "rf_2", Amount: decimal.RequireFromString("70.00"), Status: "COMPLETED"})
		assert.True(t, decimal.RequireFromString("100.00").Equal(total))
	})

	t.Run("concurrent updates serialize", func(t *testing.T) {
		require.NoError(t, orders.Create(ctx, newPendingOrder("3e4f5a6b-3333-4a8f-9d1b-0a4b8f3f2c11", "pay_conc")))

		const workers = 20
		var wg sync.WaitGroup
		for range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := orders.Update(ctx, order.LookupKey{PaymentID: "pay_conc"},
					func(_ context.Context, o *order.Order, _ order.Tx) (bool, error) {
						o.RefundedAmount = o.RefundedAmount.Add(decimal.NewFromInt(1))
						o.UpdatedAt = time.Now().UTC()
						return true, nil
					})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		got, err := orders.GetByNumber(ctx, "MS-pay_conc")
		require.NoError(t, err)
		assert.True(t, decimal.NewFromInt(workers).Equal(got.RefundedAmount), "got %s", got.RefundedAmount)
	})
}
