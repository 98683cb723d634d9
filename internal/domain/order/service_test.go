package order

import (
	"context"
	"regexp"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/moto-storefront/internal/domain/product"
)

// --- Mock implementations ---

type mockProductRepo struct {
	byID   map[string]product.Product
	getErr error
}

func (m *mockProductRepo) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	var out []product.Product
	for _, id := range ids {
		if p, ok := m.byID[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

type mockOrderRepo struct {
	lastOrder *Order
	err       error
}

func (m *mockOrderRepo) Create(_ context.Context, o *Order) error {
	m.lastOrder = o
	return m.err
}

func (m *mockOrderRepo) GetByNumber(_ context.Context, number string) (*Order, error) {
	if m.lastOrder != nil && m.lastOrder.OrderNumber == number {
		return m.lastOrder, nil
	}
	return nil, ErrNotFound
}

func (m *mockOrderRepo) Update(_ context.Context, _ LookupKey, _ UpdateFunc) (*Order, error) {
	return nil, ErrNotFound
}

// --- Helpers ---

func newProductRepo(products ...product.Product) *mockProductRepo {
	byID := make(map[string]product.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}
	return &mockProductRepo{byID: byID}
}

func jacket() product.Product {
	return product.Product{ID: "jkt-01", Name: "Leather Jacket", Price: decimal.RequireFromString("249.90"), Category: "apparel"}
}

func gloves() product.Product {
	return product.Product{ID: "glv-02", Name: "Racing Gloves", Price: decimal.RequireFromString("59.95"), Category: "apparel"}
}

var orderNumberPattern = regexp.MustCompile(`^MS-[A-Z2-7]{8}$`)

// --- Tests ---

func TestCheckout_EmptyItems(t *testing.T) {
	svc := NewService(newProductRepo(), &mockOrderRepo{})

	_, err := svc.Checkout(context.Background(), CheckoutRequest{GatewayPaymentID: "pay_1"})
	require.ErrorIs(t, err, ErrEmptyItems)
}

func TestCheckout_MissingPaymentID(t *testing.T) {
	svc := NewService(newProductRepo(jacket()), &mockOrderRepo{})

	_, err := svc.Checkout(context.Background(), CheckoutRequest{
		Items: []OrderItem{{ProductID: "jkt-01", Quantity: 1}},
	})
	require.ErrorIs(t, err, ErrMissingPaymentID)
}

func TestCheckout_InvalidQuantity(t *testing.T) {
	svc := NewService(newProductRepo(jacket()), &mockOrderRepo{})

	_, err := svc.Checkout(context.Background(), CheckoutRequest{
		Items:            []OrderItem{{ProductID: "jkt-01", Quantity: 0}},
		GatewayPaymentID: "pay_1",
	})

	var iqErr *InvalidQuantityError
	require.ErrorAs(t, err, &iqErr)
	assert.Equal(t, "jkt-01", iqErr.ProductID)
}

func TestCheckout_ProductNotFound(t *testing.T) {
	svc := NewService(newProductRepo(), &mockOrderRepo{})

	_, err := svc.Checkout(context.Background(), CheckoutRequest{
		Items:            []OrderItem{{ProductID: "missing", Quantity: 1}},
		GatewayPaymentID: "pay_1",
	})

	var pnfErr *ProductNotFoundError
	require.ErrorAs(t, err, &pnfErr)
	assert.Equal(t, "missing", pnfErr.ProductID)
}

func TestCheckout_CreatesPendingOrder(t *testing.T) {
	repo := &mockOrderRepo{}
	svc := NewService(newProductRepo(jacket(), gloves()), repo)

	o, err := svc.Checkout(context.Background(), CheckoutRequest{
		Items: []OrderItem{
			{ProductID: "jkt-01", Quantity: 1},
			{ProductID: "glv-02", Quantity: 2},
		},
		GatewayPaymentID: "pay_1",
		GatewayOrderID:   "gord_1",
	})
	require.NoError(t, err)

	assert.Same(t, o, repo.lastOrder)
	assert.NotEmpty(t, o.ID)
	assert.Regexp(t, orderNumberPattern, o.OrderNumber)
	assert.Equal(t, StatusPending, o.Status)
	assert.Equal(t, PaymentPending, o.PaymentStatus)
	assert.Equal(t, "pay_1", o.GatewayPaymentID)
	assert.Equal(t, "gord_1", o.GatewayOrderID)
	assert.True(t, decimal.RequireFromString("369.80").Equal(o.TotalAmount), "got %s", o.TotalAmount)
	assert.True(t, o.RefundedAmount.IsZero())
	assert.Nil(t, o.ProcessedAt)
}

func TestCheckout_ProductLookupError(t *testing.T) {
	svc := NewService(&mockProductRepo{getErr: errors.New("db down")}, &mockOrderRepo{})

	_, err := svc.Checkout(context.Background(), CheckoutRequest{
		Items:            []OrderItem{{ProductID: "jkt-01", Quantity: 1}},
		GatewayPaymentID: "pay_1",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "get products")
}

func TestCheckout_OrderCreateError(t *testing.T) {
	svc := NewService(newProductRepo(jacket()), &mockOrderRepo{err: ErrDuplicatePaymentID})

	_, err := svc.Checkout(context.Background(), CheckoutRequest{
		Items:            []OrderItem{{ProductID: "jkt-01", Quantity: 1}},
		GatewayPaymentID: "pay_1",
	})

	require.ErrorIs(t, err, ErrDuplicatePaymentID)
	assert.Contains(t, err.Error(), "create order")
}
