package order

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/moto-storefront/internal/domain/product"
)

// Sentinel errors for checkout validation.
var (
	ErrEmptyItems       = errors.New("items required")
	ErrMissingPaymentID = errors.New("gateway payment id required")
)

// ProductNotFoundError indicates a requested product does not exist.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

// InvalidQuantityError indicates a line item has a non-positive quantity.
type InvalidQuantityError struct {
	ProductID string
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for product %s", e.ProductID)
}

// CheckoutRequest holds the input for creating a pending order.
type CheckoutRequest struct {
	Items            []OrderItem
	GatewayPaymentID string
	GatewayOrderID   string
}

// Service encapsulates checkout and order lookups for the storefront.
type Service struct {
	products product.Repository
	orders   Repository
	now      func() time.Time
}

// NewService creates an order Service with the required domain dependencies.
func NewService(products product.Repository, orders Repository) *Service {
	return &Service{
		products: products,
		orders:   orders,
		now:      time.Now,
	}
}

// Checkout validates items, prices them from the catalog in a single batch,
// and persists a PENDING/PENDING order bound to the gateway payment.
func (s *Service) Checkout(ctx context.Context, req CheckoutRequest) (*Order, error) {
	if len(req.Items) == 0 {
		return nil, ErrEmptyItems
	}
	if req.GatewayPaymentID == "" {
		return nil, ErrMissingPaymentID
	}

	ids := make([]string, len(req.Items))
	for i, item := range req.Items {
		if item.Quantity <= 0 {
			return nil, &InvalidQuantityError{ProductID: item.ProductID}
		}
		ids[i] = item.ProductID
	}

	fetched, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}
	prices := make(map[string]decimal.Decimal, len(fetched))
	for _, p := range fetched {
		prices[p.ID] = p.Price
	}

	total := decimal.Zero
	for _, item := range req.Items {
		price, ok := prices[item.ProductID]
		if !ok {
			return nil, &ProductNotFoundError{ProductID: item.ProductID}
		}
		total = total.Add(price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}

	number, err := newOrderNumber()
	if err != nil {
		return nil, errors.Wrap(err, "generate order number")
	}

	now := s.now().UTC()
	o := &Order{
		ID:               uuid.New().String(),
		OrderNumber:      number,
		GatewayPaymentID: req.GatewayPaymentID,
		GatewayOrderID:   req.GatewayOrderID,
		Items:            req.Items,
		Status:           StatusPending,
		PaymentStatus:    PaymentPending,
		TotalAmount:      total.Round(2),
		RefundedAmount:   decimal.Zero,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.orders.Create(ctx, o); err != nil {
		return nil, errors.Wrap(err, "create order")
	}
	return o, nil
}

// GetByNumber returns the order identified by its human-readable number.
func (s *Service) GetByNumber(ctx context.Context, orderNumber string) (*Order, error) {
	return s.orders.GetByNumber(ctx, orderNumber)
}

var orderNumberEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// newOrderNumber returns a reference like "MS-K3J9QF2A".
func newOrderNumber() (string, error) {
	var b [5]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return "MS-" + orderNumberEncoding.EncodeToString(b[:]), nil
}
