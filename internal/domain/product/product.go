package product

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Product is a catalog item as needed for pricing an order.
type Product struct {
	ID       string
	Name     string
	Price    decimal.Decimal
	Category string
}

// Repository is the catalog lookup used by checkout. Listing and filtering
// live in the catalog service, not here.
type Repository interface {
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
}
