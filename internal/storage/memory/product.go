package memory

import (
	"context"

	"github.com/xenking/moto-storefront/internal/domain/product"
)

var _ product.Repository = (*ProductRepository)(nil)

// ProductRepository is a read-only in-memory catalog.
type ProductRepository struct {
	byID map[string]product.Product
}

// NewProductRepository returns a catalog holding products.
func NewProductRepository(products ...product.Product) *ProductRepository {
	byID := make(map[string]product.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}
	return &ProductRepository{byID: byID}
}

// GetByIDs returns the known products among ids; unknown ids are skipped.
func (r *ProductRepository) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	out := make([]product.Product, 0, len(ids))
	for _, id := range ids {
		if p, ok := r.byID[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}
