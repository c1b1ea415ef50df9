package catalog

import (
	"context"
)

// RepositoryPort abstracts persistence for the service.
type RepositoryPort interface {
	CreateProduct(ctx context.Context, sku, name, uom string) (Product, error)
	ListProducts(ctx context.Context) ([]Product, error)
	CreateBOM(ctx context.Context, productID string, items []BOMItemInput) (string, error)
	GetActiveBOM(ctx context.Context, productID string) (BOM, error)
}

// Service exposes catalog operations.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// CreateProduct registers a product.
func (s *Service) CreateProduct(ctx context.Context, sku, name, uom string) (Product, error) {
	if sku == "" || name == "" {
		return Product{}, ErrInvalidInput
	}
	return s.repo.CreateProduct(ctx, sku, name, uom)
}

// ListProducts returns all products.
func (s *Service) ListProducts(ctx context.Context) ([]Product, error) {
	return s.repo.ListProducts(ctx)
}

// CreateBOM registers a bill of materials for a product.
func (s *Service) CreateBOM(ctx context.Context, productID string, items []BOMItemInput) (string, error) {
	if productID == "" || len(items) == 0 {
		return "", ErrInvalidInput
	}
	for _, item := range items {
		if item.ComponentProductID == "" || !item.QtyPerUnit.IsPositive() {
			return "", ErrInvalidInput
		}
	}
	return s.repo.CreateBOM(ctx, productID, items)
}

// GetActiveBOM returns the active BOM for a product. This is the lookup the
// saga coordinator snapshots at MO creation time.
func (s *Service) GetActiveBOM(ctx context.Context, productID string) (BOM, error) {
	if productID == "" {
		return BOM{}, ErrInvalidInput
	}
	return s.repo.GetActiveBOM(ctx, productID)
}
