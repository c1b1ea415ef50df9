package catalog

import (
	"context"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type memoryCatalogRepo struct {
	products map[string]Product
	boms     map[string]BOM
	nextID   int
}

func newMemoryCatalogRepo() *memoryCatalogRepo {
	return &memoryCatalogRepo{
		products: make(map[string]Product),
		boms:     make(map[string]BOM),
	}
}

func (r *memoryCatalogRepo) CreateProduct(ctx context.Context, sku, name, uom string) (Product, error) {
	r.nextID++
	p := Product{ID: fmt.Sprintf("prod-%d", r.nextID), SKU: sku, Name: name, UOM: uom}
	r.products[p.ID] = p
	return p, nil
}

func (r *memoryCatalogRepo) ListProducts(ctx context.Context) ([]Product, error) {
	var out []Product
	for _, p := range r.products {
		out = append(out, p)
	}
	return out, nil
}

func (r *memoryCatalogRepo) CreateBOM(ctx context.Context, productID string, items []BOMItemInput) (string, error) {
	r.nextID++
	bom := BOM{ID: fmt.Sprintf("bom-%d", r.nextID), ProductID: productID, IsActive: true}
	for _, item := range items {
		bom.Items = append(bom.Items, BOMItem{
			ComponentProductID: item.ComponentProductID,
			QtyPerUnit:         item.QtyPerUnit,
			OperationSequence:  item.OperationSequence,
			OperationName:      item.OperationName,
		})
	}
	r.boms[productID] = bom
	return bom.ID, nil
}

func (r *memoryCatalogRepo) GetActiveBOM(ctx context.Context, productID string) (BOM, error) {
	bom, ok := r.boms[productID]
	if !ok {
		return BOM{}, ErrNotFound
	}
	return bom, nil
}

func TestCreateProductValidation(t *testing.T) {
	svc := NewService(newMemoryCatalogRepo())

	_, err := svc.CreateProduct(context.Background(), "", "Widget", "pcs")
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.CreateProduct(context.Background(), "WID-1", "", "pcs")
	require.ErrorIs(t, err, ErrInvalidInput)

	p, err := svc.CreateProduct(context.Background(), "WID-1", "Widget", "pcs")
	require.NoError(t, err)
	require.NotEmpty(t, p.ID)
}

func TestCreateBOMValidation(t *testing.T) {
	svc := NewService(newMemoryCatalogRepo())

	_, err := svc.CreateBOM(context.Background(), "prod-1", nil)
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.CreateBOM(context.Background(), "prod-1", []BOMItemInput{
		{ComponentProductID: "comp-a", QtyPerUnit: decimal.Zero},
	})
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.CreateBOM(context.Background(), "prod-1", []BOMItemInput{
		{QtyPerUnit: decimal.NewFromInt(2)},
	})
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestGetActiveBOM(t *testing.T) {
	repo := newMemoryCatalogRepo()
	svc := NewService(repo)

	_, err := svc.GetActiveBOM(context.Background(), "prod-1")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = svc.CreateBOM(context.Background(), "prod-1", []BOMItemInput{
		{ComponentProductID: "comp-a", QtyPerUnit: decimal.NewFromInt(2), OperationSequence: 1},
	})
	require.NoError(t, err)

	bom, err := svc.GetActiveBOM(context.Background(), "prod-1")
	require.NoError(t, err)
	require.True(t, bom.IsActive)
	require.Len(t, bom.Items, 1)
}
