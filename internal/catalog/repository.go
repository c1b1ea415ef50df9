package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateProduct inserts a product and returns it.
func (r *Repository) CreateProduct(ctx context.Context, sku, name, uom string) (Product, error) {
	var p Product
	err := r.pool.QueryRow(ctx,
		`INSERT INTO products (sku, name, uom) VALUES ($1, $2, $3)
		 RETURNING id, sku, name, uom, created_at`,
		sku, name, uom).
		Scan(&p.ID, &p.SKU, &p.Name, &p.UOM, &p.CreatedAt)
	if err != nil {
		return Product{}, fmt.Errorf("catalog: create product: %w", err)
	}
	return p, nil
}

// ListProducts returns all products.
func (r *Repository) ListProducts(ctx context.Context) ([]Product, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, sku, name, uom, created_at FROM products ORDER BY sku`)
	if err != nil {
		return nil, fmt.Errorf("catalog: list products: %w", err)
	}
	defer rows.Close()

	var products []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &p.UOM, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("catalog: scan product: %w", err)
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// CreateBOM inserts a BOM header and its items in one transaction.
func (r *Repository) CreateBOM(ctx context.Context, productID string, items []BOMItemInput) (string, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return "", err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	// A product carries at most one active BOM; a new one supersedes it.
	if _, err := tx.Exec(ctx, `UPDATE boms SET is_active=false WHERE product_id=$1 AND is_active=true`, productID); err != nil {
		return "", fmt.Errorf("catalog: deactivate bom: %w", err)
	}

	var bomID string
	if err := tx.QueryRow(ctx, `INSERT INTO boms (product_id) VALUES ($1) RETURNING id`, productID).Scan(&bomID); err != nil {
		return "", fmt.Errorf("catalog: create bom: %w", err)
	}
	for _, item := range items {
		_, err := tx.Exec(ctx,
			`INSERT INTO bom_items (bom_id, component_product_id, qty_per_unit, operation_sequence, operation_name)
			 VALUES ($1, $2, $3, $4, $5)`,
			bomID, item.ComponentProductID, item.QtyPerUnit, item.OperationSequence, item.OperationName)
		if err != nil {
			return "", fmt.Errorf("catalog: create bom item: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return "", err
	}
	return bomID, nil
}

// GetActiveBOM returns the active BOM for a product with its items ordered by
// operation sequence.
func (r *Repository) GetActiveBOM(ctx context.Context, productID string) (BOM, error) {
	var bom BOM
	err := r.pool.QueryRow(ctx,
		`SELECT id, product_id, is_active, created_at FROM boms WHERE product_id=$1 AND is_active=true`,
		productID).
		Scan(&bom.ID, &bom.ProductID, &bom.IsActive, &bom.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return BOM{}, ErrNotFound
		}
		return BOM{}, fmt.Errorf("catalog: get bom: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, component_product_id, qty_per_unit, operation_sequence, COALESCE(operation_name, '')
		 FROM bom_items WHERE bom_id=$1 ORDER BY operation_sequence`, bom.ID)
	if err != nil {
		return BOM{}, fmt.Errorf("catalog: get bom items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item BOMItem
		if err := rows.Scan(&item.ID, &item.ComponentProductID, &item.QtyPerUnit, &item.OperationSequence, &item.OperationName); err != nil {
			return BOM{}, fmt.Errorf("catalog: scan bom item: %w", err)
		}
		bom.Items = append(bom.Items, item)
	}
	return bom, rows.Err()
}
