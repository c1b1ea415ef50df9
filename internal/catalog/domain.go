// Package catalog holds the product and bill-of-materials master data the
// saga coordinator snapshots from. It is a thin collaborator: no stock or
// lifecycle logic lives here.
package catalog

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Product is a sellable or manufacturable item.
type Product struct {
	ID        string
	SKU       string
	Name      string
	UOM       string
	CreatedAt time.Time
}

// BOM is the active bill of materials for a product.
type BOM struct {
	ID        string    `json:"id"`
	ProductID string    `json:"productId"`
	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
	Items     []BOMItem `json:"items"`
}

// BOMItem is one component line. QtyPerUnit is the component quantity needed
// to produce one unit of the parent product.
type BOMItem struct {
	ID                 string          `json:"id"`
	ComponentProductID string          `json:"componentProductId"`
	QtyPerUnit         decimal.Decimal `json:"qtyPerUnit"`
	OperationSequence  int             `json:"operationSequence"`
	OperationName      string          `json:"operationName,omitempty"`
}

// BOMItemInput describes one line of a BOM being created.
type BOMItemInput struct {
	ComponentProductID string
	QtyPerUnit         decimal.Decimal
	OperationSequence  int
	OperationName      string
}

// ErrNotFound indicates a missing product or active BOM.
var ErrNotFound = errors.New("catalog: not found")

// ErrInvalidInput indicates missing required fields.
var ErrInvalidInput = errors.New("catalog: invalid input")
