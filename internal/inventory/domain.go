// Package inventory owns per-product stock quantities and the append-only
// stock transaction ledger. Reserve and move are atomic check-and-mutate
// operations guarded by a row lock on a single inventory record.
package inventory

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultLocationID is used when a record is created lazily on first stock-in.
const DefaultLocationID = "00000000-0000-0000-0000-000000000000"

// TransactionType enumerates ledger entry kinds.
type TransactionType string

const (
	// TransactionTypeReserve marks quantity held for a reference, not consumed.
	TransactionTypeReserve TransactionType = "RESERVE"
	// TransactionTypeIn represents an inbound movement.
	TransactionTypeIn TransactionType = "IN"
	// TransactionTypeOut represents an outbound movement.
	TransactionTypeOut TransactionType = "OUT"
)

// Record is the quantity state for one product at one location.
// Invariant after every committed mutation: 0 <= QtyReserved <= QtyAvailable.
type Record struct {
	ID           string
	ProductID    string
	LocationID   string
	QtyAvailable decimal.Decimal
	QtyReserved  decimal.Decimal
	UpdatedAt    time.Time
}

// Available is the quantity free to reserve or issue.
func (r Record) Available() decimal.Decimal {
	return r.QtyAvailable.Sub(r.QtyReserved)
}

// StockTransaction is one immutable ledger entry. BalanceAfter is the
// available quantity immediately after the entry.
type StockTransaction struct {
	ID             int64
	ProductID      string
	ChangeQty      decimal.Decimal
	Type           TransactionType
	ReferenceType  string
	ReferenceID    string
	IdempotencyKey string
	BalanceAfter   decimal.Decimal
	CreatedAt      time.Time
}

// ReserveStatus tags the reserve outcome.
type ReserveStatus string

const (
	// ReserveStatusReserved means the full quantity was reserved.
	ReserveStatusReserved ReserveStatus = "RESERVED"
	// ReserveStatusFailed means available stock was insufficient. This is a
	// normal domain outcome, not an error.
	ReserveStatusFailed ReserveStatus = "FAILED"
)

// ReserveInput is a reservation request.
type ReserveInput struct {
	ProductID      string
	Qty            decimal.Decimal
	ReferenceType  string
	ReferenceID    string
	IdempotencyKey string
}

// ReserveResult is the tagged reserve outcome.
type ReserveResult struct {
	Status      ReserveStatus   `json:"status"`
	ReservedQty decimal.Decimal `json:"reservedQty"`
	Available   decimal.Decimal `json:"available"`
	Requested   decimal.Decimal `json:"requested"`
	Idempotent  bool            `json:"idempotent,omitempty"`
}

// MoveInput is an IN/OUT movement request.
type MoveInput struct {
	ProductID      string
	Qty            decimal.Decimal
	Type           TransactionType
	ReferenceType  string
	ReferenceID    string
	IdempotencyKey string
}

// MoveResult reports a committed movement.
type MoveResult struct {
	Status     string          `json:"status"`
	Type       TransactionType `json:"type"`
	Qty        decimal.Decimal `json:"qty"`
	Idempotent bool            `json:"idempotent,omitempty"`
}

// MoveStatusSuccess is the only success tag for Move.
const MoveStatusSuccess = "SUCCESS"

// ErrInvalidQuantity indicates qty was missing or not positive.
var ErrInvalidQuantity = errors.New("inventory: quantity must be positive")

// ErrMissingField indicates a required identifier was absent.
var ErrMissingField = errors.New("inventory: product, reference type and reference id required")

// ErrInvalidMoveType indicates a move type outside IN/OUT.
var ErrInvalidMoveType = errors.New("inventory: move type must be IN or OUT")

// ErrRecordNotFound indicates no inventory record exists for the product.
var ErrRecordNotFound = errors.New("inventory: record not found")

// ErrInsufficientStock indicates an OUT exceeding total on-hand quantity.
// The movement has no partial effect.
var ErrInsufficientStock = errors.New("inventory: insufficient stock")
