// Package mo owns the manufacturing order lifecycle: it snapshots the BOM at
// creation, fans work orders out, and drives component reservations against
// the inventory ledger, aggregating the per-line outcomes into a single MO
// state transition.
package mo

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/forgeline/forgeline/internal/catalog"
	"github.com/forgeline/forgeline/internal/inventory"
)

// Status enumerates manufacturing order states.
//
// PLANNED -> CONFIRMED -> RESERVATION_DONE; PLANNED|CONFIRMED -> BLOCKED ->
// PLANNED (manual unblock). BLOCKED is also where a failed reservation retry
// lands. Nothing transitions out of RESERVATION_DONE here; completion is a
// derived signal raised by the work order tracker.
type Status string

const (
	// StatusPlanned is the initial state.
	StatusPlanned Status = "PLANNED"
	// StatusConfirmed means the order is approved for fulfillment.
	StatusConfirmed Status = "CONFIRMED"
	// StatusReservationDone means every component reservation succeeded.
	StatusReservationDone Status = "RESERVATION_DONE"
	// StatusBlocked parks the order until a manual unblock.
	StatusBlocked Status = "BLOCKED"
)

// ManufacturingOrder is a request to produce a quantity of a product. The BOM
// snapshot is a deep copy frozen at creation time; later catalog changes never
// affect an existing order.
type ManufacturingOrder struct {
	ID                    string
	Number                string
	ProductID             string
	Quantity              int64
	BOMSnapshot           catalog.BOM
	Status                Status
	Reason                string
	CreatedBy             string
	IdempotencyKey        string
	IdempotencyKeyConfirm string
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// CreateInput describes an MO to create.
type CreateInput struct {
	ProductID      string
	Quantity       int64
	CreatedBy      string
	IdempotencyKey string
}

// CreateResult is the creation outcome. WOIDs holds the work orders created
// by the best-effort fan-out step; on an idempotent hit it is empty.
type CreateResult struct {
	MO         ManufacturingOrder
	WOIDs      []string
	Idempotent bool
}

// ConfirmResult is the confirmation outcome.
type ConfirmResult struct {
	MO         ManufacturingOrder
	Idempotent bool
}

// ReservationLine is the outcome of one component reservation attempt.
type ReservationLine struct {
	ComponentProductID string                   `json:"componentProductId"`
	Requested          decimal.Decimal          `json:"requested"`
	Status             inventory.ReserveStatus  `json:"status"`
	Reserved           decimal.Decimal          `json:"reserved"`
	Available          decimal.Decimal          `json:"available"`
	Error              string                   `json:"error,omitempty"`
}

// RetryReservationResult aggregates all per-line outcomes. Reservations that
// succeeded before a later line failed stay committed; the deterministic
// per-component idempotency keys make a whole-MO retry safe.
type RetryReservationResult struct {
	MO        ManufacturingOrder
	Succeeded bool
	Lines     []ReservationLine
}

// ErrNotFound indicates an unknown MO.
var ErrNotFound = errors.New("mo: manufacturing order not found")

// ErrInvalidInput indicates missing required fields.
var ErrInvalidInput = errors.New("mo: product id and positive quantity required")

// ErrBOMNotFound indicates the product has no active BOM to snapshot.
var ErrBOMNotFound = errors.New("mo: no active bom for product")

// ErrInvalidTransition indicates a state change the machine does not allow.
var ErrInvalidTransition = errors.New("mo: invalid status transition")
