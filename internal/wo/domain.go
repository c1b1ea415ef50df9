// Package wo tracks execution state of the work orders belonging to a
// manufacturing order and raises the derived completion signal when the last
// one finishes.
package wo

import (
	"errors"
	"time"
)

// Status enumerates work order states.
type Status string

const (
	// StatusPlanned is the initial state.
	StatusPlanned Status = "PLANNED"
	// StatusInProgress means execution started.
	StatusInProgress Status = "IN_PROGRESS"
	// StatusCompleted is terminal.
	StatusCompleted Status = "COMPLETED"
	// StatusCanceled is terminal.
	StatusCanceled Status = "CANCELED"
)

// WorkOrder is one operation step within an MO's production plan.
type WorkOrder struct {
	ID            string
	MOID          string
	OperationName string
	Sequence      int
	WorkCenterID  string
	Status        Status
	AssigneeID    string
	StartedAt     *time.Time
	CompletedAt   *time.Time
	ActualMinutes float64
	CreatedAt     time.Time
}

// CreateInput describes a work order to create.
type CreateInput struct {
	MOID          string
	OperationName string
	Sequence      int
	WorkCenterID  string
}

// ErrNotFound indicates an unknown work order.
var ErrNotFound = errors.New("wo: work order not found")

// ErrInvalidInput indicates missing required fields.
var ErrInvalidInput = errors.New("wo: mo id and operation name required")

// ErrInvalidTransition indicates a state change the machine does not allow.
var ErrInvalidTransition = errors.New("wo: invalid status transition")
