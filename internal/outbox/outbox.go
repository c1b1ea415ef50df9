// Package outbox implements the transactional outbox: every business mutation
// that should surface a domain event appends exactly one row using the same
// transaction as the mutation itself, so events and state never diverge.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/forgeline/forgeline/internal/platform/db"
)

// Aggregate types used across the system.
const (
	AggregateInventory          = "INVENTORY"
	AggregateManufacturingOrder = "MANUFACTURING_ORDER"
	AggregateWorkOrder          = "WORK_ORDER"
)

// Event types published through the outbox.
const (
	EventMOCreated              = "MO_CREATED"
	EventWOsCreated             = "WOS_CREATED"
	EventMOConfirmed            = "MO_CONFIRMED"
	EventMOBlocked              = "MO_BLOCKED"
	EventMOUnblocked            = "MO_UNBLOCKED"
	EventMOCompleted            = "MO_COMPLETED"
	EventStockReserved          = "STOCK_RESERVED"
	EventStockReservationFailed = "STOCK_RESERVATION_FAILED"
	EventStockIn                = "STOCK_IN"
	EventStockOut               = "STOCK_OUT"
	EventWOStarted              = "WO_STARTED"
	EventWOCompleted            = "WO_COMPLETED"
)

// Event is one outbox row. Payload is opaque to the writer. EventID is
// globally unique and travels with the published message so consumers can
// deduplicate redeliveries.
type Event struct {
	ID            int64
	EventID       string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       json.RawMessage
	CreatedAt     time.Time
}

// Writer appends events inside caller-owned transactions.
type Writer struct{}

// NewWriter constructs a Writer.
func NewWriter() *Writer {
	return &Writer{}
}

// Append inserts one event row using q, which must be the transaction of the
// mutation the event describes.
func (w *Writer) Append(ctx context.Context, q db.Querier, aggregateType, aggregateID, eventType string, payload any) error {
	if aggregateType == "" || aggregateID == "" || eventType == "" {
		return fmt.Errorf("outbox: aggregate type, aggregate id and event type required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("outbox: marshal payload: %w", err)
	}
	_, err = q.Exec(ctx,
		`INSERT INTO outbox (event_id, aggregate_type, aggregate_id, event_type, payload) VALUES ($1, $2, $3, $4, $5)`,
		uuid.NewString(), aggregateType, aggregateID, eventType, data)
	if err != nil {
		return fmt.Errorf("outbox: append %s: %w", eventType, err)
	}
	return nil
}
