package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads and marks outbox rows for the relay.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListPending returns unpublished events in insertion order.
func (r *Repository) ListPending(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx,
		`SELECT id, event_id, aggregate_type, aggregate_id, event_type, payload, created_at
		 FROM outbox WHERE published_at IS NULL ORDER BY id LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("outbox: list pending: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var evt Event
		if err := rows.Scan(&evt.ID, &evt.EventID, &evt.AggregateType, &evt.AggregateID, &evt.EventType, &evt.Payload, &evt.CreatedAt); err != nil {
			return nil, fmt.Errorf("outbox: scan pending: %w", err)
		}
		events = append(events, evt)
	}
	return events, rows.Err()
}

// MarkPublished stamps the given events as relayed. The relay is at-least-once:
// a crash between publish and mark re-delivers on the next pass.
func (r *Repository) MarkPublished(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.pool.Exec(ctx, `UPDATE outbox SET published_at=$1 WHERE id = ANY($2)`, time.Now().UTC(), ids)
	if err != nil {
		return fmt.Errorf("outbox: mark published: %w", err)
	}
	return nil
}

// ListRecent returns the newest events, optionally filtered by aggregate type.
func (r *Repository) ListRecent(ctx context.Context, aggregateType string, limit int) ([]Event, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	query := `SELECT id, event_id, aggregate_type, aggregate_id, event_type, payload, created_at
		 FROM outbox WHERE ($1 = '' OR aggregate_type = $1) ORDER BY id DESC LIMIT $2`
	rows, err := r.pool.Query(ctx, query, aggregateType, limit)
	if err != nil {
		return nil, fmt.Errorf("outbox: list recent: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var evt Event
		if err := rows.Scan(&evt.ID, &evt.EventID, &evt.AggregateType, &evt.AggregateID, &evt.EventType, &evt.Payload, &evt.CreatedAt); err != nil {
			return nil, fmt.Errorf("outbox: scan recent: %w", err)
		}
		events = append(events, evt)
	}
	return events, rows.Err()
}
