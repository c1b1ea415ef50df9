package wo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/forgeline/forgeline/internal/outbox"
	"github.com/forgeline/forgeline/internal/platform/db"
)

// Repository persists work orders in PostgreSQL.
type Repository struct {
	pool   *pgxpool.Pool
	writer *outbox.Writer
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool, writer *outbox.Writer) *Repository {
	return &Repository{pool: pool, writer: writer}
}

type txRepo struct {
	tx     pgx.Tx
	writer *outbox.Writer
}

// WithTx wraps the callback in a read-committed transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx, writer: r.writer})
	})
}

const woColumns = `id, mo_id, operation_name, sequence, COALESCE(work_center_id::text, ''), status,
	COALESCE(assignee_id::text, ''), started_at, completed_at, COALESCE(actual_minutes, 0), created_at`

func scanWorkOrder(row pgx.Row) (WorkOrder, error) {
	var wo WorkOrder
	err := row.Scan(&wo.ID, &wo.MOID, &wo.OperationName, &wo.Sequence, &wo.WorkCenterID, &wo.Status,
		&wo.AssigneeID, &wo.StartedAt, &wo.CompletedAt, &wo.ActualMinutes, &wo.CreatedAt)
	return wo, err
}

// Create inserts a planned work order.
func (r *Repository) Create(ctx context.Context, input CreateInput) (WorkOrder, error) {
	var workCenter any
	if input.WorkCenterID != "" {
		workCenter = input.WorkCenterID
	}
	row := r.pool.QueryRow(ctx,
		`INSERT INTO work_orders (mo_id, operation_name, sequence, work_center_id, status)
		 VALUES ($1, $2, $3, $4, 'PLANNED')
		 RETURNING `+woColumns,
		input.MOID, input.OperationName, input.Sequence, workCenter)
	wo, err := scanWorkOrder(row)
	if err != nil {
		return WorkOrder{}, fmt.Errorf("wo: create: %w", err)
	}
	return wo, nil
}

// ListByMO lists work orders for an MO ordered by sequence.
func (r *Repository) ListByMO(ctx context.Context, moID string) ([]WorkOrder, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+woColumns+` FROM work_orders WHERE mo_id=$1 ORDER BY sequence`, moID)
	if err != nil {
		return nil, fmt.Errorf("wo: list by mo: %w", err)
	}
	defer rows.Close()

	var wos []WorkOrder
	for rows.Next() {
		wo, err := scanWorkOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("wo: scan: %w", err)
		}
		wos = append(wos, wo)
	}
	return wos, rows.Err()
}

func (r *txRepo) GetForUpdate(ctx context.Context, id string) (WorkOrder, error) {
	row := r.tx.QueryRow(ctx,
		`SELECT `+woColumns+` FROM work_orders WHERE id=$1 FOR UPDATE`, id)
	wo, err := scanWorkOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return WorkOrder{}, ErrNotFound
		}
		return WorkOrder{}, fmt.Errorf("wo: lock: %w", err)
	}
	return wo, nil
}

// LockMO takes the parent manufacturing order's row lock, serializing
// completions of sibling work orders for the fan-in count.
func (r *txRepo) LockMO(ctx context.Context, moID string) error {
	var id string
	err := r.tx.QueryRow(ctx,
		`SELECT id FROM manufacturing_orders WHERE id=$1 FOR UPDATE`, moID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("wo: lock mo: %w", err)
	}
	return nil
}

func (r *txRepo) Update(ctx context.Context, wo WorkOrder) error {
	var assignee any
	if wo.AssigneeID != "" {
		assignee = wo.AssigneeID
	}
	tag, err := r.tx.Exec(ctx,
		`UPDATE work_orders
		 SET status=$2, assignee_id=$3, started_at=$4, completed_at=$5, actual_minutes=$6
		 WHERE id=$1`,
		wo.ID, wo.Status, assignee, wo.StartedAt, wo.CompletedAt, wo.ActualMinutes)
	if err != nil {
		return fmt.Errorf("wo: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *txRepo) CountOpenSiblings(ctx context.Context, moID string) (int, error) {
	var count int
	err := r.tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM work_orders WHERE mo_id=$1 AND status <> 'COMPLETED'`, moID).
		Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("wo: count open siblings: %w", err)
	}
	return count, nil
}

func (r *txRepo) AppendEvent(ctx context.Context, aggregateType, aggregateID, eventType string, payload any) error {
	return r.writer.Append(ctx, r.tx, aggregateType, aggregateID, eventType, payload)
}
