package mo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/forgeline/forgeline/internal/catalog"
	"github.com/forgeline/forgeline/internal/outbox"
	"github.com/forgeline/forgeline/internal/platform/db"
	"github.com/forgeline/forgeline/internal/shared"
)

const moColumns = `id, mo_number, product_id, quantity, bom_snapshot, status,
	COALESCE(reason,''), COALESCE(created_by,''), COALESCE(idempotency_key,''),
	COALESCE(idempotency_key_confirm,''), created_at, updated_at`

// Repository persists manufacturing orders in PostgreSQL. The BOM snapshot is
// stored as jsonb so the frozen copy survives any later catalog edits.
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

// WithTx wraps the callback in a read-committed transaction. A duplicate
// idempotency key losing the insert race surfaces as ErrIdempotencyConflict.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx, writer: r.writer})
	})
	if shared.IsUniqueViolation(err) {
		return shared.ErrIdempotencyConflict
	}
	return err
}

func scanMO(row pgx.Row) (ManufacturingOrder, error) {
	var (
		mo       ManufacturingOrder
		snapshot []byte
	)
	err := row.Scan(&mo.ID, &mo.Number, &mo.ProductID, &mo.Quantity, &snapshot, &mo.Status,
		&mo.Reason, &mo.CreatedBy, &mo.IdempotencyKey, &mo.IdempotencyKeyConfirm,
		&mo.CreatedAt, &mo.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ManufacturingOrder{}, ErrNotFound
		}
		return ManufacturingOrder{}, fmt.Errorf("mo: scan: %w", err)
	}
	var bom catalog.BOM
	if err := json.Unmarshal(snapshot, &bom); err != nil {
		return ManufacturingOrder{}, fmt.Errorf("mo: decode bom snapshot: %w", err)
	}
	mo.BOMSnapshot = bom
	return mo, nil
}

// GetByID fetches one manufacturing order.
func (r *Repository) GetByID(ctx context.Context, id string) (ManufacturingOrder, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+moColumns+` FROM manufacturing_orders WHERE id=$1`, id)
	return scanMO(row)
}

// GetByIdempotencyKey fetches the order created under the given key, if any.
func (r *Repository) GetByIdempotencyKey(ctx context.Context, key string) (ManufacturingOrder, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+moColumns+` FROM manufacturing_orders WHERE idempotency_key=$1`, key)
	return scanMO(row)
}

// GetByConfirmKey fetches the order only if it was already confirmed under
// the given key.
func (r *Repository) GetByConfirmKey(ctx context.Context, id, key string) (ManufacturingOrder, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+moColumns+` FROM manufacturing_orders
		 WHERE id=$1 AND idempotency_key_confirm=$2`, id, key)
	return scanMO(row)
}

// List returns orders newest first.
func (r *Repository) List(ctx context.Context) ([]ManufacturingOrder, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+moColumns+` FROM manufacturing_orders ORDER BY created_at DESC LIMIT 200`)
	if err != nil {
		return nil, fmt.Errorf("mo: list: %w", err)
	}
	defer rows.Close()

	var orders []ManufacturingOrder
	for rows.Next() {
		mo, err := scanMO(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, mo)
	}
	return orders, rows.Err()
}

// AllocateNumber draws the next value from the MO number sequence.
func (t *txRepo) AllocateNumber(ctx context.Context) (int64, error) {
	var seq int64
	if err := t.tx.QueryRow(ctx, `SELECT nextval('mo_number_seq')`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("mo: allocate number: %w", err)
	}
	return seq, nil
}

// Insert persists a new order and returns it with generated fields filled in.
func (t *txRepo) Insert(ctx context.Context, mo ManufacturingOrder) (ManufacturingOrder, error) {
	snapshot, err := json.Marshal(mo.BOMSnapshot)
	if err != nil {
		return ManufacturingOrder{}, fmt.Errorf("mo: encode bom snapshot: %w", err)
	}
	row := t.tx.QueryRow(ctx,
		`INSERT INTO manufacturing_orders
		   (mo_number, product_id, quantity, bom_snapshot, status, created_by, idempotency_key)
		 VALUES ($1,$2,$3,$4,$5,NULLIF($6,''),NULLIF($7,''))
		 RETURNING `+moColumns,
		mo.Number, mo.ProductID, mo.Quantity, snapshot, mo.Status, mo.CreatedBy, mo.IdempotencyKey)
	inserted, err := scanMO(row)
	if err != nil {
		if shared.IsUniqueViolation(err) {
			return ManufacturingOrder{}, shared.ErrIdempotencyConflict
		}
		return ManufacturingOrder{}, err
	}
	return inserted, nil
}

// GetForUpdate locks one order row for the duration of the transaction.
func (t *txRepo) GetForUpdate(ctx context.Context, id string) (ManufacturingOrder, error) {
	row := t.tx.QueryRow(ctx,
		`SELECT `+moColumns+` FROM manufacturing_orders WHERE id=$1 FOR UPDATE`, id)
	return scanMO(row)
}

// Update writes back status, reason and the confirm key.
func (t *txRepo) Update(ctx context.Context, mo ManufacturingOrder) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE manufacturing_orders
		 SET status=$2, reason=NULLIF($3,''), idempotency_key_confirm=NULLIF($4,''), updated_at=now()
		 WHERE id=$1`,
		mo.ID, mo.Status, mo.Reason, mo.IdempotencyKeyConfirm)
	if err != nil {
		if shared.IsUniqueViolation(err) {
			return shared.ErrIdempotencyConflict
		}
		return fmt.Errorf("mo: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendEvent writes an outbox row in the same transaction.
func (t *txRepo) AppendEvent(ctx context.Context, aggregateType, aggregateID, eventType string, payload any) error {
	return t.writer.Append(ctx, t.tx, aggregateType, aggregateID, eventType, payload)
}
