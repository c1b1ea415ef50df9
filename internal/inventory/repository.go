package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/forgeline/forgeline/internal/outbox"
	"github.com/forgeline/forgeline/internal/platform/db"
	"github.com/forgeline/forgeline/internal/shared"
)

const idempotencyModule = "inventory"

// Repository persists ledger data in PostgreSQL.
type Repository struct {
	pool   *pgxpool.Pool
	guard  *shared.IdempotencyStore
	writer *outbox.Writer
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool, guard *shared.IdempotencyStore, writer *outbox.Writer) *Repository {
	return &Repository{pool: pool, guard: guard, writer: writer}
}

type txRepo struct {
	tx     pgx.Tx
	guard  *shared.IdempotencyStore
	writer *outbox.Writer
}

// WithTx wraps the callback in a read-committed transaction. A caller that
// waited on the row lock re-reads the winner's committed quantities once the
// lock is released, so concurrent reserves resolve to FAILED results rather
// than aborted transactions. Unique-constraint violations surface as
// ErrIdempotencyConflict so the service can retry once.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx, guard: r.guard, writer: r.writer})
	})
	if shared.IsUniqueViolation(err) {
		return shared.ErrIdempotencyConflict
	}
	return err
}

// GetByProduct lists records for a product across locations.
func (r *Repository) GetByProduct(ctx context.Context, productID string) ([]Record, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, product_id, location_id, qty_available, qty_reserved, updated_at
		 FROM inventory WHERE product_id=$1 ORDER BY location_id`, productID)
	if err != nil {
		return nil, fmt.Errorf("inventory: get by product: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.ProductID, &rec.LocationID, &rec.QtyAvailable, &rec.QtyReserved, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("inventory: scan record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ErrRecordNotFound
	}
	return records, nil
}

func (r *txRepo) GetRecordForUpdate(ctx context.Context, productID string) (Record, error) {
	var rec Record
	err := r.tx.QueryRow(ctx,
		`SELECT id, product_id, location_id, qty_available, qty_reserved, updated_at
		 FROM inventory WHERE product_id=$1 FOR UPDATE`, productID).
		Scan(&rec.ID, &rec.ProductID, &rec.LocationID, &rec.QtyAvailable, &rec.QtyReserved, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrRecordNotFound
		}
		return Record{}, fmt.Errorf("inventory: lock record: %w", err)
	}
	return rec, nil
}

func (r *txRepo) CreateRecord(ctx context.Context, productID, locationID string) (Record, error) {
	var rec Record
	err := r.tx.QueryRow(ctx,
		`INSERT INTO inventory (product_id, location_id, qty_available, qty_reserved)
		 VALUES ($1, $2, 0, 0)
		 RETURNING id, product_id, location_id, qty_available, qty_reserved, updated_at`,
		productID, locationID).
		Scan(&rec.ID, &rec.ProductID, &rec.LocationID, &rec.QtyAvailable, &rec.QtyReserved, &rec.UpdatedAt)
	if err != nil {
		return Record{}, fmt.Errorf("inventory: create record: %w", err)
	}
	return rec, nil
}

func (r *txRepo) UpdateQuantities(ctx context.Context, record Record) error {
	tag, err := r.tx.Exec(ctx,
		`UPDATE inventory SET qty_available=$2, qty_reserved=$3, updated_at=now() WHERE id=$1`,
		record.ID, record.QtyAvailable, record.QtyReserved)
	if err != nil {
		return fmt.Errorf("inventory: update quantities: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (r *txRepo) InsertStockTransaction(ctx context.Context, st StockTransaction) (int64, error) {
	var key any
	if st.IdempotencyKey != "" {
		key = st.IdempotencyKey
	}
	var id int64
	err := r.tx.QueryRow(ctx,
		`INSERT INTO stock_transactions
		 (product_id, change_qty, type, reference_type, reference_id, idempotency_key, balance_after)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		st.ProductID, st.ChangeQty, string(st.Type), st.ReferenceType, st.ReferenceID, key, st.BalanceAfter).
		Scan(&id)
	if err != nil {
		if shared.IsUniqueViolation(err) {
			return 0, shared.ErrIdempotencyConflict
		}
		return 0, fmt.Errorf("inventory: insert stock transaction: %w", err)
	}
	return id, nil
}

func (r *txRepo) LookupIdempotency(ctx context.Context, key string) (json.RawMessage, bool, error) {
	return r.guard.Lookup(ctx, r.tx, key, idempotencyModule)
}

func (r *txRepo) RecordIdempotency(ctx context.Context, key string, result any) error {
	return r.guard.Record(ctx, r.tx, key, idempotencyModule, result)
}

func (r *txRepo) AppendEvent(ctx context.Context, aggregateType, aggregateID, eventType string, payload any) error {
	return r.writer.Append(ctx, r.tx, aggregateType, aggregateID, eventType, payload)
}
