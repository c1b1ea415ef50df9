package shared

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/forgeline/forgeline/internal/platform/db"
)

// ErrIdempotencyConflict indicates a concurrent request committed the same key first.
var ErrIdempotencyConflict = errors.New("idempotent request already processed")

// IdempotencyStore deduplicates operations on a caller-supplied key and keeps
// the prior outcome so retries observe exactly the first result. Lookup and
// Record run against the caller's Querier so the key commits atomically with
// the mutation it guards.
type IdempotencyStore struct {
	pool *pgxpool.Pool
}

// NewIdempotencyStore constructs the store. The pool is used only for Cleanup;
// per-operation calls receive the active transaction.
func NewIdempotencyStore(pool *pgxpool.Pool) *IdempotencyStore {
	return &IdempotencyStore{pool: pool}
}

// Lookup returns the stored outcome for key within module, if one exists.
func (s *IdempotencyStore) Lookup(ctx context.Context, q db.Querier, key, module string) (json.RawMessage, bool, error) {
	if key == "" {
		return nil, false, errors.New("idempotency key required")
	}
	var result json.RawMessage
	err := q.QueryRow(ctx, `SELECT result FROM idempotency_keys WHERE key=$1 AND module=$2`, key, module).Scan(&result)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("idempotency lookup: %w", err)
	}
	return result, true, nil
}

// Record stores the outcome for key. The unique constraint turns a concurrent
// duplicate into ErrIdempotencyConflict; callers retry the whole operation once.
func (s *IdempotencyStore) Record(ctx context.Context, q db.Querier, key, module string, result any) error {
	if key == "" {
		return errors.New("idempotency key required")
	}
	if module == "" {
		return errors.New("idempotency module required")
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("idempotency marshal result: %w", err)
	}
	_, err = q.Exec(ctx, `INSERT INTO idempotency_keys (key, module, result, created_at) VALUES ($1, $2, $3, $4)`,
		key, module, payload, time.Now().UTC())
	if err != nil {
		if IsUniqueViolation(err) {
			return ErrIdempotencyConflict
		}
		return fmt.Errorf("idempotency record: %w", err)
	}
	return nil
}

// Cleanup removes entries older than retention.
func (s *IdempotencyStore) Cleanup(ctx context.Context, olderThan time.Duration) error {
	if s == nil || s.pool == nil {
		return nil
	}
	cutoff := time.Now().Add(-olderThan)
	_, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE created_at < $1`, cutoff)
	return err
}
