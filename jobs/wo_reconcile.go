package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/forgeline/forgeline/internal/catalog"
)

// WorkOrderCreator creates one work order for a manufacturing order.
type WorkOrderCreator interface {
	CreateWorkOrder(ctx context.Context, moID, operationName string, sequence int) (string, error)
}

// WOReconciler recreates work orders that a partial fan-out failed to create.
// Creation is keyed by (mo, sequence), so a reconciliation pass that races
// the fan-out is harmless.
type WOReconciler struct {
	pool   *pgxpool.Pool
	wos    WorkOrderCreator
	logger *slog.Logger
}

// NewWOReconciler constructs WOReconciler.
func NewWOReconciler(pool *pgxpool.Pool, wos WorkOrderCreator, logger *slog.Logger) *WOReconciler {
	return &WOReconciler{pool: pool, wos: wos, logger: logger}
}

// Run scans for manufacturing orders with fewer work orders than BOM lines
// and creates the missing ones. Returns the number created.
func (r *WOReconciler) Run(ctx context.Context) (int, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT m.id, m.bom_snapshot
		 FROM manufacturing_orders m
		 WHERE jsonb_array_length(m.bom_snapshot->'items') >
		       (SELECT count(*) FROM work_orders w WHERE w.mo_id = m.id)`)
	if err != nil {
		return 0, fmt.Errorf("jobs: list incomplete mos: %w", err)
	}
	defer rows.Close()

	type incompleteMO struct {
		id       string
		snapshot []byte
	}
	var pending []incompleteMO
	for rows.Next() {
		var mo incompleteMO
		if err := rows.Scan(&mo.id, &mo.snapshot); err != nil {
			return 0, fmt.Errorf("jobs: scan incomplete mo: %w", err)
		}
		pending = append(pending, mo)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	created := 0
	for _, mo := range pending {
		n, err := r.reconcileOne(ctx, mo.id, mo.snapshot)
		if err != nil {
			r.logger.Error("reconcile work orders", slog.String("mo_id", mo.id), slog.Any("error", err))
			continue
		}
		created += n
	}
	return created, nil
}

func (r *WOReconciler) reconcileOne(ctx context.Context, moID string, snapshot []byte) (int, error) {
	var bom catalog.BOM
	if err := json.Unmarshal(snapshot, &bom); err != nil {
		return 0, fmt.Errorf("jobs: decode bom snapshot: %w", err)
	}

	rows, err := r.pool.Query(ctx, `SELECT sequence FROM work_orders WHERE mo_id=$1`, moID)
	if err != nil {
		return 0, fmt.Errorf("jobs: list existing work orders: %w", err)
	}
	defer rows.Close()

	existing := make(map[int]bool)
	for rows.Next() {
		var seq int
		if err := rows.Scan(&seq); err != nil {
			return 0, err
		}
		existing[seq] = true
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	created := 0
	for _, item := range bom.Items {
		if existing[item.OperationSequence] {
			continue
		}
		name := item.OperationName
		if name == "" {
			name = "operation"
		}
		if _, err := r.wos.CreateWorkOrder(ctx, moID, name, item.OperationSequence); err != nil {
			return created, err
		}
		created++
	}
	return created, nil
}

// NewWOReconcileHandler returns the asynq handler for TaskWOReconcile.
func NewWOReconcileHandler(reconciler *WOReconciler, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		created, err := reconciler.Run(ctx)
		if err != nil {
			return err
		}
		if created > 0 {
			logger.Info("work orders reconciled", slog.Int("created", created))
		}
		return nil
	}
}
