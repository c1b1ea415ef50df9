package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// KeyExpirer removes idempotency keys older than the given age.
type KeyExpirer interface {
	Cleanup(ctx context.Context, olderThan time.Duration) error
}

// NewIdempotencyCleanupHandler returns the asynq handler for
// TaskIdempotencyCleanup. Keys are retained for ttl before expiry.
func NewIdempotencyCleanupHandler(store KeyExpirer, ttl time.Duration, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		if err := store.Cleanup(ctx, ttl); err != nil {
			logger.Error("idempotency cleanup", slog.Any("error", err))
			return err
		}
		return nil
	}
}
