package jobs

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"
)

// Drainer pumps pending outbox rows to the event stream.
type Drainer interface {
	Drain(ctx context.Context) (int, error)
}

// NewOutboxRelayHandler returns the asynq handler for TaskOutboxRelay.
func NewOutboxRelayHandler(relay Drainer, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		published, err := relay.Drain(ctx)
		if err != nil {
			logger.Error("outbox relay drain", slog.Any("error", err))
			return err
		}
		if published > 0 {
			logger.Info("outbox relay drained", slog.Int("published", published))
		}
		return nil
	}
}
