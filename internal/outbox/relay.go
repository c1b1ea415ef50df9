package outbox

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// PendingLister is the slice of Repository the relay needs.
type PendingLister interface {
	ListPending(ctx context.Context, limit int) ([]Event, error)
	MarkPublished(ctx context.Context, ids []int64) error
}

// Relay drains pending outbox rows into a Redis stream. Delivery is
// at-least-once; stream consumers must deduplicate on the event id.
type Relay struct {
	repo      PendingLister
	client    redis.Cmdable
	stream    string
	batchSize int
	logger    *slog.Logger
}

// NewRelay constructs a Relay publishing to the named stream.
func NewRelay(repo PendingLister, client redis.Cmdable, stream string, batchSize int, logger *slog.Logger) *Relay {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Relay{repo: repo, client: client, stream: stream, batchSize: batchSize, logger: logger}
}

// Drain publishes one batch of pending events and marks them published.
// It returns the number of events relayed.
func (r *Relay) Drain(ctx context.Context) (int, error) {
	events, err := r.repo.ListPending(ctx, r.batchSize)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}

	published := make([]int64, 0, len(events))
	for _, evt := range events {
		err := r.client.XAdd(ctx, &redis.XAddArgs{
			Stream: r.stream,
			Values: map[string]any{
				"id":             evt.ID,
				"event_id":       evt.EventID,
				"aggregate_type": evt.AggregateType,
				"aggregate_id":   evt.AggregateID,
				"event_type":     evt.EventType,
				"payload":        string(evt.Payload),
				"created_at":     evt.CreatedAt.UTC().Format("2006-01-02T15:04:05.999999Z07:00"),
			},
		}).Err()
		if err != nil {
			// Stop at the first failure so ordering within the batch holds;
			// already-published rows still get marked below.
			r.logger.Warn("outbox relay publish failed",
				slog.Int64("event_id", evt.ID),
				slog.String("event_type", evt.EventType),
				slog.Any("error", err))
			break
		}
		published = append(published, evt.ID)
	}

	if len(published) > 0 {
		if err := r.repo.MarkPublished(ctx, published); err != nil {
			return len(published), err
		}
	}
	return len(published), nil
}
