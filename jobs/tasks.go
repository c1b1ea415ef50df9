// Package jobs hosts the background workers: the outbox relay pump, work
// order reconciliation and idempotency key expiry.
package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"

	// TaskOutboxRelay drains pending outbox rows to the Redis event stream.
	TaskOutboxRelay = "outbox:relay"
	// TaskWOReconcile recreates work orders lost to a partial fan-out.
	TaskWOReconcile = "wo:reconcile"
	// TaskIdempotencyCleanup expires old idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

type scheduledPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

func newScheduledTask(taskType string, at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(scheduledPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskType, body, asynq.Queue(QueueDefault)), nil
}

// NewOutboxRelayTask constructs an outbox relay task.
func NewOutboxRelayTask(at time.Time) (*asynq.Task, error) {
	return newScheduledTask(TaskOutboxRelay, at)
}

// NewWOReconcileTask constructs a work order reconciliation task.
func NewWOReconcileTask(at time.Time) (*asynq.Task, error) {
	return newScheduledTask(TaskWOReconcile, at)
}

// NewIdempotencyCleanupTask constructs an idempotency key expiry task.
func NewIdempotencyCleanupTask(at time.Time) (*asynq.Task, error) {
	return newScheduledTask(TaskIdempotencyCleanup, at)
}
