package wo

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/forgeline/forgeline/internal/outbox"
)

type memoryWOEvent struct {
	AggregateType string
	AggregateID   string
	EventType     string
}

type memoryWORepo struct {
	orders map[string]WorkOrder
	events []memoryWOEvent
	ops    []string
	nextID int
	now    time.Time
}

func newMemoryWORepo() *memoryWORepo {
	return &memoryWORepo{
		orders: make(map[string]WorkOrder),
		now:    time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC),
	}
}

func (r *memoryWORepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryWOTx{repo: r})
}

func (r *memoryWORepo) Create(ctx context.Context, input CreateInput) (WorkOrder, error) {
	r.nextID++
	wo := WorkOrder{
		ID:            fmt.Sprintf("wo-%d", r.nextID),
		MOID:          input.MOID,
		OperationName: input.OperationName,
		Sequence:      input.Sequence,
		WorkCenterID:  input.WorkCenterID,
		Status:        StatusPlanned,
		CreatedAt:     r.now,
	}
	r.orders[wo.ID] = wo
	return wo, nil
}

func (r *memoryWORepo) ListByMO(ctx context.Context, moID string) ([]WorkOrder, error) {
	var out []WorkOrder
	for _, wo := range r.orders {
		if wo.MOID == moID {
			out = append(out, wo)
		}
	}
	return out, nil
}

type memoryWOTx struct {
	repo *memoryWORepo
}

func (t *memoryWOTx) GetForUpdate(ctx context.Context, id string) (WorkOrder, error) {
	wo, ok := t.repo.orders[id]
	if !ok {
		return WorkOrder{}, ErrNotFound
	}
	return wo, nil
}

func (t *memoryWOTx) LockMO(ctx context.Context, moID string) error {
	t.repo.ops = append(t.repo.ops, "lock:"+moID)
	return nil
}

func (t *memoryWOTx) Update(ctx context.Context, wo WorkOrder) error {
	t.repo.orders[wo.ID] = wo
	return nil
}

func (t *memoryWOTx) CountOpenSiblings(ctx context.Context, moID string) (int, error) {
	t.repo.ops = append(t.repo.ops, "count:"+moID)
	open := 0
	for _, wo := range t.repo.orders {
		if wo.MOID == moID && wo.Status != StatusCompleted {
			open++
		}
	}
	return open, nil
}

func (t *memoryWOTx) AppendEvent(ctx context.Context, aggregateType, aggregateID, eventType string, payload any) error {
	t.repo.events = append(t.repo.events, memoryWOEvent{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
	})
	return nil
}

func newTestService(repo *memoryWORepo) *Service {
	svc := NewService(repo, slog.New(slog.NewTextHandler(io.Discard, nil)))
	svc.now = func() time.Time { return repo.now }
	return svc
}

func (r *memoryWORepo) eventsOfType(eventType string) []memoryWOEvent {
	var out []memoryWOEvent
	for _, e := range r.events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

func TestCreateValidation(t *testing.T) {
	svc := newTestService(newMemoryWORepo())

	_, err := svc.Create(context.Background(), CreateInput{OperationName: "cut"})
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.Create(context.Background(), CreateInput{MOID: "mo-1"})
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestStartTransition(t *testing.T) {
	repo := newMemoryWORepo()
	svc := newTestService(repo)

	created, err := svc.Create(context.Background(), CreateInput{MOID: "mo-1", OperationName: "cut", Sequence: 1})
	require.NoError(t, err)

	started, err := svc.Start(context.Background(), created.ID, "user-7")
	require.NoError(t, err)
	require.Equal(t, StatusInProgress, started.Status)
	require.Equal(t, "user-7", started.AssigneeID)
	require.NotNil(t, started.StartedAt)
	require.Len(t, repo.eventsOfType(outbox.EventWOStarted), 1)

	// Starting twice is rejected.
	_, err = svc.Start(context.Background(), created.ID, "user-7")
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestStartUnknown(t *testing.T) {
	svc := newTestService(newMemoryWORepo())
	_, err := svc.Start(context.Background(), "ghost", "")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCompleteDerivesActualMinutesFromStart(t *testing.T) {
	repo := newMemoryWORepo()
	svc := newTestService(repo)

	created, err := svc.Create(context.Background(), CreateInput{MOID: "mo-1", OperationName: "cut", Sequence: 1})
	require.NoError(t, err)

	_, err = svc.Start(context.Background(), created.ID, "")
	require.NoError(t, err)

	repo.now = repo.now.Add(90 * time.Minute)
	completed, err := svc.Complete(context.Background(), created.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, completed.Status)
	require.InDelta(t, 90.0, completed.ActualMinutes, 0.001)
	require.NotNil(t, completed.CompletedAt)
}

func TestCompleteWithoutStartFallsBackToCreation(t *testing.T) {
	repo := newMemoryWORepo()
	svc := newTestService(repo)

	created, err := svc.Create(context.Background(), CreateInput{MOID: "mo-1", OperationName: "cut", Sequence: 1})
	require.NoError(t, err)

	repo.now = repo.now.Add(30 * time.Minute)
	completed, err := svc.Complete(context.Background(), created.ID)
	require.NoError(t, err)
	require.InDelta(t, 30.0, completed.ActualMinutes, 0.001)
}

func TestCompleteRejectsTerminalStates(t *testing.T) {
	repo := newMemoryWORepo()
	svc := newTestService(repo)

	created, err := svc.Create(context.Background(), CreateInput{MOID: "mo-1", OperationName: "cut", Sequence: 1})
	require.NoError(t, err)

	_, err = svc.Complete(context.Background(), created.ID)
	require.NoError(t, err)

	_, err = svc.Complete(context.Background(), created.ID)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestLastCompletionRaisesMOCompletedOnce(t *testing.T) {
	repo := newMemoryWORepo()
	svc := newTestService(repo)

	var ids []string
	for i := 1; i <= 3; i++ {
		created, err := svc.Create(context.Background(), CreateInput{MOID: "mo-1", OperationName: "op", Sequence: i})
		require.NoError(t, err)
		ids = append(ids, created.ID)
	}

	for i, id := range ids {
		_, err := svc.Complete(context.Background(), id)
		require.NoError(t, err)

		moCompleted := repo.eventsOfType(outbox.EventMOCompleted)
		if i < len(ids)-1 {
			require.Empty(t, moCompleted)
		} else {
			require.Len(t, moCompleted, 1)
			require.Equal(t, "mo-1", moCompleted[0].AggregateID)
			require.Equal(t, outbox.AggregateManufacturingOrder, moCompleted[0].AggregateType)
		}
	}

	require.Len(t, repo.eventsOfType(outbox.EventWOCompleted), 3)
}

func TestCompleteLocksParentBeforeCountingSiblings(t *testing.T) {
	repo := newMemoryWORepo()
	svc := newTestService(repo)

	created, err := svc.Create(context.Background(), CreateInput{MOID: "mo-1", OperationName: "cut", Sequence: 1})
	require.NoError(t, err)

	_, err = svc.Complete(context.Background(), created.ID)
	require.NoError(t, err)

	// The parent order lock is taken before the open-sibling count, so two
	// overlapping completions of one MO cannot both see the other as open.
	require.Equal(t, []string{"lock:mo-1", "count:mo-1"}, repo.ops)
}

func TestCompletionOfOtherMOsDoesNotInterfere(t *testing.T) {
	repo := newMemoryWORepo()
	svc := newTestService(repo)

	a, err := svc.Create(context.Background(), CreateInput{MOID: "mo-a", OperationName: "op", Sequence: 1})
	require.NoError(t, err)
	_, err = svc.Create(context.Background(), CreateInput{MOID: "mo-b", OperationName: "op", Sequence: 1})
	require.NoError(t, err)

	_, err = svc.Complete(context.Background(), a.ID)
	require.NoError(t, err)

	events := repo.eventsOfType(outbox.EventMOCompleted)
	require.Len(t, events, 1)
	require.Equal(t, "mo-a", events[0].AggregateID)
}
