package wo

import (
	"context"
	"log/slog"
	"time"

	"github.com/forgeline/forgeline/internal/outbox"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Create(ctx context.Context, input CreateInput) (WorkOrder, error)
	ListByMO(ctx context.Context, moID string) ([]WorkOrder, error)
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	GetForUpdate(ctx context.Context, id string) (WorkOrder, error)
	LockMO(ctx context.Context, moID string) error
	Update(ctx context.Context, wo WorkOrder) error
	CountOpenSiblings(ctx context.Context, moID string) (int, error)
	AppendEvent(ctx context.Context, aggregateType, aggregateID, eventType string, payload any) error
}

// Service coordinates work order execution.
type Service struct {
	repo   RepositoryPort
	logger *slog.Logger
	now    func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger, now: time.Now}
}

// Create registers a planned work order for an MO.
func (s *Service) Create(ctx context.Context, input CreateInput) (WorkOrder, error) {
	if input.MOID == "" || input.OperationName == "" {
		return WorkOrder{}, ErrInvalidInput
	}
	return s.repo.Create(ctx, input)
}

type woEventPayload struct {
	ID            string  `json:"id"`
	MOID          string  `json:"moId"`
	OperationName string  `json:"operationName"`
	Sequence      int     `json:"sequence"`
	Status        Status  `json:"status"`
	AssigneeID    string  `json:"assigneeId,omitempty"`
	ActualMinutes float64 `json:"actualMinutes,omitempty"`
}

func eventPayload(wo WorkOrder) woEventPayload {
	return woEventPayload{
		ID:            wo.ID,
		MOID:          wo.MOID,
		OperationName: wo.OperationName,
		Sequence:      wo.Sequence,
		Status:        wo.Status,
		AssigneeID:    wo.AssigneeID,
		ActualMinutes: wo.ActualMinutes,
	}
}

// Start moves a planned work order into execution and records the start time.
func (s *Service) Start(ctx context.Context, id, assigneeID string) (WorkOrder, error) {
	var updated WorkOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		wo, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if wo.Status != StatusPlanned {
			return ErrInvalidTransition
		}
		now := s.now().UTC()
		wo.Status = StatusInProgress
		wo.StartedAt = &now
		wo.AssigneeID = assigneeID
		if err := tx.Update(ctx, wo); err != nil {
			return err
		}
		updated = wo
		return tx.AppendEvent(ctx, outbox.AggregateWorkOrder, wo.ID, outbox.EventWOStarted, eventPayload(wo))
	})
	if err != nil {
		return WorkOrder{}, err
	}
	return updated, nil
}

// Complete finishes a work order, deriving actual minutes from wall-clock time
// since start (or since creation if never explicitly started). When it is the
// last open work order of its MO, the same transaction also records the
// derived MO_COMPLETED event. Completions of one MO serialize on the parent
// order row, so exactly one commit observes zero open siblings.
func (s *Service) Complete(ctx context.Context, id string) (WorkOrder, error) {
	var updated WorkOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		wo, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if wo.Status == StatusCompleted || wo.Status == StatusCanceled {
			return ErrInvalidTransition
		}

		// Sibling completions serialize on the parent order row; the open
		// count below is only trustworthy while that lock is held.
		if err := tx.LockMO(ctx, wo.MOID); err != nil {
			return err
		}

		now := s.now().UTC()
		since := wo.CreatedAt
		if wo.StartedAt != nil {
			since = *wo.StartedAt
		}
		wo.Status = StatusCompleted
		wo.CompletedAt = &now
		wo.ActualMinutes = now.Sub(since).Minutes()
		if err := tx.Update(ctx, wo); err != nil {
			return err
		}

		if err := tx.AppendEvent(ctx, outbox.AggregateWorkOrder, wo.ID, outbox.EventWOCompleted, eventPayload(wo)); err != nil {
			return err
		}

		open, err := tx.CountOpenSiblings(ctx, wo.MOID)
		if err != nil {
			return err
		}
		if open == 0 {
			s.logger.Info("all work orders completed for mo", slog.String("mo_id", wo.MOID))
			if err := tx.AppendEvent(ctx, outbox.AggregateManufacturingOrder, wo.MOID, outbox.EventMOCompleted,
				map[string]string{"moId": wo.MOID}); err != nil {
				return err
			}
		}

		updated = wo
		return nil
	})
	if err != nil {
		return WorkOrder{}, err
	}
	return updated, nil
}

// ListByMO lists the work orders of an MO ordered by sequence.
func (s *Service) ListByMO(ctx context.Context, moID string) ([]WorkOrder, error) {
	if moID == "" {
		return nil, ErrInvalidInput
	}
	return s.repo.ListByMO(ctx, moID)
}
