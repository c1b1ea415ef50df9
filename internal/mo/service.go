package mo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/forgeline/forgeline/internal/catalog"
	"github.com/forgeline/forgeline/internal/inventory"
	"github.com/forgeline/forgeline/internal/outbox"
	"github.com/forgeline/forgeline/internal/shared"
)

// ReferenceTypeMO is the reference tag stamped on ledger entries made for an MO.
const ReferenceTypeMO = "MO"

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetByID(ctx context.Context, id string) (ManufacturingOrder, error)
	GetByIdempotencyKey(ctx context.Context, key string) (ManufacturingOrder, error)
	GetByConfirmKey(ctx context.Context, id, key string) (ManufacturingOrder, error)
	List(ctx context.Context) ([]ManufacturingOrder, error)
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	AllocateNumber(ctx context.Context) (int64, error)
	Insert(ctx context.Context, mo ManufacturingOrder) (ManufacturingOrder, error)
	GetForUpdate(ctx context.Context, id string) (ManufacturingOrder, error)
	Update(ctx context.Context, mo ManufacturingOrder) error
	AppendEvent(ctx context.Context, aggregateType, aggregateID, eventType string, payload any) error
}

// BOMLookup fetches the active BOM for a product from the catalog collaborator.
type BOMLookup interface {
	GetActiveBOM(ctx context.Context, productID string) (catalog.BOM, error)
}

// WorkOrderPort creates work orders in the tracker. Fan-out through this port
// runs after the MO transaction committed and is deliberately best-effort.
type WorkOrderPort interface {
	CreateWorkOrder(ctx context.Context, moID, operationName string, sequence int) (string, error)
}

// LedgerPort reserves component stock in the inventory ledger.
type LedgerPort interface {
	Reserve(ctx context.Context, input inventory.ReserveInput) (inventory.ReserveResult, error)
}

// Service is the manufacturing order saga coordinator.
type Service struct {
	repo   RepositoryPort
	boms   BOMLookup
	wos    WorkOrderPort
	ledger LedgerPort
	logger *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, boms BOMLookup, wos WorkOrderPort, ledger LedgerPort, logger *slog.Logger) *Service {
	return &Service{repo: repo, boms: boms, wos: wos, ledger: ledger, logger: logger}
}

type moEventPayload struct {
	ID        string `json:"id"`
	Number    string `json:"moNumber"`
	ProductID string `json:"productId"`
	Quantity  int64  `json:"quantity"`
	Status    Status `json:"status"`
	Reason    string `json:"reason,omitempty"`
}

func eventPayload(mo ManufacturingOrder) moEventPayload {
	return moEventPayload{
		ID:        mo.ID,
		Number:    mo.Number,
		ProductID: mo.ProductID,
		Quantity:  mo.Quantity,
		Status:    mo.Status,
		Reason:    mo.Reason,
	}
}

// Create snapshots the product's active BOM and inserts a PLANNED order with
// its MO_CREATED event in one transaction. Work order fan-out happens after
// commit as a second, best-effort saga step recorded by a WOS_CREATED event;
// a partial fan-out never rolls the MO back (the reconciliation job repairs
// missing work orders later).
func (s *Service) Create(ctx context.Context, input CreateInput) (CreateResult, error) {
	if input.ProductID == "" || input.Quantity <= 0 {
		return CreateResult{}, ErrInvalidInput
	}

	if input.IdempotencyKey != "" {
		existing, err := s.repo.GetByIdempotencyKey(ctx, input.IdempotencyKey)
		if err == nil {
			return CreateResult{MO: existing, Idempotent: true}, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return CreateResult{}, err
		}
	}

	bom, err := s.boms.GetActiveBOM(ctx, input.ProductID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return CreateResult{}, ErrBOMNotFound
		}
		return CreateResult{}, err
	}

	var created ManufacturingOrder
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		seq, err := tx.AllocateNumber(ctx)
		if err != nil {
			return err
		}
		created, err = tx.Insert(ctx, ManufacturingOrder{
			Number:         fmt.Sprintf("MO-%d", seq),
			ProductID:      input.ProductID,
			Quantity:       input.Quantity,
			BOMSnapshot:    bom,
			Status:         StatusPlanned,
			CreatedBy:      input.CreatedBy,
			IdempotencyKey: input.IdempotencyKey,
		})
		if err != nil {
			return err
		}
		return tx.AppendEvent(ctx, outbox.AggregateManufacturingOrder, created.ID, outbox.EventMOCreated, eventPayload(created))
	})
	if err != nil {
		// A concurrent duplicate with the same key won the insert; its row is
		// committed and visible now.
		if errors.Is(err, shared.ErrIdempotencyConflict) && input.IdempotencyKey != "" {
			existing, lookupErr := s.repo.GetByIdempotencyKey(ctx, input.IdempotencyKey)
			if lookupErr == nil {
				return CreateResult{MO: existing, Idempotent: true}, nil
			}
		}
		return CreateResult{}, err
	}

	woIDs := s.fanOutWorkOrders(ctx, created, bom)

	return CreateResult{MO: created, WOIDs: woIDs}, nil
}

func (s *Service) fanOutWorkOrders(ctx context.Context, mo ManufacturingOrder, bom catalog.BOM) []string {
	woIDs := make([]string, 0, len(bom.Items))
	for _, item := range bom.Items {
		name := item.OperationName
		if name == "" {
			name = "operation"
		}
		id, err := s.wos.CreateWorkOrder(ctx, mo.ID, name, item.OperationSequence)
		if err != nil {
			s.logger.Error("create work order for bom item",
				slog.String("mo_id", mo.ID),
				slog.String("component_id", item.ComponentProductID),
				slog.Any("error", err))
			continue
		}
		woIDs = append(woIDs, id)
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.AppendEvent(ctx, outbox.AggregateManufacturingOrder, mo.ID, outbox.EventWOsCreated,
			map[string]any{"moId": mo.ID, "woIds": woIDs})
	})
	if err != nil {
		s.logger.Error("record wo fan-out", slog.String("mo_id", mo.ID), slog.Any("error", err))
	}
	return woIDs
}

// Confirm transitions PLANNED -> CONFIRMED. Repeats with the same idempotency
// key return the already-confirmed order untouched.
func (s *Service) Confirm(ctx context.Context, id, idempotencyKey string) (ConfirmResult, error) {
	if idempotencyKey != "" {
		existing, err := s.repo.GetByConfirmKey(ctx, id, idempotencyKey)
		if err == nil {
			return ConfirmResult{MO: existing, Idempotent: true}, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return ConfirmResult{}, err
		}
	}

	var confirmed ManufacturingOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		mo, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if mo.Status != StatusPlanned {
			return ErrInvalidTransition
		}
		mo.Status = StatusConfirmed
		mo.IdempotencyKeyConfirm = idempotencyKey
		if err := tx.Update(ctx, mo); err != nil {
			return err
		}
		confirmed = mo
		return tx.AppendEvent(ctx, outbox.AggregateManufacturingOrder, mo.ID, outbox.EventMOConfirmed, eventPayload(mo))
	})
	if err != nil {
		return ConfirmResult{}, err
	}
	return ConfirmResult{MO: confirmed}, nil
}

// Block parks a PLANNED or CONFIRMED order.
func (s *Service) Block(ctx context.Context, id, reason string) (ManufacturingOrder, error) {
	var blocked ManufacturingOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		mo, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if mo.Status != StatusPlanned && mo.Status != StatusConfirmed {
			return ErrInvalidTransition
		}
		mo.Status = StatusBlocked
		mo.Reason = reason
		if err := tx.Update(ctx, mo); err != nil {
			return err
		}
		blocked = mo
		return tx.AppendEvent(ctx, outbox.AggregateManufacturingOrder, mo.ID, outbox.EventMOBlocked, eventPayload(mo))
	})
	if err != nil {
		return ManufacturingOrder{}, err
	}
	return blocked, nil
}

// Unblock returns a BLOCKED order to PLANNED and clears the block reason.
func (s *Service) Unblock(ctx context.Context, id, note string) (ManufacturingOrder, error) {
	var unblocked ManufacturingOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		mo, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if mo.Status != StatusBlocked {
			return ErrInvalidTransition
		}
		mo.Status = StatusPlanned
		mo.Reason = ""
		if err := tx.Update(ctx, mo); err != nil {
			return err
		}
		unblocked = mo
		payload := eventPayload(mo)
		return tx.AppendEvent(ctx, outbox.AggregateManufacturingOrder, mo.ID, outbox.EventMOUnblocked,
			map[string]any{"id": payload.ID, "status": payload.Status, "note": note})
	})
	if err != nil {
		return ManufacturingOrder{}, err
	}
	return unblocked, nil
}

// RetryReservation walks the frozen BOM snapshot and reserves each component
// sequentially, one inventory row lock at a time. The idempotency key is
// derived from (mo, component), so retrying the whole MO never double-reserves
// a line already held. All lines RESERVED moves the order to
// RESERVATION_DONE; any failure blocks it, and earlier successful lines stay
// committed.
func (s *Service) RetryReservation(ctx context.Context, id string) (RetryReservationResult, error) {
	mo, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return RetryReservationResult{}, err
	}
	if mo.Status != StatusConfirmed && mo.Status != StatusReservationDone {
		return RetryReservationResult{}, ErrInvalidTransition
	}

	quantity := decimal.NewFromInt(mo.Quantity)
	allReserved := true
	lines := make([]ReservationLine, 0, len(mo.BOMSnapshot.Items))
	for _, item := range mo.BOMSnapshot.Items {
		if item.ComponentProductID == "" {
			continue
		}
		required := item.QtyPerUnit.Mul(quantity)
		key := fmt.Sprintf("mo:%s:comp:%s", mo.ID, item.ComponentProductID)

		result, err := s.ledger.Reserve(ctx, inventory.ReserveInput{
			ProductID:      item.ComponentProductID,
			Qty:            required,
			ReferenceType:  ReferenceTypeMO,
			ReferenceID:    mo.ID,
			IdempotencyKey: key,
		})
		if err != nil {
			allReserved = false
			s.logger.Error("reserve component",
				slog.String("mo_id", mo.ID),
				slog.String("component_id", item.ComponentProductID),
				slog.Any("error", err))
			lines = append(lines, ReservationLine{
				ComponentProductID: item.ComponentProductID,
				Requested:          required,
				Status:             inventory.ReserveStatusFailed,
				Error:              err.Error(),
			})
			continue
		}

		line := ReservationLine{
			ComponentProductID: item.ComponentProductID,
			Requested:          required,
			Status:             result.Status,
			Reserved:           result.ReservedQty,
			Available:          result.Available,
		}
		if result.Status != inventory.ReserveStatusReserved {
			allReserved = false
			s.logger.Warn("component reservation failed",
				slog.String("mo_id", mo.ID),
				slog.String("component_id", item.ComponentProductID),
				slog.String("available", result.Available.String()),
				slog.String("requested", required.String()))
		}
		lines = append(lines, line)
	}

	var updated ManufacturingOrder
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		mo, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		// A concurrent Block may have landed while the lines were being
		// reserved; its state wins over this pass's outcome.
		if mo.Status != StatusConfirmed && mo.Status != StatusReservationDone {
			return ErrInvalidTransition
		}
		if allReserved {
			mo.Status = StatusReservationDone
		} else {
			mo.Status = StatusBlocked
			mo.Reason = "Stock reservation failed"
		}
		if err := tx.Update(ctx, mo); err != nil {
			return err
		}
		updated = mo

		eventType := outbox.EventStockReserved
		if !allReserved {
			eventType = outbox.EventMOBlocked
		}
		return tx.AppendEvent(ctx, outbox.AggregateManufacturingOrder, mo.ID, eventType,
			map[string]any{"id": mo.ID, "status": mo.Status, "reason": mo.Reason, "results": lines})
	})
	if err != nil {
		return RetryReservationResult{}, err
	}

	return RetryReservationResult{MO: updated, Succeeded: allReserved, Lines: lines}, nil
}

// Get returns one manufacturing order.
func (s *Service) Get(ctx context.Context, id string) (ManufacturingOrder, error) {
	if id == "" {
		return ManufacturingOrder{}, ErrInvalidInput
	}
	return s.repo.GetByID(ctx, id)
}

// List returns manufacturing orders newest first.
func (s *Service) List(ctx context.Context) ([]ManufacturingOrder, error) {
	return s.repo.List(ctx)
}
