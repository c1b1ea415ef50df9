package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/forgeline/forgeline/internal/outbox"
	"github.com/forgeline/forgeline/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetByProduct(ctx context.Context, productID string) ([]Record, error)
}

// TxRepository exposes the operations available inside one ledger transaction.
// GetRecordForUpdate holds an exclusive lock on the single row until commit;
// no operation ever holds two such locks.
type TxRepository interface {
	GetRecordForUpdate(ctx context.Context, productID string) (Record, error)
	CreateRecord(ctx context.Context, productID, locationID string) (Record, error)
	UpdateQuantities(ctx context.Context, record Record) error
	InsertStockTransaction(ctx context.Context, st StockTransaction) (int64, error)
	LookupIdempotency(ctx context.Context, key string) (json.RawMessage, bool, error)
	RecordIdempotency(ctx context.Context, key string, result any) error
	AppendEvent(ctx context.Context, aggregateType, aggregateID, eventType string, payload any) error
}

// Service is the inventory ledger.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

type reservedPayload struct {
	ProductID     string `json:"productId"`
	Qty           string `json:"qty"`
	ReferenceType string `json:"referenceType"`
	ReferenceID   string `json:"referenceId"`
	TransactionID int64  `json:"transactionId"`
}

type reservationFailedPayload struct {
	ProductID     string `json:"productId"`
	Requested     string `json:"requested"`
	Available     string `json:"available"`
	ReferenceType string `json:"referenceType"`
	ReferenceID   string `json:"referenceId"`
}

// Reserve holds qty of a product for a reference. Insufficient stock returns
// a FAILED result with a nil error; the failure event still commits. With an
// idempotency key the effect occurs at most once and retries observe the
// first outcome.
func (s *Service) Reserve(ctx context.Context, input ReserveInput) (ReserveResult, error) {
	if input.ProductID == "" || input.ReferenceType == "" || input.ReferenceID == "" {
		return ReserveResult{}, ErrMissingField
	}
	if !input.Qty.IsPositive() {
		return ReserveResult{}, ErrInvalidQuantity
	}

	result, err := s.reserveOnce(ctx, input)
	if errors.Is(err, shared.ErrIdempotencyConflict) || shared.IsSerializationFailure(err) {
		// A concurrent writer committed first, either a duplicate of this key
		// or an update that aborted our transaction. Its effect is visible
		// now, so one full retry resolves against the committed state.
		result, err = s.reserveOnce(ctx, input)
	}
	return result, err
}

func (s *Service) reserveOnce(ctx context.Context, input ReserveInput) (ReserveResult, error) {
	var result ReserveResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if input.IdempotencyKey != "" {
			stored, ok, err := tx.LookupIdempotency(ctx, input.IdempotencyKey)
			if err != nil {
				return err
			}
			if ok {
				if err := json.Unmarshal(stored, &result); err != nil {
					return fmt.Errorf("inventory: decode stored reserve result: %w", err)
				}
				result.Idempotent = true
				return nil
			}
		}

		record, err := tx.GetRecordForUpdate(ctx, input.ProductID)
		if err != nil && !errors.Is(err, ErrRecordNotFound) {
			return err
		}

		available := record.Available()
		if errors.Is(err, ErrRecordNotFound) || available.LessThan(input.Qty) {
			result = ReserveResult{
				Status:    ReserveStatusFailed,
				Available: available,
				Requested: input.Qty,
			}
			return tx.AppendEvent(ctx, outbox.AggregateInventory, input.ProductID, outbox.EventStockReservationFailed, reservationFailedPayload{
				ProductID:     input.ProductID,
				Requested:     input.Qty.String(),
				Available:     available.String(),
				ReferenceType: input.ReferenceType,
				ReferenceID:   input.ReferenceID,
			})
		}

		record.QtyReserved = record.QtyReserved.Add(input.Qty)
		if err := tx.UpdateQuantities(ctx, record); err != nil {
			return err
		}

		txID, err := tx.InsertStockTransaction(ctx, StockTransaction{
			ProductID:      input.ProductID,
			ChangeQty:      input.Qty.Neg(),
			Type:           TransactionTypeReserve,
			ReferenceType:  input.ReferenceType,
			ReferenceID:    input.ReferenceID,
			IdempotencyKey: input.IdempotencyKey,
			BalanceAfter:   available.Sub(input.Qty),
		})
		if err != nil {
			return err
		}

		result = ReserveResult{
			Status:      ReserveStatusReserved,
			ReservedQty: input.Qty,
		}
		if input.IdempotencyKey != "" {
			if err := tx.RecordIdempotency(ctx, input.IdempotencyKey, result); err != nil {
				return err
			}
		}

		return tx.AppendEvent(ctx, outbox.AggregateInventory, input.ProductID, outbox.EventStockReserved, reservedPayload{
			ProductID:     input.ProductID,
			Qty:           input.Qty.String(),
			ReferenceType: input.ReferenceType,
			ReferenceID:   input.ReferenceID,
			TransactionID: txID,
		})
	})
	if err != nil {
		return ReserveResult{}, err
	}
	return result, nil
}

// Move applies an IN or OUT movement. IN creates the record lazily. OUT may
// draw the shortfall from reserved stock when total on-hand covers the
// quantity; otherwise it fails with ErrInsufficientStock and no effect.
func (s *Service) Move(ctx context.Context, input MoveInput) (MoveResult, error) {
	if input.ProductID == "" || input.ReferenceType == "" || input.ReferenceID == "" {
		return MoveResult{}, ErrMissingField
	}
	if !input.Qty.IsPositive() {
		return MoveResult{}, ErrInvalidQuantity
	}
	if input.Type != TransactionTypeIn && input.Type != TransactionTypeOut {
		return MoveResult{}, ErrInvalidMoveType
	}

	result, err := s.moveOnce(ctx, input)
	if errors.Is(err, shared.ErrIdempotencyConflict) || shared.IsSerializationFailure(err) {
		result, err = s.moveOnce(ctx, input)
	}
	return result, err
}

type movePayload struct {
	ProductID     string `json:"productId"`
	Qty           string `json:"qty"`
	ReferenceType string `json:"referenceType"`
	ReferenceID   string `json:"referenceId"`
	TransactionID int64  `json:"transactionId"`
}

func (s *Service) moveOnce(ctx context.Context, input MoveInput) (MoveResult, error) {
	var result MoveResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if input.IdempotencyKey != "" {
			stored, ok, err := tx.LookupIdempotency(ctx, input.IdempotencyKey)
			if err != nil {
				return err
			}
			if ok {
				if err := json.Unmarshal(stored, &result); err != nil {
					return fmt.Errorf("inventory: decode stored move result: %w", err)
				}
				result.Idempotent = true
				return nil
			}
		}

		record, err := tx.GetRecordForUpdate(ctx, input.ProductID)
		if errors.Is(err, ErrRecordNotFound) {
			if input.Type == TransactionTypeOut {
				return ErrRecordNotFound
			}
			record, err = tx.CreateRecord(ctx, input.ProductID, DefaultLocationID)
		}
		if err != nil {
			return err
		}

		var changeQty = input.Qty
		var eventType = outbox.EventStockIn
		if input.Type == TransactionTypeIn {
			record.QtyAvailable = record.QtyAvailable.Add(input.Qty)
		} else {
			if record.QtyAvailable.LessThan(input.Qty) {
				return ErrInsufficientStock
			}
			available := record.Available()
			record.QtyAvailable = record.QtyAvailable.Sub(input.Qty)
			if available.LessThan(input.Qty) {
				// Shortfall comes out of a prior reservation: part of the
				// reserved quantity is consumed by this issue.
				record.QtyReserved = record.QtyReserved.Sub(input.Qty.Sub(available))
			}
			changeQty = input.Qty.Neg()
			eventType = outbox.EventStockOut
		}

		if err := tx.UpdateQuantities(ctx, record); err != nil {
			return err
		}

		txID, err := tx.InsertStockTransaction(ctx, StockTransaction{
			ProductID:      input.ProductID,
			ChangeQty:      changeQty,
			Type:           input.Type,
			ReferenceType:  input.ReferenceType,
			ReferenceID:    input.ReferenceID,
			IdempotencyKey: input.IdempotencyKey,
			BalanceAfter:   record.Available(),
		})
		if err != nil {
			return err
		}

		result = MoveResult{Status: MoveStatusSuccess, Type: input.Type, Qty: input.Qty}
		if input.IdempotencyKey != "" {
			if err := tx.RecordIdempotency(ctx, input.IdempotencyKey, result); err != nil {
				return err
			}
		}

		return tx.AppendEvent(ctx, outbox.AggregateInventory, input.ProductID, eventType, movePayload{
			ProductID:     input.ProductID,
			Qty:           input.Qty.String(),
			ReferenceType: input.ReferenceType,
			ReferenceID:   input.ReferenceID,
			TransactionID: txID,
		})
	})
	if err != nil {
		return MoveResult{}, err
	}
	return result, nil
}

// GetByProduct lists inventory records for a product.
func (s *Service) GetByProduct(ctx context.Context, productID string) ([]Record, error) {
	if productID == "" {
		return nil, ErrMissingField
	}
	return s.repo.GetByProduct(ctx, productID)
}
