package inventory

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/forgeline/forgeline/internal/outbox"
	"github.com/forgeline/forgeline/internal/shared"
)

type memoryEvent struct {
	AggregateType string
	AggregateID   string
	EventType     string
}

type memoryLedgerRepo struct {
	mu       sync.Mutex
	records  map[string]Record
	txs      []StockTransaction
	idemKeys map[string]json.RawMessage
	events   []memoryEvent
	nextTxID int64
}

func newMemoryLedgerRepo() *memoryLedgerRepo {
	return &memoryLedgerRepo{
		records:  make(map[string]Record),
		idemKeys: make(map[string]json.RawMessage),
	}
}

func (r *memoryLedgerRepo) seed(productID string, available, reserved int64) {
	r.records[productID] = Record{
		ID:           "rec-" + productID,
		ProductID:    productID,
		LocationID:   DefaultLocationID,
		QtyAvailable: decimal.NewFromInt(available),
		QtyReserved:  decimal.NewFromInt(reserved),
	}
}

// WithTx serializes callers the way the row lock does and rolls state back
// when the callback fails.
func (r *memoryLedgerRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := r.clone()
	if err := fn(ctx, &memoryLedgerTx{repo: r}); err != nil {
		r.restore(snapshot)
		return err
	}
	return nil
}

func (r *memoryLedgerRepo) clone() *memoryLedgerRepo {
	c := newMemoryLedgerRepo()
	for k, v := range r.records {
		c.records[k] = v
	}
	for k, v := range r.idemKeys {
		c.idemKeys[k] = v
	}
	c.txs = append([]StockTransaction(nil), r.txs...)
	c.events = append([]memoryEvent(nil), r.events...)
	c.nextTxID = r.nextTxID
	return c
}

func (r *memoryLedgerRepo) restore(snapshot *memoryLedgerRepo) {
	r.records = snapshot.records
	r.idemKeys = snapshot.idemKeys
	r.txs = snapshot.txs
	r.events = snapshot.events
	r.nextTxID = snapshot.nextTxID
}

func (r *memoryLedgerRepo) GetByProduct(ctx context.Context, productID string) ([]Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[productID]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return []Record{rec}, nil
}

type memoryLedgerTx struct {
	repo *memoryLedgerRepo
}

func (t *memoryLedgerTx) GetRecordForUpdate(ctx context.Context, productID string) (Record, error) {
	rec, ok := t.repo.records[productID]
	if !ok {
		return Record{}, ErrRecordNotFound
	}
	return rec, nil
}

func (t *memoryLedgerTx) CreateRecord(ctx context.Context, productID, locationID string) (Record, error) {
	rec := Record{
		ID:         "rec-" + productID,
		ProductID:  productID,
		LocationID: locationID,
	}
	t.repo.records[productID] = rec
	return rec, nil
}

func (t *memoryLedgerTx) UpdateQuantities(ctx context.Context, record Record) error {
	t.repo.records[record.ProductID] = record
	return nil
}

func (t *memoryLedgerTx) InsertStockTransaction(ctx context.Context, st StockTransaction) (int64, error) {
	if st.IdempotencyKey != "" {
		for _, existing := range t.repo.txs {
			if existing.IdempotencyKey == st.IdempotencyKey {
				return 0, shared.ErrIdempotencyConflict
			}
		}
	}
	t.repo.nextTxID++
	st.ID = t.repo.nextTxID
	t.repo.txs = append(t.repo.txs, st)
	return st.ID, nil
}

func (t *memoryLedgerTx) LookupIdempotency(ctx context.Context, key string) (json.RawMessage, bool, error) {
	stored, ok := t.repo.idemKeys[key]
	return stored, ok, nil
}

func (t *memoryLedgerTx) RecordIdempotency(ctx context.Context, key string, result any) error {
	if _, ok := t.repo.idemKeys[key]; ok {
		return shared.ErrIdempotencyConflict
	}
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	t.repo.idemKeys[key] = data
	return nil
}

func (t *memoryLedgerTx) AppendEvent(ctx context.Context, aggregateType, aggregateID, eventType string, payload any) error {
	t.repo.events = append(t.repo.events, memoryEvent{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
	})
	return nil
}

// abortingLedgerRepo fails the first n transactions with a serialization
// abort before delegating, the way a lock wait that loses a concurrent
// update surfaces from the database.
type abortingLedgerRepo struct {
	*memoryLedgerRepo
	aborts int
	calls  int
}

func (r *abortingLedgerRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.calls++
	if r.aborts > 0 {
		r.aborts--
		return &pgconn.PgError{Code: "40001"}
	}
	return r.memoryLedgerRepo.WithTx(ctx, fn)
}

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func TestReserveSuccess(t *testing.T) {
	repo := newMemoryLedgerRepo()
	repo.seed("p1", 100, 0)
	svc := NewService(repo)

	result, err := svc.Reserve(context.Background(), ReserveInput{
		ProductID:     "p1",
		Qty:           dec(30),
		ReferenceType: "MO",
		ReferenceID:   "mo-1",
	})
	require.NoError(t, err)
	require.Equal(t, ReserveStatusReserved, result.Status)
	require.True(t, result.ReservedQty.Equal(dec(30)))

	rec := repo.records["p1"]
	require.True(t, rec.QtyAvailable.Equal(dec(100)))
	require.True(t, rec.QtyReserved.Equal(dec(30)))
	require.True(t, rec.Available().Equal(dec(70)))

	require.Len(t, repo.txs, 1)
	require.Equal(t, TransactionTypeReserve, repo.txs[0].Type)
	require.True(t, repo.txs[0].ChangeQty.Equal(dec(-30)))
	require.True(t, repo.txs[0].BalanceAfter.Equal(dec(70)))

	require.Len(t, repo.events, 1)
	require.Equal(t, outbox.EventStockReserved, repo.events[0].EventType)
}

func TestReserveInsufficientStockFails(t *testing.T) {
	repo := newMemoryLedgerRepo()
	repo.seed("p1", 10, 0)
	svc := NewService(repo)

	result, err := svc.Reserve(context.Background(), ReserveInput{
		ProductID:      "p1",
		Qty:            dec(30),
		ReferenceType:  "MO",
		ReferenceID:    "mo-1",
		IdempotencyKey: "k1",
	})
	require.NoError(t, err)
	require.Equal(t, ReserveStatusFailed, result.Status)
	require.True(t, result.Available.Equal(dec(10)))
	require.True(t, result.Requested.Equal(dec(30)))

	// No quantities changed and no ledger entry was written, but the failure
	// event committed.
	rec := repo.records["p1"]
	require.True(t, rec.QtyReserved.IsZero())
	require.Empty(t, repo.txs)
	require.Len(t, repo.events, 1)
	require.Equal(t, outbox.EventStockReservationFailed, repo.events[0].EventType)

	// A failed attempt stores nothing, so the same key can succeed after a
	// restock.
	_, err = svc.Move(context.Background(), MoveInput{
		ProductID:     "p1",
		Qty:           dec(50),
		Type:          TransactionTypeIn,
		ReferenceType: "GRN",
		ReferenceID:   "grn-1",
	})
	require.NoError(t, err)

	result, err = svc.Reserve(context.Background(), ReserveInput{
		ProductID:      "p1",
		Qty:            dec(30),
		ReferenceType:  "MO",
		ReferenceID:    "mo-1",
		IdempotencyKey: "k1",
	})
	require.NoError(t, err)
	require.Equal(t, ReserveStatusReserved, result.Status)
	require.False(t, result.Idempotent)
}

func TestReserveUnknownProductFails(t *testing.T) {
	repo := newMemoryLedgerRepo()
	svc := NewService(repo)

	result, err := svc.Reserve(context.Background(), ReserveInput{
		ProductID:     "ghost",
		Qty:           dec(1),
		ReferenceType: "MO",
		ReferenceID:   "mo-1",
	})
	require.NoError(t, err)
	require.Equal(t, ReserveStatusFailed, result.Status)
	require.True(t, result.Available.IsZero())
}

func TestReserveIdempotentReplay(t *testing.T) {
	repo := newMemoryLedgerRepo()
	repo.seed("p1", 100, 0)
	svc := NewService(repo)

	input := ReserveInput{
		ProductID:      "p1",
		Qty:            dec(25),
		ReferenceType:  "MO",
		ReferenceID:    "mo-1",
		IdempotencyKey: "mo:mo-1:comp:p1",
	}

	first, err := svc.Reserve(context.Background(), input)
	require.NoError(t, err)
	require.Equal(t, ReserveStatusReserved, first.Status)
	require.False(t, first.Idempotent)

	second, err := svc.Reserve(context.Background(), input)
	require.NoError(t, err)
	require.Equal(t, ReserveStatusReserved, second.Status)
	require.True(t, second.Idempotent)
	require.True(t, second.ReservedQty.Equal(dec(25)))

	// Exactly one effect.
	require.Len(t, repo.txs, 1)
	require.True(t, repo.records["p1"].QtyReserved.Equal(dec(25)))
}

func TestReserveValidation(t *testing.T) {
	svc := NewService(newMemoryLedgerRepo())

	_, err := svc.Reserve(context.Background(), ReserveInput{Qty: dec(1), ReferenceType: "MO", ReferenceID: "x"})
	require.ErrorIs(t, err, ErrMissingField)

	_, err = svc.Reserve(context.Background(), ReserveInput{ProductID: "p1", Qty: dec(0), ReferenceType: "MO", ReferenceID: "x"})
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = svc.Reserve(context.Background(), ReserveInput{ProductID: "p1", Qty: dec(-5), ReferenceType: "MO", ReferenceID: "x"})
	require.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestMoveInCreatesRecordLazily(t *testing.T) {
	repo := newMemoryLedgerRepo()
	svc := NewService(repo)

	result, err := svc.Move(context.Background(), MoveInput{
		ProductID:     "p1",
		Qty:           dec(40),
		Type:          TransactionTypeIn,
		ReferenceType: "GRN",
		ReferenceID:   "grn-1",
	})
	require.NoError(t, err)
	require.Equal(t, MoveStatusSuccess, result.Status)

	rec := repo.records["p1"]
	require.Equal(t, DefaultLocationID, rec.LocationID)
	require.True(t, rec.QtyAvailable.Equal(dec(40)))
	require.Len(t, repo.events, 1)
	require.Equal(t, outbox.EventStockIn, repo.events[0].EventType)
}

func TestMoveOutDrawsShortfallFromReserved(t *testing.T) {
	repo := newMemoryLedgerRepo()
	repo.seed("p1", 10, 4)
	svc := NewService(repo)

	// Free quantity is 6; issuing 8 consumes 2 from the reservation.
	result, err := svc.Move(context.Background(), MoveInput{
		ProductID:     "p1",
		Qty:           dec(8),
		Type:          TransactionTypeOut,
		ReferenceType: "WO",
		ReferenceID:   "wo-1",
	})
	require.NoError(t, err)
	require.Equal(t, MoveStatusSuccess, result.Status)

	rec := repo.records["p1"]
	require.True(t, rec.QtyAvailable.Equal(dec(2)))
	require.True(t, rec.QtyReserved.Equal(dec(2)))
	require.True(t, rec.Available().IsZero())

	require.Len(t, repo.txs, 1)
	require.True(t, repo.txs[0].ChangeQty.Equal(dec(-8)))
	require.Equal(t, outbox.EventStockOut, repo.events[0].EventType)
}

func TestMoveOutInsufficientStock(t *testing.T) {
	repo := newMemoryLedgerRepo()
	repo.seed("p1", 5, 0)
	svc := NewService(repo)

	_, err := svc.Move(context.Background(), MoveInput{
		ProductID:     "p1",
		Qty:           dec(8),
		Type:          TransactionTypeOut,
		ReferenceType: "WO",
		ReferenceID:   "wo-1",
	})
	require.ErrorIs(t, err, ErrInsufficientStock)

	// Rolled back entirely.
	require.True(t, repo.records["p1"].QtyAvailable.Equal(dec(5)))
	require.Empty(t, repo.txs)
	require.Empty(t, repo.events)
}

func TestMoveOutUnknownProduct(t *testing.T) {
	svc := NewService(newMemoryLedgerRepo())

	_, err := svc.Move(context.Background(), MoveInput{
		ProductID:     "ghost",
		Qty:           dec(1),
		Type:          TransactionTypeOut,
		ReferenceType: "WO",
		ReferenceID:   "wo-1",
	})
	require.ErrorIs(t, err, ErrRecordNotFound)
}

func TestMoveValidation(t *testing.T) {
	svc := NewService(newMemoryLedgerRepo())

	_, err := svc.Move(context.Background(), MoveInput{ProductID: "p1", Qty: dec(1), Type: "SIDEWAYS", ReferenceType: "X", ReferenceID: "y"})
	require.ErrorIs(t, err, ErrInvalidMoveType)

	_, err = svc.Move(context.Background(), MoveInput{ProductID: "p1", Qty: dec(1), Type: TransactionTypeReserve, ReferenceType: "X", ReferenceID: "y"})
	require.ErrorIs(t, err, ErrInvalidMoveType)
}

func TestMoveIdempotentReplay(t *testing.T) {
	repo := newMemoryLedgerRepo()
	svc := NewService(repo)

	input := MoveInput{
		ProductID:      "p1",
		Qty:            dec(40),
		Type:           TransactionTypeIn,
		ReferenceType:  "GRN",
		ReferenceID:    "grn-1",
		IdempotencyKey: "grn:1",
	}

	first, err := svc.Move(context.Background(), input)
	require.NoError(t, err)
	require.False(t, first.Idempotent)

	second, err := svc.Move(context.Background(), input)
	require.NoError(t, err)
	require.True(t, second.Idempotent)
	require.Equal(t, MoveStatusSuccess, second.Status)

	require.True(t, repo.records["p1"].QtyAvailable.Equal(dec(40)))
	require.Len(t, repo.txs, 1)
}

func TestReserveRetriesAfterSerializationAbort(t *testing.T) {
	inner := newMemoryLedgerRepo()
	inner.seed("p1", 100, 0)
	repo := &abortingLedgerRepo{memoryLedgerRepo: inner, aborts: 1}
	svc := NewService(repo)

	result, err := svc.Reserve(context.Background(), ReserveInput{
		ProductID:     "p1",
		Qty:           dec(30),
		ReferenceType: "MO",
		ReferenceID:   "mo-1",
	})
	require.NoError(t, err)
	require.Equal(t, ReserveStatusReserved, result.Status)
	require.Equal(t, 2, repo.calls)
	require.Len(t, inner.txs, 1)
}

func TestReserveGivesUpAfterSecondAbort(t *testing.T) {
	inner := newMemoryLedgerRepo()
	inner.seed("p1", 100, 0)
	repo := &abortingLedgerRepo{memoryLedgerRepo: inner, aborts: 2}
	svc := NewService(repo)

	_, err := svc.Reserve(context.Background(), ReserveInput{
		ProductID:     "p1",
		Qty:           dec(30),
		ReferenceType: "MO",
		ReferenceID:   "mo-1",
	})
	require.Error(t, err)
	require.True(t, shared.IsSerializationFailure(err))
	require.Equal(t, 2, repo.calls)
	require.Empty(t, inner.txs)
}

func TestConcurrentReserveNeverOvercommits(t *testing.T) {
	repo := newMemoryLedgerRepo()
	repo.seed("p1", 50, 0)
	svc := NewService(repo)

	var (
		mu       sync.Mutex
		reserved int
		failed   int
	)
	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < 10; i++ {
		g.Go(func() error {
			result, err := svc.Reserve(ctx, ReserveInput{
				ProductID:     "p1",
				Qty:           dec(10),
				ReferenceType: "MO",
				ReferenceID:   "mo-1",
			})
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			if result.Status == ReserveStatusReserved {
				reserved++
			} else {
				failed++
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	require.Equal(t, 5, reserved)
	require.Equal(t, 5, failed)
	rec := repo.records["p1"]
	require.True(t, rec.QtyReserved.Equal(dec(50)))
	require.True(t, rec.Available().IsZero())
}
