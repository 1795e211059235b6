package services

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"ledger/internal/idempotency"
	"ledger/internal/models"
	"ledger/internal/store"
	"ledger/internal/websocket"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

type stubAccountStore struct {
	getFn          func(ctx context.Context, userID string) (models.Account, error)
	getForUpdateFn func(ctx context.Context, tx store.Getter, userID string) (models.Account, error)
	updateFn       func(ctx context.Context, tx store.Execer, userID string, balance int64) error
}

func (s *stubAccountStore) Get(ctx context.Context, userID string) (models.Account, error) {
	return s.getFn(ctx, userID)
}

func (s *stubAccountStore) GetForUpdate(ctx context.Context, tx store.Getter, userID string) (models.Account, error) {
	return s.getForUpdateFn(ctx, tx, userID)
}

func (s *stubAccountStore) UpdateBalance(ctx context.Context, tx store.Execer, userID string, balance int64) error {
	return s.updateFn(ctx, tx, userID, balance)
}

type stubTransactionStore struct {
	createFn       func(ctx context.Context, tx store.Execer, input store.TransactionInput) error
	getByIDFn      func(ctx context.Context, id string) (models.Transaction, error)
	getByKeyFn     func(ctx context.Context, key string) (models.Transaction, error)
	listFn         func(ctx context.Context, userID string, limit, offset int) ([]models.Transaction, error)
	sumCompletedFn func(ctx context.Context, userID string) (int64, error)
}

func (s *stubTransactionStore) Create(ctx context.Context, tx store.Execer, input store.TransactionInput) error {
	return s.createFn(ctx, tx, input)
}

func (s *stubTransactionStore) GetByID(ctx context.Context, id string) (models.Transaction, error) {
	if s.getByIDFn != nil {
		return s.getByIDFn(ctx, id)
	}
	return models.Transaction{}, sql.ErrNoRows
}

func (s *stubTransactionStore) GetCompletedByKey(ctx context.Context, key string) (models.Transaction, error) {
	return s.getByKeyFn(ctx, key)
}

func (s *stubTransactionStore) ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.Transaction, error) {
	return s.listFn(ctx, userID, limit, offset)
}

func (s *stubTransactionStore) SumCompletedByUser(ctx context.Context, userID string) (int64, error) {
	return s.sumCompletedFn(ctx, userID)
}

type stubGuard struct {
	reserveFn func(ctx context.Context, key string) (idempotency.Reservation, error)
	releaseFn func(ctx context.Context, key string) error
}

func (s *stubGuard) Reserve(ctx context.Context, key string) (idempotency.Reservation, error) {
	if s.reserveFn != nil {
		return s.reserveFn(ctx, key)
	}
	return idempotency.Reservation{State: idempotency.Acquired}, nil
}

func (s *stubGuard) Release(ctx context.Context, key string) error {
	if s.releaseFn != nil {
		return s.releaseFn(ctx, key)
	}
	return nil
}

type stubHub struct {
	mu     sync.Mutex
	events []websocket.BalanceChanged
}

func (s *stubHub) BroadcastBalance(userID string, event websocket.BalanceChanged) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

type stubAuditLogger struct {
	mu    sync.Mutex
	calls int
}

func (s *stubAuditLogger) Log(ctx context.Context, actorID, action, entityType, entityID, data string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return nil
}

// inlineJobs runs submitted jobs synchronously so tests can assert on their
// effects without sleeping.
type inlineJobs struct{}

func (inlineJobs) Submit(job func()) { job() }

// stubTxRunner serializes bodies under one mutex, standing in for the row
// lock GetForUpdate takes in Postgres.
type stubTxRunner struct {
	mu sync.Mutex
}

func (r *stubTxRunner) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(nil)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ledgerFixture backs the service with in-memory balance and transaction
// state so multi-step scenarios behave like a real database, unique key
// constraint included.
type ledgerFixture struct {
	mu           sync.Mutex
	balance      int64
	transactions []models.Transaction
	byKey        map[string]models.Transaction

	service *LedgerService
	hub     *stubHub
	audit   *stubAuditLogger
	guard   Guard
}

func newLedgerFixture(t *testing.T, initialBalance int64) *ledgerFixture {
	t.Helper()
	f := &ledgerFixture{balance: initialBalance, byKey: make(map[string]models.Transaction)}

	accounts := &stubAccountStore{
		getFn: func(ctx context.Context, userID string) (models.Account, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			return models.Account{UserID: userID, Balance: f.balance}, nil
		},
		getForUpdateFn: func(ctx context.Context, tx store.Getter, userID string) (models.Account, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			return models.Account{UserID: userID, Balance: f.balance}, nil
		},
		updateFn: func(ctx context.Context, tx store.Execer, userID string, balance int64) error {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.balance = balance
			return nil
		},
	}
	transactions := &stubTransactionStore{
		createFn: func(ctx context.Context, tx store.Execer, input store.TransactionInput) error {
			f.mu.Lock()
			defer f.mu.Unlock()
			if input.IdempotencyKey != nil {
				if _, exists := f.byKey[*input.IdempotencyKey]; exists {
					return &pq.Error{Code: "23505", Constraint: "transactions_idempotency_key_key"}
				}
			}
			txn := models.Transaction{
				ID:             input.ID,
				UserID:         input.UserID,
				Amount:         input.Amount,
				Type:           input.Type,
				Status:         input.Status,
				Description:    input.Description,
				IdempotencyKey: input.IdempotencyKey,
			}
			f.transactions = append(f.transactions, txn)
			if input.IdempotencyKey != nil {
				f.byKey[*input.IdempotencyKey] = txn
			}
			return nil
		},
		getByKeyFn: func(ctx context.Context, key string) (models.Transaction, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			if txn, ok := f.byKey[key]; ok {
				return txn, nil
			}
			return models.Transaction{}, sql.ErrNoRows
		},
		listFn: func(ctx context.Context, userID string, limit, offset int) ([]models.Transaction, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			return append([]models.Transaction(nil), f.transactions...), nil
		},
		sumCompletedFn: func(ctx context.Context, userID string) (int64, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			var sum int64
			for _, txn := range f.transactions {
				sum += txn.Amount
			}
			return sum, nil
		},
	}

	f.guard = &stubGuard{
		reserveFn: func(ctx context.Context, key string) (idempotency.Reservation, error) {
			if txn, err := transactions.getByKeyFn(ctx, key); err == nil {
				return idempotency.Reservation{State: idempotency.AlreadyApplied, Existing: txn}, nil
			}
			return idempotency.Reservation{State: idempotency.Acquired}, nil
		},
	}
	f.hub = &stubHub{}
	f.audit = &stubAuditLogger{}
	f.service = NewLedgerService(&stubTxRunner{}, accounts, transactions, f.guard, f.hub, f.audit, inlineJobs{}, testLogger())
	return f
}

func strptr(s string) *string { return &s }

func TestCreditIncreasesBalance(t *testing.T) {
	f := newLedgerFixture(t, 0)
	result, err := f.service.Credit(context.Background(), AdjustRequest{
		UserID: "user-1", Amount: 1000, Type: models.TxTopUp, Description: "Balance top-up",
		IdempotencyKey: strptr("key-1"),
	})
	if err != nil {
		t.Fatalf("credit: %v", err)
	}
	if result.NewBalance != 1000 || result.Duplicate {
		t.Fatalf("expected fresh balance 1000, got %+v", result)
	}
	if result.Transaction.Amount != 1000 {
		t.Fatalf("expected signed amount +1000, got %d", result.Transaction.Amount)
	}
	if len(f.hub.events) != 1 || f.hub.events[0].Balance != "10.00" {
		t.Fatalf("expected one balance event with 10.00, got %+v", f.hub.events)
	}
	if f.audit.calls != 1 {
		t.Fatalf("expected one audit entry, got %d", f.audit.calls)
	}
}

func TestCreditRepeatedKeyIsDuplicate(t *testing.T) {
	f := newLedgerFixture(t, 0)
	ctx := context.Background()
	req := AdjustRequest{UserID: "user-1", Amount: 1000, Type: models.TxTopUp, IdempotencyKey: strptr("key-1")}

	first, err := f.service.Credit(ctx, req)
	if err != nil {
		t.Fatalf("first credit: %v", err)
	}
	second, err := f.service.Credit(ctx, req)
	if err != nil {
		t.Fatalf("second credit: %v", err)
	}
	if !second.Duplicate {
		t.Fatal("expected duplicate on key replay")
	}
	if second.Transaction.ID != first.Transaction.ID {
		t.Fatalf("expected the original transaction back, got %s vs %s", second.Transaction.ID, first.Transaction.ID)
	}
	if second.NewBalance != 1000 {
		t.Fatalf("balance must not move on replay, got %d", second.NewBalance)
	}
	if len(f.transactions) != 1 {
		t.Fatalf("expected exactly one committed transaction, got %d", len(f.transactions))
	}
}

func TestDebitInsufficientBalance(t *testing.T) {
	f := newLedgerFixture(t, 500)
	ctx := context.Background()

	if _, err := f.service.Debit(ctx, AdjustRequest{UserID: "user-1", Amount: 500, Type: models.TxPurchase}); err != nil {
		t.Fatalf("debit to zero: %v", err)
	}
	_, err := f.service.Debit(ctx, AdjustRequest{UserID: "user-1", Amount: 1, Type: models.TxPurchase})
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if f.balance != 0 {
		t.Fatalf("failed debit must not move the balance, got %d", f.balance)
	}
}

func TestDebitRejectsNonPositiveAmount(t *testing.T) {
	f := newLedgerFixture(t, 500)
	for _, amount := range []int64{0, -100} {
		if _, err := f.service.Debit(context.Background(), AdjustRequest{UserID: "user-1", Amount: amount, Type: models.TxPurchase}); !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("amount %d: expected ErrInvalidAmount, got %v", amount, err)
		}
	}
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	f := newLedgerFixture(t, 400)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.service.Debit(ctx, AdjustRequest{UserID: "user-1", Amount: 300, Type: models.TxPurchase})
		}(i)
	}
	wg.Wait()

	var succeeded, insufficient int
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrInsufficientBalance):
			insufficient++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 || insufficient != 1 {
		t.Fatalf("expected exactly one success and one refusal, got %d/%d", succeeded, insufficient)
	}
	if f.balance != 100 {
		t.Fatalf("expected final balance 100, got %d", f.balance)
	}
}

func TestUniqueViolationResolvesToWinner(t *testing.T) {
	// The lease can expire mid-flight and let a second holder reach the
	// insert. The unique index rejects it, and the loser must report the
	// winner's committed transaction instead of an error.
	f := newLedgerFixture(t, 0)
	ctx := context.Background()
	key := "key-racing"

	winner := models.Transaction{ID: "txn-winner", UserID: "user-1", Amount: 1000, Type: models.TxTopUp, Status: models.TxCompleted, IdempotencyKey: &key}
	guard := f.guard.(*stubGuard)
	reserveOrig := guard.reserveFn
	guard.reserveFn = func(ctx context.Context, rkey string) (idempotency.Reservation, error) {
		// Simulate the winner committing between the guard check and our
		// insert: the guard says go, then the row appears.
		f.mu.Lock()
		f.byKey[key] = winner
		f.mu.Unlock()
		guard.reserveFn = reserveOrig
		return idempotency.Reservation{State: idempotency.Acquired}, nil
	}

	result, err := f.service.Credit(ctx, AdjustRequest{UserID: "user-1", Amount: 1000, Type: models.TxTopUp, IdempotencyKey: &key})
	if err != nil {
		t.Fatalf("credit: %v", err)
	}
	if !result.Duplicate || result.Transaction.ID != "txn-winner" {
		t.Fatalf("expected the winner's transaction as a duplicate, got %+v", result)
	}
	if result.NewBalance != 1000 {
		t.Fatalf("expected the winner's balance, got %d", result.NewBalance)
	}
	if len(f.transactions) != 0 {
		t.Fatalf("loser must not commit a second transaction, got %d", len(f.transactions))
	}
}

func TestAdjustInProgressKey(t *testing.T) {
	f := newLedgerFixture(t, 0)
	f.guard.(*stubGuard).reserveFn = func(ctx context.Context, key string) (idempotency.Reservation, error) {
		return idempotency.Reservation{State: idempotency.InProgress}, nil
	}
	_, err := f.service.Credit(context.Background(), AdjustRequest{UserID: "user-1", Amount: 1000, Type: models.TxTopUp, IdempotencyKey: strptr("key-1")})
	if !errors.Is(err, ErrInProgress) {
		t.Fatalf("expected ErrInProgress, got %v", err)
	}
}

func TestDebitUnknownUser(t *testing.T) {
	accounts := &stubAccountStore{
		getForUpdateFn: func(ctx context.Context, tx store.Getter, userID string) (models.Account, error) {
			return models.Account{}, sql.ErrNoRows
		},
	}
	service := NewLedgerService(&stubTxRunner{}, accounts, &stubTransactionStore{}, &stubGuard{}, &stubHub{}, &stubAuditLogger{}, inlineJobs{}, testLogger())
	_, err := service.Debit(context.Background(), AdjustRequest{UserID: "ghost", Amount: 100, Type: models.TxPurchase})
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestSelfCheckAgreesAfterMutations(t *testing.T) {
	f := newLedgerFixture(t, 0)
	ctx := context.Background()

	if _, err := f.service.Credit(ctx, AdjustRequest{UserID: "user-1", Amount: 2500, Type: models.TxTopUp}); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if _, err := f.service.Debit(ctx, AdjustRequest{UserID: "user-1", Amount: 700, Type: models.TxPurchase}); err != nil {
		t.Fatalf("debit: %v", err)
	}

	stored, calculated, err := f.service.SelfCheck(ctx, "user-1")
	if err != nil {
		t.Fatalf("self check: %v", err)
	}
	if stored != 1800 || calculated != 1800 {
		t.Fatalf("stored and calculated must agree at 1800, got %d/%d", stored, calculated)
	}
}

func TestGetTransactionScopedToOwner(t *testing.T) {
	transactions := &stubTransactionStore{getByIDFn: func(ctx context.Context, id string) (models.Transaction, error) {
		if id == "txn-1" {
			return models.Transaction{ID: "txn-1", UserID: "user-1", Amount: 500}, nil
		}
		return models.Transaction{}, sql.ErrNoRows
	}}
	service := NewLedgerService(&stubTxRunner{}, &stubAccountStore{}, transactions, &stubGuard{}, &stubHub{}, &stubAuditLogger{}, inlineJobs{}, testLogger())
	ctx := context.Background()

	txn, err := service.GetTransaction(ctx, "user-1", "txn-1")
	if err != nil {
		t.Fatalf("get transaction: %v", err)
	}
	if txn.ID != "txn-1" || txn.Amount != 500 {
		t.Fatalf("unexpected transaction: %+v", txn)
	}

	if _, err := service.GetTransaction(ctx, "user-2", "txn-1"); !errors.Is(err, ErrTransactionNotFound) {
		t.Fatalf("expected ErrTransactionNotFound for another user's transaction, got %v", err)
	}
	if _, err := service.GetTransaction(ctx, "user-1", "txn-missing"); !errors.Is(err, ErrTransactionNotFound) {
		t.Fatalf("expected ErrTransactionNotFound for a missing id, got %v", err)
	}
}
