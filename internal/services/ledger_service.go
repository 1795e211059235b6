package services

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"ledger/internal/db"
	"ledger/internal/idempotency"
	"ledger/internal/metrics"
	"ledger/internal/models"
	"ledger/internal/money"
	"ledger/internal/store"
	"ledger/internal/websocket"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

var (
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrUserNotFound        = errors.New("user not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	// ErrInProgress is returned when another request holds an active lease for
	// the same idempotency key. The caller may retry after the holder commits
	// or its lease expires.
	ErrInProgress = errors.New("a request with this idempotency key is in progress")
)

type AccountStore interface {
	Get(ctx context.Context, userID string) (models.Account, error)
	GetForUpdate(ctx context.Context, tx store.Getter, userID string) (models.Account, error)
	UpdateBalance(ctx context.Context, tx store.Execer, userID string, balance int64) error
}

type TransactionStore interface {
	Create(ctx context.Context, tx store.Execer, input store.TransactionInput) error
	GetByID(ctx context.Context, id string) (models.Transaction, error)
	GetCompletedByKey(ctx context.Context, key string) (models.Transaction, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.Transaction, error)
	SumCompletedByUser(ctx context.Context, userID string) (int64, error)
}

type Guard interface {
	Reserve(ctx context.Context, key string) (idempotency.Reservation, error)
	Release(ctx context.Context, key string) error
}

type BalanceHub interface {
	BroadcastBalance(userID string, event websocket.BalanceChanged)
}

type AuditLogger interface {
	Log(ctx context.Context, actorID, action, entityType, entityID, data string) error
}

type JobQueue interface {
	Submit(job func())
}

// LedgerService owns all balance mutations. Credits and debits run as one
// atomic unit: read balance under lock, check, write balance, insert the
// transaction row. The unique index on the idempotency key is the final
// arbiter of exactly-once, with the guard's lease fencing concurrent attempts
// before the row exists.
type LedgerService struct {
	txRunner     db.TxRunner
	accounts     AccountStore
	transactions TransactionStore
	guard        Guard
	hub          BalanceHub
	audit        AuditLogger
	jobs         JobQueue
	log          *slog.Logger
}

func NewLedgerService(txRunner db.TxRunner, accounts AccountStore, transactions TransactionStore, guard Guard, hub BalanceHub, audit AuditLogger, jobs JobQueue, log *slog.Logger) *LedgerService {
	return &LedgerService{
		txRunner:     txRunner,
		accounts:     accounts,
		transactions: transactions,
		guard:        guard,
		hub:          hub,
		audit:        audit,
		jobs:         jobs,
		log:          log,
	}
}

type AdjustRequest struct {
	UserID      string
	Amount      int64 // always positive; Credit and Debit choose the sign
	Type        string
	Description string
	// IdempotencyKey is optional. Without it the mutation runs in a weaker
	// mode with no replay protection, intended only for internally-originated
	// adjustments that cannot be retried by a client.
	IdempotencyKey *string
}

type AdjustResult struct {
	Transaction models.Transaction
	NewBalance  int64
	// Duplicate is true when the idempotency key was already applied; the
	// returned transaction is the one committed by the original request.
	Duplicate bool
}

func (s *LedgerService) Credit(ctx context.Context, req AdjustRequest) (AdjustResult, error) {
	if req.Amount <= 0 {
		return AdjustResult{}, ErrInvalidAmount
	}
	return s.adjust(ctx, req, req.Amount)
}

func (s *LedgerService) Debit(ctx context.Context, req AdjustRequest) (AdjustResult, error) {
	if req.Amount <= 0 {
		return AdjustResult{}, ErrInvalidAmount
	}
	return s.adjust(ctx, req, -req.Amount)
}

func (s *LedgerService) Balance(ctx context.Context, userID string) (int64, error) {
	account, err := s.accounts.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrUserNotFound
		}
		return 0, err
	}
	return account.Balance, nil
}

func (s *LedgerService) ListTransactions(ctx context.Context, userID string, limit, offset int) ([]models.Transaction, error) {
	return s.transactions.ListByUser(ctx, userID, limit, offset)
}

// GetTransaction loads a single transaction scoped to its owner. Another
// user's transaction is indistinguishable from a missing one.
func (s *LedgerService) GetTransaction(ctx context.Context, userID, transactionID string) (models.Transaction, error) {
	txn, err := s.transactions.GetByID(ctx, transactionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Transaction{}, ErrTransactionNotFound
		}
		return models.Transaction{}, err
	}
	if txn.UserID != userID {
		return models.Transaction{}, ErrTransactionNotFound
	}
	return txn, nil
}

// SelfCheck compares the stored balance with the sum of completed transaction
// amounts. The two must agree at all times.
func (s *LedgerService) SelfCheck(ctx context.Context, userID string) (stored, calculated int64, err error) {
	account, err := s.accounts.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, 0, ErrUserNotFound
		}
		return 0, 0, err
	}
	sum, err := s.transactions.SumCompletedByUser(ctx, userID)
	if err != nil {
		return 0, 0, err
	}
	return account.Balance, sum, nil
}

func (s *LedgerService) adjust(ctx context.Context, req AdjustRequest, delta int64) (AdjustResult, error) {
	if req.IdempotencyKey != nil && *req.IdempotencyKey != "" {
		key := *req.IdempotencyKey
		reservation, err := s.guard.Reserve(ctx, key)
		if err != nil {
			return AdjustResult{}, err
		}
		switch reservation.State {
		case idempotency.AlreadyApplied:
			return s.duplicateResult(ctx, reservation.Existing)
		case idempotency.InProgress:
			return AdjustResult{}, ErrInProgress
		}
		// Lease held. It is released on every exit: after a commit the
		// transaction row answers replays, after a failure a retry may
		// proceed immediately.
		defer func() {
			if err := s.guard.Release(context.WithoutCancel(ctx), key); err != nil {
				s.log.Error("release idempotency lease", "key", key, "err", err)
			}
		}()
	}

	result, err := s.apply(ctx, req, delta)
	if err != nil {
		// Two holders can race past the guard across a lease expiry; the
		// unique index decides, and the loser reports the winner's result.
		if db.IsUniqueViolation(err) && req.IdempotencyKey != nil {
			existing, lookupErr := s.transactions.GetCompletedByKey(ctx, *req.IdempotencyKey)
			if lookupErr == nil {
				return s.duplicateResult(ctx, existing)
			}
			return AdjustResult{}, lookupErr
		}
		return AdjustResult{}, err
	}

	s.afterCommit(result)
	return result, nil
}

func (s *LedgerService) apply(ctx context.Context, req AdjustRequest, delta int64) (AdjustResult, error) {
	var result AdjustResult
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		account, err := s.accounts.GetForUpdate(ctx, tx, req.UserID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrUserNotFound
			}
			return err
		}
		newBalance := account.Balance + delta
		if newBalance < 0 {
			return ErrInsufficientBalance
		}
		if err := s.accounts.UpdateBalance(ctx, tx, req.UserID, newBalance); err != nil {
			return err
		}
		txn := models.Transaction{
			ID:             uuid.NewString(),
			UserID:         req.UserID,
			Amount:         delta,
			Type:           req.Type,
			Status:         models.TxCompleted,
			Description:    req.Description,
			IdempotencyKey: req.IdempotencyKey,
		}
		if err := s.transactions.Create(ctx, tx, store.TransactionInput{
			ID:             txn.ID,
			UserID:         txn.UserID,
			Amount:         txn.Amount,
			Type:           txn.Type,
			Status:         txn.Status,
			Description:    txn.Description,
			IdempotencyKey: txn.IdempotencyKey,
		}); err != nil {
			return err
		}
		result = AdjustResult{Transaction: txn, NewBalance: newBalance}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInsufficientBalance) {
			metrics.InsufficientTotal.Inc()
		}
		return AdjustResult{}, err
	}
	return result, nil
}

func (s *LedgerService) duplicateResult(ctx context.Context, existing models.Transaction) (AdjustResult, error) {
	metrics.DuplicatesTotal.Inc()
	balance, err := s.Balance(ctx, existing.UserID)
	if err != nil {
		return AdjustResult{}, err
	}
	return AdjustResult{Transaction: existing, NewBalance: balance, Duplicate: true}, nil
}

// afterCommit runs the best-effort side effects of a committed mutation: the
// balance_changed event, metrics, and the audit row. None of them can fail or
// block the mutation itself.
func (s *LedgerService) afterCommit(result AdjustResult) {
	metrics.TransactionsTotal.WithLabelValues(result.Transaction.Type).Inc()
	s.hub.BroadcastBalance(result.Transaction.UserID, websocket.BalanceChanged{
		UserID:        result.Transaction.UserID,
		Balance:       money.FormatMinor(result.NewBalance),
		TransactionID: result.Transaction.ID,
		Type:          result.Transaction.Type,
	})
	txn := result.Transaction
	s.jobs.Submit(func() {
		if err := s.audit.Log(context.Background(), txn.UserID, "balance_"+txn.Type, "transaction", txn.ID, auditData(txn)); err != nil {
			s.log.Error("audit log", "transaction_id", txn.ID, "err", err)
		}
	})
}
