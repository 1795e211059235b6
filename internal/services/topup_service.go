package services

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"ledger/internal/gateway"
	"ledger/internal/models"
)

var (
	ErrBelowMinimum    = errors.New("amount below configured minimum")
	ErrSessionNotFound = errors.New("payment session not found")
)

type CheckoutGateway interface {
	CreateCheckoutSession(ctx context.Context, params gateway.CreateSessionParams) (gateway.CheckoutSession, error)
	GetCheckoutSession(ctx context.Context, sessionID string) (gateway.CheckoutSession, error)
}

type SessionStore interface {
	Create(ctx context.Context, sessionID, userID string, requestedAmount int64) error
	Get(ctx context.Context, sessionID string) (models.PaymentSession, error)
	MarkConsumed(ctx context.Context, sessionID string) (int64, error)
}

type LedgerAdjuster interface {
	Credit(ctx context.Context, req AdjustRequest) (AdjustResult, error)
}

type TransactionReader interface {
	GetCompletedByKey(ctx context.Context, key string) (models.Transaction, error)
}

type TopUpConfig struct {
	Currency      string
	MinTopUpMinor int64
	PublicBaseURL string
}

// TopUpService opens provider checkout sessions and reconciles them back into
// ledger credits through the pull-based verify path. The webhook path
// converges on the same Credit call with the same key, so whichever arrives
// second observes a duplicate.
type TopUpService struct {
	gateway      CheckoutGateway
	sessions     SessionStore
	transactions TransactionReader
	ledger       LedgerAdjuster
	cfg          TopUpConfig
	log          *slog.Logger
}

func NewTopUpService(gw CheckoutGateway, sessions SessionStore, transactions TransactionReader, ledger LedgerAdjuster, cfg TopUpConfig, log *slog.Logger) *TopUpService {
	return &TopUpService{gateway: gw, sessions: sessions, transactions: transactions, ledger: ledger, cfg: cfg, log: log}
}

type CreateSessionResult struct {
	SessionID   string
	RedirectURL string
}

func (s *TopUpService) CreateSession(ctx context.Context, userID, userEmail string, amountMinor int64) (CreateSessionResult, error) {
	if amountMinor <= 0 {
		return CreateSessionResult{}, ErrInvalidAmount
	}
	if amountMinor < s.cfg.MinTopUpMinor {
		return CreateSessionResult{}, ErrBelowMinimum
	}
	session, err := s.gateway.CreateCheckoutSession(ctx, gateway.CreateSessionParams{
		UserID:      userID,
		UserEmail:   userEmail,
		AmountMinor: amountMinor,
		Currency:    s.cfg.Currency,
		SuccessURL:  s.cfg.PublicBaseURL + "/balance/verify?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:   s.cfg.PublicBaseURL + "/balance/cancel",
	})
	if err != nil {
		return CreateSessionResult{}, err
	}
	// The pending session is durable before the client sees the redirect URL,
	// so a later verify or webhook has something to match even if this
	// response is lost.
	if err := s.sessions.Create(ctx, session.ID, userID, amountMinor); err != nil {
		return CreateSessionResult{}, err
	}
	return CreateSessionResult{SessionID: session.ID, RedirectURL: session.URL}, nil
}

type VerifyResult struct {
	Paid   bool
	Amount int64
}

// VerifySession queries the provider for the session's status and, when paid,
// credits the ledger under idempotencyKey = sessionID. Repeat calls return the
// recorded outcome without touching the balance again.
func (s *TopUpService) VerifySession(ctx context.Context, sessionID string) (VerifyResult, error) {
	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return VerifyResult{}, ErrSessionNotFound
		}
		return VerifyResult{}, err
	}
	if session.Consumed {
		// The committed credit is keyed by the session id and its amount is
		// authoritative (the provider's amount_total can differ from what was
		// requested); repeat calls must report the same figure as the first.
		txn, err := s.transactions.GetCompletedByKey(ctx, sessionID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return VerifyResult{Paid: true, Amount: session.RequestedAmount}, nil
			}
			return VerifyResult{}, err
		}
		return VerifyResult{Paid: true, Amount: txn.Amount}, nil
	}

	status, err := s.gateway.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		return VerifyResult{}, err
	}
	if !status.Paid() {
		return VerifyResult{Paid: false}, nil
	}

	amount := status.AmountTotal
	if amount <= 0 {
		amount = session.RequestedAmount
	}
	key := sessionID
	result, err := s.ledger.Credit(ctx, AdjustRequest{
		UserID:         session.UserID,
		Amount:         amount,
		Type:           models.TxTopUp,
		Description:    "Balance top-up",
		IdempotencyKey: &key,
	})
	if err != nil {
		return VerifyResult{}, err
	}
	if _, err := s.sessions.MarkConsumed(ctx, sessionID); err != nil {
		// The credit is committed and keyed by the session id; consumption
		// state is presentation only, so this failure is logged, not fatal.
		s.log.Error("mark session consumed", "session_id", sessionID, "err", err)
	}
	return VerifyResult{Paid: true, Amount: result.Transaction.Amount}, nil
}
