package handlers

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ledger/internal/auth"
	"ledger/internal/config"
	"ledger/internal/middleware"
	"ledger/internal/models"
	"ledger/internal/services"
	"ledger/internal/store"
	"ledger/internal/webhook"
	"ledger/internal/websocket"

	"github.com/jmoiron/sqlx"
)

type fakeTxRunner struct {
	withTxFn func(ctx context.Context, fn func(*sqlx.Tx) error) error
}

func (f fakeTxRunner) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	if f.withTxFn != nil {
		return f.withTxFn(ctx, fn)
	}
	return fn(nil)
}

type stubUserStore struct {
	createFn     func(ctx context.Context, tx store.Execer, id, username, email, passwordHash string) error
	getByEmailFn func(ctx context.Context, email string) (models.User, error)
	getByIDFn    func(ctx context.Context, userID string) (models.User, error)
}

func (s stubUserStore) Create(ctx context.Context, tx store.Execer, id, username, email, passwordHash string) error {
	if s.createFn == nil {
		return nil
	}
	return s.createFn(ctx, tx, id, username, email, passwordHash)
}

func (s stubUserStore) GetByEmail(ctx context.Context, email string) (models.User, error) {
	if s.getByEmailFn == nil {
		return models.User{}, nil
	}
	return s.getByEmailFn(ctx, email)
}

func (s stubUserStore) GetByID(ctx context.Context, userID string) (models.User, error) {
	if s.getByIDFn == nil {
		return models.User{ID: userID, Email: "user@example.com"}, nil
	}
	return s.getByIDFn(ctx, userID)
}

type stubAccountStore struct {
	createFn func(ctx context.Context, tx store.Execer, userID string, balance int64) error
}

func (s stubAccountStore) Create(ctx context.Context, tx store.Execer, userID string, balance int64) error {
	if s.createFn == nil {
		return nil
	}
	return s.createFn(ctx, tx, userID, balance)
}

type stubLedgerService struct {
	creditFn    func(ctx context.Context, req services.AdjustRequest) (services.AdjustResult, error)
	debitFn     func(ctx context.Context, req services.AdjustRequest) (services.AdjustResult, error)
	balanceFn   func(ctx context.Context, userID string) (int64, error)
	listFn      func(ctx context.Context, userID string, limit, offset int) ([]models.Transaction, error)
	getFn       func(ctx context.Context, userID, transactionID string) (models.Transaction, error)
	selfCheckFn func(ctx context.Context, userID string) (int64, int64, error)
}

func (s stubLedgerService) Credit(ctx context.Context, req services.AdjustRequest) (services.AdjustResult, error) {
	if s.creditFn == nil {
		return services.AdjustResult{}, nil
	}
	return s.creditFn(ctx, req)
}

func (s stubLedgerService) Debit(ctx context.Context, req services.AdjustRequest) (services.AdjustResult, error) {
	if s.debitFn == nil {
		return services.AdjustResult{}, nil
	}
	return s.debitFn(ctx, req)
}

func (s stubLedgerService) Balance(ctx context.Context, userID string) (int64, error) {
	if s.balanceFn == nil {
		return 0, nil
	}
	return s.balanceFn(ctx, userID)
}

func (s stubLedgerService) ListTransactions(ctx context.Context, userID string, limit, offset int) ([]models.Transaction, error) {
	if s.listFn == nil {
		return nil, nil
	}
	return s.listFn(ctx, userID, limit, offset)
}

func (s stubLedgerService) GetTransaction(ctx context.Context, userID, transactionID string) (models.Transaction, error) {
	if s.getFn == nil {
		return models.Transaction{}, services.ErrTransactionNotFound
	}
	return s.getFn(ctx, userID, transactionID)
}

func (s stubLedgerService) SelfCheck(ctx context.Context, userID string) (int64, int64, error) {
	if s.selfCheckFn == nil {
		return 0, 0, nil
	}
	return s.selfCheckFn(ctx, userID)
}

type stubTopUpService struct {
	createSessionFn func(ctx context.Context, userID, userEmail string, amountMinor int64) (services.CreateSessionResult, error)
	verifyFn        func(ctx context.Context, sessionID string) (services.VerifyResult, error)
}

func (s stubTopUpService) CreateSession(ctx context.Context, userID, userEmail string, amountMinor int64) (services.CreateSessionResult, error) {
	if s.createSessionFn == nil {
		return services.CreateSessionResult{}, nil
	}
	return s.createSessionFn(ctx, userID, userEmail, amountMinor)
}

func (s stubTopUpService) VerifySession(ctx context.Context, sessionID string) (services.VerifyResult, error) {
	if s.verifyFn == nil {
		return services.VerifyResult{}, nil
	}
	return s.verifyFn(ctx, sessionID)
}

type stubWebhookProcessor struct {
	processFn func(ctx context.Context, payload []byte, signatureHeader string) webhook.Result
}

func (s stubWebhookProcessor) Process(ctx context.Context, payload []byte, signatureHeader string) webhook.Result {
	if s.processFn == nil {
		return webhook.Result{Outcome: webhook.Applied, Ack: true}
	}
	return s.processFn(ctx, payload, signatureHeader)
}

type stubAuditStore struct {
	logFn  func(ctx context.Context, actorID, action, entityType, entityID, data string) error
	listFn func(ctx context.Context, limit, offset int) ([]map[string]any, error)
}

func (s stubAuditStore) Log(ctx context.Context, actorID, action, entityType, entityID, data string) error {
	if s.logFn == nil {
		return nil
	}
	return s.logFn(ctx, actorID, action, entityType, entityID, data)
}

func (s stubAuditStore) List(ctx context.Context, limit, offset int) ([]map[string]any, error) {
	if s.listFn == nil {
		return nil, nil
	}
	return s.listFn(ctx, limit, offset)
}

type handlerDeps struct {
	txRunner fakeTxRunner
	users    stubUserStore
	accounts stubAccountStore
	ledger   stubLedgerService
	topup    stubTopUpService
	webhooks stubWebhookProcessor
	audit    stubAuditStore
}

func testConfig() config.Config {
	return config.Config{
		JWTSecret:      "test-secret",
		TokenTTL:       time.Hour,
		AllowedOrigins: "*",
		Currency:       "usd",
		MinTopUpMinor:  500,
	}
}

func newTestHandler(t *testing.T, deps handlerDeps) *Handler {
	t.Helper()
	return New(deps.txRunner, testConfig(), deps.users, deps.accounts, deps.ledger, deps.topup, deps.webhooks, deps.audit, websocket.NewHub())
}

func authedRequest(t *testing.T, method, target string, body io.Reader) *http.Request {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	return req.WithContext(middleware.WithUserID(req.Context(), "user-1"))
}

func tokenFor(t *testing.T, userID string) string {
	t.Helper()
	token, err := auth.GenerateToken("test-secret", userID, "user@example.com", time.Hour)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	return token
}
