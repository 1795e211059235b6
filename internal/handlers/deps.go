package handlers

import (
	"context"

	"ledger/internal/models"
	"ledger/internal/services"
	"ledger/internal/store"
	"ledger/internal/webhook"
)

type UserStore interface {
	Create(ctx context.Context, tx store.Execer, id, username, email, passwordHash string) error
	GetByEmail(ctx context.Context, email string) (models.User, error)
	GetByID(ctx context.Context, userID string) (models.User, error)
}

type AccountStore interface {
	Create(ctx context.Context, tx store.Execer, userID string, balance int64) error
}

type LedgerService interface {
	Credit(ctx context.Context, req services.AdjustRequest) (services.AdjustResult, error)
	Debit(ctx context.Context, req services.AdjustRequest) (services.AdjustResult, error)
	Balance(ctx context.Context, userID string) (int64, error)
	ListTransactions(ctx context.Context, userID string, limit, offset int) ([]models.Transaction, error)
	GetTransaction(ctx context.Context, userID, transactionID string) (models.Transaction, error)
	SelfCheck(ctx context.Context, userID string) (stored, calculated int64, err error)
}

type TopUpService interface {
	CreateSession(ctx context.Context, userID, userEmail string, amountMinor int64) (services.CreateSessionResult, error)
	VerifySession(ctx context.Context, sessionID string) (services.VerifyResult, error)
}

type WebhookProcessor interface {
	Process(ctx context.Context, payload []byte, signatureHeader string) webhook.Result
}

type AuditStore interface {
	Log(ctx context.Context, actorID, action, entityType, entityID, data string) error
	List(ctx context.Context, limit, offset int) ([]map[string]any, error)
}
