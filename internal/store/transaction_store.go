package store

import (
	"context"

	"ledger/internal/models"
)

type TransactionStore struct {
	db DB
}

func NewTransactionStore(db DB) *TransactionStore {
	return &TransactionStore{db: db}
}

type TransactionInput struct {
	ID             string
	UserID         string
	Amount         int64
	Type           string
	Status         string
	Description    string
	IdempotencyKey *string
}

// Create inserts a transaction row. A unique index on idempotency_key makes
// the insert fail with unique_violation when the key was already applied;
// callers translate that into a duplicate outcome.
func (s *TransactionStore) Create(ctx context.Context, tx Execer, input TransactionInput) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO transactions (id, user_id, amount, type, status, description, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, input.ID, input.UserID, input.Amount, input.Type, input.Status, input.Description, input.IdempotencyKey)
	return err
}

func (s *TransactionStore) GetByID(ctx context.Context, id string) (models.Transaction, error) {
	var row models.Transaction
	err := s.db.GetContext(ctx, &row, `
		SELECT id, user_id, amount, type, status, description, idempotency_key, created_at
		FROM transactions
		WHERE id = $1
	`, id)
	if err != nil {
		return models.Transaction{}, err
	}
	return row, nil
}

// GetCompletedByKey answers "was this key already applied" from durable
// storage. Only completed transactions count.
func (s *TransactionStore) GetCompletedByKey(ctx context.Context, key string) (models.Transaction, error) {
	var row models.Transaction
	err := s.db.GetContext(ctx, &row, `
		SELECT id, user_id, amount, type, status, description, idempotency_key, created_at
		FROM transactions
		WHERE idempotency_key = $1 AND status = 'completed'
	`, key)
	if err != nil {
		return models.Transaction{}, err
	}
	return row, nil
}

func (s *TransactionStore) ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.Transaction, error) {
	var rows []models.Transaction
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, user_id, amount, type, status, description, idempotency_key, created_at
		FROM transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// SumCompletedByUser reconstructs the balance from the transaction log, used
// by the self-check endpoint to verify the stored balance.
func (s *TransactionStore) SumCompletedByUser(ctx context.Context, userID string) (int64, error) {
	var sum int64
	err := s.db.GetContext(ctx, &sum, `
		SELECT COALESCE(SUM(amount), 0)
		FROM transactions
		WHERE user_id = $1 AND status = 'completed'
	`, userID)
	return sum, err
}
