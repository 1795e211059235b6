package store

import (
	"context"

	"ledger/internal/models"
)

type AccountStore struct {
	db DB
}

func NewAccountStore(db DB) *AccountStore {
	return &AccountStore{db: db}
}

func (s *AccountStore) Create(ctx context.Context, tx Execer, userID string, balance int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO accounts (user_id, balance)
		VALUES ($1, $2)
	`, userID, balance)
	return err
}

func (s *AccountStore) Get(ctx context.Context, userID string) (models.Account, error) {
	var row models.Account
	err := s.db.GetContext(ctx, &row, `
		SELECT user_id, balance, updated_at
		FROM accounts
		WHERE user_id = $1
	`, userID)
	if err != nil {
		return models.Account{}, err
	}
	return row, nil
}

// GetForUpdate locks the account row for the remainder of the surrounding
// transaction. All balance mutations go through this lock, which linearizes
// operations on the same account.
func (s *AccountStore) GetForUpdate(ctx context.Context, tx Getter, userID string) (models.Account, error) {
	var row models.Account
	err := tx.GetContext(ctx, &row, `
		SELECT user_id, balance, updated_at
		FROM accounts
		WHERE user_id = $1
		FOR UPDATE
	`, userID)
	if err != nil {
		return models.Account{}, err
	}
	return row, nil
}

func (s *AccountStore) UpdateBalance(ctx context.Context, tx Execer, userID string, balance int64) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE accounts
		SET balance = $1, updated_at = NOW()
		WHERE user_id = $2
	`, balance, userID)
	return err
}
