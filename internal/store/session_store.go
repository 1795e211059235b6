package store

import (
	"context"

	"ledger/internal/models"
)

type SessionStore struct {
	db DB
}

func NewSessionStore(db DB) *SessionStore {
	return &SessionStore{db: db}
}

func (s *SessionStore) Create(ctx context.Context, sessionID, userID string, requestedAmount int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payment_sessions (session_id, user_id, requested_amount)
		VALUES ($1, $2, $3)
	`, sessionID, userID, requestedAmount)
	return err
}

func (s *SessionStore) Get(ctx context.Context, sessionID string) (models.PaymentSession, error) {
	var row models.PaymentSession
	err := s.db.GetContext(ctx, &row, `
		SELECT session_id, user_id, requested_amount, consumed, created_at
		FROM payment_sessions
		WHERE session_id = $1
	`, sessionID)
	if err != nil {
		return models.PaymentSession{}, err
	}
	return row, nil
}

// MarkConsumed flips a session to consumed exactly once. It returns the number
// of rows changed: zero means the session was already consumed (or unknown).
func (s *SessionStore) MarkConsumed(ctx context.Context, sessionID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE payment_sessions
		SET consumed = TRUE
		WHERE session_id = $1 AND consumed = FALSE
	`, sessionID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
