package models

import "time"

type User struct {
	ID           string    `db:"id" json:"id"`
	Username     string    `db:"username" json:"username"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// Account holds one user's balance in minor currency units. The balance is
// mutated only through the ledger service; the row carries a CHECK (balance >= 0)
// constraint as a final backstop behind the service-level overdraft check.
type Account struct {
	UserID    string    `db:"user_id" json:"user_id"`
	Balance   int64     `db:"balance" json:"balance"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

const (
	TxTopUp      = "topup"
	TxPurchase   = "purchase"
	TxAdjustment = "adjustment"
)

const (
	TxCompleted = "completed"
	TxFailed    = "failed"
)

// Transaction is an immutable ledger record. Amount is signed: positive for
// credits, negative for debits. The sum of completed amounts for a user equals
// that user's account balance. IdempotencyKey is unique across all transactions
// when present.
type Transaction struct {
	ID             string    `db:"id" json:"id"`
	UserID         string    `db:"user_id" json:"user_id"`
	Amount         int64     `db:"amount" json:"amount"`
	Type           string    `db:"type" json:"type"`
	Status         string    `db:"status" json:"status"`
	Description    string    `db:"description" json:"description"`
	IdempotencyKey *string   `db:"idempotency_key" json:"idempotency_key,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// PaymentSession is an in-flight provider checkout. It is recorded before the
// redirect URL is returned to the client and marked consumed the first time it
// produces a completed transaction.
type PaymentSession struct {
	SessionID       string    `db:"session_id" json:"session_id"`
	UserID          string    `db:"user_id" json:"user_id"`
	RequestedAmount int64     `db:"requested_amount" json:"requested_amount"`
	Consumed        bool      `db:"consumed" json:"consumed"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}
