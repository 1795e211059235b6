// Package idempotency fences concurrent attempts to apply the same mutation.
//
// The guard is an optimization, not the source of truth: even if two processes
// both acquire a lease (possible across lease expiry), the unique index on
// transactions.idempotency_key lets at most one insert commit. Callers that
// lose that race must translate the unique violation into AlreadyApplied.
package idempotency

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"ledger/internal/models"
)

type State int

const (
	// Acquired means the caller holds the lease and is obligated to either
	// commit a transaction under the key or release the lease.
	Acquired State = iota
	// AlreadyApplied means a completed transaction with this key exists.
	AlreadyApplied
	// InProgress means another holder has a live lease for the key.
	InProgress
)

type Reservation struct {
	State State
	// Existing is the previously committed transaction when State is
	// AlreadyApplied.
	Existing models.Transaction
}

type TransactionLookup interface {
	GetCompletedByKey(ctx context.Context, key string) (models.Transaction, error)
}

type Leases interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

type Guard struct {
	transactions TransactionLookup
	leases       Leases
	ttl          time.Duration
}

func NewGuard(transactions TransactionLookup, leases Leases, ttl time.Duration) *Guard {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &Guard{transactions: transactions, leases: leases, ttl: ttl}
}

// Reserve checks durable storage before touching the lease, so replays are
// answered from the transaction log regardless of which process instance
// handled the original request.
func (g *Guard) Reserve(ctx context.Context, key string) (Reservation, error) {
	existing, err := g.transactions.GetCompletedByKey(ctx, key)
	if err == nil {
		return Reservation{State: AlreadyApplied, Existing: existing}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Reservation{}, err
	}
	acquired, err := g.leases.Acquire(ctx, key, g.ttl)
	if err != nil {
		return Reservation{}, err
	}
	if !acquired {
		return Reservation{State: InProgress}, nil
	}
	return Reservation{State: Acquired}, nil
}

// Release frees the lease. It is called both after a successful commit (the
// transaction row now answers replays) and on failure (a later attempt may
// retry without waiting out the TTL).
func (g *Guard) Release(ctx context.Context, key string) error {
	return g.leases.Release(ctx, key)
}
