package store

import (
	"context"
	"time"
)

type LeaseStore struct {
	db DB
}

func NewLeaseStore(db DB) *LeaseStore {
	return &LeaseStore{db: db}
}

// Acquire takes the lease for key if it is free or expired. The conditional
// upsert makes takeover of an expired lease atomic; a live lease held by
// someone else updates no row and returns false.
func (s *LeaseStore) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	var acquired string
	err := s.db.GetContext(ctx, &acquired, `
		INSERT INTO idempotency_leases (key, acquired_at, expires_at)
		VALUES ($1, NOW(), NOW() + make_interval(secs => $2))
		ON CONFLICT (key) DO UPDATE
		SET acquired_at = NOW(), expires_at = NOW() + make_interval(secs => $2)
		WHERE idempotency_leases.expires_at < NOW()
		RETURNING key
	`, key, ttl.Seconds())
	if err != nil {
		if isNoRows(err) {
			return false, nil
		}
		return false, err
	}
	return acquired == key, nil
}

func (s *LeaseStore) Release(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM idempotency_leases WHERE key = $1`, key)
	return err
}
