package idempotency

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"ledger/internal/models"
)

type stubLookup struct {
	getFn func(ctx context.Context, key string) (models.Transaction, error)
}

func (s stubLookup) GetCompletedByKey(ctx context.Context, key string) (models.Transaction, error) {
	return s.getFn(ctx, key)
}

type memLeases struct {
	mu      sync.Mutex
	expires map[string]time.Time
}

func newMemLeases() *memLeases {
	return &memLeases{expires: make(map[string]time.Time)}
}

func (m *memLeases) Acquire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if deadline, ok := m.expires[key]; ok && time.Now().Before(deadline) {
		return false, nil
	}
	m.expires[key] = time.Now().Add(ttl)
	return true, nil
}

func (m *memLeases) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.expires, key)
	return nil
}

func noTransaction(context.Context, string) (models.Transaction, error) {
	return models.Transaction{}, sql.ErrNoRows
}

func TestReserveAcquired(t *testing.T) {
	guard := NewGuard(stubLookup{getFn: noTransaction}, newMemLeases(), time.Minute)
	res, err := guard.Reserve(context.Background(), "sess_1")
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if res.State != Acquired {
		t.Fatalf("expected Acquired, got %v", res.State)
	}
}

func TestReserveAlreadyApplied(t *testing.T) {
	existing := models.Transaction{ID: "tx-1", UserID: "user-1", Amount: 1000}
	guard := NewGuard(stubLookup{getFn: func(context.Context, string) (models.Transaction, error) {
		return existing, nil
	}}, newMemLeases(), time.Minute)
	res, err := guard.Reserve(context.Background(), "sess_1")
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if res.State != AlreadyApplied {
		t.Fatalf("expected AlreadyApplied, got %v", res.State)
	}
	if res.Existing.ID != "tx-1" {
		t.Fatalf("expected existing transaction, got %+v", res.Existing)
	}
}

func TestReserveInProgress(t *testing.T) {
	leases := newMemLeases()
	guard := NewGuard(stubLookup{getFn: noTransaction}, leases, time.Minute)
	if _, err := guard.Reserve(context.Background(), "sess_1"); err != nil {
		t.Fatalf("first reserve: %v", err)
	}
	res, err := guard.Reserve(context.Background(), "sess_1")
	if err != nil {
		t.Fatalf("second reserve: %v", err)
	}
	if res.State != InProgress {
		t.Fatalf("expected InProgress, got %v", res.State)
	}
}

func TestReserveAfterRelease(t *testing.T) {
	leases := newMemLeases()
	guard := NewGuard(stubLookup{getFn: noTransaction}, leases, time.Minute)
	if _, err := guard.Reserve(context.Background(), "sess_1"); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := guard.Release(context.Background(), "sess_1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	res, err := guard.Reserve(context.Background(), "sess_1")
	if err != nil {
		t.Fatalf("re-reserve: %v", err)
	}
	if res.State != Acquired {
		t.Fatalf("expected Acquired after release, got %v", res.State)
	}
}

func TestReserveExpiredLeaseIsReclaimable(t *testing.T) {
	leases := newMemLeases()
	guard := NewGuard(stubLookup{getFn: noTransaction}, leases, 10*time.Millisecond)
	if _, err := guard.Reserve(context.Background(), "sess_1"); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	res, err := guard.Reserve(context.Background(), "sess_1")
	if err != nil {
		t.Fatalf("re-reserve: %v", err)
	}
	if res.State != Acquired {
		t.Fatalf("expected Acquired after expiry, got %v", res.State)
	}
}

func TestReserveConcurrentSingleWinner(t *testing.T) {
	guard := NewGuard(stubLookup{getFn: noTransaction}, newMemLeases(), time.Minute)
	const attempts = 16
	var wg sync.WaitGroup
	results := make([]State, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := guard.Reserve(context.Background(), "sess_1")
			if err != nil {
				t.Errorf("reserve: %v", err)
				return
			}
			results[i] = res.State
		}(i)
	}
	wg.Wait()
	acquired := 0
	for _, state := range results {
		if state == Acquired {
			acquired++
		}
	}
	if acquired != 1 {
		t.Fatalf("expected exactly one Acquired, got %d", acquired)
	}
}

func TestReserveLookupError(t *testing.T) {
	boom := errors.New("db down")
	guard := NewGuard(stubLookup{getFn: func(context.Context, string) (models.Transaction, error) {
		return models.Transaction{}, boom
	}}, newMemLeases(), time.Minute)
	if _, err := guard.Reserve(context.Background(), "sess_1"); !errors.Is(err, boom) {
		t.Fatalf("expected lookup error, got %v", err)
	}
}
