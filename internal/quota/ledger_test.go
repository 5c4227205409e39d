package quota

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"stockcast/internal/types"
)

// fakeClock is a settable Clock for deterministic tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// failingCounterStore always errors, simulating a dead database.
type failingCounterStore struct{}

func (failingCounterStore) ConsumeIfBelow(context.Context, string, string, int) (int, bool, error) {
	return 0, false, errors.New("connection refused")
}

func (failingCounterStore) Peek(context.Context, string, string) (int, error) {
	return 0, errors.New("connection refused")
}

func freePolicy(limit int) types.TierPolicy {
	return types.TierPolicy{Tier: types.TierFree, DailyLimit: limit, WindowMax: 10, WindowSeconds: 60}
}

func proPolicy() types.TierPolicy {
	return types.TierPolicy{Tier: types.TierPro, DailyLimit: 0, WindowMax: 10, WindowSeconds: 60}
}

func mustLedger(t *testing.T, store CounterStore, clock types.Clock, tz string) *Ledger {
	t.Helper()
	l, err := NewLedger(store, clock, tz)
	if err != nil {
		t.Fatalf("NewLedger: %v", err)
	}
	return l
}

func TestLedgerConsumeUntilExhausted(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	l := mustLedger(t, NewMemoryCounterStore(), clock, "UTC")
	policy := freePolicy(3)

	for i := 1; i <= 3; i++ {
		snap, ok, err := l.Consume(ctx, "u1", policy)
		if err != nil || !ok {
			t.Fatalf("consume %d: ok=%v err=%v", i, ok, err)
		}
		if snap.Used != i || snap.Remaining != 3-i {
			t.Errorf("consume %d: used=%d remaining=%d", i, snap.Used, snap.Remaining)
		}
	}

	snap, ok, err := l.Consume(ctx, "u1", policy)
	if err != nil {
		t.Fatalf("consume over limit: %v", err)
	}
	if ok {
		t.Error("consume should be denied at the limit")
	}
	if snap.Used != 3 || snap.Remaining != 0 {
		t.Errorf("denied snapshot: used=%d remaining=%d", snap.Used, snap.Remaining)
	}
}

func TestLedgerDayRolloverResetsCounter(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock(time.Date(2026, 3, 10, 23, 59, 0, 0, time.UTC))
	l := mustLedger(t, NewMemoryCounterStore(), clock, "UTC")
	policy := freePolicy(2)

	for i := 0; i < 2; i++ {
		if _, ok, _ := l.Consume(ctx, "u1", policy); !ok {
			t.Fatalf("warm-up consume %d denied", i)
		}
	}
	if _, ok, _ := l.Consume(ctx, "u1", policy); ok {
		t.Fatal("should be exhausted before midnight")
	}

	clock.Advance(2 * time.Minute) // crosses midnight UTC

	snap, ok, err := l.Consume(ctx, "u1", policy)
	if err != nil || !ok {
		t.Fatalf("post-rollover consume: ok=%v err=%v", ok, err)
	}
	if snap.Used != 1 || snap.Remaining != 1 {
		t.Errorf("post-rollover: used=%d remaining=%d", snap.Used, snap.Remaining)
	}
}

func TestLedgerTimezoneBoundary(t *testing.T) {
	// 23:30 in New York is already the next day in UTC. The bucket must
	// follow the configured zone, not UTC.
	ctx := context.Background()
	clock := newFakeClock(time.Date(2026, 3, 11, 3, 30, 0, 0, time.UTC)) // 23:30 Mar 10 in New York (EDT, UTC-4)
	l := mustLedger(t, NewMemoryCounterStore(), clock, "America/New_York")
	policy := freePolicy(1)

	if _, ok, _ := l.Consume(ctx, "u1", policy); !ok {
		t.Fatal("first consume denied")
	}
	if _, ok, _ := l.Consume(ctx, "u1", policy); ok {
		t.Fatal("limit 1 exceeded")
	}

	// 30 minutes later it is past midnight in New York.
	clock.Advance(40 * time.Minute)
	if _, ok, _ := l.Consume(ctx, "u1", policy); !ok {
		t.Error("counter should reset at New York midnight")
	}
}

func TestLedgerUnlimitedStillCounts(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	l := mustLedger(t, NewMemoryCounterStore(), clock, "UTC")

	for i := 1; i <= 50; i++ {
		snap, ok, err := l.Consume(ctx, "pro-user", proPolicy())
		if err != nil || !ok {
			t.Fatalf("unlimited consume %d: ok=%v err=%v", i, ok, err)
		}
		if snap.Used != i {
			t.Errorf("consume %d: used=%d, counter must still track usage", i, snap.Used)
		}
		if !snap.Unlimited || snap.Remaining != -1 {
			t.Errorf("consume %d: unlimited=%v remaining=%d", i, snap.Unlimited, snap.Remaining)
		}
	}
}

func TestLedgerConcurrentConsumeAdmitsExactlyLimit(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	l := mustLedger(t, NewMemoryCounterStore(), clock, "UTC")
	policy := freePolicy(5)

	const workers = 40
	var admitted int64
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok, err := l.Consume(ctx, "u1", policy); err == nil && ok {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if admitted != 5 {
		t.Errorf("admitted %d concurrent consumes, want exactly 5", admitted)
	}
}

func TestLedgerRecordIgnoresLimit(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	store := NewMemoryCounterStore()
	l := mustLedger(t, store, clock, "UTC")
	policy := freePolicy(1)

	if _, ok, _ := l.Consume(ctx, "u1", policy); !ok {
		t.Fatal("first consume denied")
	}
	// Deferred settlement lands after the allowance is gone.
	if err := l.Record(ctx, "u1"); err != nil {
		t.Fatalf("Record: %v", err)
	}
	snap, err := l.Snapshot(ctx, "u1", policy)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Used != 2 {
		t.Errorf("used=%d, want 2 (settlement is unconditional)", snap.Used)
	}
	if snap.Remaining != 0 {
		t.Errorf("remaining=%d, want 0 (clamped, never negative)", snap.Remaining)
	}
}

func TestLedgerStoreErrorPropagates(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	l := mustLedger(t, failingCounterStore{}, clock, "UTC")

	_, ok, err := l.Consume(ctx, "u1", freePolicy(5))
	if err == nil {
		t.Fatal("expected error from failing store")
	}
	if ok {
		t.Error("store failure must not admit")
	}
	var appErr *types.AppError
	if !errors.As(err, &appErr) || appErr.Code != types.ErrCodeInternalDB {
		t.Errorf("got %v, want internal_database_error", err)
	}
}

func TestLedgerInvalidTimezone(t *testing.T) {
	_, err := NewLedger(NewMemoryCounterStore(), types.RealClock{}, "Not/AZone")
	if err == nil {
		t.Fatal("expected error for invalid timezone")
	}
}

func TestLedgerResetsAt(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 10, 15, 30, 0, 0, time.UTC))
	l := mustLedger(t, NewMemoryCounterStore(), clock, "UTC")

	want := time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC)
	if got := l.ResetsAt(clock.Now()); !got.Equal(want) {
		t.Errorf("ResetsAt = %v, want %v", got, want)
	}
}
