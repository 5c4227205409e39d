package quota

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

type recordingSweeper struct {
	mu      sync.Mutex
	cutoffs []time.Time
	removed int
	err     error
}

func (s *recordingSweeper) Sweep(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cutoffs = append(s.cutoffs, cutoff)
	return s.removed, s.err
}

func (s *recordingSweeper) sweeps() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cutoffs)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestJanitorSweepOnceUsesWindowCutoff(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	sweeper := &recordingSweeper{removed: 7}
	j := NewJanitor(sweeper, newFakeClock(now), time.Minute, time.Minute, quietLogger())

	removed, err := j.SweepOnce(context.Background())
	if err != nil {
		t.Fatalf("SweepOnce: %v", err)
	}
	if removed != 7 {
		t.Errorf("removed = %d, want 7", removed)
	}
	if got, want := sweeper.cutoffs[0], now.Add(-time.Minute); !got.Equal(want) {
		t.Errorf("cutoff = %v, want %v", got, want)
	}
}

func TestJanitorSweepOnceError(t *testing.T) {
	sweeper := &recordingSweeper{err: errors.New("connection refused")}
	j := NewJanitor(sweeper, newFakeClock(time.Now()), time.Minute, time.Minute, quietLogger())

	if _, err := j.SweepOnce(context.Background()); err == nil {
		t.Fatal("expected the store error to surface")
	}
}

func TestJanitorRunSweepsUntilCancelled(t *testing.T) {
	sweeper := &recordingSweeper{}
	j := NewJanitor(sweeper, newFakeClock(time.Now()), time.Minute, time.Millisecond, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- j.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for sweeper.sweeps() < 2 {
		select {
		case <-deadline:
			t.Fatal("janitor never ticked")
		case <-time.After(time.Millisecond):
		}
	}
	cancel()

	if err := <-done; err != nil {
		t.Fatalf("Run returned %v after cancel", err)
	}
}

func TestMemoryEventStoreSweepDropsExpiredKeys(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryEventStore()
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	// "stale" last hit a minute ago; "live" has one old and one fresh event.
	windowStart := base.Add(-time.Minute)
	store.Hit(ctx, "stale", windowStart.Add(-2*time.Minute), base.Add(-time.Minute), 10)
	store.Hit(ctx, "live", windowStart.Add(-2*time.Minute), base.Add(-time.Minute), 10)
	store.Hit(ctx, "live", windowStart.Add(-time.Minute), base, 10)

	removed, err := store.Sweep(ctx, base.Add(-30*time.Second))
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}
	if _, ok := store.events["stale"]; ok {
		t.Error("fully expired key should be deleted from the map")
	}
	if got := len(store.events["live"]); got != 1 {
		t.Errorf("live key kept %d events, want 1", got)
	}

	// The swept store keeps serving hits for returning keys.
	allowed, count, _, err := store.Hit(ctx, "stale", base.Add(-time.Minute), base, 1)
	if err != nil || !allowed || count != 1 {
		t.Errorf("post-sweep hit: allowed=%v count=%d err=%v", allowed, count, err)
	}
}
