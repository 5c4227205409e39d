package quota

import (
	"context"
	"log/slog"
	"time"

	"stockcast/internal/types"
)

// EventSweeper deletes rate-limit events at or before a cutoff, across all
// keys. Implemented by *db.RateLimitStore and *MemoryEventStore.
type EventSweeper interface {
	Sweep(ctx context.Context, cutoff time.Time) (int, error)
}

// Janitor periodically expires whole rate-limit keys. The limiter prunes a
// key only when that key is hit again, so state for callers that stop
// sending requests would otherwise be retained forever; the janitor bounds
// it to one window.
type Janitor struct {
	store    EventSweeper
	clock    types.Clock
	window   time.Duration
	interval time.Duration
	logger   *slog.Logger
}

// NewJanitor creates a Janitor. window is the longest rate-limit window in
// use; anything older than that can no longer influence a decision. A
// non-positive interval defaults to the window.
func NewJanitor(store EventSweeper, clock types.Clock, window, interval time.Duration, logger *slog.Logger) *Janitor {
	if interval <= 0 {
		interval = window
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{
		store:    store,
		clock:    clock,
		window:   window,
		interval: interval,
		logger:   logger,
	}
}

// SweepOnce removes every event outside the current window. Returns the
// number of events removed.
func (j *Janitor) SweepOnce(ctx context.Context) (int, error) {
	cutoff := j.clock.Now().Add(-j.window)
	removed, err := j.store.Sweep(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		j.logger.InfoContext(ctx, "expired rate limit events swept",
			"removed", removed,
			"cutoff", cutoff.Format(time.RFC3339),
		)
	}
	return removed, nil
}

// Run sweeps on the configured interval until ctx is cancelled. Sweep
// failures are logged and retried on the next tick; a dead store must not
// take the process down with it.
func (j *Janitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := j.SweepOnce(ctx); err != nil {
				j.logger.ErrorContext(ctx, "rate limit sweep failed", "error", err)
			}
		}
	}
}
