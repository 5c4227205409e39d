package quota

import (
	"context"
	"time"

	"stockcast/internal/types"
)

// RateLimitResult describes the outcome of a throttle check.
type RateLimitResult struct {
	Allowed   bool
	Remaining int
	// ResetAt is when the oldest counted event leaves the window, i.e. the
	// earliest instant a denied caller could be admitted. Zero when the
	// request was allowed with the window not yet full.
	ResetAt time.Time
}

// EventStore is the persistence contract for the sliding-window throttle.
// Implementations must make Hit atomic per key: concurrent hits on the last
// remaining slot must admit exactly one.
type EventStore interface {
	// Hit prunes events at or before windowStart, counts the events in
	// (windowStart, now], and records a new event if the count is below max.
	// Returns whether the event was recorded, the resulting count of events
	// in the window, and the timestamp of the oldest surviving event (zero
	// when the window is empty).
	Hit(ctx context.Context, key string, windowStart, now time.Time, max int) (recorded bool, count int, oldest time.Time, err error)
}

// Limiter enforces a per-key sliding-window cap on request attempts. The
// window is half-open, (now-period, now]: an event aged exactly one full
// period no longer counts.
//
// Availability beats strictness here: if the event store is unreachable the
// limiter reports the attempt as allowed and surfaces the error to the
// caller for logging. The daily ledger is the backstop against sustained
// over-use; the throttle only shapes bursts.
type Limiter struct {
	store EventStore
	clock types.Clock
}

// NewLimiter creates a Limiter over the given event store.
func NewLimiter(store EventStore, clock types.Clock) *Limiter {
	return &Limiter{store: store, clock: clock}
}

// Allow records an attempt for key under the policy's window settings and
// reports whether it fits. Policies without a throttle always pass. Denied
// attempts are not recorded, so a blocked client regains a slot as soon as
// the oldest counted event ages out of the window.
func (l *Limiter) Allow(ctx context.Context, key string, policy types.TierPolicy) (RateLimitResult, error) {
	if !policy.Throttled() {
		return RateLimitResult{Allowed: true, Remaining: -1}, nil
	}

	now := l.clock.Now()
	period := time.Duration(policy.WindowSeconds) * time.Second
	windowStart := now.Add(-period)

	recorded, count, oldest, err := l.store.Hit(ctx, key, windowStart, now, policy.WindowMax)
	if err != nil {
		// Fail open: a broken throttle store must not take down predictions.
		return RateLimitResult{Allowed: true, Remaining: -1},
			types.NewAppError(types.ErrCodeInternalDB, "rate limit store unavailable", err)
	}

	result := RateLimitResult{Allowed: recorded}
	if remaining := policy.WindowMax - count; remaining > 0 {
		result.Remaining = remaining
	}
	if !recorded && !oldest.IsZero() {
		result.ResetAt = oldest.Add(period)
	}
	return result, nil
}
