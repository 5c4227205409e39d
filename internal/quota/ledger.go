package quota

import (
	"context"
	"time"

	"stockcast/internal/types"
)

// dayFormat is the key format for daily counter buckets.
const dayFormat = "2006-01-02"

// CounterStore is the persistence contract for the daily quota ledger.
// Implementations must make ConsumeIfBelow atomic under concurrent callers:
// two simultaneous consumes of the last remaining unit must admit exactly one.
type CounterStore interface {
	// ConsumeIfBelow increments the user's counter for the given day if the
	// current count is below limit, resetting the counter first when the
	// stored day is older than day. A limit <= 0 increments unconditionally
	// (unlimited tiers keep their counters for reporting). Returns the
	// post-operation count and whether the increment was applied.
	ConsumeIfBelow(ctx context.Context, userID, day string, limit int) (int, bool, error)

	// Peek returns the user's counter for the given day without modifying
	// it. A user with no row, or a row from an earlier day, reads as 0.
	Peek(ctx context.Context, userID, day string) (int, error)
}

// Ledger tracks per-user daily prediction consumption. All users share a
// single reset boundary: midnight in the configured reference timezone.
// Store errors propagate to the caller -- the admission controller treats
// them as denials (fail closed) rather than granting free usage.
type Ledger struct {
	store CounterStore
	clock types.Clock
	loc   *time.Location
}

// NewLedger creates a Ledger using the given reference timezone for day
// rollover. The zone name must be a valid IANA identifier; it is resolved
// once at construction.
func NewLedger(store CounterStore, clock types.Clock, timezone string) (*Ledger, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected,
			"invalid quota timezone "+timezone, err)
	}
	return &Ledger{store: store, clock: clock, loc: loc}, nil
}

// Day returns the ledger bucket key for the given instant.
func (l *Ledger) Day(t time.Time) string {
	return t.In(l.loc).Format(dayFormat)
}

// ResetsAt returns the next counter reset: the upcoming midnight in the
// reference timezone.
func (l *Ledger) ResetsAt(t time.Time) time.Time {
	local := t.In(l.loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, l.loc)
	return midnight.AddDate(0, 0, 1)
}

// Consume attempts to charge one prediction against the user's daily
// allowance under the given policy. Unlimited policies always succeed but
// still increment the counter so usage remains reportable. Returns the
// post-operation snapshot and whether the charge was applied.
func (l *Ledger) Consume(ctx context.Context, userID string, policy types.TierPolicy) (types.QuotaSnapshot, bool, error) {
	now := l.clock.Now()
	count, applied, err := l.store.ConsumeIfBelow(ctx, userID, l.Day(now), policy.DailyLimit)
	if err != nil {
		return types.QuotaSnapshot{}, false, types.NewAppError(types.ErrCodeInternalDB,
			"quota consume failed", err)
	}
	return l.snapshot(count, policy, now), applied, nil
}

// Record charges one prediction unconditionally, regardless of the limit.
// Used by deferred channels to settle an on_success charge after the work
// completed: the admission check happened at enqueue time, and a completed
// prediction is always accounted for even if the day's allowance has since
// been exhausted by concurrent tasks.
func (l *Ledger) Record(ctx context.Context, userID string) error {
	now := l.clock.Now()
	if _, _, err := l.store.ConsumeIfBelow(ctx, userID, l.Day(now), 0); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "quota record failed", err)
	}
	return nil
}

// Snapshot returns the user's current usage without charging.
func (l *Ledger) Snapshot(ctx context.Context, userID string, policy types.TierPolicy) (types.QuotaSnapshot, error) {
	now := l.clock.Now()
	count, err := l.store.Peek(ctx, userID, l.Day(now))
	if err != nil {
		return types.QuotaSnapshot{}, types.NewAppError(types.ErrCodeInternalDB,
			"quota peek failed", err)
	}
	return l.snapshot(count, policy, now), nil
}

// snapshot assembles the user-facing view of a counter value. Unlimited
// tiers report Remaining as -1; the raw counter is still exposed in Used.
func (l *Ledger) snapshot(used int, policy types.TierPolicy, now time.Time) types.QuotaSnapshot {
	snap := types.QuotaSnapshot{
		Used:     used,
		Limit:    policy.DailyLimit,
		ResetsAt: l.ResetsAt(now),
	}
	if policy.Unlimited() {
		snap.Unlimited = true
		snap.Remaining = -1
		return snap
	}
	remaining := policy.DailyLimit - used
	if remaining < 0 {
		remaining = 0
	}
	snap.Remaining = remaining
	return snap
}
