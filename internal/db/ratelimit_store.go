package db

import (
	"context"
	"time"

	"stockcast/internal/types"
)

// RateLimitStore is the Postgres implementation of the sliding-window event
// store. It implements quota.EventStore.
//
// Each Hit runs in its own transaction holding pg_advisory_xact_lock on the
// key, serializing concurrent hits for the same user while leaving other
// users' windows fully parallel. The lock releases automatically at commit
// or rollback.
type RateLimitStore struct {
	db TxBeginner
}

// NewRateLimitStore creates a RateLimitStore backed by the given pool.
func NewRateLimitStore(db TxBeginner) *RateLimitStore {
	return &RateLimitStore{db: db}
}

// Hit implements quota.EventStore: prune, count, conditionally record.
// The window is half-open, (windowStart, now] -- events at exactly
// windowStart are pruned, not counted.
func (s *RateLimitStore) Hit(ctx context.Context, key string, windowStart, now time.Time, max int) (bool, int, time.Time, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return false, 0, time.Time{}, types.NewAppError(types.ErrCodeInternalDB, "failed to begin rate limit tx", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
		return false, 0, time.Time{}, types.NewAppError(types.ErrCodeInternalDB, "failed to lock rate limit key", err)
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM rate_limit_events WHERE rl_key = $1 AND occurred_at <= $2`,
		key, windowStart,
	); err != nil {
		return false, 0, time.Time{}, types.NewAppError(types.ErrCodeInternalDB, "failed to prune rate limit events", err)
	}

	var count int
	var oldest *time.Time
	if err := tx.QueryRow(ctx,
		`SELECT COUNT(*), MIN(occurred_at)
		 FROM rate_limit_events
		 WHERE rl_key = $1`,
		key,
	).Scan(&count, &oldest); err != nil {
		return false, 0, time.Time{}, types.NewAppError(types.ErrCodeInternalDB, "failed to count rate limit events", err)
	}

	recorded := false
	if count < max {
		if _, err := tx.Exec(ctx,
			`INSERT INTO rate_limit_events (rl_key, occurred_at) VALUES ($1, $2)`,
			key, now,
		); err != nil {
			return false, 0, time.Time{}, types.NewAppError(types.ErrCodeInternalDB, "failed to record rate limit event", err)
		}
		recorded = true
		count++
		if oldest == nil {
			oldest = &now
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, 0, time.Time{}, types.NewAppError(types.ErrCodeInternalDB, "failed to commit rate limit tx", err)
	}

	var oldestAt time.Time
	if oldest != nil {
		oldestAt = *oldest
	}
	return recorded, count, oldestAt, nil
}

// Sweep deletes events recorded at or before cutoff across all keys. Hit
// prunes only the key it serves, so without a periodic sweep the rows of
// keys that never come back would accumulate unbounded. Implements
// quota.EventSweeper.
func (s *RateLimitStore) Sweep(ctx context.Context, cutoff time.Time) (int, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to begin rate limit sweep", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`DELETE FROM rate_limit_events WHERE occurred_at <= $1`, cutoff)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to sweep rate limit events", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to commit rate limit sweep", err)
	}
	return int(tag.RowsAffected()), nil
}
