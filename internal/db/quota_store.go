package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"stockcast/internal/types"
)

// QuotaStore is the Postgres implementation of the daily quota counter.
// It implements quota.CounterStore.
//
// The consume path is a single statement so concurrent requests racing for
// the last unit of allowance cannot both win: the conditional upsert either
// returns the post-increment count or touches no row at all.
type QuotaStore struct {
	db DBTX
}

// NewQuotaStore creates a QuotaStore backed by the given connection.
func NewQuotaStore(db DBTX) *QuotaStore {
	return &QuotaStore{db: db}
}

// consumeSQL increments the user's counter for the given day, resetting it
// first when the stored row belongs to an earlier day. The WHERE clause on
// the upsert makes the whole statement conditional: when the effective count
// (0 after a rollover) is already at the limit, no row is updated and no row
// is returned. A limit <= 0 disables the guard entirely.
const consumeSQL = `
INSERT INTO quota_counters (user_id, consumed_today, last_reset_date)
VALUES ($1, 1, $2::date)
ON CONFLICT (user_id) DO UPDATE
SET consumed_today = CASE
        WHEN quota_counters.last_reset_date < EXCLUDED.last_reset_date THEN 1
        ELSE quota_counters.consumed_today + 1
    END,
    last_reset_date = EXCLUDED.last_reset_date
WHERE $3::int <= 0
   OR (CASE
        WHEN quota_counters.last_reset_date < EXCLUDED.last_reset_date THEN 0
        ELSE quota_counters.consumed_today
      END) < $3::int
RETURNING consumed_today`

// ConsumeIfBelow implements quota.CounterStore.
func (s *QuotaStore) ConsumeIfBelow(ctx context.Context, userID, day string, limit int) (int, bool, error) {
	var count int
	err := s.db.QueryRow(ctx, consumeSQL, userID, day, limit).Scan(&count)
	if err == nil {
		return count, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, false, types.NewAppError(types.ErrCodeInternalDB, "failed to consume quota", err)
	}

	// Denied: the guard blocked the upsert. Re-read the counter so the
	// caller can report current usage.
	count, peekErr := s.Peek(ctx, userID, day)
	if peekErr != nil {
		return 0, false, peekErr
	}
	return count, false, nil
}

// Peek implements quota.CounterStore. A row from an earlier day reads as 0;
// the reset is applied lazily by the next consume.
func (s *QuotaStore) Peek(ctx context.Context, userID, day string) (int, error) {
	var count int
	err := s.db.QueryRow(ctx,
		`SELECT CASE WHEN last_reset_date = $2::date THEN consumed_today ELSE 0 END
		 FROM quota_counters
		 WHERE user_id = $1`,
		userID, day,
	).Scan(&count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to read quota counter", err)
	}
	return count, nil
}
