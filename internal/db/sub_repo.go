package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"stockcast/internal/types"
)

// SubscriptionRepo applies billing provider events to subscription state.
//
// Webhook deliveries can arrive out of order and more than once, so every
// write is guarded by the event timestamp: an upsert only lands when its
// last_event_at is newer than the stored row's, and a stale or duplicate
// event becomes an idempotent no-op. The user's is_pro flag is recomputed
// in the same transaction so the two never drift.
type SubscriptionRepo struct {
	db   TxBeginner
	conn DBTX
}

// NewSubscriptionRepo creates a SubscriptionRepo. Both arguments are
// normally the same *pgxpool.Pool; they are split so tests can stub the
// transactional and plain paths independently.
func NewSubscriptionRepo(db TxBeginner, conn DBTX) *SubscriptionRepo {
	return &SubscriptionRepo{db: db, conn: conn}
}

const applySubscriptionSQL = `
	INSERT INTO subscriptions (
		provider_subscription_id, user_id, provider_customer_id, status,
		current_period_start, current_period_end, last_event_at
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (provider_subscription_id) DO UPDATE SET
		status = EXCLUDED.status,
		current_period_start = EXCLUDED.current_period_start,
		current_period_end = EXCLUDED.current_period_end,
		last_event_at = EXCLUDED.last_event_at,
		updated_at = NOW()
	WHERE subscriptions.last_event_at < EXCLUDED.last_event_at`

// The status membership comes from types.ProGrantingStatuses so this
// predicate and SubscriptionStatus.GrantsPro share one definition.
const recomputeProSQL = `
	UPDATE users
	SET is_pro = EXISTS (
		SELECT 1 FROM subscriptions
		WHERE user_id = $1 AND status = ANY($2)
	), updated_at = NOW()
	WHERE id = $1`

// Apply upserts a subscription event and recomputes the owner's tier.
// It returns false when the event is stale and nothing changed.
func (r *SubscriptionRepo) Apply(ctx context.Context, sub types.Subscription) (bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to begin transaction", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, applySubscriptionSQL,
		sub.ProviderSubscriptionID, sub.UserID, sub.ProviderCustomerID, sub.Status,
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.LastEventAt)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to upsert subscription", err)
	}
	if tag.RowsAffected() == 0 {
		// Stale or duplicate delivery; leave existing state untouched.
		return false, nil
	}

	if _, err := tx.Exec(ctx, recomputeProSQL, sub.UserID, types.ProGrantingStatuses()); err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to recompute user tier", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to commit subscription", err)
	}
	return true, nil
}

// FindUserByCustomer maps a billing provider customer ID back to the local
// user, for events that do not carry our user ID in metadata.
func (r *SubscriptionRepo) FindUserByCustomer(ctx context.Context, customerID string) (string, error) {
	var userID string
	err := r.conn.QueryRow(ctx,
		`SELECT user_id FROM subscriptions WHERE provider_customer_id = $1
		 ORDER BY last_event_at DESC LIMIT 1`,
		customerID).Scan(&userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", types.NewAppError(types.ErrCodeNotFoundUser, "no user for billing customer", nil)
		}
		return "", types.NewAppError(types.ErrCodeInternalDB, "failed to look up billing customer", err)
	}
	return userID, nil
}
