package types

import (
	"time"
)

// User is the core account entity. IsPro is a denormalized view of the
// user's subscription state, kept current by the Stripe webhook handler.
type User struct {
	ID        string    `json:"id" db:"id"`
	Username  string    `json:"username" db:"username"`
	Email     string    `json:"email,omitempty" db:"email"`
	IsPro     bool      `json:"is_pro" db:"is_pro"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Tier returns the effective subscription tier for the user.
func (u *User) Tier() Tier {
	if u.IsPro {
		return TierPro
	}
	return TierFree
}

// APIToken is a bearer credential. Only the SHA-256 digest of the token
// is stored; the plaintext is shown to the user once at creation.
type APIToken struct {
	TokenHash string     `json:"-" db:"token_hash"`
	UserID    string     `json:"user_id" db:"user_id"`
	Label     string     `json:"label,omitempty" db:"label"`
	ExpiresAt *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty" db:"revoked_at"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
}

// TelegramProfile links a Telegram chat to a user account. Bot requests
// are authenticated by chat ID; a chat with no profile row is denied
// with profile_missing rather than auto-provisioned.
type TelegramProfile struct {
	ChatID    int64     `json:"chat_id" db:"chat_id"`
	UserID    string    `json:"user_id" db:"user_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Prediction is a stored forecast result for a single ticker request.
type Prediction struct {
	ID        string           `json:"id" db:"id"`
	UserID    string           `json:"user_id" db:"user_id"`
	Ticker    string           `json:"ticker" db:"ticker"`
	Status    PredictionStatus `json:"status" db:"status"`
	Metrics   JSONB            `json:"metrics,omitempty" db:"metrics"`
	PlotURLs  []string         `json:"plot_urls,omitempty" db:"plot_urls"`
	Channel   Channel          `json:"channel" db:"channel"`
	CreatedAt time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt time.Time        `json:"updated_at" db:"updated_at"`
}

// Subscription mirrors the provider-side subscription record. Webhook
// events carry LastEventAt so stale deliveries can be discarded.
type Subscription struct {
	ProviderSubscriptionID string             `json:"provider_subscription_id" db:"provider_subscription_id"`
	UserID                 string             `json:"user_id" db:"user_id"`
	ProviderCustomerID     string             `json:"provider_customer_id" db:"provider_customer_id"`
	Status                 SubscriptionStatus `json:"status" db:"status"`
	CurrentPeriodStart     time.Time          `json:"current_period_start" db:"current_period_start"`
	CurrentPeriodEnd       time.Time          `json:"current_period_end" db:"current_period_end"`
	LastEventAt            time.Time          `json:"last_event_at" db:"last_event_at"`
	CreatedAt              time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt              time.Time          `json:"updated_at" db:"updated_at"`
}

// QuotaSnapshot is a read-only view of a user's daily usage, returned by
// the status endpoint and attached to admission decisions.
type QuotaSnapshot struct {
	Used      int       `json:"used"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	Unlimited bool      `json:"unlimited"`
	ResetsAt  time.Time `json:"resets_at"`
}

// UserStatus aggregates everything the status endpoint reports about the
// caller: identity, tier, and current quota state.
type UserStatus struct {
	UserID   string        `json:"user_id"`
	Username string        `json:"username"`
	Tier     Tier          `json:"tier"`
	Quota    QuotaSnapshot `json:"quota"`
}
