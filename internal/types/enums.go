package types

// Tier identifies the subscription tier of a user account.
type Tier string

const (
	TierFree Tier = "FREE"
	TierPro  Tier = "PRO"
)

// ChargePolicy determines when an admitted request is charged against
// the daily quota. Synchronous API requests charge on attempt; deferred
// channels (queue worker, chat bot) charge only on delivered results.
type ChargePolicy string

const (
	ChargeOnAttempt ChargePolicy = "on_attempt"
	ChargeOnSuccess ChargePolicy = "on_success"
)

// DenyReason classifies why an admission request was refused.
type DenyReason string

const (
	DenyRateLimited   DenyReason = "rate_limited"
	DenyQuotaExceeded DenyReason = "quota_exceeded"
)

// PredictionStatus tracks the lifecycle of a prediction task.
type PredictionStatus string

const (
	PredictionPending   PredictionStatus = "pending"
	PredictionCompleted PredictionStatus = "completed"
	PredictionFailed    PredictionStatus = "failed"
)

// SubscriptionStatus represents the state of a billing subscription.
type SubscriptionStatus string

const (
	SubStatusActive            SubscriptionStatus = "active"
	SubStatusPastDue           SubscriptionStatus = "past_due"
	SubStatusCanceled          SubscriptionStatus = "canceled"
	SubStatusIncomplete        SubscriptionStatus = "incomplete"
	SubStatusIncompleteExpired SubscriptionStatus = "incomplete_expired"
	SubStatusTrialing          SubscriptionStatus = "trialing"
	SubStatusUnpaid            SubscriptionStatus = "unpaid"
)

// proGrantingStatuses are the subscription states that entitle the owner
// to the PRO tier. A past-due subscription drops back to FREE until the
// payment resolves; the daily quota applies in the meantime.
var proGrantingStatuses = []SubscriptionStatus{SubStatusActive, SubStatusTrialing}

// GrantsPro reports whether the subscription status entitles the user to
// the PRO tier.
func (s SubscriptionStatus) GrantsPro() bool {
	for _, g := range proGrantingStatuses {
		if s == g {
			return true
		}
	}
	return false
}

// ProGrantingStatuses returns the PRO-granting states as strings, for SQL
// membership predicates. Deriving both from one list keeps the database
// tier recompute and GrantsPro from drifting apart.
func ProGrantingStatuses() []string {
	out := make([]string, len(proGrantingStatuses))
	for i, s := range proGrantingStatuses {
		out[i] = string(s)
	}
	return out
}

// Channel identifies the entry point through which a prediction was requested.
type Channel string

const (
	ChannelAPI Channel = "api"
	ChannelBot Channel = "telegram"
	ChannelJob Channel = "worker"
)
