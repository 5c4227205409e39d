package quota

import (
	"context"
	"time"

	"stockcast/internal/types"
)

// Decision is the outcome of an admission check. A denial is a normal
// outcome, not an error: Admit returns a non-nil error only for infrastructure
// failures that the caller should surface as 5xx.
type Decision struct {
	Allowed bool
	Reason  types.DenyReason

	// Quota view at decision time. Remaining is -1 for unlimited tiers.
	Remaining int
	Limit     int
	Unlimited bool

	// ResetAt is when the denying constraint relaxes: the throttle window
	// opening for rate_limited, the next day boundary for quota_exceeded.
	ResetAt time.Time

	// UpgradeRequired marks quota denials that a subscription upgrade
	// would lift. Drives the upsell hint in API responses and bot replies.
	UpgradeRequired bool

	// Charged reports whether this admission already consumed a quota unit
	// (on_attempt policies). When false on an allowed decision, the caller
	// owes a ConfirmSuccess call once the work completes.
	Charged bool
}

// AdmissionMetrics is the telemetry hook for admission outcomes.
type AdmissionMetrics interface {
	RecordAdmission(ctx context.Context, channel types.Channel, tier types.Tier, allowed bool, reason types.DenyReason)
}

// Controller is the single gate every prediction request passes through,
// regardless of channel. It applies checks in a fixed order -- throttle
// first, then quota -- so a burst of requests from an exhausted user is
// reported as rate_limited, not quota_exceeded.
type Controller struct {
	ledger   *Ledger
	limiter  *Limiter
	policies PolicyResolver
	metrics  AdmissionMetrics
	logger   types.Logger
}

// NewController wires the admission pipeline. metrics may be nil.
func NewController(ledger *Ledger, limiter *Limiter, policies PolicyResolver, metrics AdmissionMetrics, logger types.Logger) *Controller {
	return &Controller{
		ledger:   ledger,
		limiter:  limiter,
		policies: policies,
		metrics:  metrics,
		logger:   logger,
	}
}

// Admit runs the full admission pipeline for one prediction attempt.
//
// The charge policy decides when the quota unit is consumed. ChargeOnAttempt
// consumes during this call; the synchronous API path uses it because the
// response is produced in-request. ChargeOnSuccess only verifies headroom
// here and defers the charge to ConfirmSuccess; deferred channels use it so
// a lost or failed task does not burn the user's allowance. The two must not
// be merged: unifying them either charges bot users for predictions they
// never received, or gives API users free retries on upstream errors.
func (c *Controller) Admit(ctx context.Context, actor types.Actor, charge types.ChargePolicy) (Decision, error) {
	policy := c.policies.GetPolicy(actor.Tier())

	rl, err := c.limiter.Allow(ctx, actor.UserID, policy)
	if err != nil {
		// Fail open on throttle store errors; the ledger below still gates.
		c.logger.Warn("rate limit check degraded, allowing",
			"user_id", actor.UserID, "error", err.Error())
	}
	if !rl.Allowed {
		d := Decision{
			Reason:  types.DenyRateLimited,
			ResetAt: rl.ResetAt,
		}
		c.fillQuota(ctx, &d, actor.UserID, policy)
		c.record(ctx, actor.Channel, policy.Tier, d)
		return d, nil
	}

	switch charge {
	case types.ChargeOnSuccess:
		snap, err := c.ledger.Snapshot(ctx, actor.UserID, policy)
		if err != nil {
			// Fail closed: unknown quota state must not grant free usage.
			return Decision{}, err
		}
		if !snap.Unlimited && snap.Remaining <= 0 {
			d := c.quotaDenied(policy, snap)
			c.record(ctx, actor.Channel, policy.Tier, d)
			return d, nil
		}
		d := Decision{
			Allowed:   true,
			Remaining: snap.Remaining,
			Limit:     snap.Limit,
			Unlimited: snap.Unlimited,
			ResetAt:   snap.ResetsAt,
		}
		c.record(ctx, actor.Channel, policy.Tier, d)
		return d, nil

	default: // ChargeOnAttempt
		snap, applied, err := c.ledger.Consume(ctx, actor.UserID, policy)
		if err != nil {
			return Decision{}, err
		}
		if !applied {
			d := c.quotaDenied(policy, snap)
			c.record(ctx, actor.Channel, policy.Tier, d)
			return d, nil
		}
		d := Decision{
			Allowed:   true,
			Charged:   true,
			Remaining: snap.Remaining,
			Limit:     snap.Limit,
			Unlimited: snap.Unlimited,
			ResetAt:   snap.ResetsAt,
		}
		c.record(ctx, actor.Channel, policy.Tier, d)
		return d, nil
	}
}

// ConfirmSuccess settles the deferred charge for an on_success admission.
// The increment is unconditional: the work is done, so it is accounted for
// even if concurrent tasks exhausted the allowance since enqueue.
func (c *Controller) ConfirmSuccess(ctx context.Context, userID string) error {
	return c.ledger.Record(ctx, userID)
}

// Status reports the caller's current quota without charging. Used by the
// status endpoint and the quota response headers.
func (c *Controller) Status(ctx context.Context, actor types.Actor) (types.QuotaSnapshot, error) {
	policy := c.policies.GetPolicy(actor.Tier())
	return c.ledger.Snapshot(ctx, actor.UserID, policy)
}

func (c *Controller) quotaDenied(policy types.TierPolicy, snap types.QuotaSnapshot) Decision {
	return Decision{
		Reason:          types.DenyQuotaExceeded,
		Remaining:       snap.Remaining,
		Limit:           snap.Limit,
		ResetAt:         snap.ResetsAt,
		UpgradeRequired: policy.Tier == types.TierFree,
	}
}

// fillQuota best-effort enriches a throttle denial with quota numbers so
// clients still see their allowance in the response headers.
func (c *Controller) fillQuota(ctx context.Context, d *Decision, userID string, policy types.TierPolicy) {
	snap, err := c.ledger.Snapshot(ctx, userID, policy)
	if err != nil {
		return
	}
	d.Remaining = snap.Remaining
	d.Limit = snap.Limit
	d.Unlimited = snap.Unlimited
}

func (c *Controller) record(ctx context.Context, channel types.Channel, tier types.Tier, d Decision) {
	if c.metrics == nil {
		return
	}
	c.metrics.RecordAdmission(ctx, channel, tier, d.Allowed, d.Reason)
}
