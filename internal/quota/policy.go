// Package quota implements the admission pipeline for prediction requests:
// tier policy resolution, the daily-quota ledger, the sliding-window request
// throttle, and the admission controller that combines them.
package quota

import (
	"stockcast/internal/config"
	"stockcast/internal/types"
)

// PolicyResolver returns the admission constraints for a subscription tier.
// This is the single source of truth for what each tier allows.
type PolicyResolver interface {
	// GetPolicy returns the tier policy for the given tier. For unknown
	// tiers, returns the most restrictive (FREE) policy to fail safely.
	GetPolicy(tier types.Tier) types.TierPolicy
}

// staticPolicyResolver is a compile-time policy registry backed by an
// in-memory map. It is the standard implementation for production use.
type staticPolicyResolver struct {
	policies map[types.Tier]types.TierPolicy
	free     types.TierPolicy
}

// NewPolicyResolver builds the tier policy table from configuration.
//
//	| Tier | Daily predictions      | Request throttle        |
//	|------|------------------------|-------------------------|
//	| FREE | QUOTA_FREE_DAILY_LIMIT | RATE_WINDOW_MAX/period  |
//	| PRO  | 0 (unlimited)          | RATE_WINDOW_MAX/period  |
//
// A DailyLimit of 0 represents "unlimited" -- enforcement code must treat 0
// as no limit. The sliding-window throttle applies to both tiers: PRO removes
// the daily cap, not burst protection.
func NewPolicyResolver(cfg config.QuotaConfig) PolicyResolver {
	windowSeconds := int(cfg.WindowPeriod.Seconds())
	policies := map[types.Tier]types.TierPolicy{
		types.TierFree: {
			Tier:          types.TierFree,
			DailyLimit:    cfg.FreeDailyLimit,
			WindowMax:     cfg.WindowMax,
			WindowSeconds: windowSeconds,
		},
		types.TierPro: {
			Tier:          types.TierPro,
			DailyLimit:    0,
			WindowMax:     cfg.WindowMax,
			WindowSeconds: windowSeconds,
		},
	}
	return &staticPolicyResolver{
		policies: policies,
		free:     policies[types.TierFree],
	}
}

// GetPolicy returns the policy for the given tier.
// If the tier is unknown, it returns the FREE policy as a safe default.
func (r *staticPolicyResolver) GetPolicy(tier types.Tier) types.TierPolicy {
	if p, ok := r.policies[tier]; ok {
		return p
	}
	return r.free
}
