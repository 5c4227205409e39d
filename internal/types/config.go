package types

// TierPolicy defines the admission constraints for a subscription tier.
// A Limit of 0 means unlimited; WindowMax/WindowSeconds of 0 disables the
// per-user request throttle for the tier.
type TierPolicy struct {
	Tier          Tier `json:"tier"`
	DailyLimit    int  `json:"daily_limit"`
	WindowMax     int  `json:"window_max"`
	WindowSeconds int  `json:"window_seconds"`
}

// Unlimited reports whether the tier has no daily quota.
func (p TierPolicy) Unlimited() bool {
	return p.DailyLimit <= 0
}

// Throttled reports whether the sliding-window throttle applies to the tier.
func (p TierPolicy) Throttled() bool {
	return p.WindowMax > 0 && p.WindowSeconds > 0
}

// RedirectURLs guides the user after Stripe checkout.
type RedirectURLs struct {
	Success string
	Cancel  string
}
