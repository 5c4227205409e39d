package core

import (
	"net/http"
	"strconv"
	"time"
)

// SetQuotaHeaders writes the allowance headers clients use to pace
// themselves. Unlimited tiers advertise "unlimited" instead of numbers.
// A zero resetAt omits X-RateLimit-Reset.
func SetQuotaHeaders(w http.ResponseWriter, limit, remaining int, unlimited bool, resetAt time.Time) {
	if unlimited {
		w.Header().Set("X-Quota-Limit", "unlimited")
		w.Header().Set("X-Quota-Remaining", "unlimited")
	} else {
		w.Header().Set("X-Quota-Limit", strconv.Itoa(limit))
		w.Header().Set("X-Quota-Remaining", strconv.Itoa(max(remaining, 0)))
	}
	if !resetAt.IsZero() {
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
	}
}
