package metrics

import (
	"context"
	"time"

	"stockcast/internal/types"
)

// NopMetrics discards everything. Used when metrics are disabled (local
// development) and as the default in tests.
type NopMetrics struct{}

func (NopMetrics) RecordAdmission(context.Context, types.Channel, types.Tier, bool, types.DenyReason) {
}
func (NopMetrics) RecordPredictionLatency(context.Context, types.Channel, time.Duration) {}
func (NopMetrics) RecordPredictorFailure(context.Context, types.Channel)                 {}
func (NopMetrics) RecordWebhook(context.Context, string, bool)                           {}
func (NopMetrics) RecordRequest(string, string, string, time.Duration)                   {}
