package types

// Telemetry metric names for CloudWatch.
// All components MUST use these constants.
const (
	// Metric Names
	MetricAdmissionAllowed  = "AdmissionAllowed"
	MetricAdmissionDenied   = "AdmissionDenied"
	MetricQuotaConsumed     = "QuotaConsumed"
	MetricRateLimited       = "RateLimited"
	MetricPredictionLatency = "PredictionLatency"
	MetricPredictorFailure  = "PredictorFailure"
	MetricWebhookApplied    = "WebhookApplied"
	MetricWebhookStale      = "WebhookStale"
	MetricAPILatency        = "APILatency"

	// Dimension Keys
	DimChannel    = "Channel"
	DimDenyReason = "DenyReason"
	DimTier       = "Tier"
	DimEndpoint   = "Endpoint"
	DimMethod     = "Method"
	DimStatus     = "StatusCode"
	DimEventType  = "EventType"

	// Metric Namespace
	MetricNamespace = "StockCast"
)
