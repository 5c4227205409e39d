package external

import (
	"context"

	"stockcast/internal/types"
)

// PredictionResult is the model service's output for a single ticker run.
type PredictionResult struct {
	Metrics  types.JSONB
	PlotURLs []string
}

// PredictorService runs the forecasting model for a ticker. Implemented by
// PredictorClient; handlers and the worker depend on this interface so
// tests can stub the model out.
type PredictorService interface {
	Predict(ctx context.Context, ticker string) (*PredictionResult, error)
}

// BillingService creates checkout sessions for the upgrade flow.
// Implemented by StripeClient.
type BillingService interface {
	CreateCheckoutSession(ctx context.Context, userID string, urls types.RedirectURLs) (checkoutURL string, sessionID string, err error)
}
