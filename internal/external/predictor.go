package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"stockcast/internal/types"
)

// PredictorClientConfig holds the configuration for creating a PredictorClient.
type PredictorClientConfig struct {
	BaseURL    string
	APIKey     string
	MaxRetries int
	Logger     *slog.Logger
}

// PredictorClient calls the forecasting model service over HTTP.
// Model runs are slow (training happens per request), so the caller is
// expected to pass an http.Client with a generous timeout and keep the
// request context alive for the full run.
type PredictorClient struct {
	base    *BaseClient
	baseURL string
	apiKey  string
	logger  *slog.Logger
}

// NewPredictorClient creates a PredictorClient.
func NewPredictorClient(httpClient *http.Client, cfg PredictorClientConfig) *PredictorClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	policy := DefaultRetryPolicy()
	if cfg.MaxRetries >= 0 {
		policy.MaxRetries = cfg.MaxRetries
	}

	base := NewBaseClient(
		httpClient,
		"predictor",
		policy,
		"StockCast/1.0",
		types.ErrCodeUpstreamPredictor,
	)

	return &PredictorClient{
		base:    base,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		logger:  logger,
	}
}

// NewPredictorClientWithBase creates a PredictorClient with a pre-configured
// BaseClient. For tests.
func NewPredictorClientWithBase(base *BaseClient, cfg PredictorClientConfig) *PredictorClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &PredictorClient{
		base:    base,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		logger:  logger,
	}
}

type predictRequest struct {
	Ticker string `json:"ticker"`
}

type predictResponse struct {
	Metrics  types.JSONB `json:"metrics"`
	PlotURLs []string    `json:"plot_urls"`
	Detail   string      `json:"detail"`
}

// Predict runs the model for a ticker and returns its evaluation metrics
// and rendered plot URLs.
func (p *PredictorClient) Predict(ctx context.Context, ticker string) (*PredictionResult, error) {
	payload, err := json.Marshal(predictRequest{Ticker: ticker})
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode predict request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/predict", bytes.NewReader(payload))
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build predict request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	start := time.Now()
	resp, err := p.base.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		p.logger.ErrorContext(ctx, "predictor returned error",
			"ticker", ticker,
			"status", resp.StatusCode,
			"body", string(body),
		)
		return nil, types.NewAppError(
			types.ErrCodeUpstreamPredictor,
			fmt.Sprintf("predictor returned %d", resp.StatusCode),
			nil,
		)
	}

	var out predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamPredictor, "failed to decode predictor response", err)
	}

	p.logger.InfoContext(ctx, "prediction completed",
		"ticker", ticker,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return &PredictionResult{Metrics: out.Metrics, PlotURLs: out.PlotURLs}, nil
}
