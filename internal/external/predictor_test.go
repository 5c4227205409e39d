package external

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockcast/internal/types"
)

func newPredictor(baseURL string) *PredictorClient {
	return NewPredictorClientWithBase(
		newTestClient(0),
		PredictorClientConfig{BaseURL: baseURL, APIKey: "model-key"},
	)
}

func TestPredictorClient_Predict_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/predict", r.URL.Path)
		assert.Equal(t, "Bearer model-key", r.Header.Get("Authorization"))

		var req predictRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "AAPL", req.Ticker)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(predictResponse{
			Metrics:  types.JSONB{"rmse": 1.5, "mape": 0.04},
			PlotURLs: []string{"https://plots.example.com/aapl.png"},
		})
	}))
	defer srv.Close()

	result, err := newPredictor(srv.URL).Predict(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 1.5, result.Metrics["rmse"])
	assert.Equal(t, []string{"https://plots.example.com/aapl.png"}, result.PlotURLs)
}

func TestPredictorClient_Predict_ModelError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"detail":"no data for ticker"}`))
	}))
	defer srv.Close()

	_, err := newPredictor(srv.URL).Predict(context.Background(), "ZZZZZZ")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeUpstreamPredictor, appErr.Code)
}

func TestPredictorClient_Predict_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse connections

	client := NewPredictorClientWithBase(
		newTestClient(0),
		PredictorClientConfig{BaseURL: srv.URL},
	)

	_, err := client.Predict(context.Background(), "AAPL")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeUpstreamPredictor, appErr.Code)
}

func TestPredictorClient_Predict_HonorsContextCancellation(t *testing.T) {
	// The server does not notice the client disconnect while the unread
	// request body is pending, so unblock the handler explicitly at
	// teardown to let srv.Close return.
	done := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-done:
		}
	}))
	defer srv.Close()
	defer close(done)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := newPredictor(srv.URL).Predict(ctx, "AAPL")
	require.Error(t, err)
}
