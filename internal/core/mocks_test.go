package core

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"stockcast/internal/config"
	"stockcast/internal/types"
)

// mockAuthenticator satisfies Authenticator and records the tokens it saw.
type mockAuthenticator struct {
	Actor types.Actor
	Err   error
	Calls []string
}

func (m *mockAuthenticator) VerifyToken(_ context.Context, rawToken string) (types.Actor, error) {
	m.Calls = append(m.Calls, rawToken)
	if m.Err != nil {
		return types.Actor{}, m.Err
	}
	return m.Actor, nil
}

// mockMetricsCollector records RecordRequest calls.
type mockMetricsCollector struct {
	Calls []metricsCall
}

type metricsCall struct {
	Method, Endpoint, Status string
	Duration                 time.Duration
}

func (m *mockMetricsCollector) RecordRequest(method, endpoint, status string, duration time.Duration) {
	m.Calls = append(m.Calls, metricsCall{method, endpoint, status, duration})
}

// newTestServer creates a minimal Server with a discarding logger, suitable
// for exercising middleware in isolation.
func newTestServer(t *testing.T) *Server {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	srv, err := NewServer(&config.Config{}, logger)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return srv
}
