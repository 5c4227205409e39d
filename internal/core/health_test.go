package core

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHandleHealth_NoProbes(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	srv.HandleHealth(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}

	var resp healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("expected status ok, got %q", resp.Status)
	}
}

func TestHandleHealth_AllProbesHealthy(t *testing.T) {
	srv := newTestServer(t)
	srv.HealthProbes = []HealthProbe{
		HealthProbeFunc{ProbeName: "postgres", CheckFn: func(ctx context.Context) error { return nil }},
		HealthProbeFunc{ProbeName: "sqs", CheckFn: func(ctx context.Context) error { return nil }},
	}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	srv.HandleHealth(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}

	var resp healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if resp.Checks["postgres"] != "ok" || resp.Checks["sqs"] != "ok" {
		t.Errorf("expected all checks ok, got %v", resp.Checks)
	}
}

func TestHandleHealth_FailingProbeReturns503(t *testing.T) {
	srv := newTestServer(t)
	srv.HealthProbes = []HealthProbe{
		HealthProbeFunc{ProbeName: "postgres", CheckFn: func(ctx context.Context) error { return nil }},
		HealthProbeFunc{ProbeName: "sqs", CheckFn: func(ctx context.Context) error {
			return errors.New("connection refused")
		}},
	}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	srv.HandleHealth(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", rec.Code)
	}

	var resp healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if resp.Status != "degraded" {
		t.Errorf("expected status degraded, got %q", resp.Status)
	}
	if resp.Checks["postgres"] != "ok" {
		t.Errorf("healthy probe should still report ok, got %q", resp.Checks["postgres"])
	}
	if resp.Checks["sqs"] != "connection refused" {
		t.Errorf("expected failure message, got %q", resp.Checks["sqs"])
	}
}
