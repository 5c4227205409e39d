// Package core provides the API chassis for the StockCast backend: a chi
// router with the cross-cutting middleware chain (recovery, request IDs,
// logging, CORS, metrics, auth) applied before requests reach domain
// handlers.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"stockcast/internal/config"
	"stockcast/internal/types"
)

// Authenticator resolves a bearer token to an actor. Implemented by
// *auth.Service; injected as an interface so middleware tests can stub it.
type Authenticator interface {
	VerifyToken(ctx context.Context, rawToken string) (types.Actor, error)
}

// MetricsCollector records API request telemetry.
type MetricsCollector interface {
	RecordRequest(method, endpoint, status string, duration time.Duration)
}

// RouteRegistrar mounts a group of domain routes onto the router. The
// application entry point populates these; the indirection keeps core free
// of handler imports.
type RouteRegistrar func(r chi.Router)

// Server holds the dependencies for the HTTP API.
type Server struct {
	Config        *config.Config
	Logger        *slog.Logger
	Authenticator Authenticator
	Metrics       MetricsCollector
	HealthProbes  []HealthProbe

	// V1RouteRegistrars mount authenticated /v1 routes.
	V1RouteRegistrars []RouteRegistrar
	// WebhookRegistrars mount /webhooks routes, which authenticate by
	// signature rather than bearer token.
	WebhookRegistrars []RouteRegistrar

	router *chi.Mux
}

// NewServer builds a Server and its router. Routes are mounted separately
// via MountRoutes so tests can customize registration.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	return &Server{
		Config: cfg,
		Logger: logger,
		router: chi.NewRouter(),
	}, nil
}

// Handler returns the router as an http.Handler for ListenAndServe.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// ListenAndServe runs the HTTP server until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:         ":" + s.Config.Server.Port,
		Handler:      s.router,
		ReadTimeout:  s.Config.Server.ReadTimeout,
		WriteTimeout: s.Config.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.Logger.Info("http server listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.Logger.Info("http server shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}
