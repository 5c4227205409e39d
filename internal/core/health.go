package core

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// HealthProbe reports the liveness of one dependency. Name must be stable
// since it keys the health response.
type HealthProbe interface {
	Name() string
	Check(ctx context.Context) error
}

// HealthProbeFunc adapts a function to the HealthProbe interface.
type HealthProbeFunc struct {
	ProbeName string
	CheckFn   func(ctx context.Context) error
}

func (p HealthProbeFunc) Name() string                    { return p.ProbeName }
func (p HealthProbeFunc) Check(ctx context.Context) error { return p.CheckFn(ctx) }

const healthCheckTimeout = 2 * time.Second

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// HandleHealth runs all registered probes concurrently and reports 200 when
// every dependency answers, 503 otherwise. With no probes registered it is a
// plain liveness endpoint.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if len(s.HealthProbes) == 0 {
		JSON(w, r, http.StatusOK, healthResponse{Status: "ok"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	var (
		mu     sync.Mutex
		checks = make(map[string]string, len(s.HealthProbes))
		wg     sync.WaitGroup
	)
	healthy := true

	for _, probe := range s.HealthProbes {
		wg.Add(1)
		go func(p HealthProbe) {
			defer wg.Done()
			err := p.Check(ctx)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				checks[p.Name()] = err.Error()
				healthy = false
			} else {
				checks[p.Name()] = "ok"
			}
		}(probe)
	}
	wg.Wait()

	status := http.StatusOK
	resp := healthResponse{Status: "ok", Checks: checks}
	if !healthy {
		status = http.StatusServiceUnavailable
		resp.Status = "degraded"
	}
	JSON(w, r, status, resp)
}
