package core

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// healthCheckTimeout is the maximum time allowed for all health probes to
// complete. Probes exceeding it are reported unhealthy.
const healthCheckTimeout = 2 * time.Second

// HealthProbe is a subsystem health check. Each probe represents a critical
// dependency (Postgres, SQS) that must be operational for the service to
// function.
type HealthProbe interface {
	// Name returns a stable identifier for the probe (e.g., "database").
	Name() string

	// Check performs the health check against the subsystem, respecting the
	// context deadline.
	Check(ctx context.Context) error
}

// ProbeFunc adapts a named function to the HealthProbe interface.
type ProbeFunc struct {
	ProbeName string
	Fn        func(ctx context.Context) error
}

func (p ProbeFunc) Name() string                    { return p.ProbeName }
func (p ProbeFunc) Check(ctx context.Context) error { return p.Fn(ctx) }

// componentStatus represents the health state of a single subsystem.
type componentStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// healthResponse is the JSON body for the health check endpoint.
type healthResponse struct {
	Status     string                     `json:"status"`
	Components map[string]componentStatus `json:"components,omitempty"`
}

// HandleHealth executes all registered health probes concurrently with a
// short timeout. Returns 200 if all probes report healthy, 503 if any
// subsystem fails or the deadline expires. Mounted unauthenticated at
// GET /health.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	probes := s.HealthProbes
	if len(probes) == 0 {
		JSON(w, r, http.StatusOK, healthResponse{Status: "healthy"})
		return
	}

	type probeResult struct {
		name string
		err  error
	}

	var (
		mu      sync.Mutex
		results = make(map[string]probeResult, len(probes))
		wg      sync.WaitGroup
	)

	for _, probe := range probes {
		wg.Add(1)
		go func(p HealthProbe) {
			defer wg.Done()

			var err error
			func() {
				defer func() {
					if rvr := recover(); rvr != nil {
						err = fmt.Errorf("probe panicked: %v", rvr)
					}
				}()
				err = p.Check(ctx)
			}()

			mu.Lock()
			results[p.Name()] = probeResult{name: p.Name(), err: err}
			mu.Unlock()
		}(probe)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		// Deadline expired; missing probes are reported as timed out below.
	}

	mu.Lock()
	completed := make(map[string]probeResult, len(results))
	for name, r := range results {
		completed[name] = r
	}
	mu.Unlock()

	components := make(map[string]componentStatus, len(probes))
	allHealthy := true

	for _, probe := range probes {
		name := probe.Name()
		result, ok := completed[name]
		switch {
		case !ok:
			allHealthy = false
			components[name] = componentStatus{
				Status:  "unhealthy",
				Message: "health check timed out",
			}
		case result.err != nil:
			allHealthy = false
			components[name] = componentStatus{
				Status:  "unhealthy",
				Message: result.err.Error(),
			}
		default:
			components[name] = componentStatus{Status: "healthy"}
		}
	}

	resp := healthResponse{Components: components}
	if allHealthy {
		resp.Status = "healthy"
		JSON(w, r, http.StatusOK, resp)
		return
	}
	resp.Status = "unhealthy"
	JSON(w, r, http.StatusServiceUnavailable, resp)
}
