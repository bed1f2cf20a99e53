// Package health provides the health, readiness and liveness endpoints of
// the admission gateway.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultCheckTimeout bounds a single readiness check.
const DefaultCheckTimeout = 2 * time.Second

// Status represents the health status.
type Status string

const (
	// StatusHealthy indicates the service is healthy.
	StatusHealthy Status = "healthy"
	// StatusUnhealthy indicates the service is unhealthy.
	StatusUnhealthy Status = "unhealthy"
	// StatusDegraded indicates the service is degraded but operational.
	StatusDegraded Status = "degraded"
	// StatusDraining indicates the service is shutting down.
	StatusDraining Status = "draining"
)

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    Status    `json:"status"`
	Version   string    `json:"version,omitempty"`
	Uptime    string    `json:"uptime,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ReadinessResponse represents the readiness check response.
type ReadinessResponse struct {
	Status    Status           `json:"status"`
	Checks    map[string]Check `json:"checks,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// Check represents an individual health check result.
type Check struct {
	Status   Status `json:"status"`
	Message  string `json:"message,omitempty"`
	Critical bool   `json:"critical"`
	Latency  string `json:"latency,omitempty"`
}

// CheckFunc probes one dependency.
type CheckFunc func(ctx context.Context) error

type registeredCheck struct {
	fn       CheckFunc
	critical bool
}

// Checker provides health and readiness checking functionality.
type Checker struct {
	version   string
	startTime time.Time
	timeout   time.Duration
	checks    map[string]registeredCheck
	draining  atomic.Bool
	mu        sync.RWMutex
}

// Option configures a Checker.
type Option func(*Checker)

// WithCheckTimeout sets the per-check timeout.
func WithCheckTimeout(d time.Duration) Option {
	return func(c *Checker) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// NewChecker creates a new health checker.
func NewChecker(version string, opts ...Option) *Checker {
	c := &Checker{
		version:   version,
		startTime: time.Now(),
		timeout:   DefaultCheckTimeout,
		checks:    make(map[string]registeredCheck),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RegisterCheck registers a readiness check. A failing critical check makes
// the service unhealthy, a failing non-critical one only degrades it.
func (c *Checker) RegisterCheck(name string, critical bool, check CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = registeredCheck{fn: check, critical: critical}
}

// UnregisterCheck removes a readiness check.
func (c *Checker) UnregisterCheck(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.checks, name)
}

// SetDraining marks the service as shutting down. A draining service
// reports not ready so load balancers stop routing to it.
func (c *Checker) SetDraining(draining bool) {
	c.draining.Store(draining)
}

// IsDraining reports whether SetDraining(true) is in effect.
func (c *Checker) IsDraining() bool {
	return c.draining.Load()
}

// Health returns the health status.
func (c *Checker) Health() HealthResponse {
	return HealthResponse{
		Status:    StatusHealthy,
		Version:   c.version,
		Uptime:    time.Since(c.startTime).Round(time.Second).String(),
		Timestamp: time.Now(),
	}
}

// Readiness runs every registered check and aggregates the result.
func (c *Checker) Readiness(ctx context.Context) ReadinessResponse {
	response := ReadinessResponse{
		Status:    StatusHealthy,
		Checks:    make(map[string]Check),
		Timestamp: time.Now(),
	}
	if c.IsDraining() {
		response.Status = StatusDraining
		return response
	}

	c.mu.RLock()
	names := make([]string, 0, len(c.checks))
	for name := range c.checks {
		names = append(names, name)
	}
	checks := make(map[string]registeredCheck, len(c.checks))
	for name, rc := range c.checks {
		checks[name] = rc
	}
	c.mu.RUnlock()
	sort.Strings(names)

	for _, name := range names {
		check := c.run(ctx, checks[name])
		response.Checks[name] = check

		switch {
		case check.Status == StatusUnhealthy:
			response.Status = StatusUnhealthy
		case check.Status == StatusDegraded && response.Status != StatusUnhealthy:
			response.Status = StatusDegraded
		}
	}

	return response
}

func (c *Checker) run(ctx context.Context, rc registeredCheck) Check {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	err := rc.fn(ctx)
	check := Check{
		Status:   StatusHealthy,
		Critical: rc.critical,
		Latency:  time.Since(start).Round(time.Microsecond).String(),
	}
	if err != nil {
		check.Message = err.Error()
		check.Status = StatusDegraded
		if rc.critical {
			check.Status = StatusUnhealthy
		}
	}
	return check
}

// HealthHandler returns an HTTP handler for the health endpoint.
func (c *Checker) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, c.Health())
	}
}

// ReadinessHandler returns an HTTP handler for the readiness endpoint. It
// answers 503 when the service is unhealthy or draining.
func (c *Checker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := c.Readiness(r.Context())

		statusCode := http.StatusOK
		if response.Status == StatusUnhealthy || response.Status == StatusDraining {
			statusCode = http.StatusServiceUnavailable
		}
		writeJSON(w, statusCode, response)
	}
}

// LivenessHandler returns an HTTP handler for the liveness endpoint (simple ping).
func (c *Checker) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
