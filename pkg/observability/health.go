package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// CheckFunc probes one dependency. A nil error means healthy.
type CheckFunc func(ctx context.Context) error

// HealthChecker aggregates dependency probes for the health endpoints.
type HealthChecker struct {
	checks map[string]CheckFunc
	// degradedOK names checks whose failure degrades rather than fails the
	// service (the cache backend is designed to be optional).
	degradedOK map[string]bool
}

// NewHealthChecker creates an empty health checker.
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		checks:     make(map[string]CheckFunc),
		degradedOK: make(map[string]bool),
	}
}

// AddCheck registers a required dependency probe.
func (h *HealthChecker) AddCheck(name string, check CheckFunc) {
	h.checks[name] = check
}

// AddOptionalCheck registers a probe whose failure only degrades the status.
func (h *HealthChecker) AddOptionalCheck(name string, check CheckFunc) {
	h.checks[name] = check
	h.degradedOK[name] = true
}

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status       string                      `json:"status"`
	Timestamp    time.Time                   `json:"timestamp"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus represents the health of a single dependency
type DependencyStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// Liveness returns a simple liveness probe (always 200 if the server runs).
func (h *HealthChecker) Liveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    StatusHealthy,
		"timestamp": time.Now(),
	})
}

// Readiness checks all dependencies and returns 503 only when a required
// dependency is down.
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.Check(ctx)

	w.Header().Set("Content-Type", "application/json")
	if status.Status == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(status)
}

// Check runs every registered probe.
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:       StatusHealthy,
		Timestamp:    time.Now(),
		Dependencies: make(map[string]DependencyStatus),
	}

	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			status.Dependencies[name] = DependencyStatus{
				Status:  StatusUnhealthy,
				Message: err.Error(),
			}
			if h.degradedOK[name] {
				if status.Status == StatusHealthy {
					status.Status = StatusDegraded
				}
			} else {
				status.Status = StatusUnhealthy
			}
			continue
		}
		status.Dependencies[name] = DependencyStatus{Status: StatusHealthy}
	}

	return status
}
