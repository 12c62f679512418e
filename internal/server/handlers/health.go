package handlers

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/fulmenhq/gofulmen/errors"

	"github.com/linkscanner/linkscanner/internal/metrics"
)

// Check results reported per registered checker.
const (
	checkHealthy   = "healthy"
	checkUnhealthy = "unhealthy"
	checkTimeout   = "timeout"
	checkDegraded  = "degraded"
)

// HealthResponse represents the aggregate health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// ProbeResponse represents individual probe response
type ProbeResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthChecker defines interface for health checkable components
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// HealthCheckerFunc adapts a function to HealthChecker.
type HealthCheckerFunc func(ctx context.Context) error

func (f HealthCheckerFunc) CheckHealth(ctx context.Context) error {
	return f(ctx)
}

// HealthManager runs registered checks for the aggregate endpoint and the
// live, ready and startup probes.
type HealthManager struct {
	mu       sync.RWMutex
	checkers map[string]HealthChecker
	version  string
	now      func() time.Time
}

// NewHealthManager creates a new health manager
func NewHealthManager(version string) *HealthManager {
	return &HealthManager{
		checkers: make(map[string]HealthChecker),
		version:  version,
		now:      time.Now,
	}
}

// RegisterChecker registers a health checker
func (hm *HealthManager) RegisterChecker(name string, checker HealthChecker) {
	if hm == nil || checker == nil {
		return
	}
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.checkers[name] = checker
}

// Checkers returns the registered checker names in sorted order.
func (hm *HealthManager) Checkers() []string {
	hm.mu.RLock()
	defer hm.mu.RUnlock()
	names := make([]string, 0, len(hm.checkers))
	for name := range hm.checkers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RunChecks executes all registered checks sequentially.
func (hm *HealthManager) RunChecks(ctx context.Context) map[string]string {
	checks := make(map[string]string)

	for _, name := range hm.Checkers() {
		hm.mu.RLock()
		checker := hm.checkers[name]
		hm.mu.RUnlock()

		if ctx.Err() != nil {
			checks[name] = checkTimeout
			continue
		}

		start := hm.now()
		err := checker.CheckHealth(ctx)
		healthy := err == nil
		metrics.RecordHealthCheck(name, healthy, hm.now().Sub(start))

		switch {
		case healthy:
			checks[name] = checkHealthy
		case ctx.Err() != nil:
			checks[name] = checkTimeout
		default:
			checks[name] = checkUnhealthy
		}
	}

	return checks
}

// determineOverallStatus determines overall health status
func (hm *HealthManager) determineOverallStatus(checks map[string]string) string {
	degraded := false
	for _, status := range checks {
		if status == checkUnhealthy {
			return checkUnhealthy
		}
		if status == checkDegraded || status == checkTimeout {
			degraded = true
		}
	}

	if degraded {
		return checkDegraded
	}

	return checkHealthy
}

// HealthHandler handles aggregate health check requests
func (hm *HealthManager) HealthHandler(w http.ResponseWriter, r *http.Request) {
	checks, status, ok := hm.probe(w, r, "", "aggregate health check failed", 5*time.Second)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    status,
		Version:   hm.version,
		Timestamp: hm.now().UTC().Format(time.RFC3339),
		Checks:    checks,
	})
}

// LivenessHandler reports whether the process is running.
func (hm *HealthManager) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	hm.probeHandler(w, r, "live", "liveness probe failed", 2*time.Second)
}

// ReadinessHandler reports whether the service can take traffic.
func (hm *HealthManager) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	hm.probeHandler(w, r, "ready", "readiness probe failed", 5*time.Second)
}

// StartupHandler reports whether initialization completed.
func (hm *HealthManager) StartupHandler(w http.ResponseWriter, r *http.Request) {
	hm.probeHandler(w, r, "startup", "startup probe failed", 3*time.Second)
}

func (hm *HealthManager) probeHandler(w http.ResponseWriter, r *http.Request, probe, failure string, timeout time.Duration) {
	_, status, ok := hm.probe(w, r, probe, failure, timeout)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, ProbeResponse{
		Status:    status,
		Timestamp: hm.now().UTC(),
	})
}

// probe runs the checks under timeout and writes the 503 envelope when the
// aggregate status is unhealthy. ok is false when a response was written.
func (hm *HealthManager) probe(w http.ResponseWriter, r *http.Request, probe, failure string, timeout time.Duration) (map[string]string, string, bool) {
	if hm == nil {
		envelope := errors.NewErrorEnvelope("SERVICE_UNAVAILABLE", "health manager not initialized")
		respondWithError(w, r, enrichHealthEnvelope(envelope, probe, "unknown", nil))
		return nil, "", false
	}

	checkCtx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	checks := hm.RunChecks(checkCtx)
	status := hm.determineOverallStatus(checks)

	if status == checkUnhealthy {
		envelope := errors.NewErrorEnvelope("SERVICE_UNAVAILABLE", failure)
		respondWithError(w, r, enrichHealthEnvelope(envelope, probe, status, checks))
		return nil, "", false
	}
	return checks, status, true
}

func enrichHealthEnvelope(envelope *errors.ErrorEnvelope, probe, status string, checks map[string]string) *errors.ErrorEnvelope {
	if envelope == nil {
		return nil
	}

	details := map[string]interface{}{
		"status": status,
	}
	if len(checks) > 0 {
		details["checks"] = checks
	}
	if probe != "" {
		details["probe"] = probe
	}
	envelope = envelope.WithDetails(details)

	contextData := map[string]interface{}{
		"status": status,
	}
	if probe != "" {
		contextData["probe"] = probe
	}

	var unhealthy []string
	for name, result := range checks {
		if result != checkHealthy {
			unhealthy = append(unhealthy, name)
		}
	}
	if len(unhealthy) > 0 {
		sort.Strings(unhealthy)
		contextData["unhealthy_checks"] = unhealthy
	}

	envelope, _ = envelope.WithContext(contextData)
	return envelope
}
