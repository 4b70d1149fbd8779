package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

const (
	serviceName    = "interview-gateway"
	serviceVersion = "1.0.0"
)

// HealthStatus represents the health status of the service
type HealthStatus struct {
	Status       string                      `json:"status"`
	Service      string                      `json:"service"`
	Version      string                      `json:"version"`
	Timestamp    string                      `json:"timestamp"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus represents the status of a dependency
type DependencyStatus struct {
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	LatencyMs int64  `json:"latency_ms,omitempty"`
}

// HealthCheckFunc reports whether one dependency is usable.
type HealthCheckFunc func(ctx context.Context) error

// HealthCheck is a named dependency probe for the readiness endpoint.
type HealthCheck struct {
	Name  string
	Check HealthCheckFunc
}

func newStatus(status string) HealthStatus {
	return HealthStatus{
		Status:    status,
		Service:   serviceName,
		Version:   serviceVersion,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// HealthCheckHandler answers liveness probes. It never touches dependencies.
func HealthCheckHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, newStatus("healthy"))
	}
}

// CheckAll runs every probe concurrently and reports whether all passed.
// Probes with a nil Check are skipped.
func CheckAll(ctx context.Context, checks []HealthCheck) (map[string]DependencyStatus, bool) {
	results := make([]DependencyStatus, len(checks))
	var wg sync.WaitGroup
	for i, hc := range checks {
		if hc.Check == nil {
			continue
		}
		wg.Add(1)
		go func(i int, check HealthCheckFunc) {
			defer wg.Done()
			start := time.Now()
			err := check(ctx)
			results[i] = DependencyStatus{Status: "healthy", LatencyMs: time.Since(start).Milliseconds()}
			if err != nil {
				results[i].Status = "unhealthy"
				results[i].Message = err.Error()
			}
		}(i, hc.Check)
	}
	wg.Wait()

	dependencies := make(map[string]DependencyStatus, len(checks))
	ok := true
	for i, hc := range checks {
		if hc.Check == nil {
			continue
		}
		dependencies[hc.Name] = results[i]
		ok = ok && results[i].Status == "healthy"
	}
	return dependencies, ok
}

// ReadinessHandler reports 503 until every check passes.
func ReadinessHandler(checks ...HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		dependencies, ok := CheckAll(ctx, checks)
		status := newStatus("ready")
		status.Dependencies = dependencies

		code := http.StatusOK
		if !ok {
			status.Status = "not_ready"
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, status)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
