package handlers

import (
	"context"
	"net/http"
	"sync"

	"github.com/signagekit/transferd/internal/server/middleware"
)

// HealthChecker reports on one dependency of the daemon.
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// HealthResponse is the wire shape of a healthy /health reply.
type HealthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Checks  map[string]string `json:"checks"`
}

// HealthManager aggregates registered checkers behind /health.
type HealthManager struct {
	version string

	mu       sync.RWMutex
	checkers map[string]HealthChecker
}

func NewHealthManager(version string) *HealthManager {
	return &HealthManager{
		version:  version,
		checkers: make(map[string]HealthChecker),
	}
}

func (m *HealthManager) RegisterChecker(name string, c HealthChecker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers[name] = c
}

// HealthHandler runs all checkers; any failure turns the reply into a 503
// envelope with per-check detail.
func (m *HealthManager) HealthHandler(w http.ResponseWriter, r *http.Request) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	checks := make(map[string]string, len(m.checkers))
	failures := map[string]interface{}{}
	for name, c := range m.checkers {
		if err := c.CheckHealth(r.Context()); err != nil {
			checks[name] = "unhealthy"
			failures[name] = err.Error()
			continue
		}
		checks[name] = "healthy"
	}

	if len(failures) > 0 {
		middleware.WriteError(w, r, http.StatusServiceUnavailable,
			"SERVICE_UNAVAILABLE", "one or more health checks failed", failures)
		return
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: m.version,
		Checks:  checks,
	})
}
