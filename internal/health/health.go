// Package health aggregates component readiness checks behind one
// GET /health/ endpoint.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Statuses reported per component and overall.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Checker probes one component. A nil error means healthy.
type Checker interface {
	Name() string
	Check(ctx context.Context) error
	Critical() bool
}

// CheckerFunc adapts a probe function to the Checker interface.
type CheckerFunc struct {
	ComponentName string
	Probe         func(ctx context.Context) error
	Vital         bool
}

func (c CheckerFunc) Name() string                    { return c.ComponentName }
func (c CheckerFunc) Check(ctx context.Context) error { return c.Probe(ctx) }
func (c CheckerFunc) Critical() bool                  { return c.Vital }

// Snapshot is the /health/ response body.
type Snapshot struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components"`
	Timestamp  string            `json:"timestamp"`
}

// Manager runs registered checkers on demand.
type Manager struct {
	timeout time.Duration
	log     *zap.Logger

	mu       sync.RWMutex
	checkers []Checker
}

// NewManager builds a manager. timeout bounds each individual probe.
func NewManager(timeout time.Duration, logger *zap.Logger) *Manager {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{timeout: timeout, log: logger}
}

// Register adds a checker. Later registrations with the same name replace
// earlier ones.
func (m *Manager) Register(c Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.checkers {
		if existing.Name() == c.Name() {
			m.checkers[i] = c
			return
		}
	}
	m.checkers = append(m.checkers, c)
}

// Snapshot probes every component and folds the results into one status.
// A failing critical component makes the whole service unhealthy; a
// failing non-critical one only degrades it.
func (m *Manager) Snapshot(ctx context.Context) Snapshot {
	m.mu.RLock()
	checkers := append([]Checker(nil), m.checkers...)
	m.mu.RUnlock()

	sort.Slice(checkers, func(i, j int) bool { return checkers[i].Name() < checkers[j].Name() })

	snap := Snapshot{
		Status:     StatusHealthy,
		Components: make(map[string]string, len(checkers)),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}

	for _, c := range checkers {
		probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
		err := c.Check(probeCtx)
		cancel()

		if err == nil {
			snap.Components[c.Name()] = StatusHealthy
			continue
		}
		snap.Components[c.Name()] = StatusUnhealthy + ": " + err.Error()
		m.log.Warn("Component health check failed",
			zap.String("component", c.Name()),
			zap.Bool("critical", c.Critical()),
			zap.Error(err),
		)
		if c.Critical() {
			snap.Status = StatusUnhealthy
		} else if snap.Status == StatusHealthy {
			snap.Status = StatusDegraded
		}
	}
	return snap
}

// Healthy reports whether every critical component passes.
func (m *Manager) Healthy(ctx context.Context) bool {
	return m.Snapshot(ctx).Status != StatusUnhealthy
}

// Handler serves GET /health/. Unhealthy snapshots get HTTP 503 so load
// balancers can act on the status code alone.
func (m *Manager) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		snap := m.Snapshot(r.Context())
		status := http.StatusOK
		if snap.Status == StatusUnhealthy {
			status = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(snap)
	}
}

// RegisterRoutes mounts the health endpoint on a mux.
func (m *Manager) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health/", m.Handler())
	mux.HandleFunc("/health", m.Handler())
}
