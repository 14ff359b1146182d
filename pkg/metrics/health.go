package metrics

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Components a burrow manager reports on
const (
	ComponentRaft       = "raft"
	ComponentStore      = "store"
	ComponentAPI        = "api"
	ComponentReconciler = "reconciler"
)

// Overall and per-component states
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
	StatusReady     = "ready"
	StatusNotReady  = "not_ready"
)

// HealthStatus is the body of the health and readiness endpoints
type HealthStatus struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Components map[string]string `json:"components,omitempty"`
	Message    string            `json:"message,omitempty"`
	Version    string            `json:"version,omitempty"`
	Uptime     string            `json:"uptime,omitempty"`
	StartTime  time.Time         `json:"-"`
}

type componentState struct {
	err error
}

// Registry tracks the last reported state of each component. Any unhealthy
// component makes the node unhealthy; only critical components gate
// readiness.
type Registry struct {
	mu         sync.RWMutex
	components map[string]componentState
	critical   []string
	startTime  time.Time
	version    string
}

// NewRegistry creates a registry whose readiness waits on critical
func NewRegistry(critical ...string) *Registry {
	return &Registry{
		components: make(map[string]componentState),
		critical:   critical,
		startTime:  time.Now(),
	}
}

// Readiness waits on raft, store and api; the reconciler only affects health
var defaultRegistry = NewRegistry(ComponentRaft, ComponentStore, ComponentAPI)

// SetVersion sets the version string reported by the registry
func (r *Registry) SetVersion(version string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.version = version
}

// SetComponent records name as healthy when err is nil, unhealthy otherwise
func (r *Registry) SetComponent(name string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.components[name] = componentState{err: err}
}

// Health reports every component and is unhealthy if any of them is
func (r *Registry) Health() HealthStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	status := StatusHealthy
	components := make(map[string]string, len(r.components))
	for name, c := range r.components {
		if c.err != nil {
			status = StatusUnhealthy
			components[name] = StatusUnhealthy + ": " + c.err.Error()
			continue
		}
		components[name] = StatusHealthy
	}
	return r.status(status, "", components)
}

// Readiness reports the critical components only. A critical component
// that never reported counts as not ready. The message names the first
// blocking component in sorted order.
func (r *Registry) Readiness() HealthStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var blocked []string
	components := make(map[string]string, len(r.critical))
	for _, name := range r.critical {
		c, ok := r.components[name]
		switch {
		case !ok:
			components[name] = "not registered"
			blocked = append(blocked, name)
		case c.err != nil:
			components[name] = "not ready: " + c.err.Error()
			blocked = append(blocked, name)
		default:
			components[name] = StatusReady
		}
	}

	if len(blocked) == 0 {
		return r.status(StatusReady, "", components)
	}
	sort.Strings(blocked)
	return r.status(StatusNotReady, "waiting for "+blocked[0], components)
}

func (r *Registry) status(status, message string, components map[string]string) HealthStatus {
	return HealthStatus{
		Status:     status,
		Timestamp:  time.Now(),
		Components: components,
		Message:    message,
		Version:    r.version,
		Uptime:     time.Since(r.startTime).String(),
		StartTime:  r.startTime,
	}
}

// HealthHandler serves Health, answering 503 when unhealthy
func (r *Registry) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		health := r.Health()
		code := http.StatusOK
		if health.Status != StatusHealthy {
			code = http.StatusServiceUnavailable
		}
		writeStatus(w, code, health)
	}
}

// ReadyHandler serves Readiness, answering 503 until ready
func (r *Registry) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		readiness := r.Readiness()
		code := http.StatusOK
		if readiness.Status != StatusReady {
			code = http.StatusServiceUnavailable
		}
		writeStatus(w, code, readiness)
	}
}

// LivenessHandler answers 200 for as long as the process serves requests
func (r *Registry) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeStatus(w, http.StatusOK, map[string]string{
			"status": "alive",
			"uptime": time.Since(r.startTime).String(),
		})
	}
}

func writeStatus(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// Package-level helpers report to the process-wide registry

// SetVersion sets the version reported by the health endpoints
func SetVersion(version string) { defaultRegistry.SetVersion(version) }

// SetComponent records the state of a component
func SetComponent(name string, err error) { defaultRegistry.SetComponent(name, err) }

// GetHealth returns the process-wide health
func GetHealth() HealthStatus { return defaultRegistry.Health() }

// GetReadiness returns the process-wide readiness
func GetReadiness() HealthStatus { return defaultRegistry.Readiness() }

// HealthHandler serves the process-wide health
func HealthHandler() http.HandlerFunc { return defaultRegistry.HealthHandler() }

// ReadyHandler serves the process-wide readiness
func ReadyHandler() http.HandlerFunc { return defaultRegistry.ReadyHandler() }

// LivenessHandler serves the process-wide liveness
func LivenessHandler() http.HandlerFunc { return defaultRegistry.LivenessHandler() }
