package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/cuemby/burrow/pkg/metrics"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
}

// ReadyResponse represents the readiness check response
type ReadyResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
	Message   string            `json:"message,omitempty"`
}

// healthHandler implements the /health endpoint.
// This is a simple liveness check - returns 200 if the process is alive.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   metrics.GetHealth().Version,
	})
}

// readyHandler implements the /ready endpoint.
// A node is ready once it knows a leader and can read its store.
func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	ready := true
	var message string

	// Check 1: Raft cluster
	if s.backend.IsLeader() {
		checks["raft"] = "leader"
	} else if leaderAddr := s.backend.LeaderAddr(); leaderAddr != "" {
		checks["raft"] = fmt.Sprintf("follower (leader: %s)", leaderAddr)
	} else {
		checks["raft"] = "no leader elected"
		ready = false
		message = "Waiting for leader election"
	}

	// Check 2: Storage
	if _, err := s.backend.ListPools(); err != nil {
		checks["storage"] = fmt.Sprintf("error: %v", err)
		ready = false
		if message == "" {
			message = "Storage not accessible"
		}
	} else {
		checks["storage"] = "ok"
	}

	status := "ready"
	statusCode := http.StatusOK
	if !ready {
		status = "not ready"
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, ReadyResponse{
		Status:    status,
		Timestamp: time.Now(),
		Checks:    checks,
		Message:   message,
	})
}
