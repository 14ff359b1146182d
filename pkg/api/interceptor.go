package api

import (
	"net/http"
	"strconv"

	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/go-chi/chi/v5"
)

// statusRecorder captures the status code written by a handler
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// requestMetrics records request counts and latency by route pattern
func requestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timer := metrics.NewTimer()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		metrics.APIRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		timer.ObserveDurationVec(metrics.APIRequestDuration, route)
	})
}

// leaderOnlyWrites rejects mutating requests on followers and points the
// caller at the leader. Reads are served from the local replica.
func leaderOnlyWrites(backend Backend) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isReadOnlyMethod(r.Method) || backend.IsLeader() {
				next.ServeHTTP(w, r)
				return
			}

			if leader := backend.LeaderAddr(); leader != "" {
				w.Header().Set("X-Burrow-Leader", leader)
			}
			writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{
				Error: "write operations are only accepted by the leader",
			})
		})
	}
}

func isReadOnlyMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}
