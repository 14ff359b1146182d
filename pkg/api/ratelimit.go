package api

import (
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/cuemby/burrow/pkg/metrics"
	"golang.org/x/time/rate"
)

// maxLimiters bounds the per-client limiter table
const maxLimiters = 10000

// RateLimit configures per-client limits on mutating requests. A zero
// RequestsPerSecond disables limiting.
type RateLimit struct {
	RequestsPerSecond float64
	Burst             int
}

// writeLimiter hands out one token bucket per client IP
type writeLimiter struct {
	mu       sync.Mutex
	limit    RateLimit
	limiters map[string]*rate.Limiter
}

func newWriteLimiter() *writeLimiter {
	return &writeLimiter{limiters: make(map[string]*rate.Limiter)}
}

func (l *writeLimiter) configure(limit RateLimit) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limit = limit
	l.limiters = make(map[string]*rate.Limiter)
}

// allow reports whether a write from clientIP may proceed
func (l *writeLimiter) allow(clientIP string) bool {
	l.mu.Lock()
	if l.limit.RequestsPerSecond <= 0 {
		l.mu.Unlock()
		return true
	}

	limiter, ok := l.limiters[clientIP]
	if !ok {
		if len(l.limiters) >= maxLimiters {
			l.limiters = make(map[string]*rate.Limiter)
		}
		burst := l.limit.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(l.limit.RequestsPerSecond), burst)
		l.limiters[clientIP] = limiter
	}
	l.mu.Unlock()

	return limiter.Allow()
}

// SetRateLimit limits mutating requests per client IP
func (s *Server) SetRateLimit(limit RateLimit) {
	s.limiter.configure(limit)
}

// rateLimitWrites answers 429 once a client exceeds its write budget
func (s *Server) rateLimitWrites(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isReadOnlyMethod(r.Method) || s.limiter.allow(clientIP(r)) {
			next.ServeHTTP(w, r)
			return
		}

		metrics.APIRateLimited.Inc()
		s.logger.Warn().Str("client", clientIP(r)).Str("path", r.URL.Path).Msg("Rate limit exceeded")
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusTooManyRequests, ErrorResponse{Error: "rate limit exceeded"})
	})
}

// clientIP extracts the caller's address, preferring proxy headers
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
