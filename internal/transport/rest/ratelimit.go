package rest

import (
	"net"
	"net/http"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter is the narrow rate-limiting contract spec.md treats as an
// external collaborator "accessed only through named interfaces." This
// package defines the interface and ships one concrete implementation.
type Limiter interface {
	Allow(key string) bool
}

// ipLimiter is a per-IP token-bucket Limiter built on golang.org/x/time/rate.
type ipLimiter struct {
	rps   rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewIPLimiter builds a Limiter that buckets by client IP, refilling at rps
// tokens/second up to burst.
func NewIPLimiter(rps float64, burst int) Limiter {
	if burst <= 0 {
		burst = 1
	}
	return &ipLimiter{
		rps:      rate.Limit(rps),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (l *ipLimiter) Allow(key string) bool {
	l.mu.Lock()
	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(l.rps, l.burst)
		l.limiters[key] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

// clientIP extracts the request's client IP for rate-limit bucketing,
// preferring X-Forwarded-For's first hop when present.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if comma := indexByte(fwd, ','); comma >= 0 {
			return fwd[:comma]
		}
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

// rateLimitMiddleware rejects requests over the configured budget with 429.
func rateLimitMiddleware(limiter Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter != nil && !limiter.Allow(clientIP(r)) {
				writeJSON(w, http.StatusTooManyRequests, envelopeJSON{Status: false, Message: "rate limit exceeded", Data: map[string]any{}})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
