package ratelimit

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/foodior/apiserver/internal/metrics"
)

// Limiter decides whether one more request for key is allowed. When it is
// not, retryAfter hints how long the client should wait.
type Limiter interface {
	Allow(ctx context.Context, key string) (allowed bool, retryAfter time.Duration, err error)
	Name() string
}

// MemoryLimiter is a per-key token bucket held in process memory.
type MemoryLimiter struct {
	rps     float64
	burst   int
	buckets sync.Map // map[string]*rate.Limiter
}

// NewMemoryLimiter allows rps events per second per key with bursts of up
// to burst.
func NewMemoryLimiter(rps float64, burst int) *MemoryLimiter {
	if burst < 1 {
		burst = 1
	}
	return &MemoryLimiter{rps: rps, burst: burst}
}

func (m *MemoryLimiter) Allow(_ context.Context, key string) (bool, time.Duration, error) {
	v, ok := m.buckets.Load(key)
	if !ok {
		v, _ = m.buckets.LoadOrStore(key, rate.NewLimiter(rate.Limit(m.rps), m.burst))
	}
	if v.(*rate.Limiter).Allow() {
		return true, 0, nil
	}
	return false, time.Second, nil
}

func (m *MemoryLimiter) Name() string { return "memory" }

// Middleware rejects requests over the limit with 429. Requests are keyed by
// client IP, so it must run after middleware.RealIP. Limiter errors fail
// open.
func Middleware(limiter Limiter, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := "ip:" + clientIP(r)
			allowed, retryAfter, err := limiter.Allow(r.Context(), key)
			if err != nil {
				logger.Warn("rate limit check failed", "limiter", limiter.Name(), "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				metrics.RateLimitRejected.WithLabelValues(limiter.Name()).Inc()
				seconds := int(retryAfter.Round(time.Second).Seconds())
				if seconds < 1 {
					seconds = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(seconds))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]string{"message": "Too many requests, please try again later"})
				return
			}
			metrics.RateLimitAllowed.WithLabelValues(limiter.Name()).Inc()
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if host == "" {
		return "unknown"
	}
	return host
}
