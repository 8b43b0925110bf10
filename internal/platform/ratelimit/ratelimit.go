// Package ratelimit throttles instruction submissions per client.
package ratelimit

import (
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"safe/pkg/platform/httputil"
	"safe/pkg/platform/middleware/metadata"
)

// Result reports the state of a key's window after a check.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter is the whole number of seconds until the oldest hit expires.
func (r Result) RetryAfter(now time.Time) int {
	d := r.ResetAt.Sub(now)
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}

// Limiter is an in-memory sliding window keyed by caller.
// It is per-process, not shared across replicas.
type Limiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	now     func() time.Time
	windows map[string][]time.Time
}

type Option func(*Limiter)

// WithNow overrides the limiter's clock.
func WithNow(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// New returns a limiter admitting limit hits per window. A non-positive limit
// admits everything.
func New(limit int, window time.Duration, opts ...Option) *Limiter {
	l := &Limiter{
		limit:   limit,
		window:  window,
		now:     time.Now,
		windows: make(map[string][]time.Time),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow records one hit for key if the window has room.
func (l *Limiter) Allow(key string) Result {
	now := l.now()
	if l.limit <= 0 {
		return Result{Allowed: true, ResetAt: now}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	hits := prune(l.windows[key], now.Add(-l.window))
	if len(hits) >= l.limit {
		l.windows[key] = hits
		return Result{Limit: l.limit, ResetAt: hits[0].Add(l.window)}
	}
	hits = append(hits, now)
	l.windows[key] = hits
	return Result{
		Allowed:   true,
		Limit:     l.limit,
		Remaining: l.limit - len(hits),
		ResetAt:   hits[0].Add(l.window),
	}
}

// Reset forgets key's window.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, key)
}

func prune(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for ; i < len(hits); i++ {
		if hits[i].After(cutoff) {
			break
		}
	}
	if i == len(hits) {
		return nil
	}
	return hits[i:]
}

// Middleware rejects callers over their budget with 429. Callers are keyed by
// the client IP recorded by metadata.ClientMetadata.
func Middleware(l *Limiter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if l == nil {
				next.ServeHTTP(w, r)
				return
			}
			ip := metadata.FromContext(r.Context()).IP
			if ip == "" {
				ip = metadata.ClientIPFromRequest(r)
			}
			res := l.Allow(ip)
			if res.Limit > 0 {
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
				w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
				w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
			}
			if !res.Allowed {
				retry := res.RetryAfter(l.now())
				logger.WarnContext(r.Context(), "submission rate limited",
					"client_ip", ip,
					"retry_after", retry,
				)
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				httputil.WriteJSON(w, http.StatusTooManyRequests, map[string]any{
					"error":       "rate_limit_exceeded",
					"message":     "Too many submissions. Please try again later.",
					"retry_after": retry,
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
