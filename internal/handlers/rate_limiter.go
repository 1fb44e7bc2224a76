package handlers

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sneakvault/orders/internal/platform/httpx"
	"github.com/sneakvault/orders/internal/platform/requestctx"
)

// fixedWindowLimiter allows limit hits per key per window.
type fixedWindowLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time
	mu     sync.Mutex
	hits   map[string]windowCount
}

type windowCount struct {
	count int
	reset time.Time
}

func newFixedWindowLimiter(limit int, window time.Duration, clock func() time.Time) *fixedWindowLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &fixedWindowLimiter{
		limit:  limit,
		window: window,
		clock:  clock,
		hits:   make(map[string]windowCount),
	}
}

// allow records a hit for key and reports whether it is within the limit, plus the window reset time.
func (l *fixedWindowLimiter) allow(key string) (bool, time.Time) {
	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.hits[key]
	if !ok || !now.Before(entry.reset) {
		entry = windowCount{reset: now.Add(l.window)}
		l.pruneLocked(now)
	}
	if entry.count >= l.limit {
		return false, entry.reset
	}
	entry.count++
	l.hits[key] = entry
	return true, entry.reset
}

func (l *fixedWindowLimiter) pruneLocked(now time.Time) {
	for key, entry := range l.hits {
		if !now.Before(entry.reset) {
			delete(l.hits, key)
		}
	}
}

// RateLimitByClient rejects a client address with 429 once it exceeds limit requests per window.
// A non-positive limit disables the middleware.
func RateLimitByClient(limit int, window time.Duration, clock func() time.Time) func(http.Handler) http.Handler {
	limiter := newFixedWindowLimiter(limit, window, clock)
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, reset := limiter.allow(clientKey(r))
			if !ok {
				wait := int(reset.Sub(limiter.clock()).Round(time.Second).Seconds())
				w.Header().Set("Retry-After", strconv.Itoa(max(wait, 1)))
				httpx.WriteError(r.Context(), w, httpx.NewError("rate_limited", "too many requests", http.StatusTooManyRequests))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientKey(r *http.Request) string {
	if ip := strings.TrimSpace(requestctx.RemoteIP(r.Context())); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "anonymous"
}
