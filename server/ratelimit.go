package server

import (
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
)

// RateLimitConfig configures the fixed-window hook-auth failure limiter
// (spec.md §4.7: "20 failures/60s window, max 2048 keys tracked; prune
// expired first, else drop oldest half").
type RateLimitConfig struct {
	MaxFailures int           // default 20
	Window      time.Duration // default 60s
	MaxKeys     int           // default 2048
}

type windowCounter struct {
	count     int
	windowEnd time.Time
}

// hookLimiter is a per-client-key fixed-window counter of auth failures. A
// successful auth clears the counter; exceeding MaxFailures within Window
// throttles with 429 + Retry-After until the window rolls over.
type hookLimiter struct {
	cfg RateLimitConfig
	mu  sync.Mutex
	m   map[string]*windowCounter
}

func newHookLimiter(cfg RateLimitConfig) *hookLimiter {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 20
	}
	if cfg.Window <= 0 {
		cfg.Window = 60 * time.Second
	}
	if cfg.MaxKeys <= 0 {
		cfg.MaxKeys = 2048
	}
	return &hookLimiter{cfg: cfg, m: make(map[string]*windowCounter)}
}

// allow reports whether key may proceed, and if not, how many seconds until
// the window resets.
func (l *hookLimiter) allow(key string) (ok bool, retryAfter time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	c := l.m[key]
	if c == nil || now.After(c.windowEnd) {
		c = &windowCounter{windowEnd: now.Add(l.cfg.Window)}
		l.m[key] = c
	}
	if c.count >= l.cfg.MaxFailures {
		return false, c.windowEnd.Sub(now)
	}
	return true, 0
}

func (l *hookLimiter) recordFailure(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.evictIfFull(key)
	now := time.Now()
	c := l.m[key]
	if c == nil || now.After(c.windowEnd) {
		c = &windowCounter{windowEnd: now.Add(l.cfg.Window)}
		l.m[key] = c
	}
	c.count++
}

func (l *hookLimiter) clear(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.m, key)
}

// evictIfFull prunes expired entries first; if still at capacity, drops the
// oldest (by windowEnd) half of the tracked keys.
func (l *hookLimiter) evictIfFull(newKey string) {
	if _, exists := l.m[newKey]; exists {
		return
	}
	if len(l.m) < l.cfg.MaxKeys {
		return
	}
	now := time.Now()
	for k, c := range l.m {
		if now.After(c.windowEnd) {
			delete(l.m, k)
		}
	}
	if len(l.m) < l.cfg.MaxKeys {
		return
	}

	type entry struct {
		key string
		end time.Time
	}
	entries := make([]entry, 0, len(l.m))
	for k, c := range l.m {
		entries = append(entries, entry{k, c.windowEnd})
	}
	drop := len(entries) / 2
	for i := 0; i < drop; i++ {
		oldestIdx := 0
		for j := 1; j < len(entries); j++ {
			if entries[j].end.Before(entries[oldestIdx].end) {
				oldestIdx = j
			}
		}
		delete(l.m, entries[oldestIdx].key)
		entries = append(entries[:oldestIdx], entries[oldestIdx+1:]...)
	}
}

// hookHandler demonstrates the rate-limited hook-auth surface used by
// outbound control-plane callbacks (spec.md §4.7). Real hook verification
// is provider-specific; this endpoint enforces only the shared throttle.
func hookHandler(limiter *hookLimiter, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := chi.URLParam(r, "key")
		if key == "" {
			key = r.RemoteAddr
		}

		ok, retryAfter := limiter.allow(key)
		if !ok {
			w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())+1))
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}

		if !authorizeHook(r) {
			limiter.recordFailure(key)
			log.Warn("hook auth failed", "key", key)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		limiter.clear(key)
		w.WriteHeader(http.StatusOK)
	}
}

func authorizeHook(r *http.Request) bool {
	return r.Header.Get("Authorization") != ""
}
