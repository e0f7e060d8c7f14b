package middleware

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"slotbook/pkg/logger"

	"golang.org/x/time/rate"
)

const HeaderClientID = "X-Client-ID"

// KeyFunc picks the bucket a request is charged against.
type KeyFunc func(r *http.Request) string

// RateLimiter keeps one token bucket per client key and forgets keys that
// stay idle for longer than idleTTL.
type RateLimiter struct {
	mu      sync.Mutex
	entries map[string]*limiterEntry
	rps     rate.Limit
	burst   int
	idleTTL time.Duration
	keyFunc KeyFunc
	log     *logger.Logger
}

type limiterEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

func NewRateLimiter(rps float64, burst int, keyFunc KeyFunc, log *logger.Logger) *RateLimiter {
	if keyFunc == nil {
		keyFunc = ClientKey
	}
	return &RateLimiter{
		entries: make(map[string]*limiterEntry),
		rps:     rate.Limit(rps),
		burst:   burst,
		idleTTL: 15 * time.Minute,
		keyFunc: keyFunc,
		log:     log,
	}
}

func (rl *RateLimiter) limiter(key string) *rate.Limiter {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if ent, ok := rl.entries[key]; ok {
		ent.lastSeen = now
		return ent.lim
	}

	lim := rate.NewLimiter(rl.rps, rl.burst)
	rl.entries[key] = &limiterEntry{lim: lim, lastSeen: now}
	return lim
}

func (rl *RateLimiter) Allow(key string) bool {
	return rl.limiter(key).Allow()
}

// Cleanup drops buckets that have not been used within idleTTL.
func (rl *RateLimiter) Cleanup() {
	cutoff := time.Now().Add(-rl.idleTTL)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	for k, ent := range rl.entries {
		if ent.lastSeen.Before(cutoff) {
			delete(rl.entries, k)
		}
	}
}

// StartJanitor runs Cleanup every interval until ctx is done.
func (rl *RateLimiter) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	t := time.NewTicker(interval)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				rl.Cleanup()
			}
		}
	}()
}

func RateLimit(rl *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := rl.keyFunc(r)
			if rl.Allow(key) {
				next.ServeHTTP(w, r)
				return
			}

			rl.log.Warn("Rate limit exceeded",
				"request_id", RequestID(r.Context()),
				"client", key,
				"path", r.URL.Path,
			)

			retryAfter := 1
			if rl.rps > 0 {
				retryAfter = max(1, int(1/float64(rl.rps)))
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			writeJSONError(w, http.StatusTooManyRequests, "Rate limit exceeded", "RATE_LIMITED")
		})
	}
}

// ClientKey uses X-Client-ID when the caller sends one and the remote host
// otherwise.
func ClientKey(r *http.Request) string {
	if id := r.Header.Get(HeaderClientID); id != "" {
		return id
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
