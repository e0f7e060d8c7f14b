package middleware

import (
	"bytes"
	"net/http"
	"sync"
	"time"
)

const (
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderReplayed       = "Idempotent-Replayed"
)

const (
	minSweepInterval = time.Minute
	maxSweepInterval = time.Hour
)

// RequestMatcher selects requests a middleware should leave alone.
type RequestMatcher func(*http.Request) bool

type IdempotencyStore interface {
	Get(key string) (*CachedResponse, bool)
	Set(key string, response *CachedResponse)
	Stop()
}

// CachedResponse is a finished 2xx answer kept for replay.
type CachedResponse struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	CreatedAt  time.Time
}

// InMemoryIdempotencyStore keeps responses in process memory for ttl. A
// background sweep drops expired entries; Get never returns one.
type InMemoryIdempotencyStore struct {
	mu       sync.RWMutex
	entries  map[string]*CachedResponse
	ttl      time.Duration
	done     chan struct{}
	stopOnce sync.Once
}

func NewInMemoryIdempotencyStore(ttl time.Duration) *InMemoryIdempotencyStore {
	s := &InMemoryIdempotencyStore{
		entries: make(map[string]*CachedResponse),
		ttl:     ttl,
		done:    make(chan struct{}),
	}
	go s.sweepLoop(min(max(ttl, minSweepInterval), maxSweepInterval))
	return s
}

func (s *InMemoryIdempotencyStore) Get(key string) (*CachedResponse, bool) {
	s.mu.RLock()
	resp, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if s.expired(resp, time.Now()) {
		s.mu.Lock()
		if current, ok := s.entries[key]; ok && current == resp {
			delete(s.entries, key)
		}
		s.mu.Unlock()
		return nil, false
	}
	return resp, true
}

func (s *InMemoryIdempotencyStore) Set(key string, resp *CachedResponse) {
	resp.CreatedAt = time.Now()

	s.mu.Lock()
	s.entries[key] = resp
	s.mu.Unlock()
}

func (s *InMemoryIdempotencyStore) Stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

func (s *InMemoryIdempotencyStore) expired(resp *CachedResponse, now time.Time) bool {
	return now.Sub(resp.CreatedAt) > s.ttl
}

func (s *InMemoryIdempotencyStore) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			s.sweep(now)
		case <-s.done:
			return
		}
	}
}

func (s *InMemoryIdempotencyStore) sweep(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, resp := range s.entries {
		if s.expired(resp, now) {
			delete(s.entries, key)
		}
	}
}

// teeWriter passes the response through and keeps a copy of it.
type teeWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (tw *teeWriter) WriteHeader(status int) {
	tw.status = status
	tw.ResponseWriter.WriteHeader(status)
}

func (tw *teeWriter) Write(b []byte) (int, error) {
	tw.body.Write(b)
	return tw.ResponseWriter.Write(b)
}

// Idempotency replays the stored answer when a POST or PUT repeats its
// idempotency key on the same path. Only 2xx answers are stored. Requests
// matched by one of exempt always reach next.
func Idempotency(store IdempotencyStore, headerName string, exempt ...RequestMatcher) func(http.Handler) http.Handler {
	if headerName == "" {
		headerName = HeaderIdempotencyKey
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := cacheKey(r, headerName)
			if key == "" || matchesAny(exempt, r) {
				next.ServeHTTP(w, r)
				return
			}

			if cached, ok := store.Get(key); ok {
				replay(w, cached)
				return
			}

			tw := &teeWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(tw, r)
			if tw.status < 200 || tw.status >= 300 {
				return
			}

			headers := w.Header().Clone()
			headers.Del(HeaderRequestID)
			store.Set(key, &CachedResponse{
				StatusCode: tw.status,
				Headers:    headers,
				Body:       tw.body.Bytes(),
			})
		})
	}
}

func cacheKey(r *http.Request, headerName string) string {
	if r.Method != http.MethodPost && r.Method != http.MethodPut {
		return ""
	}
	key := r.Header.Get(headerName)
	if key == "" {
		return ""
	}
	return r.Method + " " + r.URL.Path + " " + key
}

func matchesAny(matchers []RequestMatcher, r *http.Request) bool {
	for _, m := range matchers {
		if m != nil && m(r) {
			return true
		}
	}
	return false
}

func replay(w http.ResponseWriter, cached *CachedResponse) {
	h := w.Header()
	for k, v := range cached.Headers {
		h[k] = append([]string(nil), v...)
	}
	h.Set(HeaderReplayed, "true")
	w.WriteHeader(cached.StatusCode)
	_, _ = w.Write(cached.Body)
}
