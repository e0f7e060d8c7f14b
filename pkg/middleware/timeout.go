package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"
)

type writerState int

const (
	stateIdle writerState = iota
	stateWritten
	stateExpired
)

// deadlineWriter serializes the handler goroutine and the deadline on one
// ResponseWriter. Whichever touches it first owns the response.
type deadlineWriter struct {
	http.ResponseWriter
	mu    sync.Mutex
	state writerState
}

func (dw *deadlineWriter) WriteHeader(code int) {
	dw.mu.Lock()
	defer dw.mu.Unlock()
	if dw.state != stateIdle {
		return
	}
	dw.state = stateWritten
	dw.ResponseWriter.WriteHeader(code)
}

func (dw *deadlineWriter) Write(b []byte) (int, error) {
	dw.mu.Lock()
	defer dw.mu.Unlock()
	if dw.state == stateExpired {
		return 0, http.ErrHandlerTimeout
	}
	dw.state = stateWritten
	return dw.ResponseWriter.Write(b)
}

// expire marks the writer dead and reports whether nothing had been sent
// yet, in which case the caller owns the response.
func (dw *deadlineWriter) expire() bool {
	dw.mu.Lock()
	defer dw.mu.Unlock()
	untouched := dw.state == stateIdle
	dw.state = stateExpired
	return untouched
}

// RequestTimeout cancels the request context after timeout and answers 503
// if the handler has not written anything by then.
func RequestTimeout(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()

			dw := &deadlineWriter{ResponseWriter: w}
			finished := make(chan struct{})
			go func() {
				defer close(finished)
				next.ServeHTTP(dw, r.WithContext(ctx))
			}()

			select {
			case <-finished:
			case <-ctx.Done():
				if dw.expire() {
					writeJSONError(w, http.StatusServiceUnavailable, "Request timeout", "SERVICE_UNAVAILABLE")
				}
			}
		})
	}
}
