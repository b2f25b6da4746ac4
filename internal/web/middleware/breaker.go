package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// CircuitBreaker sheds load from an endpoint after repeated server-side
// failures. It counts consecutive responses with status >= 500; when the
// count reaches threshold the circuit opens and requests are rejected
// with 503 until the cooldown elapses. The first success after the
// cooldown closes the circuit again.
type CircuitBreaker struct {
	mu        sync.Mutex
	failures  int
	openUntil time.Time

	threshold int
	cooldown  time.Duration

	// now is replaceable for tests.
	now func() time.Time
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// Open reports whether the circuit is currently rejecting requests.
func (cb *CircuitBreaker) Open() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.now().Before(cb.openUntil)
}

// record updates the failure count from one response status.
func (cb *CircuitBreaker) record(status int) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if status < http.StatusInternalServerError {
		cb.failures = 0
		return
	}

	cb.failures++
	if cb.failures >= cb.threshold {
		cb.openUntil = cb.now().Add(cb.cooldown)
		cb.failures = 0
		slog.Warn("circuit breaker opened",
			"threshold", cb.threshold,
			"cooldown", cb.cooldown,
		)
	}
}

// Middleware returns the HTTP middleware form of the breaker.
func (cb *CircuitBreaker) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if cb.Open() {
			w.Header().Set("Retry-After", strconv.Itoa(int(cb.cooldown.Seconds())))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":"service temporarily unavailable"}`))
			return
		}

		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		cb.record(ww.status)
	})
}
