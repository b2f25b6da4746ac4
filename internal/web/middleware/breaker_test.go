package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestCircuitBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	cb := NewCircuitBreaker(3, 30*time.Second)

	status := http.StatusInternalServerError
	handler := cb.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))

	req := httptest.NewRequest(http.MethodPost, "/migration/excel/upload", nil)

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("failure %d status = %d, want 500", i+1, rec.Code)
		}
	}

	if !cb.Open() {
		t.Fatal("breaker should be open after threshold failures")
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("open-circuit status = %d, want 503", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("503 response should carry Retry-After")
	}
}

func TestCircuitBreakerSuccessResetsCount(t *testing.T) {
	cb := NewCircuitBreaker(2, time.Minute)

	cb.record(http.StatusInternalServerError)
	cb.record(http.StatusOK)
	cb.record(http.StatusInternalServerError)

	if cb.Open() {
		t.Error("non-consecutive failures should not open the breaker")
	}
}

func TestCircuitBreakerClosesAfterCooldown(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(1, 30*time.Second)
	cb.now = func() time.Time { return now }

	cb.record(http.StatusBadGateway)
	if !cb.Open() {
		t.Fatal("breaker should open at threshold 1")
	}

	now = now.Add(31 * time.Second)
	if cb.Open() {
		t.Error("breaker should close after the cooldown")
	}
}

func TestCircuitBreakerIgnoresClientErrors(t *testing.T) {
	cb := NewCircuitBreaker(1, time.Minute)

	cb.record(http.StatusBadRequest)
	cb.record(http.StatusNotFound)
	cb.record(http.StatusTooManyRequests)

	if cb.Open() {
		t.Error("4xx responses must not trip the breaker")
	}
}
