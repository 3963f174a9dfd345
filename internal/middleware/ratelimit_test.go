package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestAllowPermitsWithinBurstThenDenies(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 2, CleanupInterval: time.Hour, ClientTimeout: time.Hour})
	defer rl.Stop()

	if allowed, _, _ := rl.Allow("1.2.3.4"); !allowed {
		t.Fatalf("first request should be allowed")
	}
	if allowed, _, _ := rl.Allow("1.2.3.4"); !allowed {
		t.Fatalf("second request (within burst) should be allowed")
	}
	if allowed, _, _ := rl.Allow("1.2.3.4"); allowed {
		t.Fatalf("third request should be denied once burst is exhausted")
	}
}

func TestAllowTracksClientsIndependently(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1, CleanupInterval: time.Hour, ClientTimeout: time.Hour})
	defer rl.Stop()

	if allowed, _, _ := rl.Allow("1.1.1.1"); !allowed {
		t.Fatalf("client A's first request should be allowed")
	}
	if allowed, _, _ := rl.Allow("1.1.1.1"); allowed {
		t.Fatalf("client A's second request should be denied")
	}
	if allowed, _, _ := rl.Allow("2.2.2.2"); !allowed {
		t.Fatalf("a distinct client B should have its own independent bucket")
	}
}

func TestMiddlewareSets429AndHeadersWhenExceeded(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1, CleanupInterval: time.Hour, ClientTimeout: time.Hour})
	defer rl.Stop()

	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	req.RemoteAddr = "9.9.9.9:1234"

	rec1 := httptest.NewRecorder()
	handler.ServeHTTP(rec1, req)
	if rec1.Code != http.StatusOK {
		t.Fatalf("first request status = %d, want 200", rec1.Code)
	}

	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req)
	if rec2.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", rec2.Code)
	}
	if rec2.Header().Get("Retry-After") == "" {
		t.Fatalf("expected a Retry-After header on a 429 response")
	}
}

func TestGetClientIPPrefersForwardedHeaders(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1, CleanupInterval: time.Hour, ClientTimeout: time.Hour})
	defer rl.Stop()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	req.Header.Set("X-Forwarded-For", "203.0.113.7")

	if got := rl.getClientIP(req); got != "203.0.113.7" {
		t.Fatalf("getClientIP = %q, want X-Forwarded-For value", got)
	}

	req2 := httptest.NewRequest(http.MethodGet, "/", nil)
	req2.RemoteAddr = "10.0.0.1:5555"
	if got := rl.getClientIP(req2); got != "10.0.0.1" {
		t.Fatalf("getClientIP with no headers = %q, want the RemoteAddr host", got)
	}
}

func TestPerformCleanupRemovesStaleClients(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1, CleanupInterval: time.Hour, ClientTimeout: time.Millisecond})
	defer rl.Stop()

	rl.Allow("1.2.3.4")
	time.Sleep(5 * time.Millisecond)
	rl.performCleanup()

	rl.mu.RLock()
	_, stillPresent := rl.limiters["1.2.3.4"]
	rl.mu.RUnlock()
	if stillPresent {
		t.Fatalf("expected stale client evicted by performCleanup")
	}
}
