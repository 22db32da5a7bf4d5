package httpapi

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

func newRateLimitedHandler(config RateLimitInfo) http.Handler {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return RateLimitMiddleware(config)(inner)
}

func TestRateLimiting429AfterBurst(t *testing.T) {
	handler := newRateLimitedHandler(RateLimitInfo{WindowSeconds: 60, MaxRequests: 10, Burst: 2})

	for i := 1; i <= 3; i++ {
		req := httptest.NewRequest("POST", "/execute", nil)
		req.RemoteAddr = "203.0.113.5:54321"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Header().Get("X-RateLimit-Limit") == "" {
			t.Errorf("request %d: missing X-RateLimit-Limit header", i)
		}

		if i <= 2 {
			if rec.Code == http.StatusTooManyRequests {
				t.Errorf("request %d: expected success within burst, got 429", i)
			}
		} else {
			if rec.Code != http.StatusTooManyRequests {
				t.Errorf("request %d: expected 429, got %d", i, rec.Code)
			}
			if rec.Header().Get("Retry-After") == "" {
				t.Error("expected Retry-After header on 429 response")
			}
		}
	}
}

func TestRateLimitingHeaderValues(t *testing.T) {
	handler := newRateLimitedHandler(RateLimitInfo{WindowSeconds: 60, MaxRequests: 100, Burst: 20})

	req := httptest.NewRequest("GET", "/billing/account", nil)
	req.RemoteAddr = "203.0.113.6:1234"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-RateLimit-Limit"); got != "100" {
		t.Errorf("X-RateLimit-Limit = %q, want 100", got)
	}

	resetUnix, err := strconv.ParseInt(rec.Header().Get("X-RateLimit-Reset"), 10, 64)
	if err != nil {
		t.Fatalf("invalid X-RateLimit-Reset: %v", err)
	}
	if resetUnix < time.Now().Unix() {
		t.Error("X-RateLimit-Reset should be in the future")
	}
}

func TestRateLimitingIsPerClientIP(t *testing.T) {
	handler := newRateLimitedHandler(RateLimitInfo{WindowSeconds: 60, MaxRequests: 10, Burst: 2})

	exhaust := func(ip string) int {
		var last int
		for i := 0; i < 3; i++ {
			req := httptest.NewRequest("POST", "/execute", nil)
			req.RemoteAddr = ip
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			last = rec.Code
		}
		return last
	}

	if code := exhaust("198.51.100.1:1111"); code != http.StatusTooManyRequests {
		t.Errorf("expected client A to be rate limited, got %d", code)
	}

	req := httptest.NewRequest("POST", "/execute", nil)
	req.RemoteAddr = "198.51.100.2:2222"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code == http.StatusTooManyRequests {
		t.Error("expected client B to have an independent bucket, got 429")
	}
}

func TestClientKeyFallsBackToRemoteAddr(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "not-a-host-port"
	if got := clientKey(req); got != "not-a-host-port" {
		t.Errorf("clientKey = %q, want passthrough of malformed RemoteAddr", got)
	}
}
