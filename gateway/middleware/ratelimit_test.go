package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimiterBlocksAfterBurst(t *testing.T) {
	limiter := NewRateLimiter(RateLimit{RequestsPerMinute: 1, Burst: 1})
	handler := limiter.Middleware(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/songs", nil)
	req.Header.Set("X-Real-IP", "203.0.113.9")

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected first request to succeed, got %d", res.Code)
	}

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second request to be rate limited, got %d", res.Code)
	}
}

func TestRateLimiterSeparatesClients(t *testing.T) {
	limiter := NewRateLimiter(RateLimit{RequestsPerMinute: 1, Burst: 1})
	handler := limiter.Middleware(okHandler())

	first := httptest.NewRequest(http.MethodGet, "/api/songs", nil)
	first.Header.Set("X-Real-IP", "203.0.113.1")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, first)
	if res.Code != http.StatusOK {
		t.Fatalf("expected first client to succeed, got %d", res.Code)
	}

	second := httptest.NewRequest(http.MethodGet, "/api/songs", nil)
	second.Header.Set("X-Real-IP", "203.0.113.2")
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, second)
	if res.Code != http.StatusOK {
		t.Fatalf("expected second client to succeed, got %d", res.Code)
	}
}

func TestRateLimiterUsesForwardedForFirstHop(t *testing.T) {
	limiter := NewRateLimiter(RateLimit{RequestsPerMinute: 1, Burst: 1})
	handler := limiter.Middleware(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/songs", nil)
	req.Header.Set("X-Forwarded-For", "198.51.100.7, 10.0.0.1")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected request to succeed, got %d", res.Code)
	}
	if _, ok := limiter.visitors["198.51.100.7"]; !ok {
		t.Fatal("expected visitor keyed by first forwarded hop")
	}
}

func TestRateLimiterEvictsIdleVisitors(t *testing.T) {
	limiter := NewRateLimiter(RateLimit{RequestsPerMinute: 60, Burst: 1})
	base := time.Unix(1_700_000_000, 0)
	limiter.now = func() time.Time { return base }

	if !limiter.allow("client-a") {
		t.Fatal("expected first request to pass")
	}
	limiter.now = func() time.Time { return base.Add(visitorIdleTTL + time.Minute) }
	limiter.evictIdle()
	if len(limiter.visitors) != 0 {
		t.Fatalf("expected idle visitor to be evicted, have %d", len(limiter.visitors))
	}
	if !limiter.allow("client-a") {
		t.Fatal("expected fresh bucket after eviction")
	}
}
