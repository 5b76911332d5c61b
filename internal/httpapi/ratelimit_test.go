package httpapi

import (
	"testing"
	"time"
)

func TestRateLimitExhaustsBurst(t *testing.T) {
	srv := &Server{RateLimitConfig: RateLimitConfig{
		WindowSeconds: 60,
		MaxRequests:   60,
		Burst:         2,
	}}
	router := srv.Routes()

	for i := 0; i < 2; i++ {
		if w := makeRequest(t, router, "GET", "/api/sync/health", nil); w.Code != 200 {
			t.Fatalf("request %d: expected 200, got %d", i, w.Code)
		}
	}
	w := makeRequest(t, router, "GET", "/api/sync/health", nil)
	if w.Code != 429 {
		t.Fatalf("expected 429 after burst, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("expected a Retry-After header on 429")
	}
}

func TestRateLimitDisabled(t *testing.T) {
	srv := &Server{RateLimitConfig: RateLimitConfig{
		WindowSeconds: 60,
		MaxRequests:   1,
		Burst:         1,
		Disabled:      true,
	}}
	router := srv.Routes()

	for i := 0; i < 5; i++ {
		if w := makeRequest(t, router, "GET", "/api/sync/health", nil); w.Code != 200 {
			t.Fatalf("request %d: expected 200 with limiter disabled, got %d", i, w.Code)
		}
	}
}

func TestTokenBucketRefill(t *testing.T) {
	tb := newTokenBucket(1, 1000) // refills fast enough to observe
	if ok, _ := tb.allow(); !ok {
		t.Fatal("first request should pass")
	}
	if ok, wait := tb.allow(); ok {
		t.Fatal("second immediate request should be denied")
	} else if wait <= 0 {
		t.Errorf("expected a positive wait hint, got %v", wait)
	}
	time.Sleep(5 * time.Millisecond)
	if ok, _ := tb.allow(); !ok {
		t.Error("bucket should have refilled")
	}
}
