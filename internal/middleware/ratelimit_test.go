package middleware

import (
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimiterAllow(t *testing.T) {
	rl := NewRateLimiter()

	for i := 0; i < 3; i++ {
		if !rl.Allow("key", 3, time.Minute) {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if rl.Allow("key", 3, time.Minute) {
		t.Error("fourth request should be rejected")
	}
}

func TestRateLimiterKeysAreIndependent(t *testing.T) {
	rl := NewRateLimiter()

	if !rl.Allow("a", 1, time.Minute) {
		t.Fatal("first request for a should be allowed")
	}
	if rl.Allow("a", 1, time.Minute) {
		t.Error("second request for a should be rejected")
	}
	if !rl.Allow("b", 1, time.Minute) {
		t.Error("request for b should be unaffected by a")
	}
}

func TestRateLimiterWindowReset(t *testing.T) {
	rl := NewRateLimiter()

	if !rl.Allow("key", 1, 10*time.Millisecond) {
		t.Fatal("first request should be allowed")
	}
	if rl.Allow("key", 1, 10*time.Millisecond) {
		t.Fatal("second request should be rejected")
	}

	time.Sleep(15 * time.Millisecond)
	if !rl.Allow("key", 1, 10*time.Millisecond) {
		t.Error("request after window expiry should be allowed")
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	rl := NewRateLimiter()
	rl.Allow("stale", 1, time.Millisecond)
	rl.Allow("fresh", 1, time.Hour)

	time.Sleep(5 * time.Millisecond)
	rl.Cleanup()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if _, ok := rl.entries["stale"]; ok {
		t.Error("stale entry should be removed")
	}
	if _, ok := rl.entries["fresh"]; !ok {
		t.Error("fresh entry should remain")
	}
}

func TestRealIP(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "192.0.2.1:1234"
	if got := RealIP(r); got != "192.0.2.1" {
		t.Errorf("RealIP = %q, want 192.0.2.1", got)
	}

	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	if got := RealIP(r); got != "203.0.113.9" {
		t.Errorf("RealIP = %q, want first forwarded address", got)
	}
}
