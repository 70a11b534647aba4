package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewRateLimiter_Disabled(t *testing.T) {
	if NewRateLimiter(0, 10) != nil {
		t.Error("expected nil limiter for zero rps")
	}
	if NewRateLimiter(-1, 10) != nil {
		t.Error("expected nil limiter for negative rps")
	}
}

func TestRateLimiter_Burst(t *testing.T) {
	rl := NewRateLimiter(1, 3)
	now := time.Unix(1700000000, 0)
	rl.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if !rl.Allow("10.0.0.1") {
			t.Fatalf("request %d should be allowed within burst", i+1)
		}
	}
	if rl.Allow("10.0.0.1") {
		t.Error("expected request beyond burst to be rejected")
	}

	now = now.Add(time.Second)
	if !rl.Allow("10.0.0.1") {
		t.Error("expected a token to refill after one second")
	}
}

func TestRateLimiter_MinimumBurst(t *testing.T) {
	rl := NewRateLimiter(1, 0)
	now := time.Unix(1700000000, 0)
	rl.now = func() time.Time { return now }

	if !rl.Allow("10.0.0.1") {
		t.Error("expected the first request to be allowed")
	}
	if rl.Allow("10.0.0.1") {
		t.Error("expected burst of one")
	}
}

func TestRateLimiter_PerClient(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	now := time.Unix(1700000000, 0)
	rl.now = func() time.Time { return now }

	if !rl.Allow("10.0.0.1") || !rl.Allow("10.0.0.2") {
		t.Error("expected each client to get its own bucket")
	}
	if rl.Allow("10.0.0.1") {
		t.Error("expected first client to be limited")
	}
	if rl.Tracked() != 2 {
		t.Errorf("expected 2 tracked clients, got %d", rl.Tracked())
	}
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	now := time.Unix(1700000000, 0)
	rl.now = func() time.Time { return now }

	rl.Allow("10.0.0.1")
	now = now.Add(clientIdleTimeout / 2)
	rl.Allow("10.0.0.2")

	now = now.Add(clientIdleTimeout/2 + time.Second)
	rl.Cleanup()

	if rl.Tracked() != 1 {
		t.Fatalf("expected only the recent client to remain, got %d", rl.Tracked())
	}
	if !rl.Allow("10.0.0.1") {
		t.Error("expected a forgotten client to start with a fresh bucket")
	}
}

func TestRateLimiter_SetLimit(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	now := time.Unix(1700000000, 0)
	rl.now = func() time.Time { return now }

	rl.Allow("10.0.0.1")
	if rl.Allow("10.0.0.1") {
		t.Fatal("expected limit before reload")
	}

	rl.SetLimit(10, 5)
	now = now.Add(time.Second)
	allowed := 0
	for i := 0; i < 10; i++ {
		if rl.Allow("10.0.0.1") {
			allowed++
		}
	}
	if allowed != 5 {
		t.Errorf("expected the new burst of 5 for a tracked client, got %d", allowed)
	}

	rl.SetLimit(0, 1)
	if rl.rps != 10 {
		t.Errorf("expected non-positive rps to be ignored, got %v", rl.rps)
	}
}

func TestRateLimiter_Middleware(t *testing.T) {
	rl := NewRateLimiter(0.001, 1)
	calls := 0
	handler := rl.Middleware(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest("GET", "/api/ask", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.9")

	w := httptest.NewRecorder()
	handler(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	handler(w, req)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if decodeBody(t, w)["error"] != "Rate limit exceeded. Please try again later." {
		t.Errorf("unexpected body: %s", w.Body.String())
	}
	if calls != 1 {
		t.Errorf("expected handler called once, got %d", calls)
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		xff        string
		realIP     string
		remoteAddr string
		want       string
	}{
		{"forwarded for", "203.0.113.1, 10.0.0.1", "", "192.0.2.1:1234", "203.0.113.1"},
		{"real ip", "", "203.0.113.2", "192.0.2.1:1234", "203.0.113.2"},
		{"remote addr", "", "", "192.0.2.1:1234", "192.0.2.1"},
		{"ipv6 remote addr", "", "", "[2001:db8::1]:443", "[2001:db8::1]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.realIP != "" {
				req.Header.Set("X-Real-IP", tt.realIP)
			}
			if got := clientIP(req); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}
