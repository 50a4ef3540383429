package http

import (
	"testing"
	"time"
)

func TestRateLimiterWindow(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := newRateLimiter(2)
	rl.now = func() time.Time { return now }

	if !rl.allow() || !rl.allow() {
		t.Fatalf("first two sends should pass")
	}
	if rl.allow() {
		t.Fatalf("third send in the window should be limited")
	}

	now = now.Add(time.Minute)
	if !rl.allow() {
		t.Fatalf("new window should reset the counter")
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	rl := newRateLimiter(0)
	for range 1000 {
		if !rl.allow() {
			t.Fatalf("limit 0 means unlimited")
		}
	}
	var nilLimiter *rateLimiter
	if !nilLimiter.allow() {
		t.Fatalf("nil limiter should allow")
	}
}
