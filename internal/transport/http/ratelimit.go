package http

import "time"

// rateLimiter is a fixed one-minute window counter. It belongs to a single
// connection's read loop and is not safe for concurrent use.
type rateLimiter struct {
	limit       int
	count       int
	windowStart time.Time
	now         func() time.Time
}

func newRateLimiter(limit int) *rateLimiter {
	return &rateLimiter{limit: limit, now: time.Now}
}

func (r *rateLimiter) allow() bool {
	if r == nil || r.limit <= 0 {
		return true
	}
	now := r.now()
	if now.Sub(r.windowStart) >= time.Minute {
		r.windowStart = now
		r.count = 0
	}
	r.count++
	return r.count <= r.limit
}
