package realtime

import (
	"sync"
	"time"
)

// RateLimiter caps outbound sends to limit per sliding window.
// Send times live in a fixed ring; the oldest slot decides admission.
type RateLimiter struct {
	mu     sync.Mutex
	ring   []time.Time
	next   int
	filled int
	window time.Duration
}

// NewRateLimiter falls back to the package defaults for non-positive inputs.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = rateLimitEvents
	}
	if window <= 0 {
		window = rateLimitWindow
	}
	return &RateLimiter{ring: make([]time.Time, limit), window: window}
}

// Allow records a send at now when a slot is free.
func (r *RateLimiter) Allow(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.filled == len(r.ring) && now.Sub(r.ring[r.next]) < r.window {
		return false
	}
	r.ring[r.next] = now
	r.next = (r.next + 1) % len(r.ring)
	if r.filled < len(r.ring) {
		r.filled++
	}
	return true
}

// RetryAfter is how long until Allow(now) would succeed. Zero means now.
func (r *RateLimiter) RetryAfter(now time.Time) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.filled < len(r.ring) {
		return 0
	}
	wait := r.window - now.Sub(r.ring[r.next])
	if wait < 0 {
		return 0
	}
	return wait
}

// Reset clears the window; each new connection starts fresh.
func (r *RateLimiter) Reset() {
	r.mu.Lock()
	clear(r.ring)
	r.next, r.filled = 0, 0
	r.mu.Unlock()
}
