package gateway

import (
	"sync"

	"golang.org/x/time/rate"
)

// maxLimiterEntries bounds the per-sender limiter map so hostile traffic with
// unbounded sender ids cannot grow it forever.
const maxLimiterEntries = 10000

// RateLimiter enforces a per-sender request rate.
type RateLimiter struct {
	rpm   int
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewRateLimiter creates a limiter allowing rpm requests per minute per
// sender, with the given burst. rpm <= 0 disables limiting.
func NewRateLimiter(rpm, burst int) *RateLimiter {
	return &RateLimiter{
		rpm:      rpm,
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Enabled reports whether limiting is active.
func (rl *RateLimiter) Enabled() bool { return rl.rpm > 0 }

// Allow reports whether the sender may proceed.
func (rl *RateLimiter) Allow(senderID string) bool {
	if !rl.Enabled() {
		return true
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	lim, ok := rl.limiters[senderID]
	if !ok {
		if len(rl.limiters) >= maxLimiterEntries {
			// Full reset is coarse but keeps memory bounded; well-behaved
			// senders refill their burst immediately.
			rl.limiters = make(map[string]*rate.Limiter)
		}
		lim = rate.NewLimiter(rate.Limit(float64(rl.rpm)/60.0), rl.burst)
		rl.limiters[senderID] = lim
	}
	return lim.Allow()
}
