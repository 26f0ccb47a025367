package guard

import (
	"math"
	"sync"
	"time"
)

type bucket struct {
	tokens     float64
	lastRefill time.Time
}

// RateLimiter is a per-user token bucket. Buckets refill lazily at
// maxRequests/window tokens per second up to a capacity of
// maxRequests. Single-process by design; a shared store is a
// deployment concern.
type RateLimiter struct {
	mu          sync.Mutex
	maxRequests int
	window      time.Duration
	buckets     map[string]*bucket
	lastCleanup time.Time
	now         func() time.Time
}

func NewRateLimiter(maxRequests, windowSeconds int) *RateLimiter {
	if maxRequests <= 0 {
		maxRequests = 10
	}
	if windowSeconds <= 0 {
		windowSeconds = 60
	}
	now := time.Now
	return &RateLimiter{
		maxRequests: maxRequests,
		window:      time.Duration(windowSeconds) * time.Second,
		buckets:     make(map[string]*bucket),
		lastCleanup: now(),
		now:         now,
	}
}

// Allow consumes one token for the user. When denied, retryAfter is
// the whole seconds to wait before one token becomes available.
func (r *RateLimiter) Allow(userID string) (allowed bool, retryAfter int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.maybeCleanup(now)

	b, ok := r.buckets[userID]
	if !ok {
		b = &bucket{tokens: float64(r.maxRequests), lastRefill: now}
		r.buckets[userID] = b
	}

	rate := float64(r.maxRequests) / r.window.Seconds()
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.tokens = math.Min(float64(r.maxRequests), b.tokens+elapsed*rate)
		b.lastRefill = now
	}

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	return false, int(math.Ceil((1 - b.tokens) / rate))
}

// maybeCleanup drops buckets idle for longer than one window. Runs at
// most once per 5 windows, under the caller's lock.
func (r *RateLimiter) maybeCleanup(now time.Time) {
	if now.Sub(r.lastCleanup) <= 5*r.window {
		return
	}
	for userID, b := range r.buckets {
		if now.Sub(b.lastRefill) > r.window {
			delete(r.buckets, userID)
		}
	}
	r.lastCleanup = now
}

// Stats reports the limiter's observable state
func (r *RateLimiter) Stats() map[string]interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return map[string]interface{}{
		"tracked_users":           len(r.buckets),
		"max_requests_per_window": r.maxRequests,
		"window_seconds":          int(r.window.Seconds()),
		"last_cleanup":            r.lastCleanup,
	}
}
