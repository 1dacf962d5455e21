package gateway

import (
	"sync"
	"time"
)

// ClientRateLimiter implements sliding window rate limiting per client
type ClientRateLimiter struct {
	mu                 sync.Mutex
	requestsPerMinute  int
	maxConcurrent      int
	requests           []time.Time
	concurrentRequests int
	now                func() time.Time
}

// NewClientRateLimiter creates a new rate limiter with default limits
func NewClientRateLimiter() *ClientRateLimiter {
	return NewClientRateLimiterWithLimits(60, 4)
}

// NewClientRateLimiterWithLimits creates a rate limiter with custom limits
func NewClientRateLimiterWithLimits(requestsPerMinute, maxConcurrent int) *ClientRateLimiter {
	return &ClientRateLimiter{
		requestsPerMinute: requestsPerMinute,
		maxConcurrent:     maxConcurrent,
		now:               time.Now,
	}
}

// Acquire admits one request and counts it as running. The returned code is
// RateLimitExceeded or TooManyConcurrent when the request is refused.
func (r *ClientRateLimiter) Acquire() (bool, int, string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.maxConcurrent > 0 && r.concurrentRequests >= r.maxConcurrent {
		return false, TooManyConcurrent, "too many concurrent requests"
	}

	r.prune()
	if r.requestsPerMinute > 0 && len(r.requests) >= r.requestsPerMinute {
		return false, RateLimitExceeded, "rate limit exceeded"
	}

	r.requests = append(r.requests, r.now())
	r.concurrentRequests++
	return true, 0, ""
}

// Release marks one admitted request as finished
func (r *ClientRateLimiter) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.concurrentRequests > 0 {
		r.concurrentRequests--
	}
}

// Allow records a one-shot attempt, such as a login, without tracking
// concurrency
func (r *ClientRateLimiter) Allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.prune()
	if r.requestsPerMinute > 0 && len(r.requests) >= r.requestsPerMinute {
		return false
	}
	r.requests = append(r.requests, r.now())
	return true
}

// GetStats returns current rate limiter statistics
func (r *ClientRateLimiter) GetStats() (requestCount, concurrentCount int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.prune()
	return len(r.requests), r.concurrentRequests
}

// prune drops requests older than one minute; callers hold mu
func (r *ClientRateLimiter) prune() {
	cutoff := r.now().Add(-time.Minute)
	kept := r.requests[:0]
	for _, at := range r.requests {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	r.requests = kept
}
