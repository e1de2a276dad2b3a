// Package ratelimit caps delivery throughput per subscription.
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter holds one token bucket per subscription.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// New creates a rate limiter.
func New() *Limiter {
	return &Limiter{
		buckets: make(map[string]*rate.Limiter),
	}
}

// Allow reports whether a delivery to the subscription may proceed now.
// A limit of 0 means unlimited.
func (l *Limiter) Allow(subID string, limit int) bool {
	if limit <= 0 {
		return true
	}
	return l.bucket(subID, limit).Allow()
}

// Wait blocks until the subscription's bucket permits a delivery or the
// context is cancelled. A limit of 0 means unlimited.
func (l *Limiter) Wait(ctx context.Context, subID string, limit int) error {
	if limit <= 0 {
		return nil
	}
	return l.bucket(subID, limit).Wait(ctx)
}

// Reset clears the bucket for a subscription, e.g. after its rate limit
// configuration changes.
func (l *Limiter) Reset(subID string) {
	l.mu.Lock()
	delete(l.buckets, subID)
	l.mu.Unlock()
}

// bucket returns the subscription's limiter, creating it on first use.
// Burst equals the per-second limit, matching a bucket that starts full.
func (l *Limiter) bucket(subID string, limit int) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[subID]
	if !ok || b.Limit() != rate.Limit(limit) {
		b = rate.NewLimiter(rate.Limit(limit), limit)
		l.buckets[subID] = b
	}
	return b
}
