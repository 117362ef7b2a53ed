// Package notify composes and delivers channel notifications with embed
// sanitization and a per-channel fixed-window rate limit.
package notify

import (
	"sync"
	"time"
)

// Default limiter settings: 30 sends per 60-second window per channel key.
const (
	DefaultWindow   = time.Minute
	DefaultMaxSends = 30
)

// RateLimiter enforces a fixed-window send budget per key. The window does
// not slide; when it elapses the counter resets in full.
type RateLimiter struct {
	mu       sync.Mutex
	window   time.Duration
	maxSends int
	now      func() time.Time
	buckets  map[string]*bucket
}

type bucket struct {
	windowStart time.Time
	count       int
}

// NewRateLimiter builds a limiter. Non-positive arguments fall back to the
// defaults.
func NewRateLimiter(window time.Duration, maxSends int) *RateLimiter {
	if window <= 0 {
		window = DefaultWindow
	}
	if maxSends <= 0 {
		maxSends = DefaultMaxSends
	}
	return &RateLimiter{
		window:   window,
		maxSends: maxSends,
		now:      time.Now,
		buckets:  make(map[string]*bucket),
	}
}

// Allow consumes one send for key. When the budget is exhausted it returns
// false plus the time until the window resets.
func (l *RateLimiter) Allow(key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok || now.Sub(b.windowStart) >= l.window {
		l.buckets[key] = &bucket{windowStart: now, count: 1}
		return true, 0
	}
	if b.count < l.maxSends {
		b.count++
		return true, 0
	}
	return false, b.windowStart.Add(l.window).Sub(now)
}

// Remaining reports how many sends key has left in the current window.
func (l *RateLimiter) Remaining(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok || l.now().Sub(b.windowStart) >= l.window {
		return l.maxSends
	}
	return l.maxSends - b.count
}

// Prune drops buckets whose window has elapsed. Called opportunistically so
// the map does not grow without bound.
func (l *RateLimiter) Prune() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key, b := range l.buckets {
		if now.Sub(b.windowStart) >= l.window {
			delete(l.buckets, key)
		}
	}
}
