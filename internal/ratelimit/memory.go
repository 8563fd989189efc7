package ratelimit

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// sweepInterval is the minimum time between scans for idle buckets.
const sweepInterval = time.Minute

// MemoryLimiter is an in-process token bucket limiter used when Redis is not
// configured. A rule allows Limit requests in a burst, refilled evenly over
// Window. A bucket left idle for a full Window is full again, so it is
// dropped on the next sweep.
type MemoryLimiter struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]*bucket
	swept   time.Time
}

type bucket struct {
	lim      *rate.Limiter
	window   time.Duration
	lastSeen time.Time
}

// MemoryOption configures a MemoryLimiter.
type MemoryOption func(*MemoryLimiter)

// WithClock sets the clock buckets refill and expire against.
func WithClock(now func() time.Time) MemoryOption {
	return func(l *MemoryLimiter) { l.now = now }
}

// NewMemoryLimiter creates an empty MemoryLimiter.
func NewMemoryLimiter(opts ...MemoryOption) *MemoryLimiter {
	l := &MemoryLimiter{now: time.Now, entries: make(map[string]*bucket)}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow reports whether identifier may proceed under rule. It never fails.
func (l *MemoryLimiter) Allow(_ context.Context, identifier string, rule Rule) (bool, error) {
	key := rule.Key + identifier
	now := l.now()

	l.mu.Lock()
	if now.Sub(l.swept) >= sweepInterval {
		l.sweep(now)
	}
	b, ok := l.entries[key]
	if !ok {
		every := rule.Window / time.Duration(rule.Limit)
		b = &bucket{lim: rate.NewLimiter(rate.Every(every), rule.Limit), window: rule.Window}
		l.entries[key] = b
	}
	b.lastSeen = now
	l.mu.Unlock()

	return b.lim.AllowN(now, 1), nil
}

// sweep drops buckets idle for at least their window. Callers hold l.mu.
func (l *MemoryLimiter) sweep(now time.Time) {
	for key, b := range l.entries {
		if now.Sub(b.lastSeen) >= b.window {
			delete(l.entries, key)
		}
	}
	l.swept = now
}

// Reset drops every bucket of a stream.
func (l *MemoryLimiter) Reset(_ context.Context, streamID string, rule Rule) error {
	prefix := rule.Key + streamID + ":"

	l.mu.Lock()
	defer l.mu.Unlock()
	for key := range l.entries {
		if strings.HasPrefix(key, prefix) {
			delete(l.entries, key)
		}
	}
	return nil
}
