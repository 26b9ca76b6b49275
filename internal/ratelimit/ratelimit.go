// Package ratelimit bounds how many requests one caller may make per window.
// Redis holds the counters when configured so that every gateway instance
// enforces the same budget; otherwise a per-process token bucket is used.
package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Limiter decides whether key may make another request.
type Limiter interface {
	Allow(ctx context.Context, key string) Decision
}

// Memory is an in-process limiter with one token bucket per key. A bucket
// holds limit tokens and refills at limit per window.
type Memory struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
	swept   time.Time
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

var _ Limiter = (*Memory)(nil)

// NewMemory creates an in-process limiter.
func NewMemory(limit int, window time.Duration) *Memory {
	return newMemory(limit, window, time.Now)
}

func newMemory(limit int, window time.Duration, now func() time.Time) *Memory {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Memory{
		limit:   limit,
		window:  window,
		now:     now,
		buckets: make(map[string]*bucket),
		swept:   now(),
	}
}

// Allow takes one token from key's bucket.
func (m *Memory) Allow(_ context.Context, key string) Decision {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.sweep(now)
	b, ok := m.buckets[key]
	if !ok {
		every := rate.Every(m.window / time.Duration(m.limit))
		b = &bucket{lim: rate.NewLimiter(every, m.limit)}
		m.buckets[key] = b
	}
	b.seen = now

	allowed := b.lim.AllowN(now, 1)
	tokens := b.lim.TokensAt(now)

	remaining := int(math.Floor(tokens))
	if remaining < 0 {
		remaining = 0
	}

	// Time until one full token is available again.
	resetAt := now
	if tokens < 1 {
		missing := 1 - tokens
		resetAt = now.Add(time.Duration(missing / float64(b.lim.Limit()) * float64(time.Second)))
	}

	return Decision{
		Allowed:   allowed,
		Limit:     m.limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
}

// sweep drops buckets idle for longer than a window; they would be full again.
func (m *Memory) sweep(now time.Time) {
	if now.Sub(m.swept) < m.window {
		return
	}
	m.swept = now
	for k, b := range m.buckets {
		if now.Sub(b.seen) > m.window {
			delete(m.buckets, k)
		}
	}
}

// Size returns the number of tracked keys.
func (m *Memory) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buckets)
}
