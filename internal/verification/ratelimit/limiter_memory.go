package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// InMemoryLimiter keeps one token bucket per key. limit attempts refill
// evenly across window, so a burst of limit is allowed and then one attempt per
// window/limit.
type InMemoryLimiter struct {
	mu       sync.Mutex
	limiters map[string]*entry
	limit    int
	window   time.Duration
	now      func() time.Time
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewInMemory builds a limiter allowing limit attempts per window.
func NewInMemory(limit int, window time.Duration) *InMemoryLimiter {
	return &InMemoryLimiter{
		limiters: make(map[string]*entry),
		limit:    limit,
		window:   window,
		now:      time.Now,
	}
}

func (l *InMemoryLimiter) Allow(_ context.Context, key string) (*Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.evictIdle(now)

	e, ok := l.limiters[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(rate.Every(l.window/time.Duration(l.limit)), l.limit)}
		l.limiters[key] = e
	}
	e.lastSeen = now

	r := e.limiter.ReserveN(now, 1)
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return &Result{Allowed: false, RetryAfter: delay}, nil
	}
	return &Result{
		Allowed:   true,
		Remaining: int(math.Floor(e.limiter.TokensAt(now))),
	}, nil
}

// evictIdle drops buckets that have fully refilled; they carry no state.
func (l *InMemoryLimiter) evictIdle(now time.Time) {
	for key, e := range l.limiters {
		if now.Sub(e.lastSeen) > l.window {
			delete(l.limiters, key)
		}
	}
}
