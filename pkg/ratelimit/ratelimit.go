package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Limiter enforces a minimum interval between operations, shared across all
// callers. Each Wait reserves the next slot, so concurrent waiters are spaced
// one interval apart regardless of how the previous operation ended.
// It is safe for concurrent use by multiple goroutines.
type Limiter struct {
	mu       sync.Mutex
	interval time.Duration
	jitter   float64 // 0.0 to 1.0, fraction of interval added at random
	last     time.Time
}

// New creates a limiter with the given minimum interval and jitter factor.
// If interval is <= 0, the limiter does not block.
func New(interval time.Duration, jitter float64) *Limiter {
	if jitter < 0 {
		jitter = 0
	} else if jitter > 1 {
		jitter = 1
	}
	return &Limiter{interval: interval, jitter: jitter}
}

// NewRPS creates a limiter from a requests-per-second budget.
func NewRPS(rps float64, jitter float64) *Limiter {
	if rps <= 0 {
		return New(0, jitter)
	}
	return New(time.Duration(float64(time.Second)/rps), jitter)
}

// Wait blocks until the interval since the previous operation has elapsed, or
// until the context is cancelled. The slot is reserved before sleeping, so a
// cancelled waiter still counts against the schedule of later waiters.
func (l *Limiter) Wait(ctx context.Context) error {
	if l.interval <= 0 {
		return nil
	}

	l.mu.Lock()
	now := time.Now()
	next := l.last.Add(l.interval)
	if next.Before(now) {
		next = now
	}
	l.last = next
	l.mu.Unlock()

	delay := time.Until(next)
	if l.jitter > 0 {
		delay += time.Duration(rand.Float64() * l.jitter * float64(l.interval))
	}
	if delay <= 0 {
		return nil
	}

	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
