package scraping

import (
	"context"
	"sync"
	"time"
)

// rateLimiter enforces a minimum gap between consecutive requests to one
// platform. Waiting is a sleep until the next allowed slot, never a busy
// loop, and respects context cancellation.
type rateLimiter struct {
	mu          sync.Mutex
	minInterval time.Duration
	nextAllowed time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func newRateLimiter(minInterval time.Duration) *rateLimiter {
	return &rateLimiter{
		minInterval: minInterval,
		now:         time.Now,
		sleep:       sleepContext,
	}
}

// Wait reserves the next request slot and blocks until it arrives.
func (l *rateLimiter) Wait(ctx context.Context) error {
	if l == nil || l.minInterval <= 0 {
		return nil
	}

	l.mu.Lock()
	now := l.now()
	slot := l.nextAllowed
	if slot.Before(now) {
		slot = now
	}
	l.nextAllowed = slot.Add(l.minInterval)
	l.mu.Unlock()

	if delay := slot.Sub(now); delay > 0 {
		return l.sleep(ctx, delay)
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
