package invoke

import (
	"context"
	"sync"
	"time"
)

// RateLimiter enforces a minimum interval between calls to the same operation,
// across all analyses. Concurrent callers reserve consecutive slots, so calls are
// spaced by at least the delay regardless of arrival order.
type RateLimiter struct {
	mu    sync.Mutex
	delay time.Duration
	next  map[string]time.Time
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewRateLimiter(delay time.Duration) *RateLimiter {
	return &RateLimiter{
		delay: delay,
		next:  make(map[string]time.Time),
		now:   time.Now,
		sleep: sleepContext,
	}
}

// Wait blocks until op may be called again.
func (l *RateLimiter) Wait(ctx context.Context, op string) error {
	if l.delay <= 0 {
		return nil
	}

	l.mu.Lock()
	now := l.now()
	slot := now
	if n, ok := l.next[op]; ok && n.After(now) {
		slot = n
	}
	l.next[op] = slot.Add(l.delay)
	l.mu.Unlock()

	if wait := slot.Sub(now); wait > 0 {
		return l.sleep(ctx, wait)
	}
	return nil
}

// sleepContext sleeps for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
