package invoke

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Locker grants analysis-scoped advisory locks. Acquire must be atomic: of two
// concurrent callers for the same key, at most one gets true.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// LockKey returns the lock key for a pipeline stage of one analysis.
func LockKey(stage, analysisID string) string {
	return stage + "_" + analysisID
}

// Hold acquires key and returns a function that releases it. It returns ErrLockHeld
// if another holder has the key.
func Hold(ctx context.Context, l Locker, key string, ttl time.Duration) (func(), error) {
	ok, err := l.Acquire(ctx, key, ttl)
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, ErrLockHeld)
	}
	return func() {
		// The stage context may already be cancelled; release must still go through.
		if err := l.Release(context.WithoutCancel(ctx), key); err != nil {
			slog.Warn("failed to release lock", "key", key, "error", err)
		}
	}, nil
}

// MemoryLocker is a process-local Locker. Expired locks are treated as free.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]time.Time
	now  func() time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]time.Time), now: time.Now}
}

func (m *MemoryLocker) Acquire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if exp, ok := m.held[key]; ok && now.Before(exp) {
		return false, nil
	}
	m.held[key] = now.Add(ttl)
	return true, nil
}

func (m *MemoryLocker) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.held, key)
	return nil
}

var _ Locker = (*MemoryLocker)(nil)
