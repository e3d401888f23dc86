package cache

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/kiranshivaraju/codereview/internal/invoke"
)

// releaseScript deletes the lock only if it still carries our token, so a lock
// that expired and was taken by someone else is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker grants stage locks shared by every server instance. Acquire is a
// single SET NX PX.
type RedisLocker struct {
	cache *RedisCache

	mu     sync.Mutex
	tokens map[string]string
}

func NewRedisLocker(c *RedisCache) *RedisLocker {
	return &RedisLocker{cache: c, tokens: make(map[string]string)}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	token := uuid.NewString()
	ok, err := l.cache.client.SetNX(ctx, LockKey(key), token, ttl).Result()
	if err != nil || !ok {
		return false, err
	}
	l.mu.Lock()
	l.tokens[key] = token
	l.mu.Unlock()
	return true, nil
}

func (l *RedisLocker) Release(ctx context.Context, key string) error {
	l.mu.Lock()
	token, ok := l.tokens[key]
	delete(l.tokens, key)
	l.mu.Unlock()
	if !ok {
		return nil
	}
	return releaseScript.Run(ctx, l.cache.client, []string{LockKey(key)}, token).Err()
}

var _ invoke.Locker = (*RedisLocker)(nil)
