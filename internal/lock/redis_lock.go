// Package lock provides short-lived mutual-exclusion leases on redis,
// used to keep overlapping verify cycles off the same deal.
package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// releaseScript deletes the key only if it still holds our token, so an
// expired lease re-acquired by another worker is never released by us.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`

type RedisLock struct {
	client *redis.Client
	log    *zap.Logger

	mu     sync.Mutex
	tokens map[string]string
}

func NewRedisLock(client *redis.Client, log *zap.Logger) *RedisLock {
	return &RedisLock{client: client, log: log, tokens: make(map[string]string)}
}

// Acquire takes a non-blocking lease. Returns false if the key is held.
func (l *RedisLock) Acquire(ctx context.Context, key string, ttl time.Duration) bool {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, "lock:"+key, token, ttl).Result()
	if err != nil {
		l.log.Warn("lock acquire failed", zap.String("key", key), zap.Error(err))
		return false
	}
	if ok {
		l.mu.Lock()
		l.tokens[key] = token
		l.mu.Unlock()
	}
	return ok
}

func (l *RedisLock) Release(ctx context.Context, key string) {
	l.mu.Lock()
	token, ok := l.tokens[key]
	delete(l.tokens, key)
	l.mu.Unlock()
	if !ok {
		return
	}
	if err := l.client.Eval(ctx, releaseScript, []string{"lock:" + key}, token).Err(); err != nil {
		l.log.Warn("lock release failed", zap.String("key", key), zap.Error(err))
	}
}
