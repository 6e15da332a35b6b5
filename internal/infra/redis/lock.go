package redis

import (
	"context"
	"time"

	"video-generation-service/internal/domain"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// RedisLocker serializes multi-step job transitions across service
// instances with a SETNX lease keyed by job identity.
type RedisLocker struct {
	cli *redis.Client
}

func NewLocker(c *redClient) *RedisLocker {
	return &RedisLocker{cli: c.cli}
}

func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	for i := 0; i < 5; i++ {
		ok, err := l.cli.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			continue
		}
		if ok {
			return token, nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return "", domain.ErrLockNotAcquired
}

// luaUnlock releases the lock only for the holder of the token, so an
// expired-and-reacquired lease is never deleted by the previous holder.
var luaUnlock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`)

func (l *RedisLocker) Unlock(ctx context.Context, key, token string) error {
	_, err := luaUnlock.Run(ctx, l.cli, []string{key}, token).Result()
	return err
}
