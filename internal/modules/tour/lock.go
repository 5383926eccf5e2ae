// README: Per-driver request lock backed by Redis SET NX with owner-checked release.
package tour

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"tourdispatch/internal/types"
)

type Locker interface {
	// Acquire tries once; ok is false when another holder owns key.
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

type RedisLocker struct {
	redis *redis.Client
}

func NewRedisLocker(redis *redis.Client) *RedisLocker {
	return &RedisLocker{redis: redis}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	token := string(types.NewID())
	ok, err := l.redis.SetNX(ctx, key, token, ttl).Result()
	if err != nil || !ok {
		return nil, false, err
	}
	release := func() {
		// The request context may already be done; release on a short background deadline.
		rctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = releaseScript.Run(rctx, l.redis, []string{key}, token).Err()
	}
	return release, true, nil
}
