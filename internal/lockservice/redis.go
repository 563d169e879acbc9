package lockservice

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// releaseScript performs a compare-and-delete: only removes the key if its
// current value still equals the caller's token, so a lease that already
// expired and was re-acquired by a different job is never stolen back.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

// RedisLock is the production LockService, backed by a single Redis
// instance. Acquire uses SET key token NX PX ttl; Release uses the
// compare-and-delete Lua script above so a job can only release the lease
// it actually holds.
type RedisLock struct {
	client *redis.Client
}

// NewRedisLock wraps an existing go-redis client.
func NewRedisLock(client *redis.Client) *RedisLock {
	return &RedisLock{client: client}
}

// Ping verifies the Redis connection is reachable, for the /readyz probe.
func (r *RedisLock) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisLock) Acquire(ctx context.Context, key string, ttl time.Duration, token string) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}

func (r *RedisLock) Release(ctx context.Context, key string, token string) error {
	res, err := releaseScript.Run(ctx, r.client, []string{key}, token).Int64()
	if err != nil {
		return err
	}
	if res == 0 {
		return ErrNotHeld
	}
	return nil
}
