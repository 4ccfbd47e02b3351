package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	backend "github.com/redis/go-redis/v9"

	"github.com/rendis/waypoint/pkg/schema"
)

// unlockScript deletes the lock only while it still carries our token.
var unlockScript = backend.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// RedisLocker implements Locker with Redis SET NX PX.
type RedisLocker struct {
	client   *backend.Client
	prefix   string
	interval time.Duration
}

// NewRedisLocker creates a locker writing keys under prefix + "lock:".
func NewRedisLocker(client *backend.Client, prefix string) *RedisLocker {
	return &RedisLocker{client: client, prefix: prefix, interval: 50 * time.Millisecond}
}

// Lock polls SET NX until it succeeds or ctx is done. Each acquisition
// carries a random token so a holder never deletes a lock that expired and
// was taken by someone else.
func (l *RedisLocker) Lock(ctx context.Context, key string, ttl time.Duration) (UnlockFunc, error) {
	lockKey := l.prefix + "lock:" + key
	token := uuid.NewString()

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, lockKey, token, ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, lockTimeout(key, ctx.Err())
			}
			return nil, schema.NewErrorf(schema.ErrCodeLock, "acquire lock %q: %v", key, err).WithCause(err)
		}
		if ok {
			return func(ctx context.Context) error {
				if err := unlockScript.Run(ctx, l.client, []string{lockKey}, token).Err(); err != nil {
					return schema.NewErrorf(schema.ErrCodeLock, "release lock %q: %v", key, err).WithCause(err)
				}
				return nil
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, lockTimeout(key, ctx.Err())
		case <-ticker.C:
		}
	}
}

var _ Locker = (*RedisLocker)(nil)
