package rediscache

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Deletes the key only while it still holds the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker hands out SET NX leases. A lease expires on its own after ttl,
// so a crashed holder cannot wedge the key.
type Locker struct {
	c   *redis.Client
	ttl time.Duration
}

func NewLocker(c *redis.Client, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Locker{c: c, ttl: ttl}
}

// TryLock returns ok=false without error when another holder owns key.
// The returned release func is safe to call more than once.
func (l *Locker) TryLock(ctx context.Context, key string) (func(context.Context) error, bool, error) {
	token := uuid.NewString()
	ok, err := l.c.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, false, errors.Wrap(err, "redis lock")
	}
	if !ok {
		return nil, false, nil
	}
	release := func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.c, []string{key}, token).Err(); err != nil {
			return errors.Wrap(err, "redis unlock")
		}
		return nil
	}
	return release, true, nil
}
