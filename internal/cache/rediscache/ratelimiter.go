package rediscache

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RateLimiter is a fixed-window counter shared by every worker replica.
type RateLimiter struct {
	c *redis.Client
}

func NewRateLimiter(c *redis.Client) *RateLimiter {
	return &RateLimiter{c: c}
}

// Allow increments key and sets its TTL in one transaction.
// It returns whether the caller is still within limit and the current count.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error) {
	pipe := rl.c.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, window)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return false, 0, errors.Wrap(err, "redis ratelimit")
	}
	n := incr.Val()
	return n <= limit, n, nil
}

// MinuteKey buckets calls per carrier per wall-clock minute.
func MinuteKey(carrierID string, now time.Time) string {
	return fmt.Sprintf("rl:carrier:%s:%s", carrierID, now.UTC().Format("200601021504"))
}
