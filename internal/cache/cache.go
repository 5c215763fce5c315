// Package cache holds the byte-oriented cache contract used for
// cache-aside reads of journeys, active orders and cycle summaries.
package cache

import (
	"context"
	"time"
)

type BytesCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}
