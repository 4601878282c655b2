// Package cache defines a byte-oriented advisory cache port. Cached
// values may vanish at any time and are always recomputable from the
// durable event log.
package cache

import (
	"context"
	"time"
)

// Cache is the port interface for advisory caching.
type Cache interface {
	Get(ctx context.Context, key string) (data []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
