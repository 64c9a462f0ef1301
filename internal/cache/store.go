package cache

import (
	"context"
	"time"
)

// Store is a TTL key/value store. A ttl <= 0 never expires.
type Store interface {
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// Take returns the value and removes it in one step, so a value can be consumed once.
	Take(ctx context.Context, key string) (value []byte, found bool, err error)
}
