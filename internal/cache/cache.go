package cache

import (
	"context"
	"time"
)

// BytesCache is the best-effort cache in front of the guía store. Callers
// must tolerate a nil or failing cache.
type BytesCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}
