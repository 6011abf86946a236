// Package sharecache stores point-in-time story snapshots under share tokens with a
// per-key expiry.
package sharecache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss indicates the key is absent or has expired.
var ErrMiss = errors.New("sharecache: miss")

// Cache is a byte-oriented key-value store with per-key expiry.
type Cache interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Close() error
}
