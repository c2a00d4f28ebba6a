// Package store provides the TTL-capable key-value storage used for tenants,
// authorization codes, refresh tokens and revoked token ids.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key is absent or has expired.
var ErrNotFound = errors.New("store: key not found")

// Store is a key-value store with per-entry expiry.
//
// A ttl of zero means the entry never expires. Implementations must make
// Delete and Take atomic so that exactly one concurrent caller observes the
// removal of a given key.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete removes key and reports whether this call removed it.
	Delete(ctx context.Context, key string) (bool, error)
	Exists(ctx context.Context, key string) (bool, error)
	// Take returns the value and removes the key in one step.
	Take(ctx context.Context, key string) ([]byte, error)
	Ping(ctx context.Context) error
	Close() error
}
