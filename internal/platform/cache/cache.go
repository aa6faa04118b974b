package cache

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a key is absent or expired.
	ErrNotFound = errors.New("cache: key not found")

	// ErrInvalidValue is returned when a stored value cannot be decoded.
	ErrInvalidValue = errors.New("cache: invalid value")
)

// Cache is the shared key-value cache contract implemented by the memory,
// Redis and layered backends.
type Cache interface {
	// Get retrieves a value. A miss is ErrNotFound.
	Get(ctx context.Context, key string) (interface{}, error)

	// Set stores a value with a TTL.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// Delete removes a key.
	Delete(ctx context.Context, key string) error

	// Close releases backend resources.
	Close() error
}
