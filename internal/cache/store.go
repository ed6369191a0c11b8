package cache

import (
	"context"
	"time"
)

// Store represents a shared cache interface used across the application.
type Store interface {
	IncrementWithTTL(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// SetIfAbsent stores the value only when the key does not already hold a
	// live entry, returning whether the write happened. This is the primitive
	// the distributed lock is built on.
	SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	// CompareAndDelete removes the key only while it still holds the given
	// value, atomically, returning whether a deletion happened. The lock
	// release path depends on this to avoid freeing another owner's lock.
	CompareAndDelete(ctx context.Context, key string, value []byte) (bool, error)
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, keys ...string) error
}
