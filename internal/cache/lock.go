package cache

import (
	"context"
	"errors"
	"strings"
	"time"
)

const lockKeyPrefix = "lock:"

// DistributedLock provides named, time-boxed mutual exclusion across
// instances. Locks carry an owner token so a crashed holder cannot be
// released by another worker, and auto-expire via the store TTL so a crash
// never deadlocks the pipeline.
type DistributedLock struct {
	store Store
}

// NewDistributedLock builds a lock provider on top of the shared cache store.
func NewDistributedLock(store Store) (*DistributedLock, error) {
	if store == nil {
		return nil, errors.New("lock: store is required")
	}
	return &DistributedLock{store: store}, nil
}

// TryAcquire attempts to take the named lock for the supplied owner token.
// It returns false without error when another owner holds the lock.
func (l *DistributedLock) TryAcquire(ctx context.Context, name, ownerToken string, ttl time.Duration) (bool, error) {
	name = strings.TrimSpace(name)
	ownerToken = strings.TrimSpace(ownerToken)
	if name == "" || ownerToken == "" {
		return false, errors.New("lock: name and owner token are required")
	}
	if ttl <= 0 {
		return false, errors.New("lock: ttl must be positive")
	}

	return l.store.SetIfAbsent(ctx, lockKeyPrefix+name, []byte(ownerToken), ttl)
}

// Release frees the named lock when the owner token matches the holder.
// Releasing a lock held by someone else (or nobody) is a no-op: the previous
// holder's TTL may simply have lapsed. The compare and the delete are a single
// atomic store operation, so a stale owner whose TTL lapsed mid-release can
// never free a lock that was reacquired in the meantime.
func (l *DistributedLock) Release(ctx context.Context, name, ownerToken string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("lock: name is required")
	}

	_, err := l.store.CompareAndDelete(ctx, lockKeyPrefix+name, []byte(ownerToken))
	return err
}
