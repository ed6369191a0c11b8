package permissions

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"gorm.io/gorm"

	"github.com/quantleap/tradecrm/internal/models"
)

// Catalog is a versioned, read-through snapshot of the persisted permission
// table ordered by bit position. Binary encode/decode operations hit the
// in-memory snapshot; the snapshot is rebuilt only when Invalidate has bumped
// the version, so steady-state lookups never touch the database.
//
// The version counter is per-process. Another instance syncing the catalog is
// not observed until this instance's own sync or restart. That staleness
// window is accepted, since catalog changes are rare, deploy-time events.
type Catalog struct {
	db      *gorm.DB
	version atomic.Int64

	mu       sync.RWMutex
	snapshot *catalogSnapshot
}

type catalogSnapshot struct {
	version     int64
	permissions []models.Permission
	index       map[string]int
}

// NewCatalog constructs a catalog backed by the provided database.
func NewCatalog(db *gorm.DB) (*Catalog, error) {
	if db == nil {
		return nil, errors.New("permission catalog: db is required")
	}

	c := &Catalog{db: db}
	c.version.Store(1)
	return c, nil
}

// Invalidate marks the current snapshot stale. The next read rebuilds it.
func (c *Catalog) Invalidate() {
	c.version.Add(1)
}

// Version exposes the current catalog version, primarily for diagnostics.
func (c *Catalog) Version() int64 {
	return c.version.Load()
}

// All returns the catalog sorted ascending by bit order.
func (c *Catalog) All(ctx context.Context) ([]models.Permission, error) {
	snap, err := c.current(ctx)
	if err != nil {
		return nil, err
	}
	return snap.permissions, nil
}

// IndexOf resolves the bit position of the identity triple. The boolean is
// false when the permission is not part of the catalog.
func (c *Catalog) IndexOf(ctx context.Context, section, title, actionType string) (int, bool, error) {
	snap, err := c.current(ctx)
	if err != nil {
		return 0, false, err
	}

	idx, ok := snap.index[models.PermissionKey(section, title, actionType)]
	return idx, ok, nil
}

// Size reports the number of catalog entries, which is also the length of
// every encoded permission string.
func (c *Catalog) Size(ctx context.Context) (int, error) {
	snap, err := c.current(ctx)
	if err != nil {
		return 0, err
	}
	return len(snap.permissions), nil
}

func (c *Catalog) current(ctx context.Context) (*catalogSnapshot, error) {
	version := c.version.Load()

	c.mu.RLock()
	snap := c.snapshot
	c.mu.RUnlock()

	if snap != nil && snap.version == version {
		return snap, nil
	}

	return c.rebuild(ctx, version)
}

func (c *Catalog) rebuild(ctx context.Context, version int64) (*catalogSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Another goroutine may have rebuilt while we waited for the lock.
	if c.snapshot != nil && c.snapshot.version == version {
		return c.snapshot, nil
	}

	var perms []models.Permission
	if err := c.db.WithContext(ctx).Order("bit_order ASC").Find(&perms).Error; err != nil {
		return nil, fmt.Errorf("permission catalog: load: %w", err)
	}

	index := make(map[string]int, len(perms))
	for i := range perms {
		index[perms[i].Key()] = i
	}

	c.snapshot = &catalogSnapshot{
		version:     version,
		permissions: perms,
		index:       index,
	}
	return c.snapshot, nil
}
