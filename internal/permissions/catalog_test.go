package permissions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	testutil "github.com/quantleap/tradecrm/internal/database/testutil"
	"github.com/quantleap/tradecrm/internal/models"
)

func TestCatalogSnapshotServesWithoutRebuild(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	ctx := context.Background()

	catalog, err := NewCatalog(db)
	require.NoError(t, err)
	require.NoError(t, Sync(ctx, db, catalog))

	size, err := catalog.Size(ctx)
	require.NoError(t, err)
	require.Equal(t, len(All()), size)

	// A row created behind the snapshot's back is invisible until invalidation.
	extra := models.Permission{Section: "CatalogTest", Title: "Hidden", ActionType: "V", Order: 950}
	require.NoError(t, db.Create(&extra).Error)

	stale, err := catalog.Size(ctx)
	require.NoError(t, err)
	require.Equal(t, size, stale)

	_, found, err := catalog.IndexOf(ctx, "CatalogTest", "Hidden", "V")
	require.NoError(t, err)
	require.False(t, found)
}

func TestCatalogInvalidateRebuilds(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	ctx := context.Background()

	catalog, err := NewCatalog(db)
	require.NoError(t, err)
	require.NoError(t, Sync(ctx, db, catalog))

	before := catalog.Version()
	size, err := catalog.Size(ctx)
	require.NoError(t, err)

	extra := models.Permission{Section: "CatalogTest", Title: "Visible", ActionType: "V", Order: 951}
	require.NoError(t, db.Create(&extra).Error)

	catalog.Invalidate()
	require.Greater(t, catalog.Version(), before)

	after, err := catalog.Size(ctx)
	require.NoError(t, err)
	require.Equal(t, size+1, after)

	idx, found, err := catalog.IndexOf(ctx, "catalogtest", "visible", "v")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, after-1, idx)
}

func TestCatalogIndexMatchesBitOrder(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	ctx := context.Background()

	catalog, err := NewCatalog(db)
	require.NoError(t, err)
	require.NoError(t, Sync(ctx, db, catalog))

	all, err := catalog.All(ctx)
	require.NoError(t, err)

	for i, perm := range all {
		idx, found, err := catalog.IndexOf(ctx, perm.Section, perm.Title, perm.ActionType)
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, i, idx)
		require.Equal(t, perm.Order, i)
	}
}
