package maintenance

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	testutil "github.com/quantleap/tradecrm/internal/database/testutil"
	"github.com/quantleap/tradecrm/internal/models"
	"github.com/quantleap/tradecrm/internal/permissions"
)

func seedUserAndPermission(t *testing.T, db *gorm.DB) (string, string) {
	t.Helper()

	user := models.User{Username: "maint", Email: "maint@example.com", Password: "x"}
	require.NoError(t, db.Create(&user).Error)

	var perm models.Permission
	require.NoError(t, db.Order("bit_order ASC").First(&perm).Error)
	return user.ID, perm.ID
}

func TestCleanupGrantsRemovesOnlyExpired(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithSeedData())
	require.NoError(t, permissions.Sync(context.Background(), db, nil))
	userID, permID := seedUserAndPermission(t, db)

	now := time.Now().UTC()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	var perms []models.Permission
	require.NoError(t, db.Order("bit_order ASC").Limit(3).Find(&perms).Error)
	require.GreaterOrEqual(t, len(perms), 3)

	expired := models.UserPermission{UserID: userID, PermissionID: permID, IsGranted: true, GrantedAt: past, ExpiresAt: &past}
	active := models.UserPermission{UserID: userID, PermissionID: perms[1].ID, IsGranted: true, GrantedAt: past, ExpiresAt: &future}
	open := models.UserPermission{UserID: userID, PermissionID: perms[2].ID, IsGranted: true, GrantedAt: past}
	require.NoError(t, db.Create(&expired).Error)
	require.NoError(t, db.Create(&active).Error)
	require.NoError(t, db.Create(&open).Error)

	removed, err := CleanupGrants(context.Background(), db, now)
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)

	var count int64
	require.NoError(t, db.Model(&models.UserPermission{}).Count(&count).Error)
	require.EqualValues(t, 2, count)
}

func TestCleanupOutboxKeepsUnprocessed(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	now := time.Now().UTC()
	old := now.AddDate(0, 0, -30)
	cutoff := now.AddDate(0, 0, -14)

	processedOld := models.OutboxMessage{
		ID: uuid.NewString(), Type: "permission.granted", AggregateID: "u1", AggregateType: "user",
		Content: datatypes.JSON([]byte(`{}`)), CreatedAt: old, ProcessedAt: &old,
	}
	pendingOld := models.OutboxMessage{
		ID: uuid.NewString(), Type: "permission.granted", AggregateID: "u2", AggregateType: "user",
		Content: datatypes.JSON([]byte(`{}`)), CreatedAt: old,
	}
	processedRecent := models.OutboxMessage{
		ID: uuid.NewString(), Type: "permission.revoked", AggregateID: "u3", AggregateType: "user",
		Content: datatypes.JSON([]byte(`{}`)), CreatedAt: now, ProcessedAt: &now,
	}
	require.NoError(t, db.Create(&processedOld).Error)
	require.NoError(t, db.Create(&pendingOld).Error)
	require.NoError(t, db.Create(&processedRecent).Error)

	removed, err := CleanupOutbox(context.Background(), db, cutoff)
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)

	var remaining []models.OutboxMessage
	require.NoError(t, db.Find(&remaining).Error)
	require.Len(t, remaining, 2)
	for _, msg := range remaining {
		require.NotEqual(t, processedOld.ID, msg.ID)
	}
}

func TestRunOncePrunesCacheEntries(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	now := time.Now().UTC()
	require.NoError(t, db.Create(&models.CacheEntry{Key: "stale", Value: []byte("v"), ExpiresAt: now.Add(-time.Minute)}).Error)
	require.NoError(t, db.Create(&models.CacheEntry{Key: "fresh", Value: []byte("v"), ExpiresAt: now.Add(time.Hour)}).Error)

	cleaner := NewCleaner(db, nil, WithNow(func() time.Time { return now }))
	require.NoError(t, cleaner.RunOnce(context.Background()))

	var keys []string
	require.NoError(t, db.Model(&models.CacheEntry{}).Pluck("key", &keys).Error)
	require.Equal(t, []string{"fresh"}, keys)
}
