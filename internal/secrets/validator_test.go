package secrets

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/quantleap/tradecrm/internal/cache"
	testutil "github.com/quantleap/tradecrm/internal/database/testutil"
	"github.com/quantleap/tradecrm/internal/models"
	apperrors "github.com/quantleap/tradecrm/pkg/errors"
)

func setupValidator(t *testing.T, opts ...ValidatorOption) (*Validator, *gorm.DB, cache.Store) {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	store := cache.NewDatabaseStore(db)

	validator, err := NewValidator(db, store, nil, opts...)
	require.NoError(t, err)
	return validator, db, store
}

func seedSecret(t *testing.T, db *gorm.DB, mutate func(*models.AffiliateSecret)) *models.AffiliateSecret {
	t.Helper()

	affiliate := models.Affiliate{Name: "Acme", CompanyName: "Acme Ltd", IsActive: true}
	require.NoError(t, db.Create(&affiliate).Error)

	secret := models.AffiliateSecret{
		AffiliateID:    affiliate.ID,
		SecretKey:      "k-" + affiliate.ID,
		ExpirationDate: time.Now().Add(24 * time.Hour),
		IsActive:       true,
	}
	if mutate != nil {
		mutate(&secret)
	}
	require.NoError(t, db.Create(&secret).Error)
	return &secret
}

func TestValidateEmptyKey(t *testing.T) {
	validator, _, _ := setupValidator(t)

	_, err := validator.Validate(context.Background(), "   ", "1.2.3.4")
	require.ErrorIs(t, err, apperrors.ErrUnauthorized)
}

// countSecretLookups counts SELECTs against affiliate_secrets so tests can
// assert how often validation actually reaches the table.
func countSecretLookups(t *testing.T, db *gorm.DB) *atomic.Int32 {
	t.Helper()

	var lookups atomic.Int32
	require.NoError(t, db.Callback().Query().After("gorm:query").
		Register("tradecrm:count_secret_lookups", func(tx *gorm.DB) {
			if tx.Statement.Table == "affiliate_secrets" {
				lookups.Add(1)
			}
		}))
	return &lookups
}

func TestValidateSuccess(t *testing.T) {
	validator, db, store := setupValidator(t)
	secret := seedSecret(t, db, nil)
	lookups := countSecretLookups(t, db)
	ctx := context.Background()

	identity, err := validator.Validate(ctx, secret.SecretKey, "1.2.3.4")
	require.NoError(t, err)
	require.Equal(t, secret.ID, identity.SecretID)
	require.Equal(t, secret.AffiliateID, identity.AffiliateID)
	require.Equal(t, "Acme (Acme Ltd)", identity.AffiliateName)

	// The verdict is now cached.
	data, found, err := store.Get(ctx, secretCacheKeyPrefix+secret.SecretKey)
	require.NoError(t, err)
	require.True(t, found)

	var entry cacheEntry
	require.NoError(t, json.Unmarshal(data, &entry))
	require.True(t, entry.Valid)
	require.Equal(t, secret.ID, entry.Identity.SecretID)

	// A second call inside the positive TTL is served from cache: the answer
	// stays identical and the secrets table is not queried again.
	again, err := validator.Validate(ctx, secret.SecretKey, "1.2.3.4")
	require.NoError(t, err)
	require.Equal(t, identity, again)
	require.EqualValues(t, 1, lookups.Load())
}

func TestValidateUnknownKeyIsNegativeCached(t *testing.T) {
	validator, _, store := setupValidator(t)
	ctx := context.Background()

	_, err := validator.Validate(ctx, "missing-key", "1.2.3.4")
	require.ErrorIs(t, err, apperrors.ErrUnauthorized)

	data, found, err := store.Get(ctx, secretCacheKeyPrefix+"missing-key")
	require.NoError(t, err)
	require.True(t, found)

	var entry cacheEntry
	require.NoError(t, json.Unmarshal(data, &entry))
	require.False(t, entry.Valid)

	_, err = validator.Validate(ctx, "missing-key", "1.2.3.4")
	require.ErrorIs(t, err, apperrors.ErrUnauthorized)
}

func TestValidateInactiveSecret(t *testing.T) {
	validator, db, _ := setupValidator(t)
	secret := seedSecret(t, db, func(s *models.AffiliateSecret) { s.IsActive = false })

	_, err := validator.Validate(context.Background(), secret.SecretKey, "1.2.3.4")
	require.ErrorIs(t, err, apperrors.ErrUnauthorized)
}

func TestValidateExpiredSecret(t *testing.T) {
	frozen := time.Now()
	validator, db, _ := setupValidator(t, WithValidatorClock(func() time.Time { return frozen }))
	secret := seedSecret(t, db, func(s *models.AffiliateSecret) {
		s.ExpirationDate = frozen.Add(-time.Minute)
	})

	_, err := validator.Validate(context.Background(), secret.SecretKey, "1.2.3.4")
	require.ErrorIs(t, err, apperrors.ErrUnauthorized)
}

func TestValidateIPRestriction(t *testing.T) {
	validator, db, _ := setupValidator(t)
	secret := seedSecret(t, db, func(s *models.AffiliateSecret) {
		s.IPRestriction = "10.0.0.1, 10.0.0.2"
	})
	ctx := context.Background()

	_, err := validator.Validate(ctx, secret.SecretKey, "192.168.0.9")
	require.ErrorIs(t, err, apperrors.ErrForbidden)

	identity, err := validator.Validate(ctx, secret.SecretKey, "10.0.0.2")
	require.NoError(t, err)
	require.Equal(t, secret.ID, identity.SecretID)

	// The cached entry re-evaluates the restriction per request.
	_, err = validator.Validate(ctx, secret.SecretKey, "192.168.0.9")
	require.ErrorIs(t, err, apperrors.ErrForbidden)
}

func TestValidateWildcardRestriction(t *testing.T) {
	validator, db, _ := setupValidator(t)
	secret := seedSecret(t, db, func(s *models.AffiliateSecret) { s.IPRestriction = "*" })

	_, err := validator.Validate(context.Background(), secret.SecretKey, "203.0.113.7")
	require.NoError(t, err)
}

func TestInvalidateCacheDropsEntry(t *testing.T) {
	validator, db, store := setupValidator(t)
	secret := seedSecret(t, db, nil)
	ctx := context.Background()

	_, err := validator.Validate(ctx, secret.SecretKey, "1.2.3.4")
	require.NoError(t, err)

	require.NoError(t, validator.InvalidateCache(ctx, secret.SecretKey))

	_, found, err := store.Get(ctx, secretCacheKeyPrefix+secret.SecretKey)
	require.NoError(t, err)
	require.False(t, found)
}

func TestValidateRecordsUsage(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	store := cache.NewDatabaseStore(db)

	tracker, err := NewUsageTracker(db, WithFlushSize(100))
	require.NoError(t, err)

	validator, err := NewValidator(db, store, tracker)
	require.NoError(t, err)

	secret := seedSecret(t, db, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := validator.Validate(ctx, secret.SecretKey, "1.2.3.4")
		require.NoError(t, err)
	}

	tracker.Close()

	var reloaded models.AffiliateSecret
	require.NoError(t, db.Take(&reloaded, "id = ?", secret.ID).Error)
	require.EqualValues(t, 3, reloaded.UsedCount)
}
