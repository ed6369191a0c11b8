package secrets

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/quantleap/tradecrm/internal/cache"
	testutil "github.com/quantleap/tradecrm/internal/database/testutil"
	"github.com/quantleap/tradecrm/internal/events"
	"github.com/quantleap/tradecrm/internal/models"
	apperrors "github.com/quantleap/tradecrm/pkg/errors"
)

func setupService(t *testing.T) (*Service, *Validator, *gorm.DB) {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	store := cache.NewDatabaseStore(db)

	validator, err := NewValidator(db, store, nil)
	require.NoError(t, err)

	service, err := NewService(db, validator)
	require.NoError(t, err)
	return service, validator, db
}

func createAffiliate(t *testing.T, db *gorm.DB) *models.Affiliate {
	t.Helper()

	affiliate := models.Affiliate{Name: "Partner", IsActive: true}
	require.NoError(t, db.Create(&affiliate).Error)
	return &affiliate
}

func outboxMessages(t *testing.T, db *gorm.DB, eventType string) []models.OutboxMessage {
	t.Helper()

	var msgs []models.OutboxMessage
	require.NoError(t, db.Where("type = ?", eventType).Find(&msgs).Error)
	return msgs
}

func TestCreateIssuesSecret(t *testing.T) {
	service, _, db := setupService(t)
	affiliate := createAffiliate(t, db)
	ctx := context.Background()

	expires := time.Now().Add(48 * time.Hour).UTC()
	secret, err := service.Create(ctx, CreateInput{
		AffiliateID:    affiliate.ID,
		ExpirationDate: expires,
		IPRestriction:  " 10.0.0.1 ",
	})
	require.NoError(t, err)
	require.Len(t, secret.SecretKey, secretKeyLength)
	require.True(t, secret.IsActive)
	require.Equal(t, "10.0.0.1", secret.IPRestriction)

	msgs := outboxMessages(t, db, events.TypeSecretCreated)
	require.Len(t, msgs, 1)
	require.Equal(t, secret.ID, msgs[0].AggregateID)
	require.Nil(t, msgs[0].ProcessedAt)
}

func TestCreateValidation(t *testing.T) {
	service, _, db := setupService(t)
	affiliate := createAffiliate(t, db)
	ctx := context.Background()

	_, err := service.Create(ctx, CreateInput{AffiliateID: "", ExpirationDate: time.Now().Add(time.Hour)})
	require.Error(t, err)

	_, err = service.Create(ctx, CreateInput{AffiliateID: affiliate.ID})
	require.Error(t, err)

	_, err = service.Create(ctx, CreateInput{AffiliateID: "missing", ExpirationDate: time.Now().Add(time.Hour)})
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestDeactivateStopsValidation(t *testing.T) {
	service, validator, db := setupService(t)
	affiliate := createAffiliate(t, db)
	ctx := context.Background()

	secret, err := service.Create(ctx, CreateInput{
		AffiliateID:    affiliate.ID,
		ExpirationDate: time.Now().Add(time.Hour),
	})
	require.NoError(t, err)

	// Warm the validator cache with a positive verdict.
	_, err = validator.Validate(ctx, secret.SecretKey, "1.2.3.4")
	require.NoError(t, err)

	require.NoError(t, service.Deactivate(ctx, secret.ID))

	// The cache entry was dropped, so the stale positive verdict cannot serve.
	_, err = validator.Validate(ctx, secret.SecretKey, "1.2.3.4")
	require.ErrorIs(t, err, apperrors.ErrUnauthorized)

	require.Len(t, outboxMessages(t, db, events.TypeSecretDeactivated), 1)

	// Deactivating twice is a no-op and stages no second event.
	require.NoError(t, service.Deactivate(ctx, secret.ID))
	require.Len(t, outboxMessages(t, db, events.TypeSecretDeactivated), 1)
}

func TestReactivateRestoresValidation(t *testing.T) {
	service, validator, db := setupService(t)
	affiliate := createAffiliate(t, db)
	ctx := context.Background()

	secret, err := service.Create(ctx, CreateInput{
		AffiliateID:    affiliate.ID,
		ExpirationDate: time.Now().Add(time.Hour),
	})
	require.NoError(t, err)

	require.NoError(t, service.Deactivate(ctx, secret.ID))
	require.NoError(t, service.Reactivate(ctx, secret.ID))

	_, err = validator.Validate(ctx, secret.SecretKey, "1.2.3.4")
	require.NoError(t, err)
	require.Len(t, outboxMessages(t, db, events.TypeSecretReactivated), 1)
}

func TestReplaceExpiration(t *testing.T) {
	service, validator, db := setupService(t)
	affiliate := createAffiliate(t, db)
	ctx := context.Background()

	secret, err := service.Create(ctx, CreateInput{
		AffiliateID:    affiliate.ID,
		ExpirationDate: time.Now().Add(time.Hour),
	})
	require.NoError(t, err)

	// Expire it, confirm validation fails, then extend the expiry.
	require.NoError(t, service.ReplaceExpiration(ctx, secret.ID, time.Now().Add(-time.Minute)))
	_, err = validator.Validate(ctx, secret.SecretKey, "1.2.3.4")
	require.ErrorIs(t, err, apperrors.ErrUnauthorized)

	require.NoError(t, service.ReplaceExpiration(ctx, secret.ID, time.Now().Add(24*time.Hour)))
	_, err = validator.Validate(ctx, secret.SecretKey, "1.2.3.4")
	require.NoError(t, err)

	require.Len(t, outboxMessages(t, db, events.TypeSecretExpirationSet), 2)

	require.ErrorIs(t, service.ReplaceExpiration(ctx, "missing", time.Now().Add(time.Hour)), apperrors.ErrNotFound)
	require.Error(t, service.ReplaceExpiration(ctx, secret.ID, time.Time{}))
}

func TestListForAffiliateNewestFirst(t *testing.T) {
	service, _, db := setupService(t)
	affiliate := createAffiliate(t, db)
	other := createAffiliate(t, db)
	ctx := context.Background()

	first, err := service.Create(ctx, CreateInput{AffiliateID: affiliate.ID, ExpirationDate: time.Now().Add(time.Hour)})
	require.NoError(t, err)
	_, err = service.Create(ctx, CreateInput{AffiliateID: other.ID, ExpirationDate: time.Now().Add(time.Hour)})
	require.NoError(t, err)
	second, err := service.Create(ctx, CreateInput{AffiliateID: affiliate.ID, ExpirationDate: time.Now().Add(time.Hour)})
	require.NoError(t, err)

	list, err := service.ListForAffiliate(ctx, affiliate.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.ElementsMatch(t, []string{first.ID, second.ID}, []string{list[0].ID, list[1].ID})
}
