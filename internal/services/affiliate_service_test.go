package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	testutil "github.com/quantleap/tradecrm/internal/database/testutil"
	"github.com/quantleap/tradecrm/internal/models"
)

func newAffiliateService(t *testing.T) (*gorm.DB, *AffiliateService) {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	svc, err := NewAffiliateService(db)
	require.NoError(t, err)
	return db, svc
}

func TestAffiliateServiceCreateAndGet(t *testing.T) {
	_, svc := newAffiliateService(t)

	affiliate, err := svc.Create(context.Background(), CreateAffiliateInput{
		Name:        "Acme Partners",
		CompanyName: "Acme Ltd",
	})
	require.NoError(t, err)
	require.True(t, affiliate.IsActive)
	require.Equal(t, "Acme Partners (Acme Ltd)", affiliate.DisplayName())

	loaded, err := svc.GetByID(context.Background(), affiliate.ID)
	require.NoError(t, err)
	require.Equal(t, affiliate.Name, loaded.Name)

	_, err = svc.GetByID(context.Background(), "missing")
	require.ErrorIs(t, err, ErrAffiliateNotFound)
}

func TestAffiliateServiceOwnerIsOptional(t *testing.T) {
	db, svc := newAffiliateService(t)

	// No owner: the reference column stays NULL so the foreign key to users
	// holds even with enforcement switched on.
	ownerless, err := svc.Create(context.Background(), CreateAffiliateInput{Name: "Independent"})
	require.NoError(t, err)
	require.Nil(t, ownerless.OwnerUserID)

	var reloaded models.Affiliate
	require.NoError(t, db.Take(&reloaded, "id = ?", ownerless.ID).Error)
	require.Nil(t, reloaded.OwnerUserID)

	owner := models.User{Username: "owner", Email: "owner@example.com", Password: "x", Role: models.RoleManager, IsActive: true}
	require.NoError(t, db.Create(&owner).Error)

	owned, err := svc.Create(context.Background(), CreateAffiliateInput{
		Name:        "Owned",
		OwnerUserID: owner.ID,
	})
	require.NoError(t, err)
	require.NotNil(t, owned.OwnerUserID)
	require.Equal(t, owner.ID, *owned.OwnerUserID)
}

func TestAffiliateServiceCreateValidatesOwner(t *testing.T) {
	_, svc := newAffiliateService(t)

	_, err := svc.Create(context.Background(), CreateAffiliateInput{
		Name:        "Orphan",
		OwnerUserID: "missing-user",
	})
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestAffiliateServiceListActiveOnly(t *testing.T) {
	_, svc := newAffiliateService(t)

	active, err := svc.Create(context.Background(), CreateAffiliateInput{Name: "Active Partner"})
	require.NoError(t, err)

	dormant, err := svc.Create(context.Background(), CreateAffiliateInput{Name: "Dormant Partner"})
	require.NoError(t, err)

	inactive := false
	_, err = svc.Update(context.Background(), dormant.ID, UpdateAffiliateInput{IsActive: &inactive})
	require.NoError(t, err)

	all, err := svc.List(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, all, 2)

	activeOnly, err := svc.List(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, activeOnly, 1)
	require.Equal(t, active.ID, activeOnly[0].ID)
}
