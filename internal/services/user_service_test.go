package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	testutil "github.com/quantleap/tradecrm/internal/database/testutil"
	"github.com/quantleap/tradecrm/internal/models"
	"github.com/quantleap/tradecrm/pkg/crypto"
)

func newUserService(t *testing.T) *UserService {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	svc, err := NewUserService(db)
	require.NoError(t, err)
	return svc
}

func TestUserServiceCreateDefaultsRole(t *testing.T) {
	svc := newUserService(t)

	user, err := svc.Create(context.Background(), CreateUserInput{
		Username: "walter",
		Email:    "Walter@Example.com",
		Password: "secret",
	})
	require.NoError(t, err)

	require.Equal(t, models.RoleUser, user.Role)
	require.Equal(t, "walter@example.com", user.Email)
	require.True(t, user.IsActive)
	require.True(t, crypto.VerifyPassword(user.Password, "secret"))
}

func TestUserServiceCreateRejectsDuplicates(t *testing.T) {
	svc := newUserService(t)

	_, err := svc.Create(context.Background(), CreateUserInput{
		Username: "dup", Email: "dup@example.com", Password: "secret",
	})
	require.NoError(t, err)

	_, err = svc.Create(context.Background(), CreateUserInput{
		Username: "dup", Email: "other@example.com", Password: "secret",
	})
	require.Error(t, err)
}

func TestUserServiceCreateRejectsUnknownRole(t *testing.T) {
	svc := newUserService(t)

	_, err := svc.Create(context.Background(), CreateUserInput{
		Username: "rolecheck", Email: "rolecheck@example.com", Password: "secret", Role: "Wizard",
	})
	require.ErrorIs(t, err, ErrUnknownRole)
}

func TestUserServiceListFilters(t *testing.T) {
	svc := newUserService(t)

	for _, spec := range []struct {
		username string
		role     string
		active   bool
	}{
		{"mgr-one", models.RoleManager, true},
		{"mgr-two", models.RoleManager, false},
		{"plain-user", models.RoleUser, true},
	} {
		active := spec.active
		_, err := svc.Create(context.Background(), CreateUserInput{
			Username: spec.username,
			Email:    spec.username + "@example.com",
			Password: "secret",
			Role:     spec.role,
			IsActive: &active,
		})
		require.NoError(t, err)
	}

	users, total, err := svc.List(context.Background(), ListUsersOptions{
		Filters: UserFilters{Role: "manager"},
	})
	require.NoError(t, err)
	require.EqualValues(t, 2, total)
	require.Len(t, users, 2)

	isActive := true
	users, total, err = svc.List(context.Background(), ListUsersOptions{
		Filters: UserFilters{Role: "manager", IsActive: &isActive},
	})
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
	require.Equal(t, "mgr-one", users[0].Username)

	_, total, err = svc.List(context.Background(), ListUsersOptions{
		Filters: UserFilters{Query: "plain"},
	})
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
}

func TestUserServiceSetRole(t *testing.T) {
	svc := newUserService(t)

	user, err := svc.Create(context.Background(), CreateUserInput{
		Username: "promote", Email: "promote@example.com", Password: "secret",
	})
	require.NoError(t, err)

	updated, err := svc.SetRole(context.Background(), user.ID, models.RoleManager)
	require.NoError(t, err)
	require.Equal(t, models.RoleManager, updated.Role)

	_, err = svc.SetRole(context.Background(), user.ID, "Wizard")
	require.ErrorIs(t, err, ErrUnknownRole)

	_, err = svc.SetRole(context.Background(), "missing", models.RoleManager)
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestUserServiceSetActiveAndDelete(t *testing.T) {
	svc := newUserService(t)

	user, err := svc.Create(context.Background(), CreateUserInput{
		Username: "lifecycle", Email: "lifecycle@example.com", Password: "secret",
	})
	require.NoError(t, err)

	require.NoError(t, svc.SetActive(context.Background(), user.ID, false))

	reloaded, err := svc.GetByID(context.Background(), user.ID)
	require.NoError(t, err)
	require.False(t, reloaded.IsActive)

	require.NoError(t, svc.Delete(context.Background(), user.ID))

	_, err = svc.GetByID(context.Background(), user.ID)
	require.ErrorIs(t, err, ErrUserNotFound)

	require.ErrorIs(t, svc.Delete(context.Background(), user.ID), ErrUserNotFound)
}
