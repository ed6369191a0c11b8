package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/quantleap/tradecrm/internal/models"
	testutil "github.com/quantleap/tradecrm/internal/database/testutil"
	"github.com/quantleap/tradecrm/pkg/crypto"
)

func TestCreateSessionGeneratesTokens(t *testing.T) {
	db, svc, clock := setupSessionService(t, nil)

	user := createTestUser(t, db, "user-create")

	tokens, session, err := svc.CreateSession(context.Background(), user.ID, SessionMetadata{
		IPAddress: "10.0.0.1 ",
		UserAgent: "unit-test",
		Device:    "laptop",
	})
	require.NoError(t, err)

	require.NotEmpty(t, tokens.AccessToken)
	require.NotEmpty(t, tokens.RefreshToken)
	require.NotNil(t, session)
	require.Equal(t, user.ID, session.UserID)
	require.Equal(t, "10.0.0.1", session.IPAddress)
	require.Equal(t, "unit-test", session.UserAgent)
	require.Equal(t, "laptop", session.DeviceName)

	var reloaded models.Session
	require.NoError(t, db.Take(&reloaded, "id = ?", session.ID).Error)
	require.Equal(t, tokens.RefreshToken, reloaded.RefreshToken)
	require.True(t, reloaded.ExpiresAt.After(clock.Now()))
	require.True(t, reloaded.LastUsedAt.Equal(clock.Now()))
}

func TestRefreshSessionRotatesToken(t *testing.T) {
	db, svc, clock := setupSessionService(t, nil)
	user := createTestUser(t, db, "user-refresh")

	tokens, session, err := svc.CreateSession(context.Background(), user.ID, SessionMetadata{})
	require.NoError(t, err)

	clock.Advance(5 * time.Minute)

	newTokens, updatedSession, err := svc.RefreshSession(context.Background(), tokens.RefreshToken)
	require.NoError(t, err)
	require.NotEqual(t, tokens.RefreshToken, newTokens.RefreshToken)
	require.NotEqual(t, tokens.AccessToken, newTokens.AccessToken)

	require.Equal(t, session.ID, updatedSession.ID)
	require.Equal(t, newTokens.RefreshToken, updatedSession.RefreshToken)
	require.True(t, updatedSession.LastUsedAt.Equal(clock.Now()))

	_, _, err = svc.RefreshSession(context.Background(), tokens.RefreshToken)
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRefreshSessionEmbedsCurrentClaims(t *testing.T) {
	permission := "1010"
	claims := func(ctx context.Context, userID string) (string, string, error) {
		return models.RoleManager, permission, nil
	}

	db, svc, clock := setupSessionService(t, claims)
	user := createTestUser(t, db, "user-claims")

	tokens, _, err := svc.CreateSession(context.Background(), user.ID, SessionMetadata{})
	require.NoError(t, err)

	jwtService, err := NewJWTService(JWTConfig{
		Secret:         "session-secret",
		AccessTokenTTL: time.Hour,
		Clock:          clock.Now,
	})
	require.NoError(t, err)

	parsed, err := jwtService.ValidateAccessToken(tokens.AccessToken)
	require.NoError(t, err)
	require.Equal(t, models.RoleManager, parsed.Role)
	require.Equal(t, "1010", parsed.Permission)

	// A grant changes the bitstring; the rotated token must pick it up.
	permission = "1110"
	clock.Advance(time.Minute)

	newTokens, _, err := svc.RefreshSession(context.Background(), tokens.RefreshToken)
	require.NoError(t, err)

	parsed, err = jwtService.ValidateAccessToken(newTokens.AccessToken)
	require.NoError(t, err)
	require.Equal(t, "1110", parsed.Permission)
}

func TestRefreshSessionExpired(t *testing.T) {
	db, svc, clock := setupSessionService(t, nil)
	user := createTestUser(t, db, "user-expired")

	tokens, session, err := svc.CreateSession(context.Background(), user.ID, SessionMetadata{})
	require.NoError(t, err)

	require.NoError(t, db.Model(&models.Session{}).
		Where("id = ?", session.ID).
		Update("expires_at", clock.Now().Add(-time.Minute)).Error)

	_, _, err = svc.RefreshSession(context.Background(), tokens.RefreshToken)
	require.ErrorIs(t, err, ErrSessionExpired)
}

func TestRevokeSessionPreventsRefresh(t *testing.T) {
	db, svc, clock := setupSessionService(t, nil)

	user := createTestUser(t, db, "user-revoke")

	tokens, session, err := svc.CreateSession(context.Background(), user.ID, SessionMetadata{})
	require.NoError(t, err)

	require.NoError(t, svc.RevokeSession(context.Background(), session.ID))

	err = svc.RevokeSession(context.Background(), "non-existent")
	require.ErrorIs(t, err, ErrSessionNotFound)

	_, _, err = svc.RefreshSession(context.Background(), tokens.RefreshToken)
	require.ErrorIs(t, err, ErrSessionRevoked)

	var stored models.Session
	require.NoError(t, db.Take(&stored, "id = ?", session.ID).Error)
	require.NotNil(t, stored.RevokedAt)
	require.True(t, stored.RevokedAt.After(clock.Now().Add(-time.Nanosecond)))
}

func setupSessionService(t *testing.T, claims ClaimsSource) (*gorm.DB, *SessionService, *testClock) {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	clock := &testClock{current: time.Date(2024, 1, 3, 9, 0, 0, 0, time.UTC)}

	jwtService, err := NewJWTService(JWTConfig{
		Secret:         "session-secret",
		AccessTokenTTL: time.Hour,
		Clock:          clock.Now,
	})
	require.NoError(t, err)

	sessionService, err := NewSessionService(db, jwtService, claims, SessionConfig{
		RefreshTokenTTL: 2 * time.Hour,
		RefreshLength:   24,
		Clock:           clock.Now,
	})
	require.NoError(t, err)

	return db, sessionService, clock
}

func createTestUser(t *testing.T, db *gorm.DB, username string) *models.User {
	t.Helper()

	hashed, err := crypto.HashPassword("password")
	require.NoError(t, err)

	user := &models.User{
		Username: username,
		Email:    username + "@example.com",
		Password: hashed,
		IsActive: true,
	}
	require.NoError(t, db.Create(user).Error)
	require.NoError(t, db.Model(user).Update("is_active", true).Error)
	return user
}

type testClock struct {
	current time.Time
}

func (c *testClock) Now() time.Time {
	return c.current
}

func (c *testClock) Advance(d time.Duration) {
	c.current = c.current.Add(d)
}
