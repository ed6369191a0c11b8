package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	iauth "github.com/quantleap/tradecrm/internal/auth"
	testutil "github.com/quantleap/tradecrm/internal/database/testutil"
	"github.com/quantleap/tradecrm/internal/models"
	"github.com/quantleap/tradecrm/internal/permissions"
)

func TestRequirePermissionWithoutAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)

	resolver, _ := setupGateResolver(t)

	r := gin.New()
	r.GET("/secure", RequirePermission(resolver, "Clients", "View", "V"), func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/secure", nil)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequirePermissionBinaryFastPath(t *testing.T) {
	gin.SetMode(gin.TestMode)

	resolver, _ := setupGateResolver(t)

	// Bit 0 is Clients:View:V; every other bit stays unset.
	binary := "1" + strings.Repeat("0", 20)

	require.Equal(t, http.StatusOK, gateRequest(t, resolver, binary, "Clients", "View", "V"))
	require.Equal(t, http.StatusForbidden, gateRequest(t, resolver, binary, "Clients", "Create", "C"))
}

func TestRequirePermissionBinaryMalformedDenies(t *testing.T) {
	gin.SetMode(gin.TestMode)

	resolver, _ := setupGateResolver(t)

	code := gateRequest(t, resolver, "not-a-bitstring!!", "Clients", "View", "V")
	require.Equal(t, http.StatusForbidden, code)
}

func TestRequirePermissionResolverFallback(t *testing.T) {
	gin.SetMode(gin.TestMode)

	resolver, db := setupGateResolver(t)

	manager := models.User{
		Username: "gate-manager",
		Email:    "gate-manager@example.com",
		Password: "x",
		Role:     models.RoleManager,
		IsActive: true,
	}
	require.NoError(t, db.Create(&manager).Error)

	// No Permission claim: the gate must fall back to database resolution.
	claims := &iauth.Claims{UserID: manager.ID, Role: models.RoleManager}

	require.Equal(t, http.StatusOK, gateRequestWithClaims(t, resolver, claims, "Clients", "View", "V"))
	require.Equal(t, http.StatusForbidden, gateRequestWithClaims(t, resolver, claims, "Clients", "Delete", "D"))
}

func gateRequest(t *testing.T, resolver *permissions.Resolver, binary, section, title, actionType string) int {
	t.Helper()
	claims := &iauth.Claims{UserID: "user-1", Permission: binary}
	return gateRequestWithClaims(t, resolver, claims, section, title, actionType)
}

func gateRequestWithClaims(t *testing.T, resolver *permissions.Resolver, claims *iauth.Claims, section, title, actionType string) int {
	t.Helper()

	r := gin.New()
	r.GET("/secure",
		func(c *gin.Context) {
			c.Set(CtxClaimsKey, claims)
			c.Set(CtxUserIDKey, claims.UserID)
		},
		RequirePermission(resolver, section, title, actionType),
		func(c *gin.Context) { c.Status(http.StatusOK) },
	)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/secure", nil)
	r.ServeHTTP(w, req)
	return w.Code
}

func setupGateResolver(t *testing.T) (*permissions.Resolver, *gorm.DB) {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	catalog, err := permissions.NewCatalog(db)
	require.NoError(t, err)
	require.NoError(t, permissions.Sync(context.Background(), db, catalog))

	resolver, err := permissions.NewResolver(db, catalog)
	require.NoError(t, err)
	return resolver, db
}
