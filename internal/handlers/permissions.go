package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/quantleap/tradecrm/internal/middleware"
	"github.com/quantleap/tradecrm/internal/services"
	"github.com/quantleap/tradecrm/pkg/response"
)

// PermissionHandler exposes the catalog and per-user grant endpoints.
type PermissionHandler struct {
	permissions *services.PermissionService
}

func NewPermissionHandler(permissions *services.PermissionService) *PermissionHandler {
	return &PermissionHandler{permissions: permissions}
}

type grantRequest struct {
	PermissionID string     `json:"permission_id" validate:"required"`
	ExpiresAt    *time.Time `json:"expires_at"`
}

// GET /api/permissions/catalog
func (h *PermissionHandler) Catalog(c *gin.Context) {
	catalog, err := h.permissions.ListCatalog(requestContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, catalog)
}

// GET /api/users/:id/permissions
func (h *PermissionHandler) UserGrants(c *gin.Context) {
	grants, err := h.permissions.ListUserGrants(requestContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, grants)
}

// GET /api/users/:id/permissions/effective
func (h *PermissionHandler) Effective(c *gin.Context) {
	perms, binary, err := h.permissions.EffectivePermissions(requestContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{
		"permissions": perms,
		"binary":      binary,
	})
}

// POST /api/users/:id/permissions
func (h *PermissionHandler) Grant(c *gin.Context) {
	var req grantRequest
	if !bindAndValidate(c, &req) {
		return
	}

	grant, err := h.permissions.Grant(requestContext(c), services.GrantInput{
		UserID:       c.Param("id"),
		PermissionID: req.PermissionID,
		GrantedBy:    c.GetString(middleware.CtxUserIDKey),
		ExpiresAt:    req.ExpiresAt,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, grant)
}

// DELETE /api/users/:id/permissions/:permissionID
func (h *PermissionHandler) Revoke(c *gin.Context) {
	err := h.permissions.Revoke(
		requestContext(c),
		c.Param("id"),
		c.Param("permissionID"),
		c.GetString(middleware.CtxUserIDKey),
	)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"revoked": true})
}
