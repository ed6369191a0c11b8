package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	iauth "github.com/quantleap/tradecrm/internal/auth"
	"github.com/quantleap/tradecrm/internal/auth/mfa"
	"github.com/quantleap/tradecrm/internal/auth/providers"
	"github.com/quantleap/tradecrm/internal/middleware"
	"github.com/quantleap/tradecrm/internal/models"
	"github.com/quantleap/tradecrm/internal/permissions"
	"github.com/quantleap/tradecrm/pkg/errors"
	"github.com/quantleap/tradecrm/pkg/metrics"
	"github.com/quantleap/tradecrm/pkg/response"
)

// AuthHandler manages authentication flows (login/refresh/logout/me).
type AuthHandler struct {
	db       *gorm.DB
	sessions *iauth.SessionService
	provider *providers.LocalProvider
	totp     *mfa.TOTPService
	resolver *permissions.Resolver
}

func NewAuthHandler(db *gorm.DB, sessions *iauth.SessionService, provider *providers.LocalProvider, totp *mfa.TOTPService, resolver *permissions.Resolver) *AuthHandler {
	return &AuthHandler{db: db, sessions: sessions, provider: provider, totp: totp, resolver: resolver}
}

type loginRequest struct {
	Identifier string `json:"identifier" validate:"required"`
	Password   string `json:"password" validate:"required"`
	MFACode    string `json:"mfa_code"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// POST /api/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if !bindAndValidate(c, &req) {
		return
	}

	user, err := h.provider.Authenticate(providers.AuthenticateInput{
		Identifier: strings.TrimSpace(req.Identifier),
		Password:   req.Password,
		IPAddress:  c.ClientIP(),
		UserAgent:  c.Request.UserAgent(),
	})
	if err != nil {
		// Normalise auth errors to 401
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	if user.MFAEnabled {
		if !h.verifyMFA(c, user, strings.TrimSpace(req.MFACode)) {
			return
		}
	}

	pair, _, err := h.sessions.CreateSession(requestContext(c), user.ID, iauth.SessionMetadata{
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		response.Error(c, errors.ErrInternalServer)
		return
	}

	metrics.AuthAttempts.WithLabelValues("success").Inc()

	response.Success(c, http.StatusOK, gin.H{
		"tokens": tokenResponse{AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken},
		"user":   userPayload(user),
	})
}

func (h *AuthHandler) verifyMFA(c *gin.Context, user *models.User, code string) bool {
	if h.totp == nil {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		response.Error(c, errors.ErrInternalServer)
		return false
	}
	if code == "" {
		response.Error(c, errors.ErrMFARequired)
		return false
	}

	valid, err := h.totp.VerifyCode(user.ID, code)
	if err == nil && !valid {
		valid, err = h.totp.UseBackupCode(user.ID, code)
	}
	if err != nil || !valid {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		response.Error(c, errors.ErrMFAInvalid)
		return false
	}
	return true
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// POST /api/auth/refresh
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req refreshRequest
	if !bindAndValidate(c, &req) {
		return
	}

	pair, _, err := h.sessions.RefreshSession(requestContext(c), strings.TrimSpace(req.RefreshToken))
	if err != nil {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	response.Success(c, http.StatusOK, tokenResponse{AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken})
}

// POST /api/auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	sid := c.GetString(middleware.CtxSessionIDKey)
	if sid == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	if err := h.sessions.RevokeSession(requestContext(c), sid); err != nil {
		response.Error(c, errors.ErrInternalServer)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"revoked": true})
}

// GET /api/auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	var user models.User
	if err := h.db.WithContext(requestContext(c)).First(&user, "id = ?", userID).Error; err != nil {
		response.Error(c, errors.ErrNotFound)
		return
	}

	perms, err := h.resolver.GetUserPermissions(requestContext(c), userID)
	if err != nil {
		response.Error(c, errors.ErrInternalServer)
		return
	}
	binary, err := h.resolver.EncodeBinary(requestContext(c), perms)
	if err != nil {
		response.Error(c, errors.ErrInternalServer)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"user":        userPayload(&user),
		"permissions": perms,
		"binary":      binary,
	})
}

func userPayload(user *models.User) gin.H {
	return gin.H{
		"id":          user.ID,
		"username":    user.Username,
		"email":       user.Email,
		"role":        user.Role,
		"is_active":   user.IsActive,
		"first_name":  user.FirstName,
		"last_name":   user.LastName,
		"mfa_enabled": user.MFAEnabled,
	}
}
