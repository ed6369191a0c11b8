package handlers

import (
	"encoding/base64"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/quantleap/tradecrm/internal/auth/mfa"
	"github.com/quantleap/tradecrm/internal/middleware"
	"github.com/quantleap/tradecrm/internal/models"
	"github.com/quantleap/tradecrm/pkg/errors"
	"github.com/quantleap/tradecrm/pkg/response"
)

// MFAHandler manages TOTP enrollment for the authenticated user.
type MFAHandler struct {
	db   *gorm.DB
	totp *mfa.TOTPService
}

func NewMFAHandler(db *gorm.DB, totp *mfa.TOTPService) *MFAHandler {
	return &MFAHandler{db: db, totp: totp}
}

type mfaCodeRequest struct {
	Code string `json:"code" validate:"required"`
}

// POST /api/auth/mfa/setup
//
// Provisions a fresh secret and backup codes. MFA stays disabled until the
// user proves possession via /enable.
func (h *MFAHandler) Setup(c *gin.Context) {
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

	key, backupCodes, err := h.totp.GenerateSecret(user.ID, user.Username)
	if err != nil {
		response.Error(c, errors.ErrInternalServer)
		return
	}

	qr, err := h.totp.GenerateQRCode(key)
	if err != nil {
		response.Error(c, errors.ErrInternalServer)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"secret":       key.Secret(),
		"url":          key.String(),
		"qr_png":       base64.StdEncoding.EncodeToString(qr),
		"backup_codes": backupCodes,
	})
}

// POST /api/auth/mfa/enable
func (h *MFAHandler) Enable(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	var req mfaCodeRequest
	if !bindAndValidate(c, &req) {
		return
	}

	valid, err := h.totp.VerifyCode(userID, req.Code)
	if err != nil || !valid {
		response.Error(c, errors.ErrMFAInvalid)
		return
	}

	if err := h.db.WithContext(requestContext(c)).
		Model(&models.User{}).
		Where("id = ?", userID).
		Update("mfa_enabled", true).Error; err != nil {
		response.Error(c, errors.ErrInternalServer)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"mfa_enabled": true})
}

// POST /api/auth/mfa/disable
func (h *MFAHandler) Disable(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	var req mfaCodeRequest
	if !bindAndValidate(c, &req) {
		return
	}

	valid, err := h.totp.VerifyCode(userID, req.Code)
	if err == nil && !valid {
		valid, err = h.totp.UseBackupCode(userID, req.Code)
	}
	if err != nil || !valid {
		response.Error(c, errors.ErrMFAInvalid)
		return
	}

	err = h.db.WithContext(requestContext(c)).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.User{}).
			Where("id = ?", userID).
			Update("mfa_enabled", false).Error; err != nil {
			return err
		}
		return tx.Where("user_id = ?", userID).Delete(&models.MFASecret{}).Error
	})
	if err != nil {
		response.Error(c, errors.ErrInternalServer)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"mfa_enabled": false})
}
