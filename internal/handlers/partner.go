package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/quantleap/tradecrm/internal/middleware"
	"github.com/quantleap/tradecrm/pkg/errors"
	"github.com/quantleap/tradecrm/pkg/response"
)

// PartnerHandler serves endpoints authenticated with affiliate secrets.
type PartnerHandler struct{}

func NewPartnerHandler() *PartnerHandler {
	return &PartnerHandler{}
}

// GET /api/partner/ping
func (h *PartnerHandler) Ping(c *gin.Context) {
	identity, ok := middleware.AffiliateFromContext(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"pong":      true,
		"affiliate": identity.AffiliateName,
	})
}

// GET /api/partner/me
func (h *PartnerHandler) Me(c *gin.Context) {
	identity, ok := middleware.AffiliateFromContext(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"affiliate_id":   identity.AffiliateID,
		"affiliate_name": identity.AffiliateName,
	})
}
