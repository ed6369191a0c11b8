package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/quantleap/tradecrm/internal/secrets"
	"github.com/quantleap/tradecrm/internal/services"
	"github.com/quantleap/tradecrm/pkg/response"
)

// AffiliateHandler exposes affiliate management and secret lifecycle endpoints.
type AffiliateHandler struct {
	affiliates *services.AffiliateService
	secrets    *secrets.Service
}

func NewAffiliateHandler(affiliates *services.AffiliateService, secretService *secrets.Service) *AffiliateHandler {
	return &AffiliateHandler{affiliates: affiliates, secrets: secretService}
}

type createAffiliateRequest struct {
	Name        string `json:"name" validate:"required,min=2,max=128"`
	CompanyName string `json:"company_name"`
	OwnerUserID string `json:"owner_user_id"`
}

type updateAffiliateRequest struct {
	Name        *string `json:"name"`
	CompanyName *string `json:"company_name"`
	IsActive    *bool   `json:"is_active"`
}

type createSecretRequest struct {
	ExpirationDate time.Time `json:"expiration_date" validate:"required"`
	IPRestriction  string    `json:"ip_restriction"`
}

type replaceExpirationRequest struct {
	ExpirationDate time.Time `json:"expiration_date" validate:"required"`
}

// GET /api/affiliates
func (h *AffiliateHandler) List(c *gin.Context) {
	activeOnly := c.Query("active") == "true"

	affiliates, err := h.affiliates.List(requestContext(c), activeOnly)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, affiliates)
}

// GET /api/affiliates/:id
func (h *AffiliateHandler) Get(c *gin.Context) {
	affiliate, err := h.affiliates.GetByID(requestContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, affiliate)
}

// POST /api/affiliates
func (h *AffiliateHandler) Create(c *gin.Context) {
	var req createAffiliateRequest
	if !bindAndValidate(c, &req) {
		return
	}

	affiliate, err := h.affiliates.Create(requestContext(c), services.CreateAffiliateInput{
		Name:        req.Name,
		CompanyName: req.CompanyName,
		OwnerUserID: req.OwnerUserID,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, affiliate)
}

// PATCH /api/affiliates/:id
func (h *AffiliateHandler) Update(c *gin.Context) {
	var req updateAffiliateRequest
	if !bindAndValidate(c, &req) {
		return
	}

	affiliate, err := h.affiliates.Update(requestContext(c), c.Param("id"), services.UpdateAffiliateInput{
		Name:        req.Name,
		CompanyName: req.CompanyName,
		IsActive:    req.IsActive,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, affiliate)
}

// GET /api/affiliates/:id/secrets
func (h *AffiliateHandler) ListSecrets(c *gin.Context) {
	list, err := h.secrets.ListForAffiliate(requestContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, list)
}

// POST /api/affiliates/:id/secrets
func (h *AffiliateHandler) CreateSecret(c *gin.Context) {
	var req createSecretRequest
	if !bindAndValidate(c, &req) {
		return
	}

	secret, err := h.secrets.Create(requestContext(c), secrets.CreateInput{
		AffiliateID:    c.Param("id"),
		ExpirationDate: req.ExpirationDate,
		IPRestriction:  req.IPRestriction,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	// The key is returned exactly once, at issuance.
	response.Success(c, http.StatusCreated, secret)
}

// POST /api/secrets/:id/deactivate
func (h *AffiliateHandler) DeactivateSecret(c *gin.Context) {
	if err := h.secrets.Deactivate(requestContext(c), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"is_active": false})
}

// POST /api/secrets/:id/reactivate
func (h *AffiliateHandler) ReactivateSecret(c *gin.Context) {
	if err := h.secrets.Reactivate(requestContext(c), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"is_active": true})
}

// PUT /api/secrets/:id/expiration
func (h *AffiliateHandler) ReplaceSecretExpiration(c *gin.Context) {
	var req replaceExpirationRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.secrets.ReplaceExpiration(requestContext(c), c.Param("id"), req.ExpirationDate); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"expiration_date": req.ExpirationDate})
}
