package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/quantleap/tradecrm/internal/security"
	"github.com/quantleap/tradecrm/pkg/response"
)

// SecurityHandler exposes the configuration audit to administrators.
type SecurityHandler struct {
	audit *security.AuditService
}

func NewSecurityHandler(audit *security.AuditService) *SecurityHandler {
	return &SecurityHandler{audit: audit}
}

// GET /api/security/audit
func (h *SecurityHandler) Audit(c *gin.Context) {
	result := h.audit.Run(requestContext(c))
	response.Success(c, http.StatusOK, result)
}
