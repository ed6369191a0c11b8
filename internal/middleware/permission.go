package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/quantleap/tradecrm/internal/permissions"
	"github.com/quantleap/tradecrm/pkg/errors"
	"github.com/quantleap/tradecrm/pkg/metrics"
	"github.com/quantleap/tradecrm/pkg/response"
)

// RequirePermission gates a route on a single catalog permission. The
// bitstring embedded in the access token is consulted first; requests whose
// token predates the claim (or carries an undecodable one) fall back to a
// full database resolution. Both paths deny on any doubt.
func RequirePermission(resolver *permissions.Resolver, section, title, actionType string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := ClaimsFromContext(c)
		if !ok || claims.UserID == "" {
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		ctx := c.Request.Context()

		if claims.Permission != "" {
			if resolver.HasPermissionFromBinary(ctx, claims.Permission, section, title, actionType) {
				metrics.PermissionChecks.WithLabelValues("binary", "allowed").Inc()
				c.Next()
				return
			}
			metrics.PermissionChecks.WithLabelValues("binary", "denied").Inc()
			response.Error(c, errors.ErrForbidden)
			c.Abort()
			return
		}

		allowed, err := resolver.HasPermission(ctx, claims.UserID, section, title, actionType)
		if err != nil {
			metrics.PermissionChecks.WithLabelValues("resolver", "error").Inc()
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"success": false,
				"error":   gin.H{"code": errors.ErrInternalServer.Code, "message": "permission check failed"},
			})
			return
		}
		if !allowed {
			metrics.PermissionChecks.WithLabelValues("resolver", "denied").Inc()
			response.Error(c, errors.ErrForbidden)
			c.Abort()
			return
		}
		metrics.PermissionChecks.WithLabelValues("resolver", "allowed").Inc()
		c.Next()
	}
}
