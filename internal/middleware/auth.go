package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/quantleap/tradecrm/internal/auditctx"
	iauth "github.com/quantleap/tradecrm/internal/auth"
	"github.com/quantleap/tradecrm/pkg/errors"
	"github.com/quantleap/tradecrm/pkg/response"
)

const (
	CtxClaimsKey    = "authClaims"
	CtxUserIDKey    = "userID"
	CtxSessionIDKey = "sessionID"
	CtxRoleKey      = "userRole"
)

// Auth enforces JWT authentication using the supplied JWT service.
func Auth(jwt *iauth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if len(authz) < 8 || !strings.EqualFold(authz[:7], "Bearer ") {
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		token := strings.TrimSpace(authz[7:])
		claims, err := jwt.ValidateAccessToken(token)
		if err != nil {
			// Normalise all validation failures to 401
			c.Header("WWW-Authenticate", "Bearer")
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		// Propagate identity into request context
		c.Set(CtxClaimsKey, claims)
		c.Set(CtxUserIDKey, claims.UserID)
		if claims.SessionID != "" {
			c.Set(CtxSessionIDKey, claims.SessionID)
		}
		if claims.Role != "" {
			c.Set(CtxRoleKey, claims.Role)
		}

		// Service layers pick the actor up for grant attribution and audit logs.
		c.Request = c.Request.WithContext(auditctx.WithActor(c.Request.Context(), auditctx.Actor{
			UserID:    claims.UserID,
			IPAddress: c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
		}))

		c.Next()
	}
}

// ClaimsFromContext retrieves the validated JWT claims set by Auth.
func ClaimsFromContext(c *gin.Context) (*iauth.Claims, bool) {
	v, ok := c.Get(CtxClaimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*iauth.Claims)
	return claims, ok
}
