package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/quantleap/tradecrm/internal/secrets"
	"github.com/quantleap/tradecrm/pkg/response"
)

const (
	// SecretHeader carries the affiliate API secret on partner requests.
	SecretHeader = "X-Api-Secret"

	CtxAffiliateKey = "affiliateIdentity"
)

// SecretAuth authenticates partner requests with an affiliate secret key.
// The validator handles caching, IP restriction, and usage tracking; this
// middleware only maps its verdict onto the HTTP surface.
func SecretAuth(validator *secrets.Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := strings.TrimSpace(c.GetHeader(SecretHeader))

		identity, err := validator.Validate(c.Request.Context(), key, c.ClientIP())
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		c.Set(CtxAffiliateKey, identity)
		c.Next()
	}
}

// AffiliateFromContext retrieves the identity attached by SecretAuth.
func AffiliateFromContext(c *gin.Context) (*secrets.Identity, bool) {
	v, ok := c.Get(CtxAffiliateKey)
	if !ok {
		return nil, false
	}
	identity, ok := v.(*secrets.Identity)
	return identity, ok
}
