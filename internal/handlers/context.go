package handlers

import (
	"context"

	"github.com/gin-gonic/gin"
)

// requestContext returns the request's context, which carries the actor
// injected by the auth middleware. Falls back to Background for handlers
// invoked outside an HTTP request (tests, mostly).
func requestContext(c *gin.Context) context.Context {
	if c == nil || c.Request == nil {
		return context.Background()
	}
	return c.Request.Context()
}
