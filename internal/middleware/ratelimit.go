package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// RateLimit limits requests per (clientIP, path) within a fixed window using
// a process-local store. Suitable for single-instance deployments and tests.
func RateLimit(maxRequests int, window time.Duration) gin.HandlerFunc {
	return RateLimitWithStore(NewMemoryRateStore(), maxRequests, window)
}

// RateLimitWithStore limits requests using the supplied RateStore, which may
// be backed by Redis or the database cache so that all instances share one
// budget.
func RateLimitWithStore(store RateStore, maxRequests int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if store == nil || maxRequests <= 0 || window <= 0 {
			c.Next()
			return
		}

		key := "ratelimit:" + c.ClientIP() + "|" + c.FullPath()

		count, resetIn, err := store.Increment(c.Request.Context(), key, window)
		if err != nil {
			// A broken limiter must not take the API down with it.
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(maxRequests))
		remaining := maxRequests - count
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("X-RateLimit-Reset", strconv.Itoa(int(resetIn.Seconds())))

		if count > maxRequests {
			c.AbortWithStatus(http.StatusTooManyRequests)
			return
		}

		c.Next()
	}
}
