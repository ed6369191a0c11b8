package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/quantleap/tradecrm/internal/monitoring"
	"github.com/quantleap/tradecrm/pkg/response"
)

// Health returns a liveness payload. It pings the database so load balancers
// stop routing to an instance whose connection pool has died.
func Health(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if db != nil {
			sqlDB, err := db.DB()
			if err == nil {
				err = sqlDB.PingContext(c.Request.Context())
			}
			if err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"success": false,
					"status":  "down",
				})
				return
			}
		}
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	}
}

// Ready evaluates the registered dependency probes and reports readiness.
func Ready(manager *monitoring.HealthManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if manager == nil {
			response.Success(c, http.StatusOK, gin.H{"status": "ok"})
			return
		}

		report := manager.Evaluate(c.Request.Context())
		status := http.StatusOK
		if !report.Success {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"success": report.Success,
			"status":  report.Status,
			"checks":  report.Checks,
		})
	}
}
