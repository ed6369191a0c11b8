package checks

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/quantleap/tradecrm/internal/models"
	"github.com/quantleap/tradecrm/internal/monitoring"
)

const defaultOutboxMaxAge = 5 * time.Minute

// Outbox returns a readiness probe that inspects the event outbox backlog.
// Unprocessed messages older than maxAge indicate the worker has stalled or
// lost its lock; the probe degrades rather than fails because the HTTP
// surface keeps working while delivery lags.
func Outbox(db *gorm.DB, maxAge time.Duration) monitoring.Check {
	if maxAge <= 0 {
		maxAge = defaultOutboxMaxAge
	}

	return monitoring.NewCheck("outbox", func(ctx context.Context) monitoring.ProbeResult {
		start := time.Now()
		if db == nil {
			return monitoring.ProbeResult{
				Status:   monitoring.StatusDown,
				Details:  "database not configured",
				Duration: time.Since(start),
			}
		}

		cutoff := time.Now().Add(-maxAge)

		var stale int64
		err := db.WithContext(ctx).
			Model(&models.OutboxMessage{}).
			Where("processed_at IS NULL AND created_at < ?", cutoff).
			Count(&stale).Error
		if err != nil {
			return monitoring.ResultFromError("outbox", err, time.Since(start))
		}

		if stale > 0 {
			return monitoring.ProbeResult{
				Status:   monitoring.StatusDegraded,
				Details:  fmt.Sprintf("%d messages pending for more than %s", stale, maxAge),
				Duration: time.Since(start),
			}
		}

		return monitoring.ProbeResult{
			Status:   monitoring.StatusUp,
			Duration: time.Since(start),
		}
	})
}
