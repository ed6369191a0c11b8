package maintenance

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	iauth "github.com/quantleap/tradecrm/internal/auth"
	"github.com/quantleap/tradecrm/internal/models"
	"github.com/quantleap/tradecrm/pkg/logger"
)

const (
	defaultOutboxRetentionDays = 14
	defaultSessionSpec         = "@hourly"
	defaultGrantSpec           = "@hourly"
	defaultOutboxSpec          = "@daily"
)

// Cleaner coordinates background maintenance tasks: purging expired sessions,
// pruning expired permission grants, clearing stale cache rows and trimming
// processed outbox messages.
type Cleaner struct {
	db        *gorm.DB
	sessions  *iauth.SessionService
	cron      *cron.Cron
	now       func() time.Time
	log       *zap.Logger
	retention int

	sessionSchedule string
	grantSchedule   string
	outboxSchedule  string
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithNow overrides the clock used for cleanup comparisons.
func WithNow(now func() time.Time) Option {
	return func(cleaner *Cleaner) {
		if now != nil {
			cleaner.now = now
		}
	}
}

// WithOutboxRetentionDays adjusts how long processed outbox messages are retained.
func WithOutboxRetentionDays(days int) Option {
	return func(cleaner *Cleaner) {
		if days > 0 {
			cleaner.retention = days
		}
	}
}

// WithSessionSchedule overrides the cron specification for session cleanup.
func WithSessionSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.sessionSchedule = spec
		}
	}
}

// WithGrantSchedule overrides the cron specification for expired grant pruning.
func WithGrantSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.grantSchedule = spec
		}
	}
}

// WithOutboxSchedule overrides the cron specification for outbox trimming.
func WithOutboxSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.outboxSchedule = spec
		}
	}
}

// NewCleaner constructs a Cleaner with sensible defaults. A nil session
// service skips the session cleanup job.
func NewCleaner(db *gorm.DB, sessions *iauth.SessionService, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		db:              db,
		sessions:        sessions,
		now:             time.Now,
		retention:       defaultOutboxRetentionDays,
		sessionSchedule: defaultSessionSpec,
		grantSchedule:   defaultGrantSpec,
		outboxSchedule:  defaultOutboxSpec,
		log:             logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	return cleaner
}

// Start registers cleanup jobs with the cron scheduler and launches it.
func (c *Cleaner) Start() error {
	if c.sessions != nil {
		if _, err := c.cron.AddFunc(c.sessionSchedule, func() {
			ctx := context.Background()
			if _, err := c.sessions.CleanupExpired(ctx); err != nil {
				c.log.Warn("session cleanup failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	if c.db != nil {
		if _, err := c.cron.AddFunc(c.grantSchedule, func() {
			ctx := context.Background()
			if _, err := CleanupGrants(ctx, c.db, c.now()); err != nil {
				c.log.Warn("grant cleanup failed", zap.Error(err))
			}
			if _, err := CleanupCacheEntries(ctx, c.db, c.now()); err != nil {
				c.log.Warn("cache cleanup failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}

		if _, err := c.cron.AddFunc(c.outboxSchedule, func() {
			ctx := context.Background()
			cutoff := c.now().AddDate(0, 0, -c.retention)
			if _, err := CleanupOutbox(ctx, c.db, cutoff); err != nil {
				c.log.Warn("outbox cleanup failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes all configured cleanup routines sequentially. Primarily used
// in tests and during graceful shutdown.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error

	if c.sessions != nil {
		if _, err := c.sessions.CleanupExpired(ctx); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	if c.db != nil {
		now := c.now()
		if _, err := CleanupGrants(ctx, c.db, now); err != nil {
			errs = multierr.Append(errs, err)
		}
		if _, err := CleanupCacheEntries(ctx, c.db, now); err != nil {
			errs = multierr.Append(errs, err)
		}
		cutoff := now.AddDate(0, 0, -c.retention)
		if _, err := CleanupOutbox(ctx, c.db, cutoff); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	return errs
}

// CleanupGrants deletes expired permission grant rows as of the given time.
// Expired grants are already invisible to permission resolution, so this is a
// pure storage reclaim and stages no revocation events.
func CleanupGrants(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at <= ?", now).
		Delete(&models.UserPermission{})
	return res.RowsAffected, res.Error
}

// CleanupCacheEntries deletes expired rows from the database cache store.
func CleanupCacheEntries(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Where("expires_at <= ?", now).
		Delete(&models.CacheEntry{})
	return res.RowsAffected, res.Error
}

// CleanupOutbox deletes processed outbox messages older than the cutoff.
// Unprocessed messages are never touched regardless of age.
func CleanupOutbox(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Where("processed_at IS NOT NULL AND processed_at <= ?", cutoff).
		Delete(&models.OutboxMessage{})
	return res.RowsAffected, res.Error
}
