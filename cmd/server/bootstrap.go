package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/gin-gonic/gin"

	"github.com/quantleap/tradecrm/internal/api"
	"github.com/quantleap/tradecrm/internal/app"
	"github.com/quantleap/tradecrm/internal/app/maintenance"
	iauth "github.com/quantleap/tradecrm/internal/auth"
	"github.com/quantleap/tradecrm/internal/auth/mfa"
	"github.com/quantleap/tradecrm/internal/auth/providers"
	"github.com/quantleap/tradecrm/internal/cache"
	"github.com/quantleap/tradecrm/internal/database"
	"github.com/quantleap/tradecrm/internal/events"
	"github.com/quantleap/tradecrm/internal/middleware"
	"github.com/quantleap/tradecrm/internal/models"
	"github.com/quantleap/tradecrm/internal/monitoring"
	"github.com/quantleap/tradecrm/internal/monitoring/checks"
	"github.com/quantleap/tradecrm/internal/outbox"
	"github.com/quantleap/tradecrm/internal/permissions"
	"github.com/quantleap/tradecrm/internal/secrets"
	"github.com/quantleap/tradecrm/internal/security"
	"github.com/quantleap/tradecrm/pkg/logger"
)

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB         *gorm.DB
	Redis      cache.Store
	SessionSvc *iauth.SessionService
	Resolver   *permissions.Resolver
	Tracker    *secrets.UsageTracker
	Worker     *outbox.Worker
	Cleaner    *maintenance.Cleaner
	RateStore  middleware.RateStore
	Router     *gin.Engine

	workerStop context.CancelFunc
}

// bootstrapRuntime initialises the database, caches, services, the outbox
// worker and the HTTP router.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(context.Background(), log)
		}
	}()

	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	dbStore := cache.NewDatabaseStore(stack.DB)

	if cfg.Cache.Redis.Enabled {
		if stack.Redis, err = cache.NewRedisClient(cfg.Cache.RedisClientConfig()); err != nil {
			log.Warn("redis unavailable; falling back to database-backed operations", zap.Error(err))
			stack.Redis = nil
		} else {
			log.Info("redis connected", zap.String("addr", cfg.Cache.Redis.Address))
		}
	}

	var store cache.Store = dbStore
	if stack.Redis != nil {
		store = stack.Redis
	}

	// Permission catalog and resolver.
	catalog, err := permissions.NewCatalog(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("build permission catalog: %w", err)
	}
	if err := permissions.Sync(ctx, stack.DB, catalog); err != nil {
		return nil, fmt.Errorf("sync permission catalog: %w", err)
	}
	stack.Resolver, err = permissions.NewResolver(stack.DB, catalog)
	if err != nil {
		return nil, fmt.Errorf("initialise permission resolver: %w", err)
	}

	jwtSvc, err := iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise jwt service: %w", err)
	}

	sessionCfg := cfg.Auth.SessionServiceConfig()
	sessionCfg.Cache = iauth.NewSessionStoreCache(store)

	claimsSource := newClaimsSource(stack.DB, stack.Resolver)
	stack.SessionSvc, err = iauth.NewSessionService(stack.DB, jwtSvc, claimsSource, sessionCfg)
	if err != nil {
		return nil, fmt.Errorf("initialise session service: %w", err)
	}

	provider, err := providers.NewLocalProvider(stack.DB, cfg.Auth.LocalProviderConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise local auth provider: %w", err)
	}

	mfaKey, err := app.DecodeKey(cfg.Auth.MFA.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("decode mfa encryption key: %w", err)
	}
	totpSvc, err := mfa.NewTOTPService(stack.DB, mfaKey, cfg.Auth.TOTPOptions()...)
	if err != nil {
		return nil, fmt.Errorf("initialise totp service: %w", err)
	}

	// Affiliate secret validation with batched usage tracking.
	stack.Tracker, err = secrets.NewUsageTracker(stack.DB,
		secrets.WithQueueCapacity(cfg.Secrets.UsageQueueCapacity),
		secrets.WithFlushSize(cfg.Secrets.UsageFlushSize),
		secrets.WithCloseGrace(cfg.Secrets.UsageCloseGrace),
	)
	if err != nil {
		return nil, fmt.Errorf("initialise usage tracker: %w", err)
	}

	validator, err := secrets.NewValidator(stack.DB, store, stack.Tracker)
	if err != nil {
		return nil, fmt.Errorf("initialise secret validator: %w", err)
	}

	secretSvc, err := secrets.NewService(stack.DB, validator)
	if err != nil {
		return nil, fmt.Errorf("initialise secret service: %w", err)
	}

	// Outbox dispatch: staged events drain through the bus.
	bus := outbox.NewBus()
	registerSubscribers(bus)

	lock, err := cache.NewDistributedLock(store)
	if err != nil {
		return nil, fmt.Errorf("initialise distributed lock: %w", err)
	}

	stack.Worker, err = outbox.NewWorker(stack.DB, lock, bus, outbox.WorkerConfig{
		Interval:    cfg.Outbox.Interval,
		BatchSize:   cfg.Outbox.BatchSize,
		LockTTL:     cfg.Outbox.LockTTL,
		MaxRetries:  cfg.Outbox.MaxRetries,
		Partitioned: cfg.Outbox.Partitioned,
	})
	if err != nil {
		return nil, fmt.Errorf("initialise outbox worker: %w", err)
	}

	workerCtx, workerStop := context.WithCancel(context.Background())
	stack.workerStop = workerStop
	go stack.Worker.Run(workerCtx)

	if cfg.Maintenance.Enabled {
		stack.Cleaner = maintenance.NewCleaner(stack.DB, stack.SessionSvc,
			maintenance.WithSessionSchedule(cfg.Maintenance.SessionSchedule),
			maintenance.WithGrantSchedule(cfg.Maintenance.GrantSchedule),
			maintenance.WithOutboxSchedule(cfg.Maintenance.OutboxSchedule),
			maintenance.WithOutboxRetentionDays(cfg.Maintenance.OutboxRetentionDays),
		)
		if err := stack.Cleaner.Start(); err != nil {
			return nil, fmt.Errorf("start maintenance jobs: %w", err)
		}
	}

	switch {
	case stack.Redis != nil:
		stack.RateStore = middleware.NewRedisRateStore(stack.Redis)
	default:
		stack.RateStore = middleware.NewDatabaseRateStore(dbStore)
	}

	health := monitoring.NewHealthManager()
	health.Register(checks.Database(stack.DB, 0))
	var redisPinger checks.RedisPinger
	if rc, ok := stack.Redis.(*cache.RedisClient); ok {
		redisPinger = rc
	}
	health.Register(checks.Redis(redisPinger, cfg.Cache.Redis.Enabled, 0))
	health.Register(checks.Outbox(stack.DB, 0))

	stack.Router, err = api.NewRouter(stack.DB, cfg, api.Dependencies{
		JWT:       jwtSvc,
		Sessions:  stack.SessionSvc,
		Resolver:  stack.Resolver,
		Provider:  provider,
		TOTP:      totpSvc,
		Secrets:   secretSvc,
		Validator: validator,
		Health:    health,
		Audit:     security.NewAuditService(stack.DB, cfg),
		RateStore: stack.RateStore,
	})
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

// newClaimsSource resolves the role and permission bitstring embedded in
// access tokens. It is consulted on every issuance, so refreshed tokens pick
// up grant changes made after login.
func newClaimsSource(db *gorm.DB, resolver *permissions.Resolver) iauth.ClaimsSource {
	return func(ctx context.Context, userID string) (string, string, error) {
		var user models.User
		if err := db.WithContext(ctx).Select("id", "role").First(&user, "id = ?", userID).Error; err != nil {
			return "", "", err
		}
		binary, err := resolver.EncodeUserBinary(ctx, userID)
		if err != nil {
			return "", "", err
		}
		return user.Role, binary, nil
	}
}

// registerSubscribers attaches in-process consumers to the event bus. These
// handlers run at-least-once and must stay idempotent.
func registerSubscribers(bus *outbox.Bus) {
	log := logger.WithModule("events")

	audit := func(ctx context.Context, evt events.Event) error {
		log.Info("domain event",
			zap.String("type", evt.EventType()),
			zap.String("aggregate_type", evt.AggregateType()),
			zap.String("aggregate_id", evt.AggregateID()),
		)
		return nil
	}

	bus.Subscribe(events.TypePermissionGranted, audit)
	bus.Subscribe(events.TypePermissionRevoked, audit)
	bus.Subscribe(events.TypeSecretCreated, audit)
	bus.Subscribe(events.TypeSecretDeactivated, audit)
	bus.Subscribe(events.TypeSecretReactivated, audit)
	bus.Subscribe(events.TypeSecretExpirationSet, audit)
}

// Shutdown gracefully stops background jobs and releases resources.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) {
	if s == nil {
		return
	}

	if s.workerStop != nil {
		s.workerStop()
	}

	if s.Cleaner != nil {
		stopCtx := s.Cleaner.Stop()
		if stopCtx != nil {
			ctx = stopCtx
		}
		if err := s.Cleaner.RunOnce(ctx); err != nil {
			log.Warn("maintenance shutdown cleanup failed", zap.Error(err))
		}
	}

	if s.Tracker != nil {
		s.Tracker.Close()
	}

	if rc, ok := s.Redis.(*cache.RedisClient); ok && rc != nil {
		if err := rc.Close(); err != nil {
			log.Warn("redis shutdown", zap.Error(err))
		}
	}

	if s.DB != nil {
		closeDatabase(s.DB, log)
	}
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := convertDatabaseConfig(cfg)
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrateAndSeed(db); err != nil {
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", strings.ToLower(strings.TrimSpace(dbCfg.Driver))))

	return db, nil
}

func convertDatabaseConfig(cfg *app.Config) database.Config {
	dbCfg := database.Config{
		Driver: strings.ToLower(strings.TrimSpace(cfg.Database.Driver)),
		Path:   strings.TrimSpace(cfg.Database.Path),
		DSN:    strings.TrimSpace(cfg.Database.DSN),
	}

	switch dbCfg.Driver {
	case "", "sqlite":
		dbCfg.Driver = "sqlite"
	case "postgres", "postgresql":
		dbCfg.Driver = "postgres"
		dbCfg.Host = strings.TrimSpace(cfg.Database.Postgres.Host)
		dbCfg.Port = cfg.Database.Postgres.Port
		dbCfg.Name = strings.TrimSpace(cfg.Database.Postgres.Database)
		dbCfg.User = strings.TrimSpace(cfg.Database.Postgres.Username)
		dbCfg.Password = strings.TrimSpace(cfg.Database.Postgres.Password)
	case "mysql":
		dbCfg.Host = strings.TrimSpace(cfg.Database.MySQL.Host)
		dbCfg.Port = cfg.Database.MySQL.Port
		dbCfg.Name = strings.TrimSpace(cfg.Database.MySQL.Database)
		dbCfg.User = strings.TrimSpace(cfg.Database.MySQL.Username)
		dbCfg.Password = strings.TrimSpace(cfg.Database.MySQL.Password)
	default:
		// Leave driver as-is to surface unsupported driver error during open.
	}

	return dbCfg
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	if db == nil {
		return
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("failed to obtain underlying sql DB for closing", zap.Error(err))
		return
	}

	if err := sqlDB.Close(); err != nil {
		log.Warn("failed to close database", zap.Error(err))
	}
}
