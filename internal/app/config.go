package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Config represents the runtime configuration for the TradeCRM backend.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Secrets     SecretsConfig     `mapstructure:"secrets"`
	Outbox      OutboxConfig      `mapstructure:"outbox"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port               int    `mapstructure:"port"`
	LogLevel           string `mapstructure:"log_level"`
	RateLimitPerMinute int    `mapstructure:"rate_limit_per_minute"`
}

// DatabaseConfig describes connection options for the supported databases.
type DatabaseConfig struct {
	Driver   string       `mapstructure:"driver"`
	Path     string       `mapstructure:"path"`
	DSN      string       `mapstructure:"dsn"`
	Postgres DBAuthConfig `mapstructure:"postgres"`
	MySQL    DBAuthConfig `mapstructure:"mysql"`
}

// CacheConfig describes cache backends.
type CacheConfig struct {
	Redis RedisCacheConfig `mapstructure:"redis"`
}

// RedisCacheConfig holds Redis connection options.
type RedisCacheConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Address  string        `mapstructure:"address"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TLS      bool          `mapstructure:"tls"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// DBAuthConfig represents host based database parameters.
type DBAuthConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// AuthConfig captures all authentication-related settings.
type AuthConfig struct {
	JWT     JWTSettings       `mapstructure:"jwt"`
	Session SessionSettings   `mapstructure:"session"`
	Local   LocalAuthSettings `mapstructure:"local"`
	MFA     MFASettings       `mapstructure:"mfa"`
}

// JWTSettings configures JWT access tokens.
type JWTSettings struct {
	Secret string        `mapstructure:"secret"`
	Issuer string        `mapstructure:"issuer"`
	TTL    time.Duration `mapstructure:"access_token_ttl"`
}

// SessionSettings configures refresh tokens and session lifetimes.
type SessionSettings struct {
	RefreshTTL    time.Duration `mapstructure:"refresh_token_ttl"`
	RefreshLength int           `mapstructure:"refresh_token_length"`
}

// LocalAuthSettings defines controls for the local auth provider.
type LocalAuthSettings struct {
	LockoutThreshold int           `mapstructure:"lockout_threshold"`
	LockoutDuration  time.Duration `mapstructure:"lockout_duration"`
}

// MFASettings configures TOTP enrollment. The encryption key protects
// stored TOTP secrets at rest and accepts hex or base64 encoding.
type MFASettings struct {
	EncryptionKey string `mapstructure:"encryption_key"`
	Issuer        string `mapstructure:"issuer"`
}

// SecretsConfig tunes affiliate secret validation and usage tracking.
type SecretsConfig struct {
	UsageQueueCapacity        int           `mapstructure:"usage_queue_capacity"`
	UsageFlushSize            int           `mapstructure:"usage_flush_size"`
	UsageCloseGrace           time.Duration `mapstructure:"usage_close_grace"`
	PartnerRateLimitPerMinute int           `mapstructure:"partner_rate_limit_per_minute"`
}

// OutboxConfig tunes the background event dispatcher.
type OutboxConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	BatchSize   int           `mapstructure:"batch_size"`
	LockTTL     time.Duration `mapstructure:"lock_ttl"`
	MaxRetries  int           `mapstructure:"max_retries"`
	Partitioned bool          `mapstructure:"partitioned"`
}

// MaintenanceConfig controls the cron-driven background sweeps.
type MaintenanceConfig struct {
	Enabled             bool   `mapstructure:"enabled"`
	SessionSchedule     string `mapstructure:"session_schedule"`
	GrantSchedule       string `mapstructure:"grant_schedule"`
	OutboxSchedule      string `mapstructure:"outbox_schedule"`
	OutboxRetentionDays int    `mapstructure:"outbox_retention_days"`
}

// LoadConfig initialises application configuration using Viper with sensible defaults.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.NewWithOptions(viper.ExperimentalBindStruct())
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("TRADECRM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.rate_limit_per_minute", 100)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/tradecrm.sqlite")

	v.SetDefault("cache.redis.enabled", false)
	v.SetDefault("cache.redis.address", "127.0.0.1:6379")
	v.SetDefault("cache.redis.username", "")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.tls", false)
	v.SetDefault("cache.redis.timeout", "5s")

	v.SetDefault("auth.jwt.issuer", "tradecrm")
	v.SetDefault("auth.jwt.access_token_ttl", "15m")
	v.SetDefault("auth.session.refresh_token_ttl", "720h") // 30 days
	v.SetDefault("auth.session.refresh_token_length", 48)
	v.SetDefault("auth.local.lockout_threshold", 5)
	v.SetDefault("auth.local.lockout_duration", "15m")
	v.SetDefault("auth.mfa.issuer", "TradeCRM")

	v.SetDefault("secrets.usage_queue_capacity", 1024)
	v.SetDefault("secrets.usage_flush_size", 64)
	v.SetDefault("secrets.usage_close_grace", "5s")
	v.SetDefault("secrets.partner_rate_limit_per_minute", 600)

	v.SetDefault("outbox.interval", "5s")
	v.SetDefault("outbox.batch_size", 20)
	v.SetDefault("outbox.lock_ttl", "30s")
	v.SetDefault("outbox.max_retries", 10)
	v.SetDefault("outbox.partitioned", false)

	v.SetDefault("maintenance.enabled", true)
	v.SetDefault("maintenance.session_schedule", "@hourly")
	v.SetDefault("maintenance.grant_schedule", "@hourly")
	v.SetDefault("maintenance.outbox_schedule", "@daily")
	v.SetDefault("maintenance.outbox_retention_days", 14)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
