package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/quantleap/tradecrm/internal/cache"
	"github.com/quantleap/tradecrm/internal/models"
	apperrors "github.com/quantleap/tradecrm/pkg/errors"
	"github.com/quantleap/tradecrm/pkg/logger"
	"github.com/quantleap/tradecrm/pkg/metrics"
)

const (
	secretCacheKeyPrefix = "secret:"

	// Positive entries live long enough to keep the hot path cache-dominated;
	// negative entries stay short so a freshly issued or reactivated secret
	// becomes usable quickly.
	positiveCacheTTL    = 15 * time.Minute
	negativeNotFoundTTL = 2 * time.Minute
	negativeInactiveTTL = time.Minute
)

// Identity is the validated caller returned on success.
type Identity struct {
	SecretID      string `json:"secret_id"`
	AffiliateID   string `json:"affiliate_id"`
	AffiliateName string `json:"affiliate_name"`
}

// cacheEntry is the tri-state cache payload: present-valid, present-invalid
// (negative cache) or absent (miss). IP restrictions are re-evaluated on
// every request, so Forbidden outcomes are never cached.
type cacheEntry struct {
	Valid         bool     `json:"valid"`
	Identity      Identity `json:"identity,omitempty"`
	IPRestriction string   `json:"ip_restriction,omitempty"`
}

// Validator checks affiliate API secrets cache-first and records usage
// asynchronously through the tracker.
type Validator struct {
	db      *gorm.DB
	store   cache.Store
	tracker *UsageTracker
	log     *zap.Logger
	now     func() time.Time
}

// ValidatorOption customises the validator.
type ValidatorOption func(*Validator)

// WithValidatorClock injects a custom clock, primarily for testing expiry.
func WithValidatorClock(clock func() time.Time) ValidatorOption {
	return func(v *Validator) {
		if clock != nil {
			v.now = clock
		}
	}
}

// NewValidator constructs a secret validator. The tracker may be nil, in
// which case usage is not recorded.
func NewValidator(db *gorm.DB, store cache.Store, tracker *UsageTracker, opts ...ValidatorOption) (*Validator, error) {
	if db == nil {
		return nil, errors.New("secret validator: db is required")
	}
	if store == nil {
		return nil, errors.New("secret validator: cache store is required")
	}

	v := &Validator{
		db:      db,
		store:   store,
		tracker: tracker,
		log:     logger.WithModule("secrets.validator"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Validate checks the supplied secret key, cache first. Usage tracking is
// fire-and-forget: it never adds latency to, or fails, the validation call.
// Store errors surface as internal errors rather than masquerading as
// Unauthorized, and are never cached.
func (v *Validator) Validate(ctx context.Context, secretKey, clientIP string) (*Identity, error) {
	secretKey = strings.TrimSpace(secretKey)
	if secretKey == "" {
		metrics.SecretValidations.WithLabelValues("unauthorized", "request").Inc()
		return nil, apperrors.ErrUnauthorized
	}

	cacheKey := secretCacheKeyPrefix + secretKey

	if entry, found := v.cachedEntry(ctx, cacheKey); found {
		if !entry.Valid {
			metrics.SecretValidations.WithLabelValues("unauthorized", "cache").Inc()
			return nil, apperrors.ErrUnauthorized
		}
		if !ipAllowed(entry.IPRestriction, clientIP) {
			metrics.SecretValidations.WithLabelValues("forbidden", "cache").Inc()
			return nil, apperrors.ErrForbidden
		}
		v.trackUse(entry.Identity.SecretID)
		metrics.SecretValidations.WithLabelValues("valid", "cache").Inc()
		return &entry.Identity, nil
	}

	var secret models.AffiliateSecret
	err := v.db.WithContext(ctx).
		Preload("Affiliate").
		Take(&secret, "secret_key = ?", secretKey).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		v.cacheNegative(ctx, cacheKey, negativeNotFoundTTL)
		metrics.SecretValidations.WithLabelValues("unauthorized", "store").Inc()
		return nil, apperrors.ErrUnauthorized
	}
	if err != nil {
		metrics.SecretValidations.WithLabelValues("error", "store").Inc()
		return nil, apperrors.ErrInternalServer.WithInternal(fmt.Errorf("secret validator: load secret: %w", err))
	}

	if !secret.IsActive || secret.IsExpired(v.now()) {
		v.cacheNegative(ctx, cacheKey, negativeInactiveTTL)
		metrics.SecretValidations.WithLabelValues("unauthorized", "store").Inc()
		return nil, apperrors.ErrUnauthorized
	}

	identity := Identity{
		SecretID:    secret.ID,
		AffiliateID: secret.AffiliateID,
	}
	if secret.Affiliate != nil {
		identity.AffiliateName = secret.Affiliate.DisplayName()
	}

	if !secret.AllowsIP(clientIP) {
		// Not cached: the same key may legitimately arrive from different
		// addresses on consecutive requests.
		metrics.SecretValidations.WithLabelValues("forbidden", "store").Inc()
		return nil, apperrors.ErrForbidden
	}

	v.cachePositive(ctx, cacheKey, identity, secret.IPRestriction)
	v.trackUse(identity.SecretID)
	metrics.SecretValidations.WithLabelValues("valid", "store").Inc()
	return &identity, nil
}

func (v *Validator) cachedEntry(ctx context.Context, key string) (*cacheEntry, bool) {
	data, found, err := v.store.Get(ctx, key)
	if err != nil {
		// A degraded cache must not take validation down; fall through to
		// the store.
		v.log.Warn("secret cache read failed", zap.Error(err))
		return nil, false
	}
	if !found {
		return nil, false
	}

	var entry cacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		v.log.Warn("secret cache entry corrupt", zap.Error(err))
		return nil, false
	}
	return &entry, true
}

func (v *Validator) cachePositive(ctx context.Context, key string, identity Identity, ipRestriction string) {
	v.writeCache(ctx, key, cacheEntry{Valid: true, Identity: identity, IPRestriction: ipRestriction}, positiveCacheTTL)
}

func (v *Validator) cacheNegative(ctx context.Context, key string, ttl time.Duration) {
	v.writeCache(ctx, key, cacheEntry{Valid: false}, ttl)
}

func (v *Validator) writeCache(ctx context.Context, key string, entry cacheEntry, ttl time.Duration) {
	payload, err := json.Marshal(entry)
	if err != nil {
		v.log.Warn("encode secret cache entry", zap.Error(err))
		return
	}
	if err := v.store.Set(ctx, key, payload, ttl); err != nil {
		v.log.Warn("write secret cache entry", zap.Error(err))
	}
}

func (v *Validator) trackUse(secretID string) {
	if v.tracker == nil {
		return
	}
	v.tracker.Track(secretID)
}

func ipAllowed(restriction, clientIP string) bool {
	probe := models.AffiliateSecret{IPRestriction: restriction}
	return probe.AllowsIP(clientIP)
}

// InvalidateCache drops the validator's entry for a secret key. Called by
// administrative mutations so a deactivated secret stops validating before
// its cache TTL lapses.
func (v *Validator) InvalidateCache(ctx context.Context, secretKey string) error {
	secretKey = strings.TrimSpace(secretKey)
	if secretKey == "" {
		return nil
	}
	return v.store.Delete(ctx, secretCacheKeyPrefix+secretKey)
}
