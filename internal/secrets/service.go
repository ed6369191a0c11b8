package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/quantleap/tradecrm/internal/events"
	"github.com/quantleap/tradecrm/internal/models"
	"github.com/quantleap/tradecrm/internal/outbox"
	"github.com/quantleap/tradecrm/pkg/crypto"
	apperrors "github.com/quantleap/tradecrm/pkg/errors"
)

const (
	secretKeyLength       = 64
	maxKeyGenerationTries = 5
)

// Service manages the affiliate secret lifecycle. Every mutation stages its
// domain event in the same transaction and, when a validator is attached,
// drops the secret's cache entry so the change takes effect ahead of the TTL.
type Service struct {
	db        *gorm.DB
	validator *Validator
}

// NewService constructs a secret service. The validator is optional.
func NewService(db *gorm.DB, validator *Validator) (*Service, error) {
	if db == nil {
		return nil, errors.New("secret service: db is required")
	}
	return &Service{db: db, validator: validator}, nil
}

// CreateInput describes a new secret request.
type CreateInput struct {
	AffiliateID    string
	ExpirationDate time.Time
	IPRestriction  string
}

// Create issues a new secret with a cryptographically random 64-character
// key, retrying on the vanishingly unlikely key collision up to five times.
func (s *Service) Create(ctx context.Context, input CreateInput) (*models.AffiliateSecret, error) {
	ctx = ensureContext(ctx)

	affiliateID := strings.TrimSpace(input.AffiliateID)
	if affiliateID == "" {
		return nil, apperrors.NewBadRequest("affiliate id is required")
	}
	if input.ExpirationDate.IsZero() {
		return nil, apperrors.NewBadRequest("expiration date is required")
	}

	var affiliate models.Affiliate
	if err := s.db.WithContext(ctx).Take(&affiliate, "id = ?", affiliateID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("secret service: load affiliate: %w", err)
	}

	key, err := s.generateUniqueKey(ctx)
	if err != nil {
		return nil, err
	}

	secret := &models.AffiliateSecret{
		AffiliateID:    affiliateID,
		SecretKey:      key,
		ExpirationDate: input.ExpirationDate,
		IPRestriction:  strings.TrimSpace(input.IPRestriction),
		IsActive:       true,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(secret).Error; err != nil {
			return fmt.Errorf("secret service: create secret: %w", err)
		}
		evt := events.SecretCreated{
			Base:        events.NewBase(),
			SecretID:    secret.ID,
			AffiliateID: affiliateID,
			ExpiresAt:   secret.ExpirationDate,
		}
		return outbox.Stage(tx, evt)
	})
	if err != nil {
		return nil, err
	}

	return secret, nil
}

// Deactivate switches the secret off and invalidates its cache entry.
func (s *Service) Deactivate(ctx context.Context, secretID string) error {
	return s.setActive(ctx, secretID, false)
}

// Reactivate switches the secret back on.
func (s *Service) Reactivate(ctx context.Context, secretID string) error {
	return s.setActive(ctx, secretID, true)
}

func (s *Service) setActive(ctx context.Context, secretID string, active bool) error {
	ctx = ensureContext(ctx)

	var secret models.AffiliateSecret
	if err := s.db.WithContext(ctx).Take(&secret, "id = ?", secretID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.ErrNotFound
		}
		return fmt.Errorf("secret service: load secret: %w", err)
	}

	if secret.IsActive == active {
		return nil
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&secret).Update("is_active", active).Error; err != nil {
			return fmt.Errorf("secret service: update secret: %w", err)
		}

		var evt events.Event
		if active {
			evt = events.SecretReactivated{Base: events.NewBase(), SecretID: secret.ID, AffiliateID: secret.AffiliateID}
		} else {
			evt = events.SecretDeactivated{Base: events.NewBase(), SecretID: secret.ID, AffiliateID: secret.AffiliateID}
		}
		return outbox.Stage(tx, evt)
	})
	if err != nil {
		return err
	}

	s.invalidate(ctx, secret.SecretKey)
	return nil
}

// ReplaceExpiration moves the secret's expiration date.
func (s *Service) ReplaceExpiration(ctx context.Context, secretID string, expiresAt time.Time) error {
	ctx = ensureContext(ctx)

	if expiresAt.IsZero() {
		return apperrors.NewBadRequest("expiration date is required")
	}

	var secret models.AffiliateSecret
	if err := s.db.WithContext(ctx).Take(&secret, "id = ?", secretID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.ErrNotFound
		}
		return fmt.Errorf("secret service: load secret: %w", err)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&secret).Update("expiration_date", expiresAt).Error; err != nil {
			return fmt.Errorf("secret service: update expiration: %w", err)
		}
		evt := events.SecretExpirationReplaced{
			Base:        events.NewBase(),
			SecretID:    secret.ID,
			AffiliateID: secret.AffiliateID,
			ExpiresAt:   expiresAt,
		}
		return outbox.Stage(tx, evt)
	})
	if err != nil {
		return err
	}

	s.invalidate(ctx, secret.SecretKey)
	return nil
}

// ListForAffiliate returns the affiliate's secrets, newest first.
func (s *Service) ListForAffiliate(ctx context.Context, affiliateID string) ([]models.AffiliateSecret, error) {
	ctx = ensureContext(ctx)

	var secrets []models.AffiliateSecret
	if err := s.db.WithContext(ctx).
		Where("affiliate_id = ?", affiliateID).
		Order("created_at DESC").
		Find(&secrets).Error; err != nil {
		return nil, fmt.Errorf("secret service: list secrets: %w", err)
	}
	return secrets, nil
}

func (s *Service) generateUniqueKey(ctx context.Context) (string, error) {
	for attempt := 0; attempt < maxKeyGenerationTries; attempt++ {
		key, err := crypto.GenerateSecretKey(secretKeyLength)
		if err != nil {
			return "", fmt.Errorf("secret service: generate key: %w", err)
		}

		var count int64
		if err := s.db.WithContext(ctx).
			Model(&models.AffiliateSecret{}).
			Where("secret_key = ?", key).
			Count(&count).Error; err != nil {
			return "", fmt.Errorf("secret service: check key collision: %w", err)
		}
		if count == 0 {
			return key, nil
		}
	}
	return "", errors.New("secret service: could not generate a unique key")
}

func (s *Service) invalidate(ctx context.Context, secretKey string) {
	if s.validator == nil {
		return
	}
	_ = s.validator.InvalidateCache(ctx, secretKey)
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}
