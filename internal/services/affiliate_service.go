package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"gorm.io/gorm"

	"github.com/quantleap/tradecrm/internal/models"
	apperrors "github.com/quantleap/tradecrm/pkg/errors"
)

// ErrAffiliateNotFound indicates the requested affiliate does not exist.
var ErrAffiliateNotFound = apperrors.New("AFFILIATE_NOT_FOUND", "Affiliate not found", http.StatusNotFound)

// CreateAffiliateInput describes a new partner organisation.
type CreateAffiliateInput struct {
	Name        string
	CompanyName string
	OwnerUserID string
}

// UpdateAffiliateInput enumerates mutable affiliate attributes.
type UpdateAffiliateInput struct {
	Name        *string
	CompanyName *string
	IsActive    *bool
}

// AffiliateService manages partner organisations.
type AffiliateService struct {
	db *gorm.DB
}

// NewAffiliateService constructs an AffiliateService.
func NewAffiliateService(db *gorm.DB) (*AffiliateService, error) {
	if db == nil {
		return nil, errors.New("affiliate service: db is required")
	}
	return &AffiliateService{db: db}, nil
}

// Create registers a new affiliate.
func (s *AffiliateService) Create(ctx context.Context, input CreateAffiliateInput) (*models.Affiliate, error) {
	ctx = ensureContext(ctx)

	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, apperrors.NewBadRequest("affiliate name is required")
	}

	// The owner reference is optional; a NULL column keeps the foreign key
	// satisfied for ownerless partners.
	var ownerRef *string
	if ownerID := strings.TrimSpace(input.OwnerUserID); ownerID != "" {
		var owner models.User
		if err := s.db.WithContext(ctx).First(&owner, "id = ?", ownerID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrUserNotFound
			}
			return nil, fmt.Errorf("affiliate service: load owner: %w", err)
		}
		ownerRef = &ownerID
	}

	affiliate := &models.Affiliate{
		Name:        name,
		CompanyName: strings.TrimSpace(input.CompanyName),
		OwnerUserID: ownerRef,
		IsActive:    true,
	}

	if err := s.db.WithContext(ctx).Create(affiliate).Error; err != nil {
		return nil, fmt.Errorf("affiliate service: create affiliate: %w", err)
	}
	return affiliate, nil
}

// GetByID loads an affiliate by identifier.
func (s *AffiliateService) GetByID(ctx context.Context, id string) (*models.Affiliate, error) {
	ctx = ensureContext(ctx)

	var affiliate models.Affiliate
	err := s.db.WithContext(ctx).First(&affiliate, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAffiliateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("affiliate service: get affiliate: %w", err)
	}
	return &affiliate, nil
}

// List returns affiliates, optionally filtered to active ones.
func (s *AffiliateService) List(ctx context.Context, activeOnly bool) ([]models.Affiliate, error) {
	ctx = ensureContext(ctx)

	query := s.db.WithContext(ctx).Model(&models.Affiliate{})
	if activeOnly {
		query = query.Where("is_active = ?", true)
	}

	var affiliates []models.Affiliate
	if err := query.Order("created_at DESC").Find(&affiliates).Error; err != nil {
		return nil, fmt.Errorf("affiliate service: list affiliates: %w", err)
	}
	return affiliates, nil
}

// Update persists mutable attributes for an existing affiliate.
func (s *AffiliateService) Update(ctx context.Context, id string, input UpdateAffiliateInput) (*models.Affiliate, error) {
	ctx = ensureContext(ctx)

	var affiliate models.Affiliate
	err := s.db.WithContext(ctx).First(&affiliate, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAffiliateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("affiliate service: load affiliate: %w", err)
	}

	updates := map[string]any{}
	if input.Name != nil {
		if name := strings.TrimSpace(*input.Name); name != "" && name != affiliate.Name {
			updates["name"] = name
		}
	}
	if input.CompanyName != nil {
		updates["company_name"] = strings.TrimSpace(*input.CompanyName)
	}
	if input.IsActive != nil {
		updates["is_active"] = *input.IsActive
	}

	if len(updates) == 0 {
		return &affiliate, nil
	}

	if err := s.db.WithContext(ctx).Model(&affiliate).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("affiliate service: update affiliate: %w", err)
	}

	if err := s.db.WithContext(ctx).First(&affiliate, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("affiliate service: reload affiliate: %w", err)
	}
	return &affiliate, nil
}
