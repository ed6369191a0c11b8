package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/quantleap/tradecrm/internal/auditctx"
	"github.com/quantleap/tradecrm/internal/events"
	"github.com/quantleap/tradecrm/internal/models"
	"github.com/quantleap/tradecrm/internal/outbox"
	"github.com/quantleap/tradecrm/internal/permissions"
	apperrors "github.com/quantleap/tradecrm/pkg/errors"
)

var (
	// ErrPermissionNotFound indicates the referenced catalog entry does not exist.
	ErrPermissionNotFound = apperrors.New("PERMISSION_NOT_FOUND", "Permission not found", http.StatusNotFound)
	// ErrGrantNotFound indicates no active grant exists for the (user, permission) pair.
	ErrGrantNotFound = apperrors.New("PERMISSION_GRANT_NOT_FOUND", "Permission grant not found", http.StatusNotFound)
)

// GrantInput describes an explicit per-user grant request.
type GrantInput struct {
	UserID       string
	PermissionID string
	GrantedBy    string
	ExpiresAt    *time.Time
}

// PermissionService manages the permission catalog surface and per-user
// grants. Every mutation stages its domain event in the grant transaction.
type PermissionService struct {
	db       *gorm.DB
	resolver *permissions.Resolver
	now      func() time.Time
}

// PermissionServiceOption customises the service.
type PermissionServiceOption func(*PermissionService)

// WithPermissionClock injects a custom clock for tests.
func WithPermissionClock(clock func() time.Time) PermissionServiceOption {
	return func(s *PermissionService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// NewPermissionService constructs a PermissionService.
func NewPermissionService(db *gorm.DB, resolver *permissions.Resolver, opts ...PermissionServiceOption) (*PermissionService, error) {
	if db == nil {
		return nil, errors.New("permission service: db is required")
	}
	if resolver == nil {
		return nil, errors.New("permission service: resolver is required")
	}

	s := &PermissionService{db: db, resolver: resolver, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ListCatalog returns every catalog entry ordered by bit position.
func (s *PermissionService) ListCatalog(ctx context.Context) ([]models.Permission, error) {
	ctx = ensureContext(ctx)

	var perms []models.Permission
	if err := s.db.WithContext(ctx).Order("bit_order ASC").Find(&perms).Error; err != nil {
		return nil, fmt.Errorf("permission service: list catalog: %w", err)
	}
	return perms, nil
}

// ListUserGrants returns the user's explicit grants, newest first, with the
// catalog entry preloaded.
func (s *PermissionService) ListUserGrants(ctx context.Context, userID string) ([]models.UserPermission, error) {
	ctx = ensureContext(ctx)

	var grants []models.UserPermission
	if err := s.db.WithContext(ctx).
		Preload("Permission").
		Where("user_id = ?", userID).
		Order("granted_at DESC").
		Find(&grants).Error; err != nil {
		return nil, fmt.Errorf("permission service: list grants: %w", err)
	}
	return grants, nil
}

// EffectivePermissions resolves the user's effective set along with its
// binary encoding.
func (s *PermissionService) EffectivePermissions(ctx context.Context, userID string) ([]models.Permission, string, error) {
	ctx = ensureContext(ctx)

	perms, err := s.resolver.GetUserPermissions(ctx, userID)
	if err != nil {
		return nil, "", err
	}
	binary, err := s.resolver.EncodeBinary(ctx, perms)
	if err != nil {
		return nil, "", err
	}
	return perms, binary, nil
}

// Grant records an explicit grant for the user. At most one active grant row
// exists per (user, permission) pair: re-granting updates the existing row's
// expiry and attribution instead of inserting a duplicate.
func (s *PermissionService) Grant(ctx context.Context, input GrantInput) (*models.UserPermission, error) {
	ctx = ensureContext(ctx)

	userID := strings.TrimSpace(input.UserID)
	permissionID := strings.TrimSpace(input.PermissionID)
	if userID == "" || permissionID == "" {
		return nil, apperrors.NewBadRequest("user id and permission id are required")
	}

	grantedBy := strings.TrimSpace(input.GrantedBy)
	if grantedBy == "" {
		if actor, ok := auditctx.FromContext(ctx); ok {
			grantedBy = actor.UserID
		}
	}
	if input.ExpiresAt != nil && !input.ExpiresAt.After(s.now()) {
		return nil, apperrors.NewBadRequest("expiry must be in the future")
	}

	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("permission service: load user: %w", err)
	}

	var permission models.Permission
	if err := s.db.WithContext(ctx).First(&permission, "id = ?", permissionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPermissionNotFound
		}
		return nil, fmt.Errorf("permission service: load permission: %w", err)
	}

	now := s.now()
	var grant models.UserPermission

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("user_id = ? AND permission_id = ?", userID, permissionID).
			Take(&grant).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			grant = models.UserPermission{
				UserID:       userID,
				PermissionID: permissionID,
				IsGranted:    true,
				GrantedAt:    now,
				GrantedBy:    grantedBy,
				ExpiresAt:    input.ExpiresAt,
			}
			if err := tx.Create(&grant).Error; err != nil {
				// A concurrent grant won the insert; the pair index makes
				// this a conflict rather than a duplicate row.
				if isUniqueConstraintError(err) {
					return apperrors.New("GRANT_CONFLICT", "Permission already granted", http.StatusConflict)
				}
				return fmt.Errorf("permission service: create grant: %w", err)
			}
		case err != nil:
			return fmt.Errorf("permission service: load grant: %w", err)
		default:
			updates := map[string]any{
				"is_granted": true,
				"granted_at": now,
				"granted_by": grantedBy,
				"expires_at": input.ExpiresAt,
			}
			if err := tx.Model(&grant).Updates(updates).Error; err != nil {
				return fmt.Errorf("permission service: update grant: %w", err)
			}
			grant.IsGranted = true
			grant.GrantedAt = now
			grant.GrantedBy = grantedBy
			grant.ExpiresAt = input.ExpiresAt
		}

		evt := events.PermissionGranted{
			Base:         events.NewBase(),
			UserID:       userID,
			PermissionID: permissionID,
			Section:      permission.Section,
			Title:        permission.Title,
			ActionType:   permission.ActionType,
			GrantedBy:    grantedBy,
			ExpiresAt:    input.ExpiresAt,
		}
		return outbox.Stage(tx, evt)
	})
	if err != nil {
		return nil, err
	}

	grant.Permission = &permission
	return &grant, nil
}

// Revoke removes an explicit grant.
func (s *PermissionService) Revoke(ctx context.Context, userID, permissionID, revokedBy string) error {
	ctx = ensureContext(ctx)

	userID = strings.TrimSpace(userID)
	permissionID = strings.TrimSpace(permissionID)
	if userID == "" || permissionID == "" {
		return apperrors.NewBadRequest("user id and permission id are required")
	}

	revokedBy = strings.TrimSpace(revokedBy)
	if revokedBy == "" {
		if actor, ok := auditctx.FromContext(ctx); ok {
			revokedBy = actor.UserID
		}
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("user_id = ? AND permission_id = ?", userID, permissionID).
			Delete(&models.UserPermission{})
		if result.Error != nil {
			return fmt.Errorf("permission service: delete grant: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrGrantNotFound
		}

		evt := events.PermissionRevoked{
			Base:         events.NewBase(),
			UserID:       userID,
			PermissionID: permissionID,
			RevokedBy:    revokedBy,
		}
		return outbox.Stage(tx, evt)
	})
}
