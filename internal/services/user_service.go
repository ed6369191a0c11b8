package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"gorm.io/gorm"

	"github.com/quantleap/tradecrm/internal/models"
	"github.com/quantleap/tradecrm/pkg/crypto"
	apperrors "github.com/quantleap/tradecrm/pkg/errors"
)

var (
	// ErrUserNotFound indicates the requested user does not exist.
	ErrUserNotFound = apperrors.New("USER_NOT_FOUND", "User not found", http.StatusNotFound)
	// ErrUnknownRole rejects role assignments outside the known set.
	ErrUnknownRole = apperrors.New("USER_UNKNOWN_ROLE", "Unknown role", http.StatusBadRequest)
)

// CreateUserInput describes the fields accepted when creating a user.
type CreateUserInput struct {
	Username  string
	Email     string
	Password  string
	FirstName string
	LastName  string
	Role      string
	IsActive  *bool
}

// UpdateUserInput enumerates mutable user attributes.
type UpdateUserInput struct {
	Username  *string
	Email     *string
	FirstName *string
	LastName  *string
}

// UserFilters captures listing filters.
type UserFilters struct {
	IsActive *bool
	Role     string
	Query    string
}

// ListUsersOptions controls pagination for user listing.
type ListUsersOptions struct {
	Page     int
	PageSize int
	Filters  UserFilters
}

// UserService manages CRUD lifecycle for users including activation and role changes.
type UserService struct {
	db *gorm.DB
}

// NewUserService constructs a UserService instance.
func NewUserService(db *gorm.DB) (*UserService, error) {
	if db == nil {
		return nil, errors.New("user service: db is required")
	}
	return &UserService{db: db}, nil
}

func knownRole(role string) bool {
	switch role {
	case models.RoleAdmin, models.RoleManager, models.RoleUser, models.RoleAffiliate:
		return true
	}
	return false
}

// Create provisions a new user with a hashed password.
func (s *UserService) Create(ctx context.Context, input CreateUserInput) (*models.User, error) {
	ctx = ensureContext(ctx)

	username := strings.TrimSpace(input.Username)
	email := strings.ToLower(strings.TrimSpace(input.Email))
	if username == "" {
		return nil, apperrors.NewBadRequest("username is required")
	}
	if email == "" {
		return nil, apperrors.NewBadRequest("email is required")
	}
	if strings.TrimSpace(input.Password) == "" {
		return nil, apperrors.NewBadRequest("password is required")
	}

	role := strings.TrimSpace(input.Role)
	if role == "" {
		role = models.RoleUser
	}
	if !knownRole(role) {
		return nil, ErrUnknownRole
	}

	hashed, err := crypto.HashPassword(input.Password)
	if err != nil {
		return nil, fmt.Errorf("user service: hash password: %w", err)
	}

	user := &models.User{
		Username:  username,
		Email:     email,
		Password:  hashed,
		FirstName: strings.TrimSpace(input.FirstName),
		LastName:  strings.TrimSpace(input.LastName),
		Role:      role,
		IsActive:  true,
	}

	if input.IsActive != nil {
		user.IsActive = *input.IsActive
	}

	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, apperrors.NewBadRequest("username or email already exists")
		}
		return nil, fmt.Errorf("user service: create user: %w", err)
	}

	return user, nil
}

// GetByID loads a user by identifier.
func (s *UserService) GetByID(ctx context.Context, id string) (*models.User, error) {
	ctx = ensureContext(ctx)

	var user models.User
	err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("user service: get user: %w", err)
	}
	return &user, nil
}

// List retrieves users matching the supplied filters with pagination.
func (s *UserService) List(ctx context.Context, opts ListUsersOptions) ([]models.User, int64, error) {
	ctx = ensureContext(ctx)

	page := opts.Page
	if page <= 0 {
		page = 1
	}
	perPage := opts.PageSize
	if perPage <= 0 || perPage > 200 {
		perPage = 50
	}

	query := s.db.WithContext(ctx).Model(&models.User{})
	if opts.Filters.IsActive != nil {
		query = query.Where("is_active = ?", *opts.Filters.IsActive)
	}
	if role := strings.TrimSpace(opts.Filters.Role); role != "" {
		query = query.Where("LOWER(role) = ?", strings.ToLower(role))
	}
	if q := strings.TrimSpace(opts.Filters.Query); q != "" {
		pattern := "%" + strings.ToLower(q) + "%"
		query = query.Where("LOWER(username) LIKE ? OR LOWER(email) LIKE ?", pattern, pattern)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("user service: count users: %w", err)
	}

	var users []models.User
	if err := query.
		Order("created_at DESC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&users).Error; err != nil {
		return nil, 0, fmt.Errorf("user service: list users: %w", err)
	}

	return users, total, nil
}

// Update persists mutable attributes for an existing user.
func (s *UserService) Update(ctx context.Context, id string, input UpdateUserInput) (*models.User, error) {
	ctx = ensureContext(ctx)

	var user models.User
	err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("user service: load user: %w", err)
	}

	updates := map[string]any{}

	if input.Username != nil {
		if name := strings.TrimSpace(*input.Username); name != "" && name != user.Username {
			updates["username"] = name
		}
	}
	if input.Email != nil {
		if email := strings.ToLower(strings.TrimSpace(*input.Email)); email != "" && email != user.Email {
			updates["email"] = email
		}
	}
	if input.FirstName != nil {
		updates["first_name"] = strings.TrimSpace(*input.FirstName)
	}
	if input.LastName != nil {
		updates["last_name"] = strings.TrimSpace(*input.LastName)
	}

	if len(updates) == 0 {
		return &user, nil
	}

	if err := s.db.WithContext(ctx).Model(&user).Updates(updates).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, apperrors.NewBadRequest("username or email already exists")
		}
		return nil, fmt.Errorf("user service: update user: %w", err)
	}

	if err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("user service: reload user: %w", err)
	}

	return &user, nil
}

// SetRole changes the user's role. Callers should refresh or revoke the
// user's sessions afterwards; outstanding tokens keep the old bitstring
// until then.
func (s *UserService) SetRole(ctx context.Context, id, role string) (*models.User, error) {
	ctx = ensureContext(ctx)

	role = strings.TrimSpace(role)
	if !knownRole(role) {
		return nil, ErrUnknownRole
	}

	var user models.User
	err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("user service: load user: %w", err)
	}

	if user.Role == role {
		return &user, nil
	}

	if err := s.db.WithContext(ctx).Model(&user).Update("role", role).Error; err != nil {
		return nil, fmt.Errorf("user service: set role: %w", err)
	}
	user.Role = role

	return &user, nil
}

// SetActive toggles the user's active flag.
func (s *UserService) SetActive(ctx context.Context, id string, active bool) error {
	ctx = ensureContext(ctx)

	result := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", id).
		Update("is_active", active)
	if result.Error != nil {
		return fmt.Errorf("user service: set active: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// Delete soft deletes a user.
func (s *UserService) Delete(ctx context.Context, id string) error {
	ctx = ensureContext(ctx)

	result := s.db.WithContext(ctx).Delete(&models.User{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("user service: delete user: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}
