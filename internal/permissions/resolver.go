package permissions

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/quantleap/tradecrm/internal/models"
)

// Resolver computes effective permission sets and translates them to and from
// the binary representation carried inside access tokens.
type Resolver struct {
	db      *gorm.DB
	catalog *Catalog
	now     func() time.Time
}

// ResolverOption customises the resolver.
type ResolverOption func(*Resolver)

// WithClock injects a custom clock, primarily for testing grant expiry.
func WithClock(clock func() time.Time) ResolverOption {
	return func(r *Resolver) {
		if clock != nil {
			r.now = clock
		}
	}
}

// NewResolver constructs a resolver backed by the provided database and catalog.
func NewResolver(db *gorm.DB, catalog *Catalog, opts ...ResolverOption) (*Resolver, error) {
	if db == nil {
		return nil, errors.New("permission resolver: db is required")
	}
	if catalog == nil {
		return nil, errors.New("permission resolver: catalog is required")
	}

	r := &Resolver{db: db, catalog: catalog, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// GetUserPermissions returns the user's effective permission set: role
// defaults unioned with active, non-expired explicit grants, deduplicated by
// identity. An unknown user yields an empty set, not an error; callers must
// treat empty as deny-all.
func (r *Resolver) GetUserPermissions(ctx context.Context, userID string) ([]models.Permission, error) {
	ctx = ensureContext(ctx)

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errors.New("permission resolver: user id is required")
	}

	var user models.User
	if err := r.db.WithContext(ctx).First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("permission resolver: load user: %w", err)
	}

	var defaults []models.RoleDefaultPermission
	if err := r.db.WithContext(ctx).
		Preload("Permission").
		Where("LOWER(role) = ?", strings.ToLower(user.Role)).
		Find(&defaults).Error; err != nil {
		return nil, fmt.Errorf("permission resolver: load role defaults: %w", err)
	}

	var grants []models.UserPermission
	if err := r.db.WithContext(ctx).
		Preload("Permission").
		Where("user_id = ? AND is_granted = ?", userID, true).
		Find(&grants).Error; err != nil {
		return nil, fmt.Errorf("permission resolver: load user grants: %w", err)
	}

	now := r.now()
	seen := make(map[string]struct{})
	var effective []models.Permission

	for _, link := range defaults {
		if link.Permission == nil {
			continue
		}
		key := link.Permission.Key()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		effective = append(effective, *link.Permission)
	}

	for _, grant := range grants {
		if grant.Permission == nil || grant.IsExpired(now) {
			continue
		}
		key := grant.Permission.Key()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		effective = append(effective, *grant.Permission)
	}

	return effective, nil
}

// EncodeBinary renders the supplied permission set as a '0'/'1' string with
// one position per catalog entry, ordered by ascending bit order. The output
// ordering is the contract HasPermissionFromBinary depends on.
func (r *Resolver) EncodeBinary(ctx context.Context, perms []models.Permission) (string, error) {
	ctx = ensureContext(ctx)

	catalog, err := r.catalog.All(ctx)
	if err != nil {
		return "", err
	}

	granted := make(map[string]struct{}, len(perms))
	for i := range perms {
		granted[perms[i].Key()] = struct{}{}
	}

	bits := make([]byte, len(catalog))
	for i := range catalog {
		if _, ok := granted[catalog[i].Key()]; ok {
			bits[i] = '1'
		} else {
			bits[i] = '0'
		}
	}
	return string(bits), nil
}

// EncodeUserBinary resolves the user's effective set and encodes it in one
// step. This is the snapshot embedded at token issuance.
func (r *Resolver) EncodeUserBinary(ctx context.Context, userID string) (string, error) {
	perms, err := r.GetUserPermissions(ctx, userID)
	if err != nil {
		return "", err
	}
	return r.EncodeBinary(ctx, perms)
}

// HasPermissionFromBinary checks one permission against an encoded string.
// The input may be raw bits or base64-wrapped bits; anything else, an unknown
// identity triple, or an out-of-range index resolves to false, never an error.
func (r *Resolver) HasPermissionFromBinary(ctx context.Context, binary, section, title, actionType string) bool {
	ctx = ensureContext(ctx)

	bits, ok := normalizeBinary(binary)
	if !ok {
		return false
	}

	idx, found, err := r.catalog.IndexOf(ctx, section, title, actionType)
	if err != nil || !found {
		return false
	}
	if idx < 0 || idx >= len(bits) {
		return false
	}
	return bits[idx] == '1'
}

// HasPermission is the slow path: it recomputes the effective set and scans it
// case-insensitively. Used when the caller has no binary claim to decode.
func (r *Resolver) HasPermission(ctx context.Context, userID, section, title, actionType string) (bool, error) {
	perms, err := r.GetUserPermissions(ctx, userID)
	if err != nil {
		return false, err
	}

	key := models.PermissionKey(section, title, actionType)
	for i := range perms {
		if perms[i].Key() == key {
			return true, nil
		}
	}
	return false, nil
}

// normalizeBinary accepts either a plain '0'/'1' string or its base64
// wrapping. A string of '0'/'1' characters can itself be valid base64, so the
// decoded form is only trusted when it still looks like a bitstring.
func normalizeBinary(binary string) (string, bool) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		return "", false
	}

	if isBitstring(binary) {
		return binary, true
	}

	decoded, err := base64.StdEncoding.DecodeString(binary)
	if err != nil {
		return "", false
	}
	if !isBitstring(string(decoded)) {
		return "", false
	}
	return string(decoded), true
}

func isBitstring(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] != '0' && s[i] != '1' {
			return false
		}
	}
	return true
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}
