package permissions

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/quantleap/tradecrm/internal/models"
)

// Sync reconciles the compiled descriptor registry against the permission and
// role-default tables. Catalog rows are upserted by identity triple and never
// deleted: removing a row would shift bit positions and break every
// outstanding token. When a catalog handle is supplied its snapshot is
// invalidated after a successful reconciliation.
func Sync(ctx context.Context, db *gorm.DB, catalog *Catalog) error {
	if db == nil {
		return errors.New("permission sync: db is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	descriptors := All()
	if len(descriptors) == 0 {
		return nil
	}

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, desc := range descriptors {
			record := models.Permission{
				Section:      desc.Section,
				Title:        desc.Title,
				ActionType:   desc.ActionType,
				Order:        desc.Order,
				Description:  desc.Description,
				AllowedRoles: strings.Join(desc.AllowedRoles, ","),
			}

			if err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{
					{Name: "section"}, {Name: "title"}, {Name: "action_type"},
				},
				DoUpdates: clause.AssignmentColumns([]string{"bit_order", "description", "allowed_roles"}),
			}).Create(&record).Error; err != nil {
				return fmt.Errorf("permission sync: upsert %s: %w", desc.Key(), err)
			}
		}

		return reconcileRoleDefaults(tx, descriptors)
	})
	if err != nil {
		return err
	}

	if catalog != nil {
		catalog.Invalidate()
	}
	return nil
}

// reconcileRoleDefaults aligns role_default_permissions with the declared
// AllowedRoles: missing links are created, links for roles a descriptor no
// longer names are removed.
func reconcileRoleDefaults(tx *gorm.DB, descriptors []*Descriptor) error {
	var perms []models.Permission
	if err := tx.Find(&perms).Error; err != nil {
		return fmt.Errorf("permission sync: load catalog: %w", err)
	}

	idByKey := make(map[string]string, len(perms))
	for i := range perms {
		idByKey[perms[i].Key()] = perms[i].ID
	}

	for _, desc := range descriptors {
		permID, ok := idByKey[desc.Key()]
		if !ok {
			return fmt.Errorf("permission sync: %s missing after upsert", desc.Key())
		}

		declared := make(map[string]struct{}, len(desc.AllowedRoles))
		for _, role := range desc.AllowedRoles {
			declared[strings.ToLower(role)] = struct{}{}

			link := models.RoleDefaultPermission{
				Role:         role,
				PermissionID: permID,
			}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "role"}, {Name: "permission_id"}},
				DoNothing: true,
			}).Create(&link).Error; err != nil {
				return fmt.Errorf("permission sync: link %s to %s: %w", role, desc.Key(), err)
			}
		}

		var existing []models.RoleDefaultPermission
		if err := tx.Where("permission_id = ?", permID).Find(&existing).Error; err != nil {
			return fmt.Errorf("permission sync: load defaults for %s: %w", desc.Key(), err)
		}
		for _, link := range existing {
			if _, ok := declared[strings.ToLower(link.Role)]; ok {
				continue
			}
			if err := tx.Delete(&models.RoleDefaultPermission{}, "id = ?", link.ID).Error; err != nil {
				return fmt.Errorf("permission sync: unlink %s from %s: %w", link.Role, desc.Key(), err)
			}
		}
	}

	return nil
}
