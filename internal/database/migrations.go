package database

import (
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/quantleap/tradecrm/internal/models"
	"github.com/quantleap/tradecrm/pkg/crypto"
	"github.com/quantleap/tradecrm/pkg/logger"
)

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.MFASecret{},
		&models.Session{},
		&models.Permission{},
		&models.RoleDefaultPermission{},
		&models.UserPermission{},
		&models.Affiliate{},
		&models.AffiliateSecret{},
		&models.OutboxMessage{},
		&models.CacheEntry{},
	)
}

// SeedData inserts the bootstrap administrator when no user exists yet. The
// one-time password is logged at warn level; operators must rotate it on
// first login.
func SeedData(db *gorm.DB) error {
	if db == nil {
		return errors.New("nil database handle")
	}

	var count int64
	if err := db.Model(&models.User{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	password, err := crypto.GenerateToken(18)
	if err != nil {
		return err
	}
	hash, err := crypto.HashPassword(password)
	if err != nil {
		return err
	}

	admin := models.User{
		Username: "admin",
		Email:    "admin@localhost",
		Password: hash,
		Role:     models.RoleAdmin,
		IsActive: true,
	}
	if err := db.Create(&admin).Error; err != nil {
		return err
	}

	logger.WithModule("database").Warn("seeded bootstrap administrator",
		zap.String("username", admin.Username),
		zap.String("password", password),
	)
	return nil
}
