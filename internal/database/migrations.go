package database

import (
	"errors"

	"gorm.io/gorm"

	"github.com/uconnect/uconnect/internal/models"
)

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	if db == nil {
		return errors.New("nil database handle")
	}
	return db.AutoMigrate(
		&models.Account{},
		&models.Post{},
		&models.PostLike{},
		&models.Comment{},
		&models.AuditLog{},
		&models.CacheEntry{},
	)
}
