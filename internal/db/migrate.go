package db

import (
	"fmt"

	"github.com/WonderhoyTeam/AntiHub-Backend/internal/models"
	"gorm.io/gorm"
)

// Migrate creates or updates every table owned by the service.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	if errMigrate := conn.AutoMigrate(
		&models.User{},
		&models.APIKey{},
		&models.Credential{},
		&models.CredentialQuota{},
		&models.SharedQuotaPool{},
		&models.ConsumptionLog{},
		&models.Setting{},
	); errMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errMigrate)
	}
	return nil
}
