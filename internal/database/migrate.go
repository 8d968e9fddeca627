package database

import (
	"spportal/internal/models"
	"spportal/pkg/logger"
)

// Migrate 执行门户数据库迁移
func Migrate() error {
	appLogger := logger.GetLogger()
	appLogger.Info("Starting database migration...")

	err := DB.AutoMigrate(
		&models.ProviderMapping{},
		&models.SyncLog{},
	)

	if err != nil {
		appLogger.Errorf("Database migration failed: %v", err)
		return err
	}

	appLogger.Info("Database migration completed successfully")
	return nil
}
