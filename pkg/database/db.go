package database

import (
	"fmt"

	"anoa.com/reviewfeed/internal/entity"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Connect opens the Postgres database behind dsn.
func Connect(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}
	return db, nil
}

// Migrate creates the tables the service owns.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&entity.ProcessedEvent{},
	)
}
