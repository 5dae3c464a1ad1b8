package postgres

import (
	"github.com/dom/presence-registry/internal/repository"
	"github.com/juju/clock"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func NewConnection(databaseURL string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(databaseURL), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Info),
	})
	if err != nil {
		return nil, err
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	return db, nil
}

// Migrate creates or updates the presence tables.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&connectionRow{},
		&activityRow{},
	)
}

func NewRepositories(db *gorm.DB, clk clock.Clock, opts repository.Options) *repository.Repositories {
	return &repository.Repositories{
		Connection: NewConnectionRepository(db, clk, opts.ConnectionTTL),
		Activity:   NewActivityRepository(db, clk, opts.ActivityRetentionMonths),
	}
}
