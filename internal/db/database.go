package db

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"crowdscope/config"
	"crowdscope/internal/core/models"

	"github.com/glebarez/sqlite" // Pure Go SQLite Treiber
	log "github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Initialize öffnet die Datenbank (SQLite oder PostgreSQL) und migriert das Schema
func Initialize(cfg config.DBConfig) (*gorm.DB, error) {
	gormLogger := logger.New(
		log.StandardLogger(),
		logger.Config{
			SlowThreshold:             time.Second * 2,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	var dialector gorm.Dialector
	switch cfg.Driver {
	case "", "sqlite":
		if cfg.File != "" && cfg.File != ":memory:" {
			dbDir := filepath.Dir(cfg.File)
			if err := os.MkdirAll(dbDir, 0750); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		log.Infof("Connecting to SQLite database: %s", cfg.File)
		dialector = sqlite.Open(cfg.File)
	case "postgres":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("postgres driver selected but no DSN configured")
		}
		log.Info("Connecting to PostgreSQL database")
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	database, err := gorm.Open(dialector, &gorm.Config{Logger: gormLogger})
	if err != nil {
		log.Errorf("Failed to connect to database: %v", err)
		return nil, fmt.Errorf("database connection failed: %w", err)
	}

	sqlDB, err := database.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database connection: %w", err)
	}
	if cfg.Driver == "postgres" {
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(50)
	} else {
		// SQLite erlaubt nur einen Schreiber
		sqlDB.SetMaxOpenConns(1)
	}
	sqlDB.SetConnMaxLifetime(time.Hour)

	log.Info("Database connection established successfully")

	if err := Migrate(database); err != nil {
		return nil, err
	}
	return database, nil
}

// Migrate legt die Tabellen an bzw. passt sie an
func Migrate(database *gorm.DB) error {
	log.Info("Running database migrations...")
	if err := database.AutoMigrate(
		&models.Analysis{},
		&models.CrowdAlert{},
		&models.OccupancyLog{},
	); err != nil {
		log.Errorf("Database migration failed: %v", err)
		return fmt.Errorf("database migration failed: %w", err)
	}
	log.Info("Database migrations completed successfully")
	return nil
}

// Close schließt die Verbindung
func Close(database *gorm.DB) error {
	sqlDB, err := database.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
