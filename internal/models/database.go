package models

import (
	"fmt"
	"strings"

	"github.com/huangang/codereview-ai/backend/internal/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// Open connects to the configured database without touching the package
// level handle. Tests use it to get isolated databases.
func Open(cfg *config.DatabaseConfig, debug bool) (*gorm.DB, error) {
	var dialector gorm.Dialector

	switch cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(sqliteDSN(cfg.DSN))
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	level := logger.Warn
	if debug {
		level = logger.Info
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(level),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	if cfg.Driver == "sqlite" {
		// sqlite allows a single writer; serialising on one connection
		// avoids SQLITE_BUSY under the worker pool.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	return db, nil
}

func InitDB(cfg *config.DatabaseConfig, debug bool) error {
	db, err := Open(cfg, debug)
	if err != nil {
		return err
	}
	DB = db
	return nil
}

// sqliteDSN turns on foreign key enforcement so ON DELETE CASCADE holds.
func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "_foreign_keys") || strings.Contains(dsn, "_fk") {
		return dsn
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&_foreign_keys=on"
	}
	return dsn + "?_foreign_keys=on"
}

func AutoMigrate() error {
	return Migrate(DB)
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Review{},
		&Issue{},
		&SystemLog{},
		&SchedulerLock{},
	)
}

func GetDB() *gorm.DB {
	return DB
}
