package database

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"cms-backend/internal/config"
	"cms-backend/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

const sqlitePrefix = "sqlite://"

// Open connects using cfg.DatabaseDSN. A "sqlite://" prefix selects the SQLite
// driver (local development and tests); anything else is a PostgreSQL DSN.
func Open(cfg *config.Config, log *logrus.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	if strings.HasPrefix(cfg.DatabaseDSN, sqlitePrefix) {
		dialector = sqlite.Open(strings.TrimPrefix(cfg.DatabaseDSN, sqlitePrefix))
	} else {
		dialector = postgres.Open(cfg.DatabaseDSN)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger: logger.New(log, logger.Config{
			SlowThreshold:             500 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if IsSQLite(db) {
		// One connection keeps an in-memory database alive and serializes writers.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return db, nil
}

// Migrate creates or updates the schema. Order matters for foreign keys.
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.User{},
		&models.Branch{},
		&models.UserBranchLink{},
		&models.PasswordResetToken{},
		&models.AuditLog{},
	)
	if err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

func IsSQLite(db *gorm.DB) bool {
	return db.Dialector.Name() == "sqlite"
}

// ForUpdate row-locks the selected rows for the rest of the transaction.
// SQLite has no row locks; its single writer already serializes.
func ForUpdate(tx *gorm.DB) *gorm.DB {
	if IsSQLite(tx) {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate})
}

// ForShare takes a shared row lock that conflicts with ForUpdate.
func ForShare(tx *gorm.DB) *gorm.DB {
	if IsSQLite(tx) {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: clause.LockingStrengthShare})
}

// Serializable returns transaction options for read-then-insert flows that
// cannot be expressed as a row lock.
func Serializable(db *gorm.DB) []*sql.TxOptions {
	if IsSQLite(db) {
		return nil
	}
	return []*sql.TxOptions{{Isolation: sql.LevelSerializable}}
}
