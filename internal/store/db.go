// Package store owns the homewatch database: the alert ledger and the
// network sample store. The schema is migrated once at process start;
// every ledger/sample operation afterwards is a self-contained statement
// or short transaction.
package store

import (
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"github.com/vesaa/homewatch/internal/config"
	"github.com/vesaa/homewatch/internal/logger"
	"github.com/vesaa/homewatch/internal/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// sqlitePragmas mirror what the probing host needs: WAL so dashboard reads
// don't block the loops, and a busy timeout instead of immediate SQLITE_BUSY.
const sqlitePragmas = "_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"

// Open opens the configured database. It does not migrate.
func Open(cfg *config.Config) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.DBDriver {
	case "sqlite", "":
		dialector = sqlite.Open(sqliteDSN(cfg.DBPath))
	case "postgres":
		if cfg.DBDSN == "" {
			return nil, fmt.Errorf("db_driver postgres requires db_dsn")
		}
		dialector = postgres.Open(cfg.DBDSN)
	default:
		return nil, fmt.Errorf("unsupported db_driver %q (use 'sqlite' or 'postgres')", cfg.DBDriver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if cfg.DBDriver == "sqlite" || cfg.DBDriver == "" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		// single writer connection; SQLite serializes writes anyway
		sqlDB.SetMaxOpenConns(1)
	}

	logger.Infof("[db] opened %s %s", driverName(cfg.DBDriver), cfg.DBPath)
	return db, nil
}

func sqliteDSN(path string) string {
	if strings.Contains(path, "?") {
		return path + "&" + sqlitePragmas
	}
	return path + "?" + sqlitePragmas
}

func driverName(d string) string {
	if d == "" {
		return "sqlite"
	}
	return d
}

// Migrate creates or updates the schema. Call it once at startup.
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.Alert{},
		&models.DeviceStatus{},
		&models.DeviceHistory{},
		&models.ServiceStatus{},
		&models.ServiceHistory{},
		&models.ProbeRun{},
	)
	if err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}

	// At most one active alert per key. Cleared rows fall outside the
	// partial index so history can hold any number of them.
	if err := db.Exec(
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_alerts_key_active ON alerts (dedup_key) WHERE active = true",
	).Error; err != nil {
		return fmt.Errorf("creating active alert index: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
