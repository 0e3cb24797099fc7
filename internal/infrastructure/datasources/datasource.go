package datasources

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xo/dburl"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"referral-tracker.backend/internal/infrastructure/datasources/postgres"
	"referral-tracker.backend/internal/infrastructure/models"
)

// ErrUnsupportedDriver is returned for URLs whose scheme parses but has no
// GORM dialector wired here.
var ErrUnsupportedDriver = errors.New("unsupported database driver")

var (
	openPostgres = postgres.NewConnection
	openMySQL    = func(dsn string, cfg *gorm.Config) (*gorm.DB, error) {
		return gorm.Open(mysql.Open(dsn), cfg)
	}
	openSQLite = func(dsn string, cfg *gorm.Config) (*gorm.DB, error) {
		return gorm.Open(sqlite.Open(dsn), cfg)
	}
)

// Open connects to the store named by a DATABASE_URL style connection
// string. postgres://, mysql:// and sqlite:/file: schemes are accepted.
func Open(rawURL string) (*gorm.DB, error) {
	u, err := dburl.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid database url: %w", err)
	}

	cfg := &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
	}

	switch u.Driver {
	case "postgres", "pgx":
		return openPostgres(u.DSN, cfg)
	case "mysql":
		return openMySQL(mysqlDSN(u.DSN), cfg)
	case "sqlite3", "sqlite", "moderncsqlite":
		db, err := openSQLite(u.DSN, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		// sqlite allows a single writer
		sqlDB.SetMaxOpenConns(1)
		return db, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDriver, u.Driver)
	}
}

// Migrate creates or updates the users table and its indexes.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.User{}); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

// created_at is scanned into time.Time, which go-sql-driver only does with
// parseTime enabled.
func mysqlDSN(dsn string) string {
	if strings.Contains(dsn, "parseTime=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "parseTime=true"
}
