package db

import (
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Open connects to the database described by the DSN. PostgreSQL DSNs use the
// pgx driver; "sqlite://" DSNs and bare file paths fall back to SQLite, which
// the test suite relies on.
func Open(dsn string) (*gorm.DB, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("db: empty dsn")
	}

	gormCfg := &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	}

	var (
		conn *gorm.DB
		err  error
	)
	switch {
	case strings.HasPrefix(dsn, "sqlite://"):
		conn, err = gorm.Open(sqlite.Open(strings.TrimPrefix(dsn, "sqlite://")), gormCfg)
	case strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host="):
		conn, err = gorm.Open(postgres.Open(dsn), gormCfg)
	default:
		conn, err = gorm.Open(sqlite.Open(dsn), gormCfg)
	}
	if err != nil {
		return nil, fmt.Errorf("db: open: %w", err)
	}

	sqlDB, errDB := conn.DB()
	if errDB != nil {
		return nil, fmt.Errorf("db: raw handle: %w", errDB)
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return conn, nil
}
