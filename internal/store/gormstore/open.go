package gormstore

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/MarkoPoloResearchLab/gitsats/pkg/reward"
	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	schemePostgres   = "postgres"
	schemePostgreSQL = "postgresql"
	schemeSQLite     = "sqlite"
)

// Dialector selects the gorm driver for databaseURL. postgres:// and
// postgresql:// urls go to the postgres driver; sqlite://<path> opens a file.
func Dialector(databaseURL string) (gorm.Dialector, error) {
	trimmed := strings.TrimSpace(databaseURL)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: database url is required", reward.ErrInvalidConfig)
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: database url: %v", reward.ErrInvalidConfig, err)
	}
	switch strings.ToLower(parsed.Scheme) {
	case schemePostgres, schemePostgreSQL:
		return postgres.Open(trimmed), nil
	case schemeSQLite:
		path := parsed.Host + parsed.Path
		if path == "" {
			return nil, fmt.Errorf("%w: sqlite url %q names no file", reward.ErrInvalidConfig, trimmed)
		}
		return sqlite.Open(path), nil
	default:
		return nil, fmt.Errorf("%w: unsupported database scheme %q", reward.ErrInvalidConfig, parsed.Scheme)
	}
}

// Open connects to databaseURL, migrates the events table and returns the Store
// with a function releasing the connection pool.
func Open(databaseURL string) (*Store, func() error, error) {
	dialector, err := Dialector(databaseURL)
	if err != nil {
		return nil, nil, err
	}
	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, nil, fmt.Errorf("database open: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, fmt.Errorf("database handle: %w", err)
	}
	if err := Migrate(db); err != nil {
		_ = sqlDB.Close()
		return nil, nil, fmt.Errorf("auto migrate: %w", err)
	}
	return New(db), sqlDB.Close, nil
}
