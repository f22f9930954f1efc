// Package store provides the best-effort blob persistence used for task
// checkpoints and history. Blobs are named byte slices; there are no
// transactional guarantees across names.
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrUnsupportedDriver is returned by Open for an unknown driver name.
var ErrUnsupportedDriver = errors.New("store: unsupported driver")

// Driver names accepted by Open.
const (
	DriverSQLite   = "sqlite"  // modernc.org/sqlite, pure Go
	DriverSQLite3  = "sqlite3" // mattn/go-sqlite3, cgo
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
	DriverMemory   = "memory"
)

// Store loads and saves named blobs.
type Store interface {
	// Load returns the blob stored under name, or nil with no error if none exists.
	Load(ctx context.Context, name string) ([]byte, error)
	// Save replaces the blob stored under name.
	Save(ctx context.Context, name string, data []byte) error
	// Close releases the underlying connection.
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Driver        string `mapstructure:"driver" validate:"oneof=sqlite sqlite3 postgres redis memory"`
	Path          string `mapstructure:"path"`
	DSN           string `mapstructure:"dsn" validate:"required_if=Driver postgres"`
	RedisAddr     string `mapstructure:"redis_addr" validate:"required_if=Driver redis"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db" validate:"gte=0"`
}

// DefaultPath returns the default SQLite database path.
func DefaultPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "quill", "quill.db")
}

// Open creates the backend named by cfg.Driver.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case DriverSQLite, DriverSQLite3, "":
		driver := cfg.Driver
		if driver == "" {
			driver = DriverSQLite
		}
		path := cfg.Path
		if path == "" {
			path = DefaultPath()
		}
		return OpenSQLite(ctx, driver, path)
	case DriverPostgres:
		return OpenPostgres(ctx, cfg.DSN)
	case DriverRedis:
		return OpenRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, cfg.Driver)
	}
}
