package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// Dialect holds the statements that differ between SQL backends.
type Dialect struct {
	Name   string
	Schema string
	Select string
	Upsert string
}

// SQLiteDialect serves both sqlite drivers.
var SQLiteDialect = Dialect{
	Name: "sqlite",
	Schema: `CREATE TABLE IF NOT EXISTS blobs (
		name TEXT PRIMARY KEY,
		data BLOB NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	Select: `SELECT data FROM blobs WHERE name = ?`,
	Upsert: `INSERT INTO blobs (name, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
}

// PostgresDialect is the lib/pq dialect.
var PostgresDialect = Dialect{
	Name: "postgres",
	Schema: `CREATE TABLE IF NOT EXISTS blobs (
		name TEXT PRIMARY KEY,
		data BYTEA NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	Select: `SELECT data FROM blobs WHERE name = $1`,
	Upsert: `INSERT INTO blobs (name, data, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`,
}

// SQLStore stores blobs in a single table of a database/sql database.
type SQLStore struct {
	conn    *sql.DB
	dialect Dialect
	now     func() time.Time
	mu      sync.RWMutex
}

var _ Store = (*SQLStore)(nil)

// NewSQL wraps an open connection. Call Migrate before use.
func NewSQL(conn *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{conn: conn, dialect: dialect, now: time.Now}
}

// OpenSQLite opens a SQLite database at path with the given driver
// ("sqlite" or "sqlite3"), creating parent directories and the schema.
func OpenSQLite(ctx context.Context, driver, path string) (*SQLStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sql.Open(driver, path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL mode for concurrent reads
	if _, err := conn.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	s := NewSQL(conn, SQLiteDialect)
	if err := s.Migrate(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// OpenPostgres connects with lib/pq and creates the schema.
func OpenPostgres(ctx context.Context, dsn string) (*SQLStore, error) {
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := NewSQL(conn, PostgresDialect)
	if err := s.Migrate(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates the blobs table if it does not exist.
func (s *SQLStore) Migrate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.conn.ExecContext(ctx, s.dialect.Schema); err != nil {
		return fmt.Errorf("create blobs table: %w", err)
	}
	return nil
}

// Load returns the blob stored under name.
func (s *SQLStore) Load(ctx context.Context, name string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var data []byte
	err := s.conn.QueryRowContext(ctx, s.dialect.Select, name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", name, err)
	}
	return data, nil
}

// Save upserts the blob stored under name.
func (s *SQLStore) Save(ctx context.Context, name string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if data == nil {
		data = []byte{}
	}
	if _, err := s.conn.ExecContext(ctx, s.dialect.Upsert, name, data, s.now().UTC()); err != nil {
		return fmt.Errorf("save %s: %w", name, err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Close()
}
