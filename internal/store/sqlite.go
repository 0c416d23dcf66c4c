// ABOUTME: SQLite implementation of ConfigStore using modernc.org/sqlite or mattn/go-sqlite3
// ABOUTME: Provides option persistence with automatic schema creation and per-key atomic updates

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// Supported database/sql driver names.
const (
	DriverModernc = "sqlite"  // pure Go, default
	DriverMattn   = "sqlite3" // cgo
)

// SQLiteStore implements the ConfigStore interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	sealer *Sealer
	logger *slog.Logger
}

// Option configures a SQLiteStore.
type Option func(*sqliteOptions)

type sqliteOptions struct {
	driver string
	sealer *Sealer
	logger *slog.Logger
}

// WithDriver selects the database/sql driver (DriverModernc or DriverMattn).
func WithDriver(name string) Option {
	return func(o *sqliteOptions) {
		if name != "" {
			o.driver = name
		}
	}
}

// WithSealer encrypts values at rest.
func WithSealer(s *Sealer) Option {
	return func(o *sqliteOptions) { o.sealer = s }
}

// WithLogger overrides the default component logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *sqliteOptions) { o.logger = l }
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string, opts ...Option) (*SQLiteStore, error) {
	o := sqliteOptions{driver: DriverModernc}
	for _, opt := range opts {
		opt(&o)
	}
	if o.driver != DriverModernc && o.driver != DriverMattn {
		return nil, fmt.Errorf("unsupported sqlite driver %q", o.driver)
	}
	logger := o.logger
	if logger == nil {
		logger = slog.Default().With("component", "store")
	}

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open(o.driver, path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// One connection: writers queue on the pool instead of racing for the
	// SQLite write lock, and ":memory:" stays a single database.
	db.SetMaxOpenConns(1)

	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enabling WAL mode: %w", err)
		}
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		sealer: o.sealer,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path, "driver", o.driver, "sealed", o.sealer != nil)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS options (
			key        TEXT PRIMARY KEY,
			value      BLOB NOT NULL,
			updated_at TEXT NOT NULL
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// Get retrieves the value stored under key.
// Returns ErrNotFound if the key doesn't exist.
func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM options WHERE key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying option %q: %w", key, err)
	}
	return s.open(raw)
}

// Set upserts the value under key.
func (s *SQLiteStore) Set(ctx context.Context, key string, value []byte) error {
	sealed, err := s.seal(value)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, upsertOption, key, sealed, now()); err != nil {
		return fmt.Errorf("writing option %q: %w", key, err)
	}
	s.logger.Debug("set option", "key", key)
	return nil
}

// Update runs fn inside a transaction so the read and the write see the same row.
func (s *SQLiteStore) Update(ctx context.Context, key string, fn UpdateFunc) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current []byte
	var raw []byte
	err = tx.QueryRowContext(ctx, `SELECT value FROM options WHERE key = ?`, key).Scan(&raw)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("querying option %q: %w", key, err)
	default:
		if current, err = s.open(raw); err != nil {
			return err
		}
	}

	next, err := fn(current)
	if err != nil {
		return err
	}

	sealed, err := s.seal(next)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, upsertOption, key, sealed, now()); err != nil {
		return fmt.Errorf("writing option %q: %w", key, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing option %q: %w", key, err)
	}

	s.logger.Debug("updated option", "key", key)
	return nil
}

// Delete removes key.
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM options WHERE key = ?`, key); err != nil {
		return fmt.Errorf("deleting option %q: %w", key, err)
	}
	return nil
}

const upsertOption = `
	INSERT INTO options (key, value, updated_at)
	VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
`

func (s *SQLiteStore) seal(v []byte) ([]byte, error) {
	if v == nil {
		v = []byte{}
	}
	if s.sealer == nil {
		return v, nil
	}
	return s.sealer.Seal(v)
}

func (s *SQLiteStore) open(v []byte) ([]byte, error) {
	if s.sealer == nil {
		return v, nil
	}
	return s.sealer.Open(v)
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}
