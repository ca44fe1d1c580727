package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const (
	dirPermissions  = 0750
	filePermissions = 0600

	// pingTimeout bounds the connectivity check in Open.
	pingTimeout = 5 * time.Second

	connMaxIdleTime = 30 * time.Minute
)

// DB wraps a sql.DB with migrations and lifecycle helpers.
type DB struct {
	*sql.DB
	path string
}

// Config contains database options. It mirrors the database section of
// config.yaml.
type Config struct {
	// Path is the SQLite file. Parent directories are created.
	// ":memory:" opens a private in-memory database.
	Path string

	// WALMode enables write-ahead logging so readers never wait on the writer.
	WALMode bool

	// BusyTimeout is how long to wait for a lock, in seconds.
	BusyTimeout int
}

// dsn builds the go-sqlite3 connection string.
func (c Config) dsn() string {
	q := url.Values{}
	q.Set("_busy_timeout", strconv.Itoa(c.BusyTimeout*1000))
	q.Set("_foreign_keys", "on")
	q.Set("_txlock", "immediate")
	if c.WALMode && c.Path != ":memory:" {
		q.Set("_journal_mode", "WAL")
		q.Set("_synchronous", "NORMAL")
	}
	return "file:" + c.Path + "?" + q.Encode()
}

// Open connects to the database at cfg.Path, creating it if needed.
//
// Parameters:
//   - cfg: Database configuration
//
// Returns:
//   - *DB: Connected database
//   - error: If the directory, connection or ping fails
func Open(cfg Config) (*DB, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is empty")
	}
	if cfg.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), dirPermissions); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite3", cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// One connection: SQLite has a single writer, and an in-memory database
	// exists per connection.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxIdleTime(connMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close() //nolint:errcheck // best effort on error path
		return nil, fmt.Errorf("verifying database connection: %w", err)
	}

	if cfg.Path != ":memory:" {
		_ = os.Chmod(cfg.Path, filePermissions) //nolint:errcheck // file appears on first write
	}

	return &DB{DB: sqlDB, path: cfg.Path}, nil
}

// Close closes the connection. It is safe to call on a nil DB field.
func (db *DB) Close() error {
	if db.DB == nil {
		return nil
	}
	if err := db.DB.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// HealthCheck runs a trivial query.
func (db *DB) HealthCheck(ctx context.Context) error {
	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

// InTx runs fn inside a transaction, committing when fn returns nil.
//
// Example:
//
//	err := db.InTx(ctx, func(tx *sql.Tx) error {
//	    _, err := tx.ExecContext(ctx, "DELETE FROM events WHERE ts < ?", cutoff)
//	    return err
//	})
func (db *DB) InTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}
