// Package db provides the SQL store behind the Gantt sync backend.
//
// Records are kept in two tables (tasks, dependencies) with an
// AUTOINCREMENT integer id and a JSON text column holding the opaque fields
// sent by clients. Ids are therefore never reused after deletion.
//
// Two drivers are supported:
//   - sqlite: embedded SQLite via ncruces/go-sqlite3 (default, pure Go)
//   - libsql: tursodatabase/go-libsql, for local files or libsql:// URLs
//     (requires a cgo build)
//
// Local databases run in WAL mode with a busy timeout and IMMEDIATE write
// transactions so concurrent writers queue instead of failing.
//
// Example:
//
//	store, err := db.Open("gantt.db")
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//	if err := store.Migrate(ctx); err != nil {
//	    return err
//	}
package db

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/MattDClarke/gantt-sync/internal/gantt/db/migrations"
	"github.com/MattDClarke/gantt-sync/internal/gantt/schema"
)

// Supported driver names.
const (
	DriverSQLite = "sqlite"
	DriverLibSQL = "libsql"
)

var fieldNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Options configures how the store is opened and how it treats dependencies.
type Options struct {
	// Driver is DriverSQLite (default) or DriverLibSQL.
	Driver string

	// CascadeDependencies deletes dependencies that reference removed tasks.
	CascadeDependencies bool

	// FromField and ToField name the dependency fields holding task ids.
	FromField string
	ToField   string

	// Logger for store activity (default: stderr logger)
	Logger *log.Logger
}

// DefaultOptions returns the embedded SQLite configuration.
func DefaultOptions() *Options {
	return &Options{
		Driver:              DriverSQLite,
		CascadeDependencies: true,
		FromField:           schema.DefaultFromField,
		ToField:             schema.DefaultToField,
	}
}

// DB wraps the SQL connection pool with record-level operations.
type DB struct {
	conn   *sql.DB
	path   string
	driver string
	opts   Options
	logger *log.Logger
}

// Open opens the embedded SQLite store at path with default options.
// The caller MUST call Close() when done.
func Open(path string) (*DB, error) {
	return OpenWithOptions(path, DefaultOptions())
}

// OpenWithOptions opens a store using the given driver and options.
func OpenWithOptions(path string, opts *Options) (*DB, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	o := *opts
	if o.Driver == "" {
		o.Driver = DriverSQLite
	}
	if o.FromField == "" {
		o.FromField = schema.DefaultFromField
	}
	if o.ToField == "" {
		o.ToField = schema.DefaultToField
	}
	if !fieldNamePattern.MatchString(o.FromField) || !fieldNamePattern.MatchString(o.ToField) {
		return nil, fmt.Errorf("invalid dependency field names %q/%q", o.FromField, o.ToField)
	}
	if o.Logger == nil {
		o.Logger = log.New(os.Stderr, "[store] ", log.LstdFlags)
	}

	remote := isRemote(path)
	if !remote {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	var (
		driverName string
		dsn        string
	)
	switch o.Driver {
	case DriverSQLite:
		if remote {
			return nil, fmt.Errorf("driver %s cannot open remote database %s", o.Driver, path)
		}
		driverName = "sqlite3"
		// Pragmas in the DSN apply to every pooled connection.
		dsn = fmt.Sprintf("file:%s?_txlock=immediate&_pragma=busy_timeout(5000)&_pragma=foreign_keys(on)", path)
	case DriverLibSQL:
		if !libsqlAvailable {
			return nil, fmt.Errorf("driver %s requires a cgo build", o.Driver)
		}
		driverName = "libsql"
		dsn = path
		if !remote {
			dsn = "file:" + path
		}
	default:
		return nil, fmt.Errorf("unknown driver %q", o.Driver)
	}

	conn, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{
		conn:   conn,
		path:   path,
		driver: o.Driver,
		opts:   o,
		logger: o.Logger,
	}

	if !remote {
		if _, err := db.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
		if o.Driver == DriverLibSQL {
			if _, err := db.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("failed to set busy timeout: %w", err)
			}
		}
	}

	return db, nil
}

func isRemote(path string) bool {
	for _, scheme := range []string{"libsql://", "http://", "https://", "wss://", "ws://"} {
		if strings.HasPrefix(path, scheme) {
			return true
		}
	}
	return false
}

// RawDB returns the underlying sql.DB connection.
func (db *DB) RawDB() *sql.DB {
	return db.conn
}

// Path returns the location the store was opened with.
func (db *DB) Path() string {
	return db.path
}

// Driver returns the driver the store was opened with.
func (db *DB) Driver() string {
	return db.driver
}

// Close checkpoints the WAL and closes the connection pool.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if !isRemote(db.path) {
		if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			db.logger.Printf("Warning: failed to checkpoint WAL: %v", err)
		}
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}

// Migrate applies pending schema migrations. Safe to call on every start.
func (db *DB) Migrate(ctx context.Context) error {
	if err := migrations.Run(ctx, db.conn); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// SchemaVersion returns the highest applied migration.
func (db *DB) SchemaVersion(ctx context.Context) (int, error) {
	return migrations.Version(ctx, db.conn)
}
