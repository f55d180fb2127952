package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"net/url"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/roach88/audittrail/internal/query"
)

// driverName is go-sqlite3 with the query package's SQL functions
// registered on every connection.
const driverName = "sqlite3_audittrail"

func init() {
	sql.Register(driverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return conn.RegisterFunc(query.FoldFunc, query.Fold, true)
		},
	})
}

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - empty database
// 1 - audit_logs and logs_archive with timestamp indexes
const currentSchemaVersion = 1

const (
	// LogsTable holds live entries.
	LogsTable = "audit_logs"
	// ArchiveTable holds relocated entries.
	ArchiveTable = "logs_archive"

	// DefaultTimeout bounds connection attempts and lock waits.
	DefaultTimeout = 2000 * time.Millisecond

	memoryPath = ":memory:"
)

// Options configures Open.
type Options struct {
	// Timeout bounds the startup ping and is used as the SQLite busy
	// timeout. Zero means DefaultTimeout.
	Timeout time.Duration

	// MaxOpenConns caps the connection pool. Zero means 4 for file
	// databases. In-memory databases always use a single connection.
	MaxOpenConns int
}

// Store is the SQLite backend. It owns one database holding both the
// primary and the archive collection.
type Store struct {
	db      *sql.DB
	logs    *sqliteCollection
	archive *sqliteCollection
}

var _ Backend = (*Store)(nil)

// Open creates or opens a SQLite database at path, verifies the connection
// within the configured timeout, and applies the schema.
//
// The database is configured with:
//   - WAL mode so exports can stream while flushes write
//   - NORMAL synchronous mode
//   - busy timeout equal to the store timeout
//   - foreign key enforcement
//
// A connection failure is returned wrapped in ErrUnavailable.
func Open(ctx context.Context, path string, opts Options) (*Store, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	db, err := sql.Open(driverName, dsn(path, opts.Timeout))
	if err != nil {
		return nil, fmt.Errorf("%w: open database: %v", ErrUnavailable, err)
	}

	if path == memoryPath {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		conns := opts.MaxOpenConns
		if conns <= 0 {
			conns = 4
		}
		db.SetMaxOpenConns(conns)
		db.SetMaxIdleConns(conns)
	}

	pingCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: connect to %s: %v", ErrUnavailable, path, err)
	}

	if err := applySchema(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{
		db:      db,
		logs:    &sqliteCollection{db: db, table: LogsTable},
		archive: &sqliteCollection{db: db, table: ArchiveTable},
	}, nil
}

// dsn builds a go-sqlite3 connection string. Pragmas passed here apply to
// every pooled connection, unlike a one-off PRAGMA statement.
func dsn(path string, timeout time.Duration) string {
	params := url.Values{}
	params.Set("_journal_mode", "WAL")
	params.Set("_synchronous", "NORMAL")
	params.Set("_busy_timeout", fmt.Sprintf("%d", timeout.Milliseconds()))
	params.Set("_foreign_keys", "on")
	return path + "?" + params.Encode()
}

// Logs returns the primary collection.
func (s *Store) Logs() Collection {
	return s.logs
}

// Archive returns the archive collection.
func (s *Store) Archive() Collection {
	return s.archive
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB. Tests use it to tamper with rows
// directly.
func (s *Store) DB() *sql.DB {
	return s.db
}

// applySchema creates tables if they don't exist and runs migrations.
// This function is idempotent.
func applySchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return runMigrations(ctx, db)
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(ctx context.Context, db *sql.DB) error {
	var version int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, currentSchemaVersion)
	}

	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var got string
	if err := s.db.QueryRow(fmt.Sprintf("PRAGMA %s", name)).Scan(&got); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if got != expected {
		return fmt.Errorf("%s = %q, expected %q", name, got, expected)
	}
	return nil
}
