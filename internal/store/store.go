package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// tsLayout is the fixed-width UTC layout for every TEXT timestamp column.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

// connParams are applied by the driver to every connection it opens.
var connParams = url.Values{
	"_journal_mode": {"WAL"},
	"_synchronous":  {"NORMAL"},
	"_busy_timeout": {"5000"},
	"_foreign_keys": {"on"},
}

// migration moves the schema from version-1 to version.
type migration struct {
	version int
	name    string
	stmt    string
}

// migrations run in order inside one transaction each. Append only.
var migrations = []migration{
	{version: 1, name: "base tables", stmt: schemaSQL},
	{version: 2, name: "unique sensor title per device", stmt: `
		CREATE UNIQUE INDEX IF NOT EXISTS idx_sensors_device_title
		ON sensors(device_id, title)`},
}

// schemaVersion is the version a freshly opened store reports.
func schemaVersion() int { return migrations[len(migrations)-1].version }

// Store is the SQLite implementation of Client.
type Store struct {
	db     *sql.DB
	now    func() time.Time
	logger *slog.Logger
}

var _ Client = (*Store)(nil)

// Open creates or opens the SQLite database at path and brings its schema
// up to date. Opening an up-to-date database changes nothing.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?"+connParams.Encode())
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// one writer at a time; more connections only produce SQLITE_BUSY
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate %s: %w", path, err)
	}
	return &Store{db: db, now: time.Now, logger: slog.Default()}, nil
}

// SetLogger replaces the logger, slog.Default by default.
func (s *Store) SetLogger(l *slog.Logger) { s.logger = l }

// Close releases the database. Calling it on a closed store is harmless.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Query runs a read-only query against the store. Callers close the rows.
func (s *Store) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, query, args...)
}

func timestamp(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func parseTimestamp(s string) (time.Time, error) {
	return time.Parse(tsLayout, s)
}

func migrate(ctx context.Context, db *sql.DB) error {
	var current int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&current); err != nil {
		return fmt.Errorf("read user_version: %w", err)
	}
	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := applyMigration(ctx, db, m); err != nil {
			return err
		}
	}
	return nil
}

func applyMigration(ctx context.Context, db *sql.DB, m migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("v%d %s: %w", m.version, m.name, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, m.stmt); err != nil {
		return fmt.Errorf("v%d %s: %w", m.version, m.name, err)
	}
	// PRAGMA does not accept bind parameters
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", m.version)); err != nil {
		return fmt.Errorf("v%d %s: set user_version: %w", m.version, m.name, err)
	}
	return tx.Commit()
}
