package pgstore

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/roach88/campbellsync/internal/store"
)

//go:embed schema.sql
var schemaSQL string

// DB is the subset of *pgxpool.Pool the store uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is the PostgreSQL implementation of store.Client.
//
// Thread-safety: Store is safe for concurrent use; the pool hands each
// call its own connection.
type Store struct {
	db     DB
	pool   *pgxpool.Pool
	now    func() time.Time
	logger *slog.Logger
}

var _ store.Client = (*Store)(nil)

// Open connects to dsn, verifies the connection and applies the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgstore: configure pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgstore: database unreachable: %w", err)
	}

	s := &Store{db: pool, pool: pool, now: time.Now, logger: slog.Default()}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing connection. The caller owns db.
func New(db DB) *Store {
	return &Store{db: db, now: time.Now, logger: slog.Default()}
}

// SetLogger replaces the logger, slog.Default by default.
func (s *Store) SetLogger(l *slog.Logger) { s.logger = l }

// Close closes the pool opened by Open. It is a no-op for stores built
// with New.
func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// Migrate creates missing tables and indexes. It is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schemaStatements() {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("pgstore: apply schema: %w", err)
		}
	}
	return nil
}

// schemaStatements splits the embedded schema into single statements.
func schemaStatements() []string {
	var out []string
	for _, part := range strings.Split(schemaSQL, "\n;\n") {
		var lines []string
		for _, line := range strings.Split(part, "\n") {
			if strings.HasPrefix(strings.TrimSpace(line), "--") {
				continue
			}
			lines = append(lines, line)
		}
		if stmt := strings.TrimSpace(strings.Join(lines, "\n")); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}
