// Package store implements the persistence schema: the entity table and
// its property index, the non-delayed signal queue, the delayed signal
// queue, and the optional signal-store audit log. The Apply Engine's writes
// happen against a *sql.Tx it supplies; publishing a signal, schema
// bootstrap, startup recovery, and the Query API run directly against the
// pooled *sql.DB.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/durocore/duro/internal/ferrors"
	"github.com/durocore/duro/internal/sqlcatalog"
)

// Queryer is the subset of *sql.DB / *sql.Tx every store type needs. Store
// methods accept a Queryer so the same code runs inside an apply
// transaction or against a plain read connection.
type Queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const currentSchemaVersion = 1

// Store owns the pooled connection and the SQL catalog every sub-store
// (Entity, SignalQueue, DelayedSignalQueue, SignalStore) is built from.
type Store struct {
	db      *sql.DB
	catalog *sqlcatalog.Catalog

	Entity   *EntityStore
	Signals  *SignalQueue
	Delayed  *DelayedSignalQueue
	Audit    *SignalStore
}

// Open opens driverName/dsn and returns a Store wired to catalog. It does
// not bootstrap the schema; call Bootstrap explicitly (create()/create(sql)
// in spec terms) so schema creation stays an opt-in, idempotent step.
func Open(driverName, dsn string, catalog *sqlcatalog.Catalog) (*Store, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, &ferrors.StorageError{Op: "open", Err: err}
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, &ferrors.StorageError{Op: "ping", Err: err}
	}

	if driverName == "sqlite3" {
		// SQLite allows exactly one writer; the drain scheduler is
		// single-threaded anyway, but reads (Query API) must not race a
		// writer past what SQLite itself can arbitrate.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)

		if err := applySQLitePragmas(db); err != nil {
			db.Close()
			return nil, err
		}
	}

	return &Store{
		db:      db,
		catalog: catalog,
		Entity:  &EntityStore{catalog: catalog},
		Signals: &SignalQueue{catalog: catalog},
		Delayed: &DelayedSignalQueue{catalog: catalog},
		Audit:   &SignalStore{catalog: catalog},
	}, nil
}

func applySQLitePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return &ferrors.StorageError{Op: "pragma", Err: fmt.Errorf("%s: %w", p, err)}
		}
	}
	return nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the pooled connection, for the Query API and for callers that
// need a Queryer outside an apply transaction.
func (s *Store) DB() *sql.DB {
	return s.db
}

// BeginTx opens the transaction the Apply Engine runs one signal's work
// inside.
func (s *Store) BeginTx(ctx context.Context) (*sql.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &ferrors.StorageError{Op: "begin tx", Err: err}
	}
	return tx, nil
}

// Bootstrap executes catalog.CreateSchema (create() in spec terms). It is
// idempotent: every DDL statement is guarded with IF NOT EXISTS and the
// schema_version bookkeeping row is seeded only once, so calling Bootstrap
// against a database that already has data is safe and a no-op beyond the
// first call.
func (s *Store) Bootstrap(ctx context.Context) error {
	return s.bootstrapSQL(ctx, s.catalog.CreateSchema)
}

// BootstrapSQL is the create(schemaSQL) variant: run caller-supplied,
// ';'-delimited DDL instead of the catalog's default schema. Used by
// callers who maintain their own migrations but still want the
// schema_version bookkeeping.
func (s *Store) BootstrapSQL(ctx context.Context, schemaSQL string) error {
	return s.bootstrapSQL(ctx, schemaSQL)
}

func (s *Store) bootstrapSQL(ctx context.Context, schemaSQL string) error {
	for _, stmt := range splitStatements(schemaSQL) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return &ferrors.SchemaError{Op: "create schema", Err: fmt.Errorf("%s: %w", stmt, err)}
		}
	}

	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_version`).Scan(&count); err != nil {
		return &ferrors.SchemaError{Op: "check schema_version", Err: err}
	}
	if count == 0 {
		stmt := `INSERT INTO schema_version (version) VALUES (` + s.catalog.Placeholder(1) + `)`
		if _, err := s.db.ExecContext(ctx, stmt, currentSchemaVersion); err != nil {
			return &ferrors.SchemaError{Op: "seed schema_version", Err: err}
		}
	}

	return nil
}

// splitStatements breaks a ';'-delimited SQL script into individual
// statements, skipping blanks. It does not attempt to understand quoting
// or comments beyond what the bundled schema resources contain.
func splitStatements(script string) []string {
	parts := strings.Split(script, ";")
	stmts := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		stmts = append(stmts, p)
	}
	return stmts
}
