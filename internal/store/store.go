// Package store persists the code graph — files, entities, edges, and
// winnowing fingerprints — in a single SQLite database per indexed
// repository. It implements the per-file transactional upsert and the
// graph queries of the storage layer, grounded on original_source/storage.rs.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Querier abstracts *sql.DB and *sql.Tx so store methods work in both contexts.
type Querier interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// Store wraps a SQLite connection holding one repository's code graph.
type Store struct {
	db *sql.DB
	q  Querier // active querier: db outside a transaction, tx inside one
}

// Open opens or creates the graph database at dbPath, applying the journal
// and foreign-key pragmas through the driver DSN (modernc.org/sqlite is
// pure Go; no cgo driver is involved).
func Open(dbPath string) (*Store, error) {
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	s := &Store{db: db}
	s.q = s.db
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

// OpenMemory opens an in-memory graph database, for tests.
func OpenMemory() (*Store, error) {
	db, err := sql.Open("sqlite", ":memory:?_pragma=foreign_keys(ON)")
	if err != nil {
		return nil, fmt.Errorf("open memory db: %w", err)
	}
	s := &Store{db: db}
	s.q = s.db
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB, for diagnostics (freshness checks,
// database size reporting).
func (s *Store) DB() *sql.DB {
	return s.db
}

// WithTransaction runs fn against a transaction-scoped Store. The receiver
// is never mutated, so concurrent read-only callers using s.q == s.db are
// unaffected by a transaction in flight elsewhere.
func (s *Store) WithTransaction(fn func(tx *Store) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	txStore := &Store{db: s.db, q: tx}
	if err := fn(txStore); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// marshalMeta serializes entity/edge metadata to JSON, or returns a null
// sql value when meta is empty — meta columns are nullable and COALESCE
// preserves a prior non-null value across a stub-then-enrich upsert.
func marshalMeta(meta map[string]any) sql.NullString {
	if len(meta) == 0 {
		return sql.NullString{}
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}

// Now returns the current time in the format the files.indexed_at column
// stores.
func Now() string {
	return time.Now().UTC().Format(time.RFC3339)
}
