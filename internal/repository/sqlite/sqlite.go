// Package sqlite implements the repository interfaces using SQLite as the storage backend.
//
// WHY modernc.org/sqlite?
// It is a pure Go translation of SQLite, so the binary builds without a C
// toolchain and ":memory:" databases make tests fast and isolated.
//
// CONCURRENCY MODEL:
// SQLite allows one writer at a time. We lean on that instead of fighting it:
//   - the pool holds a single connection, so transactions inside this process
//     queue up in the order they ask for it
//   - file databases open write transactions with BEGIN IMMEDIATE, so a second
//     process (identityctl next to the server) waits on busy_timeout instead of
//     failing half way through a resolution
//
// Together these make every InTx call a serialised unit of work, which is
// what the resolver needs to insert at most one secondary per new fact.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	// Registers the "sqlite" driver with database/sql.
	_ "modernc.org/sqlite"

	"github.com/sakif/contact-identity/internal/repository"
)

// busyTimeout is how long a connection waits on another process's write lock.
const busyTimeout = 5 * time.Second

// DB wraps a sql.DB connection pool and provides repository methods.
type DB struct {
	contactQueries
	conn *sql.DB
}

var _ repository.ContactStore = (*DB)(nil)

// New opens (or creates) the database at dbPath and runs migrations.
//
// dbPath examples:
//   - "data/identity.db"  → file-based database (persistent)
//   - ":memory:"          → in-memory database (tests; lost on close)
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// One connection: an in-memory database only exists on the connection
	// that created it, and a single writer is all SQLite offers anyway.
	conn.SetMaxOpenConns(1)
	conn.SetConnMaxLifetime(0)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		fmt.Sprintf("PRAGMA busy_timeout=%d", busyTimeout.Milliseconds()),
	}
	for _, p := range pragmas {
		if _, err := conn.Exec(p); err != nil {
			conn.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", p, err)
		}
	}

	db := &DB{
		contactQueries: contactQueries{q: conn, now: time.Now},
		conn:           conn,
	}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// dsn adds driver options for file databases. ":memory:" is passed through
// untouched.
func dsn(dbPath string) string {
	if dbPath == ":memory:" {
		return dbPath
	}
	return fmt.Sprintf("file:%s?_txlock=immediate&_pragma=busy_timeout(%d)", dbPath, busyTimeout.Milliseconds())
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping checks the database is reachable. Used by the health endpoint.
func (db *DB) Ping(ctx context.Context) error {
	if err := db.conn.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite: ping: %w", err)
	}
	return nil
}

// InTx runs fn inside a transaction.
//
// The transaction commits when fn returns nil and rolls back otherwise. A
// rollback error is dropped: the error from fn is the one the caller needs.
func (db *DB) InTx(ctx context.Context, fn func(tx repository.ContactTx) error) error {
	sqlTx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: beginning transaction: %w", err)
	}

	tx := &Tx{contactQueries: contactQueries{q: sqlTx, now: db.now}}
	if err := fn(tx); err != nil {
		_ = sqlTx.Rollback()
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("sqlite: committing transaction: %w", err)
	}
	return nil
}

// Tx is a ContactTx backed by an open *sql.Tx.
type Tx struct {
	contactQueries
}

var _ repository.ContactTx = (*Tx)(nil)

// Lock is a no-op: an SQLite write transaction already excludes every other
// writer, which is stronger than any per-key lock.
func (tx *Tx) Lock(_ context.Context, _ ...string) error {
	return nil
}

// migrate creates the schema. CREATE ... IF NOT EXISTS keeps it idempotent.
//
// Timestamps are INTEGER nanoseconds since the Unix epoch (UTC). Integers
// sort and compare exactly, which the oldest-primary rule depends on.
func (db *DB) migrate() error {
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS contacts (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			phone_number    TEXT,
			email           TEXT,
			linked_id       INTEGER REFERENCES contacts(id),
			link_precedence TEXT NOT NULL DEFAULT 'primary'
			                CHECK (link_precedence IN ('primary', 'secondary')),
			created_at      INTEGER NOT NULL,
			updated_at      INTEGER NOT NULL,
			deleted_at      INTEGER,
			CHECK (email IS NOT NULL OR phone_number IS NOT NULL)
		);
		CREATE INDEX IF NOT EXISTS idx_contacts_email ON contacts(email);
		CREATE INDEX IF NOT EXISTS idx_contacts_phone_number ON contacts(phone_number);
		CREATE INDEX IF NOT EXISTS idx_contacts_linked_id ON contacts(linked_id);
	`)
	if err != nil {
		return fmt.Errorf("creating contacts table: %w", err)
	}
	return nil
}
