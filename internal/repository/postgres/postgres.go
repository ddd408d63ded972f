// Package postgres implements the repository interfaces on PostgreSQL using
// github.com/lib/pq.
//
// Unlike SQLite, Postgres runs many writers at once, so InTx alone does not
// serialise two resolutions of the same cluster. Tx.Lock closes that gap with
// transaction-scoped advisory locks: pg_advisory_xact_lock blocks until the
// key is free and releases automatically at COMMIT or ROLLBACK, so a crashed
// request can never leave a lock behind.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	// Registers the "postgres" driver with database/sql.
	_ "github.com/lib/pq"

	"github.com/sakif/contact-identity/internal/repository"
)

// DB wraps a Postgres connection pool and provides repository methods.
type DB struct {
	contactQueries
	conn *sql.DB
}

var _ repository.ContactStore = (*DB)(nil)

// New connects to dsn (a postgres:// URL or key=value string) and runs migrations.
func New(ctx context.Context, dsn string) (*DB, error) {
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: opening database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxIdleTime(5 * time.Minute)

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("postgres: pinging database: %w", err)
	}

	db := &DB{
		contactQueries: contactQueries{q: conn, now: time.Now},
		conn:           conn,
	}

	if err := db.migrate(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("postgres: running migrations: %w", err)
	}

	return db, nil
}

// Close closes the connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping checks the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	if err := db.conn.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres: ping: %w", err)
	}
	return nil
}

// InTx runs fn inside a READ COMMITTED transaction.
//
// READ COMMITTED is enough because the resolver takes advisory locks before
// reading anything it later writes: every statement after Lock sees what the
// previous lock holder committed.
func (db *DB) InTx(ctx context.Context, fn func(tx repository.ContactTx) error) error {
	sqlTx, err := db.conn.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("postgres: beginning transaction: %w", err)
	}

	tx := &Tx{contactQueries: contactQueries{q: sqlTx, now: db.now}, tx: sqlTx}
	if err := fn(tx); err != nil {
		_ = sqlTx.Rollback()
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("postgres: committing transaction: %w", err)
	}
	return nil
}

// Tx is a ContactTx backed by an open *sql.Tx.
type Tx struct {
	contactQueries
	tx *sql.Tx
}

var _ repository.ContactTx = (*Tx)(nil)

// Lock takes a transaction-scoped advisory lock per key.
//
// Keys are sorted and de-duplicated here as well, so two transactions asking
// for overlapping sets always queue in the same order. Postgres still detects
// and breaks a deadlock if a caller interleaves two Lock calls badly.
func (t *Tx) Lock(ctx context.Context, keys ...string) error {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)

	var last string
	for i, key := range sorted {
		if i > 0 && key == last {
			continue
		}
		last = key
		if _, err := t.tx.ExecContext(ctx,
			`SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key,
		); err != nil {
			return fmt.Errorf("postgres: locking %q: %w", key, err)
		}
	}
	return nil
}

// migrate creates the schema. Postgres keeps timestamps at microsecond
// precision; contactQueries truncates to match so in-memory and stored
// values compare equal.
func (db *DB) migrate(ctx context.Context) error {
	_, err := db.conn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS contacts (
			id              BIGSERIAL PRIMARY KEY,
			phone_number    VARCHAR(255),
			email           VARCHAR(255),
			linked_id       BIGINT REFERENCES contacts(id),
			link_precedence VARCHAR(16) NOT NULL DEFAULT 'primary'
			                CHECK (link_precedence IN ('primary', 'secondary')),
			created_at      TIMESTAMPTZ NOT NULL,
			updated_at      TIMESTAMPTZ NOT NULL,
			deleted_at      TIMESTAMPTZ,
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
