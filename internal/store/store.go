package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// migration upgrades a store written by an older build. migrations[i]
// brings user_version from i to i+1.
type migration struct {
	name string
	stmt string
}

var migrations = []migration{
	{
		name: "index operations by record for history",
		stmt: `CREATE INDEX IF NOT EXISTS idx_operations_record ON operations(model, record_id, seq)`,
	},
}

// currentSchemaVersion is the user_version of a fully migrated store.
var currentSchemaVersion = len(migrations)

// Store is the durable side of a replica: its operation log, the winning
// registers, and the materialized records table.
type Store struct {
	db *sql.DB
}

// Open opens the replica database at path, creating it on first use and
// migrating it otherwise. ":memory:" gives a throwaway store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open replica store %s: %w", path, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open replica store %s: %w", path, err)
	}

	// One connection: seq must follow commit order.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := configure(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close releases the database. Closing a zero Store is a no-op.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Reset empties everything derived from the log (registers, tombstones
// and records) so the log alone can rebuild them.
func (s *Store) Reset(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("reset: begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"registers", "tombstones", "records"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("reset %s: %w", table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("reset: commit: %w", err)
	}
	return nil
}

var pragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA busy_timeout = 5000",
	"PRAGMA foreign_keys = ON",
}

func configure(db *sql.DB) error {
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("configure replica store: %q: %w", p, err)
		}
	}
	return nil
}

// migrate creates missing tables, then applies every migration past the
// stored user_version.
func migrate(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}

	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read store version: %w", err)
	}
	for v := version; v < len(migrations); v++ {
		m := migrations[v]
		if _, err := db.Exec(m.stmt); err != nil {
			return fmt.Errorf("migrate store to v%d (%s): %w", v+1, m.name, err)
		}
	}
	if version == currentSchemaVersion {
		return nil
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("write store version: %w", err)
	}
	return nil
}

// pragmaIs reports an error unless pragma name reads back as want.
func (s *Store) pragmaIs(name, want string) error {
	var got string
	if err := s.db.QueryRow("PRAGMA " + name).Scan(&got); err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	if got != want {
		return fmt.Errorf("%s = %q, want %q", name, got, want)
	}
	return nil
}
