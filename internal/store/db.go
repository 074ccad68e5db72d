// Package store is the SQLite-backed record of installed packages. It is
// the single source of truth for what portabin has installed.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound is returned when no record exists for a package ID.
	ErrNotFound = errors.New("package is not installed")

	// ErrSchemaTooNew is returned when the database was written by a newer
	// portabin.
	ErrSchemaTooNew = errors.New("database schema is newer than this portabin")
)

// Store provides SQLite database operations for installed packages.
type Store struct {
	db *sql.DB
}

// New opens the database at dbPath and migrates it to SchemaVersion.
// Use ":memory:" for in-memory databases (useful for testing).
func New(ctx context.Context, dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Set connection pool defaults
	db.SetMaxOpenConns(1) // SQLite only allows one writer at a time
	db.SetMaxIdleConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	// A database from a newer portabin is refused before anything is
	// written to it.
	if err := checkVersion(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Version returns the on-disk schema version.
func (s *Store) Version(ctx context.Context) (int, error) {
	return readVersion(ctx, s.db)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func readVersion(ctx context.Context, q queryer) (int, error) {
	var v int
	err := q.QueryRowContext(ctx, "SELECT version FROM schema_meta WHERE id = 1").Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return v, nil
}

// checkVersion fails with ErrSchemaTooNew when the on-disk schema is newer
// than SchemaVersion. It only reads.
func checkVersion(ctx context.Context, q queryer) error {
	var tables int
	err := q.QueryRowContext(ctx,
		"SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = 'schema_meta'",
	).Scan(&tables)
	if err != nil {
		return fmt.Errorf("failed to inspect database: %w", err)
	}
	if tables == 0 {
		return nil
	}
	current, err := readVersion(ctx, q)
	if err != nil {
		return err
	}
	if current > SchemaVersion {
		return fmt.Errorf("%w: on-disk version %d, supported %d", ErrSchemaTooNew, current, SchemaVersion)
	}
	return nil
}

// migrate applies pending migrations, each in its own transaction together
// with the version bump.
func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, metaSchema); err != nil {
		return fmt.Errorf("failed to create schema_meta: %w", err)
	}

	current, err := readVersion(ctx, s.db)
	if err != nil {
		return err
	}
	if current > SchemaVersion {
		return fmt.Errorf("%w: on-disk version %d, supported %d", ErrSchemaTooNew, current, SchemaVersion)
	}

	for v := current; v < SchemaVersion; v++ {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin migration %d: %w", v+1, err)
		}
		if _, err := tx.ExecContext(ctx, migrations[v]); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to apply migration %d: %w", v+1, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO schema_meta (id, version) VALUES (1, ?) ON CONFLICT(id) DO UPDATE SET version = excluded.version",
			v+1,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", v+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", v+1, err)
		}
	}
	return nil
}
