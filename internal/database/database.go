// Package database stores targets, forum accounts, sessions, notification
// history and the audit log in SQLite.
package database

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// schemaVersion is stored in PRAGMA user_version after a migration
const schemaVersion = 1

// DB wraps sqlx.DB
type DB struct {
	*sqlx.DB
}

// New opens the database at path, creating its directory if needed
func New(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	params := url.Values{}
	params.Set("_journal_mode", "WAL")
	params.Set("_foreign_keys", "on")
	params.Set("_busy_timeout", "5000")

	db, err := sqlx.Connect("sqlite3", path+"?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Poll goroutines write concurrently; one connection keeps SQLite from
	// returning SQLITE_BUSY mid-transaction.
	db.SetMaxOpenConns(1)

	return &DB{db}, nil
}

// Migrate creates missing tables and indexes and records the schema version
func (db *DB) Migrate(ctx context.Context) error {
	var version int
	if err := db.GetContext(ctx, &version, `PRAGMA user_version`); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if version > schemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, schemaVersion)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	if _, err := db.ExecContext(ctx, fmt.Sprintf(`PRAGMA user_version = %d`, schemaVersion)); err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}
	return nil
}
