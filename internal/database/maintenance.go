package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// CleanupResult counts the rows removed by Cleanup
type CleanupResult struct {
	NotifiedPosts int64
	AuditEvents   int64
}

// Cleanup removes notification history and audit events older than before.
// Targets, accounts and sessions are never touched.
func (db *DB) Cleanup(ctx context.Context, before time.Time) (CleanupResult, error) {
	var res CleanupResult

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	cutoff := before.UTC()

	result, err := tx.ExecContext(ctx, `DELETE FROM notified_posts WHERE created_at < ?`, cutoff)
	if err != nil {
		return res, fmt.Errorf("failed to clean notified posts: %w", err)
	}
	res.NotifiedPosts, _ = result.RowsAffected()

	result, err = tx.ExecContext(ctx, `DELETE FROM audit_log WHERE created_at < ?`, cutoff)
	if err != nil {
		return res, fmt.Errorf("failed to clean audit log: %w", err)
	}
	res.AuditEvents, _ = result.RowsAffected()

	if err := tx.Commit(); err != nil {
		return res, fmt.Errorf("failed to commit cleanup: %w", err)
	}
	return res, nil
}

// Backup writes a consistent copy of the database to path
func (db *DB) Backup(ctx context.Context, path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("backup target %s already exists", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}

	if _, err := db.ExecContext(ctx, `VACUUM INTO ?`, path); err != nil {
		return fmt.Errorf("failed to back up database: %w", err)
	}
	return nil
}
