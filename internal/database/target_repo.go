package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mucstudio/let-monitor/pkg/models"
)

// CreateTarget creates a new monitored target
func (db *DB) CreateTarget(ctx context.Context, target *models.Target) error {
	query := `
		INSERT OR IGNORE INTO targets (forum_username, owner_chat_id, account_id, interval_seconds, last_seen_post_id, last_seen_rank, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	now := time.Now().UTC()
	result, err := db.ExecContext(ctx, query,
		target.ForumUsername,
		target.OwnerChatID,
		target.AccountID,
		target.IntervalSeconds,
		target.LastSeenPostID,
		target.LastSeenRank,
		target.Enabled,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to create target: %w", err)
	}

	// Check if row was actually inserted (not ignored due to duplicate)
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrAlreadyExists
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	target.ID = id
	target.CreatedAt = now
	target.UpdatedAt = now
	return nil
}

// GetTargetByID returns a target by ID
func (db *DB) GetTargetByID(ctx context.Context, id int64) (*models.Target, error) {
	var target models.Target
	query := `SELECT * FROM targets WHERE id = ?`
	err := db.GetContext(ctx, &target, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get target: %w", err)
	}
	return &target, nil
}

// GetTargetByOwnerAndUsername returns the target an owner registered for a forum user
func (db *DB) GetTargetByOwnerAndUsername(ctx context.Context, ownerChatID int64, username string) (*models.Target, error) {
	var target models.Target
	query := `SELECT * FROM targets WHERE owner_chat_id = ? AND forum_username = ? COLLATE NOCASE`
	err := db.GetContext(ctx, &target, query, ownerChatID, username)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get target: %w", err)
	}
	return &target, nil
}

// GetAllTargets returns every target, enabled or not
func (db *DB) GetAllTargets(ctx context.Context) ([]*models.Target, error) {
	var targets []*models.Target
	query := `SELECT * FROM targets ORDER BY id`
	err := db.SelectContext(ctx, &targets, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get targets: %w", err)
	}
	return targets, nil
}

// UpdateTargetInterval changes the poll interval of a target
func (db *DB) UpdateTargetInterval(ctx context.Context, id int64, seconds int) error {
	query := `UPDATE targets SET interval_seconds = ?, updated_at = ? WHERE id = ?`
	return db.execOne(ctx, "update target interval", query, seconds, time.Now().UTC(), id)
}

// SetTargetEnabled sets the enabled status of a target
func (db *DB) SetTargetEnabled(ctx context.Context, id int64, enabled bool) error {
	query := `UPDATE targets SET enabled = ?, updated_at = ? WHERE id = ?`
	return db.execOne(ctx, "set target enabled", query, enabled, time.Now().UTC(), id)
}

// SetTargetsAccount points every target of an owner at a forum account
func (db *DB) SetTargetsAccount(ctx context.Context, ownerChatID, accountID int64) error {
	query := `UPDATE targets SET account_id = ?, updated_at = ? WHERE owner_chat_id = ?`
	_, err := db.ExecContext(ctx, query, accountID, time.Now().UTC(), ownerChatID)
	if err != nil {
		return fmt.Errorf("failed to set targets account: %w", err)
	}
	return nil
}

// SetLastSeen advances the dedup marker of a target. The update only applies
// when the marker is unset or the new rank is strictly newer, so a stale
// writer can never move the marker backwards. Returns whether it advanced.
func (db *DB) SetLastSeen(ctx context.Context, id int64, postID string, rank int64) (bool, error) {
	query := `
		UPDATE targets SET last_seen_post_id = ?, last_seen_rank = ?, updated_at = ?
		WHERE id = ? AND (last_seen_post_id IS NULL OR last_seen_rank < ?)
	`
	result, err := db.ExecContext(ctx, query, postID, rank, time.Now().UTC(), id, rank)
	if err != nil {
		return false, fmt.Errorf("failed to set last seen post: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

// DeleteTarget deletes a target together with its notification history
func (db *DB) DeleteTarget(ctx context.Context, id int64) error {
	query := `DELETE FROM targets WHERE id = ?`
	return db.execOne(ctx, "delete target", query, id)
}

func (db *DB) execOne(ctx context.Context, op, query string, args ...any) error {
	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}
