package database

import (
	"context"
	"fmt"
	"time"
)

// ClaimPost records that a post is about to be notified for a target.
// Returns ErrAlreadyExists if the post was claimed before.
func (db *DB) ClaimPost(ctx context.Context, targetID int64, postID string) error {
	query := `INSERT OR IGNORE INTO notified_posts (target_id, post_id, created_at) VALUES (?, ?, ?)`
	result, err := db.ExecContext(ctx, query, targetID, postID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to claim post: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrAlreadyExists
	}
	return nil
}

// CountNotifiedPosts returns how many posts were notified for a target
func (db *DB) CountNotifiedPosts(ctx context.Context, targetID int64) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM notified_posts WHERE target_id = ?`
	if err := db.GetContext(ctx, &count, query, targetID); err != nil {
		return 0, fmt.Errorf("failed to count notified posts: %w", err)
	}
	return count, nil
}
