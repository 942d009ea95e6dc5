package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mucstudio/let-monitor/pkg/models"
)

// ErrNotFound is returned when a record is not found
var ErrNotFound = errors.New("record not found")

// ErrAlreadyExists is returned when trying to insert a duplicate record
var ErrAlreadyExists = errors.New("record already exists")

// UpsertAccount stores forum credentials for a chat, replacing older ones
func (db *DB) UpsertAccount(ctx context.Context, account *models.Account) error {
	query := `
		INSERT INTO forum_accounts (chat_id, forum_username, forum_password, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET
			forum_username = excluded.forum_username,
			forum_password = excluded.forum_password,
			updated_at = excluded.updated_at
	`
	now := time.Now().UTC()
	_, err := db.ExecContext(ctx, query,
		account.ChatID,
		account.ForumUsername,
		account.ForumPassword,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}

	account.UpdatedAt = now
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	return nil
}

// GetAccount returns the forum credentials of a chat
func (db *DB) GetAccount(ctx context.Context, chatID int64) (*models.Account, error) {
	var account models.Account
	query := `SELECT * FROM forum_accounts WHERE chat_id = ?`
	err := db.GetContext(ctx, &account, query, chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &account, nil
}

// DeleteAccount removes stored credentials and the session built from them
func (db *DB) DeleteAccount(ctx context.Context, chatID int64) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE account_id = ?`, chatID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM forum_accounts WHERE chat_id = ?`, chatID); err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	return tx.Commit()
}
