package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mucstudio/let-monitor/pkg/models"
)

// GetSession returns the persisted session of an account
func (db *DB) GetSession(ctx context.Context, accountID int64) (*models.Session, error) {
	var session models.Session
	query := `SELECT * FROM sessions WHERE account_id = ?`
	err := db.GetContext(ctx, &session, query, accountID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &session, nil
}

// SaveSession persists the session of an account, replacing the previous one
func (db *DB) SaveSession(ctx context.Context, session *models.Session) error {
	query := `
		INSERT INTO sessions (account_id, cookies, created_at, expires_at, valid)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(account_id) DO UPDATE SET
			cookies = excluded.cookies,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at,
			valid = excluded.valid
	`
	_, err := db.ExecContext(ctx, query,
		session.AccountID,
		session.Cookies,
		session.CreatedAt.UTC(),
		session.ExpiresAt.UTC(),
		session.Valid,
	)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// InvalidateSession marks the persisted session of an account unusable.
// Missing sessions are ignored.
func (db *DB) InvalidateSession(ctx context.Context, accountID int64) error {
	query := `UPDATE sessions SET valid = false WHERE account_id = ?`
	_, err := db.ExecContext(ctx, query, accountID)
	if err != nil {
		return fmt.Errorf("failed to invalidate session: %w", err)
	}
	return nil
}
