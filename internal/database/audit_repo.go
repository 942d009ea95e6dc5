package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mucstudio/let-monitor/pkg/models"
)

// AppendAudit writes an audit event, assigning its ID and timestamp
func (db *DB) AppendAudit(ctx context.Context, event *models.AuditEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO audit_log (id, target_id, account_id, kind, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := db.ExecContext(ctx, query,
		event.ID,
		event.TargetID,
		event.AccountID,
		event.Kind,
		event.Message,
		event.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to append audit event: %w", err)
	}
	return nil
}

// RecentAudit returns the latest audit events, newest first
func (db *DB) RecentAudit(ctx context.Context, limit int) ([]*models.AuditEvent, error) {
	var events []*models.AuditEvent
	query := `SELECT * FROM audit_log ORDER BY created_at DESC LIMIT ?`
	err := db.SelectContext(ctx, &events, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get audit events: %w", err)
	}
	return events, nil
}
