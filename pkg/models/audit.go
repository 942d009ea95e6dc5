package models

import "time"

// AuditKind type of audited event
type AuditKind string

const (
	AuditTargetAdded     AuditKind = "target_added"
	AuditTargetRemoved   AuditKind = "target_removed"
	AuditTargetPaused    AuditKind = "target_paused"
	AuditTargetResumed   AuditKind = "target_resumed"
	AuditIntervalChanged AuditKind = "interval_changed"
	AuditAccountUpdated  AuditKind = "account_updated"
	AuditLoginSucceeded  AuditKind = "login_succeeded"
	AuditLoginFailed     AuditKind = "login_failed"
	AuditErrorState      AuditKind = "error_state"
)

// AuditEvent is an append-only record of something the engine did
type AuditEvent struct {
	ID        string    `db:"id"`
	TargetID  *int64    `db:"target_id"`
	AccountID int64     `db:"account_id"`
	Kind      AuditKind `db:"kind"`
	Message   string    `db:"message"`
	CreatedAt time.Time `db:"created_at"`
}
