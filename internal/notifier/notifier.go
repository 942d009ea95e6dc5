// Package notifier renders monitor events and delivers them to chats.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/mucstudio/let-monitor/internal/formatter"
	"github.com/mucstudio/let-monitor/pkg/models"
)

// Sender delivers a rendered message to a chat
type Sender interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// NotifyError reports a message that could not be delivered. It is
// returned for logging only; the message has already been dropped.
type NotifyError struct {
	ChatID   int64
	Attempts int
	Err      error
}

func (e *NotifyError) Error() string {
	return fmt.Sprintf("notify chat %d failed after %d attempt(s): %v", e.ChatID, e.Attempts, e.Err)
}

func (e *NotifyError) Unwrap() error { return e.Err }

// ErrNoRecipients is returned when a message has nowhere to go
var ErrNoRecipients = errors.New("no recipient chat configured")

// Config tunes delivery
type Config struct {
	AdminChatIDs []int64
	AlertOnError bool
	Attempts     int
	RetryDelay   time.Duration
}

// Notifier formats and sends notifications
type Notifier struct {
	sender    Sender
	formatter *formatter.TelegramFormatter
	cfg       Config
	logger    *slog.Logger
}

// New creates a new notifier
func New(sender Sender, f *formatter.TelegramFormatter, cfg Config, logger *slog.Logger) *Notifier {
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	return &Notifier{
		sender:    sender,
		formatter: f,
		cfg:       cfg,
		logger:    logger.With("component", "notifier"),
	}
}

// NotifyNewPost sends a new post to the target's owner, or to the admin
// chats when the target has no owner.
func (n *Notifier) NotifyNewPost(ctx context.Context, target *models.Target, post models.Post) error {
	text := n.formatter.FormatPost(target, post)
	return n.deliver(ctx, n.recipients(target), text)
}

// NotifyError sends an error notification. It does nothing when error
// alerts are disabled. target may be nil for account-wide errors.
func (n *Notifier) NotifyError(ctx context.Context, kind, message string, target *models.Target) error {
	if !n.cfg.AlertOnError {
		n.logger.Debug("Error alert suppressed", "kind", kind, "message", message)
		return nil
	}
	text := n.formatter.FormatError(kind, message, target)
	return n.deliver(ctx, n.recipients(target), text)
}

// NotifyErrorTo sends an error notification to specific chats
func (n *Notifier) NotifyErrorTo(ctx context.Context, chatIDs []int64, kind, message string) error {
	if !n.cfg.AlertOnError {
		n.logger.Debug("Error alert suppressed", "kind", kind, "message", message)
		return nil
	}
	if len(chatIDs) == 0 {
		chatIDs = n.cfg.AdminChatIDs
	}
	return n.deliver(ctx, chatIDs, n.formatter.FormatError(kind, message, nil))
}

// NotifyStatus sends a status report to the given chats, or to the admin
// chats when none are given.
func (n *Notifier) NotifyStatus(ctx context.Context, chatIDs []int64, status models.Status) error {
	if len(chatIDs) == 0 {
		chatIDs = n.cfg.AdminChatIDs
	}
	return n.deliver(ctx, chatIDs, n.formatter.FormatStatus(status))
}

func (n *Notifier) recipients(target *models.Target) []int64 {
	if target != nil && target.OwnerChatID != 0 {
		return []int64{target.OwnerChatID}
	}
	return n.cfg.AdminChatIDs
}

// deliver sends text to every chat, each with bounded retries. Failed
// chats are logged and skipped; the last failure is returned.
func (n *Notifier) deliver(ctx context.Context, chatIDs []int64, text string) error {
	if len(chatIDs) == 0 {
		n.logger.Warn("Notification dropped", "error", ErrNoRecipients)
		return ErrNoRecipients
	}

	var result error
	for _, chatID := range chatIDs {
		if err := n.send(ctx, chatID, text); err != nil {
			n.logger.Error("Notification dropped", "chat_id", chatID, "error", err)
			result = err
		}
	}
	return result
}

func (n *Notifier) send(ctx context.Context, chatID int64, text string) error {
	var (
		attempts int
		lastErr  error
	)
	err := retry.Do(
		func() error {
			attempts++
			if err := n.sender.Send(ctx, chatID, text); err != nil {
				lastErr = err
				return err
			}
			return nil
		},
		retry.Attempts(uint(n.cfg.Attempts)),
		retry.Delay(n.cfg.RetryDelay),
		retry.MaxDelay(4*n.cfg.RetryDelay),
		retry.Context(ctx),
		retry.OnRetry(func(attempt uint, err error) {
			n.logger.Debug("Retrying send", "chat_id", chatID, "attempt", attempt+1, "error", err)
		}),
	)
	if err == nil {
		return nil
	}
	if lastErr == nil {
		lastErr = err
	}
	return &NotifyError{ChatID: chatID, Attempts: attempts, Err: lastErr}
}
