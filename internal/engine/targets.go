package engine

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/mucstudio/let-monitor/internal/database"
	"github.com/mucstudio/let-monitor/pkg/models"
)

var usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]{3,20}$`)

// ValidateUsername checks a forum username
func ValidateUsername(username string) error {
	if !usernameRegex.MatchString(username) {
		return &ConfigError{Field: "username", Message: fmt.Sprintf("%q must be 3-20 letters, digits, '_' or '-'", username)}
	}
	return nil
}

// ValidateInterval checks a poll interval in seconds against the bounds
func (e *Engine) ValidateInterval(seconds int) error {
	d := time.Duration(seconds) * time.Second
	lo, hi := e.cfg.Scheduler.MinInterval, e.cfg.Scheduler.MaxInterval
	if d < lo || d > hi {
		return &ConfigError{
			Field:   "interval",
			Message: fmt.Sprintf("%ds is outside the allowed range %d-%ds", seconds, int(lo.Seconds()), int(hi.Seconds())),
		}
	}
	return nil
}

// AddTarget starts monitoring a forum user for a chat. An interval of 0
// selects the default interval. The first poll runs right away and only
// records the newest existing post.
func (e *Engine) AddTarget(ctx context.Context, ownerChatID int64, forumUsername string, intervalSeconds int) (int64, error) {
	forumUsername = strings.TrimSpace(forumUsername)
	if err := ValidateUsername(forumUsername); err != nil {
		return 0, err
	}
	if intervalSeconds == 0 {
		intervalSeconds = int(e.cfg.DefaultInterval.Seconds())
	}
	if err := e.ValidateInterval(intervalSeconds); err != nil {
		return 0, err
	}

	if _, err := e.db.GetTargetByOwnerAndUsername(ctx, ownerChatID, forumUsername); err == nil {
		return 0, &ConfigError{Field: "username", Message: fmt.Sprintf("%s is already monitored", forumUsername)}
	} else if !errors.Is(err, database.ErrNotFound) {
		return 0, err
	}

	accountID, err := e.accountFor(ctx, ownerChatID)
	if err != nil {
		return 0, err
	}

	target := &models.Target{
		ForumUsername:   forumUsername,
		OwnerChatID:     ownerChatID,
		AccountID:       accountID,
		IntervalSeconds: intervalSeconds,
		Enabled:         true,
	}
	if err := e.db.CreateTarget(ctx, target); err != nil {
		if errors.Is(err, database.ErrAlreadyExists) {
			return 0, &ConfigError{Field: "username", Message: fmt.Sprintf("%s is already monitored", forumUsername)}
		}
		return 0, err
	}

	e.mu.Lock()
	e.targets[target.ID] = target
	e.scheduler.Add(target.ID, target.Interval(), 0)
	e.mu.Unlock()

	e.logger.Info("Target added", "target_id", target.ID, "username", forumUsername, "owner", ownerChatID, "interval", target.Interval())
	e.audit(models.AuditTargetAdded, &target.ID, accountID, fmt.Sprintf("watching %s every %ds", forumUsername, intervalSeconds))
	return target.ID, nil
}

// RemoveTarget stops monitoring and deletes the target with its history.
// A poll already running finishes first and is not rescheduled.
func (e *Engine) RemoveTarget(ctx context.Context, id int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.targets[id]
	if !ok {
		return unknownTarget(id)
	}
	if err := e.db.DeleteTarget(ctx, id); err != nil && !errors.Is(err, database.ErrNotFound) {
		return err
	}
	e.scheduler.Remove(id)
	delete(e.targets, id)

	e.logger.Info("Target removed", "target_id", id, "username", t.ForumUsername)
	e.audit(models.AuditTargetRemoved, &id, t.AccountID, t.ForumUsername)
	return nil
}

// Pause stops scheduling a target without forgetting it. Idempotent.
func (e *Engine) Pause(ctx context.Context, id int64) error {
	return e.setEnabled(ctx, id, false)
}

// Resume schedules a paused target again, polling it right away. Idempotent.
func (e *Engine) Resume(ctx context.Context, id int64) error {
	return e.setEnabled(ctx, id, true)
}

func (e *Engine) setEnabled(ctx context.Context, id int64, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.targets[id]
	if !ok {
		return unknownTarget(id)
	}
	if t.Enabled == enabled {
		return nil
	}
	if err := e.db.SetTargetEnabled(ctx, id, enabled); err != nil {
		return err
	}
	t.Enabled = enabled

	kind := models.AuditTargetPaused
	if enabled {
		kind = models.AuditTargetResumed
		e.scheduler.Add(id, t.Interval(), 0)
	} else {
		e.scheduler.Remove(id)
	}

	e.logger.Info("Target state changed", "target_id", id, "enabled", enabled)
	e.audit(kind, &id, t.AccountID, t.ForumUsername)
	return nil
}

// SetInterval changes the poll interval of a target. The wake already
// scheduled is kept; the new interval applies from the next one.
func (e *Engine) SetInterval(ctx context.Context, id int64, seconds int) error {
	if err := e.ValidateInterval(seconds); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.targets[id]
	if !ok {
		return unknownTarget(id)
	}
	if err := e.db.UpdateTargetInterval(ctx, id, seconds); err != nil {
		return err
	}
	t.IntervalSeconds = seconds
	if t.Enabled {
		e.scheduler.SetInterval(id, t.Interval())
	}

	e.audit(models.AuditIntervalChanged, &id, t.AccountID, fmt.Sprintf("%ds", seconds))
	return nil
}

// PollNow runs an enabled target as soon as possible
func (e *Engine) PollNow(id int64) error {
	e.mu.RLock()
	t, ok := e.targets[id]
	enabled := ok && t.Enabled
	e.mu.RUnlock()

	if !ok {
		return unknownTarget(id)
	}
	if !enabled || !e.scheduler.Trigger(id) {
		return &ConfigError{Field: "target", Message: fmt.Sprintf("target #%d is paused", id)}
	}
	return nil
}

// SetAccount stores forum credentials for a chat, moves the chat's targets
// onto them and verifies that they can sign in.
func (e *Engine) SetAccount(ctx context.Context, chatID int64, username, password string) error {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return &ConfigError{Field: "account", Message: "username and password are required"}
	}

	account := &models.Account{ChatID: chatID, ForumUsername: username, ForumPassword: password}
	if err := e.db.UpsertAccount(ctx, account); err != nil {
		return err
	}
	if err := e.db.SetTargetsAccount(ctx, chatID, chatID); err != nil {
		return err
	}

	e.mu.Lock()
	for _, t := range e.targets {
		if t.OwnerChatID == chatID {
			t.AccountID = chatID
		}
	}
	e.mu.Unlock()

	e.audit(models.AuditAccountUpdated, nil, chatID, username)

	release, err := e.sessions.Acquire(ctx, chatID)
	if err != nil {
		return err
	}
	defer release()

	if err := e.sessions.Invalidate(ctx, chatID); err != nil {
		e.logger.Warn("Failed to invalidate old session", "account_id", chatID, "error", err)
	}
	if _, err := e.sessions.EnsureValid(ctx, chatID); err != nil {
		return err
	}
	return nil
}

// RemoveAccount deletes a chat's forum credentials. Its targets fall back
// to the default account.
func (e *Engine) RemoveAccount(ctx context.Context, chatID int64) error {
	if chatID == models.DefaultAccountID {
		return &ConfigError{Field: "account", Message: "the default account is configured by the operator"}
	}
	if _, err := e.db.GetAccount(ctx, chatID); errors.Is(err, database.ErrNotFound) {
		return &ConfigError{Field: "account", Message: "no forum account set for this chat"}
	} else if err != nil {
		return err
	}

	release, err := e.sessions.Acquire(ctx, chatID)
	if err != nil {
		return err
	}
	defer release()

	if err := e.db.DeleteAccount(ctx, chatID); err != nil {
		return err
	}
	if err := e.db.SetTargetsAccount(ctx, chatID, models.DefaultAccountID); err != nil {
		return err
	}
	e.sessions.Forget(chatID)

	e.mu.Lock()
	for _, t := range e.targets {
		if t.OwnerChatID == chatID {
			t.AccountID = models.DefaultAccountID
		}
	}
	e.mu.Unlock()

	e.alertMu.Lock()
	delete(e.loginAlerted, chatID)
	e.alertMu.Unlock()

	e.audit(models.AuditAccountUpdated, nil, chatID, "removed")
	return nil
}

// accountFor picks the forum account a chat's targets read through
func (e *Engine) accountFor(ctx context.Context, chatID int64) (int64, error) {
	_, err := e.db.GetAccount(ctx, chatID)
	if err == nil {
		return chatID, nil
	}
	if errors.Is(err, database.ErrNotFound) {
		return models.DefaultAccountID, nil
	}
	return 0, err
}

// Target returns a copy of a registered target
func (e *Engine) Target(id int64) (models.Target, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	t, ok := e.targets[id]
	if !ok {
		return models.Target{}, false
	}
	return *t, true
}

// FindTarget returns the target a chat registered for a forum user
func (e *Engine) FindTarget(ownerChatID int64, forumUsername string) (models.Target, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, t := range e.targets {
		if t.OwnerChatID == ownerChatID && strings.EqualFold(t.ForumUsername, forumUsername) {
			return *t, true
		}
	}
	return models.Target{}, false
}

// Targets returns copies of a chat's targets ordered by id
func (e *Engine) Targets(ownerChatID int64) []*models.Target {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []*models.Target
	for _, t := range e.targets {
		if t.OwnerChatID == ownerChatID {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
