// Package engine wires sessions, polling, dedup and notifications into
// the monitor and exposes the control operations the front-end calls.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mucstudio/let-monitor/internal/clock"
	"github.com/mucstudio/let-monitor/internal/database"
	"github.com/mucstudio/let-monitor/internal/scheduler"
	"github.com/mucstudio/let-monitor/internal/session"
	"github.com/mucstudio/let-monitor/pkg/models"
)

// Sessions is the part of the session manager the engine uses
type Sessions interface {
	Acquire(ctx context.Context, accountID int64) (func(), error)
	EnsureValid(ctx context.Context, accountID int64) (*models.Session, error)
	Invalidate(ctx context.Context, accountID int64) error
	Forget(accountID int64)
	SetEventHandler(h session.EventHandler)
}

// Poller runs one poll cycle for a target
type Poller interface {
	Poll(ctx context.Context, target models.Target) (models.Target, error)
}

// Alerter sends error and status notifications
type Alerter interface {
	NotifyError(ctx context.Context, kind, message string, target *models.Target) error
	NotifyErrorTo(ctx context.Context, chatIDs []int64, kind, message string) error
	NotifyStatus(ctx context.Context, chatIDs []int64, status models.Status) error
}

// Config engine settings
type Config struct {
	Scheduler       scheduler.Config
	DefaultInterval time.Duration
	// Shared forum account used by chats without their own credentials
	DefaultUsername string
	DefaultPassword string
}

// Engine owns the registry of monitored targets
type Engine struct {
	cfg       Config
	db        *database.DB
	sessions  Sessions
	poller    Poller
	alerts    Alerter
	clock     clock.Clock
	scheduler *scheduler.Scheduler
	logger    *slog.Logger

	mu      sync.RWMutex
	targets map[int64]*models.Target

	// Accounts already alerted for the current login outage. An entry is
	// cleared by the account's next successful login or by RemoveAccount,
	// so a later outage alerts again.
	alertMu      sync.Mutex
	loginAlerted map[int64]bool

	runCtx    context.Context
	startedAt time.Time
	done      chan struct{}
}

// New creates a new engine
func New(cfg Config, db *database.DB, sessions Sessions, poller Poller, alerts Alerter, clk clock.Clock, logger *slog.Logger) *Engine {
	e := &Engine{
		cfg:          cfg,
		db:           db,
		sessions:     sessions,
		poller:       poller,
		alerts:       alerts,
		clock:        clk,
		logger:       logger.With("component", "engine"),
		targets:      make(map[int64]*models.Target),
		loginAlerted: make(map[int64]bool),
		runCtx:       context.Background(),
		done:         make(chan struct{}),
	}
	e.scheduler = scheduler.New(clk, cfg.Scheduler, e.runJob, logger)
	e.scheduler.SetThresholdHandler(e.onThreshold)
	sessions.SetEventHandler(e.onSessionEvent)
	return e
}

// Start restores targets from storage and runs the scheduler until ctx is
// cancelled. It returns once the targets are scheduled.
func (e *Engine) Start(ctx context.Context) error {
	e.runCtx = ctx
	e.startedAt = e.clock.Now()

	if e.cfg.DefaultUsername != "" {
		account := &models.Account{
			ChatID:        models.DefaultAccountID,
			ForumUsername: e.cfg.DefaultUsername,
			ForumPassword: e.cfg.DefaultPassword,
		}
		if err := e.db.UpsertAccount(ctx, account); err != nil {
			return fmt.Errorf("save default account: %w", err)
		}
	}

	targets, err := e.db.GetAllTargets(ctx)
	if err != nil {
		return fmt.Errorf("load targets: %w", err)
	}

	e.mu.Lock()
	enabled := 0
	for _, t := range targets {
		e.targets[t.ID] = t
		if t.Enabled {
			e.scheduler.Add(t.ID, t.Interval(), 0)
			enabled++
		}
	}
	e.mu.Unlock()

	e.logger.Info("Restored targets", "total", len(targets), "enabled", enabled)

	go func() {
		defer close(e.done)
		e.scheduler.Run(ctx)
	}()
	return nil
}

// Wait blocks until the scheduler has stopped and in-flight polls returned
func (e *Engine) Wait() {
	<-e.done
}

// runJob is the scheduler job: poll a snapshot of the target, then fold
// the resulting marker back into the registry.
func (e *Engine) runJob(ctx context.Context, id int64) error {
	e.mu.RLock()
	t, ok := e.targets[id]
	var snapshot models.Target
	if ok {
		snapshot = *t
	}
	e.mu.RUnlock()

	if !ok || !snapshot.Enabled {
		return nil
	}

	updated, err := e.poller.Poll(ctx, snapshot)
	e.applyMarker(id, updated)
	return err
}

func (e *Engine) applyMarker(id int64, updated models.Target) {
	if !updated.HasMarker() {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.targets[id]
	if !ok {
		return
	}
	if !t.HasMarker() || updated.LastSeenRank > t.LastSeenRank {
		t.SetMarker(*updated.LastSeenPostID, updated.LastSeenRank)
	}
}

// onThreshold reports a target that entered the error state
func (e *Engine) onThreshold(id int64, state scheduler.RetryState) {
	target, ok := e.Target(id)
	if !ok {
		return
	}

	msg := fmt.Sprintf("%d consecutive failures, still retrying every %s: %v",
		state.ConsecutiveFailures, state.NextAttemptAt.Sub(e.clock.Now()).Round(time.Second), state.LastError)
	e.logger.Error("Target entered error state", "target_id", id, "failures", state.ConsecutiveFailures, "error", state.LastError)
	e.audit(models.AuditErrorState, &id, target.AccountID, msg)

	if err := e.alerts.NotifyError(e.runCtx, "error_state", msg, &target); err != nil {
		e.logger.Warn("Failed to send error state alert", "target_id", id, "error", err)
	}
}

// onSessionEvent audits logins and alerts once per account outage
func (e *Engine) onSessionEvent(ev session.Event) {
	switch ev.Kind {
	case session.LoginSucceeded:
		e.alertMu.Lock()
		delete(e.loginAlerted, ev.AccountID)
		e.alertMu.Unlock()
		e.audit(models.AuditLoginSucceeded, nil, ev.AccountID, fmt.Sprintf("logged in after %d attempt(s)", ev.Attempts))

	case session.LoginFailed:
		e.audit(models.AuditLoginFailed, nil, ev.AccountID, ev.Err.Error())

		e.alertMu.Lock()
		already := e.loginAlerted[ev.AccountID]
		e.loginAlerted[ev.AccountID] = true
		e.alertMu.Unlock()
		if already {
			return
		}

		var chats []int64
		if ev.AccountID != models.DefaultAccountID {
			chats = []int64{ev.AccountID}
		}
		if err := e.alerts.NotifyErrorTo(e.runCtx, chats, "auth_error", ev.Err.Error()); err != nil {
			e.logger.Warn("Failed to send login alert", "account_id", ev.AccountID, "error", err)
		}
	}
}

func (e *Engine) audit(kind models.AuditKind, targetID *int64, accountID int64, msg string) {
	event := &models.AuditEvent{
		TargetID:  targetID,
		AccountID: accountID,
		Kind:      kind,
		Message:   msg,
		CreatedAt: e.clock.Now(),
	}
	if err := e.db.AppendAudit(context.Background(), event); err != nil {
		e.logger.Warn("Failed to write audit event", "kind", kind, "error", err)
	}
}
