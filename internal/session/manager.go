// Package session owns forum logins: one live session per account, shared
// by every target that reads through that account.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/mucstudio/let-monitor/internal/clock"
	"github.com/mucstudio/let-monitor/internal/database"
	"github.com/mucstudio/let-monitor/pkg/models"
)

// Store persists credentials and sessions
type Store interface {
	GetAccount(ctx context.Context, chatID int64) (*models.Account, error)
	GetSession(ctx context.Context, accountID int64) (*models.Session, error)
	SaveSession(ctx context.Context, session *models.Session) error
	InvalidateSession(ctx context.Context, accountID int64) error
}

// Authenticator signs in to the forum and returns the session blob
type Authenticator interface {
	Login(ctx context.Context, account *models.Account) ([]byte, error)
}

// EventKind type of session event
type EventKind string

const (
	LoginSucceeded EventKind = "login_succeeded"
	LoginFailed    EventKind = "login_failed"
)

// Event reports the outcome of a login sequence
type Event struct {
	AccountID int64
	Kind      EventKind
	Attempts  int
	Err       error
}

// EventHandler is called after every login sequence
type EventHandler func(Event)

// Config tunes the login procedure
type Config struct {
	MaxAttempts    int
	RetryDelay     time.Duration
	RequestTimeout time.Duration
	ExpireDays     int
}

// Manager keeps one session per account. Callers serialize their use of an
// account with Acquire; EnsureValid and Invalidate expect the lease held.
type Manager struct {
	store  Store
	auth   Authenticator
	clock  clock.Clock
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[int64]*models.Session
	leases   map[int64]chan struct{}
	onEvent  EventHandler
}

// NewManager creates a new session manager
func NewManager(store Store, auth Authenticator, clk clock.Clock, cfg Config, logger *slog.Logger) *Manager {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Manager{
		store:    store,
		auth:     auth,
		clock:    clk,
		cfg:      cfg,
		logger:   logger.With("component", "session"),
		sessions: make(map[int64]*models.Session),
		leases:   make(map[int64]chan struct{}),
	}
}

// SetEventHandler sets the handler for login events
func (m *Manager) SetEventHandler(h EventHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEvent = h
}

// Acquire takes the exclusive lease on an account. The returned release
// function must be called exactly once.
func (m *Manager) Acquire(ctx context.Context, accountID int64) (func(), error) {
	m.mu.Lock()
	lease, ok := m.leases[accountID]
	if !ok {
		lease = make(chan struct{}, 1)
		m.leases[accountID] = lease
	}
	m.mu.Unlock()

	select {
	case lease <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() { <-lease })
	}, nil
}

// EnsureValid returns a usable session for the account, logging in when
// the cached and persisted sessions are missing, invalid or expired.
func (m *Manager) EnsureValid(ctx context.Context, accountID int64) (*models.Session, error) {
	now := m.clock.Now()

	m.mu.Lock()
	cached := m.sessions[accountID]
	m.mu.Unlock()
	if cached.Usable(now) {
		return cached, nil
	}

	if cached == nil {
		stored, err := m.store.GetSession(ctx, accountID)
		switch {
		case err == nil && stored.Usable(now):
			m.remember(stored)
			m.logger.Debug("Restored persisted session", "account_id", accountID)
			return stored, nil
		case err != nil && !errors.Is(err, database.ErrNotFound):
			m.logger.Warn("Failed to load persisted session", "account_id", accountID, "error", err)
		}
	}

	return m.login(ctx, accountID)
}

// Invalidate marks the account's session unusable. Idempotent.
func (m *Manager) Invalidate(ctx context.Context, accountID int64) error {
	m.mu.Lock()
	if s, ok := m.sessions[accountID]; ok {
		invalid := *s
		invalid.Valid = false
		m.sessions[accountID] = &invalid
	}
	m.mu.Unlock()

	if err := m.store.InvalidateSession(ctx, accountID); err != nil {
		return fmt.Errorf("invalidate session: %w", err)
	}
	m.logger.Info("Session invalidated", "account_id", accountID)
	return nil
}

// Forget drops the cached session so the next EnsureValid reloads or logs in
func (m *Manager) Forget(accountID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, accountID)
}

func (m *Manager) login(ctx context.Context, accountID int64) (*models.Session, error) {
	account, err := m.store.GetAccount(ctx, accountID)
	if errors.Is(err, database.ErrNotFound) {
		authErr := &AuthError{AccountID: accountID, Err: ErrNoCredentials}
		m.emit(Event{AccountID: accountID, Kind: LoginFailed, Err: authErr})
		return nil, authErr
	}
	if err != nil {
		return nil, &AuthError{AccountID: accountID, Err: fmt.Errorf("load credentials: %w", err)}
	}

	var (
		blob     []byte
		attempts int
		lastErr  error
	)
	err = retry.Do(
		func() error {
			attempts++
			attemptCtx, cancel := context.WithTimeout(ctx, m.cfg.RequestTimeout)
			defer cancel()

			b, err := m.auth.Login(attemptCtx, account)
			if err != nil {
				lastErr = err
				return err
			}
			blob = b
			return nil
		},
		retry.Attempts(uint(m.cfg.MaxAttempts)),
		retry.Delay(m.cfg.RetryDelay),
		retry.MaxDelay(m.cfg.RetryDelay),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			m.logger.Warn("Login attempt failed, retrying", "account_id", accountID, "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		if lastErr == nil {
			lastErr = err
		}
		authErr := &AuthError{AccountID: accountID, Attempts: attempts, Err: lastErr}
		m.logger.Error("Login failed", "account_id", accountID, "attempts", attempts, "error", lastErr)
		m.emit(Event{AccountID: accountID, Kind: LoginFailed, Attempts: attempts, Err: authErr})
		return nil, authErr
	}

	now := m.clock.Now()
	session := &models.Session{
		AccountID: accountID,
		Cookies:   blob,
		CreatedAt: now,
		ExpiresAt: now.Add(time.Duration(m.cfg.ExpireDays) * 24 * time.Hour),
		Valid:     true,
	}
	if err := m.store.SaveSession(ctx, session); err != nil {
		// The session still works for this process; it just won't survive a restart
		m.logger.Warn("Failed to persist session", "account_id", accountID, "error", err)
	}
	m.remember(session)

	m.logger.Info("Logged in", "account_id", accountID, "username", account.ForumUsername, "attempts", attempts)
	m.emit(Event{AccountID: accountID, Kind: LoginSucceeded, Attempts: attempts})
	return session, nil
}

func (m *Manager) remember(s *models.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.AccountID] = s
}

func (m *Manager) emit(e Event) {
	m.mu.Lock()
	h := m.onEvent
	m.mu.Unlock()
	if h != nil {
		h(e)
	}
}
