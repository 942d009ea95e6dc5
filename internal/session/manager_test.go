package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mucstudio/let-monitor/internal/clock"
	"github.com/mucstudio/let-monitor/internal/database"
	"github.com/mucstudio/let-monitor/pkg/models"
)

type memStore struct {
	mu          sync.Mutex
	accounts    map[int64]*models.Account
	sessions    map[int64]*models.Session
	invalidated int
}

func newMemStore() *memStore {
	return &memStore{
		accounts: map[int64]*models.Account{
			0: {ChatID: 0, ForumUsername: "bot", ForumPassword: "pw"},
		},
		sessions: make(map[int64]*models.Session),
	}
}

func (s *memStore) GetAccount(_ context.Context, id int64) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return a, nil
}

func (s *memStore) GetSession(_ context.Context, id int64) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

func (s *memStore) SaveSession(_ context.Context, sess *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sess
	s.sessions[sess.AccountID] = &cp
	return nil
}

func (s *memStore) InvalidateSession(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalidated++
	if sess, ok := s.sessions[id]; ok {
		sess.Valid = false
	}
	return nil
}

type fakeAuth struct {
	calls    atomic.Int32
	failures atomic.Int32 // number of calls that fail before succeeding
}

func (a *fakeAuth) Login(context.Context, *models.Account) ([]byte, error) {
	n := a.calls.Add(1)
	if n <= a.failures.Load() {
		return nil, errors.New("forum down")
	}
	return []byte("cookies"), nil
}

var epoch = time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

func newTestManager(store Store, auth Authenticator, clk clock.Clock) *Manager {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewManager(store, auth, clk, Config{
		MaxAttempts:    3,
		RetryDelay:     time.Millisecond,
		RequestTimeout: time.Second,
		ExpireDays:     30,
	}, logger)
}

func TestEnsureValidLogsInOnce(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	auth := &fakeAuth{}
	clk := clock.NewFake(epoch)
	m := newTestManager(store, auth, clk)

	var events []Event
	m.SetEventHandler(func(e Event) { events = append(events, e) })

	s1, err := m.EnsureValid(ctx, 0)
	if err != nil {
		t.Fatalf("EnsureValid() error = %v", err)
	}
	if !s1.ExpiresAt.Equal(epoch.Add(30 * 24 * time.Hour)) {
		t.Errorf("ExpiresAt = %v", s1.ExpiresAt)
	}

	s2, err := m.EnsureValid(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if s1 != s2 {
		t.Error("expected the cached session to be reused")
	}
	if got := auth.calls.Load(); got != 1 {
		t.Errorf("login calls = %d, want 1", got)
	}
	if len(events) != 1 || events[0].Kind != LoginSucceeded {
		t.Errorf("events = %+v", events)
	}
}

func TestEnsureValidRestoresPersistedSession(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.sessions[0] = &models.Session{
		AccountID: 0,
		Cookies:   []byte("saved"),
		CreatedAt: epoch.Add(-time.Hour),
		ExpiresAt: epoch.Add(time.Hour),
		Valid:     true,
	}
	auth := &fakeAuth{}
	m := newTestManager(store, auth, clock.NewFake(epoch))

	s, err := m.EnsureValid(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if string(s.Cookies) != "saved" {
		t.Errorf("cookies = %s, want persisted blob", s.Cookies)
	}
	if auth.calls.Load() != 0 {
		t.Error("no login expected for a persisted valid session")
	}
}

func TestEnsureValidExpiredSession(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	auth := &fakeAuth{}
	clk := clock.NewFake(epoch)
	m := newTestManager(store, auth, clk)

	if _, err := m.EnsureValid(ctx, 0); err != nil {
		t.Fatal(err)
	}

	clk.Advance(31 * 24 * time.Hour)
	if _, err := m.EnsureValid(ctx, 0); err != nil {
		t.Fatal(err)
	}
	if got := auth.calls.Load(); got != 2 {
		t.Errorf("login calls = %d, want 2 after expiry", got)
	}
}

func TestInvalidateForcesRelogin(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	auth := &fakeAuth{}
	m := newTestManager(store, auth, clock.NewFake(epoch))

	first, err := m.EnsureValid(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		if err := m.Invalidate(ctx, 0); err != nil {
			t.Fatalf("Invalidate() error = %v", err)
		}
	}
	if !first.Valid {
		t.Error("sessions handed out earlier must not be mutated")
	}

	second, err := m.EnsureValid(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if second == first {
		t.Error("invalidated session was reused")
	}
	if got := auth.calls.Load(); got != 2 {
		t.Errorf("login calls = %d, want 2", got)
	}
}

func TestLoginRetries(t *testing.T) {
	t.Run("recovers within attempts", func(t *testing.T) {
		auth := &fakeAuth{}
		auth.failures.Store(2)
		m := newTestManager(newMemStore(), auth, clock.NewFake(epoch))

		if _, err := m.EnsureValid(context.Background(), 0); err != nil {
			t.Fatalf("EnsureValid() error = %v", err)
		}
		if got := auth.calls.Load(); got != 3 {
			t.Errorf("login calls = %d, want 3", got)
		}
	})

	t.Run("exhaustion returns AuthError", func(t *testing.T) {
		auth := &fakeAuth{}
		auth.failures.Store(100)
		m := newTestManager(newMemStore(), auth, clock.NewFake(epoch))

		var failed []Event
		m.SetEventHandler(func(e Event) {
			if e.Kind == LoginFailed {
				failed = append(failed, e)
			}
		})

		_, err := m.EnsureValid(context.Background(), 0)
		var authErr *AuthError
		if !errors.As(err, &authErr) {
			t.Fatalf("error = %v, want *AuthError", err)
		}
		if authErr.Attempts != 3 {
			t.Errorf("Attempts = %d, want 3", authErr.Attempts)
		}
		if got := auth.calls.Load(); got != 3 {
			t.Errorf("login calls = %d, want 3", got)
		}
		if len(failed) != 1 {
			t.Errorf("failure events = %d, want 1", len(failed))
		}
	})

	t.Run("missing credentials", func(t *testing.T) {
		auth := &fakeAuth{}
		m := newTestManager(newMemStore(), auth, clock.NewFake(epoch))

		_, err := m.EnsureValid(context.Background(), 99)
		if !IsAuthError(err) || !errors.Is(err, ErrNoCredentials) {
			t.Fatalf("error = %v, want AuthError wrapping ErrNoCredentials", err)
		}
		if auth.calls.Load() != 0 {
			t.Error("login must not be attempted without credentials")
		}
	})
}

func TestAcquireSerializesAccount(t *testing.T) {
	m := newTestManager(newMemStore(), &fakeAuth{}, clock.NewFake(epoch))
	ctx := context.Background()

	release, err := m.Acquire(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}

	t.Run("other accounts are independent", func(t *testing.T) {
		other, err := m.Acquire(ctx, 1)
		if err != nil {
			t.Fatal(err)
		}
		other()
	})

	t.Run("same account waits", func(t *testing.T) {
		waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()
		if _, err := m.Acquire(waitCtx, 0); !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("Acquire() error = %v, want deadline exceeded", err)
		}
	})

	release()
	release() // second call is a no-op

	again, err := m.Acquire(ctx, 0)
	if err != nil {
		t.Fatalf("Acquire() after release error = %v", err)
	}
	again()
}
