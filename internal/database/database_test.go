package database

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mucstudio/let-monitor/pkg/models"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return db
}

func createTarget(t *testing.T, db *DB, owner int64, username string) *models.Target {
	t.Helper()

	target := &models.Target{
		ForumUsername:   username,
		OwnerChatID:     owner,
		IntervalSeconds: 300,
		Enabled:         true,
	}
	if err := db.CreateTarget(context.Background(), target); err != nil {
		t.Fatalf("CreateTarget() error = %v", err)
	}
	return target
}

func TestMigrateIdempotent(t *testing.T) {
	db := newTestDB(t)
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}

	var version int
	if err := db.Get(&version, `PRAGMA user_version`); err != nil {
		t.Fatal(err)
	}
	if version != schemaVersion {
		t.Errorf("user_version = %d, want %d", version, schemaVersion)
	}
}

func TestMigrateRejectsNewerSchema(t *testing.T) {
	db := newTestDB(t)
	if _, err := db.Exec(`PRAGMA user_version = 99`); err != nil {
		t.Fatal(err)
	}
	if err := db.Migrate(context.Background()); err == nil {
		t.Fatal("Migrate() accepted a newer schema")
	}
}

func TestTargetCRUD(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	target := createTarget(t, db, 42, "alice")
	if target.ID == 0 {
		t.Fatal("expected ID to be assigned")
	}

	t.Run("duplicate is rejected", func(t *testing.T) {
		dup := &models.Target{ForumUsername: "alice", OwnerChatID: 42, IntervalSeconds: 60, Enabled: true}
		if err := db.CreateTarget(ctx, dup); !errors.Is(err, ErrAlreadyExists) {
			t.Errorf("CreateTarget() error = %v, want ErrAlreadyExists", err)
		}
	})

	t.Run("get by owner and username ignores case", func(t *testing.T) {
		got, err := db.GetTargetByOwnerAndUsername(ctx, 42, "ALICE")
		if err != nil {
			t.Fatalf("GetTargetByOwnerAndUsername() error = %v", err)
		}
		if got.ID != target.ID {
			t.Errorf("got target %d, want %d", got.ID, target.ID)
		}
		if got.HasMarker() {
			t.Error("new target should have no marker")
		}
	})

	t.Run("update interval and enabled", func(t *testing.T) {
		if err := db.UpdateTargetInterval(ctx, target.ID, 900); err != nil {
			t.Fatal(err)
		}
		if err := db.SetTargetEnabled(ctx, target.ID, false); err != nil {
			t.Fatal(err)
		}
		got, err := db.GetTargetByID(ctx, target.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.IntervalSeconds != 900 || got.Enabled {
			t.Errorf("got interval=%d enabled=%v", got.IntervalSeconds, got.Enabled)
		}
	})

	t.Run("unknown id", func(t *testing.T) {
		if err := db.SetTargetEnabled(ctx, 9999, true); !errors.Is(err, ErrNotFound) {
			t.Errorf("SetTargetEnabled() error = %v, want ErrNotFound", err)
		}
		if _, err := db.GetTargetByID(ctx, 9999); !errors.Is(err, ErrNotFound) {
			t.Errorf("GetTargetByID() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("delete cascades notification history", func(t *testing.T) {
		if err := db.ClaimPost(ctx, target.ID, "100"); err != nil {
			t.Fatal(err)
		}
		if err := db.DeleteTarget(ctx, target.ID); err != nil {
			t.Fatal(err)
		}
		count, err := db.CountNotifiedPosts(ctx, target.ID)
		if err != nil {
			t.Fatal(err)
		}
		if count != 0 {
			t.Errorf("expected history to be removed, got %d rows", count)
		}
	})
}

func TestSetLastSeenOnlyAdvances(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	target := createTarget(t, db, 1, "bob")

	steps := []struct {
		postID  string
		rank    int64
		advance bool
	}{
		{"5", 5, true},
		{"8", 8, true},
		{"6", 6, false},
		{"8", 8, false},
		{"9", 9, true},
	}

	for _, step := range steps {
		advanced, err := db.SetLastSeen(ctx, target.ID, step.postID, step.rank)
		if err != nil {
			t.Fatalf("SetLastSeen(%s) error = %v", step.postID, err)
		}
		if advanced != step.advance {
			t.Errorf("SetLastSeen(%s) advanced = %v, want %v", step.postID, advanced, step.advance)
		}
	}

	got, err := db.GetTargetByID(ctx, target.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.LastSeenPostID == nil || *got.LastSeenPostID != "9" || got.LastSeenRank != 9 {
		t.Errorf("marker = %v/%d, want 9/9", got.LastSeenPostID, got.LastSeenRank)
	}
}

func TestSetLastSeenConcurrentTargets(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	a := createTarget(t, db, 1, "alpha")
	b := createTarget(t, db, 1, "beta")

	var wg sync.WaitGroup
	for i := int64(1); i <= 20; i++ {
		wg.Add(2)
		go func(rank int64) {
			defer wg.Done()
			if _, err := db.SetLastSeen(ctx, a.ID, "a", rank); err != nil {
				t.Error(err)
			}
		}(i)
		go func(rank int64) {
			defer wg.Done()
			if _, err := db.SetLastSeen(ctx, b.ID, "b", rank*100); err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()

	gotA, _ := db.GetTargetByID(ctx, a.ID)
	gotB, _ := db.GetTargetByID(ctx, b.ID)
	if gotA.LastSeenRank != 20 {
		t.Errorf("target a rank = %d, want 20", gotA.LastSeenRank)
	}
	if gotB.LastSeenRank != 2000 {
		t.Errorf("target b rank = %d, want 2000", gotB.LastSeenRank)
	}
}

func TestClaimPost(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	target := createTarget(t, db, 1, "carol")

	if err := db.ClaimPost(ctx, target.ID, "77"); err != nil {
		t.Fatalf("first ClaimPost() error = %v", err)
	}
	if err := db.ClaimPost(ctx, target.ID, "77"); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("second ClaimPost() error = %v, want ErrAlreadyExists", err)
	}

	other := createTarget(t, db, 2, "carol")
	if err := db.ClaimPost(ctx, other.ID, "77"); err != nil {
		t.Errorf("same post for another target should be claimable: %v", err)
	}
}

func TestAccountsAndSessions(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	account := &models.Account{ChatID: 7, ForumUsername: "user", ForumPassword: "old"}
	if err := db.UpsertAccount(ctx, account); err != nil {
		t.Fatal(err)
	}
	account.ForumPassword = "new"
	if err := db.UpsertAccount(ctx, account); err != nil {
		t.Fatal(err)
	}

	got, err := db.GetAccount(ctx, 7)
	if err != nil {
		t.Fatal(err)
	}
	if got.ForumPassword != "new" {
		t.Errorf("password = %q, want new", got.ForumPassword)
	}

	if _, err := db.GetSession(ctx, 7); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetSession() error = %v, want ErrNotFound", err)
	}

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	session := &models.Session{
		AccountID: 7,
		Cookies:   []byte(`[{"name":"sid","value":"x"}]`),
		CreatedAt: now,
		ExpiresAt: now.Add(30 * 24 * time.Hour),
		Valid:     true,
	}
	if err := db.SaveSession(ctx, session); err != nil {
		t.Fatal(err)
	}

	if err := db.InvalidateSession(ctx, 7); err != nil {
		t.Fatal(err)
	}
	if err := db.InvalidateSession(ctx, 8); err != nil {
		t.Errorf("invalidating a missing session should be a no-op: %v", err)
	}

	stored, err := db.GetSession(ctx, 7)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Valid {
		t.Error("session should be invalid")
	}
	if !stored.ExpiresAt.Equal(session.ExpiresAt) {
		t.Errorf("ExpiresAt = %v, want %v", stored.ExpiresAt, session.ExpiresAt)
	}
	if string(stored.Cookies) != string(session.Cookies) {
		t.Errorf("cookies = %s", stored.Cookies)
	}

	if err := db.DeleteAccount(ctx, 7); err != nil {
		t.Fatal(err)
	}
	if _, err := db.GetSession(ctx, 7); !errors.Is(err, ErrNotFound) {
		t.Errorf("session should be removed with the account, got %v", err)
	}
}

func TestAuditAndCleanup(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	target := createTarget(t, db, 1, "dave")

	old := &models.AuditEvent{
		TargetID:  &target.ID,
		Kind:      models.AuditTargetAdded,
		Message:   "added",
		CreatedAt: time.Now().Add(-60 * 24 * time.Hour),
	}
	recent := &models.AuditEvent{Kind: models.AuditLoginSucceeded}
	for _, e := range []*models.AuditEvent{old, recent} {
		if err := db.AppendAudit(ctx, e); err != nil {
			t.Fatal(err)
		}
	}
	if old.ID == "" || old.ID == recent.ID {
		t.Fatalf("expected distinct generated ids, got %q and %q", old.ID, recent.ID)
	}

	res, err := db.Cleanup(ctx, time.Now().Add(-30*24*time.Hour))
	if err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if res.AuditEvents != 1 {
		t.Errorf("removed %d audit events, want 1", res.AuditEvents)
	}

	events, err := db.RecentAudit(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].Kind != models.AuditLoginSucceeded {
		t.Errorf("remaining events = %+v", events)
	}
}

func TestBackup(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	createTarget(t, db, 1, "erin")

	path := filepath.Join(t.TempDir(), "backups", "copy.db")
	if err := db.Backup(ctx, path); err != nil {
		t.Fatalf("Backup() error = %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("backup file missing: %v", err)
	}

	copyDB, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	defer copyDB.Close()

	targets, err := copyDB.GetAllTargets(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(targets) != 1 || targets[0].ForumUsername != "erin" {
		t.Errorf("backup targets = %+v", targets)
	}

	if err := db.Backup(ctx, path); err == nil {
		t.Error("backup should refuse to overwrite an existing file")
	}
}
