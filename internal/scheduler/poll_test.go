package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/mucstudio/let-monitor/internal/database"
	"github.com/mucstudio/let-monitor/internal/dedup"
	"github.com/mucstudio/let-monitor/internal/forum"
	"github.com/mucstudio/let-monitor/internal/session"
	"github.com/mucstudio/let-monitor/pkg/models"
)

type fakeSessions struct {
	mu          sync.Mutex
	ensureCalls int
	invalidated int
	failAfter   int // EnsureValid calls beyond this fail, 0 means never
	held        bool
}

func (f *fakeSessions) Acquire(context.Context, int64) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.held = true
	return func() {
		f.mu.Lock()
		f.held = false
		f.mu.Unlock()
	}, nil
}

func (f *fakeSessions) leaseHeld() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.held
}

func (f *fakeSessions) EnsureValid(_ context.Context, accountID int64) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensureCalls++
	if f.failAfter > 0 && f.ensureCalls > f.failAfter {
		return nil, &session.AuthError{AccountID: accountID, Attempts: 3, Err: errors.New("bad password")}
	}
	return &models.Session{AccountID: accountID, Cookies: []byte(strconv.Itoa(f.ensureCalls)), Valid: true}, nil
}

func (f *fakeSessions) Invalidate(context.Context, int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated++
	return nil
}

type fetchResult struct {
	posts []models.Post
	err   error
}

type fakeFetcher struct {
	mu      sync.Mutex
	results []fetchResult
	calls   int
	hits    int
}

func (f *fakeFetcher) FetchPosts(context.Context, *models.Session, *models.Target) ([]models.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hits++
	r := f.results[f.calls]
	if f.calls < len(f.results)-1 {
		f.calls++
	}
	return r.posts, r.err
}

type recordingNotifier struct {
	mu    sync.Mutex
	posts []string
	fail  bool

	leaseHeld     func() bool
	heldOnDeliver bool
}

func (n *recordingNotifier) NotifyNewPost(_ context.Context, _ *models.Target, post models.Post) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.posts = append(n.posts, post.ID)
	if n.leaseHeld != nil && n.leaseHeld() {
		n.heldOnDeliver = true
	}
	if n.fail {
		return errors.New("telegram down")
	}
	return nil
}

func newPostList(ids ...int) []models.Post {
	out := make([]models.Post, len(ids))
	for i, id := range ids {
		out[i] = models.Post{ID: strconv.Itoa(id)}
	}
	return out
}

func setupPoller(t *testing.T, sessions *fakeSessions, fetcher *fakeFetcher, notifier *recordingNotifier) (*Poller, *database.DB, models.Target) {
	t.Helper()
	ctx := context.Background()

	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(ctx); err != nil {
		t.Fatal(err)
	}

	target := models.Target{ForumUsername: "bob", OwnerChatID: 1, IntervalSeconds: 60, Enabled: true}
	if err := db.CreateTarget(ctx, &target); err != nil {
		t.Fatal(err)
	}

	d := dedup.New(db, discardLogger())
	return NewPoller(sessions, fetcher, d, notifier, discardLogger()), db, target
}

func rejected() error {
	return &forum.FetchError{Kind: forum.AuthRejected, Op: "fetch", Err: errors.New("redirected to sign in")}
}

func TestPollSeedsThenNotifiesOnce(t *testing.T) {
	ctx := context.Background()
	fetcher := &fakeFetcher{results: []fetchResult{
		{posts: newPostList(5, 4)},
		{posts: newPostList(8, 7, 6, 5)},
		{posts: newPostList(8, 7, 6, 5)},
		{posts: newPostList(9, 7, 6, 5)}, // 8 was deleted, 9 is new
	}}
	notifier := &recordingNotifier{}
	p, db, target := setupPoller(t, &fakeSessions{}, fetcher, notifier)

	var err error
	for i := 0; i < 4; i++ {
		target, err = p.Poll(ctx, target)
		if err != nil {
			t.Fatalf("cycle %d: %v", i+1, err)
		}
		if i == 0 && len(notifier.posts) != 0 {
			t.Fatalf("first poll notified %v", notifier.posts)
		}
	}

	want := []string{"6", "7", "8", "9"}
	if len(notifier.posts) != len(want) {
		t.Fatalf("notified %v, want %v", notifier.posts, want)
	}
	for i := range want {
		if notifier.posts[i] != want[i] {
			t.Fatalf("notified %v, want %v", notifier.posts, want)
		}
	}

	stored, err := db.GetTargetByID(ctx, target.ID)
	if err != nil {
		t.Fatal(err)
	}
	if *stored.LastSeenPostID != "9" || *target.LastSeenPostID != "9" {
		t.Errorf("marker = %s/%s, want 9", *stored.LastSeenPostID, *target.LastSeenPostID)
	}
}

func TestPollCommitsEvenWhenDeliveryFails(t *testing.T) {
	ctx := context.Background()
	fetcher := &fakeFetcher{results: []fetchResult{
		{posts: newPostList(1)},
		{posts: newPostList(2, 1)},
	}}
	notifier := &recordingNotifier{fail: true}
	p, _, target := setupPoller(t, &fakeSessions{}, fetcher, notifier)

	target, err := p.Poll(ctx, target)
	if err != nil {
		t.Fatal(err)
	}
	target, err = p.Poll(ctx, target)
	if err != nil {
		t.Fatalf("delivery failure must not fail the cycle: %v", err)
	}
	if *target.LastSeenPostID != "2" {
		t.Errorf("marker = %s, want 2", *target.LastSeenPostID)
	}

	// The same post is never attempted twice
	if _, err := p.Poll(ctx, target); err != nil {
		t.Fatal(err)
	}
	if len(notifier.posts) != 1 {
		t.Errorf("delivery attempts = %v, want one", notifier.posts)
	}
}

func TestPollReleasesLeaseBeforeDelivery(t *testing.T) {
	ctx := context.Background()
	sessions := &fakeSessions{}
	fetcher := &fakeFetcher{results: []fetchResult{
		{posts: newPostList(1)},
		{posts: newPostList(3, 2, 1)},
	}}
	notifier := &recordingNotifier{leaseHeld: sessions.leaseHeld}
	p, _, target := setupPoller(t, sessions, fetcher, notifier)

	target, err := p.Poll(ctx, target)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Poll(ctx, target); err != nil {
		t.Fatal(err)
	}

	if len(notifier.posts) != 2 {
		t.Fatalf("notified %v, want two posts", notifier.posts)
	}
	if notifier.heldOnDeliver {
		t.Error("account lease was still held while delivering")
	}
	if sessions.leaseHeld() {
		t.Error("account lease not released after the cycle")
	}
}

func TestPollAuthRejectedRelogin(t *testing.T) {
	t.Run("relogin succeeds", func(t *testing.T) {
		sessions := &fakeSessions{}
		fetcher := &fakeFetcher{results: []fetchResult{
			{err: rejected()},
			{posts: newPostList(3)},
		}}
		p, _, target := setupPoller(t, sessions, fetcher, &recordingNotifier{})

		if _, err := p.Poll(context.Background(), target); err != nil {
			t.Fatalf("Poll() error = %v, want recovery", err)
		}
		if sessions.invalidated != 1 || sessions.ensureCalls != 2 {
			t.Errorf("invalidated=%d ensure=%d, want 1 and 2", sessions.invalidated, sessions.ensureCalls)
		}
	})

	t.Run("relogin fails", func(t *testing.T) {
		sessions := &fakeSessions{failAfter: 1}
		fetcher := &fakeFetcher{results: []fetchResult{{err: rejected()}}}
		p, _, target := setupPoller(t, sessions, fetcher, &recordingNotifier{})

		_, err := p.Poll(context.Background(), target)
		if !session.IsAuthError(err) {
			t.Fatalf("Poll() error = %v, want AuthError", err)
		}
		if fetcher.hits != 1 {
			t.Errorf("fetched %d times, want 1", fetcher.hits)
		}
	})

	t.Run("rejected twice", func(t *testing.T) {
		sessions := &fakeSessions{}
		fetcher := &fakeFetcher{results: []fetchResult{{err: rejected()}}}
		p, _, target := setupPoller(t, sessions, fetcher, &recordingNotifier{})

		_, err := p.Poll(context.Background(), target)
		if !forum.IsAuthRejected(err) {
			t.Fatalf("Poll() error = %v, want AuthRejected", err)
		}
		if sessions.invalidated != 1 || fetcher.hits != 2 {
			t.Errorf("invalidated=%d fetched=%d, want 1 and 2", sessions.invalidated, fetcher.hits)
		}
	})
}

func TestPollTransientFailure(t *testing.T) {
	fetcher := &fakeFetcher{results: []fetchResult{
		{err: &forum.FetchError{Kind: forum.Transient, Op: "fetch", Err: errors.New("timeout")}},
	}}
	sessions := &fakeSessions{}
	p, _, target := setupPoller(t, sessions, fetcher, &recordingNotifier{})

	_, err := p.Poll(context.Background(), target)
	if forum.KindOf(err) != forum.Transient {
		t.Fatalf("Poll() error = %v, want Transient", err)
	}
	if sessions.invalidated != 0 {
		t.Error("transient failures must not invalidate the session")
	}
}
