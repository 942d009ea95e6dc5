// Package dedup decides which fetched posts are new for a target and
// advances the persisted last-seen marker.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/mucstudio/let-monitor/internal/database"
	"github.com/mucstudio/let-monitor/pkg/models"
)

// Store persists markers and the notification history
type Store interface {
	SetLastSeen(ctx context.Context, targetID int64, postID string, rank int64) (bool, error)
	ClaimPost(ctx context.Context, targetID int64, postID string) error
}

// Deduplicator tracks the last seen post per target
type Deduplicator struct {
	store  Store
	logger *slog.Logger

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

// New creates a new deduplicator
func New(store Store, logger *slog.Logger) *Deduplicator {
	return &Deduplicator{
		store:  store,
		logger: logger.With("component", "dedup"),
		locks:  make(map[int64]*sync.Mutex),
	}
}

// FilterNew returns the posts newer than the target's marker, oldest first.
// A target without a marker is seeded with the newest post and gets no
// posts back, so existing history is never replayed.
func (d *Deduplicator) FilterNew(ctx context.Context, target *models.Target, posts []models.Post) ([]models.Post, error) {
	unlock := d.lock(target.ID)
	defer unlock()

	if !target.HasMarker() {
		newest, ok := newestPost(posts)
		if !ok {
			return nil, nil
		}
		if err := d.advance(ctx, target, newest); err != nil {
			return nil, err
		}
		d.logger.Info("Seeded last seen post", "target_id", target.ID, "post_id", newest.ID)
		return nil, nil
	}

	var fresh []models.Post
	for _, p := range posts {
		if p.Rank() > target.LastSeenRank {
			fresh = append(fresh, p)
		}
	}
	sort.SliceStable(fresh, func(i, j int) bool {
		return fresh[i].Rank() < fresh[j].Rank()
	})
	return fresh, nil
}

// Commit moves the marker to the newest of posts. Older posts never move
// it backwards, even when commits for the same target race.
func (d *Deduplicator) Commit(ctx context.Context, target *models.Target, posts []models.Post) error {
	unlock := d.lock(target.ID)
	defer unlock()

	newest, ok := newestPost(posts)
	if !ok {
		return nil
	}
	if target.HasMarker() && newest.Rank() <= target.LastSeenRank {
		return nil
	}
	return d.advance(ctx, target, newest)
}

// Claim records that post is about to be notified for target. It returns
// false when the post was notified before.
func (d *Deduplicator) Claim(ctx context.Context, target *models.Target, post models.Post) (bool, error) {
	err := d.store.ClaimPost(ctx, target.ID, post.ID)
	if errors.Is(err, database.ErrAlreadyExists) {
		d.logger.Debug("Post already notified", "target_id", target.ID, "post_id", post.ID)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("claim post %s: %w", post.ID, err)
	}
	return true, nil
}

func (d *Deduplicator) advance(ctx context.Context, target *models.Target, post models.Post) error {
	advanced, err := d.store.SetLastSeen(ctx, target.ID, post.ID, post.Rank())
	if err != nil {
		return fmt.Errorf("save last seen post: %w", err)
	}
	if advanced {
		target.SetMarker(post.ID, post.Rank())
	}
	return nil
}

func (d *Deduplicator) lock(targetID int64) func() {
	d.mu.Lock()
	l, ok := d.locks[targetID]
	if !ok {
		l = &sync.Mutex{}
		d.locks[targetID] = l
	}
	d.mu.Unlock()

	l.Lock()
	return l.Unlock
}

func newestPost(posts []models.Post) (models.Post, bool) {
	if len(posts) == 0 {
		return models.Post{}, false
	}
	newest := posts[0]
	for _, p := range posts[1:] {
		if p.Rank() > newest.Rank() {
			newest = p
		}
	}
	return newest, true
}
