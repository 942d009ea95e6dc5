package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mucstudio/let-monitor/internal/forum"
	"github.com/mucstudio/let-monitor/pkg/models"
)

// Sessions hands out forum sessions per account
type Sessions interface {
	Acquire(ctx context.Context, accountID int64) (func(), error)
	EnsureValid(ctx context.Context, accountID int64) (*models.Session, error)
	Invalidate(ctx context.Context, accountID int64) error
}

// Fetcher reads the posts of a target
type Fetcher interface {
	FetchPosts(ctx context.Context, session *models.Session, target *models.Target) ([]models.Post, error)
}

// Dedup separates new posts from already seen ones
type Dedup interface {
	FilterNew(ctx context.Context, target *models.Target, posts []models.Post) ([]models.Post, error)
	Commit(ctx context.Context, target *models.Target, posts []models.Post) error
	Claim(ctx context.Context, target *models.Target, post models.Post) (bool, error)
}

// PostNotifier delivers new post notifications
type PostNotifier interface {
	NotifyNewPost(ctx context.Context, target *models.Target, post models.Post) error
}

// Poller runs a single poll cycle: fetch, dedup, notify, commit
type Poller struct {
	sessions Sessions
	fetcher  Fetcher
	dedup    Dedup
	notifier PostNotifier
	logger   *slog.Logger
}

// NewPoller creates a new poller
func NewPoller(sessions Sessions, fetcher Fetcher, dedup Dedup, notifier PostNotifier, logger *slog.Logger) *Poller {
	return &Poller{
		sessions: sessions,
		fetcher:  fetcher,
		dedup:    dedup,
		notifier: notifier,
		logger:   logger.With("component", "poller"),
	}
}

// Poll runs one cycle for the target and returns the target with its
// marker as it stands afterwards. The account lease covers only the login
// and fetch, so targets sharing an account never use its session
// concurrently but are not held up by slow deliveries.
func (p *Poller) Poll(ctx context.Context, target models.Target) (models.Target, error) {
	release, err := p.sessions.Acquire(ctx, target.AccountID)
	if err != nil {
		return target, fmt.Errorf("acquire account %d: %w", target.AccountID, err)
	}

	posts, err := p.fetch(ctx, &target)
	release()
	if err != nil {
		return target, err
	}

	fresh, err := p.dedup.FilterNew(ctx, &target, posts)
	if err != nil {
		return target, err
	}

	for _, post := range fresh {
		claimed, err := p.dedup.Claim(ctx, &target, post)
		if err != nil {
			return target, err
		}
		if !claimed {
			continue
		}
		if err := p.notifier.NotifyNewPost(ctx, &target, post); err != nil {
			// Delivery is best effort; the post stays claimed
			p.logger.Warn("New post notification dropped", "target_id", target.ID, "post_id", post.ID, "error", err)
		}
	}

	if err := p.dedup.Commit(ctx, &target, posts); err != nil {
		return target, err
	}

	if len(fresh) > 0 {
		p.logger.Info("New posts processed", "target_id", target.ID, "username", target.ForumUsername, "count", len(fresh))
	}
	return target, nil
}

// fetch reads the target's posts. A rejected session is invalidated and
// replaced once within the cycle.
func (p *Poller) fetch(ctx context.Context, target *models.Target) ([]models.Post, error) {
	session, err := p.sessions.EnsureValid(ctx, target.AccountID)
	if err != nil {
		return nil, err
	}

	posts, err := p.fetcher.FetchPosts(ctx, session, target)
	if !forum.IsAuthRejected(err) {
		return posts, err
	}

	p.logger.Info("Session rejected, logging in again", "target_id", target.ID, "account_id", target.AccountID)
	if err := p.sessions.Invalidate(ctx, target.AccountID); err != nil {
		p.logger.Warn("Failed to invalidate session", "account_id", target.AccountID, "error", err)
	}

	session, err = p.sessions.EnsureValid(ctx, target.AccountID)
	if err != nil {
		return nil, err
	}
	return p.fetcher.FetchPosts(ctx, session, target)
}
