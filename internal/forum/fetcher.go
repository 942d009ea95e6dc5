package forum

import (
	"context"
	"errors"
	"time"

	"github.com/mucstudio/let-monitor/pkg/models"
)

// Transport is the forum I/O the Fetcher and session manager depend on
type Transport interface {
	Login(ctx context.Context, account *models.Account) ([]byte, error)
	FetchProfilePosts(ctx context.Context, blob []byte, username string) ([]models.Post, error)
}

// Fetcher performs a single bounded attempt to read a target's posts.
// It never retries; every failure comes back as a *FetchError.
type Fetcher struct {
	transport Transport
	timeout   time.Duration
}

// NewFetcher creates a new fetcher
func NewFetcher(transport Transport, timeout time.Duration) *Fetcher {
	return &Fetcher{transport: transport, timeout: timeout}
}

// FetchPosts returns the target's posts newest first
func (f *Fetcher) FetchPosts(ctx context.Context, session *models.Session, target *models.Target) ([]models.Post, error) {
	if session == nil {
		return nil, &FetchError{Kind: AuthRejected, Op: "fetch", URL: target.ForumUsername, Err: errors.New("no session")}
	}

	fetchCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	posts, err := f.transport.FetchProfilePosts(fetchCtx, session.Cookies, target.ForumUsername)
	if err == nil {
		return posts, nil
	}

	if errors.Is(err, context.DeadlineExceeded) || fetchCtx.Err() != nil {
		return nil, &FetchError{Kind: Transient, Op: "fetch", URL: target.ForumUsername, Err: err}
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return nil, fe
	}
	return nil, &FetchError{Kind: Transient, Op: "fetch", URL: target.ForumUsername, Err: err}
}
