package models

import "time"

// Target represents a forum profile registered for monitoring
type Target struct {
	ID              int64     `db:"id"`
	ForumUsername   string    `db:"forum_username"`    // Profile being watched
	OwnerChatID     int64     `db:"owner_chat_id"`     // Telegram chat that receives notifications (0 = admins)
	AccountID       int64     `db:"account_id"`        // Forum account used to fetch the profile
	IntervalSeconds int       `db:"interval_seconds"`  // Poll cadence
	LastSeenPostID  *string   `db:"last_seen_post_id"` // Dedup marker, nil until the first successful poll
	LastSeenRank    int64     `db:"last_seen_rank"`    // Rank of LastSeenPostID
	Enabled         bool      `db:"enabled"`
	CreatedAt       time.Time `db:"created_at"`
	UpdatedAt       time.Time `db:"updated_at"`
}

// Interval returns the poll interval as a duration
func (t *Target) Interval() time.Duration {
	return time.Duration(t.IntervalSeconds) * time.Second
}

// HasMarker reports whether the target has seen at least one post
func (t *Target) HasMarker() bool {
	return t.LastSeenPostID != nil
}

// SetMarker moves the dedup marker to the given post
func (t *Target) SetMarker(postID string, rank int64) {
	id := postID
	t.LastSeenPostID = &id
	t.LastSeenRank = rank
}
