package models

import (
	"strconv"
	"time"
)

// Post is a single forum post fetched from a profile page
type Post struct {
	ID          string
	Author      string
	Title       string
	BodyPreview string
	URL         string
	CreatedAt   time.Time
}

// Rank orders posts by recency. Forum post IDs are sequential, so a numeric ID
// is used directly; otherwise the creation time is used.
func (p Post) Rank() int64 {
	if n, err := strconv.ParseInt(p.ID, 10, 64); err == nil {
		return n
	}
	return p.CreatedAt.Unix()
}
