package models

import "time"

// DefaultAccountID is the shared forum account configured from the environment
const DefaultAccountID int64 = 0

// Account represents forum credentials owned by a Telegram chat.
// The owning chat ID doubles as the account ID.
type Account struct {
	ChatID        int64     `db:"chat_id"`
	ForumUsername string    `db:"forum_username"`
	ForumPassword string    `db:"forum_password"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}
