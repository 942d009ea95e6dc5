package database

const schema = `
CREATE TABLE IF NOT EXISTS targets (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    forum_username TEXT NOT NULL,
    owner_chat_id INTEGER NOT NULL,
    account_id INTEGER NOT NULL DEFAULT 0,
    interval_seconds INTEGER NOT NULL,
    last_seen_post_id TEXT,
    last_seen_rank INTEGER NOT NULL DEFAULT 0,
    enabled BOOLEAN NOT NULL DEFAULT true,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(owner_chat_id, forum_username)
);

CREATE TABLE IF NOT EXISTS forum_accounts (
    chat_id INTEGER PRIMARY KEY,
    forum_username TEXT NOT NULL,
    forum_password TEXT NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS sessions (
    account_id INTEGER PRIMARY KEY,
    cookies BLOB NOT NULL,
    created_at DATETIME NOT NULL,
    expires_at DATETIME NOT NULL,
    valid BOOLEAN NOT NULL DEFAULT true
);

CREATE TABLE IF NOT EXISTS notified_posts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    target_id INTEGER NOT NULL REFERENCES targets(id) ON DELETE CASCADE,
    post_id TEXT NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(target_id, post_id)
);

CREATE TABLE IF NOT EXISTS audit_log (
    id TEXT PRIMARY KEY,
    target_id INTEGER,
    account_id INTEGER NOT NULL DEFAULT 0,
    kind TEXT NOT NULL,
    message TEXT NOT NULL DEFAULT '',
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_targets_owner ON targets(owner_chat_id);
CREATE INDEX IF NOT EXISTS idx_targets_enabled ON targets(enabled);
CREATE INDEX IF NOT EXISTS idx_notified_created ON notified_posts(created_at);
CREATE INDEX IF NOT EXISTS idx_audit_created ON audit_log(created_at);
`
