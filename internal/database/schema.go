package database

// Schema is the full current schema, kept in sync with the migration files.
// Tests apply it directly to in-memory databases instead of running the
// migration machinery.
const Schema = `
CREATE TABLE users (
    id TEXT PRIMARY KEY,
    handle TEXT NOT NULL UNIQUE,
    name TEXT NOT NULL DEFAULT '',
    remote_id TEXT NOT NULL DEFAULT '',
    remote_mention_url TEXT NOT NULL DEFAULT '',
    nsfw INTEGER NOT NULL DEFAULT 0,
    banned INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX idx_users_handle_lower ON users (lower(handle));
CREATE INDEX idx_users_remote_id ON users (remote_id);

CREATE TABLE posts (
    id TEXT PRIMARY KEY,
    author_id TEXT NOT NULL REFERENCES users (id),
    parent_id TEXT REFERENCES posts (id),
    quoted_post_id TEXT REFERENCES posts (id),
    privacy INTEGER NOT NULL DEFAULT 0,
    content TEXT NOT NULL DEFAULT '',
    markdown_content TEXT NOT NULL DEFAULT '',
    content_warning TEXT NOT NULL DEFAULT '',
    hierarchy_level INTEGER NOT NULL DEFAULT 1,
    is_reblog INTEGER NOT NULL DEFAULT 0,
    remote_post_id TEXT NOT NULL DEFAULT '',
    remote_thread_uri TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX idx_posts_parent ON posts (parent_id);
CREATE INDEX idx_posts_author ON posts (author_id);
CREATE UNIQUE INDEX idx_posts_remote ON posts (remote_post_id) WHERE remote_post_id != '';

CREATE TABLE mentions (
    post_id TEXT NOT NULL REFERENCES posts (id),
    user_id TEXT NOT NULL REFERENCES users (id),
    PRIMARY KEY (post_id, user_id)
);

CREATE TABLE blocks (
    blocker_id TEXT NOT NULL REFERENCES users (id),
    blocked_id TEXT NOT NULL REFERENCES users (id),
    PRIMARY KEY (blocker_id, blocked_id)
);

CREATE TABLE notifications (
    id TEXT PRIMARY KEY,
    type TEXT NOT NULL,
    notified_user_id TEXT NOT NULL REFERENCES users (id),
    actor_user_id TEXT NOT NULL REFERENCES users (id),
    post_id TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX idx_notifications_post_type ON notifications (post_id, type);
CREATE INDEX idx_notifications_notified ON notifications (notified_user_id);

CREATE TABLE tags (
    post_id TEXT NOT NULL REFERENCES posts (id),
    tag_name TEXT NOT NULL
);

CREATE INDEX idx_tags_post ON tags (post_id);

CREATE TABLE asks (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_asked_id TEXT NOT NULL REFERENCES users (id),
    user_asker_id TEXT NOT NULL DEFAULT '',
    post_id TEXT NOT NULL DEFAULT '',
    answered INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE medias (
    id TEXT PRIMARY KEY,
    post_id TEXT NOT NULL DEFAULT '',
    description TEXT NOT NULL DEFAULT '',
    nsfw INTEGER NOT NULL DEFAULT 0,
    media_order INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX idx_medias_post ON medias (post_id);

CREATE TABLE emojis (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL UNIQUE,
    url TEXT NOT NULL DEFAULT ''
);

CREATE TABLE post_emojis (
    post_id TEXT NOT NULL REFERENCES posts (id),
    emoji_id TEXT NOT NULL REFERENCES emojis (id),
    PRIMARY KEY (post_id, emoji_id)
);

CREATE TABLE user_options (
    user_id TEXT NOT NULL REFERENCES users (id),
    name TEXT NOT NULL,
    value TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (user_id, name)
);
`
