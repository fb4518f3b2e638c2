package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"fedipost/internal/model"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteStore implements the pipeline Store interface using SQLite.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore creates a new SQLite store.
// path can be a file path or ":memory:" for an in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db, path: path}, nil
}

// NewSQLiteStoreFromDB wraps an existing connection. The caller is
// responsible for the connection's configuration and lifetime.
func NewSQLiteStoreFromDB(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// OpenConnection opens and configures a SQLite connection with the PRAGMAs
// the store relies on. path can be a file path or ":memory:".
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Foreign keys default to OFF in SQLite for backward compatibility.
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	return db, nil
}

// DB exposes the underlying connection for migrations.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

// Close closes the database connection.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// placeholders returns "?,?,..." with n markers.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func stringArgs(ids []string) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

// User operations

const userColumns = "id, handle, name, remote_id, remote_mention_url, nsfw, banned, created_at"

func scanUser(row interface{ Scan(...any) error }) (*model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Handle, &u.Name, &u.RemoteID, &u.RemoteMentionURL, &u.NSFW, &u.Banned, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *SQLiteStore) FindUserByID(ctx context.Context, id string) (*model.User, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding user by id: %w", err)
	}
	return u, nil
}

func (s *SQLiteStore) FindUsersByIDs(ctx context.Context, ids []string) ([]*model.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := "SELECT " + userColumns + " FROM users WHERE id IN (" + placeholders(len(ids)) + ")"
	return s.queryUsers(ctx, query, stringArgs(ids)...)
}

func (s *SQLiteStore) FindUsersByHandlesOrIDs(ctx context.Context, handles []string, ids []string) ([]*model.User, error) {
	if len(handles) == 0 && len(ids) == 0 {
		return nil, nil
	}
	var clauses []string
	var args []any
	if len(handles) > 0 {
		clauses = append(clauses, "lower(handle) IN ("+placeholders(len(handles))+")")
		for _, h := range handles {
			args = append(args, strings.ToLower(h))
		}
	}
	if len(ids) > 0 {
		clauses = append(clauses, "id IN ("+placeholders(len(ids))+")")
		args = append(args, stringArgs(ids)...)
	}
	query := "SELECT " + userColumns + " FROM users WHERE " + strings.Join(clauses, " OR ")
	return s.queryUsers(ctx, query, args...)
}

func (s *SQLiteStore) queryUsers(ctx context.Context, query string, args ...any) ([]*model.User, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}
	defer rows.Close()

	var users []*model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *SQLiteStore) FindOrCreateRemoteUser(ctx context.Context, actorID string) (*model.User, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE remote_id = ?", actorID)
	u, err := scanUser(row)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("finding remote user: %w", err)
	}

	created := &model.User{
		ID:       uuid.New().String(),
		Handle:   "@" + actorID,
		RemoteID: actorID,
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO users (id, handle, remote_id, created_at) VALUES (?, ?, ?, datetime('now'))",
		created.ID, created.Handle, created.RemoteID)
	if err != nil {
		return nil, fmt.Errorf("creating remote user: %w", err)
	}
	return created, nil
}

func (s *SQLiteStore) GetUserOptions(ctx context.Context, userID string) ([]model.UserOption, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT user_id, name, value FROM user_options WHERE user_id = ?", userID)
	if err != nil {
		return nil, fmt.Errorf("querying user options: %w", err)
	}
	defer rows.Close()

	var opts []model.UserOption
	for rows.Next() {
		var o model.UserOption
		if err := rows.Scan(&o.UserID, &o.Name, &o.Value); err != nil {
			return nil, fmt.Errorf("scanning user option: %w", err)
		}
		opts = append(opts, o)
	}
	return opts, rows.Err()
}

// Post operations

const postColumns = "id, author_id, parent_id, quoted_post_id, privacy, content, markdown_content, content_warning, hierarchy_level, is_reblog, remote_post_id, remote_thread_uri, created_at, updated_at"

func scanPost(row interface{ Scan(...any) error }) (*model.Post, error) {
	var p model.Post
	var parentID, quotedID sql.NullString
	err := row.Scan(&p.ID, &p.AuthorID, &parentID, &quotedID, &p.Privacy, &p.Content,
		&p.MarkdownContent, &p.ContentWarning, &p.HierarchyLevel, &p.IsReblog,
		&p.RemotePostID, &p.RemoteThreadURI, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.ParentID = parentID.String
	p.QuotedPostID = quotedID.String
	return &p, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (s *SQLiteStore) FindPostByID(ctx context.Context, id string) (*model.Post, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+postColumns+" FROM posts WHERE id = ?", id)
	p, err := scanPost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding post by id: %w", err)
	}
	return p, nil
}

func (s *SQLiteStore) FindPostByRemoteID(ctx context.Context, remoteID string) (*model.Post, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+postColumns+" FROM posts WHERE remote_post_id = ?", remoteID)
	p, err := scanPost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding post by remote id: %w", err)
	}
	return p, nil
}

func (s *SQLiteStore) FindPostAncestors(ctx context.Context, id string) ([]*model.Post, error) {
	query := `
WITH RECURSIVE chain AS (
    SELECT ` + postColumns + ` FROM posts WHERE id = (SELECT parent_id FROM posts WHERE id = ?)
    UNION ALL
    SELECT ` + prefixedPostColumns("p") + ` FROM posts p JOIN chain c ON p.id = c.parent_id
)
SELECT ` + postColumns + ` FROM chain`
	rows, err := s.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("querying ancestors: %w", err)
	}
	defer rows.Close()

	var posts []*model.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning ancestor: %w", err)
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

func prefixedPostColumns(prefix string) string {
	cols := strings.Split(postColumns, ", ")
	for i, c := range cols {
		cols[i] = prefix + "." + c
	}
	return strings.Join(cols, ", ")
}

func (s *SQLiteStore) CreatePost(ctx context.Context, p *model.Post) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO posts (`+postColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.AuthorID, nullable(p.ParentID), nullable(p.QuotedPostID), p.Privacy,
		p.Content, p.MarkdownContent, p.ContentWarning, p.HierarchyLevel, p.IsReblog,
		p.RemotePostID, p.RemoteThreadURI, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting post: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdatePost(ctx context.Context, p *model.Post) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE posts
SET content = ?, markdown_content = ?, content_warning = ?, privacy = ?, updated_at = ?
WHERE id = ?`,
		p.Content, p.MarkdownContent, p.ContentWarning, p.Privacy, p.UpdatedAt, p.ID)
	if err != nil {
		return fmt.Errorf("updating post: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SetPostParent(ctx context.Context, postID, parentID string, hierarchyLevel int) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE posts SET parent_id = ?, hierarchy_level = ? WHERE id = ?",
		nullable(parentID), hierarchyLevel, postID)
	if err != nil {
		return fmt.Errorf("setting post parent: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SetPostQuote(ctx context.Context, postID, quotedPostID string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE posts SET quoted_post_id = ? WHERE id = ?",
		nullable(quotedPostID), postID)
	if err != nil {
		return fmt.Errorf("setting post quote: %w", err)
	}
	return nil
}

// Association operations

func (s *SQLiteStore) ReplaceMentions(ctx context.Context, postID string, userIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM mentions WHERE post_id = ?", postID); err != nil {
		return fmt.Errorf("clearing mentions: %w", err)
	}
	for _, userID := range userIDs {
		if _, err := tx.ExecContext(ctx, "INSERT INTO mentions (post_id, user_id) VALUES (?, ?)", postID, userID); err != nil {
			return fmt.Errorf("inserting mention: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) FindMentionedUserIDs(ctx context.Context, postID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT user_id FROM mentions WHERE post_id = ?", postID)
	if err != nil {
		return nil, fmt.Errorf("querying mentions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning mention: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteStore) ReplaceTags(ctx context.Context, postID string, tags []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM tags WHERE post_id = ?", postID); err != nil {
		return fmt.Errorf("clearing tags: %w", err)
	}
	for _, tag := range tags {
		if _, err := tx.ExecContext(ctx, "INSERT INTO tags (post_id, tag_name) VALUES (?, ?)", postID, tag); err != nil {
			return fmt.Errorf("inserting tag: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) FindEmojisByShortcodes(ctx context.Context, names []string) ([]model.Emoji, error) {
	if len(names) == 0 {
		return nil, nil
	}
	query := "SELECT id, name, url FROM emojis WHERE name IN (" + placeholders(len(names)) + ")"
	rows, err := s.db.QueryContext(ctx, query, stringArgs(names)...)
	if err != nil {
		return nil, fmt.Errorf("querying emojis: %w", err)
	}
	defer rows.Close()

	var emojis []model.Emoji
	for rows.Next() {
		var e model.Emoji
		if err := rows.Scan(&e.ID, &e.Name, &e.URL); err != nil {
			return nil, fmt.Errorf("scanning emoji: %w", err)
		}
		emojis = append(emojis, e)
	}
	return emojis, rows.Err()
}

func (s *SQLiteStore) ReplacePostEmojis(ctx context.Context, postID string, emojiIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM post_emojis WHERE post_id = ?", postID); err != nil {
		return fmt.Errorf("clearing post emojis: %w", err)
	}
	for _, emojiID := range emojiIDs {
		if _, err := tx.ExecContext(ctx, "INSERT INTO post_emojis (post_id, emoji_id) VALUES (?, ?)", postID, emojiID); err != nil {
			return fmt.Errorf("inserting post emoji: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) FindPostEmojiIDs(ctx context.Context, postID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT emoji_id FROM post_emojis WHERE post_id = ?", postID)
	if err != nil {
		return nil, fmt.Errorf("querying post emojis: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning post emoji: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteStore) SetPostMedia(ctx context.Context, postID string, mediaIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "UPDATE medias SET post_id = '' WHERE post_id = ?", postID); err != nil {
		return fmt.Errorf("detaching media: %w", err)
	}
	if len(mediaIDs) > 0 {
		query := "UPDATE medias SET post_id = ? WHERE id IN (" + placeholders(len(mediaIDs)) + ")"
		args := append([]any{postID}, stringArgs(mediaIDs)...)
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("attaching media: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) UpdateMediaDetails(ctx context.Context, medias []model.MediaInput) error {
	for order, m := range medias {
		_, err := s.db.ExecContext(ctx,
			"UPDATE medias SET media_order = ?, description = ?, nsfw = ? WHERE id = ?",
			order, m.Description, m.NSFW, m.ID)
		if err != nil {
			return fmt.Errorf("updating media %s: %w", m.ID, err)
		}
	}
	return nil
}

// Block and ban lookups

func (s *SQLiteStore) CountBlocksBetween(ctx context.Context, userID string, otherIDs []string) (int, error) {
	if len(otherIDs) == 0 {
		return 0, nil
	}
	in := placeholders(len(otherIDs))
	query := `
SELECT COUNT(*) FROM blocks
WHERE (blocker_id = ? AND blocked_id IN (` + in + `))
   OR (blocked_id = ? AND blocker_id IN (` + in + `))`
	args := append([]any{userID}, stringArgs(otherIDs)...)
	args = append(args, userID)
	args = append(args, stringArgs(otherIDs)...)

	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting blocks: %w", err)
	}
	return count, nil
}

func (s *SQLiteStore) CountBannedUsers(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query := "SELECT COUNT(*) FROM users WHERE banned = 1 AND id IN (" + placeholders(len(ids)) + ")"
	var count int
	if err := s.db.QueryRowContext(ctx, query, stringArgs(ids)...).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting banned users: %w", err)
	}
	return count, nil
}

// Notification operations

func (s *SQLiteStore) CreateNotification(ctx context.Context, n *model.Notification) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO notifications (id, type, notified_user_id, actor_user_id, post_id, created_at)
VALUES (?, ?, ?, ?, ?, ?)`,
		n.ID, n.Type, n.NotifiedUserID, n.ActorUserID, n.PostID, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting notification: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteNotifications(ctx context.Context, notifType, postID, notifiedUserID string) error {
	query := "DELETE FROM notifications WHERE type = ? AND post_id = ?"
	args := []any{notifType, postID}
	if notifiedUserID != "" {
		query += " AND notified_user_id = ?"
		args = append(args, notifiedUserID)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("deleting notifications: %w", err)
	}
	return nil
}

func (s *SQLiteStore) FindNotificationsByPost(ctx context.Context, postID string) ([]*model.Notification, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, type, notified_user_id, actor_user_id, post_id, created_at
FROM notifications WHERE post_id = ? ORDER BY created_at`, postID)
	if err != nil {
		return nil, fmt.Errorf("querying notifications: %w", err)
	}
	defer rows.Close()

	var notifs []*model.Notification
	for rows.Next() {
		var n model.Notification
		if err := rows.Scan(&n.ID, &n.Type, &n.NotifiedUserID, &n.ActorUserID, &n.PostID, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning notification: %w", err)
		}
		notifs = append(notifs, &n)
	}
	return notifs, rows.Err()
}

// Ask operations

func (s *SQLiteStore) FindAskForUser(ctx context.Context, askID int64, userAskedID string) (*model.Ask, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, user_asked_id, user_asker_id, post_id, answered
FROM asks WHERE id = ? AND user_asked_id = ?`, askID, userAskedID)

	var a model.Ask
	err := row.Scan(&a.ID, &a.UserAskedID, &a.UserAskerID, &a.PostID, &a.Answered)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding ask: %w", err)
	}
	return &a, nil
}

func (s *SQLiteStore) AnswerAsk(ctx context.Context, askID int64, postID string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE asks SET answered = 1, post_id = ? WHERE id = ? AND answered = 0",
		postID, askID)
	if err != nil {
		return fmt.Errorf("answering ask: %w", err)
	}
	return nil
}
