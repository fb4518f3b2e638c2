package pipeline

import (
	"context"

	"fedipost/internal/model"
)

// Store provides the persistence operations the pipeline needs. Lookups
// return (nil, nil) when the entity does not exist. Association writes are
// full replacements; concurrent edits of the same post resolve last-write-wins
// at this layer.
type Store interface {
	// User operations

	// FindUserByID returns a user by id.
	FindUserByID(ctx context.Context, id string) (*model.User, error)

	// FindUsersByIDs returns the users whose ids are in the given set.
	FindUsersByIDs(ctx context.Context, ids []string) ([]*model.User, error)

	// FindUsersByHandlesOrIDs returns the union of users matched
	// case-insensitively by canonical handle and users matched by id.
	FindUsersByHandlesOrIDs(ctx context.Context, handles []string, ids []string) ([]*model.User, error)

	// FindOrCreateRemoteUser returns the user for a remote actor id,
	// creating a placeholder identity on first sight.
	FindOrCreateRemoteUser(ctx context.Context, actorID string) (*model.User, error)

	// GetUserOptions returns the named options stored for a user.
	GetUserOptions(ctx context.Context, userID string) ([]model.UserOption, error)

	// Post operations

	// FindPostByID returns a post by id.
	FindPostByID(ctx context.Context, id string) (*model.Post, error)

	// FindPostByRemoteID returns the local record of a remote post.
	FindPostByRemoteID(ctx context.Context, remoteID string) (*model.Post, error)

	// FindPostAncestors returns the parent chain of a post up to the thread
	// root, nearest parent first.
	FindPostAncestors(ctx context.Context, id string) ([]*model.Post, error)

	// CreatePost inserts a new post row.
	CreatePost(ctx context.Context, post *model.Post) error

	// UpdatePost overwrites the mutable columns of an existing post.
	UpdatePost(ctx context.Context, post *model.Post) error

	// SetPostParent attaches a parent to a post and records its new depth.
	SetPostParent(ctx context.Context, postID, parentID string, hierarchyLevel int) error

	// SetPostQuote links a post to the post it quotes.
	SetPostQuote(ctx context.Context, postID, quotedPostID string) error

	// Association operations, all destroy-then-recreate

	// ReplaceMentions replaces the mention rows of a post.
	ReplaceMentions(ctx context.Context, postID string, userIDs []string) error

	// FindMentionedUserIDs returns the user ids mentioned by a post.
	FindMentionedUserIDs(ctx context.Context, postID string) ([]string, error)

	// ReplaceTags replaces the tag rows of a post.
	ReplaceTags(ctx context.Context, postID string, tags []string) error

	// FindEmojisByShortcodes returns the custom emojis whose names are in
	// the given set.
	FindEmojisByShortcodes(ctx context.Context, names []string) ([]model.Emoji, error)

	// ReplacePostEmojis replaces the emoji rows of a post.
	ReplacePostEmojis(ctx context.Context, postID string, emojiIDs []string) error

	// FindPostEmojiIDs returns the emoji ids associated with a post.
	FindPostEmojiIDs(ctx context.Context, postID string) ([]string, error)

	// SetPostMedia attaches the given media ids to a post.
	SetPostMedia(ctx context.Context, postID string, mediaIDs []string) error

	// UpdateMediaDetails updates order, description and NSFW flag of media
	// rows; order is the slice position.
	UpdateMediaDetails(ctx context.Context, medias []model.MediaInput) error

	// Block and ban lookups, read-only

	// CountBlocksBetween counts blocks in either direction between one user
	// and any user in the given set.
	CountBlocksBetween(ctx context.Context, userID string, otherIDs []string) (int, error)

	// CountBannedUsers counts users in the given set that are banned.
	CountBannedUsers(ctx context.Context, ids []string) (int, error)

	// Notification operations

	// CreateNotification inserts a notification row.
	CreateNotification(ctx context.Context, n *model.Notification) error

	// DeleteNotifications removes notifications of a type for a post. An
	// empty notifiedUserID matches every recipient.
	DeleteNotifications(ctx context.Context, notifType, postID, notifiedUserID string) error

	// FindNotificationsByPost returns all notifications referencing a post.
	FindNotificationsByPost(ctx context.Context, postID string) ([]*model.Notification, error)

	// Ask operations

	// FindAskForUser returns an ask addressed to the given user.
	FindAskForUser(ctx context.Context, askID int64, userAskedID string) (*model.Ask, error)

	// AnswerAsk marks an ask answered by the given post.
	AnswerAsk(ctx context.Context, askID int64, postID string) error

	// Close closes the underlying connection.
	Close() error
}
