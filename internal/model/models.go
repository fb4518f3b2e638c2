package model

import "time"

// Privacy is the visibility classification of a post. Higher values are more
// restrictive, except Suppressed which marks a federation-removed post.
type Privacy int

const (
	PrivacyPublic        Privacy = 0
	PrivacyFollowersOnly Privacy = 1
	PrivacyLocalOnly     Privacy = 2
	PrivacyUnlisted      Privacy = 3
	PrivacySuppressed    Privacy = 10
)

func (p Privacy) String() string {
	switch p {
	case PrivacyPublic:
		return "public"
	case PrivacyFollowersOnly:
		return "followersOnly"
	case PrivacyLocalOnly:
		return "localOnly"
	case PrivacyUnlisted:
		return "unlisted"
	case PrivacySuppressed:
		return "suppressed"
	}
	return "unknown"
}

// User is a local or remote identity. Local users have an undecorated Handle
// ("alice"); remote users keep the full form ("@alice@example.social").
type User struct {
	ID               string // UUID
	Handle           string // canonical, stored as-is; lookups are case-insensitive
	Name             string // display name
	RemoteID         string // federation actor id for remote users, empty for local
	RemoteMentionURL string // preferred profile URL supplied by the remote, optional
	NSFW             bool   // globally marked sensitive; forces a default content warning
	Banned           bool
	CreatedAt        time.Time
}

// IsLocal reports whether the user lives on this instance.
func (u *User) IsLocal() bool { return len(u.Handle) == 0 || u.Handle[0] != '@' }

// Post is a published entry in a thread.
type Post struct {
	ID              string // UUID
	AuthorID        string
	ParentID        string // optional self-reference
	QuotedPostID    string // optional
	Privacy         Privacy
	Content         string // sanitized HTML
	MarkdownContent string // original source text
	ContentWarning  string
	HierarchyLevel  int // depth from thread root; root = 1
	IsReblog        bool
	RemotePostID    string // federation-protocol id, optional
	RemoteThreadURI string // alternate-protocol thread id, optional
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Mention links a post to a mentioned user. (PostID, UserID) is unique.
type Mention struct {
	PostID string
	UserID string
}

// Block is a directed blocker→blocked relation. Read-only to the pipeline.
type Block struct {
	BlockerID string
	BlockedID string
}

// Notification event types.
const (
	NotificationRewoot  = "REWOOT"
	NotificationQuote   = "QUOTE"
	NotificationMention = "MENTION"
)

// Notification is a typed event addressed to a single user.
type Notification struct {
	ID             string
	Type           string // REWOOT, QUOTE or MENTION
	NotifiedUserID string
	ActorUserID    string
	PostID         string
	CreatedAt      time.Time
}

// Tag is a (post, tag name) pair, cascade-replaced on every publish.
type Tag struct {
	PostID  string
	TagName string
}

// Emoji is a custom instance emoji. Name carries the colons (":tada:") so a
// shortcode scan matches it directly.
type Emoji struct {
	ID   string
	Name string
	URL  string
}

// Ask is an open question answered by at most one post.
type Ask struct {
	ID          int64
	UserAskedID string // recipient, must match the poster answering it
	UserAskerID string // optional; auto-mentioned when the answer is published
	PostID      string // set once when answered
	Answered    bool
}

// Media is an attachment owned by a post.
type Media struct {
	ID          string
	PostID      string
	Description string
	NSFW        bool
	Order       int
}

// MediaInput is the caller-supplied attachment list for a publish request.
// Order is positional.
type MediaInput struct {
	ID          string
	Description string
	NSFW        bool
}

// UserOption is a named per-user setting, e.g. the federation partner opt-in.
type UserOption struct {
	UserID string
	Name   string
	Value  string
}

// RemoteNote is the decoded federation representation of a remote post.
type RemoteNote struct {
	ID           string
	AttributedTo string // remote actor id
	Content      string
	InReplyTo    string
	Summary      string // content warning
	Published    time.Time
	RepliesFirst *RemotePage
}

// RemotePage is one page of a paginated remote reply collection. Items are
// reduced to their object ids; Next is empty on the last page.
type RemotePage struct {
	Items []string
	Next  string
}
