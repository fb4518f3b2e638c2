package pipeline

import (
	"context"
	"fmt"
	"strings"

	"fedipost/internal/model"
)

// Options carries the instance-level settings the pipeline needs.
type Options struct {
	// ProfileURLBase is the public base URL local profile links are built
	// from, e.g. "https://social.example.org".
	ProfileURLBase string

	// PartnerDomainSuffix identifies the opt-in federation partner by
	// handle suffix, e.g. "threads.net". Empty disables the gate.
	PartnerDomainSuffix string

	// PartnerOptionName is the per-user option that records the opt-in.
	PartnerOptionName string
}

// Service is the post-publication pipeline: it resolves visibility and
// authorization against the social graph, rewrites mentions, fans out
// notifications and hands finished posts to the outbound federation queue.
// It also reconstructs remote threads on demand. All collaborators are
// injected once at construction and never mutated.
type Service struct {
	store         Store
	renderer      Renderer
	sanitizer     Sanitizer
	queue         OutboundQueue
	editFederator EditFederator
	remote        RemoteFetcher
	altThreads    AltThreadFetcher
	logger        Logger
	clock         Clock
	idgen         IDGenerator
	opts          Options
}

// NewService creates a Service with the provided dependencies.
func NewService(store Store, renderer Renderer, sanitizer Sanitizer, queue OutboundQueue, editFederator EditFederator, remote RemoteFetcher, altThreads AltThreadFetcher, logger Logger, clock Clock, idgen IDGenerator, opts Options) *Service {
	return &Service{
		store:         store,
		renderer:      renderer,
		sanitizer:     sanitizer,
		queue:         queue,
		editFederator: editFederator,
		remote:        remote,
		altThreads:    altThreads,
		logger:        logger,
		clock:         clock,
		idgen:         idgen,
		opts:          opts,
	}
}

// CreatePostInput is the validated publish request, constructed once at the
// delivery boundary.
type CreatePostInput struct {
	PosterID         string
	Content          string // raw markdown source
	ContentWarning   string
	Privacy          model.Privacy
	ParentID         string
	QuotedPostID     string
	EditPostID       string // set for an edit, empty for a create
	MentionedUserIDs []string
	Medias           []model.MediaInput
	Tags             string // explicit tags, comma-joined
	AskID            int64
}

// IsEdit reports whether the request edits an existing post.
func (in *CreatePostInput) IsEdit() bool { return in.EditPostID != "" }

// PublishResult is the outcome of a publish: the written post plus the
// detached follow-up work the delivery layer runs after responding.
type PublishResult struct {
	Post   *model.Post
	IsEdit bool

	// MediaReorder receives the result of the detached media-detail update,
	// nil when there was nothing to update. The channel is buffered; the
	// caller may drain it or ignore it.
	MediaReorder <-chan error
}

// CreatePost runs the full publication pipeline for a create or edit request.
// Order matters: visibility resolution, mention resolution, the
// authorization gate (before any write), content transformation, the post
// write with its associations, then notification fan-out. Outbound dispatch
// is NOT part of this call; the delivery layer invokes Dispatch after the
// response has been written.
func (s *Service) CreatePost(ctx context.Context, in *CreatePostInput) (*PublishResult, error) {
	poster, err := s.store.FindUserByID(ctx, in.PosterID)
	if err != nil {
		return nil, fmt.Errorf("loading poster: %w", err)
	}
	if poster == nil {
		return nil, &NotFoundError{Message: "poster not found"}
	}

	var quoted *model.Post
	if in.QuotedPostID != "" {
		if quoted, err = s.store.FindPostByID(ctx, in.QuotedPostID); err != nil {
			return nil, fmt.Errorf("loading quoted post: %w", err)
		}
	}

	var parent *model.Post
	var ancestors []*model.Post
	if in.ParentID != "" {
		if parent, err = s.store.FindPostByID(ctx, in.ParentID); err != nil {
			return nil, fmt.Errorf("loading parent: %w", err)
		}
		if parent == nil {
			return nil, &ValidationError{Message: "non existent parent"}
		}
		if ancestors, err = s.store.FindPostAncestors(ctx, parent.ID); err != nil {
			return nil, fmt.Errorf("loading ancestors: %w", err)
		}
	}

	privacy := EffectivePrivacy(in.Privacy, parent, quoted)
	content := strings.TrimSpace(in.Content)

	quotedAuthorID := ""
	if quoted != nil {
		quotedAuthorID = quoted.AuthorID
	}

	// Authors above the poster in the thread, nearest first.
	var chainAuthorIDs []string
	var autoMentionIDs []string
	if parent != nil {
		chainAuthorIDs = append(chainAuthorIDs, parent.AuthorID)
		for _, a := range ancestors {
			chainAuthorIDs = append(chainAuthorIDs, a.AuthorID)
		}
		autoMentionIDs = s.alternateThreadMentions(poster, parent, ancestors, content)

		if err := s.authorizeThread(ctx, poster, parent, chainAuthorIDs, quotedAuthorID); err != nil {
			return nil, err
		}
	} else if quotedAuthorID != "" {
		if err := s.authorizeQuote(ctx, poster, quotedAuthorID); err != nil {
			return nil, err
		}
	}

	mentioned, err := s.resolveMentions(ctx, content, in.MentionedUserIDs)
	if err != nil {
		return nil, err
	}
	mentionIDs := autoMentionIDs
	for _, u := range mentioned {
		mentionIDs = append(mentionIDs, u.ID)
	}
	if len(mentioned) > 0 {
		if err := s.authorizeMentions(ctx, poster.ID, mentioned, mentionIDs); err != nil {
			return nil, err
		}
	}

	contentHTML, err := s.transformContent(content, mentioned)
	if err != nil {
		return nil, err
	}
	warning := resolveContentWarning(in.ContentWarning, poster)

	post, err := s.writePost(ctx, in, poster, parent, quoted, privacy, content, contentHTML, warning, len(mentionIDs))
	if err != nil {
		return nil, err
	}

	if quoted != nil {
		if err := s.store.SetPostQuote(ctx, post.ID, quoted.ID); err != nil {
			return nil, fmt.Errorf("linking quoted post: %w", err)
		}
	}

	mentionIDs, err = s.answerAsk(ctx, in, poster, post, mentionIDs)
	if err != nil {
		return nil, err
	}

	// The quoted author gets a mention row so the post stays visible to
	// them, but their event is the QUOTE notification, not a MENTION.
	mentionRowIDs := mentionIDs
	if quoted != nil {
		mentionRowIDs = append(append([]string{}, mentionIDs...), quoted.AuthorID)
	}
	mentionIDs = dedupExcluding(mentionIDs, poster.ID)
	mentionRowIDs = dedupExcluding(mentionRowIDs, poster.ID)
	if err := s.store.ReplaceMentions(ctx, post.ID, mentionRowIDs); err != nil {
		return nil, fmt.Errorf("writing mentions: %w", err)
	}

	if len(in.Medias) > 0 {
		mediaIDs := make([]string, len(in.Medias))
		for i, m := range in.Medias {
			mediaIDs[i] = m.ID
		}
		if err := s.store.SetPostMedia(ctx, post.ID, mediaIDs); err != nil {
			return nil, fmt.Errorf("attaching media: %w", err)
		}
	}

	s.fanOutNotifications(ctx, post, parent, quoted, mentionIDs, in.IsEdit())

	tags := s.collectTags(contentHTML, in.Tags)
	if err := s.store.ReplaceTags(ctx, post.ID, tags); err != nil {
		return nil, fmt.Errorf("writing tags: %w", err)
	}

	emojis, err := s.matchEmojis(ctx, content, warning)
	if err != nil {
		return nil, err
	}
	emojiIDs := make([]string, len(emojis))
	for i, e := range emojis {
		emojiIDs[i] = e.ID
	}
	if err := s.store.ReplacePostEmojis(ctx, post.ID, emojiIDs); err != nil {
		return nil, fmt.Errorf("writing emojis: %w", err)
	}

	return &PublishResult{
		Post:         post,
		IsEdit:       in.IsEdit(),
		MediaReorder: s.reorderMedia(in.Medias),
	}, nil
}

// writePost creates the post row or updates the edited one.
func (s *Service) writePost(ctx context.Context, in *CreatePostInput, poster *model.User, parent, quoted *model.Post, privacy model.Privacy, content, contentHTML, warning string, mentionCount int) (*model.Post, error) {
	if in.IsEdit() {
		post, err := s.store.FindPostByID(ctx, in.EditPostID)
		if err != nil {
			return nil, fmt.Errorf("loading post to edit: %w", err)
		}
		if post == nil {
			return nil, &NotFoundError{Message: "post to edit not found"}
		}
		post.Content = contentHTML
		post.MarkdownContent = in.Content
		post.ContentWarning = warning
		post.Privacy = privacy
		post.UpdatedAt = s.clock.Now()
		if err := s.store.UpdatePost(ctx, post); err != nil {
			return nil, fmt.Errorf("updating post: %w", err)
		}
		return post, nil
	}

	isReblog := parent != nil &&
		content == "" &&
		quoted == nil &&
		in.AskID == 0 &&
		len(in.Medias) == 0 &&
		mentionCount == 0 &&
		strings.TrimSpace(in.Tags) == ""

	hierarchyLevel := 1
	parentID := ""
	if parent != nil {
		hierarchyLevel = parent.HierarchyLevel + 1
		parentID = parent.ID
	}

	now := s.clock.Now()
	post := &model.Post{
		ID:              s.idgen.New(),
		AuthorID:        poster.ID,
		ParentID:        parentID,
		Privacy:         privacy,
		Content:         contentHTML,
		MarkdownContent: in.Content,
		ContentWarning:  warning,
		HierarchyLevel:  hierarchyLevel,
		IsReblog:        isReblog,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.CreatePost(ctx, post); err != nil {
		return nil, fmt.Errorf("creating post: %w", err)
	}
	return post, nil
}

// answerAsk marks the referenced ask answered by this post, exactly once,
// and auto-mentions the asker so they are notified of the answer.
func (s *Service) answerAsk(ctx context.Context, in *CreatePostInput, poster *model.User, post *model.Post, mentionIDs []string) ([]string, error) {
	if in.AskID == 0 || in.IsEdit() {
		return mentionIDs, nil
	}
	ask, err := s.store.FindAskForUser(ctx, in.AskID, poster.ID)
	if err != nil {
		return nil, fmt.Errorf("loading ask: %w", err)
	}
	if ask == nil || ask.Answered {
		return mentionIDs, nil
	}
	if err := s.store.AnswerAsk(ctx, ask.ID, post.ID); err != nil {
		return nil, fmt.Errorf("answering ask: %w", err)
	}
	if ask.UserAskerID != "" {
		mentionIDs = append(mentionIDs, ask.UserAskerID)
	}
	return mentionIDs, nil
}

// alternateThreadMentions returns the thread authors to auto-mention when
// replying into a remote alternate-protocol thread: the recent ancestors
// (within two levels above the parent) plus the parent author, so the remote
// side threads the reply correctly. Reblogs (no content) add nothing.
func (s *Service) alternateThreadMentions(poster *model.User, parent *model.Post, ancestors []*model.Post, content string) []string {
	if content == "" {
		return nil
	}
	var ids []string
	for _, a := range ancestors {
		if a.RemoteThreadURI != "" && a.HierarchyLevel > parent.HierarchyLevel-3 {
			ids = append(ids, a.AuthorID)
		}
	}
	if parent.RemoteThreadURI != "" && parent.AuthorID != poster.ID {
		ids = append(ids, parent.AuthorID)
	}
	return ids
}

// reorderMedia updates media order, descriptions and NSFW flags as a
// detached task with its own error channel; it never blocks the response.
func (s *Service) reorderMedia(medias []model.MediaInput) <-chan error {
	if len(medias) == 0 {
		return nil
	}
	errc := make(chan error, 1)
	go func() {
		err := s.store.UpdateMediaDetails(context.Background(), medias)
		if err != nil {
			s.logger.Error("updating media details", "error", err)
		}
		errc <- err
		close(errc)
	}()
	return errc
}

// dedupExcluding deduplicates ids preserving order and drops the excluded id.
func dedupExcluding(ids []string, exclude string) []string {
	seen := make(map[string]bool, len(ids))
	var out []string
	for _, id := range ids {
		if id == exclude || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
