package pipeline

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"fedipost/internal/model"
)

// RemoteFetcher performs signed fetches against the federation protocol on
// behalf of a local identity. Both calls fail on network or authorization
// errors; the reconstructor treats every failure as "no further data".
type RemoteFetcher interface {
	// FetchNote retrieves the protocol representation of a remote post.
	FetchNote(ctx context.Context, actor *model.User, remoteID string) (*model.RemoteNote, error)

	// FetchPage retrieves one page of a paginated reply collection.
	FetchPage(ctx context.Context, actor *model.User, pageID string) (*model.RemotePage, error)
}

// AltThreadFetcher reconstructs a thread over the alternate protocol bridge.
type AltThreadFetcher interface {
	FetchThread(ctx context.Context, threadURI string) error
}

// maxAncestorDepth bounds ancestor recursion so a hostile or cyclic remote
// backlink chain cannot recurse without limit.
const maxAncestorDepth = 128

// replyFetchConcurrency bounds how many reply items of one page are fetched
// at once.
const replyFetchConcurrency = 8

// visitedSet tracks remote ids already touched during one reconstruction.
// Page items are fetched concurrently, so access is locked.
type visitedSet struct {
	mu  sync.Mutex
	ids map[string]bool
}

func newVisitedSet() *visitedSet { return &visitedSet{ids: make(map[string]bool)} }

// add marks an id visited and reports whether it was new.
func (v *visitedSet) add(id string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.ids[id] {
		return false
	}
	v.ids[id] = true
	return true
}

// ReconstructThread fetches and links the full ancestor chain and the known
// descendants of a remote post already known locally. Posts carrying an
// alternate-protocol thread identifier dispatch to the alternate fetcher
// instead; the two protocols are never combined for one post. Every fetch
// failure is logged and treated as "no further data available" for that
// branch, so the operation itself always succeeds: the caller cannot tell a
// complete thread from a partially reconstructed one without re-reading.
func (s *Service) ReconstructThread(ctx context.Context, userID, postID string) error {
	user, err := s.store.FindUserByID(ctx, userID)
	if err != nil || user == nil {
		s.logger.Debug("thread reconstruction without usable identity", "post", postID, "error", err)
		return nil
	}
	post, err := s.store.FindPostByID(ctx, postID)
	if err != nil || post == nil {
		s.logger.Debug("thread reconstruction for unknown post", "post", postID, "error", err)
		return nil
	}

	switch {
	case post.RemotePostID != "":
		s.reconstructFederated(ctx, user, post)
	case post.RemoteThreadURI != "":
		if err := s.altThreads.FetchThread(ctx, post.RemoteThreadURI); err != nil {
			s.logger.Debug("alternate protocol thread fetch", "post", post.ID, "error", err)
		}
	}
	return nil
}

// reconstructFederated walks the native federation protocol: resolve the lost
// ancestor chain when the post is still a root, then walk the reply
// collection page by page. Pages are strictly sequential; the items within a
// page are fetched concurrently and fail independently.
func (s *Service) reconstructFederated(ctx context.Context, user *model.User, post *model.Post) {
	note, err := s.remote.FetchNote(ctx, user, post.RemotePostID)
	if err != nil {
		s.logger.Debug("fetching remote post", "post", post.ID, "remote", post.RemotePostID, "error", err)
		return
	}

	visited := newVisitedSet()
	visited.add(post.RemotePostID)

	if note.InReplyTo != "" && post.HierarchyLevel == 1 {
		if parent := s.resolveRemotePost(ctx, user, note.InReplyTo, visited, 0); parent != nil {
			if err := s.store.SetPostParent(ctx, post.ID, parent.ID, parent.HierarchyLevel+1); err != nil {
				s.logger.Error("attaching recovered parent", "post", post.ID, "parent", parent.ID, "error", err)
			}
		}
	}

	page := note.RepliesFirst
	for page != nil {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(replyFetchConcurrency)
		for _, item := range page.Items {
			item := item
			g.Go(func() error {
				// Item failures are swallowed inside resolveRemotePost;
				// one bad reply never aborts its siblings or the walk.
				s.resolveRemotePost(gctx, user, item, visited, 0)
				return nil
			})
		}
		g.Wait()

		if page.Next == "" {
			break
		}
		next, err := s.remote.FetchPage(ctx, user, page.Next)
		if err != nil {
			s.logger.Debug("fetching replies page", "post", post.ID, "page", page.Next, "error", err)
			break
		}
		page = next
	}
}

// resolveRemotePost returns the local record for a remote object id, fetching
// and creating it (and transitively its missing ancestors) when unknown.
// Failures are logged and collapse to nil, meaning "no further data on this
// branch".
func (s *Service) resolveRemotePost(ctx context.Context, user *model.User, remoteID string, visited *visitedSet, depth int) *model.Post {
	if depth > maxAncestorDepth {
		s.logger.Warn("remote thread exceeds depth ceiling", "remote", remoteID)
		return nil
	}

	firstVisit := visited.add(remoteID)
	existing, err := s.store.FindPostByRemoteID(ctx, remoteID)
	if err != nil {
		s.logger.Debug("looking up remote post", "remote", remoteID, "error", err)
		return nil
	}
	if existing != nil {
		return existing
	}
	if !firstVisit {
		// Already in flight or part of a cycle and not stored yet.
		return nil
	}

	note, err := s.remote.FetchNote(ctx, user, remoteID)
	if err != nil {
		s.logger.Debug("fetching remote post", "remote", remoteID, "error", err)
		return nil
	}

	var parent *model.Post
	if note.InReplyTo != "" {
		parent = s.resolveRemotePost(ctx, user, note.InReplyTo, visited, depth+1)
	}

	author, err := s.store.FindOrCreateRemoteUser(ctx, note.AttributedTo)
	if err != nil {
		s.logger.Debug("resolving remote author", "actor", note.AttributedTo, "error", err)
		return nil
	}

	published := note.Published
	if published.IsZero() {
		published = s.clock.Now()
	}
	post := &model.Post{
		ID:             s.idgen.New(),
		AuthorID:       author.ID,
		Privacy:        model.PrivacyPublic,
		Content:        note.Content,
		ContentWarning: note.Summary,
		HierarchyLevel: 1,
		RemotePostID:   note.ID,
		CreatedAt:      published,
		UpdatedAt:      published,
	}
	if parent != nil {
		post.ParentID = parent.ID
		post.HierarchyLevel = parent.HierarchyLevel + 1
	}
	if err := s.store.CreatePost(ctx, post); err != nil {
		s.logger.Debug("storing remote post", "remote", remoteID, "error", err)
		return nil
	}
	return post
}
