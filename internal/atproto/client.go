// Package atproto reconstructs threads that live on the AT-protocol bridge.
// It reads the public XRPC thread view and stores the posts locally; unlike
// the federation protocol there is no pagination and no signing involved.
package atproto

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"fedipost/internal/model"
	"fedipost/internal/pipeline"
)

const (
	defaultBaseURL   = "https://public.api.bsky.app"
	maxThreadDepth   = 32
	maxResponseBytes = 4 << 20
)

// Client fetches AT-protocol threads and mirrors them into the local store.
// It implements the pipeline's AltThreadFetcher.
type Client struct {
	http    *http.Client
	store   pipeline.Store
	logger  pipeline.Logger
	clock   pipeline.Clock
	idgen   pipeline.IDGenerator
	baseURL string
}

func NewClient(store pipeline.Store, logger pipeline.Logger, clock pipeline.Clock, idgen pipeline.IDGenerator) *Client {
	return &Client{
		http:    &http.Client{Timeout: 30 * time.Second},
		store:   store,
		logger:  logger,
		clock:   clock,
		idgen:   idgen,
		baseURL: defaultBaseURL,
	}
}

type threadResponse struct {
	Thread *threadView `json:"thread"`
}

type threadView struct {
	Post    *threadPost   `json:"post"`
	Parent  *threadView   `json:"parent"`
	Replies []*threadView `json:"replies"`
}

type threadPost struct {
	URI    string `json:"uri"`
	Author struct {
		DID string `json:"did"`
	} `json:"author"`
	Record struct {
		Text      string    `json:"text"`
		CreatedAt time.Time `json:"createdAt"`
	} `json:"record"`
}

// FetchThread retrieves the thread view around the given post URI and stores
// every post in it: the ancestor chain first, then the post, then its reply
// tree. Already-known posts are left untouched.
func (c *Client) FetchThread(ctx context.Context, threadURI string) error {
	endpoint := c.baseURL + "/xrpc/app.bsky.feed.getPostThread?uri=" + url.QueryEscape(threadURI)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("building thread request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("fetching thread %s: %w", threadURI, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("fetching thread %s: unexpected status %d", threadURI, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("reading thread response: %w", err)
	}

	var tr threadResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return fmt.Errorf("decoding thread %s: %w", threadURI, err)
	}
	if tr.Thread == nil || tr.Thread.Post == nil {
		return fmt.Errorf("thread %s has no post", threadURI)
	}

	c.persist(ctx, tr.Thread, nil, 0)
	return nil
}

// persist stores one thread view node and its subtree. The ancestor chain of
// the root node is resolved first so hierarchy levels line up; replies hang
// off the node being stored. Failures are logged per node; a broken node
// drops its subtree but not its siblings.
func (c *Client) persist(ctx context.Context, view *threadView, parent *model.Post, depth int) *model.Post {
	if view == nil || view.Post == nil || view.Post.URI == "" || depth > maxThreadDepth {
		return nil
	}

	post, err := c.store.FindPostByRemoteID(ctx, view.Post.URI)
	if err != nil {
		c.logger.Debug("looking up bridged post", "uri", view.Post.URI, "error", err)
		return nil
	}
	if post == nil {
		if parent == nil {
			parent = c.persist(ctx, view.Parent, nil, depth+1)
		}

		author, err := c.store.FindOrCreateRemoteUser(ctx, view.Post.Author.DID)
		if err != nil {
			c.logger.Debug("resolving bridged author", "did", view.Post.Author.DID, "error", err)
			return nil
		}

		published := view.Post.Record.CreatedAt
		if published.IsZero() {
			published = c.clock.Now()
		}
		post = &model.Post{
			ID:              c.idgen.New(),
			AuthorID:        author.ID,
			Privacy:         model.PrivacyPublic,
			Content:         view.Post.Record.Text,
			HierarchyLevel:  1,
			RemotePostID:    view.Post.URI,
			RemoteThreadURI: view.Post.URI,
			CreatedAt:       published,
			UpdatedAt:       published,
		}
		if parent != nil {
			post.ParentID = parent.ID
			post.HierarchyLevel = parent.HierarchyLevel + 1
		}
		if err := c.store.CreatePost(ctx, post); err != nil {
			c.logger.Debug("storing bridged post", "uri", view.Post.URI, "error", err)
			return nil
		}
	}

	for _, reply := range view.Replies {
		c.persist(ctx, reply, post, depth+1)
	}
	return post
}
