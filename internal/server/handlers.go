package server

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"fedipost/internal/model"
	"fedipost/internal/pipeline"
)

// createPostRequest is the publish request body. Field names follow the
// public API contract, not the internal model.
type createPostRequest struct {
	Content          string       `json:"content"`
	ContentWarning   string       `json:"content_warning"`
	Privacy          int          `json:"privacy"`
	ParentID         string       `json:"parent"`
	QuotedPostID     string       `json:"postToQuote"`
	EditPostID       string       `json:"idPostToEdit"`
	MentionedUserIDs []string     `json:"mentionedUserIds"`
	Medias           []mediaInput `json:"medias"`
	Tags             string       `json:"tags"`
	AskID            int64        `json:"ask"`
}

type mediaInput struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	NSFW        bool   `json:"NSFW"`
}

type postResponse struct {
	ID               string   `json:"id"`
	AuthorID         string   `json:"userId"`
	ParentID         string   `json:"parentId,omitempty"`
	QuotedPostID     string   `json:"quotedPostId,omitempty"`
	Privacy          int      `json:"privacy"`
	Content          string   `json:"content"`
	MarkdownContent  string   `json:"markdownContent"`
	ContentWarning   string   `json:"content_warning"`
	HierarchyLevel   int      `json:"hierarchyLevel"`
	CreatedAt        string   `json:"createdAt"`
	UpdatedAt        string   `json:"updatedAt"`
	MentionedUserIDs []string `json:"mentionedUserIds,omitempty"`
}

func renderPost(post *model.Post, mentionIDs []string) postResponse {
	return postResponse{
		ID:               post.ID,
		AuthorID:         post.AuthorID,
		ParentID:         post.ParentID,
		QuotedPostID:     post.QuotedPostID,
		Privacy:          int(post.Privacy),
		Content:          post.Content,
		MarkdownContent:  post.MarkdownContent,
		ContentWarning:   post.ContentWarning,
		HierarchyLevel:   post.HierarchyLevel,
		CreatedAt:        post.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:        post.UpdatedAt.UTC().Format(time.RFC3339),
		MentionedUserIDs: mentionIDs,
	}
}

// CreatePostHandler runs the publication pipeline and responds with the
// written post. Outbound dispatch happens after the response is on the wire;
// the poster never waits on federation.
func (s *Server) CreatePostHandler(c echo.Context) error {
	posterID := userID(c)
	if posterID == "" {
		return c.JSON(http.StatusUnauthorized, failureResponse{Success: false, Message: "missing user identity"})
	}

	var req createPostRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, failureResponse{Success: false, Message: "malformed request body"})
	}

	in := &pipeline.CreatePostInput{
		PosterID:         posterID,
		Content:          req.Content,
		ContentWarning:   req.ContentWarning,
		Privacy:          model.Privacy(req.Privacy),
		ParentID:         req.ParentID,
		QuotedPostID:     req.QuotedPostID,
		EditPostID:       req.EditPostID,
		MentionedUserIDs: req.MentionedUserIDs,
		Tags:             req.Tags,
		AskID:            req.AskID,
	}
	for _, m := range req.Medias {
		in.Medias = append(in.Medias, model.MediaInput{ID: m.ID, Description: m.Description, NSFW: m.NSFW})
	}

	result, err := s.service.CreatePost(c.Request().Context(), in)
	if err != nil {
		s.logger.Warn("publish rejected", "poster", posterID, "error", err)
		return fail(c, err)
	}

	// Dispatch runs detached from the request; its context must survive the
	// response being written.
	go s.service.Dispatch(context.Background(), result.Post, posterID, result.IsEdit)

	return c.JSON(http.StatusOK, renderPost(result.Post, nil))
}

// GetPostHandler returns one post with its mention associations. Suppressed
// posts stay visible to their author and mentioned users only.
func (s *Server) GetPostHandler(c echo.Context) error {
	viewerID := userID(c)
	ctx := c.Request().Context()

	post, err := s.store.FindPostByID(ctx, c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	if post == nil {
		return fail(c, &pipeline.NotFoundError{Message: "post not found"})
	}

	mentionIDs, err := s.store.FindMentionedUserIDs(ctx, post.ID)
	if err != nil {
		return fail(c, err)
	}

	if post.Privacy == model.PrivacySuppressed && !partOfPost(post, mentionIDs, viewerID) {
		return fail(c, &pipeline.AuthorizationError{Message: "you have no permission to see this post"})
	}

	return c.JSON(http.StatusOK, renderPost(post, mentionIDs))
}

// partOfPost reports whether the viewer is the author or mentioned.
func partOfPost(post *model.Post, mentionIDs []string, viewerID string) bool {
	if viewerID == "" {
		return false
	}
	if post.AuthorID == viewerID {
		return true
	}
	for _, id := range mentionIDs {
		if id == viewerID {
			return true
		}
	}
	return false
}

// LoadRemoteResponsesHandler triggers thread reconstruction for a post. The
// response is always an empty object: reconstruction failures only mean less
// data was recovered, and the client re-reads the thread either way.
func (s *Server) LoadRemoteResponsesHandler(c echo.Context) error {
	if err := s.service.ReconstructThread(c.Request().Context(), userID(c), c.QueryParam("id")); err != nil {
		s.logger.Debug("thread reconstruction", "post", c.QueryParam("id"), "error", err)
	}
	return c.JSON(http.StatusOK, map[string]any{})
}
