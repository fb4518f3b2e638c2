package fediverse

import (
	"context"
	"encoding/json"
	"fmt"

	"fedipost/internal/model"
	"fedipost/internal/pipeline"
)

// Delivery turns stored posts into Create/Update activities and pushes them
// to the configured relay inboxes with signed requests. It serves as the
// queue's Sender and the pipeline's EditFederator.
type Delivery struct {
	client  *Client
	store   pipeline.Store
	logger  pipeline.Logger
	inboxes []string
}

// NewDelivery creates a Delivery targeting the given inbox URLs. An empty
// inbox list makes delivery a no-op, which is the expected state for
// instances that have not set up federation peers yet.
func NewDelivery(client *Client, store pipeline.Store, inboxes []string, logger pipeline.Logger) *Delivery {
	return &Delivery{client: client, store: store, logger: logger, inboxes: inboxes}
}

type activity struct {
	Context string       `json:"@context"`
	Type    string       `json:"type"`
	Actor   string       `json:"actor"`
	Object  activityNote `json:"object"`
}

type activityNote struct {
	ID           string `json:"id"`
	Type         string `json:"type"`
	AttributedTo string `json:"attributedTo"`
	Content      string `json:"content"`
	Summary      string `json:"summary,omitempty"`
	InReplyTo    string `json:"inReplyTo,omitempty"`
	Published    string `json:"published"`
}

// buildActivity loads the post and its author and assembles the activity
// payload. Posts by remote authors are never delivered from here.
func (d *Delivery) buildActivity(ctx context.Context, postID, activityType string) (*model.User, []byte, error) {
	post, err := d.store.FindPostByID(ctx, postID)
	if err != nil {
		return nil, nil, fmt.Errorf("loading post: %w", err)
	}
	if post == nil {
		return nil, nil, fmt.Errorf("post %s no longer exists", postID)
	}
	author, err := d.store.FindUserByID(ctx, post.AuthorID)
	if err != nil {
		return nil, nil, fmt.Errorf("loading author: %w", err)
	}
	if author == nil || !author.IsLocal() {
		return nil, nil, fmt.Errorf("post %s has no local author", postID)
	}

	actorURL := d.client.ActorURL(author)
	note := activityNote{
		ID:           actorURL + "/" + post.ID,
		Type:         "Note",
		AttributedTo: actorURL,
		Content:      post.Content,
		Summary:      post.ContentWarning,
		Published:    post.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
	}
	if post.ParentID != "" {
		parent, err := d.store.FindPostByID(ctx, post.ParentID)
		if err == nil && parent != nil && parent.RemotePostID != "" {
			note.InReplyTo = parent.RemotePostID
		}
	}

	payload, err := json.Marshal(activity{
		Context: "https://www.w3.org/ns/activitystreams",
		Type:    activityType,
		Actor:   actorURL,
		Object:  note,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("encoding activity: %w", err)
	}
	return author, payload, nil
}

// deliver pushes the payload to every inbox. Any inbox failure fails the
// whole delivery so the queue retries it.
func (d *Delivery) deliver(ctx context.Context, actor *model.User, payload []byte) error {
	for _, inbox := range d.inboxes {
		if err := d.client.signedPost(ctx, actor, inbox, payload); err != nil {
			return err
		}
	}
	return nil
}

// Send delivers a queued distribution job as a Create activity.
func (d *Delivery) Send(ctx context.Context, job pipeline.OutboundJob) error {
	actor, payload, err := d.buildActivity(ctx, job.PostID, "Create")
	if err != nil {
		return err
	}
	return d.deliver(ctx, actor, payload)
}

// PostEdited announces an edited post as an Update activity. Errors are
// returned to the caller, which logs and moves on; edits are not retried.
func (d *Delivery) PostEdited(ctx context.Context, post *model.Post) error {
	actor, payload, err := d.buildActivity(ctx, post.ID, "Update")
	if err != nil {
		return err
	}
	return d.deliver(ctx, actor, payload)
}
