package pipeline

import (
	"context"

	"fedipost/internal/model"
)

// OutboundJob is the payload of one outbound-distribution job.
type OutboundJob struct {
	PostID     string `json:"postId"`
	PetitionBy string `json:"petitionBy"` // local identity the delivery is signed as
}

// OutboundQueue is the durable queue feeding the federation delivery workers.
// Enqueue is idempotent per job id: re-adding an id that is already queued
// replaces the job instead of creating a second in-flight one. Retry policy
// (3 attempts, exponential backoff) and failure retention belong to the queue
// implementation.
type OutboundQueue interface {
	Enqueue(ctx context.Context, jobID string, job OutboundJob) error
}

// EditFederator informs already-federated recipients that a post changed.
type EditFederator interface {
	PostEdited(ctx context.Context, post *model.Post) error
}

// Dispatch runs the post-response publication step: new posts are enqueued
// for outbound distribution keyed by post id, edits go down the
// edit-notification path instead, and localOnly posts are never federated.
// Dispatch is fire-and-forget relative to the request; a failure here is
// logged and retried by the queue's own policy, never surfaced to the poster.
func (s *Service) Dispatch(ctx context.Context, post *model.Post, posterID string, isEdit bool) {
	if post.Privacy == model.PrivacyLocalOnly {
		return
	}
	if isEdit {
		if err := s.editFederator.PostEdited(ctx, post); err != nil {
			s.logger.Error("federating post edit", "post", post.ID, "error", err)
		}
		return
	}
	job := OutboundJob{PostID: post.ID, PetitionBy: posterID}
	if err := s.queue.Enqueue(ctx, post.ID, job); err != nil {
		s.logger.Error("enqueueing outbound distribution", "post", post.ID, "error", err)
	}
}
