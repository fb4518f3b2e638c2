package pipeline

import (
	"context"

	"fedipost/internal/model"
)

// fanOutNotifications emits the typed notification events for a freshly
// written post. Reblogs notify the parent author once; quotes notify the
// quoted author once; every resolved mention except the poster gets a MENTION
// event. On edit the prior QUOTE and MENTION rows for the post are destroyed
// first so the events always match the current content. All of it is
// best-effort: a failed write is logged and never aborts the publish.
func (s *Service) fanOutNotifications(ctx context.Context, post, parent, quoted *model.Post, mentionIDs []string, isEdit bool) {
	if post.IsReblog && parent != nil {
		// The REWOOT event references the parent: that is the post the
		// recipient is told about.
		s.createNotification(ctx, model.NotificationRewoot, parent.AuthorID, post.AuthorID, parent.ID)
	}

	if quoted != nil {
		if isEdit {
			if err := s.store.DeleteNotifications(ctx, model.NotificationQuote, post.ID, quoted.AuthorID); err != nil {
				s.logger.Error("deleting stale quote notification", "post", post.ID, "error", err)
			}
		}
		s.createNotification(ctx, model.NotificationQuote, quoted.AuthorID, post.AuthorID, post.ID)
	}

	if isEdit {
		if err := s.store.DeleteNotifications(ctx, model.NotificationMention, post.ID, ""); err != nil {
			s.logger.Error("deleting stale mention notifications", "post", post.ID, "error", err)
		}
	}
	for _, userID := range mentionIDs {
		if userID == post.AuthorID {
			continue
		}
		s.createNotification(ctx, model.NotificationMention, userID, post.AuthorID, post.ID)
	}
}

func (s *Service) createNotification(ctx context.Context, notifType, notifiedUserID, actorUserID, postID string) {
	n := &model.Notification{
		ID:             s.idgen.New(),
		Type:           notifType,
		NotifiedUserID: notifiedUserID,
		ActorUserID:    actorUserID,
		PostID:         postID,
		CreatedAt:      s.clock.Now(),
	}
	if err := s.store.CreateNotification(ctx, n); err != nil {
		s.logger.Error("creating notification", "type", notifType, "post", postID, "user", notifiedUserID, "error", err)
	}
}
