package pipeline

import (
	"context"
	"fmt"
	"strings"

	"fedipost/internal/model"
)

// The authorization gate runs after mention resolution and before content
// transformation or any write, so a rejection leaves no rows behind.

// partnerOptInEnabled reports whether the poster has opted into federating
// with the configured partner network.
func (s *Service) partnerOptInEnabled(ctx context.Context, userID string) (bool, error) {
	options, err := s.store.GetUserOptions(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("loading user options: %w", err)
	}
	for _, opt := range options {
		if opt.Name == s.opts.PartnerOptionName && opt.Value == "true" {
			return true, nil
		}
	}
	return false, nil
}

// anyPartnerUser reports whether any of the users belongs to the partner
// network, matched by domain suffix on the canonical handle.
func anyPartnerUser(users []*model.User, domainSuffix string) bool {
	if domainSuffix == "" {
		return false
	}
	for _, u := range users {
		if strings.HasSuffix(strings.ToLower(u.Handle), domainSuffix) {
			return true
		}
	}
	return false
}

// checkPartnerGate rejects when the poster has not opted into the partner
// network and any participant belongs to it.
func (s *Service) checkPartnerGate(ctx context.Context, posterID string, participants []*model.User) error {
	if !anyPartnerUser(participants, s.opts.PartnerDomainSuffix) {
		return nil
	}
	enabled, err := s.partnerOptInEnabled(ctx, posterID)
	if err != nil {
		return err
	}
	if !enabled {
		return &AuthorizationError{
			Message: "you do not federate with " + s.opts.PartnerDomainSuffix + " and this thread contains a post from it",
		}
	}
	return nil
}

// authorizeThread gates a reply or reblog against its ancestor chain: the
// partner opt-in over every chain author and the quoted author, a ban on any
// chain author, and blocks in either direction between the poster and the
// immediate parent's author. Bans and blocks share one failure message, so a
// banned ancestor is not distinguishable from a block by the caller.
func (s *Service) authorizeThread(ctx context.Context, poster *model.User, parent *model.Post, chainAuthorIDs []string, quotedAuthorID string) error {
	gated := chainAuthorIDs
	if quotedAuthorID != "" {
		gated = append(append([]string{}, chainAuthorIDs...), quotedAuthorID)
	}
	participants, err := s.store.FindUsersByIDs(ctx, gated)
	if err != nil {
		return fmt.Errorf("loading thread participants: %w", err)
	}
	if err := s.checkPartnerGate(ctx, poster.ID, participants); err != nil {
		return err
	}

	banned, err := s.store.CountBannedUsers(ctx, chainAuthorIDs)
	if err != nil {
		return fmt.Errorf("counting banned participants: %w", err)
	}
	blocks, err := s.store.CountBlocksBetween(ctx, poster.ID, []string{parent.AuthorID})
	if err != nil {
		return fmt.Errorf("counting parent blocks: %w", err)
	}
	if banned+blocks > 0 {
		return &AuthorizationError{Message: "you have no permission to reblog this post"}
	}
	return nil
}

// authorizeQuote gates a quote that starts its own thread: the partner
// opt-in runs over the quoted author alone, since there is no ancestor chain.
func (s *Service) authorizeQuote(ctx context.Context, poster *model.User, quotedAuthorID string) error {
	quotedAuthor, err := s.store.FindUsersByIDs(ctx, []string{quotedAuthorID})
	if err != nil {
		return fmt.Errorf("loading quoted author: %w", err)
	}
	return s.checkPartnerGate(ctx, poster.ID, quotedAuthor)
}

// authorizeMentions gates the resolved mentions: the partner opt-in over the
// mentioned users and blocks in either direction between the poster and any
// mention (including thread authors auto-added to the mention set).
func (s *Service) authorizeMentions(ctx context.Context, posterID string, mentioned []*model.User, allMentionIDs []string) error {
	if err := s.checkPartnerGate(ctx, posterID, mentioned); err != nil {
		return err
	}
	if len(allMentionIDs) == 0 {
		return nil
	}
	blocks, err := s.store.CountBlocksBetween(ctx, posterID, allMentionIDs)
	if err != nil {
		return fmt.Errorf("counting mention blocks: %w", err)
	}
	if blocks > 0 {
		return &AuthorizationError{
			Message: "you can not mention a user that you have blocked or has blocked you",
		}
	}
	return nil
}
