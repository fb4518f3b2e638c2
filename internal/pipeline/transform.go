package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"fedipost/internal/model"
)

// Renderer converts source markup to HTML. Implementations are expected to
// auto-link bare URLs, convert emoji shortcodes and preserve line breaks as
// hard breaks.
type Renderer interface {
	Render(source string) (string, error)
}

// Sanitizer reduces HTML to an allow-list. StripTags removes every tag,
// leaving the plain-text surface used for inline tag scanning.
type Sanitizer interface {
	StripTags(html string) string
}

// DefaultNSFWWarning is applied when a sensitive-flagged user posts without
// an explicit content warning.
const DefaultNSFWWarning = "This user has been marked as NSFW and the post has been labeled automatically as NSFW"

var (
	inlineTagRE      = regexp.MustCompile(`#[a-z0-9_]+`)
	emojiShortcodeRE = regexp.MustCompile(`:[\w-]+:`)
)

// resolveContentWarning trims the explicit warning, falling back to the
// automatic NSFW warning for globally sensitive posters.
func resolveContentWarning(explicit string, poster *model.User) string {
	if warning := strings.TrimSpace(explicit); warning != "" {
		return warning
	}
	if poster != nil && poster.NSFW {
		return DefaultNSFWWarning
	}
	return ""
}

// transformContent rewrites mention tokens into canonical profile anchors and
// converts the result from markdown to HTML. The anchors are the only markup
// the transformer itself emits; everything else passes through the renderer's
// escaping.
func (s *Service) transformContent(raw string, mentions []*model.User) (string, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return "", nil
	}
	text = substituteMentions(text, mentions, s.opts.ProfileURLBase)
	rendered, err := s.renderer.Render(text)
	if err != nil {
		return "", fmt.Errorf("rendering markdown: %w", err)
	}
	return strings.TrimSpace(rendered), nil
}

// matchEmojis resolves the :shortcode: tokens in the given texts against the
// instance's custom emojis. Unknown shortcodes are ignored; they are either
// standard emoji the renderer already converted or plain text.
func (s *Service) matchEmojis(ctx context.Context, texts ...string) ([]model.Emoji, error) {
	seen := make(map[string]bool)
	var names []string
	for _, text := range texts {
		for _, hit := range emojiShortcodeRE.FindAllString(text, -1) {
			if !seen[hit] {
				seen[hit] = true
				names = append(names, hit)
			}
		}
	}
	if len(names) == 0 {
		return nil, nil
	}
	emojis, err := s.store.FindEmojisByShortcodes(ctx, names)
	if err != nil {
		return nil, fmt.Errorf("resolving emojis: %w", err)
	}
	return emojis, nil
}

// collectTags unions the explicit comma-joined tag list with the inline
// #word tags scanned from the tag-stripped content. Tags are trimmed,
// deduplicated and non-empty; explicit tags keep their position ahead of
// inline ones.
func (s *Service) collectTags(contentHTML, explicit string) []string {
	plain := s.sanitizer.StripTags(contentHTML)
	var raw []string
	raw = append(raw, strings.Split(explicit, ",")...)
	for _, hit := range inlineTagRE.FindAllString(plain, -1) {
		raw = append(raw, strings.TrimPrefix(hit, "#"))
	}

	seen := make(map[string]bool)
	var tags []string
	for _, tag := range raw {
		tag = strings.TrimSpace(tag)
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		tags = append(tags, tag)
	}
	return tags
}
