package pipeline

import (
	"context"
	"fmt"
	"html"
	"regexp"
	"sort"
	"strings"

	"fedipost/internal/model"
)

// Mention tokens are "@handle" or "@handle@domain", preceded by whitespace or
// the start of the text.
var mentionTokenRE = regexp.MustCompile(`(^|\s)(@[\w.-]+(?:@[\w.-]+)?)`)

// mentionToken is one @-token found in the raw text.
type mentionToken struct {
	start  int    // byte offset of the token (not the leading whitespace)
	end    int    // byte offset past the token
	raw    string // token as typed, including the leading @
	lookup string // normalized store lookup key
}

// extractMentionTokens scans text for mention tokens.
func extractMentionTokens(text string) []mentionToken {
	matches := mentionTokenRE.FindAllStringSubmatchIndex(text, -1)
	tokens := make([]mentionToken, 0, len(matches))
	for _, m := range matches {
		start, end := m[4], m[5]
		raw := text[start:end]
		tokens = append(tokens, mentionToken{
			start:  start,
			end:    end,
			raw:    raw,
			lookup: normalizeMentionLookup(raw),
		})
	}
	return tokens
}

// normalizeMentionLookup lowercases a token and, for local-only handles
// (exactly one @ and no domain), strips the leading @ because local
// identities are stored undecorated.
func normalizeMentionLookup(token string) string {
	token = strings.ToLower(strings.TrimSpace(token))
	if strings.Count(token, "@") == 1 && !strings.Contains(token, ".") {
		return strings.TrimPrefix(token, "@")
	}
	return token
}

// resolveMentions resolves the mention tokens in text, unioned with the
// explicitly supplied user ids, to existing users. The result is
// deduplicated by user id and ordered by handle length ascending so shorter
// handles are substituted first. When nothing could match, the store is not
// queried at all.
func (s *Service) resolveMentions(ctx context.Context, text string, explicitIDs []string) ([]*model.User, error) {
	tokens := extractMentionTokens(text)
	if len(tokens) == 0 && len(explicitIDs) == 0 {
		return nil, nil
	}

	seen := make(map[string]bool)
	var handles []string
	for _, tok := range tokens {
		if !seen[tok.lookup] {
			seen[tok.lookup] = true
			handles = append(handles, tok.lookup)
		}
	}

	users, err := s.store.FindUsersByHandlesOrIDs(ctx, handles, explicitIDs)
	if err != nil {
		return nil, fmt.Errorf("resolving mentions: %w", err)
	}

	byID := make(map[string]bool)
	unique := users[:0]
	for _, u := range users {
		if !byID[u.ID] {
			byID[u.ID] = true
			unique = append(unique, u)
		}
	}

	sort.SliceStable(unique, func(i, j int) bool {
		return len(unique[i].Handle) < len(unique[j].Handle)
	})
	return unique, nil
}

// mentionLinkTarget returns the canonical profile URL for a mentioned user:
// the local profile URL for local users, otherwise the remote profile,
// preferring an explicit remote mention URL when the remote supplied one.
func mentionLinkTarget(u *model.User, profileURLBase string) string {
	if u.RemoteMentionURL != "" {
		return u.RemoteMentionURL
	}
	if u.IsLocal() {
		return profileURLBase + "/fediverse/blog/" + u.Handle
	}
	return u.RemoteID
}

// mentionDisplayName returns the name part shown inside the anchor: the
// handle itself for local users, the name segment of @name@domain otherwise.
func mentionDisplayName(u *model.User) string {
	if u.IsLocal() {
		return u.Handle
	}
	parts := strings.Split(u.Handle, "@")
	if len(parts) > 1 {
		return parts[1]
	}
	return u.Handle
}

// substituteMentions replaces every token occurrence of each resolved user in
// text with an h-card anchor to their canonical profile. Edits are collected
// as (span, replacement) pairs first and applied in one pass sorted by span,
// so a longer handle containing a shorter one as a substring is never
// partially clobbered. Substitution is idempotent: tokens must be preceded by
// whitespace, and the generated anchor splits the handle so re-running the
// pass over already substituted content finds nothing to replace.
func substituteMentions(text string, users []*model.User, profileURLBase string) string {
	if len(users) == 0 {
		return text
	}

	byToken := make(map[string]*model.User, len(users))
	for _, u := range users {
		want := strings.ToLower(u.Handle)
		if !strings.HasPrefix(want, "@") {
			want = "@" + want
		}
		if _, taken := byToken[want]; !taken {
			byToken[want] = u
		}
	}

	type edit struct {
		start, end  int
		replacement string
	}
	var edits []edit
	for _, tok := range extractMentionTokens(text) {
		u, ok := byToken[strings.ToLower(tok.raw)]
		if !ok {
			continue
		}
		anchor := fmt.Sprintf(
			`<span class="h-card" translate="no"><a href="%s" class="u-url mention">@<span>%s</span></a></span>`,
			html.EscapeString(mentionLinkTarget(u, profileURLBase)),
			html.EscapeString(mentionDisplayName(u)),
		)
		edits = append(edits, edit{start: tok.start, end: tok.end, replacement: anchor})
	}
	if len(edits) == 0 {
		return text
	}

	sort.Slice(edits, func(i, j int) bool { return edits[i].start < edits[j].start })
	var b strings.Builder
	last := 0
	for _, e := range edits {
		b.WriteString(text[last:e.start])
		b.WriteString(e.replacement)
		last = e.end
	}
	b.WriteString(text[last:])
	return b.String()
}
