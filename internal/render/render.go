// Package render implements the markup conversion collaborators of the
// pipeline: markdown-to-HTML rendering and allow-list sanitization.
package render

import (
	"fmt"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
	emoji "github.com/yuin/goldmark-emoji"
)

// MarkdownRenderer converts post source text to HTML. Bare URLs become
// links, emoji shortcodes become characters, single line breaks stay hard
// breaks, and the raw inline HTML the mention substitution emits passes
// through unescaped.
type MarkdownRenderer struct {
	md goldmark.Markdown
}

func NewMarkdownRenderer() *MarkdownRenderer {
	return &MarkdownRenderer{
		md: goldmark.New(
			goldmark.WithExtensions(
				extension.Linkify,
				extension.Strikethrough,
				emoji.Emoji,
			),
			goldmark.WithRendererOptions(
				html.WithHardWraps(),
				html.WithUnsafe(),
			),
		),
	}
}

func (r *MarkdownRenderer) Render(source string) (string, error) {
	var b strings.Builder
	if err := r.md.Convert([]byte(source), &b); err != nil {
		return "", fmt.Errorf("converting markdown: %w", err)
	}
	return b.String(), nil
}

// TagSanitizer strips every HTML tag, leaving the plain-text surface the
// inline tag scan runs over.
type TagSanitizer struct {
	policy *bluemonday.Policy
}

func NewTagSanitizer() *TagSanitizer {
	return &TagSanitizer{policy: bluemonday.StrictPolicy()}
}

func (s *TagSanitizer) StripTags(html string) string {
	return s.policy.Sanitize(html)
}
