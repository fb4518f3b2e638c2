package render

import (
	"strings"
	"testing"
)

func TestMarkdownRenderer_Render(t *testing.T) {
	r := NewMarkdownRenderer()

	tests := []struct {
		name   string
		source string
		want   []string
	}{
		{
			name:   "paragraph with emphasis",
			source: "hello **world**",
			want:   []string{"<p>", "<strong>world</strong>"},
		},
		{
			name:   "bare url becomes a link",
			source: "read https://example.com/docs now",
			want:   []string{`<a href="https://example.com/docs"`},
		},
		{
			name:   "single newline is a hard break",
			source: "first\nsecond",
			want:   []string{"<br"},
		},
		{
			name:   "inline html passes through unescaped",
			source: `cc <span class="h-card" translate="no"><a href="https://social.example.org/blog/alice" class="u-url mention">@<span>alice</span></a></span>`,
			want:   []string{`class="u-url mention"`, "@<span>alice</span>"},
		},
		{
			name:   "strikethrough",
			source: "~~gone~~",
			want:   []string{"<del>gone</del>"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Render(tt.source)
			if err != nil {
				t.Fatalf("Render() error = %v", err)
			}
			for _, want := range tt.want {
				if !strings.Contains(got, want) {
					t.Errorf("Render(%q) = %q, missing %q", tt.source, got, want)
				}
			}
		})
	}
}

func TestTagSanitizer_StripTags(t *testing.T) {
	s := NewTagSanitizer()

	got := s.StripTags(`<p>look at <a href="https://example.com">#golang</a> and <b>#release</b></p>`)
	if strings.ContainsAny(got, "<>") {
		t.Errorf("StripTags() left markup behind: %q", got)
	}
	for _, want := range []string{"#golang", "#release"} {
		if !strings.Contains(got, want) {
			t.Errorf("StripTags() = %q, missing %q", got, want)
		}
	}
}
