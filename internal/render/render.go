// Package render converts the agent's markdown answers to HTML.
package render

import (
	"bytes"
	"fmt"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// Renderer converts raw markdown to HTML. Safe for concurrent use.
type Renderer struct {
	md goldmark.Markdown
}

// New creates a renderer with GitHub-flavored markdown extensions, matching
// what the agent is prompted to produce (tables, strikethrough, task lists).
func New() *Renderer {
	return &Renderer{
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
		),
	}
}

// Render converts raw markdown into HTML.
func (r *Renderer) Render(raw string) (string, error) {
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(raw), &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return buf.String(), nil
}
