// Package domain contains core domain types for the ReelChat application.
package domain

import (
	"time"
	"unicode/utf8"
)

// maxTitleRunes is the longest conversation title derived from a first message.
const maxTitleRunes = 48

// Conversation is one chat thread between a user and the recommendation agent.
// Message order is append-only: messages are stored in arrival order and a
// conversation never exists with zero messages once created.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Messages  []Message `json:"messages,omitempty"`
}

// TitleFromContent derives a conversation title from the first user message,
// truncating to a rune-safe prefix and appending an ellipsis when truncated.
func TitleFromContent(content string) string {
	if utf8.RuneCountInString(content) <= maxTitleRunes {
		return content
	}
	runes := []rune(content)
	return string(runes[:maxTitleRunes]) + "…"
}
