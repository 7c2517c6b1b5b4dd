package domain

import (
	"time"
)

// Role identifies the author of a message.
type Role string

const (
	// RoleUser marks a message written by the user.
	RoleUser Role = "user"
	// RoleAssistant marks a message produced by the recommendation agent.
	RoleAssistant Role = "assistant"
)

// Message is a single conversation entry. The ID is either a client-generated
// provisional id or a server-assigned id, never both; see the identity package
// for how the two id domains are kept disjoint.
//
// For an assistant message under construction, Content only ever grows until a
// terminal event finalizes it; after finalization it is immutable.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	RawContent     string    `json:"raw_content"`
	Thinking       string    `json:"thinking,omitempty"`
	ThinkingSecs   *float64  `json:"thinking_secs,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Clone returns a copy of the message safe to hand to readers.
func (m Message) Clone() Message {
	out := m
	if m.ThinkingSecs != nil {
		secs := *m.ThinkingSecs
		out.ThinkingSecs = &secs
	}
	return out
}
