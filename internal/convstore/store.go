// Package convstore holds the client's authoritative in-memory conversation
// state. The store is the single owner of all Conversation and Message values;
// the turn machine and the client mutate them only through this API, and
// readers always receive copies so no half-applied update is ever observable.
package convstore

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/mvaleev/reelchat/internal/domain"
)

// Store is a single-writer, read-by-many conversation container.
type Store struct {
	mu            sync.RWMutex
	conversations map[string]*domain.Conversation
	selected      string
	logger        *slog.Logger
}

// New creates an empty store.
func New(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		conversations: make(map[string]*domain.Conversation),
		logger:        logger,
	}
}

// CreateConversation inserts a new conversation derived from its first
// message and selects it. The title is a truncated prefix of the message
// content. An existing conversation with the same id is left untouched.
func (s *Store) CreateConversation(id string, first domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.conversations[id]; exists {
		s.logger.Warn("conversation already exists", "conversation_id", id)
		return
	}

	first.ConversationID = id
	now := time.Now()
	s.conversations[id] = &domain.Conversation{
		ID:        id,
		Title:     domain.TitleFromContent(first.RawContent),
		CreatedAt: now,
		UpdatedAt: now,
		Messages:  []domain.Message{first},
	}
	s.selected = id
}

// PutConversation replaces or inserts a conversation fetched from the server.
func (s *Store) PutConversation(conv domain.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := conv
	copied.Messages = make([]domain.Message, len(conv.Messages))
	for i, m := range conv.Messages {
		copied.Messages[i] = m.Clone()
	}
	s.conversations[conv.ID] = &copied
}

// AddMessage appends a message to a conversation in arrival order. Unknown
// conversations are a no-op, logged as a protocol-level inconsistency.
func (s *Store) AddMessage(conversationID string, msg domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		s.logger.Warn("add message to unknown conversation", "conversation_id", conversationID)
		return
	}
	msg.ConversationID = conversationID
	conv.Messages = append(conv.Messages, msg)
	conv.UpdatedAt = time.Now()
}

// UpdateMessageContent rewrites the content of an existing message. Updates
// targeting a conversation that is not currently selected are dropped (stale
// stream guard), as are updates for unknown message ids.
func (s *Store) UpdateMessageContent(conversationID, messageID, content, raw string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := s.findMessageLocked(conversationID, messageID)
	if msg == nil {
		return
	}
	msg.Content = content
	msg.RawContent = raw
	s.conversations[conversationID].UpdatedAt = time.Now()
}

// UpdateMessageWithThinking rewrites a message's content together with its
// thinking trace and thinking duration. Same staleness rules as
// UpdateMessageContent.
func (s *Store) UpdateMessageWithThinking(conversationID, messageID, content, raw, thinking string, thinkingSecs *float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := s.findMessageLocked(conversationID, messageID)
	if msg == nil {
		return
	}
	msg.Content = content
	msg.RawContent = raw
	msg.Thinking = thinking
	if thinkingSecs != nil {
		secs := *thinkingSecs
		msg.ThinkingSecs = &secs
	}
	s.conversations[conversationID].UpdatedAt = time.Now()
}

// findMessageLocked locates a message by id within a selected conversation.
// Must be called with the write lock held.
func (s *Store) findMessageLocked(conversationID, messageID string) *domain.Message {
	if conversationID != s.selected {
		s.logger.Debug("dropping update for unselected conversation", "conversation_id", conversationID)
		return nil
	}
	conv, ok := s.conversations[conversationID]
	if !ok {
		s.logger.Warn("update for unknown conversation", "conversation_id", conversationID)
		return nil
	}
	for i := range conv.Messages {
		if conv.Messages[i].ID == messageID {
			return &conv.Messages[i]
		}
	}
	s.logger.Warn("update for unknown message", "conversation_id", conversationID, "message_id", messageID)
	return nil
}

// DeleteConversation removes a conversation and its cached messages, clearing
// the selection if it pointed at the deleted conversation.
func (s *Store) DeleteConversation(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.conversations, id)
	if s.selected == id {
		s.selected = ""
	}
}

// Select marks a conversation as the active one. Selecting an unknown id
// reports false and leaves the selection unchanged.
func (s *Store) Select(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[id]; !ok {
		return false
	}
	s.selected = id
	return true
}

// ClearSelection drops the active conversation marker.
func (s *Store) ClearSelection() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selected = ""
}

// Selected returns the id of the active conversation, or "" when none is.
func (s *Store) Selected() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selected
}

// Conversation returns a copy of one conversation with its messages.
func (s *Store) Conversation(id string) (domain.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[id]
	if !ok {
		return domain.Conversation{}, false
	}
	out := *conv
	out.Messages = make([]domain.Message, len(conv.Messages))
	for i, m := range conv.Messages {
		out.Messages[i] = m.Clone()
	}
	return out, true
}

// Messages returns a copy of a conversation's message list in arrival order.
func (s *Store) Messages(conversationID string) []domain.Message {
	conv, ok := s.Conversation(conversationID)
	if !ok {
		return nil
	}
	return conv.Messages
}

// Conversations returns conversation summaries (no message lists), newest
// update first.
func (s *Store) Conversations() []domain.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Conversation, 0, len(s.conversations))
	for _, conv := range s.conversations {
		summary := *conv
		summary.Messages = nil
		out = append(out, summary)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}
