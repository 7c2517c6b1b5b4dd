// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"

	"github.com/mvaleev/reelchat/internal/domain"
)

// Repository defines the interface for persisting conversations and messages.
type Repository interface {
	// CreateConversation inserts a conversation together with its first
	// message. A conversation never exists with zero messages.
	CreateConversation(ctx context.Context, conv *domain.Conversation, first *domain.Message) error

	// GetConversation retrieves a conversation with its full message
	// history in arrival order. Returns (nil, nil) when the id is unknown.
	GetConversation(ctx context.Context, id string) (*domain.Conversation, error)

	// ListConversations returns conversation summaries (no messages),
	// newest update first.
	ListConversations(ctx context.Context) ([]*domain.Conversation, error)

	// AddMessage appends a message to an existing conversation and bumps
	// the conversation's updated_at.
	AddMessage(ctx context.Context, msg *domain.Message) error

	// DeleteConversation removes a conversation and its messages.
	// Deleting an unknown id is a no-op.
	DeleteConversation(ctx context.Context, id string) error

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
