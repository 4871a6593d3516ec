// ABOUTME: Store interface and data types for conversation message persistence
// ABOUTME: Defines Message and the ConversationStore interface the optimizer and handlers depend on

package store

import (
	"context"
	"time"
)

// Role constants for message authorship
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message represents a single message within a conversation
type Message struct {
	ID             string
	ConversationID string
	Role           string // "user", "assistant", "system"
	Content        string
	CreatedAt      time.Time
}

// ConversationStore defines the interface for conversation message persistence.
// Implementations must tolerate being called for unknown conversation ids:
// Load returns an empty list, Delete is a no-op.
type ConversationStore interface {
	// Load returns all messages for a conversation in insertion order.
	// Unknown conversation ids yield an empty slice, not an error.
	Load(ctx context.Context, conversationID string) ([]*Message, error)

	// SaveAll replaces the stored message list for a conversation.
	SaveAll(ctx context.Context, conversationID string, messages []*Message) error

	// Append adds a single message to the end of a conversation.
	Append(ctx context.Context, msg *Message) error

	// DeleteByConversationID removes all messages for a conversation.
	DeleteByConversationID(ctx context.Context, conversationID string) error

	// Close releases any underlying resources.
	Close() error
}
