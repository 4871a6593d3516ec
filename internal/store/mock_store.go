// ABOUTME: Mock ConversationStore implementation for testing
// ABOUTME: Allows tests to run without SQLite or Redis, with injectable failures

package store

import (
	"context"
	"sync"
)

// MockStore is an in-memory ConversationStore implementation for testing.
// Individual operations can be made to fail by setting the corresponding
// error field.
type MockStore struct {
	mu       sync.RWMutex
	messages map[string][]*Message // keyed by conversation ID

	LoadErr    error
	SaveAllErr error
	AppendErr  error
	DeleteErr  error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		messages: make(map[string][]*Message),
	}
}

// Load returns the stored messages for a conversation, empty if unknown.
func (m *MockStore) Load(ctx context.Context, conversationID string) ([]*Message, error) {
	if m.LoadErr != nil {
		return nil, m.LoadErr
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	stored := m.messages[conversationID]
	// Return a copy to avoid external modification
	out := make([]*Message, len(stored))
	copy(out, stored)
	return out, nil
}

// SaveAll replaces the stored message list for a conversation.
func (m *MockStore) SaveAll(ctx context.Context, conversationID string, messages []*Message) error {
	if m.SaveAllErr != nil {
		return m.SaveAllErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stored := make([]*Message, len(messages))
	copy(stored, messages)
	m.messages[conversationID] = stored
	return nil
}

// Append adds a message to the end of a conversation.
func (m *MockStore) Append(ctx context.Context, msg *Message) error {
	if m.AppendErr != nil {
		return m.AppendErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], msg)
	return nil
}

// DeleteByConversationID removes all messages for a conversation.
func (m *MockStore) DeleteByConversationID(ctx context.Context, conversationID string) error {
	if m.DeleteErr != nil {
		return m.DeleteErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.messages, conversationID)
	return nil
}

// Close is a no-op for the mock.
func (m *MockStore) Close() error {
	return nil
}

// Count returns the number of stored messages for a conversation.
// Test helper, not part of the ConversationStore interface.
func (m *MockStore) Count(conversationID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.messages[conversationID])
}
