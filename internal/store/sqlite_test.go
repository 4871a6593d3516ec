// ABOUTME: Tests for the SQLite conversation store
// ABOUTME: Covers load/save/append/delete round trips and unknown-id tolerance

package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testMessages(conversationID string, n int) []*Message {
	msgs := make([]*Message, n)
	base := time.Now().UTC().Truncate(time.Second)
	for i := range msgs {
		msgs[i] = &Message{
			ID:             fmt.Sprintf("%s-msg-%d", conversationID, i),
			ConversationID: conversationID,
			Role:           RoleUser,
			Content:        fmt.Sprintf("message %d", i),
			CreatedAt:      base.Add(time.Duration(i) * time.Second),
		}
	}
	return msgs
}

func TestSQLiteStore_LoadUnknownConversation(t *testing.T) {
	s := createTestStore(t)

	msgs, err := s.Load(context.Background(), "never-seen")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestSQLiteStore_SaveAllAndLoad(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	want := testMessages("c1", 5)
	require.NoError(t, s.SaveAll(ctx, "c1", want))

	got, err := s.Load(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, got, 5)
	for i := range want {
		assert.Equal(t, want[i].ID, got[i].ID)
		assert.Equal(t, want[i].Content, got[i].Content)
		assert.Equal(t, want[i].Role, got[i].Role)
	}
}

func TestSQLiteStore_SaveAllReplacesExisting(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveAll(ctx, "c1", testMessages("c1", 10)))

	// Replace with a shorter list, as trimming does
	replacement := testMessages("c1", 10)[7:]
	require.NoError(t, s.SaveAll(ctx, "c1", replacement))

	got, err := s.Load(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "c1-msg-7", got[0].ID)
	assert.Equal(t, "c1-msg-9", got[2].ID)
}

func TestSQLiteStore_AppendPreservesOrder(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for _, msg := range testMessages("c1", 4) {
		require.NoError(t, s.Append(ctx, msg))
	}

	got, err := s.Load(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, got, 4)
	for i, msg := range got {
		assert.Equal(t, fmt.Sprintf("message %d", i), msg.Content)
	}
}

func TestSQLiteStore_AppendAfterSaveAll(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveAll(ctx, "c1", testMessages("c1", 3)))
	require.NoError(t, s.Append(ctx, &Message{
		ID:             "extra",
		ConversationID: "c1",
		Role:           RoleAssistant,
		Content:        "appended",
		CreatedAt:      time.Now(),
	}))

	got, err := s.Load(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, "appended", got[3].Content)
}

func TestSQLiteStore_Delete(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveAll(ctx, "c1", testMessages("c1", 3)))
	require.NoError(t, s.SaveAll(ctx, "c2", testMessages("c2", 2)))

	require.NoError(t, s.DeleteByConversationID(ctx, "c1"))

	gone, err := s.Load(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, gone)

	// Other conversations are untouched
	kept, err := s.Load(ctx, "c2")
	require.NoError(t, err)
	assert.Len(t, kept, 2)
}

func TestSQLiteStore_DeleteUnknownIsNoop(t *testing.T) {
	s := createTestStore(t)

	assert.NoError(t, s.DeleteByConversationID(context.Background(), "never-seen"))
}
