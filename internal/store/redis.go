// ABOUTME: Redis implementation of the ConversationStore interface
// ABOUTME: Stores each conversation as a single JSON blob with an optional TTL

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements the ConversationStore interface using Redis.
// Each conversation is stored as one JSON-encoded message list under
// conv:<id>, with an optional TTL applied on every write.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisStore creates a Redis-backed conversation store.
// A ttl of zero means keys never expire.
func NewRedisStore(redisURL string, ttl time.Duration) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}

	client := redis.NewClient(opt)

	// Verify connectivity before handing the store out
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &RedisStore{
		client: client,
		ttl:    ttl,
		logger: slog.Default().With("component", "store"),
	}, nil
}

// conversationKey generates the Redis key for a conversation
func (r *RedisStore) conversationKey(conversationID string) string {
	return "conv:" + conversationID
}

// Load returns all messages for a conversation in insertion order.
// Unknown conversation ids yield an empty slice.
func (r *RedisStore) Load(ctx context.Context, conversationID string) ([]*Message, error) {
	data, err := r.client.Get(ctx, r.conversationKey(conversationID)).Result()
	if err == redis.Nil {
		return []*Message{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading conversation from redis: %w", err)
	}

	var messages []*Message
	if err := json.Unmarshal([]byte(data), &messages); err != nil {
		return nil, fmt.Errorf("parsing conversation data: %w", err)
	}
	return messages, nil
}

// SaveAll replaces the stored message list for a conversation.
func (r *RedisStore) SaveAll(ctx context.Context, conversationID string, messages []*Message) error {
	data, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("encoding conversation data: %w", err)
	}

	if err := r.client.Set(ctx, r.conversationKey(conversationID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("saving conversation to redis: %w", err)
	}

	r.logger.Debug("saved conversation messages",
		"conversation_id", conversationID,
		"count", len(messages))
	return nil
}

// Append adds a single message to the end of a conversation.
func (r *RedisStore) Append(ctx context.Context, msg *Message) error {
	messages, err := r.Load(ctx, msg.ConversationID)
	if err != nil {
		return fmt.Errorf("loading conversation for append: %w", err)
	}
	messages = append(messages, msg)
	return r.SaveAll(ctx, msg.ConversationID, messages)
}

// DeleteByConversationID removes all messages for a conversation.
// Deleting an unknown conversation is a no-op.
func (r *RedisStore) DeleteByConversationID(ctx context.Context, conversationID string) error {
	if err := r.client.Del(ctx, r.conversationKey(conversationID)).Err(); err != nil {
		return fmt.Errorf("deleting conversation from redis: %w", err)
	}
	return nil
}

// Close closes the Redis client.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
