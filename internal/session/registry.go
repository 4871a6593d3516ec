// ABOUTME: Thread-safe registry of active conversation sessions
// ABOUTME: Ground truth for which conversations are alive, with lifetime counters

package session

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/2389/loom-gateway/internal/store"
	"github.com/2389/loom-gateway/internal/telemetry"
)

// Removal reasons carried on lifecycle events.
const (
	ReasonExpired = "expired"
	ReasonManual  = "manual"
)

// Session represents one active multi-turn conversation.
// ConversationID, UserID, Source, and CreatedAt are immutable after
// registration; LastActivity and MessageCount are mutated on every message.
type Session struct {
	ConversationID string
	UserID         string
	Source         string
	CreatedAt      time.Time
	LastActivity   time.Time
	MessageCount   int64
}

// Registry is the authoritative, thread-safe store of active sessions.
// Registration is idempotent: re-registering an existing conversation id
// replaces the prior session, never duplicates it. Lifetime counters are
// owned by the registry instance so multiple registries can coexist in tests.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	totalConversations atomic.Int64
	totalMessages      atomic.Int64

	convStore store.ConversationStore
	events    *EventBroadcaster
	sink      telemetry.Sink
	logger    *slog.Logger
}

// NewRegistry creates a session registry. The conversation store is used to
// delete persisted messages when a session is removed. Pass nil for events,
// sink, or logger to disable broadcasting, discard telemetry, or use the
// default logger.
func NewRegistry(convStore store.ConversationStore, events *EventBroadcaster, sink telemetry.Sink, logger *slog.Logger) *Registry {
	if sink == nil {
		sink = telemetry.NopSink{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		sessions:  make(map[string]*Session),
		convStore: convStore,
		events:    events,
		sink:      sink,
		logger:    logger.With("component", "session"),
	}
}

// Register creates a session for the given conversation id, replacing any
// prior entry under the same id. It increments the lifetime conversation
// counter and returns the new session.
func (r *Registry) Register(conversationID, userID, source string) *Session {
	now := time.Now()
	s := &Session{
		ConversationID: conversationID,
		UserID:         userID,
		Source:         source,
		CreatedAt:      now,
		LastActivity:   now,
	}

	r.mu.Lock()
	r.sessions[conversationID] = s
	total := len(r.sessions)
	r.mu.Unlock()

	r.totalConversations.Add(1)

	r.logger.Debug("session registered",
		"conversation_id", conversationID,
		"user_id", userID,
		"source", source,
		"active_sessions", total)
	return s
}

// UpdateActivity marks activity on a session: LastActivity moves to now and
// MessageCount is incremented. Unknown conversation ids are a silent no-op;
// callers are responsible for registering first.
func (r *Registry) UpdateActivity(conversationID string) {
	r.mu.Lock()
	s, ok := r.sessions[conversationID]
	if ok {
		s.LastActivity = time.Now()
		s.MessageCount++
	}
	r.mu.Unlock()

	if !ok {
		// Deliberate: an unregistered id is not an error, but log it so a
		// silently uncounted conversation is at least visible.
		r.logger.Debug("activity on unregistered conversation", "conversation_id", conversationID)
		return
	}

	r.totalMessages.Add(1)
}

// Remove atomically removes and returns the session for the given
// conversation id. On success it emits a lifecycle event carrying the reason
// and deletes the conversation's persisted messages; a store deletion failure
// is logged and does not prevent the in-memory removal. Returns nil, false if
// no session existed.
func (r *Registry) Remove(ctx context.Context, conversationID, reason string) (*Session, bool) {
	r.mu.Lock()
	s, ok := r.sessions[conversationID]
	if ok {
		delete(r.sessions, conversationID)
	}
	r.mu.Unlock()

	if !ok {
		return nil, false
	}

	r.sink.IncrCounter(telemetry.CounterSessionsRemoved, 1, map[string]string{"reason": reason})

	if r.events != nil {
		r.events.Publish(&Event{
			ConversationID: conversationID,
			UserID:         s.UserID,
			Reason:         reason,
			At:             time.Now(),
		})
	}

	// Optimistic cleanup: a retained persisted record is an acceptable
	// residual artifact, never a crash condition.
	if r.convStore != nil {
		if err := r.convStore.DeleteByConversationID(ctx, conversationID); err != nil {
			r.logger.Warn("failed to delete persisted conversation",
				"conversation_id", conversationID,
				"reason", reason,
				"error", err)
			r.sink.IncrCounter(telemetry.CounterCleanupFailures, 1, map[string]string{"operation": "delete"})
		}
	}

	r.logger.Info("session removed",
		"conversation_id", conversationID,
		"reason", reason,
		"message_count", s.MessageCount)
	return s, true
}

// Get returns the session for a conversation id, or nil, false.
func (r *Registry) Get(conversationID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[conversationID]
	if !ok {
		return nil, false
	}
	copied := *s
	return &copied, true
}

// Snapshot returns a point-in-time copy of all active sessions, suitable for
// sweeps. It does not block concurrent registrations beyond the copy itself;
// sessions registered after the snapshot are simply not in it.
func (r *Registry) Snapshot() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		copied := *s
		out = append(out, &copied)
	}
	return out
}

// Len returns the current number of active sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// TotalConversations returns the lifetime count of registered conversations.
// It never decreases.
func (r *Registry) TotalConversations() int64 {
	return r.totalConversations.Load()
}

// TotalMessages returns the lifetime count of counted messages.
// It never decreases.
func (r *Registry) TotalMessages() int64 {
	return r.totalMessages.Load()
}
