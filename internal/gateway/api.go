// ABOUTME: HTTP surface for the gateway: chat streaming, stats, and health
// ABOUTME: Handlers stay thin; all semantics live in the session, memory, and stream packages

package gateway

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/loom-gateway/internal/llm"
	"github.com/2389/loom-gateway/internal/memory"
	"github.com/2389/loom-gateway/internal/session"
	"github.com/2389/loom-gateway/internal/store"
	"github.com/2389/loom-gateway/internal/stream"
)

// API wires the core components behind an HTTP mux.
type API struct {
	registry  *session.Registry
	optimizer *memory.Optimizer
	pipeline  *stream.Pipeline
	provider  llm.Provider
	convStore store.ConversationStore
	logger    *slog.Logger
}

// New creates the API. Pass nil logger for default.
func New(registry *session.Registry, optimizer *memory.Optimizer, pipeline *stream.Pipeline, provider llm.Provider, convStore store.ConversationStore, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{
		registry:  registry,
		optimizer: optimizer,
		pipeline:  pipeline,
		provider:  provider,
		convStore: convStore,
		logger:    logger.With("component", "gateway"),
	}
}

// Routes returns the HTTP mux for the gateway surface.
func (a *API) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", a.handleHealth)
	mux.HandleFunc("GET /v1/stats", a.handleStats)
	mux.HandleFunc("POST /v1/chat", a.handleChat)
	mux.HandleFunc("DELETE /v1/conversations/{id}", a.handleEndConversation)
	return mux
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "ok")
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := a.optimizer.Stats(r.Context())
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(stats); err != nil {
		a.logger.Error("failed to encode stats", "error", err)
	}
}

// chatRequest is the body of POST /v1/chat.
type chatRequest struct {
	ConversationID       string `json:"conversation_id"`
	UserID               string `json:"user_id"`
	Source               string `json:"source"`
	Message              string `json:"message"`
	ExpectedResponseSize int    `json:"expected_response_size"`
}

// handleChat registers or touches the session, persists the user message,
// and streams the model response back through the backpressure pipeline as
// chunked plain text.
func (a *API) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.ConversationID == "" || req.Message == "" {
		http.Error(w, "conversation_id and message are required", http.StatusBadRequest)
		return
	}
	if req.Source == "" {
		req.Source = "api"
	}

	ctx := r.Context()

	if _, ok := a.registry.Get(req.ConversationID); !ok {
		a.registry.Register(req.ConversationID, req.UserID, req.Source)
	}
	a.registry.UpdateActivity(req.ConversationID)

	// Record first, then act: the user message is persisted before the
	// model is called, so a record exists even if the backend fails.
	userMsg := &store.Message{
		ID:             uuid.New().String(),
		ConversationID: req.ConversationID,
		Role:           store.RoleUser,
		Content:        req.Message,
		CreatedAt:      time.Now(),
	}
	if err := a.convStore.Append(ctx, userMsg); err != nil {
		a.logger.Error("failed to persist user message",
			"conversation_id", req.ConversationID,
			"error", err)
		http.Error(w, "failed to persist message", http.StatusInternalServerError)
		return
	}

	history, err := a.convStore.Load(ctx, req.ConversationID)
	if err != nil {
		a.logger.Error("failed to load history",
			"conversation_id", req.ConversationID,
			"error", err)
		http.Error(w, "failed to load history", http.StatusInternalServerError)
		return
	}

	tokens := a.provider.Stream(ctx, history)
	staged := a.pipeline.WithMemoryMonitoring(ctx, a.pipeline.ApplyBackpressure(ctx, tokens))
	batches := a.pipeline.Optimize(ctx, staged, a.pipeline.OptimalBufferSize(req.ExpectedResponseSize))

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Conversation-Id", req.ConversationID)
	flusher, _ := w.(http.Flusher)

	var full strings.Builder
	for batch := range batches {
		if batch.Err != nil {
			// Tokens already flushed remain delivered; the terminal error
			// ends the stream.
			a.logger.Warn("stream ended with error",
				"conversation_id", req.ConversationID,
				"error", batch.Err)
			return
		}
		if _, err := fmt.Fprint(w, batch.Text); err != nil {
			// Consumer disconnected; the pipeline unwinds via ctx.
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
		full.WriteString(batch.Text)
	}

	if full.Len() > 0 {
		assistantMsg := &store.Message{
			ID:             uuid.New().String(),
			ConversationID: req.ConversationID,
			Role:           store.RoleAssistant,
			Content:        full.String(),
			CreatedAt:      time.Now(),
		}
		if err := a.convStore.Append(ctx, assistantMsg); err != nil {
			a.logger.Error("failed to persist assistant message",
				"conversation_id", req.ConversationID,
				"error", err)
		}
		a.registry.UpdateActivity(req.ConversationID)
	}
}

// handleEndConversation removes a session and its persisted messages.
func (a *API) handleEndConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if _, ok := a.registry.Remove(r.Context(), id, session.ReasonManual); !ok {
		http.Error(w, "conversation not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
