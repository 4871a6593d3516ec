// ABOUTME: Token source provider interface for model backends
// ABOUTME: Providers turn a conversation history into a lazy stream of text fragments

package llm

import (
	"context"

	"github.com/2389/loom-gateway/internal/store"
	"github.com/2389/loom-gateway/internal/stream"
)

// Provider produces the raw token sequence for a conversation. The returned
// channel is closed on completion; on failure the last element carries the
// error. Streams are not restartable.
type Provider interface {
	Stream(ctx context.Context, messages []*store.Message) <-chan stream.Token
}
