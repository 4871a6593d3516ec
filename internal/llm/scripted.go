// ABOUTME: Scripted token source for tests and local development
// ABOUTME: Plays back canned token sequences with optional delay and terminal error

package llm

import (
	"context"
	"time"

	"github.com/2389/loom-gateway/internal/store"
	"github.com/2389/loom-gateway/internal/stream"
)

// ScriptedProvider emits a fixed token sequence regardless of input.
// Used by tests and by the "scripted" provider configuration for running
// the gateway without a model backend.
type ScriptedProvider struct {
	// Tokens are emitted in order on every Stream call.
	Tokens []string
	// Delay, when non-zero, is the pause before each token.
	Delay time.Duration
	// Err, when non-nil, terminates the stream after all tokens.
	Err error
}

// NewScriptedProvider creates a provider that replays the given tokens.
func NewScriptedProvider(tokens ...string) *ScriptedProvider {
	return &ScriptedProvider{Tokens: tokens}
}

// Stream plays back the script. The conversation history is ignored.
func (p *ScriptedProvider) Stream(ctx context.Context, _ []*store.Message) <-chan stream.Token {
	out := make(chan stream.Token)

	go func() {
		defer close(out)

		for _, text := range p.Tokens {
			if p.Delay > 0 {
				select {
				case <-time.After(p.Delay):
				case <-ctx.Done():
					return
				}
			}
			select {
			case out <- stream.Token{Text: text}:
			case <-ctx.Done():
				return
			}
		}

		if p.Err != nil {
			select {
			case out <- stream.Token{Err: p.Err}:
			case <-ctx.Done():
			}
		}
	}()

	return out
}
