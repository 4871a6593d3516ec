// ABOUTME: OpenAI-compatible streaming provider backed by langchaingo
// ABOUTME: Feeds streamed completion chunks into the pipeline's token channel

package llm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/2389/loom-gateway/internal/store"
	"github.com/2389/loom-gateway/internal/stream"
)

// tokenChannelBuffer absorbs short bursts between the completion callback
// and the pipeline without growing unbounded; sustained overload is the
// backpressure stage's job.
const tokenChannelBuffer = 64

// OpenAIProvider streams completions from an OpenAI-compatible endpoint.
type OpenAIProvider struct {
	model  llms.Model
	logger *slog.Logger
}

// NewOpenAIProvider creates a provider for the given model and credentials.
// baseURL is optional and overrides the default endpoint for compatible
// servers.
func NewOpenAIProvider(model, apiKey, baseURL string, logger *slog.Logger) (*OpenAIProvider, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts := []openai.Option{openai.WithToken(apiKey)}
	if model != "" {
		opts = append(opts, openai.WithModel(model))
	}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}

	m, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating openai client: %w", err)
	}

	return &OpenAIProvider{
		model:  m,
		logger: logger.With("component", "llm"),
	}, nil
}

// Stream produces a token stream for the given conversation history.
// The stream terminates with a closed channel on completion or a terminal
// error token on failure.
func (p *OpenAIProvider) Stream(ctx context.Context, messages []*store.Message) <-chan stream.Token {
	out := make(chan stream.Token, tokenChannelBuffer)

	go func() {
		defer close(out)

		content := make([]llms.MessageContent, 0, len(messages))
		for _, msg := range messages {
			content = append(content, llms.TextParts(roleToMessageType(msg.Role), msg.Content))
		}

		_, err := p.model.GenerateContent(ctx, content,
			llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
				select {
				case out <- stream.Token{Text: string(chunk)}:
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			}),
		)
		if err != nil {
			p.logger.Warn("model stream failed", "error", err)
			select {
			case out <- stream.Token{Err: err}:
			case <-ctx.Done():
			}
		}
	}()

	return out
}

// roleToMessageType maps stored message roles onto langchaingo chat roles.
func roleToMessageType(role string) llms.ChatMessageType {
	switch role {
	case store.RoleAssistant:
		return llms.ChatMessageTypeAI
	case store.RoleSystem:
		return llms.ChatMessageTypeSystem
	default:
		return llms.ChatMessageTypeHuman
	}
}
