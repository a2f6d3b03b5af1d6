package backend

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"repo-review-dashboard/internal/domain"
	"repo-review-dashboard/internal/metrics"
	"repo-review-dashboard/internal/types"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Ollama streams analyses from a local Ollama instance through its
// OpenAI-compatible endpoint. No credential is required; the placeholder key
// satisfies the client library only.
type Ollama struct {
	client openai.Client
	model  string
}

func NewOllama(baseURL, model string) *Ollama {
	return &Ollama{
		client: openai.NewClient(
			option.WithBaseURL(baseURL),
			option.WithAPIKey("ollama"),
		),
		model: model,
	}
}

func (o *Ollama) Name() string { return string(ChoiceOllama) }

func (o *Ollama) RequiresCredential() bool { return false }

func (o *Ollama) Stream(ctx context.Context, snapshot *domain.RepoSnapshot, _ string) iter.Seq2[StreamChunk, error] {
	return func(yield func(StreamChunk, error) bool) {
		prompt, err := BuildPrompt(snapshot)
		if err != nil {
			yield(StreamChunk{}, fmt.Errorf("build prompt: %w", err))
			return
		}

		params := openai.ChatCompletionNewParams{
			Model: openai.ChatModel(o.model),
			Messages: []openai.ChatCompletionMessageParamUnion{
				openai.SystemMessage(systemInstruction),
				openai.UserMessage(prompt),
			},
			StreamOptions: openai.ChatCompletionStreamOptionsParam{
				IncludeUsage: openai.Bool(true),
			},
		}

		stream := o.client.Chat.Completions.NewStreaming(ctx, params)
		defer stream.Close()

		var usage *domain.TokenUsage
		for stream.Next() {
			chunk := stream.Current()
			if chunk.Usage.TotalTokens > 0 {
				usage = &domain.TokenUsage{
					InputTokens:  int(chunk.Usage.PromptTokens),
					OutputTokens: int(chunk.Usage.CompletionTokens),
					TotalTokens:  int(chunk.Usage.TotalTokens),
				}
			}
			if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
				continue
			}
			metrics.StreamChunks.WithLabelValues(string(ChunkText)).Inc()
			if !yield(StreamChunk{Kind: ChunkText, Content: chunk.Choices[0].Delta.Content}, nil) {
				return
			}
		}
		if err := stream.Err(); err != nil {
			yield(StreamChunk{}, o.wrapError(err))
			return
		}

		if usage != nil {
			metrics.StreamChunks.WithLabelValues(string(ChunkUsage)).Inc()
			yield(StreamChunk{Kind: ChunkUsage, Usage: usage}, nil)
		}
	}
}

func (o *Ollama) wrapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode == 429 {
		return &types.RateLimitedError{Until: time.Now().Add(defaultCooldown), Err: err}
	}
	return &types.TransportError{Backend: o.Name(), Err: err}
}
