package backend

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"repo-review-dashboard/internal/domain"
	"repo-review-dashboard/internal/metrics"
	"repo-review-dashboard/internal/types"

	"google.golang.org/genai"
)

// defaultCooldown is applied when the provider signals a rate limit without a
// usable retry-after hint.
const defaultCooldown = 60 * time.Second

// Gemini streams analyses from the Gemini API. A fresh client is built per run
// because the credential may rotate between runs.
type Gemini struct {
	model string
}

func NewGemini(model string) *Gemini {
	return &Gemini{model: model}
}

func (g *Gemini) Name() string { return string(ChoiceGemini) }

func (g *Gemini) RequiresCredential() bool { return true }

// Stream runs one analysis. Text fragments are yielded as they arrive; the
// final usage report is yielded once after the provider stream ends.
func (g *Gemini) Stream(ctx context.Context, snapshot *domain.RepoSnapshot, apiKey string) iter.Seq2[StreamChunk, error] {
	return func(yield func(StreamChunk, error) bool) {
		prompt, err := BuildPrompt(snapshot)
		if err != nil {
			yield(StreamChunk{}, fmt.Errorf("build prompt: %w", err))
			return
		}

		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  apiKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			yield(StreamChunk{}, g.wrapError(err))
			return
		}

		config := &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(systemInstruction, genai.RoleUser),
		}

		var usage *domain.TokenUsage
		for resp, err := range client.Models.GenerateContentStream(ctx, g.model, genai.Text(prompt), config) {
			if err != nil {
				yield(StreamChunk{}, g.wrapError(err))
				return
			}
			if resp.UsageMetadata != nil {
				usage = &domain.TokenUsage{
					InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
					OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
					TotalTokens:  int(resp.UsageMetadata.TotalTokenCount),
				}
			}
			text := collectText(resp)
			if text == "" {
				continue
			}
			metrics.StreamChunks.WithLabelValues(string(ChunkText)).Inc()
			if !yield(StreamChunk{Kind: ChunkText, Content: text}, nil) {
				return
			}
		}

		if usage != nil {
			metrics.StreamChunks.WithLabelValues(string(ChunkUsage)).Inc()
			yield(StreamChunk{Kind: ChunkUsage, Usage: usage}, nil)
		}
	}
}

func collectText(resp *genai.GenerateContentResponse) string {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var out string
	for _, part := range resp.Candidates[0].Content.Parts {
		out += part.Text
	}
	return out
}

// wrapError maps provider failures onto the error taxonomy. 429 becomes a
// rate-limit signal; the caller decides whether to rotate credentials.
// Credential attribution is filled in by the driver.
func (g *Gemini) wrapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) && apiErr.Code == 429 {
		until := time.Now().Add(defaultCooldown)
		slog.Warn("gemini rate limited", "until", until)
		return &types.RateLimitedError{Until: until, Err: err}
	}
	return &types.TransportError{Backend: g.Name(), Err: err}
}
