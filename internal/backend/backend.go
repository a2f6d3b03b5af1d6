package backend

import (
	"context"
	"iter"

	"repo-review-dashboard/internal/domain"
)

// ChunkKind discriminates the two stream chunk variants.
type ChunkKind string

const (
	ChunkText  ChunkKind = "text"
	ChunkUsage ChunkKind = "usage"
)

// StreamChunk is one incremental unit of model output: either a narrative
// text fragment or a cumulative token-usage report. Usage reports replace the
// previously seen totals, they are not deltas.
type StreamChunk struct {
	Kind    ChunkKind          `json:"kind"`
	Content string             `json:"content,omitempty"`
	Usage   *domain.TokenUsage `json:"usage,omitempty"`
}

// Choice names a configured backend variant.
type Choice string

const (
	ChoiceGemini Choice = "gemini" // cloud
	ChoiceOllama Choice = "ollama" // local
)

// Backend produces the analysis stream for a repository snapshot. The
// returned sequence is cooperative and single-consumer: the producer suspends
// between chunks and must stop promptly when the consumer stops draining or
// the context is cancelled. The sequence always terminates; a terminal
// failure is delivered as the final non-nil error, distinguishable from
// normal completion (iterator simply ends).
type Backend interface {
	Name() string
	// RequiresCredential reports whether the driver must resolve a
	// model-access credential before starting a run.
	RequiresCredential() bool
	Stream(ctx context.Context, snapshot *domain.RepoSnapshot, apiKey string) iter.Seq2[StreamChunk, error]
}
