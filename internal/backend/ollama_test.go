package backend

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"repo-review-dashboard/internal/domain"
	"repo-review-dashboard/internal/types"
)

func testSnapshot() *domain.RepoSnapshot {
	return &domain.RepoSnapshot{
		Repo: domain.RepoInfo{
			FullName: "octo/widgets",
			Owner:    "octo",
			Name:     "widgets",
			URL:      "https://github.com/octo/widgets",
		},
		Commits: []domain.Commit{
			{SHA: "abc1234", Message: "initial commit", Author: "octo", Date: "2026-01-02"},
		},
	}
}

func TestOllamaStream(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("Expected path /chat/completions, got %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "text/event-stream")

		chunks := []string{
			`{"id":"1","object":"chat.completion.chunk","created":1,"model":"llama3","choices":[{"index":0,"delta":{"role":"assistant","content":""},"finish_reason":null}]}`,
			`{"id":"1","object":"chat.completion.chunk","created":1,"model":"llama3","choices":[{"index":0,"delta":{"content":"## Summary\n"},"finish_reason":null}]}`,
			`{"id":"1","object":"chat.completion.chunk","created":1,"model":"llama3","choices":[{"index":0,"delta":{"content":"Looks good."},"finish_reason":null}]}`,
			`{"id":"1","object":"chat.completion.chunk","created":1,"model":"llama3","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`,
			`{"id":"1","object":"chat.completion.chunk","created":1,"model":"llama3","choices":[],"usage":{"prompt_tokens":120,"completion_tokens":40,"total_tokens":160}}`,
			`[DONE]`,
		}
		for _, chunk := range chunks {
			w.Write([]byte("data: " + chunk + "\n\n"))
			w.(http.Flusher).Flush()
		}
	}))
	defer ts.Close()

	backend := NewOllama(ts.URL, "llama3")

	var text strings.Builder
	var usage *domain.TokenUsage
	for chunk, err := range backend.Stream(context.Background(), testSnapshot(), "") {
		if err != nil {
			t.Fatalf("Stream error: %v", err)
		}
		switch chunk.Kind {
		case ChunkText:
			text.WriteString(chunk.Content)
		case ChunkUsage:
			usage = chunk.Usage
		}
	}

	if text.String() != "## Summary\nLooks good." {
		t.Errorf("unexpected text: %q", text.String())
	}
	if usage == nil {
		t.Fatal("expected a usage chunk")
	}
	if usage.InputTokens != 120 || usage.OutputTokens != 40 || usage.TotalTokens != 160 {
		t.Errorf("unexpected usage: %+v", usage)
	}
}

func TestOllamaStreamStopsWhenConsumerStops(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for i := 0; i < 50; i++ {
			w.Write([]byte(`data: {"id":"1","object":"chat.completion.chunk","created":1,"model":"llama3","choices":[{"index":0,"delta":{"content":"x"},"finish_reason":null}]}` + "\n\n"))
			w.(http.Flusher).Flush()
		}
		w.Write([]byte("data: [DONE]\n\n"))
	}))
	defer ts.Close()

	backend := NewOllama(ts.URL, "llama3")

	seen := 0
	for _, err := range backend.Stream(context.Background(), testSnapshot(), "") {
		if err != nil {
			t.Fatalf("Stream error: %v", err)
		}
		seen++
		if seen == 3 {
			break
		}
	}
	if seen != 3 {
		t.Errorf("expected the producer to stop after break, saw %d chunks", seen)
	}
}

func TestOllamaStreamRateLimited(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"rate limit exceeded","type":"rate_limit_error"}}`))
	}))
	defer ts.Close()

	backend := NewOllama(ts.URL, "llama3")

	var streamErr error
	for _, err := range backend.Stream(context.Background(), testSnapshot(), "") {
		if err != nil {
			streamErr = err
		}
	}
	if streamErr == nil {
		t.Fatal("expected a terminal error")
	}
	if !types.IsRateLimited(streamErr) {
		t.Errorf("expected RateLimitedError, got %v", streamErr)
	}
}

func TestOllamaStreamTransportError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":{"message":"boom"}}`))
	}))
	defer ts.Close()

	backend := NewOllama(ts.URL, "llama3")

	var streamErr error
	for _, err := range backend.Stream(context.Background(), testSnapshot(), "") {
		if err != nil {
			streamErr = err
		}
	}
	if streamErr == nil {
		t.Fatal("expected a terminal error")
	}
	if types.IsRateLimited(streamErr) {
		t.Error("5xx must not be classified as a rate limit")
	}
}
