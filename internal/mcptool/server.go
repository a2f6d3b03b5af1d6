// Package mcptool exposes the review history as Model Context Protocol tools
// over stdio transport, so agent clients can query past analyses.
package mcptool

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"repo-review-dashboard/internal/history"
)

const (
	serverName    = "repo-review-dashboard"
	serverVersion = "1.0.0"
)

const (
	listReviewsDescription = "List saved repository reviews, most recent first. " +
		"Returns id, repository name, save time and commit/PR counts."
	getReviewDescription = "Fetch one saved review by id, including the full " +
		"markdown narrative and structured scores."
)

// Server wraps the MCP SDK server with the history tools registered.
type Server struct {
	inner   *mcpsdk.Server
	history *history.Store
}

func NewServer(h *history.Store, logger *slog.Logger) *Server {
	opts := &mcpsdk.ServerOptions{}
	if logger != nil {
		opts.Logger = logger
	}

	srv := &Server{
		inner: mcpsdk.NewServer(
			&mcpsdk.Implementation{Name: serverName, Version: serverVersion},
			opts,
		),
		history: h,
	}

	mcpsdk.AddTool(srv.inner, &mcpsdk.Tool{
		Name:        "list_reviews",
		Description: listReviewsDescription,
	}, srv.handleListReviews)

	mcpsdk.AddTool(srv.inner, &mcpsdk.Tool{
		Name:        "get_review",
		Description: getReviewDescription,
	}, srv.handleGetReview)

	return srv
}

// Run starts the server on stdio transport. It blocks until the context is
// canceled or the connection closes.
func (s *Server) Run(ctx context.Context) error {
	if err := s.inner.Run(ctx, &mcpsdk.StdioTransport{}); err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}

type listReviewsInput struct {
	Repo string `json:"repo,omitempty" jsonschema:"optional full repository name filter, e.g. octo/widgets"`
}

// reviewSummary omits the markdown body; get_review returns the full record.
type reviewSummary struct {
	ID           string `json:"id"`
	RepoFullName string `json:"repoFullName"`
	SavedAt      string `json:"savedAt"`
	CommitCount  int    `json:"commitCount"`
	PRCount      int    `json:"prCount"`
	HasAnalysis  bool   `json:"hasAnalysis"`
}

type listReviewsOutput struct {
	Reviews []reviewSummary `json:"reviews"`
}

func (s *Server) handleListReviews(ctx context.Context, _ *mcpsdk.CallToolRequest, input listReviewsInput) (*mcpsdk.CallToolResult, listReviewsOutput, error) {
	reviews, err := s.history.GetAll(ctx)
	if err != nil {
		return nil, listReviewsOutput{}, fmt.Errorf("list reviews: %w", err)
	}

	out := listReviewsOutput{Reviews: make([]reviewSummary, 0, len(reviews))}
	for _, r := range reviews {
		if input.Repo != "" && r.RepoFullName != input.Repo {
			continue
		}
		out.Reviews = append(out.Reviews, reviewSummary{
			ID:           r.ID,
			RepoFullName: r.RepoFullName,
			SavedAt:      r.SavedAt.Format(time.RFC3339),
			CommitCount:  r.CommitCount,
			PRCount:      r.PRCount,
			HasAnalysis:  r.AIAnalysis != nil,
		})
	}
	return nil, out, nil
}

type getReviewInput struct {
	ID string `json:"id" jsonschema:"the review id as returned by list_reviews"`
}

type getReviewOutput struct {
	Review history.SavedReview `json:"review"`
}

func (s *Server) handleGetReview(ctx context.Context, _ *mcpsdk.CallToolRequest, input getReviewInput) (*mcpsdk.CallToolResult, getReviewOutput, error) {
	reviews, err := s.history.GetAll(ctx)
	if err != nil {
		return nil, getReviewOutput{}, fmt.Errorf("get review: %w", err)
	}
	for _, r := range reviews {
		if r.ID == input.ID {
			return nil, getReviewOutput{Review: r}, nil
		}
	}
	return &mcpsdk.CallToolResult{
		IsError: true,
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: fmt.Sprintf("review %q not found", input.ID)}},
	}, getReviewOutput{}, nil
}
