// Package driver resolves credentials and runs streaming analyses against a
// configured model backend.
package driver

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"time"

	"repo-review-dashboard/internal/backend"
	"repo-review-dashboard/internal/credentials"
	"repo-review-dashboard/internal/domain"
	"repo-review-dashboard/internal/metrics"
	"repo-review-dashboard/internal/types"
)

// Driver selects a model-access credential, delegates streaming to the
// backend, and attributes rate limits back to the credential pool. It never
// retries inside a run: a rate limit terminates the stream and the caller may
// start a fresh run with the next credential.
type Driver struct {
	backend backend.Backend
	pool    *credentials.Pool
	// fallbackKey is used when the pool has no usable model-access
	// credential, typically sourced from the environment.
	fallbackKey string
}

func New(b backend.Backend, pool *credentials.Pool, fallbackKey string) *Driver {
	return &Driver{backend: b, pool: pool, fallbackKey: fallbackKey}
}

// Backend returns the configured backend's name.
func (d *Driver) Backend() string { return d.backend.Name() }

// Run starts one analysis stream for the snapshot. Credential resolution
// happens before the first chunk; a run that cannot be credentialed yields a
// single validation error.
func (d *Driver) Run(ctx context.Context, snapshot *domain.RepoSnapshot) iter.Seq2[backend.StreamChunk, error] {
	return func(yield func(backend.StreamChunk, error) bool) {
		if snapshot == nil || !snapshot.IsValid() {
			yield(backend.StreamChunk{}, types.NewValidationError("snapshot", "incomplete repository snapshot"))
			return
		}

		var credID, apiKey string
		if d.backend.RequiresCredential() {
			if cred, ok := d.pool.SelectActive(credentials.PurposeModelAccess); ok {
				credID, apiKey = cred.ID, cred.Secret
			} else if d.fallbackKey != "" {
				metrics.CredentialRotations.WithLabelValues(string(credentials.PurposeModelAccess), "fallback").Inc()
				apiKey = d.fallbackKey
			} else {
				yield(backend.StreamChunk{}, types.NewValidationError("credential",
					"no usable model-access credential and no fallback key configured"))
				return
			}
		}

		start := time.Now()
		status := "completed"
		defer func() {
			metrics.AnalysesTotal.WithLabelValues(d.backend.Name(), status).Inc()
			metrics.AnalysisDuration.WithLabelValues(d.backend.Name()).Observe(time.Since(start).Seconds())
		}()

		slog.Info("analysis run started", "backend", d.backend.Name(), "repo", snapshot.Repo.FullName)

		for chunk, err := range d.backend.Stream(ctx, snapshot, apiKey) {
			if err != nil {
				status = classify(err)
				yield(backend.StreamChunk{}, d.attribute(ctx, err, credID))
				return
			}
			if !yield(chunk, nil) {
				status = "cancelled"
				return
			}
		}

		slog.Info("analysis run completed", "backend", d.backend.Name(),
			"repo", snapshot.Repo.FullName, "duration", time.Since(start))
	}
}

// attribute stamps the credential id onto rate-limit errors and records the
// cool-down in the pool so the next run rotates past it.
func (d *Driver) attribute(ctx context.Context, err error, credID string) error {
	var rle *types.RateLimitedError
	if !errors.As(err, &rle) {
		return err
	}
	rle.CredentialID = credID
	if credID != "" {
		if markErr := d.pool.MarkRateLimited(ctx, credID, rle.Until); markErr != nil {
			slog.Error("recording rate limit failed", "id", credID, "error", markErr)
		}
	}
	return err
}

func classify(err error) string {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	case types.IsRateLimited(err):
		return "rate_limited"
	default:
		return "failed"
	}
}
