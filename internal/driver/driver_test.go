package driver

import (
	"context"
	"errors"
	"iter"
	"testing"
	"time"

	"repo-review-dashboard/internal/backend"
	"repo-review-dashboard/internal/credentials"
	"repo-review-dashboard/internal/domain"
	"repo-review-dashboard/internal/types"
)

// fakeBackend yields a scripted sequence of chunks and an optional terminal
// error, recording the api key it was handed.
type fakeBackend struct {
	needsCred bool
	chunks    []backend.StreamChunk
	finalErr  error
	gotKey    string
	yielded   int
}

func (f *fakeBackend) Name() string             { return "fake" }
func (f *fakeBackend) RequiresCredential() bool { return f.needsCred }

func (f *fakeBackend) Stream(_ context.Context, _ *domain.RepoSnapshot, apiKey string) iter.Seq2[backend.StreamChunk, error] {
	f.gotKey = apiKey
	return func(yield func(backend.StreamChunk, error) bool) {
		for _, c := range f.chunks {
			if !yield(c, nil) {
				return
			}
			f.yielded++
		}
		if f.finalErr != nil {
			yield(backend.StreamChunk{}, f.finalErr)
		}
	}
}

type memKV struct {
	data map[string][]byte
}

func newMemKV() *memKV { return &memKV{data: map[string][]byte{}} }

func (m *memKV) Get(_ context.Context, key string) ([]byte, error) { return m.data[key], nil }
func (m *memKV) Set(_ context.Context, key string, value []byte) error {
	m.data[key] = value
	return nil
}
func (m *memKV) Delete(_ context.Context, key string) error { delete(m.data, key); return nil }
func (m *memKV) Close() error                               { return nil }

func snapshot() *domain.RepoSnapshot {
	return &domain.RepoSnapshot{
		Repo: domain.RepoInfo{FullName: "octo/widgets", Owner: "octo", Name: "widgets", URL: "u"},
	}
}

func TestDriverUsesPoolCredential(t *testing.T) {
	ctx := context.Background()
	pool, _ := credentials.NewPool(ctx, newMemKV())
	pool.Add(ctx, "primary", credentials.PurposeModelAccess, "pool-secret-key")

	fb := &fakeBackend{needsCred: true, chunks: []backend.StreamChunk{
		{Kind: backend.ChunkText, Content: "hello"},
	}}
	d := New(fb, pool, "env-fallback-key")

	for _, err := range d.Run(ctx, snapshot()) {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if fb.gotKey != "pool-secret-key" {
		t.Errorf("expected the pool secret, backend got %q", fb.gotKey)
	}
}

func TestDriverFallsBackToEnvKey(t *testing.T) {
	ctx := context.Background()
	pool, _ := credentials.NewPool(ctx, newMemKV())

	fb := &fakeBackend{needsCred: true, chunks: []backend.StreamChunk{
		{Kind: backend.ChunkText, Content: "hello"},
	}}
	d := New(fb, pool, "env-fallback-key")

	for _, err := range d.Run(ctx, snapshot()) {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if fb.gotKey != "env-fallback-key" {
		t.Errorf("expected the fallback key, backend got %q", fb.gotKey)
	}
}

func TestDriverNoCredentialAtAll(t *testing.T) {
	ctx := context.Background()
	pool, _ := credentials.NewPool(ctx, newMemKV())

	fb := &fakeBackend{needsCred: true}
	d := New(fb, pool, "")

	var got error
	for _, err := range d.Run(ctx, snapshot()) {
		got = err
	}
	if !types.IsValidation(got) {
		t.Errorf("expected a validation error, got %v", got)
	}
	if fb.gotKey != "" {
		t.Error("backend must not be invoked without a credential")
	}
}

func TestDriverAttributesRateLimit(t *testing.T) {
	ctx := context.Background()
	pool, _ := credentials.NewPool(ctx, newMemKV())
	cred, _ := pool.Add(ctx, "primary", credentials.PurposeModelAccess, "pool-secret-key")

	until := time.Now().Add(time.Minute)
	fb := &fakeBackend{
		needsCred: true,
		chunks:    []backend.StreamChunk{{Kind: backend.ChunkText, Content: "partial"}},
		finalErr:  &types.RateLimitedError{Until: until, Err: errors.New("429")},
	}
	d := New(fb, pool, "")

	var got error
	var partial string
	for chunk, err := range d.Run(ctx, snapshot()) {
		if err != nil {
			got = err
			continue
		}
		partial += chunk.Content
	}

	var rle *types.RateLimitedError
	if !errors.As(got, &rle) {
		t.Fatalf("expected RateLimitedError, got %v", got)
	}
	if rle.CredentialID != cred.ID {
		t.Errorf("expected attribution to %s, got %q", cred.ID, rle.CredentialID)
	}
	if partial != "partial" {
		t.Error("chunks before the failure must still be delivered")
	}
	// The pool must now skip the limited credential.
	if _, ok := pool.SelectActive(credentials.PurposeModelAccess); ok {
		t.Error("expected the credential to be cooling down in the pool")
	}
}

func TestDriverStopsWhenConsumerStops(t *testing.T) {
	ctx := context.Background()
	pool, _ := credentials.NewPool(ctx, newMemKV())

	fb := &fakeBackend{chunks: []backend.StreamChunk{
		{Kind: backend.ChunkText, Content: "a"},
		{Kind: backend.ChunkText, Content: "b"},
		{Kind: backend.ChunkText, Content: "c"},
	}}
	d := New(fb, pool, "")

	for range d.Run(ctx, snapshot()) {
		break
	}
	if fb.yielded != 0 {
		t.Errorf("producer advanced %d chunks past the consumer stop", fb.yielded)
	}
}

func TestDriverRejectsInvalidSnapshot(t *testing.T) {
	ctx := context.Background()
	pool, _ := credentials.NewPool(ctx, newMemKV())
	d := New(&fakeBackend{}, pool, "")

	var got error
	for _, err := range d.Run(ctx, &domain.RepoSnapshot{}) {
		got = err
	}
	if !types.IsValidation(got) {
		t.Errorf("expected a validation error, got %v", got)
	}
}
