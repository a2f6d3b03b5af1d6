// Package history persists completed reviews, most recent first, under a
// single storage key with a bounded cap.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"repo-review-dashboard/internal/domain"
	"repo-review-dashboard/internal/metrics"
	"repo-review-dashboard/internal/storage"
	"repo-review-dashboard/internal/types"

	"golang.org/x/sync/singleflight"
)

const (
	// maxEntries is the normal history cap. When a save does not fit the
	// storage quota, one retry runs with reducedEntries.
	maxEntries     = 50
	reducedEntries = 20
)

// SavedReview is one persisted history entry. AIAnalysis is nil for reviews
// saved before structured findings existed; readers treat that as "no
// structured data", never as zero scores.
type SavedReview struct {
	ID             string                 `json:"id"`
	RepoFullName   string                 `json:"repoFullName"`
	RepoOwner      string                 `json:"repoOwner"`
	RepoName       string                 `json:"repoName"`
	RepoURL        string                 `json:"repoUrl"`
	ReviewMarkdown string                 `json:"reviewMarkdown"`
	AIAnalysis     *domain.AnalysisResult `json:"aiAnalysis,omitempty"`
	SavedAt        time.Time              `json:"savedAt"`
	CommitCount    int                    `json:"commitCount"`
	PRCount        int                    `json:"prCount"`
}

// Store is the review history backed by a KV key. The in-memory list is the
// source of truth once loaded; every mutation rewrites the whole key.
type Store struct {
	mu      sync.Mutex
	kv      storage.KV
	reviews []SavedReview
	loaded  bool
	group   singleflight.Group
	now     func() time.Time
}

func NewStore(kv storage.KV) *Store {
	return &Store{kv: kv, now: time.Now}
}

// GetAll returns the history, most recent first. Concurrent callers share one
// storage read. Corrupt persisted data is logged and treated as empty.
func (s *Store) GetAll(ctx context.Context) ([]SavedReview, error) {
	s.mu.Lock()
	loaded := s.loaded
	s.mu.Unlock()

	if !loaded {
		_, err, _ := s.group.Do("load", func() (any, error) {
			return nil, s.load(ctx)
		})
		if err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SavedReview, len(s.reviews))
	copy(out, s.reviews)
	return out, nil
}

func (s *Store) load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded {
		return nil
	}

	data, err := s.kv.Get(ctx, storage.KeyReviewHistory)
	if err != nil {
		// Reads degrade to an empty log, same as corrupt data.
		slog.Warn("review history unreadable, starting empty", "error", err)
		s.loaded = true
		return nil
	}
	if len(data) > 0 {
		var reviews []SavedReview
		if err := json.Unmarshal(data, &reviews); err != nil {
			slog.Warn("review history corrupt, starting empty",
				"error", &types.CorruptDataError{Key: storage.KeyReviewHistory, Err: err})
		} else {
			s.reviews = reviews
		}
	}
	s.loaded = true
	return nil
}

// Save prepends a review built from the snapshot and analysis output and
// persists under the normal cap. If the write fails, one retry runs with the
// reduced cap; a second failure is reported as a StorageError while the
// in-memory prepend stands, so the current session still sees the review.
func (s *Store) Save(ctx context.Context, snap *domain.RepoSnapshot, markdown string, analysis *domain.AnalysisResult) (SavedReview, error) {
	if !snap.IsValid() {
		return SavedReview{}, types.NewValidationError("snapshot", "missing repository identity")
	}
	if markdown == "" {
		return SavedReview{}, types.NewValidationError("reviewMarkdown", "must not be empty")
	}

	if err := s.ensureLoaded(ctx); err != nil {
		return SavedReview{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	review := SavedReview{
		ID:             s.freshIDLocked(snap.Repo.FullName),
		RepoFullName:   snap.Repo.FullName,
		RepoOwner:      snap.Repo.Owner,
		RepoName:       snap.Repo.Name,
		RepoURL:        snap.Repo.URL,
		ReviewMarkdown: markdown,
		AIAnalysis:     analysis,
		SavedAt:        s.now().UTC(),
		CommitCount:    len(snap.Commits),
		PRCount:        len(snap.PullRequests),
	}

	next := append([]SavedReview{review}, s.reviews...)
	if len(next) > maxEntries {
		metrics.HistoryEvictions.Add(float64(len(next) - maxEntries))
		next = next[:maxEntries]
	}

	if err := s.persistLocked(ctx, next); err == nil {
		metrics.HistorySaves.WithLabelValues("success").Inc()
		s.reviews = next
		return review, nil
	} else {
		slog.Warn("history save failed at full cap, retrying reduced", "error", err)
	}

	if len(next) > reducedEntries {
		metrics.HistoryEvictions.Add(float64(len(next) - reducedEntries))
		next = next[:reducedEntries]
	}
	if err := s.persistLocked(ctx, next); err != nil {
		// The failure is reported, but the in-memory list keeps the new
		// review so this session still sees it.
		metrics.HistorySaves.WithLabelValues("failed").Inc()
		s.reviews = next
		return review, &types.StorageError{Op: "save review", Err: err}
	}
	metrics.HistorySaves.WithLabelValues("reduced_cap").Inc()
	s.reviews = next
	return review, nil
}

// Delete removes one review by id. Unknown ids are a no-op.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.ensureLoaded(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := make([]SavedReview, 0, len(s.reviews))
	removed := false
	for _, r := range s.reviews {
		if r.ID == id {
			removed = true
			continue
		}
		kept = append(kept, r)
	}
	if !removed {
		return nil
	}
	if err := s.persistLocked(ctx, kept); err != nil {
		return &types.StorageError{Op: "delete review", Err: err}
	}
	s.reviews = kept
	return nil
}

// ClearAll drops the whole history.
func (s *Store) ClearAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.kv.Delete(ctx, storage.KeyReviewHistory); err != nil {
		return &types.StorageError{Op: "clear history", Err: err}
	}
	s.reviews = nil
	s.loaded = true
	return nil
}

func (s *Store) ensureLoaded(ctx context.Context) error {
	s.mu.Lock()
	loaded := s.loaded
	s.mu.Unlock()
	if loaded {
		return nil
	}
	_, err, _ := s.group.Do("load", func() (any, error) {
		return nil, s.load(ctx)
	})
	return err
}

func (s *Store) persistLocked(ctx context.Context, reviews []SavedReview) error {
	data, err := json.Marshal(reviews)
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}
	return s.kv.Set(ctx, storage.KeyReviewHistory, data)
}

// freshIDLocked derives an id from the repo name and save instant, bumping the
// millisecond stamp past any collision with an existing entry. The owner/name
// separator is flattened so the id stays a single URL path segment.
// Caller holds s.mu.
func (s *Store) freshIDLocked(fullName string) string {
	slug := strings.ReplaceAll(fullName, "/", "-")
	ms := s.now().UnixMilli()
	for {
		id := fmt.Sprintf("%s-%d", slug, ms)
		if !s.idExistsLocked(id) {
			return id
		}
		ms++
	}
}

func (s *Store) idExistsLocked(id string) bool {
	for _, r := range s.reviews {
		if r.ID == id {
			return true
		}
	}
	return false
}
