// Package session holds the single-repository review session and its state
// machine: Idle -> Loading -> Loaded -> Analyzing -> Loaded.
package session

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"sync"

	"repo-review-dashboard/internal/aggregator"
	"repo-review-dashboard/internal/backend"
	"repo-review-dashboard/internal/domain"
	"repo-review-dashboard/internal/driver"
	"repo-review-dashboard/internal/history"
	"repo-review-dashboard/internal/types"
)

type State string

const (
	StateIdle      State = "idle"
	StateLoading   State = "loading"
	StateLoaded    State = "loaded"
	StateAnalyzing State = "analyzing"
)

// View is a read-only snapshot of the session for rendering.
type View struct {
	State       State                  `json:"state"`
	Snapshot    *domain.RepoSnapshot   `json:"snapshot,omitempty"`
	Markdown    string                 `json:"reviewMarkdown,omitempty"`
	Analysis    *domain.AnalysisResult `json:"aiAnalysis,omitempty"`
	FromHistory bool                   `json:"fromHistory"`
}

// Manager owns the session. One analysis runs at a time; a run's result is
// committed to history at exactly one point, and only when the session content
// did not come from a history reload.
type Manager struct {
	mu       sync.Mutex
	state    State
	snapshot *domain.RepoSnapshot
	markdown string
	analysis *domain.AnalysisResult
	// armed means a completed run should be saved. History reloads disarm;
	// a fresh fetch arms.
	armed bool
	// generation fences a stale run's finish against state that moved on.
	generation int
	cancelRun  context.CancelFunc

	driver  *driver.Driver
	history *history.Store
}

func NewManager(d *driver.Driver, h *history.Store) *Manager {
	return &Manager{state: StateIdle, driver: d, history: h}
}

// BeginFetch moves the session into Loading and clears prior content. Rejected
// while a run is in flight.
func (m *Manager) BeginFetch() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateAnalyzing {
		return types.NewValidationError("state", "analysis in progress")
	}
	m.state = StateLoading
	m.snapshot = nil
	m.markdown = ""
	m.analysis = nil
	m.armed = false
	m.generation++
	return nil
}

// CompleteFetch installs a fresh snapshot and arms the next run's save.
func (m *Manager) CompleteFetch(snap *domain.RepoSnapshot) error {
	if !snap.IsValid() {
		return types.NewValidationError("snapshot", "incomplete repository snapshot")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateLoading {
		return types.NewValidationError("state", fmt.Sprintf("cannot complete fetch from %s", m.state))
	}
	m.snapshot = snap
	m.state = StateLoaded
	m.armed = true
	return nil
}

// FailFetch returns the session to Idle after a failed fetch.
func (m *Manager) FailFetch() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateLoading {
		m.state = StateIdle
	}
}

// LoadFromHistory installs a saved review as the session content. The session
// is disarmed: re-rendering a historical review never saves it again.
func (m *Manager) LoadFromHistory(review history.SavedReview) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateAnalyzing {
		return types.NewValidationError("state", "analysis in progress")
	}
	m.snapshot = &domain.RepoSnapshot{
		Repo: domain.RepoInfo{
			FullName: review.RepoFullName,
			Owner:    review.RepoOwner,
			Name:     review.RepoName,
			URL:      review.RepoURL,
		},
	}
	m.markdown = review.ReviewMarkdown
	m.analysis = review.AIAnalysis
	m.armed = false
	m.state = StateLoaded
	m.generation++
	return nil
}

// Run streams one analysis of the loaded snapshot. Chunks pass through to the
// consumer while the manager accumulates the narrative; the structured result
// is finalized and committed at the single point where the stream completes
// normally. Cancelled or failed runs commit nothing.
func (m *Manager) Run(ctx context.Context) iter.Seq2[backend.StreamChunk, error] {
	return func(yield func(backend.StreamChunk, error) bool) {
		m.mu.Lock()
		if m.state != StateLoaded || m.snapshot == nil {
			state := m.state
			m.mu.Unlock()
			yield(backend.StreamChunk{}, types.NewValidationError("state", fmt.Sprintf("cannot analyze from %s", state)))
			return
		}
		runCtx, cancel := context.WithCancel(ctx)
		m.cancelRun = cancel
		m.state = StateAnalyzing
		m.markdown = ""
		m.analysis = nil
		// Starting an analysis clears the loaded-from-history marker: the
		// run produces fresh content and its completion commits once.
		m.armed = true
		m.generation++
		gen := m.generation
		snap := m.snapshot
		m.mu.Unlock()
		defer cancel()

		var sb strings.Builder
		var usage *domain.TokenUsage
		completed := true
		var runErr error

		for chunk, err := range m.driver.Run(runCtx, snap) {
			if err != nil {
				completed = false
				runErr = err
				yield(backend.StreamChunk{}, err)
				break
			}
			switch chunk.Kind {
			case backend.ChunkText:
				sb.WriteString(chunk.Content)
			case backend.ChunkUsage:
				usage = chunk.Usage
			}
			if !yield(chunk, nil) {
				completed = false
				break
			}
		}

		m.finish(ctx, gen, snap, sb.String(), usage, completed, runErr)
	}
}

// finish is the run's single commit point. A stale generation means the
// session was reset mid-run; such a run leaves no trace.
func (m *Manager) finish(ctx context.Context, gen int, snap *domain.RepoSnapshot, markdown string, usage *domain.TokenUsage, completed bool, runErr error) {
	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		return
	}
	m.cancelRun = nil
	m.state = StateLoaded
	m.markdown = markdown

	if !completed {
		if runErr != nil {
			slog.Warn("analysis run ended with error", "error", runErr)
		}
		m.mu.Unlock()
		return
	}

	result := aggregator.Finalize(markdown, usage)
	m.analysis = result
	shouldSave := m.armed && markdown != "" && snap.IsValid()
	m.mu.Unlock()

	if !shouldSave {
		return
	}
	if _, err := m.history.Save(ctx, snap, markdown, result); err != nil {
		slog.Error("saving completed review failed", "repo", snap.Repo.FullName, "error", err)
	}
}

// Cancel aborts an in-flight run. No-op outside Analyzing.
func (m *Manager) Cancel() {
	m.mu.Lock()
	cancel := m.cancelRun
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Current returns a copy of the visible session state.
func (m *Manager) Current() View {
	m.mu.Lock()
	defer m.mu.Unlock()
	return View{
		State:       m.state,
		Snapshot:    m.snapshot,
		Markdown:    m.markdown,
		Analysis:    m.analysis,
		FromHistory: !m.armed && m.markdown != "",
	}
}
