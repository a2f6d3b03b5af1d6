// Package api exposes the dashboard HTTP surface: session lifecycle, SSE
// review streaming, credential management and the history log.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"repo-review-dashboard/internal/backend"
	"repo-review-dashboard/internal/credentials"
	"repo-review-dashboard/internal/domain"
	"repo-review-dashboard/internal/history"
	"repo-review-dashboard/internal/metrics"
	"repo-review-dashboard/internal/session"
	"repo-review-dashboard/internal/types"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const maxBodySize = 4 * 1024 * 1024

// Server wires the engine components behind HTTP handlers. Review starts are
// bounded by a semaphore; saturation answers 429 instead of queueing.
type Server struct {
	session *session.Manager
	pool    *credentials.Pool
	history *history.Store
	sem     chan struct{}
	ready   func() error
}

func NewServer(sm *session.Manager, pool *credentials.Pool, h *history.Store, concurrencyLimit int, ready func() error) *Server {
	if concurrencyLimit < 1 {
		concurrencyLimit = 1
	}
	return &Server{
		session: sm,
		pool:    pool,
		history: h,
		sem:     make(chan struct{}, concurrencyLimit),
		ready:   ready,
	}
}

// Routes builds the service mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/session/fetch", s.handleFetch)
	mux.HandleFunc("POST /api/session/review", s.handleReview)
	mux.HandleFunc("POST /api/session/cancel", s.handleCancel)
	mux.HandleFunc("GET /api/session", s.handleSession)

	mux.HandleFunc("GET /api/credentials", s.handleListCredentials)
	mux.HandleFunc("POST /api/credentials", s.handleAddCredential)
	mux.HandleFunc("DELETE /api/credentials/{id}", s.handleRemoveCredential)

	mux.HandleFunc("GET /api/history", s.handleListHistory)
	mux.HandleFunc("GET /api/history/{id}", s.handleGetHistory)
	mux.HandleFunc("DELETE /api/history/{id}", s.handleDeleteHistory)
	mux.HandleFunc("DELETE /api/history", s.handleClearHistory)
	mux.HandleFunc("POST /api/history/{id}/load", s.handleLoadHistory)

	mux.HandleFunc("GET /health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /health/ready", s.handleReady)
	mux.Handle("GET /metrics", promhttp.Handler())

	return mux
}

// handleFetch installs a repository snapshot supplied by the frontend
// collaborator. The engine never talks to GitHub itself.
func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	if err := s.session.BeginFetch(); err != nil {
		s.writeError(w, "fetch", err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	var snap domain.RepoSnapshot
	if err := json.NewDecoder(r.Body).Decode(&snap); err != nil {
		s.session.FailFetch()
		s.writeError(w, "fetch", types.NewValidationError("body", fmt.Sprintf("invalid snapshot: %v", err)))
		return
	}
	if err := s.session.CompleteFetch(&snap); err != nil {
		s.session.FailFetch()
		s.writeError(w, "fetch", err)
		return
	}

	metrics.APIRequests.WithLabelValues("fetch", "200").Inc()
	s.writeJSON(w, http.StatusOK, s.session.Current())
}

// handleReview runs the analysis and streams chunks to the client as SSE.
// A rate-limited run is restarted with the next credential, at most once per
// model-access credential; chunks already sent stay sent.
func (s *Server) handleReview(w http.ResponseWriter, r *http.Request) {
	select {
	case s.sem <- struct{}{}:
		defer func() { <-s.sem }()
	default:
		slog.Warn("review concurrency limit, request dropped")
		metrics.APIRequests.WithLabelValues("review", "429").Inc()
		http.Error(w, "Server busy, please retry later", http.StatusTooManyRequests)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	attempts := 1 + s.countModelCredentials()
	for attempt := 0; attempt < attempts; attempt++ {
		retry := false
		for chunk, err := range s.session.Run(r.Context()) {
			if err != nil {
				if types.IsRateLimited(err) && attempt < attempts-1 {
					retry = true
					s.writeEvent(w, flusher, "retry", map[string]string{"reason": "rate limited, rotating credential"})
					break
				}
				s.writeEvent(w, flusher, "error", map[string]string{"error": err.Error()})
				metrics.APIRequests.WithLabelValues("review", "stream_error").Inc()
				return
			}
			s.writeChunk(w, flusher, chunk)
		}
		if !retry {
			break
		}
	}

	s.writeEvent(w, flusher, "done", s.session.Current())
	metrics.APIRequests.WithLabelValues("review", "200").Inc()
}

func (s *Server) countModelCredentials() int {
	n := 0
	for _, c := range s.pool.List() {
		if c.Purpose == credentials.PurposeModelAccess {
			n++
		}
	}
	return n
}

func (s *Server) writeChunk(w http.ResponseWriter, flusher http.Flusher, chunk backend.StreamChunk) {
	data, err := json.Marshal(chunk)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}

func (s *Server) writeEvent(w http.ResponseWriter, flusher http.Flusher, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	flusher.Flush()
}

func (s *Server) handleCancel(w http.ResponseWriter, _ *http.Request) {
	s.session.Cancel()
	metrics.APIRequests.WithLabelValues("cancel", "202").Inc()
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleSession(w http.ResponseWriter, _ *http.Request) {
	metrics.APIRequests.WithLabelValues("session", "200").Inc()
	s.writeJSON(w, http.StatusOK, s.session.Current())
}

// credentialView is the outward credential rendering. Secret material never
// leaves the process unmasked.
type credentialView struct {
	ID           string `json:"id"`
	DisplayName  string `json:"displayName"`
	Purpose      string `json:"purpose"`
	MaskedSecret string `json:"maskedSecret"`
	RateLimited  bool   `json:"rateLimited"`
}

func (s *Server) handleListCredentials(w http.ResponseWriter, _ *http.Request) {
	creds := s.pool.List()
	views := make([]credentialView, 0, len(creds))
	for _, c := range creds {
		views = append(views, credentialView{
			ID:           c.ID,
			DisplayName:  c.DisplayName,
			Purpose:      string(c.Purpose),
			MaskedSecret: c.Masked(),
			RateLimited:  !c.RateLimitedUntil.IsZero(),
		})
	}
	metrics.APIRequests.WithLabelValues("credentials", "200").Inc()
	s.writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleAddCredential(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	var req struct {
		DisplayName string `json:"displayName"`
		Purpose     string `json:"purpose"`
		Secret      string `json:"secret"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, "credentials", types.NewValidationError("body", err.Error()))
		return
	}

	cred, err := s.pool.Add(r.Context(), req.DisplayName, credentials.Purpose(req.Purpose), req.Secret)
	if err != nil && !isStorageOnly(err) {
		s.writeError(w, "credentials", err)
		return
	}
	if err != nil {
		// The credential is usable for this process even though persistence
		// failed; surface it with the degraded marker.
		slog.Warn("credential stored in memory only", "id", cred.ID, "error", err)
	}
	metrics.APIRequests.WithLabelValues("credentials", "201").Inc()
	s.writeJSON(w, http.StatusCreated, credentialView{
		ID:           cred.ID,
		DisplayName:  cred.DisplayName,
		Purpose:      string(cred.Purpose),
		MaskedSecret: cred.Masked(),
	})
}

func (s *Server) handleRemoveCredential(w http.ResponseWriter, r *http.Request) {
	if err := s.pool.Remove(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, "credentials", err)
		return
	}
	metrics.APIRequests.WithLabelValues("credentials", "204").Inc()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	reviews, err := s.history.GetAll(r.Context())
	if err != nil {
		s.writeError(w, "history", err)
		return
	}
	metrics.APIRequests.WithLabelValues("history", "200").Inc()
	s.writeJSON(w, http.StatusOK, reviews)
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	review, ok, err := s.findReview(r, r.PathValue("id"))
	if err != nil {
		s.writeError(w, "history", err)
		return
	}
	if !ok {
		metrics.APIRequests.WithLabelValues("history", "404").Inc()
		http.Error(w, "review not found", http.StatusNotFound)
		return
	}
	metrics.APIRequests.WithLabelValues("history", "200").Inc()
	s.writeJSON(w, http.StatusOK, review)
}

func (s *Server) handleDeleteHistory(w http.ResponseWriter, r *http.Request) {
	if err := s.history.Delete(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, "history", err)
		return
	}
	metrics.APIRequests.WithLabelValues("history", "204").Inc()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	if err := s.history.ClearAll(r.Context()); err != nil {
		s.writeError(w, "history", err)
		return
	}
	metrics.APIRequests.WithLabelValues("history", "204").Inc()
	w.WriteHeader(http.StatusNoContent)
}

// handleLoadHistory renders a saved review into the session without re-saving it.
func (s *Server) handleLoadHistory(w http.ResponseWriter, r *http.Request) {
	review, ok, err := s.findReview(r, r.PathValue("id"))
	if err != nil {
		s.writeError(w, "history", err)
		return
	}
	if !ok {
		metrics.APIRequests.WithLabelValues("history", "404").Inc()
		http.Error(w, "review not found", http.StatusNotFound)
		return
	}
	if err := s.session.LoadFromHistory(review); err != nil {
		s.writeError(w, "history", err)
		return
	}
	metrics.APIRequests.WithLabelValues("history", "200").Inc()
	s.writeJSON(w, http.StatusOK, s.session.Current())
}

func (s *Server) findReview(r *http.Request, id string) (history.SavedReview, bool, error) {
	reviews, err := s.history.GetAll(r.Context())
	if err != nil {
		return history.SavedReview{}, false, err
	}
	for _, review := range reviews {
		if review.ID == id {
			return review, true, nil
		}
	}
	return history.SavedReview{}, false, nil
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.ready != nil {
		if err := s.ready(); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("write response failed", "error", err)
	}
}

// writeError maps the error taxonomy onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, route string, err error) {
	status := http.StatusInternalServerError
	switch {
	case types.IsValidation(err):
		status = http.StatusBadRequest
	case types.IsRateLimited(err):
		status = http.StatusTooManyRequests
	}
	metrics.APIRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	slog.Warn("request failed", "route", route, "status", status, "error", err)
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func isStorageOnly(err error) bool {
	var se *types.StorageError
	return errors.As(err, &se)
}
