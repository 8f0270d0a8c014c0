// Package api exposes the collaborator-facing HTTP surface: link token
// issuance, event enqueueing, and the user-deletion cascade hook. Callers
// are trusted internal services; request authentication lives upstream.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/user/notifybot/internal/linking"
	"github.com/user/notifybot/internal/queue"
	"github.com/user/notifybot/internal/storage"
	"github.com/user/notifybot/pkg/logger"
)

// Server bundles the HTTP handlers and their dependencies.
type Server struct {
	issuer     *linking.Service
	producer   *queue.Producer
	links      *storage.LinkStore
	defaultTTL time.Duration
}

// NewServer creates the API server. defaultTTL applies when a token request
// omits ttl_seconds.
func NewServer(issuer *linking.Service, producer *queue.Producer, links *storage.LinkStore, defaultTTL time.Duration) *Server {
	return &Server{
		issuer:     issuer,
		producer:   producer,
		links:      links,
		defaultTTL: defaultTTL,
	}
}

// Router builds the chi router with middleware and all routes.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/users/{userID}/link-token", s.handleIssueToken)
		r.Delete("/users/{userID}", s.handleDeleteUser)
		r.Post("/events", s.handleEnqueueEvent)
	})

	return r
}

type issueTokenRequest struct {
	TTLSeconds int `json:"ttl_seconds"`
}

type issueTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// handleIssueToken issues a single-use link token for a user.
func (s *Server) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || userID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	var req issueTokenRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	ttl := s.defaultTTL
	if req.TTLSeconds > 0 {
		ttl = time.Duration(req.TTLSeconds) * time.Second
	}

	token, expiresAt, err := s.issuer.IssueToken(r.Context(), userID, ttl)
	switch {
	case errors.Is(err, linking.ErrInvalidTTL):
		writeError(w, http.StatusBadRequest, "ttl out of range")
	case errors.Is(err, linking.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "too many token requests")
	case err != nil:
		logger.Error().Err(err).Int64("user_id", userID).Msg("Failed to issue link token")
		writeError(w, http.StatusInternalServerError, "failed to issue token")
	default:
		writeJSON(w, http.StatusCreated, issueTokenResponse{Token: token, ExpiresAt: expiresAt})
	}
}

// handleDeleteUser is the cascading-delete hook for the user-management
// collaborator: it removes the user's link and tokens.
func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || userID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	if err := s.links.DeleteUserData(r.Context(), userID); err != nil {
		logger.Error().Err(err).Int64("user_id", userID).Msg("Failed to delete user link data")
		writeError(w, http.StatusInternalServerError, "failed to delete user data")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type enqueueEventRequest struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type enqueueEventResponse struct {
	ID int64 `json:"id"`
}

// handleEnqueueEvent appends one notification event to the queue.
func (s *Server) handleEnqueueEvent(w http.ResponseWriter, r *http.Request) {
	var req enqueueEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id, err := s.producer.Enqueue(r.Context(), req.Type, req.Payload)
	switch {
	case errors.Is(err, queue.ErrInvalidEventPayload):
		writeError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		logger.Error().Err(err).Str("type", req.Type).Msg("Failed to enqueue event")
		writeError(w, http.StatusInternalServerError, "failed to enqueue event")
	default:
		writeJSON(w, http.StatusCreated, enqueueEventResponse{ID: id})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
