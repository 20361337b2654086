// Package api provides HTTP handlers for the chat UI.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/geminichat/internal/identity"
	"github.com/ashureev/geminichat/internal/session"
	"github.com/ashureev/geminichat/internal/store"
	"github.com/go-chi/chi/v5"
)

// Handler serves visitor, configuration and conversation snapshot endpoints.
type Handler struct {
	repo        store.Repository
	registry    *session.Registry
	model       string
	credentials int
}

// NewHandler creates a new Handler. credentials is the number of configured
// API keys; only the count is ever exposed.
func NewHandler(repo store.Repository, registry *session.Registry, model string, credentials int) *Handler {
	return &Handler{
		repo:        repo,
		registry:    registry,
		model:       model,
		credentials: credentials,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// RegisterRoutes registers the API routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/api/me", h.GetMe)
	r.Get("/api/config", h.GetConfig)
	r.Get("/api/session", h.GetSession)
}

// GetMe returns the current visitor.
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	user, err := h.repo.GetUser(r.Context(), userID)
	if err != nil || user == nil {
		Error(w, http.StatusUnauthorized, "user not found")
		return
	}

	JSON(w, http.StatusOK, map[string]any{
		"user_id":    user.UserID,
		"username":   user.Username,
		"session_id": identity.SessionIDFromContext(r.Context()),
	})
}

// GetConfig returns the server configuration for the frontend.
func (h *Handler) GetConfig(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]any{
		"model":       h.model,
		"credentials": h.credentials,
	})
}

// GetSession returns the conversation snapshot for the caller's tab.
// It does not create a session.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	if m, ok := h.registry.Lookup(identity.SessionKey(r.Context())); ok {
		JSON(w, http.StatusOK, m.Snapshot())
		return
	}
	JSON(w, http.StatusOK, session.NewState().Snapshot())
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	repo    store.Repository
	timeout time.Duration
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(repo store.Repository) *HealthHandler {
	return &HealthHandler{repo: repo, timeout: 5 * time.Second}
}

// Health returns the health status of the API and its dependencies.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	checks := map[string]string{"api": "ok", "database": "ok"}
	status := "healthy"
	statusCode := http.StatusOK

	if err := h.repo.Ping(ctx); err != nil {
		slog.Error("Health check failed", "error", err)
		status = "degraded"
		checks["database"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	}

	JSON(w, statusCode, map[string]any{
		"status": status,
		"checks": checks,
	})
}

// RegisterHealth registers the health check route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/health", h.Health)
}
