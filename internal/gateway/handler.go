package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/ashureev/geminichat/internal/api"
	"github.com/ashureev/geminichat/internal/identity"
	"github.com/go-chi/chi/v5"
)

// defaultMaxRequestBodySize is the default maximum allowed request body size (1MB).
const defaultMaxRequestBodySize = 1 << 20

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Message string `json:"message"`
}

// ChatResponse is the success body of POST /api/chat.
type ChatResponse struct {
	Reply string `json:"reply"`
}

// Handler exposes the gateway over HTTP.
type Handler struct {
	gateway     *Gateway
	rateLimiter *RateLimiter
	maxBodySize int64
}

// NewHandler creates a gateway HTTP handler. A nil limiter disables throttling.
func NewHandler(gw *Gateway, limiter *RateLimiter, maxBodySize int64) *Handler {
	if maxBodySize <= 0 {
		maxBodySize = defaultMaxRequestBodySize
	}
	return &Handler{
		gateway:     gw,
		rateLimiter: limiter,
		maxBodySize: maxBodySize,
	}
}

// RegisterRoutes registers the chat endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/chat", func(r chi.Router) {
		r.Post("/", h.HandleChat)
		r.Post("/stream", h.HandleStream)
	})
}

// HandleChat handles POST /api/chat.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}

	slog.Info("Chat completion request",
		"user_id", identity.UserIDFromContext(r.Context()),
		"message_length", len(req.Message),
	)

	reply, err := h.gateway.Complete(r.Context(), req.Message)
	if err != nil {
		slog.Error("Chat completion failed", "error", err)
		api.Error(w, http.StatusInternalServerError, publicMessage(err))
		return
	}

	api.JSON(w, http.StatusOK, ChatResponse{Reply: reply})
}

// HandleStream handles POST /api/chat/stream, relaying reply chunks as
// server-sent events.
func (h *Handler) HandleStream(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}

	if h.gateway.Credentials() == 0 {
		api.Error(w, http.StatusInternalServerError, ErrMissingAPIKey.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		api.Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	chunks := 0
	for chunk, err := range h.gateway.Stream(r.Context(), req.Message) {
		if err != nil {
			slog.Error("Chat stream failed", "error", err, "chunks", chunks)
			if writeErr := writeSSEJSON(w, "error", map[string]string{"error": publicMessage(err)}); writeErr != nil {
				slog.Warn("failed to write SSE error event", "error", writeErr)
			}
			flusher.Flush()
			return
		}

		chunks++
		if err := writeSSEJSON(w, "message", ChatResponse{Reply: chunk}); err != nil {
			slog.Warn("failed to write SSE message event", "error", err)
			return
		}
		flusher.Flush()
	}

	if err := writeSSE(w, "done", "{}"); err != nil {
		slog.Warn("failed to write SSE done event", "error", err)
		return
	}
	flusher.Flush()
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request) (ChatRequest, bool) {
	var req ChatRequest

	key := identity.UserIDFromContext(r.Context())
	if key == "" {
		key = identity.IPFromRequest(r)
	}
	if h.rateLimiter != nil && !h.rateLimiter.Allow(key) {
		api.Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return req, false
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			api.Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return req, false
		}
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return req, false
	}

	if req.Message == "" {
		api.Error(w, http.StatusBadRequest, "message is required")
		return req, false
	}
	return req, true
}

// publicMessage collapses gateway failures to the two client-visible messages.
func publicMessage(err error) string {
	if errors.Is(err, ErrMissingAPIKey) {
		return ErrMissingAPIKey.Error()
	}
	return ErrGeneration.Error()
}

func writeSSE(w io.Writer, event, data string) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

func writeSSEJSON(w io.Writer, event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return writeSSE(w, event, string(data))
}
