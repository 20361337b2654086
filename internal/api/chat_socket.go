package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ashureev/geminichat/internal/identity"
	"github.com/ashureev/geminichat/internal/session"
	"github.com/ashureev/geminichat/internal/store"
	"github.com/coder/websocket"
)

const socketWriteTimeout = 10 * time.Second

// ChatSocketHandler bridges a browser tab to its conversation session over a
// websocket. The browser sends commands; the server pushes state snapshots.
type ChatSocketHandler struct {
	repo          store.Repository
	registry      *session.Registry
	allowedOrigin string
	isDev         bool
}

// NewChatSocketHandler creates a new websocket handler. repo may be nil.
func NewChatSocketHandler(repo store.Repository, registry *session.Registry, allowedOrigin string, isDev bool) *ChatSocketHandler {
	return &ChatSocketHandler{
		repo:          repo,
		registry:      registry,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// clientFrame is a command sent by the browser.
type clientFrame struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
}

// serverFrame is pushed to the browser.
type serverFrame struct {
	Type    string            `json:"type"`
	State   *session.Snapshot `json:"state,omitempty"`
	Content string            `json:"content,omitempty"`
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *ChatSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	key := identity.SessionKey(r.Context())
	slog.Info("Chat socket request", "user_id", userID, "session_key", key, "ip", identity.IPFromRequest(r))

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	m := h.registry.Get(key)
	snapshots, unsubscribe := m.Subscribe()
	defer unsubscribe()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)

	// Input loop: browser -> session.
	go func() {
		defer wg.Done()
		defer cancel()
		h.inputLoop(ctx, ws, m, userID)
	}()

	// Output loop: session -> browser.
	go func() {
		defer wg.Done()
		defer cancel()
		h.outputLoop(ctx, ws, snapshots, userID)
	}()

	wg.Wait()
	slog.Info("Chat socket closed", "user_id", userID, "session_key", key)
}

func (h *ChatSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *ChatSocketHandler) inputLoop(ctx context.Context, ws *websocket.Conn, m *session.Manager, userID string) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || ctx.Err() != nil {
				slog.Debug("WebSocket closed by client", "user_id", userID)
			} else {
				slog.Warn("WebSocket read error", "error", err, "user_id", userID)
			}
			return
		}

		var msg clientFrame
		if err := json.Unmarshal(data, &msg); err != nil {
			if err := h.writeJSON(ctx, ws, serverFrame{Type: "error", Content: "invalid frame"}); err != nil {
				return
			}
			continue
		}

		switch msg.Type {
		case "submit":
			// Blank or concurrent submissions are ignored.
			m.Submit(msg.Content)
		case "cancel":
			m.Cancel()
		case "reset":
			m.Reset()
		case "dismiss":
			m.Dismiss()
		case "ping":
			if err := h.writeJSON(ctx, ws, serverFrame{Type: "pong"}); err != nil {
				slog.Debug("Failed to send pong", "error", err)
			}
		default:
			if err := h.writeJSON(ctx, ws, serverFrame{Type: "error", Content: "unknown frame type"}); err != nil {
				slog.Debug("Failed to send frame error", "error", err)
			}
		}

		h.touch(userID)
	}
}

func (h *ChatSocketHandler) outputLoop(ctx context.Context, ws *websocket.Conn, snapshots <-chan session.Snapshot, userID string) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-snapshots:
			if !ok {
				return
			}
			if err := h.writeJSON(ctx, ws, serverFrame{Type: "state", State: &snap}); err != nil {
				if ctx.Err() == nil {
					slog.Debug("WebSocket write error", "error", err, "user_id", userID)
				}
				return
			}
		}
	}
}

// touch updates last seen asynchronously with timeout.
func (h *ChatSocketHandler) touch(userID string) {
	if h.repo == nil || userID == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.repo.UpdateLastSeen(ctx, userID, time.Now()); err != nil {
			slog.Warn("Failed to update last seen", "error", err)
		}
	}()
}

func (h *ChatSocketHandler) writeJSON(ctx context.Context, ws *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, socketWriteTimeout)
	defer cancel()
	return ws.Write(ctx, websocket.MessageText, data)
}
