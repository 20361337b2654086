package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/geminichat/internal/identity"
	"github.com/ashureev/geminichat/internal/session"
	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

// blockingCompleter replies once release is closed.
type blockingCompleter struct {
	release chan struct{}
}

func (b *blockingCompleter) Complete(ctx context.Context, _ string) (string, error) {
	select {
	case <-b.release:
		return "pong", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func newChatServer(t *testing.T, registry *session.Registry) string {
	t.Helper()

	r := chi.NewRouter()
	r.Use(identity.Middleware(nil, true))
	r.Get("/ws/chat", NewChatSocketHandler(nil, registry, "", true).ServeHTTP)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/chat"
}

func dial(t *testing.T, url string, opts *websocket.DialOptions) (*websocket.Conn, context.Context) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	conn, resp, err := websocket.Dial(ctx, url, opts)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn, ctx
}

func dialChat(t *testing.T, registry *session.Registry) (*websocket.Conn, context.Context) {
	t.Helper()
	return dial(t, newChatServer(t, registry)+"?session_id=tab-ws", nil)
}

func send(t *testing.T, ctx context.Context, conn *websocket.Conn, frame clientFrame) {
	t.Helper()
	data, err := json.Marshal(frame)
	require.NoError(t, err)
	require.NoError(t, conn.Write(ctx, websocket.MessageText, data))
}

// readUntil reads frames until match returns true.
func readUntil(t *testing.T, ctx context.Context, conn *websocket.Conn, match func(serverFrame) bool) serverFrame {
	t.Helper()
	for {
		_, data, err := conn.Read(ctx)
		require.NoError(t, err)
		var frame serverFrame
		require.NoError(t, json.Unmarshal(data, &frame))
		if match(frame) {
			return frame
		}
	}
}

func isState(status string, messages int) func(serverFrame) bool {
	return func(f serverFrame) bool {
		return f.Type == "state" && f.State != nil &&
			f.State.Status == status && len(f.State.Messages) == messages
	}
}

func TestChatSocketSubmitRoundTrip(t *testing.T) {
	completer := &blockingCompleter{release: make(chan struct{})}
	registry := session.NewRegistry(completer, nil, nil)
	t.Cleanup(registry.Close)

	conn, ctx := dialChat(t, registry)
	readUntil(t, ctx, conn, isState(session.StatusIdle, 0))

	send(t, ctx, conn, clientFrame{Type: "submit", Content: "ping?"})
	sending := readUntil(t, ctx, conn, isState(session.StatusSending, 1))
	require.True(t, sending.State.Pending)

	close(completer.release)
	done := readUntil(t, ctx, conn, isState(session.StatusIdle, 2))
	require.Equal(t, "ping?", done.State.Messages[0].Content)
	require.Equal(t, "pong", done.State.Messages[1].Content)
}

func TestChatSocketCancelAndReset(t *testing.T) {
	completer := &blockingCompleter{release: make(chan struct{})}
	registry := session.NewRegistry(completer, nil, nil)
	t.Cleanup(registry.Close)

	conn, ctx := dialChat(t, registry)
	readUntil(t, ctx, conn, isState(session.StatusIdle, 0))

	send(t, ctx, conn, clientFrame{Type: "submit", Content: "slow"})
	readUntil(t, ctx, conn, isState(session.StatusSending, 1))

	send(t, ctx, conn, clientFrame{Type: "cancel"})
	readUntil(t, ctx, conn, isState(session.StatusIdle, 1))

	send(t, ctx, conn, clientFrame{Type: "reset"})
	readUntil(t, ctx, conn, isState(session.StatusIdle, 0))
}

func TestChatSocketPingAndUnknownFrames(t *testing.T) {
	registry := session.NewRegistry(echoCompleter{}, nil, nil)
	t.Cleanup(registry.Close)

	conn, ctx := dialChat(t, registry)

	send(t, ctx, conn, clientFrame{Type: "ping"})
	readUntil(t, ctx, conn, func(f serverFrame) bool { return f.Type == "pong" })

	send(t, ctx, conn, clientFrame{Type: "launch"})
	frame := readUntil(t, ctx, conn, func(f serverFrame) bool { return f.Type == "error" })
	require.Equal(t, "unknown frame type", frame.Content)
}

func TestChatSocketRejectsForeignOrigin(t *testing.T) {
	h := NewChatSocketHandler(nil, session.NewRegistry(echoCompleter{}, nil, nil), "https://chat.example.com", false)

	req := httptest.NewRequest(http.MethodGet, "/ws/chat", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	require.Equal(t, http.StatusForbidden, rr.Code)
}

func TestChatSocketNewPageLoadStartsEmpty(t *testing.T) {
	registry := session.NewRegistry(echoCompleter{}, nil, nil)
	t.Cleanup(registry.Close)
	base := newChatServer(t, registry)

	cookie := identity.AnonCookieName + "=anon_0123456789abcdef0123456789abcdef"
	opts := &websocket.DialOptions{HTTPHeader: http.Header{"Cookie": []string{cookie}}}

	first, ctx := dial(t, base+"?session_id=load-1", opts)
	readUntil(t, ctx, first, isState(session.StatusIdle, 0))
	send(t, ctx, first, clientFrame{Type: "submit", Content: "remember me"})
	readUntil(t, ctx, first, isState(session.StatusIdle, 2))
	_ = first.Close(websocket.StatusNormalClosure, "")

	// Reconnecting within the same page load keeps the conversation.
	again, ctx := dial(t, base+"?session_id=load-1", opts)
	readUntil(t, ctx, again, isState(session.StatusIdle, 2))

	// A reload generates a new tab id and sees an empty conversation.
	reloaded, ctx := dial(t, base+"?session_id=load-2", opts)
	frame := readUntil(t, ctx, reloaded, func(f serverFrame) bool { return f.Type == "state" })
	require.Empty(t, frame.State.Messages)
	require.Equal(t, session.StatusIdle, frame.State.Status)
}
