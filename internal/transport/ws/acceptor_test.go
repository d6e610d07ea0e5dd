package ws

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/knielsen81/coinroll/internal/config"
	"github.com/knielsen81/coinroll/internal/session"
)

// echoHandler echoes every inbound frame back to the sender.
type echoHandler struct {
	mu       sync.Mutex
	sessions int
}

func (e *echoHandler) HandleSession(ctx context.Context, transport session.Transport) error {
	e.mu.Lock()
	e.sessions++
	e.mu.Unlock()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		data, err := transport.ReadMessage()
		if err != nil {
			return nil
		}
		if err := transport.WriteMessage(data); err != nil {
			return nil
		}
	}
}

func (e *echoHandler) sessionCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessions
}

func testServerConfig() config.ServerConfig {
	return config.ServerConfig{
		Host:            "127.0.0.1",
		Port:            0, // ephemeral
		Path:            "/ws",
		ReadTimeout:     time.Minute,
		WriteTimeout:    10 * time.Second,
		MaxMessageBytes: 65536,
	}
}

// startAcceptor runs the acceptor in the background and waits for it to listen.
func startAcceptor(t *testing.T, handler SessionHandler) *Acceptor {
	t.Helper()
	a := NewAcceptor(testServerConfig(), handler, zaptest.NewLogger(t))

	go func() {
		if err := a.ListenAndServe(); err != nil {
			t.Errorf("acceptor failed: %v", err)
		}
	}()

	deadline := time.After(5 * time.Second)
	for a.Addr() == "" {
		select {
		case <-deadline:
			t.Fatal("acceptor did not start listening")
		case <-time.After(5 * time.Millisecond):
		}
	}

	t.Cleanup(a.Stop)
	return a
}

func dial(t *testing.T, a *Acceptor) *websocket.Conn {
	t.Helper()
	url := fmt.Sprintf("ws://%s/ws", a.Addr())
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		defer resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestAcceptorEchoesTextFrames(t *testing.T) {
	handler := &echoHandler{}
	a := startAcceptor(t, handler)

	conn := dial(t, a)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"Login"}`)))

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	messageType, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, messageType)
	assert.Equal(t, `{"event":"Login"}`, string(data))
	assert.Equal(t, 1, handler.sessionCount())
}

func TestAcceptorDiscardsBinaryFrames(t *testing.T) {
	a := startAcceptor(t, &echoHandler{})

	conn := dial(t, a)
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{0x01, 0x02}))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("hello")))

	// The binary frame is silently skipped; only the text frame echoes back.
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestAcceptorRejectsNonUpgradeRequests(t *testing.T) {
	a := startAcceptor(t, &echoHandler{})

	resp, err := http.Get(fmt.Sprintf("http://%s/ws", a.Addr()))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAcceptorUnknownPathIs404(t *testing.T) {
	a := startAcceptor(t, &echoHandler{})

	resp, err := http.Get(fmt.Sprintf("http://%s/other", a.Addr()))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAcceptorServesConcurrentConnections(t *testing.T) {
	handler := &echoHandler{}
	a := startAcceptor(t, handler)

	const clients = 5
	for i := 0; i < clients; i++ {
		conn := dial(t, a)
		payload := fmt.Sprintf("client-%d", i)
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(payload)))

		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, payload, string(data))
	}
	assert.Equal(t, clients, handler.sessionCount())
}

func TestAcceptorStopClosesConnections(t *testing.T) {
	a := startAcceptor(t, &echoHandler{})
	conn := dial(t, a)

	a.Stop()
	assert.False(t, a.IsRunning())

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err, "client observes the server-side close")
}

func TestUpgradeRejectedWhileNotRunning(t *testing.T) {
	a := NewAcceptor(testServerConfig(), &echoHandler{}, zaptest.NewLogger(t))

	// A well-formed upgrade request arriving outside the running window is
	// answered with 503 instead of joining the session wait group.
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Sec-WebSocket-Version", "13")
	req.Header.Set("Sec-WebSocket-Key", "dGhlIHNhbXBsZSBub25jZQ==")

	rec := httptest.NewRecorder()
	a.handleUpgrade(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStopIsIdempotent(t *testing.T) {
	a := startAcceptor(t, &echoHandler{})
	a.Stop()
	a.Stop()
	assert.False(t, a.IsRunning())
}
