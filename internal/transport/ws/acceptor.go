package ws

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/knielsen81/coinroll/internal/config"
	"github.com/knielsen81/coinroll/internal/session"
)

// SessionHandler processes one accepted connection. Implementations run the
// dispatch loop for a single client and return when the transport closes.
type SessionHandler interface {
	HandleSession(ctx context.Context, transport session.Transport) error
}

// Acceptor listens for HTTP requests on a TCP port, upgrades WebSocket
// requests on the configured path, and dispatches each accepted connection
// to a SessionHandler. Non-upgrade requests are rejected with 400.
type Acceptor struct {
	cfg      config.ServerConfig
	handler  SessionHandler
	logger   *zap.Logger
	upgrader websocket.Upgrader

	srv      *http.Server
	listener net.Listener
	wg       sync.WaitGroup
	quit     chan struct{}
	mu       sync.Mutex
	running  bool
}

// NewAcceptor creates a WebSocket acceptor with the given configuration.
//
// Precondition: cfg must have a valid port and path; handler and logger must
// be non-nil.
// Postcondition: Returns an Acceptor ready to be started with ListenAndServe.
func NewAcceptor(cfg config.ServerConfig, handler SessionHandler, logger *zap.Logger) *Acceptor {
	return &Acceptor{
		cfg:     cfg,
		handler: handler,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The session layer does opaque device-id matching, not origin
			// checks.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		quit: make(chan struct{}),
	}
}

// ListenAndServe starts the HTTP listener and accepts connections until Stop
// is called. This method blocks until the acceptor is stopped.
//
// Precondition: The acceptor must not already be running.
// Postcondition: The listener is closed when this method returns.
func (a *Acceptor) ListenAndServe() error {
	start := time.Now()

	listener, err := net.Listen("tcp", a.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", a.cfg.Addr(), err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc(a.cfg.Path, a.handleUpgrade)
	srv := &http.Server{Handler: mux}

	a.mu.Lock()
	a.listener = listener
	a.srv = srv
	a.running = true
	a.mu.Unlock()

	a.logger.Info("websocket acceptor listening",
		zap.String("addr", listener.Addr().String()),
		zap.String("path", a.cfg.Path),
		zap.Duration("startup", time.Since(start)),
	)

	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		select {
		case <-a.quit:
			return nil
		default:
			return fmt.Errorf("serving: %w", err)
		}
	}
	return nil
}

// handleUpgrade upgrades a single HTTP request and runs the session handler
// on the request goroutine until the connection closes.
func (a *Acceptor) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		a.logger.Info("rejecting non-websocket request",
			zap.String("remote_addr", r.RemoteAddr),
			zap.String("path", r.URL.Path),
		)
		http.Error(w, "websocket upgrade required", http.StatusBadRequest)
		return
	}

	// Joining the wait group and checking running under one lock keeps a
	// late upgrade from being added after Stop has begun waiting.
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	a.wg.Add(1)
	a.mu.Unlock()
	defer a.wg.Done()

	raw, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		a.logger.Error("websocket upgrade failed",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err),
		)
		return
	}

	start := time.Now()
	addr := raw.RemoteAddr().String()
	a.logger.Info("client connected",
		zap.String("remote_addr", addr),
	)

	conn := NewConn(raw, a.cfg.ReadTimeout, a.cfg.WriteTimeout, a.cfg.MaxMessageBytes)
	defer func() {
		_ = conn.Close("")
	}()

	// The request context ends when the handler returns, so the session runs
	// on its own context, cancelled on shutdown via the quit channel.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-a.quit:
			_ = conn.Close("server shutting down")
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := a.handler.HandleSession(ctx, conn); err != nil {
		a.logger.Debug("session ended",
			zap.String("remote_addr", addr),
			zap.Error(err),
			zap.Duration("duration", time.Since(start)),
		)
	} else {
		a.logger.Info("session ended cleanly",
			zap.String("remote_addr", addr),
			zap.Duration("duration", time.Since(start)),
		)
	}
}

// Stop gracefully stops the acceptor, closing the listener and waiting for
// all active sessions to finish.
//
// Postcondition: All connections are closed and goroutines have exited.
func (a *Acceptor) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.running {
		return
	}
	a.running = false

	close(a.quit)
	if a.srv != nil {
		_ = a.srv.Close()
	}
	a.wg.Wait()

	a.logger.Info("websocket acceptor stopped")
}

// Addr returns the actual listening address, or empty string if not yet listening.
func (a *Acceptor) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener != nil {
		return a.listener.Addr().String()
	}
	return ""
}

// IsRunning returns whether the acceptor is currently accepting connections.
func (a *Acceptor) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}
