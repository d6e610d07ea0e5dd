package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/knielsen81/coinroll/internal/config"
	"github.com/knielsen81/coinroll/internal/protocol"
)

// Client is the interactive console client. It reads commands from in,
// sends request envelopes over one WebSocket connection, and prints server
// responses and pushed events to out.
type Client struct {
	cfg    config.ClientConfig
	logger *zap.Logger
	in     io.Reader
	out    io.Writer
}

// New creates a console client.
//
// Precondition: logger must be non-nil; in and out must be non-nil.
func New(cfg config.ClientConfig, logger *zap.Logger, in io.Reader, out io.Writer) *Client {
	return &Client{cfg: cfg, logger: logger, in: in, out: out}
}

// Run dials the server and processes console commands until "exit", EOF, or
// context cancellation. Incoming envelopes are printed as they arrive.
//
// Postcondition: The connection is closed when this method returns.
func (c *Client) Run(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.ServerURL, nil)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", c.cfg.ServerURL, err)
	}
	defer conn.Close()

	fmt.Fprintf(c.out, "connected to %s\n%s\n", c.cfg.ServerURL, Usage)

	done := make(chan struct{})
	go c.readLoop(conn, done)

	if c.cfg.KeepAliveInterval > 0 {
		go c.keepAlive(conn, done)
	}

	scanner := bufio.NewScanner(c.in)
	for {
		fmt.Fprint(c.out, "> ")
		if !scanner.Scan() {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-done:
			fmt.Fprintln(c.out, "connection closed by server")
			return nil
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(line) {
		case "":
			continue
		case "exit", "quit":
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			return nil
		case "help":
			fmt.Fprintln(c.out, Usage)
			continue
		}

		env, err := ParseCommand(line)
		if err != nil {
			fmt.Fprintf(c.out, "%v\n", err)
			continue
		}

		data, err := protocol.Encode(env)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return fmt.Errorf("sending request: %w", err)
		}
	}
	return scanner.Err()
}

// readLoop prints every incoming envelope and closes done when the
// connection ends.
func (c *Client) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) && closeErr.Text != "" {
				fmt.Fprintf(c.out, "\nserver closed connection: %s\n", closeErr.Text)
			}
			c.logger.Debug("read loop ended", zap.Error(err))
			return
		}
		env, err := protocol.Decode(data)
		if err != nil {
			c.logger.Warn("undecodable frame from server", zap.Error(err))
			continue
		}
		fmt.Fprintf(c.out, "\n%s\n> ", Render(env))
	}
}

// keepAlive pings the server on the configured interval until done closes.
func (c *Client) keepAlive(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.KeepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(time.Second)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.logger.Debug("keepalive ping failed", zap.Error(err))
				return
			}
		}
	}
}

// Render formats a server envelope for the console.
func Render(env *protocol.Envelope) string {
	status := "ok"
	if env.Success != nil && !*env.Success {
		status = "failed"
	}

	var detail string
	switch {
	case env.LoginResult != nil:
		detail = fmt.Sprintf("player id = %d", env.LoginResult.PlayerID)
	case env.UpdateResourcesResult != nil:
		detail = fmt.Sprintf("balance = %g", env.UpdateResourcesResult.Balance)
	case env.SendGiftResult != nil:
		detail = env.SendGiftResult.Message
	case env.GiftEvent != nil:
		ge := env.GiftEvent
		detail = fmt.Sprintf("player %d sent you %g %s (balance %g -> %g)",
			ge.FromPlayerID, ge.ResourceValue, ge.ResourceType,
			ge.PreviousResourceBalance, ge.CurrentResourceBalance)
	}

	parts := []string{fmt.Sprintf("[%s] %s", env.Event, status)}
	if env.Message != "" {
		parts = append(parts, env.Message)
	}
	if detail != "" {
		parts = append(parts, detail)
	}
	return strings.Join(parts, ": ")
}
