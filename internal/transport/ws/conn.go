// Package ws accepts WebSocket connections over HTTP and adapts them to the
// session layer's Transport interface.
package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// closeGracePeriod bounds the write of the close control frame during Close.
// We never wait for the peer's close acknowledgement.
const closeGracePeriod = time.Second

// Conn wraps a gorilla WebSocket connection with write serialisation and
// per-frame deadlines. It implements session.Transport.
type Conn struct {
	raw *websocket.Conn

	writeMu sync.Mutex

	readTimeout  time.Duration
	writeTimeout time.Duration

	closeOnce sync.Once
	closeErr  error
}

// NewConn wraps an upgraded WebSocket connection.
//
// Precondition: raw must be a freshly upgraded, open connection.
// Postcondition: Returns a Conn ready for reading and writing; inbound frames
// larger than maxMessageBytes terminate the connection.
func NewConn(raw *websocket.Conn, readTimeout, writeTimeout time.Duration, maxMessageBytes int64) *Conn {
	if maxMessageBytes > 0 {
		raw.SetReadLimit(maxMessageBytes)
	}
	if readTimeout > 0 {
		// Client keepalive pings count as liveness: each one pushes the read
		// deadline out, so an idle-but-pinging session is never dropped.
		raw.SetPingHandler(func(appData string) error {
			_ = raw.SetReadDeadline(time.Now().Add(readTimeout))
			err := raw.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(closeGracePeriod))
			if err == websocket.ErrCloseSent {
				return nil
			}
			return err
		})
	}
	return &Conn{
		raw:          raw,
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
	}
}

// ReadMessage blocks until the next text frame arrives. Binary frames are
// discarded; the protocol is text-only.
//
// Postcondition: Returns the frame payload, or a non-nil error once the
// connection is closed (locally or remotely).
func (c *Conn) ReadMessage() ([]byte, error) {
	for {
		if c.readTimeout > 0 {
			_ = c.raw.SetReadDeadline(time.Now().Add(c.readTimeout))
		}
		messageType, data, err := c.raw.ReadMessage()
		if err != nil {
			return nil, err
		}
		if messageType != websocket.TextMessage {
			continue
		}
		return data, nil
	}
}

// WriteMessage writes one text frame. Safe for concurrent use; the gift push
// and the dispatch loop may both write to the same connection.
func (c *Conn) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		_ = c.raw.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.raw.WriteMessage(websocket.TextMessage, data)
}

// Close sends a normal-closure control frame carrying the reason, then closes
// the underlying connection without waiting for the peer's acknowledgement.
// Idempotent; later calls return the first result.
func (c *Conn) Close(reason string) error {
	c.closeOnce.Do(func() {
		deadline := time.Now().Add(closeGracePeriod)
		message := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)

		c.writeMu.Lock()
		_ = c.raw.WriteControl(websocket.CloseMessage, message, deadline)
		c.writeMu.Unlock()

		c.closeErr = c.raw.Close()
	})
	return c.closeErr
}

// RemoteAddr describes the peer, for logging.
func (c *Conn) RemoteAddr() string {
	return c.raw.RemoteAddr().String()
}

// IsCloseError reports whether err is a WebSocket close with one of the
// expected codes (normal closure, going away, or no status).
func IsCloseError(err error) bool {
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	)
}
