// Package session provides the in-memory connection/session model and the
// concurrent registry that tracks which connection belongs to which device.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Transport is an open, full-duplex, message-framed connection. The hosting
// runtime provides the implementation; the session layer only writes frames,
// reads frames, and closes.
type Transport interface {
	// ReadMessage blocks until the next text frame arrives or the
	// connection closes.
	ReadMessage() ([]byte, error)
	// WriteMessage writes one text frame. Safe for concurrent use.
	WriteMessage(data []byte) error
	// Close initiates a graceful close with the given reason without
	// waiting for the peer's acknowledgement. Idempotent.
	Close(reason string) error
	// RemoteAddr describes the peer, for logging.
	RemoteAddr() string
}

// ErrAlreadyAuthenticated is returned when a session's identity is set twice.
// Re-login requires a new session.
var ErrAlreadyAuthenticated = errors.New("session already authenticated")

// Session binds one Transport to an optional authenticated player identity.
// The identity fields are set exactly once, as a single atomic transition.
type Session struct {
	id        uuid.UUID
	transport Transport

	mu             sync.RWMutex
	deviceID       uuid.UUID
	playerID       int64
	authenticated  bool
	connectedAt    time.Time
	disconnectedAt time.Time
}

// New creates a Session for an accepted transport with a freshly generated id.
//
// Precondition: transport must be non-nil and open.
func New(transport Transport) *Session {
	return &Session{
		id:          uuid.New(),
		transport:   transport,
		connectedAt: time.Now().UTC(),
	}
}

// ID returns the session's unique identifier.
func (s *Session) ID() uuid.UUID { return s.id }

// Transport returns the session's transport handle.
func (s *Session) Transport() Transport { return s.transport }

// ConnectedAt returns when the transport was accepted.
func (s *Session) ConnectedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connectedAt
}

// Authenticate binds the session to a player identity. The transition happens
// at most once per session.
//
// Precondition: deviceID must not be the nil UUID; playerID must be > 0.
// Postcondition: DeviceID and PlayerID report the bound identity, or
// ErrAlreadyAuthenticated is returned and nothing changes.
func (s *Session) Authenticate(deviceID uuid.UUID, playerID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.authenticated {
		return ErrAlreadyAuthenticated
	}
	s.deviceID = deviceID
	s.playerID = playerID
	s.authenticated = true
	return nil
}

// Authenticated reports whether the identity transition has happened.
func (s *Session) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authenticated
}

// DeviceID returns the bound device id, if authenticated.
func (s *Session) DeviceID() (uuid.UUID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.deviceID, s.authenticated
}

// PlayerID returns the bound player id, if authenticated.
func (s *Session) PlayerID() (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.playerID, s.authenticated
}

// MarkDisconnected records the time the transport closed.
func (s *Session) MarkDisconnected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disconnectedAt.IsZero() {
		s.disconnectedAt = time.Now().UTC()
	}
}

// DisconnectedAt returns when the transport closed, or the zero time if it
// is still open.
func (s *Session) DisconnectedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.disconnectedAt
}

// String renders the session for log lines.
func (s *Session) String() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.authenticated {
		return fmt.Sprintf("%s [player=%d device=%s]", s.id, s.playerID, s.deviceID)
	}
	return s.id.String()
}
