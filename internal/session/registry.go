package session

import (
	"errors"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/knielsen81/coinroll/internal/protocol"
)

// deviceLockShards is the number of striped mutexes guarding the compound
// check-evict-register sequence during login. Two concurrent logins for the
// same device id always hash to the same shard and therefore serialise.
const deviceLockShards = 64

// ErrSessionExists is returned when Register sees a duplicate session id.
// Session ids are generated fresh per connection, so a collision is an
// invariant violation rather than a recoverable condition.
var ErrSessionExists = errors.New("session id already registered")

// ErrDeviceBound is returned when IndexDevice finds the device id already
// indexed to a different live session.
var ErrDeviceBound = errors.New("device already bound to a live session")

// Registry is the single source of truth for which sessions are connected
// and which connection belongs to which device. All methods are safe for
// concurrent use from one dispatch goroutine per connection; the compound
// evict-then-register sequence in login must run under LockDevice.
type Registry struct {
	logger *zap.Logger

	mu       sync.RWMutex
	byID     map[uuid.UUID]*Session
	byDevice map[uuid.UUID]*Session

	deviceLocks [deviceLockShards]sync.Mutex
}

// NewRegistry creates an empty Registry.
//
// Precondition: logger must be non-nil.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		logger:   logger,
		byID:     make(map[uuid.UUID]*Session),
		byDevice: make(map[uuid.UUID]*Session),
	}
}

// Register inserts a new session keyed by its id.
//
// Postcondition: The session is tracked, or ErrSessionExists is returned and
// nothing changes.
func (r *Registry) Register(sess *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[sess.ID()]; exists {
		return fmt.Errorf("%w: %s", ErrSessionExists, sess.ID())
	}
	r.byID[sess.ID()] = sess
	return nil
}

// Deregister removes a session and its device index entry. Idempotent.
//
// Postcondition: The session is no longer tracked by id or device.
func (r *Registry) Deregister(sessionID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, exists := r.byID[sessionID]
	if !exists {
		return
	}
	delete(r.byID, sessionID)
	if deviceID, ok := sess.DeviceID(); ok {
		// Only drop the index if this session is still the holder; a newer
		// session for the same device may already have claimed it.
		if r.byDevice[deviceID] == sess {
			delete(r.byDevice, deviceID)
		}
	}
	sess.MarkDisconnected()
}

// ExistsByID reports whether the given session id is registered.
func (r *Registry) ExistsByID(sessionID uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byID[sessionID]
	return ok
}

// ExistsByDevice reports whether any live session is authenticated for the device.
func (r *Registry) ExistsByDevice(deviceID uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byDevice[deviceID]
	return ok
}

// FindByDevice returns the at-most-one authenticated session for the device.
//
// Postcondition: Returns (session, true) if found, or (nil, false) otherwise.
func (r *Registry) FindByDevice(deviceID uuid.UUID) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.byDevice[deviceID]
	return sess, ok
}

// IndexDevice records the session as the authenticated holder of its device id.
//
// Precondition: The session must be authenticated and the caller must hold
// the device lock for its device id.
// Postcondition: FindByDevice for the device returns this session, or
// ErrDeviceBound if another live session already holds it.
func (r *Registry) IndexDevice(sess *Session) error {
	deviceID, ok := sess.DeviceID()
	if !ok {
		return errors.New("session is not authenticated")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, bound := r.byDevice[deviceID]; bound && existing != sess {
		return fmt.Errorf("%w: device %s held by session %s", ErrDeviceBound, deviceID, existing.ID())
	}
	r.byDevice[deviceID] = sess
	return nil
}

// LockDevice acquires the critical section for the given device id and
// returns the release function. Login holds this lock across the lookup,
// eviction, store registration, and device-index steps so that concurrent
// logins for the same device cannot both succeed.
func (r *Registry) LockDevice(deviceID uuid.UUID) func() {
	shard := &r.deviceLocks[deviceShard(deviceID)]
	shard.Lock()
	return shard.Unlock
}

func deviceShard(deviceID uuid.UUID) uint32 {
	h := fnv.New32a()
	_, _ = h.Write(deviceID[:])
	return h.Sum32() % deviceLockShards
}

// Send serialises an envelope and writes it to the session's transport.
// A write failure is logged and returned; it never affects other sessions.
//
// Postcondition: The envelope is on the wire, or a non-nil error is returned.
func (r *Registry) Send(sess *Session, env *protocol.Envelope) error {
	data, err := protocol.Encode(env)
	if err != nil {
		return err
	}
	if err := sess.Transport().WriteMessage(data); err != nil {
		r.logger.Warn("envelope write failed",
			zap.String("session_id", sess.ID().String()),
			zap.String("event", string(env.Event)),
			zap.Error(err),
		)
		return fmt.Errorf("writing to session %s: %w", sess.ID(), err)
	}
	return nil
}

// SendByID looks a session up by id and sends the envelope to it.
func (r *Registry) SendByID(sessionID uuid.UUID, env *protocol.Envelope) error {
	r.mu.RLock()
	sess, ok := r.byID[sessionID]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("session %s is not registered", sessionID)
	}
	return r.Send(sess, env)
}

// Abort initiates a graceful close of the session's transport with a close
// reason, without blocking for the remote peer's acknowledgement.
//
// Postcondition: The close handshake is started; the session's read loop
// will observe the closed transport and deregister.
func (r *Registry) Abort(sess *Session, reason string) error {
	r.logger.Info("aborting session",
		zap.String("session_id", sess.ID().String()),
		zap.String("reason", reason),
	)
	if err := sess.Transport().Close(reason); err != nil {
		r.logger.Warn("abort close failed",
			zap.String("session_id", sess.ID().String()),
			zap.Error(err),
		)
		return fmt.Errorf("aborting session %s: %w", sess.ID(), err)
	}
	return nil
}

// Count returns the number of currently registered sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
