package game

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/knielsen81/coinroll/internal/protocol"
	"github.com/knielsen81/coinroll/internal/session"
)

// offlineWriteTimeout bounds the store write that marks a player offline
// after their transport closes. It runs on a fresh context because the
// parent context is already cancelled during server shutdown.
const offlineWriteTimeout = 5 * time.Second

// Dispatcher is the per-connection protocol state machine. One dispatcher
// instance serves all connections; per-connection state lives in the Session.
type Dispatcher struct {
	registry *session.Registry
	store    PlayerStore
	logger   *zap.Logger
}

// NewDispatcher creates a Dispatcher over the given registry and store.
//
// Precondition: registry, store, and logger must be non-nil.
func NewDispatcher(registry *session.Registry, store PlayerStore, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		store:    store,
		logger:   logger,
	}
}

// Registry exposes the session registry for binaries that report counts.
func (d *Dispatcher) Registry() *session.Registry { return d.registry }

// HandleSession runs the dispatch loop for one accepted transport: it
// registers a fresh session, processes frames strictly in arrival order, and
// deregisters when the transport closes. Handler failures never close the
// connection; only a transport error ends the loop.
//
// Precondition: transport must be open.
// Postcondition: The session is deregistered and, if it was still the
// authenticated holder of its device, the player is marked offline.
func (d *Dispatcher) HandleSession(ctx context.Context, transport session.Transport) error {
	sess := session.New(transport)
	if err := d.registry.Register(sess); err != nil {
		// Fresh ids never collide; treat this as an invariant violation.
		d.logger.Error("registering session", zap.Error(err))
		_ = transport.Close("internal error")
		return fmt.Errorf("registering session: %w", err)
	}

	d.logger.Info("session connected",
		zap.String("session_id", sess.ID().String()),
		zap.String("remote_addr", transport.RemoteAddr()),
	)

	defer d.closeSession(sess)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		data, err := transport.ReadMessage()
		if err != nil {
			d.logger.Debug("read loop ended",
				zap.String("session_id", sess.ID().String()),
				zap.Error(err),
			)
			return nil
		}
		d.dispatch(ctx, sess, data)
	}
}

// closeSession marks the player offline (if authenticated) and deregisters.
// Unauthenticated closes only deregister. The offline write runs under the
// device lock and only while this session is still the device holder: an
// evicted session's late cleanup must not land after the reconnect's online
// write and leave a live player marked offline.
func (d *Dispatcher) closeSession(sess *session.Session) {
	sess.MarkDisconnected()

	if deviceID, ok := sess.DeviceID(); ok {
		unlock := d.registry.LockDevice(deviceID)
		if holder, found := d.registry.FindByDevice(deviceID); found && holder == sess {
			playerID, _ := sess.PlayerID()
			ctx, cancel := context.WithTimeout(context.Background(), offlineWriteTimeout)
			if err := d.store.SetOnlineStatus(ctx, playerID, false); err != nil {
				d.logger.Error("marking player offline",
					zap.Int64("player_id", playerID),
					zap.Error(err),
				)
			}
			cancel()
		}
		unlock()
	}

	d.registry.Deregister(sess.ID())
	d.logger.Info("session disconnected",
		zap.String("session", sess.String()),
		zap.Duration("duration", time.Since(sess.ConnectedAt())),
	)
}

// dispatch decodes one frame, routes it, and writes the response. Errors are
// confined to this session: decode failures answer with an uncorrelated
// failure envelope, handler errors answer with a generic failure, and the
// connection stays open in every case.
func (d *Dispatcher) dispatch(ctx context.Context, sess *session.Session, data []byte) {
	env, err := protocol.Decode(data)
	if err != nil {
		d.logger.Debug("frame decode failed",
			zap.String("session_id", sess.ID().String()),
			zap.Error(err),
		)
		// The request id could not be recovered, so the failure carries no
		// correlation.
		d.respond(sess, &protocol.Envelope{
			Event:   protocol.EventMessage,
			Success: protocol.Bool(false),
			Message: MsgInvalidRequest,
		})
		return
	}

	ev, known := protocol.ParseEvent(string(env.Event))
	if !known {
		d.respond(sess, failure(env, MsgUnknownEvent))
		return
	}

	resp := d.route(ctx, sess, ev, env)
	d.respond(sess, resp)
}

// route invokes the event handler and converts any handler error or panic
// into an unsuccessful response envelope.
func (d *Dispatcher) route(ctx context.Context, sess *session.Session, ev protocol.Event, env *protocol.Envelope) (resp *protocol.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("%v", r)
			d.logger.Error("handler panicked",
				zap.String("session", sess.String()),
				zap.String("event", string(ev)),
				zap.Error(err),
			)
			resp = failure(env, MsgServerError(err))
		}
	}()

	var err error
	switch ev {
	case protocol.EventLogin:
		resp, err = d.handleLogin(ctx, sess, env)
	case protocol.EventUpdateResources:
		resp, err = d.handleUpdateResources(ctx, sess, env)
	case protocol.EventSendGift:
		resp, err = d.handleSendGift(ctx, sess, env)
	default:
		// GiftEvent and Message are server-pushed only.
		resp = failure(env, MsgUnknownEvent)
	}
	if err != nil {
		d.logger.Error("handler failed",
			zap.String("session", sess.String()),
			zap.String("event", string(ev)),
			zap.String("request_id", env.RequestID),
			zap.Error(err),
		)
		resp = failure(env, MsgServerError(err))
	}
	return resp
}

// respond writes the envelope to the session. Send failures are already
// logged by the registry; they never propagate past this session.
func (d *Dispatcher) respond(sess *session.Session, env *protocol.Envelope) {
	_ = d.registry.Send(sess, env)
}

// failure builds an unsuccessful response echoing the request's id and event.
func failure(req *protocol.Envelope, message string) *protocol.Envelope {
	return &protocol.Envelope{
		RequestID: req.RequestID,
		Event:     req.Event,
		Success:   protocol.Bool(false),
		Message:   message,
	}
}
