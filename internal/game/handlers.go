package game

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/knielsen81/coinroll/internal/protocol"
	"github.com/knielsen81/coinroll/internal/session"
)

// handleLogin binds the session to a device identity, evicting any live
// session already holding that device id. The lookup, eviction, store
// registration, and device-index insert run as one critical section per
// device id so concurrent logins for the same device serialise.
func (d *Dispatcher) handleLogin(ctx context.Context, sess *session.Session, env *protocol.Envelope) (*protocol.Envelope, error) {
	req := env.Login
	if req == nil || req.DeviceID == nil || *req.DeviceID == uuid.Nil {
		return failure(env, MsgInvalidRequestReason("device id is invalid or missing")), nil
	}
	if sess.Authenticated() {
		// Identity is immutable once set; re-login needs a new connection.
		return failure(env, MsgAlreadyLoggedIn), nil
	}
	deviceID := *req.DeviceID

	unlock := d.registry.LockDevice(deviceID)
	defer unlock()

	if old, ok := d.registry.FindByDevice(deviceID); ok {
		d.logger.Info("evicting previous session for device",
			zap.String("device_id", deviceID.String()),
			zap.String("old_session_id", old.ID().String()),
			zap.String("new_session_id", sess.ID().String()),
		)
		_ = d.registry.Abort(old, MsgForcedSignOut)
		d.registry.Deregister(old.ID())
	}

	player, err := d.store.RegisterOrGet(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("registering player for device %s: %w", deviceID, err)
	}

	if err := sess.Authenticate(deviceID, player.ID); err != nil {
		return nil, fmt.Errorf("authenticating session: %w", err)
	}
	if err := d.registry.IndexDevice(sess); err != nil {
		return nil, fmt.Errorf("indexing device: %w", err)
	}

	// The identity transition is irreversible; failing the login here would
	// strand an authenticated session whose retry answers "already logged
	// in". Presence is bookkeeping, so the write failure is logged only.
	if err := d.store.SetOnlineStatus(ctx, player.ID, true); err != nil {
		d.logger.Error("marking player online",
			zap.Int64("player_id", player.ID),
			zap.Error(err),
		)
	}

	d.logger.Info("player logged in",
		zap.Int64("player_id", player.ID),
		zap.String("device_id", deviceID.String()),
		zap.String("session_id", sess.ID().String()),
	)

	return &protocol.Envelope{
		RequestID:   env.RequestID,
		Event:       env.Event,
		Success:     protocol.Bool(true),
		LoginResult: &protocol.LoginResult{PlayerID: player.ID},
	}, nil
}

// handleUpdateResources overwrites the caller's balance for one resource type
// and answers with the store's authoritative balance after the write.
func (d *Dispatcher) handleUpdateResources(ctx context.Context, sess *session.Session, env *protocol.Envelope) (*protocol.Envelope, error) {
	req := env.UpdateResources
	if req == nil || req.ResourceValue == nil || *req.ResourceValue < 0 {
		return failure(env, MsgInvalidRequest), nil
	}
	rt, ok := protocol.ParseResourceType(req.ResourceType)
	if !ok {
		return failure(env, MsgInvalidRequest), nil
	}

	playerID, authed := sess.PlayerID()
	if !authed {
		return failure(env, MsgLoginRequired), nil
	}

	if err := d.store.SetResource(ctx, playerID, rt, *req.ResourceValue); err != nil {
		return nil, fmt.Errorf("setting resource: %w", err)
	}

	player, err := d.store.GetPlayer(ctx, playerID)
	if err != nil {
		return nil, fmt.Errorf("re-reading player %d: %w", playerID, err)
	}

	d.logger.Debug("resource updated",
		zap.Int64("player_id", playerID),
		zap.String("resource_type", string(rt)),
		zap.Float64("balance", player.Balance(rt)),
	)

	return &protocol.Envelope{
		RequestID:             env.RequestID,
		Event:                 env.Event,
		Success:               protocol.Bool(true),
		UpdateResourcesResult: &protocol.UpdateResourcesResult{Balance: player.Balance(rt)},
	}, nil
}

// handleSendGift adds a resource amount to another player's balance and, if
// that player is connected, pushes a GiftEvent to their session. The push is
// fire-and-forget: a write failure there is logged and never fails the
// sender's own response.
func (d *Dispatcher) handleSendGift(ctx context.Context, sess *session.Session, env *protocol.Envelope) (*protocol.Envelope, error) {
	req := env.SendGift
	if req == nil || req.FriendPlayerID == nil || req.ResourceValue == nil || *req.ResourceValue <= 0 {
		return failure(env, MsgInvalidRequest), nil
	}
	rt, ok := protocol.ParseResourceType(req.ResourceType)
	if !ok {
		return failure(env, MsgInvalidRequest), nil
	}

	senderID, authed := sess.PlayerID()
	if !authed {
		return failure(env, MsgLoginRequired), nil
	}
	if *req.FriendPlayerID == senderID {
		return failure(env, MsgSelfGift), nil
	}

	friend, err := d.store.GetPlayer(ctx, *req.FriendPlayerID)
	if errors.Is(err, ErrPlayerNotFound) {
		return failure(env, MsgPlayerNotFound(*req.FriendPlayerID)), nil
	}
	if err != nil {
		return nil, fmt.Errorf("looking up player %d: %w", *req.FriendPlayerID, err)
	}

	previous := friend.Balance(rt)
	current := previous + *req.ResourceValue
	if err := d.store.SetResource(ctx, friend.ID, rt, current); err != nil {
		return nil, fmt.Errorf("crediting gift to player %d: %w", friend.ID, err)
	}

	recipient, online := d.registry.FindByDevice(friend.DeviceID)
	if online {
		push := &protocol.Envelope{
			Event:   protocol.EventGiftEvent,
			Success: protocol.Bool(true),
			GiftEvent: &protocol.GiftEvent{
				FromPlayerID:            senderID,
				ResourceType:            string(rt),
				ResourceValue:           *req.ResourceValue,
				PreviousResourceBalance: previous,
				CurrentResourceBalance:  current,
			},
		}
		if err := d.registry.Send(recipient, push); err != nil {
			d.logger.Warn("gift notification dropped",
				zap.Int64("from_player_id", senderID),
				zap.Int64("to_player_id", friend.ID),
				zap.Error(err),
			)
		}
	}

	d.logger.Info("gift sent",
		zap.Int64("from_player_id", senderID),
		zap.Int64("to_player_id", friend.ID),
		zap.String("resource_type", string(rt)),
		zap.Float64("resource_value", *req.ResourceValue),
		zap.Bool("recipient_online", online),
	)

	return &protocol.Envelope{
		RequestID:      env.RequestID,
		Event:          env.Event,
		Success:        protocol.Bool(true),
		SendGiftResult: &protocol.SendGiftResult{Message: MsgGiftSent(online)},
	}, nil
}
