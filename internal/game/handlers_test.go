package game

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knielsen81/coinroll/internal/protocol"
	"github.com/knielsen81/coinroll/internal/session"
)

func loginEnvelope(requestID string, deviceID uuid.UUID) *protocol.Envelope {
	return &protocol.Envelope{
		RequestID: requestID,
		Event:     protocol.EventLogin,
		Login:     &protocol.LoginRequest{DeviceID: &deviceID},
	}
}

func updateEnvelope(requestID string, rt string, value float64) *protocol.Envelope {
	return &protocol.Envelope{
		RequestID: requestID,
		Event:     protocol.EventUpdateResources,
		UpdateResources: &protocol.UpdateResourcesRequest{
			ResourceType:  rt,
			ResourceValue: protocol.Float(value),
		},
	}
}

func giftEnvelope(requestID string, friendID int64, rt string, value float64) *protocol.Envelope {
	return &protocol.Envelope{
		RequestID: requestID,
		Event:     protocol.EventSendGift,
		SendGift: &protocol.SendGiftRequest{
			FriendPlayerID: protocol.Int64(friendID),
			ResourceType:   rt,
			ResourceValue:  protocol.Float(value),
		},
	}
}

// loggedInSession registers a fresh session and authenticates it through the
// login handler, returning the session, its transport, and the player id.
func loggedInSession(t *testing.T, d *Dispatcher, deviceID uuid.UUID) (*session.Session, *scriptTransport, int64) {
	t.Helper()
	transport := newScriptTransport()
	sess := session.New(transport)
	require.NoError(t, d.registry.Register(sess))

	resp, err := d.handleLogin(context.Background(), sess, loginEnvelope("login-"+sess.ID().String(), deviceID))
	require.NoError(t, err)
	require.NotNil(t, resp.Success)
	require.True(t, *resp.Success, "login failed: %s", resp.Message)
	require.NotNil(t, resp.LoginResult)
	return sess, transport, resp.LoginResult.PlayerID
}

func TestLoginCreatesPlayer(t *testing.T) {
	d, store := newTestDispatcher(t)
	deviceID := uuid.New()

	sess, _, playerID := loggedInSession(t, d, deviceID)

	assert.True(t, sess.Authenticated())
	gotDevice, _ := sess.DeviceID()
	assert.Equal(t, deviceID, gotDevice)

	found, ok := d.registry.FindByDevice(deviceID)
	require.True(t, ok)
	assert.Same(t, sess, found)
	assert.True(t, store.online(playerID))
}

func TestLoginSameDeviceYieldsSamePlayer(t *testing.T) {
	d, _ := newTestDispatcher(t)
	deviceID := uuid.New()

	_, _, firstID := loggedInSession(t, d, deviceID)
	_, _, secondID := loggedInSession(t, d, deviceID)

	assert.Equal(t, firstID, secondID, "one device id maps to one player")
}

func TestLoginMissingDeviceID(t *testing.T) {
	d, _ := newTestDispatcher(t)
	sess := session.New(newScriptTransport())
	require.NoError(t, d.registry.Register(sess))

	resp, err := d.handleLogin(context.Background(), sess, &protocol.Envelope{
		RequestID: "r-1",
		Event:     protocol.EventLogin,
	})
	require.NoError(t, err)
	require.NotNil(t, resp.Success)
	assert.False(t, *resp.Success)
	assert.Contains(t, resp.Message, MsgInvalidRequest)
	assert.False(t, sess.Authenticated())
}

func TestLoginNilDeviceID(t *testing.T) {
	d, _ := newTestDispatcher(t)
	sess := session.New(newScriptTransport())
	require.NoError(t, d.registry.Register(sess))

	resp, err := d.handleLogin(context.Background(), sess, loginEnvelope("r-1", uuid.Nil))
	require.NoError(t, err)
	require.NotNil(t, resp.Success)
	assert.False(t, *resp.Success)
}

func TestLoginTwiceOnSameSession(t *testing.T) {
	d, _ := newTestDispatcher(t)
	sess, _, _ := loggedInSession(t, d, uuid.New())

	resp, err := d.handleLogin(context.Background(), sess, loginEnvelope("r-2", uuid.New()))
	require.NoError(t, err)
	require.NotNil(t, resp.Success)
	assert.False(t, *resp.Success)
	assert.Equal(t, MsgAlreadyLoggedIn, resp.Message)
}

func TestLoginEvictsPreviousSession(t *testing.T) {
	d, _ := newTestDispatcher(t)
	deviceID := uuid.New()

	oldSess, oldTransport, oldPlayerID := loggedInSession(t, d, deviceID)
	newSess, _, newPlayerID := loggedInSession(t, d, deviceID)

	assert.Equal(t, oldPlayerID, newPlayerID)
	assert.Equal(t, MsgForcedSignOut, oldTransport.closeReason())
	assert.False(t, d.registry.ExistsByID(oldSess.ID()))

	found, ok := d.registry.FindByDevice(deviceID)
	require.True(t, ok)
	assert.Same(t, newSess, found)
	assert.Equal(t, 1, d.registry.Count())
}

func TestEvictedSessionCleanupKeepsPlayerOnline(t *testing.T) {
	d, store := newTestDispatcher(t)
	deviceID := uuid.New()

	oldSess, _, playerID := loggedInSession(t, d, deviceID)
	newSess, _, _ := loggedInSession(t, d, deviceID)
	require.True(t, store.online(playerID))

	// The evicted session's read loop finishes after the reconnect has
	// already written the player online; its cleanup must not undo that.
	d.closeSession(oldSess)

	assert.True(t, store.online(playerID), "player has a live authenticated session and must stay online")
	found, ok := d.registry.FindByDevice(deviceID)
	require.True(t, ok)
	assert.Same(t, newSess, found)
}

func TestDisconnectOfHolderMarksPlayerOffline(t *testing.T) {
	d, store := newTestDispatcher(t)
	sess, _, playerID := loggedInSession(t, d, uuid.New())
	require.True(t, store.online(playerID))

	d.closeSession(sess)

	assert.False(t, store.online(playerID))
	assert.Equal(t, 0, d.registry.Count())
}

func TestLoginSucceedsWhenOnlineWriteFails(t *testing.T) {
	d, store := newTestDispatcher(t)
	store.failOnline = errors.New("connection refused")

	sess := session.New(newScriptTransport())
	require.NoError(t, d.registry.Register(sess))

	resp, err := d.handleLogin(context.Background(), sess, loginEnvelope("r-1", uuid.New()))
	require.NoError(t, err)
	require.NotNil(t, resp.Success)
	assert.True(t, *resp.Success, "presence bookkeeping must not fail the login")
	assert.True(t, sess.Authenticated())

	// The session is fully usable despite the failed presence write.
	store.failOnline = nil
	resp, err = d.handleUpdateResources(context.Background(), sess, updateEnvelope("r-2", "Coin", 5))
	require.NoError(t, err)
	require.NotNil(t, resp.Success)
	assert.True(t, *resp.Success)
}

func TestUpdateResourcesRequiresLogin(t *testing.T) {
	d, _ := newTestDispatcher(t)
	sess := session.New(newScriptTransport())
	require.NoError(t, d.registry.Register(sess))

	resp, err := d.handleUpdateResources(context.Background(), sess, updateEnvelope("r-1", "Coin", 100))
	require.NoError(t, err)
	require.NotNil(t, resp.Success)
	assert.False(t, *resp.Success)
	assert.Equal(t, MsgLoginRequired, resp.Message)
	assert.Equal(t, "r-1", resp.RequestID)
}

func TestUpdateResourcesOverwrites(t *testing.T) {
	d, store := newTestDispatcher(t)
	sess, _, playerID := loggedInSession(t, d, uuid.New())
	ctx := context.Background()

	resp, err := d.handleUpdateResources(ctx, sess, updateEnvelope("r-1", "Coin", 50))
	require.NoError(t, err)
	require.NotNil(t, resp.UpdateResourcesResult)
	assert.Equal(t, float64(50), resp.UpdateResourcesResult.Balance)

	resp, err = d.handleUpdateResources(ctx, sess, updateEnvelope("r-2", "Coin", 10))
	require.NoError(t, err)
	require.NotNil(t, resp.UpdateResourcesResult)
	assert.Equal(t, float64(10), resp.UpdateResourcesResult.Balance, "later values overwrite, never accumulate")
	assert.Equal(t, float64(10), store.balance(playerID, protocol.ResourceCoin))
}

func TestUpdateResourcesTypesAreIndependent(t *testing.T) {
	d, store := newTestDispatcher(t)
	sess, _, playerID := loggedInSession(t, d, uuid.New())
	ctx := context.Background()

	_, err := d.handleUpdateResources(ctx, sess, updateEnvelope("r-1", "Coin", 100))
	require.NoError(t, err)
	_, err = d.handleUpdateResources(ctx, sess, updateEnvelope("r-2", "Roll", 4))
	require.NoError(t, err)

	assert.Equal(t, float64(100), store.balance(playerID, protocol.ResourceCoin))
	assert.Equal(t, float64(4), store.balance(playerID, protocol.ResourceRoll))
}

func TestUpdateResourcesZeroIsValid(t *testing.T) {
	d, _ := newTestDispatcher(t)
	sess, _, _ := loggedInSession(t, d, uuid.New())

	resp, err := d.handleUpdateResources(context.Background(), sess, updateEnvelope("r-1", "Coin", 0))
	require.NoError(t, err)
	require.NotNil(t, resp.Success)
	assert.True(t, *resp.Success)
	assert.Equal(t, float64(0), resp.UpdateResourcesResult.Balance)
}

func TestUpdateResourcesRejectsInvalidInput(t *testing.T) {
	d, store := newTestDispatcher(t)
	sess, _, playerID := loggedInSession(t, d, uuid.New())
	ctx := context.Background()

	cases := []*protocol.Envelope{
		updateEnvelope("r-1", "Gem", 10),
		updateEnvelope("r-2", "coin", 10),
		updateEnvelope("r-3", "Coin", -5),
		{RequestID: "r-4", Event: protocol.EventUpdateResources},
		{RequestID: "r-5", Event: protocol.EventUpdateResources,
			UpdateResources: &protocol.UpdateResourcesRequest{ResourceType: "Coin"}},
	}
	for _, env := range cases {
		resp, err := d.handleUpdateResources(ctx, sess, env)
		require.NoError(t, err)
		require.NotNil(t, resp.Success, "request %s", env.RequestID)
		assert.False(t, *resp.Success, "request %s should fail", env.RequestID)
		assert.Equal(t, env.RequestID, resp.RequestID)
	}

	assert.Equal(t, float64(0), store.balance(playerID, protocol.ResourceCoin), "rejected requests must not mutate state")
}

func TestSendGiftRequiresLogin(t *testing.T) {
	d, _ := newTestDispatcher(t)
	sess := session.New(newScriptTransport())
	require.NoError(t, d.registry.Register(sess))

	resp, err := d.handleSendGift(context.Background(), sess, giftEnvelope("r-1", 2, "Coin", 10))
	require.NoError(t, err)
	require.NotNil(t, resp.Success)
	assert.False(t, *resp.Success)
	assert.Equal(t, MsgLoginRequired, resp.Message)
}

func TestSendGiftToSelf(t *testing.T) {
	d, store := newTestDispatcher(t)
	sess, _, playerID := loggedInSession(t, d, uuid.New())
	ctx := context.Background()

	_, err := d.handleUpdateResources(ctx, sess, updateEnvelope("r-1", "Coin", 100))
	require.NoError(t, err)

	resp, err := d.handleSendGift(ctx, sess, giftEnvelope("r-2", playerID, "Coin", 10))
	require.NoError(t, err)
	require.NotNil(t, resp.Success)
	assert.False(t, *resp.Success)
	assert.Equal(t, MsgSelfGift, resp.Message)
	assert.Equal(t, float64(100), store.balance(playerID, protocol.ResourceCoin), "self-gift must not mutate state")
}

func TestSendGiftToNonexistentPlayer(t *testing.T) {
	d, _ := newTestDispatcher(t)
	sess, _, _ := loggedInSession(t, d, uuid.New())

	resp, err := d.handleSendGift(context.Background(), sess, giftEnvelope("r-1", 9999, "Coin", 10))
	require.NoError(t, err)
	require.NotNil(t, resp.Success)
	assert.False(t, *resp.Success)
	assert.Equal(t, "player(id=9999) does not exist", resp.Message)
}

func TestSendGiftRejectsInvalidInput(t *testing.T) {
	d, _ := newTestDispatcher(t)
	sess, _, _ := loggedInSession(t, d, uuid.New())
	ctx := context.Background()

	cases := []*protocol.Envelope{
		giftEnvelope("r-1", 2, "Coin", 0),
		giftEnvelope("r-2", 2, "Coin", -10),
		giftEnvelope("r-3", 2, "Gem", 10),
		{RequestID: "r-4", Event: protocol.EventSendGift},
	}
	for _, env := range cases {
		resp, err := d.handleSendGift(ctx, sess, env)
		require.NoError(t, err)
		require.NotNil(t, resp.Success, "request %s", env.RequestID)
		assert.False(t, *resp.Success, "request %s should fail", env.RequestID)
	}
}

func TestSendGiftToOnlineFriend(t *testing.T) {
	d, store := newTestDispatcher(t)
	ctx := context.Background()

	friendSess, friendTransport, friendID := loggedInSession(t, d, uuid.New())
	_, err := d.handleUpdateResources(ctx, friendSess, updateEnvelope("r-0", "Coin", 100))
	require.NoError(t, err)

	sender, _, senderID := loggedInSession(t, d, uuid.New())

	resp, err := d.handleSendGift(ctx, sender, giftEnvelope("r-1", friendID, "Coin", 25))
	require.NoError(t, err)
	require.NotNil(t, resp.Success)
	assert.True(t, *resp.Success)
	require.NotNil(t, resp.SendGiftResult)
	assert.Equal(t, "gift sent! your friend is online", resp.SendGiftResult.Message)
	assert.Equal(t, float64(125), store.balance(friendID, protocol.ResourceCoin))

	// Exactly one GiftEvent push lands on the friend's transport.
	var pushes []*protocol.Envelope
	for _, env := range friendTransport.responses(t) {
		if env.Event == protocol.EventGiftEvent {
			pushes = append(pushes, env)
		}
	}
	require.Len(t, pushes, 1)
	push := pushes[0]
	assert.Empty(t, push.RequestID, "pushes carry no correlation id")
	require.NotNil(t, push.GiftEvent)
	assert.Equal(t, senderID, push.GiftEvent.FromPlayerID)
	assert.Equal(t, "Coin", push.GiftEvent.ResourceType)
	assert.Equal(t, float64(25), push.GiftEvent.ResourceValue)
	assert.Equal(t, float64(100), push.GiftEvent.PreviousResourceBalance)
	assert.Equal(t, float64(125), push.GiftEvent.CurrentResourceBalance)
}

func TestSendGiftToOfflineFriend(t *testing.T) {
	d, store := newTestDispatcher(t)
	ctx := context.Background()

	friendSess, friendTransport, friendID := loggedInSession(t, d, uuid.New())
	_, err := d.handleUpdateResources(ctx, friendSess, updateEnvelope("r-0", "Roll", 3))
	require.NoError(t, err)
	d.registry.Deregister(friendSess.ID())

	sender, _, _ := loggedInSession(t, d, uuid.New())

	before := len(friendTransport.responses(t))
	resp, err := d.handleSendGift(ctx, sender, giftEnvelope("r-1", friendID, "Roll", 2))
	require.NoError(t, err)
	require.NotNil(t, resp.Success)
	assert.True(t, *resp.Success)
	assert.Equal(t, "gift sent! your friend is offline", resp.SendGiftResult.Message)

	// The stored balance is credited even though no push was delivered.
	assert.Equal(t, float64(5), store.balance(friendID, protocol.ResourceRoll))
	assert.Len(t, friendTransport.responses(t), before, "no push for an offline recipient")
}

func TestSendGiftPushFailureDoesNotFailSender(t *testing.T) {
	d, store := newTestDispatcher(t)
	ctx := context.Background()

	_, friendTransport, friendID := loggedInSession(t, d, uuid.New())
	// Break the friend's transport without deregistering; the push write will
	// fail while the store credit still applies.
	_ = friendTransport.Close("")

	sender, _, _ := loggedInSession(t, d, uuid.New())
	resp, err := d.handleSendGift(ctx, sender, giftEnvelope("r-1", friendID, "Coin", 10))
	require.NoError(t, err)
	require.NotNil(t, resp.Success)
	assert.True(t, *resp.Success)
	assert.Equal(t, float64(10), store.balance(friendID, protocol.ResourceCoin))
}
