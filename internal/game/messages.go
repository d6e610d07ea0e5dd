package game

import "fmt"

// Human-readable response messages. Clients display these verbatim, so the
// strings are part of the protocol surface.
const (
	MsgInvalidRequest  = "invalid request"
	MsgUnknownEvent    = "unknown event"
	MsgLoginRequired   = "login required"
	MsgForcedSignOut   = "forced sign-out due to reconnect"
	MsgSelfGift        = "nice try! you can't gift yourself"
	MsgAlreadyLoggedIn = "already logged in"
)

// MsgInvalidRequestReason annotates an invalid-request failure with a detail.
func MsgInvalidRequestReason(reason string) string {
	return fmt.Sprintf("%s (%s)", MsgInvalidRequest, reason)
}

// MsgPlayerNotFound names the missing player in a failed gift.
func MsgPlayerNotFound(playerID int64) string {
	return fmt.Sprintf("player(id=%d) does not exist", playerID)
}

// MsgGiftSent confirms a delivered gift, noting recipient presence.
func MsgGiftSent(online bool) string {
	presence := "offline"
	if online {
		presence = "online"
	}
	return fmt.Sprintf("gift sent! your friend is %s", presence)
}

// MsgServerError wraps an unexpected handler failure for the caller.
func MsgServerError(err error) string {
	return fmt.Sprintf("server error (%s)", err)
}
