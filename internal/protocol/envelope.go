// Package protocol defines the JSON envelope exchanged between the coinroll
// server and its clients: one JSON object per text frame, carrying a request,
// a response, or a server-pushed event.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Event identifies the operation an envelope carries.
type Event string

// Protocol events. Login, UpdateResources, and SendGift are client requests;
// GiftEvent and Message are only ever pushed by the server.
const (
	EventLogin           Event = "Login"
	EventUpdateResources Event = "UpdateResources"
	EventSendGift        Event = "SendGift"
	EventGiftEvent       Event = "GiftEvent"
	EventMessage         Event = "Message"
)

// ParseEvent maps a wire string to an Event.
//
// Postcondition: Returns (event, true) for a recognised value, ("", false) otherwise.
func ParseEvent(s string) (Event, bool) {
	switch Event(s) {
	case EventLogin, EventUpdateResources, EventSendGift, EventGiftEvent, EventMessage:
		return Event(s), true
	}
	return "", false
}

// ResourceType is the closed enumeration of player resource balances.
type ResourceType string

const (
	ResourceCoin ResourceType = "Coin"
	ResourceRoll ResourceType = "Roll"
)

// ParseResourceType maps a wire string to a ResourceType.
//
// Postcondition: Returns (type, true) for "Coin" or "Roll", ("", false) otherwise.
func ParseResourceType(s string) (ResourceType, bool) {
	switch ResourceType(s) {
	case ResourceCoin, ResourceRoll:
		return ResourceType(s), true
	}
	return "", false
}

// LoginRequest is the Login payload.
type LoginRequest struct {
	DeviceID *uuid.UUID `json:"deviceId,omitempty"`
}

// LoginResult is the successful Login response payload.
type LoginResult struct {
	PlayerID int64 `json:"playerId"`
}

// UpdateResourcesRequest is the UpdateResources payload.
type UpdateResourcesRequest struct {
	ResourceType  string   `json:"resourceType,omitempty"`
	ResourceValue *float64 `json:"resourceValue,omitempty"`
}

// UpdateResourcesResult is the successful UpdateResources response payload.
// Balance is re-read from the store after the write, so it reflects the
// store's authoritative state rather than the request input.
type UpdateResourcesResult struct {
	Balance float64 `json:"balance"`
}

// SendGiftRequest is the SendGift payload.
type SendGiftRequest struct {
	FriendPlayerID *int64   `json:"friendPlayerId,omitempty"`
	ResourceType   string   `json:"resourceType,omitempty"`
	ResourceValue  *float64 `json:"resourceValue,omitempty"`
}

// SendGiftResult is the successful SendGift response payload.
type SendGiftResult struct {
	Message string `json:"message,omitempty"`
}

// GiftEvent is pushed to an online recipient when another player gifts them
// a resource.
type GiftEvent struct {
	FromPlayerID            int64   `json:"fromPlayerId"`
	ResourceType            string  `json:"resourceType"`
	ResourceValue           float64 `json:"resourceValue"`
	PreviousResourceBalance float64 `json:"previousResourceBalance"`
	CurrentResourceBalance  float64 `json:"currentResourceBalance"`
}

// Envelope is the wire message structure. RequestID is echoed from request to
// response and omitted on server-pushed envelopes. Success is present only on
// responses and pushes, never on requests. At most one payload field is set.
type Envelope struct {
	RequestID string `json:"requestId,omitempty"`
	Event     Event  `json:"event"`
	Success   *bool  `json:"success,omitempty"`
	Message   string `json:"message,omitempty"`

	Login                 *LoginRequest           `json:"login,omitempty"`
	LoginResult           *LoginResult            `json:"loginResult,omitempty"`
	UpdateResources       *UpdateResourcesRequest `json:"updateResources,omitempty"`
	UpdateResourcesResult *UpdateResourcesResult  `json:"updateResourcesResult,omitempty"`
	SendGift              *SendGiftRequest        `json:"sendGift,omitempty"`
	SendGiftResult        *SendGiftResult         `json:"sendGiftResult,omitempty"`
	GiftEvent             *GiftEvent              `json:"giftEvent,omitempty"`
}

// ErrMalformedEnvelope is returned when a frame cannot be decoded as an Envelope.
var ErrMalformedEnvelope = errors.New("malformed envelope")

// Decode parses a single text frame into an Envelope. Unknown fields are
// ignored per the wire contract.
//
// Precondition: data must be a complete UTF-8 text frame.
// Postcondition: Returns the decoded Envelope, or an error wrapping ErrMalformedEnvelope.
func Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	return &env, nil
}

// Encode serialises an Envelope for the wire. Fields that are not applicable
// are omitted entirely; no null-valued keys are emitted.
//
// Postcondition: Returns a single JSON object as bytes, or a non-nil error.
func Encode(env *Envelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encoding envelope: %w", err)
	}
	return data, nil
}

// Bool returns a pointer to b, for populating Envelope.Success.
func Bool(b bool) *bool { return &b }

// Float returns a pointer to f, for populating optional numeric payload fields.
func Float(f float64) *float64 { return &f }

// Int64 returns a pointer to i, for populating optional id payload fields.
func Int64(i int64) *int64 { return &i }
