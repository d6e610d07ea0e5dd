// Package client implements the interactive console client for the coinroll
// server: a command parser and a read/print loop over one WebSocket
// connection.
package client

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/knielsen81/coinroll/internal/protocol"
)

// ErrUnknownCommand is returned for input that is not a recognised command.
var ErrUnknownCommand = errors.New("unknown command")

// Usage lists the commands the console accepts.
const Usage = `available commands:
  login <device-uuid>
  update <coin|roll> <amount>
  gift <friend-id> <coin|roll> <amount>
  help
  exit`

// ParseCommand turns one console line into a request envelope with a fresh
// request id. It is a pure function over its input apart from id generation.
//
// Postcondition: Returns a request envelope, or an error describing the
// malformed input (wrapping ErrUnknownCommand for unrecognised commands).
func ParseCommand(line string) (*protocol.Envelope, error) {
	fields := strings.Fields(strings.TrimSpace(line))
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrUnknownCommand)
	}

	switch strings.ToLower(fields[0]) {
	case "login":
		return parseLogin(fields)
	case "update":
		return parseUpdate(fields)
	case "gift":
		return parseGift(fields)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, fields[0])
	}
}

func parseLogin(fields []string) (*protocol.Envelope, error) {
	if len(fields) != 2 {
		return nil, errors.New("usage: login <device-uuid>")
	}
	deviceID, err := uuid.Parse(fields[1])
	if err != nil {
		return nil, fmt.Errorf("invalid device uuid %q: %w", fields[1], err)
	}
	return &protocol.Envelope{
		RequestID: uuid.NewString(),
		Event:     protocol.EventLogin,
		Login:     &protocol.LoginRequest{DeviceID: &deviceID},
	}, nil
}

func parseUpdate(fields []string) (*protocol.Envelope, error) {
	if len(fields) != 3 {
		return nil, errors.New("usage: update <coin|roll> <amount>")
	}
	rt, ok := parseResource(fields[1])
	if !ok {
		return nil, fmt.Errorf("unknown resource %q: expected coin or roll", fields[1])
	}
	amount, err := strconv.ParseFloat(fields[2], 64)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", fields[2], err)
	}
	return &protocol.Envelope{
		RequestID: uuid.NewString(),
		Event:     protocol.EventUpdateResources,
		UpdateResources: &protocol.UpdateResourcesRequest{
			ResourceType:  string(rt),
			ResourceValue: protocol.Float(amount),
		},
	}, nil
}

func parseGift(fields []string) (*protocol.Envelope, error) {
	if len(fields) != 4 {
		return nil, errors.New("usage: gift <friend-id> <coin|roll> <amount>")
	}
	friendID, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid friend id %q: %w", fields[1], err)
	}
	rt, ok := parseResource(fields[2])
	if !ok {
		return nil, fmt.Errorf("unknown resource %q: expected coin or roll", fields[2])
	}
	amount, err := strconv.ParseFloat(fields[3], 64)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", fields[3], err)
	}
	return &protocol.Envelope{
		RequestID: uuid.NewString(),
		Event:     protocol.EventSendGift,
		SendGift: &protocol.SendGiftRequest{
			FriendPlayerID: protocol.Int64(friendID),
			ResourceType:   string(rt),
			ResourceValue:  protocol.Float(amount),
		},
	}, nil
}

// parseResource accepts resource names case-insensitively ("coin", "Roll").
func parseResource(s string) (protocol.ResourceType, bool) {
	switch strings.ToLower(s) {
	case "coin":
		return protocol.ResourceCoin, true
	case "roll":
		return protocol.ResourceRoll, true
	}
	return "", false
}
