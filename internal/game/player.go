// Package game implements the message dispatcher and the event handlers that
// mutate player resource balances through the Player Store.
package game

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/knielsen81/coinroll/internal/protocol"
)

// Player is the durable record owned by the Player Store. The session layer
// reads and writes it only through the store API and never caches it beyond a
// single handler invocation.
type Player struct {
	// ID is the store-assigned unique player identifier.
	ID int64
	// DeviceID is the caller-supplied identifier correlating reconnects to
	// the same logical player. Unique across players.
	DeviceID uuid.UUID
	// IsOnline tracks whether the player currently has a live session.
	IsOnline bool
	// Resources maps each resource type to its non-negative balance.
	Resources map[protocol.ResourceType]float64
	// RegisteredAt is when the player record was first created.
	RegisteredAt time.Time
	// UpdatedAt is when the record was last written.
	UpdatedAt time.Time
}

// Balance returns the player's balance for the given resource type, or zero
// if no balance entry exists.
func (p *Player) Balance(rt protocol.ResourceType) float64 {
	if p.Resources == nil {
		return 0
	}
	return p.Resources[rt]
}

// String renders the player for log lines.
func (p *Player) String() string {
	return fmt.Sprintf("[id=%d device=%s]", p.ID, p.DeviceID)
}
