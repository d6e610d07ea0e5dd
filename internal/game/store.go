package game

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/knielsen81/coinroll/internal/protocol"
)

// ErrPlayerNotFound is returned when a player lookup yields no results.
var ErrPlayerNotFound = errors.New("player not found")

// PlayerStore is the external persistence collaborator owning player and
// resource records. Each call is atomic from the dispatcher's perspective;
// the store serialises concurrent per-player balance writes (conditional
// update or single-writer-per-row).
type PlayerStore interface {
	// RegisterOrGet creates a player for a previously-unseen device id, or
	// returns the existing one. Never yields two players for one device id.
	RegisterOrGet(ctx context.Context, deviceID uuid.UUID) (*Player, error)
	// GetPlayer retrieves a player with balances by id, or ErrPlayerNotFound.
	GetPlayer(ctx context.Context, playerID int64) (*Player, error)
	// GetPlayerByDevice retrieves a player with balances by device id, or
	// ErrPlayerNotFound.
	GetPlayerByDevice(ctx context.Context, deviceID uuid.UUID) (*Player, error)
	// SetResource overwrites the player's balance for the resource type,
	// creating the balance entry if absent.
	SetResource(ctx context.Context, playerID int64, resourceType protocol.ResourceType, value float64) error
	// SetOnlineStatus records whether the player has a live session.
	SetOnlineStatus(ctx context.Context, playerID int64, online bool) error
}
