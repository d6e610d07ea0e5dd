package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/knielsen81/coinroll/internal/game"
	"github.com/knielsen81/coinroll/internal/protocol"
)

// PlayerRepository provides player and resource persistence. It implements
// game.PlayerStore. Balance writes use single-statement upserts, so
// concurrent updates to the same player row serialise inside PostgreSQL.
type PlayerRepository struct {
	db *pgxpool.Pool
}

// NewPlayerRepository creates a PlayerRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewPlayerRepository(db *pgxpool.Pool) *PlayerRepository {
	return &PlayerRepository{db: db}
}

// RegisterOrGet creates a player for the device id if none exists, or returns
// the existing one. The upsert guarantees a single player per device id even
// under concurrent registration.
//
// Precondition: deviceID must not be the nil UUID.
// Postcondition: Returns the player with balances loaded.
func (r *PlayerRepository) RegisterOrGet(ctx context.Context, deviceID uuid.UUID) (*game.Player, error) {
	var p game.Player
	// The no-op DO UPDATE makes RETURNING yield the row on conflict as well.
	err := r.db.QueryRow(ctx, `
		INSERT INTO players (device_id, is_online)
		VALUES ($1, FALSE)
		ON CONFLICT (device_id) DO UPDATE SET device_id = EXCLUDED.device_id
		RETURNING id, device_id, is_online, registered_at, updated_at`,
		deviceID,
	).Scan(&p.ID, &p.DeviceID, &p.IsOnline, &p.RegisteredAt, &p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("upserting player for device %s: %w", deviceID, err)
	}

	if err := r.loadResources(ctx, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetPlayer retrieves a player with balances by id.
//
// Precondition: playerID must be > 0.
// Postcondition: Returns the player, or game.ErrPlayerNotFound.
func (r *PlayerRepository) GetPlayer(ctx context.Context, playerID int64) (*game.Player, error) {
	var p game.Player
	err := r.db.QueryRow(ctx, `
		SELECT id, device_id, is_online, registered_at, updated_at
		FROM players WHERE id = $1`,
		playerID,
	).Scan(&p.ID, &p.DeviceID, &p.IsOnline, &p.RegisteredAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, game.ErrPlayerNotFound
		}
		return nil, fmt.Errorf("querying player %d: %w", playerID, err)
	}

	if err := r.loadResources(ctx, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetPlayerByDevice retrieves a player with balances by device id.
//
// Precondition: deviceID must not be the nil UUID.
// Postcondition: Returns the player, or game.ErrPlayerNotFound.
func (r *PlayerRepository) GetPlayerByDevice(ctx context.Context, deviceID uuid.UUID) (*game.Player, error) {
	var p game.Player
	err := r.db.QueryRow(ctx, `
		SELECT id, device_id, is_online, registered_at, updated_at
		FROM players WHERE device_id = $1`,
		deviceID,
	).Scan(&p.ID, &p.DeviceID, &p.IsOnline, &p.RegisteredAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, game.ErrPlayerNotFound
		}
		return nil, fmt.Errorf("querying player by device %s: %w", deviceID, err)
	}

	if err := r.loadResources(ctx, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// SetResource overwrites the player's balance for the resource type, creating
// the balance row if absent. The upsert is atomic per (player, resource) row.
//
// Precondition: playerID must reference an existing player; value must be >= 0.
// Postcondition: The stored balance equals value, or game.ErrPlayerNotFound.
func (r *PlayerRepository) SetResource(ctx context.Context, playerID int64, resourceType protocol.ResourceType, value float64) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO resources (player_id, resource_type, resource_value)
		VALUES ($1, $2, $3)
		ON CONFLICT (player_id, resource_type)
		DO UPDATE SET resource_value = EXCLUDED.resource_value`,
		playerID, string(resourceType), value,
	)
	if err != nil {
		if isForeignKeyError(err) {
			return game.ErrPlayerNotFound
		}
		return fmt.Errorf("upserting resource for player %d: %w", playerID, err)
	}
	return nil
}

// SetOnlineStatus records whether the player has a live session.
//
// Postcondition: The player's is_online flag equals online, or
// game.ErrPlayerNotFound is returned.
func (r *PlayerRepository) SetOnlineStatus(ctx context.Context, playerID int64, online bool) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE players SET is_online = $1, updated_at = NOW() WHERE id = $2`,
		online, playerID,
	)
	if err != nil {
		return fmt.Errorf("updating online status for player %d: %w", playerID, err)
	}
	if tag.RowsAffected() == 0 {
		return game.ErrPlayerNotFound
	}
	return nil
}

// loadResources fills p.Resources from the resources table.
func (r *PlayerRepository) loadResources(ctx context.Context, p *game.Player) error {
	rows, err := r.db.Query(ctx, `
		SELECT resource_type, resource_value
		FROM resources WHERE player_id = $1`,
		p.ID,
	)
	if err != nil {
		return fmt.Errorf("querying resources for player %d: %w", p.ID, err)
	}
	defer rows.Close()

	p.Resources = make(map[protocol.ResourceType]float64)
	for rows.Next() {
		var rt string
		var value float64
		if err := rows.Scan(&rt, &value); err != nil {
			return fmt.Errorf("scanning resource row: %w", err)
		}
		p.Resources[protocol.ResourceType(rt)] = value
	}
	return rows.Err()
}

// isForeignKeyError checks if a pgx error is a foreign key violation.
func isForeignKeyError(err error) bool {
	// pgx wraps PostgreSQL errors; check for SQLSTATE 23503 (foreign_key_violation)
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23503"
	}
	return false
}
