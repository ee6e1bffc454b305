// Package store reads live game configurations from Postgres and watches
// for configuration changes. Configuration is always pulled; the only push
// is the change notification that tells the service to pull again.
package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/overlayworks/arcade/internal/events"
	"github.com/overlayworks/arcade/internal/models"
)

// Repository serves live game configurations from the game_configs table.
// One active row per game kind; data is the JSON config document.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a config repository on the given pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const activeConfigQuery = `
SELECT data FROM game_configs
WHERE kind = $1 AND active
ORDER BY updated_at DESC
LIMIT 1`

func (r *Repository) activeConfig(ctx context.Context, kind events.GameKind, out any) error {
	var data []byte
	if err := r.pool.QueryRow(ctx, activeConfigQuery, string(kind)).Scan(&data); err != nil {
		return fmt.Errorf("fetch %s config: %w", kind, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse %s config: %w", kind, err)
	}
	return nil
}

// WheelConfig returns the active wheel configuration.
func (r *Repository) WheelConfig(ctx context.Context) (models.WheelConfig, error) {
	var cfg models.WheelConfig
	err := r.activeConfig(ctx, events.KindWheel, &cfg)
	return cfg, err
}

// BallDropConfig returns the active ball-drop configuration.
func (r *Repository) BallDropConfig(ctx context.Context) (models.BallDropConfig, error) {
	var cfg models.BallDropConfig
	err := r.activeConfig(ctx, events.KindBallDrop, &cfg)
	return cfg, err
}

// TurnGameConfig returns the active turn-game configuration.
func (r *Repository) TurnGameConfig(ctx context.Context) (models.TurnGameConfig, error) {
	var cfg models.TurnGameConfig
	err := r.activeConfig(ctx, events.KindTurnGame, &cfg)
	return cfg, err
}
