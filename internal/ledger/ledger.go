// Package ledger records coin movements: wheel prizes, ball-drop payouts,
// and compensating refunds. Entries are append-only; balance math belongs to
// whatever reads the table, not to this service.
package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// EntryKind classifies a ledger entry.
type EntryKind string

const (
	EntryPrize  EntryKind = "prize"
	EntryPayout EntryKind = "payout"
	EntryRefund EntryKind = "refund"
)

// Repository writes ledger entries to Postgres.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a ledger repository on the given pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const insertEntryQuery = `
INSERT INTO ledger_entries (id, actor_id, kind, amount, reason, created_at)
VALUES ($1, $2, $3, $4, $5, now())`

func (r *Repository) insert(ctx context.Context, actorID string, kind EntryKind, amount int64, reason string) error {
	if amount <= 0 {
		return fmt.Errorf("ledger %s amount must be positive, got %d", kind, amount)
	}
	_, err := r.pool.Exec(ctx, insertEntryQuery, uuid.New(), actorID, string(kind), amount, reason)
	if err != nil {
		return fmt.Errorf("insert %s entry: %w", kind, err)
	}
	log.Info().
		Str("actor_id", actorID).
		Str("kind", string(kind)).
		Int64("amount", amount).
		Str("reason", reason).
		Msg("ledger entry recorded")
	return nil
}

// GrantPrize records a wheel prize for the actor.
func (r *Repository) GrantPrize(ctx context.Context, actorID string, amount int64, reason string) error {
	return r.insert(ctx, actorID, EntryPrize, amount, reason)
}

// Payout records a ball-drop payout for the actor.
func (r *Repository) Payout(ctx context.Context, actorID string, amount int64, reason string) error {
	return r.insert(ctx, actorID, EntryPayout, amount, reason)
}

// Refund records a compensating refund, e.g. for a stale ball.
func (r *Repository) Refund(ctx context.Context, actorID string, amount int64, reason string) error {
	return r.insert(ctx, actorID, EntryRefund, amount, reason)
}
