package main

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"

	"github.com/overlayworks/arcade/internal/events"
	"github.com/overlayworks/arcade/internal/games/balldrop"
	"github.com/overlayworks/arcade/internal/games/turngame"
	"github.com/overlayworks/arcade/internal/games/wheel"
	"github.com/overlayworks/arcade/internal/ledger"
	"github.com/overlayworks/arcade/internal/queue"
	"github.com/overlayworks/arcade/internal/store"
)

// Adapters bundles the game adapters and the ball tracker so main can
// register them with the queue and the gateway.
type Adapters struct {
	Wheel    *wheel.Adapter
	BallDrop *balldrop.Adapter
	TurnGame *turngame.Adapter
	Tracker  *balldrop.Tracker
}

// setupAdapters loads the active config for each game from Postgres and
// builds the adapters. The service refuses to start without configs; an
// unconfigured game on a live overlay is worse than a crash loop.
func setupAdapters(
	ctx context.Context,
	repo *store.Repository,
	entries *ledger.Repository,
	tracker *balldrop.Tracker,
	q *queue.Queue,
	broadcaster events.Broadcaster,
	clock clockwork.Clock,
) (*Adapters, error) {
	wheelCfg, err := repo.WheelConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load wheel config: %w", err)
	}
	ballCfg, err := repo.BallDropConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load ball-drop config: %w", err)
	}
	turnCfg, err := repo.TurnGameConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load turn-game config: %w", err)
	}

	a := &Adapters{
		Wheel:    wheel.NewAdapter(wheelCfg, q, broadcaster, entries, clock),
		BallDrop: balldrop.NewAdapter(ballCfg, tracker, q, broadcaster, entries, clock),
		TurnGame: turngame.NewAdapter(turnCfg, q, broadcaster, clock),
		Tracker:  tracker,
	}

	q.Register(a.Wheel)
	q.Register(a.BallDrop)
	q.Register(a.TurnGame)

	return a, nil
}

// reloadHandler returns the config-change callback for the Postgres
// listener. Reloading an adapter config bumps its fingerprint, which makes
// queued requests captured against the old config fail staleness validation.
func (a *Adapters) reloadHandler(repo *store.Repository) store.ChangeHandler {
	return func(ctx context.Context, kind events.GameKind) error {
		reloadAll := kind == ""

		if reloadAll || kind == events.KindWheel {
			cfg, err := repo.WheelConfig(ctx)
			if err != nil {
				return fmt.Errorf("reload wheel config: %w", err)
			}
			a.Wheel.UpdateConfig(cfg)
		}
		if reloadAll || kind == events.KindBallDrop {
			cfg, err := repo.BallDropConfig(ctx)
			if err != nil {
				return fmt.Errorf("reload ball-drop config: %w", err)
			}
			a.BallDrop.UpdateConfig(cfg)
		}
		if reloadAll || kind == events.KindTurnGame {
			cfg, err := repo.TurnGameConfig(ctx)
			if err != nil {
				return fmt.Errorf("reload turn-game config: %w", err)
			}
			a.TurnGame.UpdateConfig(cfg)
		}
		return nil
	}
}
