// Package turngame implements the turn-based board game adapter. The board
// itself lives on the overlay; the adapter arbitrates turns the same way the
// other games do, with a fixed presentation duration.
package turngame

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/overlayworks/arcade/internal/events"
	"github.com/overlayworks/arcade/internal/models"
	"github.com/overlayworks/arcade/internal/queue"
)

const safetyBuffer = 5 * time.Second

type session struct {
	id           string
	actorID      string
	expectedMove int
	safetyTimer  clockwork.Timer
}

// Adapter is the turn-game adapter.
type Adapter struct {
	completer   queue.Completer
	broadcaster events.Broadcaster
	clock       clockwork.Clock
	randFn      func() float64

	mu      sync.Mutex
	cfg     models.TurnGameConfig
	current *session
}

// NewAdapter creates a turn-game adapter.
func NewAdapter(cfg models.TurnGameConfig, completer queue.Completer, broadcaster events.Broadcaster, clock clockwork.Clock) *Adapter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if broadcaster == nil {
		broadcaster = events.Discard{}
	}
	return &Adapter{
		completer:   completer,
		broadcaster: broadcaster,
		clock:       clock,
		randFn:      rand.Float64,
		cfg:         cfg,
	}
}

func (a *Adapter) Kind() events.GameKind { return events.KindTurnGame }

func (a *Adapter) Fingerprint() queue.Fingerprint {
	a.mu.Lock()
	defer a.mu.Unlock()
	return queue.Fingerprint{ConfigID: a.cfg.ID, OptionCount: len(a.cfg.MoveOptions)}
}

// TimeoutFor returns the fixed presentation duration plus the safety buffer.
func (a *Adapter) TimeoutFor(queue.Item) time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg.PresentationDuration + safetyBuffer
}

// UpdateConfig replaces the live game configuration.
func (a *Adapter) UpdateConfig(cfg models.TurnGameConfig) {
	a.mu.Lock()
	a.cfg = cfg
	a.mu.Unlock()
	log.Info().Str("config_id", cfg.ID).Int("moves", len(cfg.MoveOptions)).Msg("turn-game config updated")
}

func (a *Adapter) Execute(item queue.Item) error {
	a.mu.Lock()
	if a.current != nil {
		live := a.current.id
		a.mu.Unlock()
		if live == item.ID {
			log.Info().Str("session_id", item.ID).Msg("turn-game execute repeated for live session, ignoring")
			return nil
		}
		return fmt.Errorf("%w: turn-game session %s is live", queue.ErrAlreadyRunning, live)
	}

	cfg := a.cfg
	if item.Fingerprint.OptionCount != len(cfg.MoveOptions) ||
		(item.Fingerprint.ConfigID != "" && item.Fingerprint.ConfigID != cfg.ID) {
		a.mu.Unlock()
		return fmt.Errorf("%w: game had %d moves at enqueue, now %d",
			queue.ErrConfigChanged, item.Fingerprint.OptionCount, len(cfg.MoveOptions))
	}
	if len(cfg.MoveOptions) == 0 {
		a.mu.Unlock()
		return fmt.Errorf("turn-game has no move options")
	}

	move := int(a.randFn() * float64(len(cfg.MoveOptions)))
	if move < 0 || move >= len(cfg.MoveOptions) {
		a.mu.Unlock()
		return fmt.Errorf("computed move %d out of bounds for %d options", move, len(cfg.MoveOptions))
	}

	s := &session{id: item.ID, actorID: item.ActorID, expectedMove: move}
	sessionID := s.id
	s.safetyTimer = a.clock.AfterFunc(cfg.PresentationDuration+safetyBuffer, func() {
		a.forceResolve(sessionID)
	})
	a.current = s
	a.mu.Unlock()

	log.Info().
		Str("session_id", s.id).
		Str("actor_id", s.actorID).
		Int("expected_move", move).
		Msg("turn-game move started")

	a.broadcaster.Broadcast(events.New(events.NameStart(events.KindTurnGame), events.StartPayload{
		SessionID:            s.id,
		ActorID:              item.ActorID,
		Nickname:             item.Nickname,
		ExpectedOutcomeIndex: move,
		Options:              cfg.MoveOptions,
		ComputedMotion:       float64(move),
	}))
	return nil
}

// AcknowledgeCompletion resolves the move, overriding a desynced overlay
// report with the server-chosen move.
func (a *Adapter) AcknowledgeCompletion(sessionID string, observedMove int) {
	a.mu.Lock()
	s := a.current
	if s == nil || s.id != sessionID {
		a.mu.Unlock()
		log.Debug().Str("session_id", sessionID).Msg("turn-game ack for unknown session, ignoring")
		return
	}
	s.safetyTimer.Stop()
	a.current = nil
	a.mu.Unlock()

	a.resolve(s, &observedMove)
}

func (a *Adapter) forceResolve(sessionID string) {
	a.mu.Lock()
	s := a.current
	if s == nil || s.id != sessionID {
		a.mu.Unlock()
		return
	}
	a.current = nil
	a.mu.Unlock()

	log.Warn().
		Str("session_id", s.id).
		Str("actor_id", s.actorID).
		Msg("turn-game session force-resolved, overlay never acknowledged")
	a.broadcaster.Broadcast(events.New(events.NameTimeout(events.KindTurnGame), events.TimeoutPayload{
		SessionID: s.id,
		ActorID:   s.actorID,
		Reason:    events.ReasonOverlayNoResponse,
	}))
	a.resolve(s, nil)
}

func (a *Adapter) resolve(s *session, observed *int) {
	mismatch := observed != nil && *observed != s.expectedMove
	if mismatch {
		log.Warn().
			Str("session_id", s.id).
			Int("expected", s.expectedMove).
			Int("observed", *observed).
			Msg("turn-game outcome desync, overriding with server move")
	}

	a.broadcaster.Broadcast(events.New(events.NameResult(events.KindTurnGame), events.ResultPayload{
		SessionID:            s.id,
		OutcomeIndex:         s.expectedMove,
		ExpectedOutcomeIndex: s.expectedMove,
		ObservedOutcomeIndex: observed,
		SyncMismatch:         mismatch,
	}))

	if a.completer != nil {
		a.completer.CompleteCurrent()
	}
}
