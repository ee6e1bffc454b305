// Package balldrop implements the physics ball-drop game adapter. The
// overlay simulates the fall; the adapter owns the target slot, the
// single-flight session, the anti-cheat landing checks, and stale-ball
// cleanup.
package balldrop

import (
	"context"
	"errors"
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

// Ledger settles ball-drop stakes: payouts for resolved landings, refunds
// for abandoned balls.
type Ledger interface {
	Payout(ctx context.Context, actorID string, amount int64, reason string) error
	Refund(ctx context.Context, actorID string, amount int64, reason string) error
}

type session struct {
	id           string
	actorID      string
	nickname     string
	ballID       string
	stake        int64
	expectedSlot int
	multipliers  []float64
	safetyTimer  clockwork.Timer
}

// Adapter is the ball-drop game adapter.
type Adapter struct {
	completer   queue.Completer
	broadcaster events.Broadcaster
	ledger      Ledger
	clock       clockwork.Clock
	tracker     *Tracker
	randFn      func() float64

	mu      sync.Mutex
	cfg     models.BallDropConfig
	current *session
}

// NewAdapter creates a ball-drop adapter sharing the given tracker.
func NewAdapter(cfg models.BallDropConfig, tracker *Tracker, completer queue.Completer, broadcaster events.Broadcaster, ledger Ledger, clock clockwork.Clock) *Adapter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if broadcaster == nil {
		broadcaster = events.Discard{}
	}
	return &Adapter{
		completer:   completer,
		broadcaster: broadcaster,
		ledger:      ledger,
		clock:       clock,
		tracker:     tracker,
		randFn:      rand.Float64,
		cfg:         cfg,
	}
}

func (a *Adapter) Kind() events.GameKind { return events.KindBallDrop }

func (a *Adapter) Fingerprint() queue.Fingerprint {
	a.mu.Lock()
	defer a.mu.Unlock()
	return queue.Fingerprint{ConfigID: a.cfg.ID, OptionCount: a.cfg.SlotCount()}
}

func (a *Adapter) TimeoutFor(queue.Item) time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg.DropDuration + safetyBuffer
}

// UpdateConfig replaces the live board configuration.
func (a *Adapter) UpdateConfig(cfg models.BallDropConfig) {
	a.mu.Lock()
	a.cfg = cfg
	a.mu.Unlock()
	log.Info().Str("config_id", cfg.ID).Int("slots", cfg.SlotCount()).Msg("ball-drop config updated")
}

// Execute validates the item, records the spawned ball, and announces the
// drop with its server-chosen target slot.
func (a *Adapter) Execute(item queue.Item) error {
	a.mu.Lock()
	if a.current != nil {
		live := a.current.id
		a.mu.Unlock()
		if live == item.ID {
			log.Info().Str("session_id", item.ID).Msg("ball-drop execute repeated for live session, ignoring")
			return nil
		}
		return fmt.Errorf("%w: ball-drop session %s is live", queue.ErrAlreadyRunning, live)
	}

	cfg := a.cfg
	if item.Fingerprint.OptionCount != cfg.SlotCount() ||
		(item.Fingerprint.ConfigID != "" && item.Fingerprint.ConfigID != cfg.ID) {
		a.mu.Unlock()
		return fmt.Errorf("%w: board had %d slots at enqueue, now %d",
			queue.ErrConfigChanged, item.Fingerprint.OptionCount, cfg.SlotCount())
	}
	if cfg.SlotCount() == 0 {
		a.mu.Unlock()
		return fmt.Errorf("ball-drop board has no slots")
	}

	slot := int(a.randFn() * float64(cfg.SlotCount()))
	if slot < 0 || slot >= cfg.SlotCount() {
		a.mu.Unlock()
		return fmt.Errorf("computed slot %d out of bounds for %d slots", slot, cfg.SlotCount())
	}

	ballID := a.tracker.RecordSpawn(item.ActorID, item.Nickname, item.Stake, false)
	s := &session{
		id:           item.ID,
		actorID:      item.ActorID,
		nickname:     item.Nickname,
		ballID:       ballID,
		stake:        item.Stake,
		expectedSlot: slot,
		multipliers:  cfg.SlotMultipliers,
	}
	sessionID := s.id
	s.safetyTimer = a.clock.AfterFunc(cfg.DropDuration+safetyBuffer, func() {
		a.forceResolve(sessionID)
	})
	a.current = s
	a.mu.Unlock()

	log.Info().
		Str("session_id", s.id).
		Str("ball_id", ballID).
		Str("actor_id", s.actorID).
		Int("expected_slot", slot).
		Msg("ball drop started")

	a.broadcaster.Broadcast(events.New(events.NameStart(events.KindBallDrop), events.StartPayload{
		SessionID:            s.id,
		ActorID:              item.ActorID,
		Nickname:             item.Nickname,
		ExpectedOutcomeIndex: slot,
		Options:              slotLabels(cfg.SlotMultipliers),
		ComputedMotion:       dropPosition(slot, cfg.SlotCount()),
	}))
	return nil
}

// AcknowledgeCompletion handles the overlay's landing report. The landing
// passes the anti-cheat check first; a rejected claim leaves the session
// live until a valid report or the safety timer.
func (a *Adapter) AcknowledgeCompletion(sessionID string, observedSlot int) {
	a.mu.Lock()
	s := a.current
	if s == nil || s.id != sessionID {
		a.mu.Unlock()
		log.Debug().Str("session_id", sessionID).Msg("ball-drop ack for unknown session, ignoring")
		return
	}
	a.mu.Unlock()

	if _, err := a.tracker.RecordLanding(s.ballID); err != nil {
		if errors.Is(err, ErrUnknownBall) {
			// The safety timer settled the ball while this report was in
			// flight; resolution already happened.
			log.Debug().Str("session_id", sessionID).Msg("ball already settled, ignoring landing report")
			return
		}
		log.Warn().Err(err).Str("session_id", sessionID).Msg("ball-drop landing rejected")
		a.broadcaster.Broadcast(events.New(events.NameError(events.KindBallDrop), events.ErrorPayload{
			ActorID: s.actorID,
			Error:   err.Error(),
		}))
		return
	}

	a.mu.Lock()
	if a.current != s {
		// Safety timer won the race while the landing was being checked.
		a.mu.Unlock()
		return
	}
	s.safetyTimer.Stop()
	a.current = nil
	a.mu.Unlock()

	a.resolve(s, &observedSlot)
}

// forceResolve settles a session the overlay never reported. The ball record
// is removed without the flight-time check; the abandoned-ball path is
// handled by the tracker sweep only when no session owns the ball anymore.
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
		Msg("ball-drop session force-resolved, overlay never acknowledged")
	a.broadcaster.Broadcast(events.New(events.NameTimeout(events.KindBallDrop), events.TimeoutPayload{
		SessionID: s.id,
		ActorID:   s.actorID,
		Reason:    events.ReasonOverlayNoResponse,
	}))

	// Settle the record so the sweep does not refund a resolved ball.
	if _, err := a.tracker.RecordLanding(s.ballID); err != nil {
		log.Debug().Err(err).Str("ball_id", s.ballID).Msg("ball already settled")
	}
	a.resolve(s, nil)
}

func (a *Adapter) resolve(s *session, observed *int) {
	outcome := s.expectedSlot
	mismatch := observed != nil && *observed != s.expectedSlot
	if mismatch {
		log.Warn().
			Str("session_id", s.id).
			Int("expected", s.expectedSlot).
			Int("observed", *observed).
			Msg("ball-drop outcome desync, overriding with server slot")
	}

	a.broadcaster.Broadcast(events.New(events.NameResult(events.KindBallDrop), events.ResultPayload{
		SessionID:            s.id,
		OutcomeIndex:         outcome,
		ExpectedOutcomeIndex: s.expectedSlot,
		ObservedOutcomeIndex: observed,
		SyncMismatch:         mismatch,
	}))

	payout := int64(float64(s.stake) * s.multipliers[outcome])
	if payout > 0 && a.ledger != nil {
		reason := fmt.Sprintf("ball landed in slot %d (x%.2f)", outcome, s.multipliers[outcome])
		if err := a.ledger.Payout(context.Background(), s.actorID, payout, reason); err != nil {
			log.Error().Err(err).Str("session_id", s.id).Msg("ball-drop payout failed")
		}
	}

	if a.completer != nil {
		a.completer.CompleteCurrent()
	}
}

func slotLabels(multipliers []float64) []string {
	labels := make([]string, len(multipliers))
	for i, m := range multipliers {
		labels[i] = fmt.Sprintf("x%.2f", m)
	}
	return labels
}

// dropPosition maps a slot index to the horizontal release position in
// [0, 1), so the overlay's simulation arrives at the chosen slot.
func dropPosition(slot, count int) float64 {
	return (float64(slot) + 0.5) / float64(count)
}
