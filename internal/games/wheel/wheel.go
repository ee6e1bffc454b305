// Package wheel implements the prize-wheel game adapter. The adapter owns
// arbitration only: outcome selection, the single-flight session, staleness
// validation, and the safety timeout. The spin itself is rendered by the
// overlay.
package wheel

import (
	"context"
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

// safetyBuffer is added on top of the presentation duration before a session
// is force-resolved.
const safetyBuffer = 5 * time.Second

// Ledger grants wheel prizes. Rewards are granted for the resolved outcome
// only, never for an unconfirmed overlay report.
type Ledger interface {
	GrantPrize(ctx context.Context, actorID string, amount int64, reason string) error
}

// session is one live spin. At most one session exists per adapter; the
// adapter enforces this itself rather than trusting the queue's serialization.
type session struct {
	id            string
	actorID       string
	expectedIndex int
	segments      []models.WheelSegment
	startedAt     time.Time
	safetyTimer   clockwork.Timer
}

// Adapter is the wheel game adapter.
type Adapter struct {
	completer   queue.Completer
	broadcaster events.Broadcaster
	ledger      Ledger
	clock       clockwork.Clock
	randFn      func() float64

	mu      sync.Mutex
	cfg     models.WheelConfig
	current *session
}

// NewAdapter creates a wheel adapter with the given live configuration.
func NewAdapter(cfg models.WheelConfig, completer queue.Completer, broadcaster events.Broadcaster, ledger Ledger, clock clockwork.Clock) *Adapter {
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
		randFn:      rand.Float64,
		cfg:         cfg,
	}
}

func (a *Adapter) Kind() events.GameKind { return events.KindWheel }

// Fingerprint snapshots the live configuration for staleness checks.
func (a *Adapter) Fingerprint() queue.Fingerprint {
	a.mu.Lock()
	defer a.mu.Unlock()
	return queue.Fingerprint{ConfigID: a.cfg.ID, OptionCount: len(a.cfg.Segments)}
}

// TimeoutFor computes the queue-level timeout: spin plus winner display plus
// the optional info screen plus a fixed safety buffer.
func (a *Adapter) TimeoutFor(queue.Item) time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.presentationDurationLocked() + safetyBuffer
}

func (a *Adapter) presentationDurationLocked() time.Duration {
	d := a.cfg.SpinDuration + a.cfg.WinnerDisplayDuration
	if a.cfg.InfoScreenEnabled {
		d += a.cfg.InfoScreenDuration
	}
	return d
}

// UpdateConfig replaces the live configuration. Executing sessions keep the
// snapshot they captured at enqueue time and fail validation on dispatch.
func (a *Adapter) UpdateConfig(cfg models.WheelConfig) {
	a.mu.Lock()
	a.cfg = cfg
	a.mu.Unlock()
	log.Info().Str("config_id", cfg.ID).Int("segments", len(cfg.Segments)).Msg("wheel config updated")
}

// Execute validates the item and starts a spin session. The session id is
// the item id, so a re-entrant call for the same item is idempotent.
func (a *Adapter) Execute(item queue.Item) error {
	a.mu.Lock()
	if a.current != nil {
		live := a.current.id
		a.mu.Unlock()
		if live == item.ID {
			log.Info().Str("session_id", item.ID).Msg("wheel execute repeated for live session, ignoring")
			return nil
		}
		return fmt.Errorf("%w: wheel session %s is live", queue.ErrAlreadyRunning, live)
	}

	cfg := a.cfg
	if item.Fingerprint.OptionCount != len(cfg.Segments) ||
		(item.Fingerprint.ConfigID != "" && item.Fingerprint.ConfigID != cfg.ID) {
		a.mu.Unlock()
		return fmt.Errorf("%w: wheel had %d segments at enqueue, now %d",
			queue.ErrConfigChanged, item.Fingerprint.OptionCount, len(cfg.Segments))
	}

	index, err := pickIndex(cfg.Segments, a.randFn)
	if err != nil {
		a.mu.Unlock()
		return err
	}
	// The overlay trusts our index blindly, so an out-of-bounds value must
	// be caught here rather than at acknowledgment time.
	if index < 0 || index >= len(cfg.Segments) {
		a.mu.Unlock()
		return fmt.Errorf("computed outcome index %d out of bounds for %d segments", index, len(cfg.Segments))
	}

	s := &session{
		id:            item.ID,
		actorID:       item.ActorID,
		expectedIndex: index,
		segments:      cfg.Segments,
		startedAt:     a.clock.Now(),
	}
	sessionID := s.id
	s.safetyTimer = a.clock.AfterFunc(a.presentationDurationLocked()+safetyBuffer, func() {
		a.forceResolve(sessionID)
	})
	a.current = s
	a.mu.Unlock()

	motion := spinDegrees(index, len(cfg.Segments))
	log.Info().
		Str("session_id", s.id).
		Str("actor_id", s.actorID).
		Int("expected_index", index).
		Float64("motion", motion).
		Msg("wheel spin started")

	a.broadcaster.Broadcast(events.New(events.NameStart(events.KindWheel), events.StartPayload{
		SessionID:            s.id,
		ActorID:              item.ActorID,
		Nickname:             item.Nickname,
		ExpectedOutcomeIndex: index,
		Options:              cfg.OptionLabels(),
		ComputedMotion:       motion,
	}))
	return nil
}

// AcknowledgeCompletion handles the overlay's self-reported landing. The
// adapter-computed outcome is authoritative: a disagreeing report is
// overridden and flagged. Duplicate acknowledgments are no-ops because the
// session is destroyed on first resolution.
func (a *Adapter) AcknowledgeCompletion(sessionID string, observedIndex int) {
	a.mu.Lock()
	s := a.current
	if s == nil || s.id != sessionID {
		a.mu.Unlock()
		log.Debug().Str("session_id", sessionID).Msg("wheel ack for unknown session, ignoring")
		return
	}
	s.safetyTimer.Stop()
	a.current = nil
	a.mu.Unlock()

	a.resolve(s, &observedIndex)
}

// forceResolve ends a session the overlay never acknowledged, using the
// adapter-computed outcome.
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
		Msg("wheel session force-resolved, overlay never acknowledged")
	a.broadcaster.Broadcast(events.New(events.NameTimeout(events.KindWheel), events.TimeoutPayload{
		SessionID: s.id,
		ActorID:   s.actorID,
		Reason:    events.ReasonOverlayNoResponse,
	}))
	a.resolve(s, nil)
}

func (a *Adapter) resolve(s *session, observed *int) {
	outcome := s.expectedIndex
	mismatch := observed != nil && *observed != s.expectedIndex
	if mismatch {
		log.Warn().
			Str("session_id", s.id).
			Int("expected", s.expectedIndex).
			Int("observed", *observed).
			Msg("wheel outcome desync, overriding with server outcome")
	}

	a.broadcaster.Broadcast(events.New(events.NameResult(events.KindWheel), events.ResultPayload{
		SessionID:            s.id,
		OutcomeIndex:         outcome,
		ExpectedOutcomeIndex: s.expectedIndex,
		ObservedOutcomeIndex: observed,
		SyncMismatch:         mismatch,
	}))

	segment := s.segments[outcome]
	if segment.Prize > 0 && a.ledger != nil {
		reason := fmt.Sprintf("wheel prize: %s", segment.Label)
		if err := a.ledger.GrantPrize(context.Background(), s.actorID, segment.Prize, reason); err != nil {
			log.Error().Err(err).Str("session_id", s.id).Msg("wheel prize grant failed")
		}
	}

	if a.completer != nil {
		a.completer.CompleteCurrent()
	}
}

// pickIndex selects a segment index by weight, skipping zero-weight
// segments.
func pickIndex(segments []models.WheelSegment, randFn func() float64) (int, error) {
	var total float64
	for _, s := range segments {
		if s.Weight > 0 {
			total += s.Weight
		}
	}
	if total <= 0 {
		return 0, fmt.Errorf("wheel has no selectable segments")
	}

	r := randFn() * total
	for i, s := range segments {
		if s.Weight <= 0 {
			continue
		}
		r -= s.Weight
		if r < 0 {
			return i, nil
		}
	}
	// Float accumulation can leave r at exactly zero; fall back to the last
	// selectable segment.
	for i := len(segments) - 1; i >= 0; i-- {
		if segments[i].Weight > 0 {
			return i, nil
		}
	}
	return 0, fmt.Errorf("wheel has no selectable segments")
}

// spinDegrees derives the visual rotation needed to land on index, so the
// overlay and the adapter agree on what "landing" means.
func spinDegrees(index, count int) float64 {
	const fullSpins = 4
	segmentAngle := 360.0 / float64(count)
	return fullSpins*360 + 360 - (float64(index)+0.5)*segmentAngle
}
