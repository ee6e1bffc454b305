package balldrop

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/overlayworks/arcade/internal/events"
)

var (
	// ErrInvalidDropTime is the anti-cheat rejection for a landing claimed
	// faster than a ball can physically fall.
	ErrInvalidDropTime = errors.New("invalid drop time")

	// ErrUnknownBall is returned for a landing report with no matching
	// spawn record.
	ErrUnknownBall = errors.New("unknown ball")
)

// TrackerConfig holds the anti-cheat and cleanup tuning.
type TrackerConfig struct {
	MinFlightTime time.Duration
	MaxBallAge    time.Duration
	SweepInterval time.Duration
}

// DefaultTrackerConfig returns the production tracker settings.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		MinFlightTime: 2 * time.Second,
		MaxBallAge:    5 * time.Minute,
		SweepInterval: 30 * time.Second,
	}
}

// ballRecord is one live ball between spawn and landing resolution.
type ballRecord struct {
	id          string
	actorID     string
	nickname    string
	stake       int64
	spawnedAt   time.Time
	provisional bool
}

// Tracker owns the live ball records. Records are created on spawn and
// destroyed on landing resolution or stale cleanup; stale cleanup refunds
// the stake through the ledger.
type Tracker struct {
	cfg         TrackerConfig
	clock       clockwork.Clock
	ledger      Ledger
	broadcaster events.Broadcaster

	mu    sync.Mutex
	balls map[string]*ballRecord
}

// NewTracker creates a ball tracker with an instance-owned record map.
func NewTracker(cfg TrackerConfig, ledger Ledger, broadcaster events.Broadcaster, clock clockwork.Clock) *Tracker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if broadcaster == nil {
		broadcaster = events.Discard{}
	}
	return &Tracker{
		cfg:         cfg,
		clock:       clock,
		ledger:      ledger,
		broadcaster: broadcaster,
		balls:       make(map[string]*ballRecord),
	}
}

// RecordSpawn registers a new live ball and returns its id. Provisional
// balls are test drops exempt from the flight-time check.
func (t *Tracker) RecordSpawn(actorID, nickname string, stake int64, provisional bool) string {
	rec := &ballRecord{
		id:          uuid.New().String(),
		actorID:     actorID,
		nickname:    nickname,
		stake:       stake,
		spawnedAt:   t.clock.Now(),
		provisional: provisional,
	}

	t.mu.Lock()
	t.balls[rec.id] = rec
	t.mu.Unlock()

	log.Debug().
		Str("ball_id", rec.id).
		Str("actor_id", actorID).
		Int64("stake", stake).
		Bool("provisional", provisional).
		Msg("ball spawned")
	return rec.id
}

// RecordLanding resolves a ball's landing report. A non-provisional ball
// landing faster than MinFlightTime is a timing exploit and is rejected
// without touching the record.
func (t *Tracker) RecordLanding(ballID string) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.balls[ballID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownBall, ballID)
	}

	flight := t.clock.Now().Sub(rec.spawnedAt)
	if !rec.provisional && flight < t.cfg.MinFlightTime {
		log.Warn().
			Str("ball_id", ballID).
			Str("actor_id", rec.actorID).
			Dur("flight", flight).
			Msg("landing rejected, flight time too short")
		return 0, fmt.Errorf("%w: landed after %v", ErrInvalidDropTime, flight)
	}

	delete(t.balls, ballID)
	return rec.stake, nil
}

// Live returns the number of unresolved balls.
func (t *Tracker) Live() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.balls)
}

// Run sweeps abandoned balls at the configured interval until ctx is done.
func (t *Tracker) Run(ctx context.Context) {
	ticker := t.clock.NewTicker(t.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			t.Sweep(ctx)
		}
	}
}

// Sweep removes balls older than MaxBallAge, refunding their full stake and
// notifying the actor.
func (t *Tracker) Sweep(ctx context.Context) {
	now := t.clock.Now()

	t.mu.Lock()
	var stale []*ballRecord
	for id, rec := range t.balls {
		if now.Sub(rec.spawnedAt) >= t.cfg.MaxBallAge {
			delete(t.balls, id)
			stale = append(stale, rec)
		}
	}
	t.mu.Unlock()

	for _, rec := range stale {
		log.Warn().
			Str("ball_id", rec.id).
			Str("actor_id", rec.actorID).
			Int64("stake", rec.stake).
			Msg("stale ball removed, refunding stake")
		if rec.stake > 0 && t.ledger != nil {
			if err := t.ledger.Refund(ctx, rec.actorID, rec.stake, "stale ball cleanup"); err != nil {
				log.Error().Err(err).Str("ball_id", rec.id).Msg("stale ball refund failed")
			}
		}
		t.broadcaster.Broadcast(events.New(events.NameNotification, events.NotificationPayload{
			Type:     "ball-refund",
			ActorID:  rec.actorID,
			Nickname: rec.nickname,
			Amount:   rec.stake,
			Message:  fmt.Sprintf("%s's ball got stuck, %d refunded", rec.nickname, rec.stake),
		}))
	}
}
