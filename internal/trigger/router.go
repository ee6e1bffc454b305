// Package trigger turns live-stream events (gifts, chat commands) into
// dispatch queue items. Events pass the deduplicator first, then a routing
// table maps the trigger to a game kind.
package trigger

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/overlayworks/arcade/internal/events"
	"github.com/overlayworks/arcade/internal/queue"
)

// Event is one inbound trigger from the live-event source. Intermediate
// gift-repeat events are filtered upstream; only the terminal occurrence of
// a streak arrives here.
type Event struct {
	ActorID     string `json:"actor_id"`
	Nickname    string `json:"nickname"`
	TriggerKind string `json:"trigger_kind"` // "gift" or "chat"
	TriggerID   string `json:"trigger_id"`   // gift id or chat command
	Amount      int64  `json:"amount"`       // stake: gift value in coins
}

// Rule maps one trigger to a game kind.
type Rule struct {
	TriggerKind string          `yaml:"trigger_kind"`
	TriggerID   string          `yaml:"trigger_id"`
	Game        events.GameKind `yaml:"game"`
}

// Enqueuer is the slice of the dispatch queue the router needs.
type Enqueuer interface {
	Enqueue(kind events.GameKind, req queue.EnqueueRequest) (queue.EnqueueResult, error)
}

// Deduper suppresses duplicate triggers.
type Deduper interface {
	ShouldProcess(actorID, triggerKind, triggerID string) bool
}

// Router applies dedup and routing to inbound trigger events.
type Router struct {
	rules map[string]events.GameKind
	dedup Deduper
	queue Enqueuer
}

// NewRouter builds a router from the routing table.
func NewRouter(rules []Rule, dedup Deduper, enqueuer Enqueuer) (*Router, error) {
	table := make(map[string]events.GameKind, len(rules))
	for _, r := range rules {
		if !r.Game.Valid() {
			return nil, fmt.Errorf("rule %s/%s targets unknown game %q", r.TriggerKind, r.TriggerID, r.Game)
		}
		table[ruleKey(r.TriggerKind, r.TriggerID)] = r.Game
	}
	return &Router{rules: table, dedup: dedup, queue: enqueuer}, nil
}

// Handle processes one trigger event. Unroutable and duplicate events are
// dropped silently (they are normal traffic, not errors); a full queue is
// logged and dropped, matching the at-most-the-bound admission policy.
func (r *Router) Handle(ev Event) {
	kind, ok := r.rules[ruleKey(ev.TriggerKind, ev.TriggerID)]
	if !ok {
		return
	}

	if !r.dedup.ShouldProcess(ev.ActorID, ev.TriggerKind, ev.TriggerID) {
		return
	}

	res, err := r.queue.Enqueue(kind, queue.EnqueueRequest{
		ActorID:  ev.ActorID,
		Nickname: ev.Nickname,
		Stake:    ev.Amount,
	})
	if err != nil {
		if errors.Is(err, queue.ErrQueueFull) {
			log.Warn().
				Str("actor_id", ev.ActorID).
				Str("kind", string(kind)).
				Msg("trigger dropped, queue full")
			return
		}
		log.Error().Err(err).Str("kind", string(kind)).Msg("enqueue failed")
		return
	}

	log.Info().
		Str("actor_id", ev.ActorID).
		Str("kind", string(kind)).
		Bool("queued", res.Queued).
		Int("position", res.Position).
		Msg("trigger routed")
}

func ruleKey(kind, id string) string { return kind + ":" + id }
