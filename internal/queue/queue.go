// Package queue serializes every mini-game trigger, across all game kinds,
// into one FIFO dispatch queue. Only one presentation can play on the overlay
// at a time, so the queue starts the next item only after the previous one
// reported completion or its safety timeout fired.
package queue

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/overlayworks/arcade/internal/events"
)

// Config holds the queue bounds and pacing.
type Config struct {
	MaxSize      int
	WarnSize     int
	RestartDelay time.Duration
}

// DefaultConfig returns the production queue settings.
func DefaultConfig() Config {
	return Config{
		MaxSize:      20,
		WarnSize:     15,
		RestartDelay: 500 * time.Millisecond,
	}
}

// EnqueueRequest carries the actor identity and stake of a trigger.
type EnqueueRequest struct {
	ActorID  string
	Nickname string
	Stake    int64
}

// EnqueueResult reports how an accepted item was placed.
type EnqueueResult struct {
	ItemID   string
	Queued   bool // false when the item started immediately
	Position int  // 1-based wait position; 1 for an immediate start
}

// Queue is the unified dispatch queue. All state is guarded by mu; timers
// and adapter callbacks re-enter through the exported methods, which are
// idempotent where the two timeout paths can race.
type Queue struct {
	cfg         Config
	clock       clockwork.Clock
	broadcaster events.Broadcaster

	mu           sync.Mutex
	adapters     map[events.GameKind]Adapter
	items        []Item
	processing   bool
	current      *Item
	timer        clockwork.Timer
	restartTimer clockwork.Timer
	destroyed    bool
}

// New creates a dispatch queue. Adapters are registered afterwards because
// they need the queue as their Completer.
func New(cfg Config, clock clockwork.Clock, broadcaster events.Broadcaster) *Queue {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if broadcaster == nil {
		broadcaster = events.Discard{}
	}
	return &Queue{
		cfg:         cfg,
		clock:       clock,
		broadcaster: broadcaster,
		adapters:    make(map[events.GameKind]Adapter),
	}
}

// Register adds an adapter for its game kind.
func (q *Queue) Register(a Adapter) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.adapters[a.Kind()] = a
}

// Enqueue accepts a trigger for the given game kind. When the queue is idle
// the item starts immediately; otherwise it waits in strict FIFO order.
func (q *Queue) Enqueue(kind events.GameKind, req EnqueueRequest) (EnqueueResult, error) {
	q.mu.Lock()
	if q.destroyed {
		q.mu.Unlock()
		return EnqueueResult{}, ErrDestroyed
	}

	adapter, ok := q.adapters[kind]
	if !ok {
		q.mu.Unlock()
		return EnqueueResult{}, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}

	if len(q.items) >= q.cfg.MaxSize {
		length := len(q.items)
		q.mu.Unlock()
		log.Warn().
			Str("kind", string(kind)).
			Str("actor_id", req.ActorID).
			Int("queue_length", length).
			Msg("queue full, rejecting trigger")
		q.broadcaster.Broadcast(events.New(events.NameQueueFull, events.QueueFullPayload{
			Type:        kind,
			ActorID:     req.ActorID,
			QueueLength: length,
		}))
		return EnqueueResult{}, ErrQueueFull
	}

	item := Item{
		ID:          uuid.New().String(),
		Kind:        kind,
		ActorID:     req.ActorID,
		Nickname:    req.Nickname,
		Stake:       req.Stake,
		Fingerprint: adapter.Fingerprint(),
		EnqueuedAt:  q.clock.Now(),
	}
	q.items = append(q.items, item)
	length := len(q.items)
	startNow := !q.processing
	q.mu.Unlock()

	log.Info().
		Str("item_id", item.ID).
		Str("kind", string(kind)).
		Str("actor_id", req.ActorID).
		Int("queue_length", length).
		Bool("immediate", startNow).
		Msg("trigger enqueued")

	q.broadcaster.Broadcast(events.New(events.NameQueued(kind), events.QueuedPayload{
		Position:    length,
		ActorID:     req.ActorID,
		Nickname:    req.Nickname,
		QueueLength: length,
	}))
	if length == q.cfg.WarnSize {
		q.broadcaster.Broadcast(events.New(events.NameNotification, events.NotificationPayload{
			Type:    "queue-size-warning",
			Message: fmt.Sprintf("dispatch queue is filling up (%d waiting)", length),
		}))
	}

	if startNow {
		q.startNext()
		return EnqueueResult{ItemID: item.ID, Queued: false, Position: 1}, nil
	}
	return EnqueueResult{ItemID: item.ID, Queued: true, Position: length}, nil
}

// startNext pops the head item and hands it to its adapter. No-op when
// already processing, empty, or destroyed.
func (q *Queue) startNext() {
	q.mu.Lock()
	if q.destroyed || q.processing || len(q.items) == 0 {
		q.mu.Unlock()
		return
	}

	item := q.items[0]
	q.items = q.items[1:]
	q.processing = true
	q.current = &item

	adapter := q.adapters[item.Kind]
	timeout := adapter.TimeoutFor(item)
	itemID := item.ID
	q.timer = q.clock.AfterFunc(timeout, func() { q.onTimeout(itemID) })
	q.mu.Unlock()

	log.Info().
		Str("item_id", item.ID).
		Str("kind", string(item.Kind)).
		Dur("timeout", timeout).
		Msg("dispatching item")

	if err := q.safeExecute(adapter, item); err != nil {
		log.Error().
			Err(err).
			Str("item_id", item.ID).
			Str("kind", string(item.Kind)).
			Msg("adapter execute failed, advancing queue")
		q.broadcaster.Broadcast(events.New(events.NameError(item.Kind), events.ErrorPayload{
			ActorID: item.ActorID,
			Error:   err.Error(),
		}))
		q.CompleteCurrent()
	}
}

// safeExecute shields the queue from a panicking adapter; a programming
// error in one game must not stall the rest of the queue.
func (q *Queue) safeExecute(adapter Adapter, item Item) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("adapter panic: %v", r)
		}
	}()
	return adapter.Execute(item)
}

// onTimeout force-completes a stuck item. Idempotent against the normal
// completion path and against the adapter-local safety timer.
func (q *Queue) onTimeout(itemID string) {
	q.mu.Lock()
	if q.current == nil || q.current.ID != itemID {
		q.mu.Unlock()
		return
	}
	item := *q.current
	q.mu.Unlock()

	log.Warn().
		Str("item_id", item.ID).
		Str("kind", string(item.Kind)).
		Msg("force completing stuck item")

	q.broadcaster.Broadcast(events.New(events.NameTimeout(item.Kind), events.TimeoutPayload{
		SessionID: item.ID,
		ActorID:   item.ActorID,
		Reason:    events.ReasonOverlayNoResponse,
	}))
	q.CompleteCurrent()
}

// CompleteCurrent finishes the in-flight item, broadcasts a status snapshot,
// and schedules the next start after the restart delay. Idempotent: with no
// in-flight item it does nothing, so the queue-level timer, the adapter
// safety timer, and a late acknowledgment can all call it safely.
func (q *Queue) CompleteCurrent() {
	q.mu.Lock()
	if q.current == nil {
		q.mu.Unlock()
		return
	}
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	finished := *q.current
	q.current = nil
	q.processing = false
	status := q.statusLocked()
	if !q.destroyed {
		q.restartTimer = q.clock.AfterFunc(q.cfg.RestartDelay, q.startNext)
	}
	q.mu.Unlock()

	log.Info().
		Str("item_id", finished.ID).
		Str("kind", string(finished.Kind)).
		Int("waiting", status.QueueLength).
		Msg("item completed")

	q.broadcaster.Broadcast(events.New(events.NameQueueStatus, status))
}

// Clear discards all waiting items. The in-flight item, if any, is left to
// finish through acknowledgment or timeout.
func (q *Queue) Clear() int {
	q.mu.Lock()
	cleared := len(q.items)
	q.items = nil
	status := q.statusLocked()
	q.mu.Unlock()

	log.Info().Int("cleared", cleared).Msg("queue cleared")
	q.broadcaster.Broadcast(events.New(events.NameNotification, events.NotificationPayload{
		Type:    "queue-cleared",
		Message: fmt.Sprintf("%d waiting items discarded", cleared),
	}))
	q.broadcaster.Broadcast(events.New(events.NameQueueStatus, status))
	return cleared
}

// Destroy cancels timers and drops all state. The queue rejects further
// enqueues afterwards.
func (q *Queue) Destroy() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.destroyed = true
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	if q.restartTimer != nil {
		q.restartTimer.Stop()
		q.restartTimer = nil
	}
	q.items = nil
	q.current = nil
	q.processing = false
	q.adapters = make(map[events.GameKind]Adapter)
}

// Status returns a snapshot of the queue for the status event and the stats
// endpoint.
func (q *Queue) Status() events.StatusPayload {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.statusLocked()
}

func (q *Queue) statusLocked() events.StatusPayload {
	status := events.StatusPayload{
		IsProcessing: q.processing,
		QueueLength:  len(q.items),
		Queue:        make([]events.QueueEntry, 0, len(q.items)),
	}
	if q.current != nil {
		status.CurrentItem = &events.QueueEntry{
			Type:       q.current.Kind,
			ActorID:    q.current.ActorID,
			Nickname:   q.current.Nickname,
			EnqueuedAt: q.current.EnqueuedAt,
		}
	}
	for i, item := range q.items {
		status.Queue = append(status.Queue, events.QueueEntry{
			Position:   i + 1,
			Type:       item.Kind,
			ActorID:    item.ActorID,
			Nickname:   item.Nickname,
			EnqueuedAt: item.EnqueuedAt,
		})
	}
	return status
}
