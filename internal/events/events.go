package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// GameKind identifies which mini-game a queue item or event belongs to.
type GameKind string

const (
	KindWheel    GameKind = "wheel"
	KindBallDrop GameKind = "ball-drop"
	KindTurnGame GameKind = "turn-game"
)

// Valid reports whether k is one of the known game kinds.
func (k GameKind) Valid() bool {
	switch k {
	case KindWheel, KindBallDrop, KindTurnGame:
		return true
	}
	return false
}

// Event is the envelope for every message pushed to the overlay and mirrored
// onto the event stream.
type Event struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// New builds an event envelope, marshalling the payload. A payload that fails
// to marshal is a programming error; the envelope is still returned with nil
// data so callers never have to branch on it.
func New(name string, payload any) Event {
	data, _ := json.Marshal(payload)
	return Event{
		ID:        uuid.New().String(),
		Name:      name,
		Timestamp: time.Now(),
		Data:      data,
	}
}

// Outbound event names. Game-scoped names are built with the kind prefix so
// the overlay can subscribe per game.
const (
	NameQueueStatus  = "queue:status"
	NameQueueFull    = "queue:queue-full"
	NameNotification = "notification"
)

func NameQueued(kind GameKind) string  { return "queue:" + string(kind) + "-queued" }
func NameStart(kind GameKind) string   { return string(kind) + ":start" }
func NameResult(kind GameKind) string  { return string(kind) + ":result" }
func NameTimeout(kind GameKind) string { return string(kind) + ":timeout" }
func NameError(kind GameKind) string   { return string(kind) + ":error" }

// Broadcaster pushes events to the presentation channel. Implementations must
// not block the caller; the queue and adapters publish from their own
// critical sections.
type Broadcaster interface {
	Broadcast(event Event)
}

// FanOut broadcasts to every wrapped broadcaster in order.
type FanOut []Broadcaster

func (f FanOut) Broadcast(event Event) {
	for _, b := range f {
		b.Broadcast(event)
	}
}

// Discard is a no-op broadcaster for tests and headless runs.
type Discard struct{}

func (Discard) Broadcast(Event) {}
