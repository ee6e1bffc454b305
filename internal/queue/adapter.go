package queue

import (
	"time"

	"github.com/overlayworks/arcade/internal/events"
)

// Item is a single queued game request. Immutable once enqueued; the queue
// owns it until it hands it to an adapter for execution.
type Item struct {
	ID          string
	Kind        events.GameKind
	ActorID     string
	Nickname    string
	Stake       int64
	Fingerprint Fingerprint
	EnqueuedAt  time.Time
}

// Fingerprint is the configuration snapshot captured at enqueue time and
// re-checked by the adapter at execution time to detect staleness.
type Fingerprint struct {
	ConfigID    string
	OptionCount int
}

// Adapter is the single-flight execute/acknowledge contract each game kind
// implements. The queue depends only on this interface, never on concrete
// game types.
type Adapter interface {
	Kind() events.GameKind

	// Fingerprint snapshots the adapter's live configuration for an item
	// about to be enqueued.
	Fingerprint() Fingerprint

	// TimeoutFor computes the queue-level safety timeout for an item.
	TimeoutFor(item Item) time.Duration

	// Execute validates and starts the item. A returned error means the
	// item never started; the queue advances immediately.
	Execute(item Item) error
}

// Completer is the completion half of the queue as seen by adapters: whoever
// resolves a session (acknowledgment or adapter safety timer) reports back
// through it. CompleteCurrent is idempotent.
type Completer interface {
	CompleteCurrent()
}
