package events

import "time"

// Payload structs for the outbound events. Kept flat so the overlay can bind
// them directly without nested unpacking.

// QueuedPayload is the payload for queue:<kind>-queued.
type QueuedPayload struct {
	Position    int    `json:"position"`
	ActorID     string `json:"actor_id"`
	Nickname    string `json:"nickname"`
	QueueLength int    `json:"queue_length"`
}

// QueueEntry describes one waiting item inside a status snapshot.
type QueueEntry struct {
	Position   int       `json:"position"`
	Type       GameKind  `json:"type"`
	ActorID    string    `json:"actor_id"`
	Nickname   string    `json:"nickname"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// StatusPayload is the payload for queue:status.
type StatusPayload struct {
	IsProcessing bool         `json:"is_processing"`
	QueueLength  int          `json:"queue_length"`
	CurrentItem  *QueueEntry  `json:"current_item"`
	Queue        []QueueEntry `json:"queue"`
}

// QueueFullPayload is the payload for queue:queue-full.
type QueueFullPayload struct {
	Type        GameKind `json:"type"`
	ActorID     string   `json:"actor_id"`
	QueueLength int      `json:"queue_length"`
}

// StartPayload is the payload for <kind>:start.
type StartPayload struct {
	SessionID            string   `json:"session_id"`
	ActorID              string   `json:"actor_id"`
	Nickname             string   `json:"nickname"`
	ExpectedOutcomeIndex int      `json:"expected_outcome_index"`
	Options              []string `json:"options"`
	ComputedMotion       float64  `json:"computed_motion"`
}

// ResultPayload is the payload for <kind>:result. ObservedOutcomeIndex is nil
// when the session resolved by safety timeout and the overlay never reported.
type ResultPayload struct {
	SessionID            string `json:"session_id"`
	OutcomeIndex         int    `json:"outcome_index"`
	ExpectedOutcomeIndex int    `json:"expected_outcome_index"`
	ObservedOutcomeIndex *int   `json:"observed_outcome_index,omitempty"`
	SyncMismatch         bool   `json:"sync_mismatch"`
}

// TimeoutPayload is the payload for <kind>:timeout.
type TimeoutPayload struct {
	SessionID string `json:"session_id"`
	ActorID   string `json:"actor_id"`
	Reason    string `json:"reason"`
}

// ReasonOverlayNoResponse is the only timeout reason the core emits.
const ReasonOverlayNoResponse = "overlay_no_response"

// ErrorPayload is the payload for <kind>:error.
type ErrorPayload struct {
	ActorID string `json:"actor_id"`
	Error   string `json:"error"`
}

// NotificationPayload is the payload for notification events (refunds,
// stale-ball cleanup, size warnings).
type NotificationPayload struct {
	Type     string `json:"type"`
	ActorID  string `json:"actor_id"`
	Message  string `json:"message"`
	Amount   int64  `json:"amount,omitempty"`
	Nickname string `json:"nickname,omitempty"`
}
