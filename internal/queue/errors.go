package queue

import "errors"

var (
	// ErrQueueFull is returned when an enqueue would exceed the bound. The
	// item is rejected outright, never partially accepted.
	ErrQueueFull = errors.New("queue full")

	// ErrUnknownKind is returned for a game kind no adapter is registered
	// for.
	ErrUnknownKind = errors.New("unknown game kind")

	// ErrDestroyed is returned once the queue has been torn down.
	ErrDestroyed = errors.New("queue destroyed")

	// ErrAlreadyRunning is returned by adapters when a different session is
	// already live. A re-entrant call with the same session id is treated
	// as idempotent success instead.
	ErrAlreadyRunning = errors.New("already running")

	// ErrConfigChanged is returned by adapters when the configuration
	// fingerprint captured at enqueue time no longer matches the live
	// configuration.
	ErrConfigChanged = errors.New("configuration changed")
)
