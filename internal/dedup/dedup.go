// Package dedup collapses duplicate trigger events arriving from the live
// event source before they reach any game logic. Upstream already filters
// intermediate gift-repeat events; only the terminal occurrence of a logical
// trigger is checked here.
package dedup

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultWindow is how long an identical trigger is suppressed.
	DefaultWindow = time.Second

	// maxEntries bounds the store regardless of sweep timing. When the cap
	// is hit the oldest entry is evicted.
	maxEntries = 5000
)

// Deduper tracks recently seen trigger signatures. The map is owned by the
// instance so independent instances (tests included) never interfere.
type Deduper struct {
	window time.Duration
	clock  clockwork.Clock

	mu   sync.Mutex
	seen map[string]time.Time
}

// New creates a Deduper with the given suppression window. A zero window
// falls back to DefaultWindow.
func New(window time.Duration, clock clockwork.Clock) *Deduper {
	if window <= 0 {
		window = DefaultWindow
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Deduper{
		window: window,
		clock:  clock,
		seen:   make(map[string]time.Time),
	}
}

// ShouldProcess reports whether the trigger identified by the triple should
// reach the dispatch queue. A repeat within the window is suppressed and
// logged; anything else refreshes the signature and passes.
func (d *Deduper) ShouldProcess(actorID, triggerKind, triggerID string) bool {
	key := actorID + "|" + triggerKind + "|" + triggerID
	now := d.clock.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	if ts, ok := d.seen[key]; ok && now.Sub(ts) < d.window {
		log.Debug().
			Str("actor_id", actorID).
			Str("trigger_kind", triggerKind).
			Str("trigger_id", triggerID).
			Msg("duplicate trigger suppressed")
		return false
	}

	if len(d.seen) >= maxEntries {
		d.evictOldestLocked()
	}
	d.seen[key] = now
	return true
}

// Len returns the number of tracked signatures.
func (d *Deduper) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

// Run sweeps expired signatures at the window interval until ctx is done.
func (d *Deduper) Run(ctx context.Context) {
	ticker := d.clock.NewTicker(d.window)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			d.Sweep()
		}
	}
}

// Sweep removes entries older than the window.
func (d *Deduper) Sweep() {
	now := d.clock.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	removed := 0
	for key, ts := range d.seen {
		if now.Sub(ts) >= d.window {
			delete(d.seen, key)
			removed++
		}
	}
	if removed > 0 {
		log.Debug().Int("removed", removed).Int("remaining", len(d.seen)).Msg("dedup sweep")
	}
}

func (d *Deduper) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	for key, ts := range d.seen {
		if oldestKey == "" || ts.Before(oldest) {
			oldestKey, oldest = key, ts
		}
	}
	if oldestKey != "" {
		delete(d.seen, oldestKey)
	}
}
