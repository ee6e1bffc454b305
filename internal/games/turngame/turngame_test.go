package turngame

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/overlayworks/arcade/internal/events"
	"github.com/overlayworks/arcade/internal/models"
	"github.com/overlayworks/arcade/internal/queue"
)

type captureBroadcaster struct {
	mu     sync.Mutex
	events []events.Event
}

func (c *captureBroadcaster) Broadcast(e events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *captureBroadcaster) count(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.events {
		if e.Name == name {
			n++
		}
	}
	return n
}

func (c *captureBroadcaster) last(name string) (events.Event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.events) - 1; i >= 0; i-- {
		if c.events[i].Name == name {
			return c.events[i], true
		}
	}
	return events.Event{}, false
}

type fakeCompleter struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeCompleter) CompleteCurrent() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
}

func (f *fakeCompleter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testConfig() models.TurnGameConfig {
	return models.TurnGameConfig{
		ID:                   "board-v1",
		MoveOptions:          []string{"up", "down", "left", "right"},
		PresentationDuration: 15 * time.Second,
	}
}

func newTestAdapter(t *testing.T) (*Adapter, *captureBroadcaster, *fakeCompleter, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	bc := &captureBroadcaster{}
	completer := &fakeCompleter{}
	a := NewAdapter(testConfig(), completer, bc, clock)
	return a, bc, completer, clock
}

func item(a *Adapter, id string) queue.Item {
	return queue.Item{ID: id, Kind: events.KindTurnGame, ActorID: "actor1", Fingerprint: a.Fingerprint()}
}

func TestSingleFlight(t *testing.T) {
	a, _, _, _ := newTestAdapter(t)

	if err := a.Execute(item(a, "s1")); err != nil {
		t.Fatal(err)
	}
	if err := a.Execute(item(a, "s2")); !errors.Is(err, queue.ErrAlreadyRunning) {
		t.Fatalf("want ErrAlreadyRunning, got %v", err)
	}
	if err := a.Execute(item(a, "s1")); err != nil {
		t.Fatalf("same session id must be idempotent, got %v", err)
	}
}

func TestConfigStalenessRejected(t *testing.T) {
	a, _, _, _ := newTestAdapter(t)

	stale := item(a, "s1")
	cfg := testConfig()
	cfg.ID = "board-v2"
	cfg.MoveOptions = append(cfg.MoveOptions, "stay")
	a.UpdateConfig(cfg)

	if err := a.Execute(stale); !errors.Is(err, queue.ErrConfigChanged) {
		t.Fatalf("want ErrConfigChanged, got %v", err)
	}
}

func TestAckOverridesDesyncedMove(t *testing.T) {
	a, bc, completer, _ := newTestAdapter(t)
	a.randFn = func() float64 { return 0 }

	if err := a.Execute(item(a, "s1")); err != nil {
		t.Fatal(err)
	}
	a.AcknowledgeCompletion("s1", 3)

	e, ok := bc.last(events.NameResult(events.KindTurnGame))
	if !ok {
		t.Fatal("no result event")
	}
	var res events.ResultPayload
	if err := json.Unmarshal(e.Data, &res); err != nil {
		t.Fatal(err)
	}
	if res.OutcomeIndex != 0 || !res.SyncMismatch {
		t.Fatalf("server move must win: %+v", res)
	}
	if completer.count() != 1 {
		t.Fatal("completion not reported to queue")
	}
}

func TestSafetyTimerForceResolves(t *testing.T) {
	a, bc, completer, clock := newTestAdapter(t)

	if err := a.Execute(item(a, "s1")); err != nil {
		t.Fatal(err)
	}
	clock.Advance(testConfig().PresentationDuration + safetyBuffer)

	deadline := time.Now().Add(2 * time.Second)
	for completer.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if completer.count() != 1 {
		t.Fatal("session never force-resolved")
	}
	if bc.count(events.NameTimeout(events.KindTurnGame)) != 1 {
		t.Fatal("timeout event not broadcast")
	}

	a.AcknowledgeCompletion("s1", 1)
	if got := bc.count(events.NameResult(events.KindTurnGame)); got != 1 {
		t.Fatalf("late ack produced a second result, got %d", got)
	}
}

func TestFixedTimeout(t *testing.T) {
	a, _, _, _ := newTestAdapter(t)
	want := testConfig().PresentationDuration + safetyBuffer
	if got := a.TimeoutFor(queue.Item{}); got != want {
		t.Fatalf("timeout %v, want %v", got, want)
	}
}
