package balldrop

import (
	"context"
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

type ledgerEntry struct {
	kind    string
	actorID string
	amount  int64
}

type fakeLedger struct {
	mu      sync.Mutex
	entries []ledgerEntry
}

func (f *fakeLedger) Payout(_ context.Context, actorID string, amount int64, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, ledgerEntry{kind: "payout", actorID: actorID, amount: amount})
	return nil
}

func (f *fakeLedger) Refund(_ context.Context, actorID string, amount int64, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, ledgerEntry{kind: "refund", actorID: actorID, amount: amount})
	return nil
}

func (f *fakeLedger) all() []ledgerEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ledgerEntry(nil), f.entries...)
}

func testTrackerConfig() TrackerConfig {
	return TrackerConfig{
		MinFlightTime: 2 * time.Second,
		MaxBallAge:    time.Minute,
		SweepInterval: 30 * time.Second,
	}
}

func testBoardConfig() models.BallDropConfig {
	return models.BallDropConfig{
		ID:              "board-v1",
		SlotMultipliers: []float64{0, 0.5, 2, 0.5, 0},
		DropDuration:    6 * time.Second,
	}
}

func newTestAdapter(t *testing.T) (*Adapter, *Tracker, *captureBroadcaster, *fakeCompleter, *fakeLedger, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	bc := &captureBroadcaster{}
	completer := &fakeCompleter{}
	ledger := &fakeLedger{}
	tracker := NewTracker(testTrackerConfig(), ledger, bc, clock)
	a := NewAdapter(testBoardConfig(), tracker, completer, bc, ledger, clock)
	return a, tracker, bc, completer, ledger, clock
}

func item(a *Adapter, id string, stake int64) queue.Item {
	return queue.Item{
		ID:          id,
		Kind:        events.KindBallDrop,
		ActorID:     "actor1",
		Nickname:    "Ann",
		Stake:       stake,
		Fingerprint: a.Fingerprint(),
	}
}

func TestLandingTooFastRejected(t *testing.T) {
	clock := clockwork.NewFakeClock()
	tracker := NewTracker(testTrackerConfig(), &fakeLedger{}, nil, clock)

	ballID := tracker.RecordSpawn("actor1", "Ann", 100, false)
	clock.Advance(time.Second)
	if _, err := tracker.RecordLanding(ballID); !errors.Is(err, ErrInvalidDropTime) {
		t.Fatalf("want ErrInvalidDropTime, got %v", err)
	}
	if tracker.Live() != 1 {
		t.Fatal("rejected landing must not consume the record")
	}

	clock.Advance(time.Second)
	stake, err := tracker.RecordLanding(ballID)
	if err != nil {
		t.Fatalf("landing after min flight time must succeed: %v", err)
	}
	if stake != 100 {
		t.Fatalf("stake %d, want 100", stake)
	}
}

func TestProvisionalBallSkipsFlightCheck(t *testing.T) {
	clock := clockwork.NewFakeClock()
	tracker := NewTracker(testTrackerConfig(), &fakeLedger{}, nil, clock)

	ballID := tracker.RecordSpawn("actor1", "Ann", 0, true)
	if _, err := tracker.RecordLanding(ballID); err != nil {
		t.Fatalf("provisional ball must land immediately: %v", err)
	}
}

func TestUnknownBallRejected(t *testing.T) {
	tracker := NewTracker(testTrackerConfig(), &fakeLedger{}, nil, clockwork.NewFakeClock())
	if _, err := tracker.RecordLanding("nope"); !errors.Is(err, ErrUnknownBall) {
		t.Fatalf("want ErrUnknownBall, got %v", err)
	}
}

func TestStaleSweepRefundsOnce(t *testing.T) {
	clock := clockwork.NewFakeClock()
	bc := &captureBroadcaster{}
	ledger := &fakeLedger{}
	tracker := NewTracker(testTrackerConfig(), ledger, bc, clock)

	tracker.RecordSpawn("actor1", "Ann", 250, false)
	clock.Advance(testTrackerConfig().MaxBallAge)

	tracker.Sweep(context.Background())
	tracker.Sweep(context.Background())

	entries := ledger.all()
	if len(entries) != 1 || entries[0].kind != "refund" || entries[0].amount != 250 {
		t.Fatalf("want exactly one full refund, got %+v", entries)
	}
	if bc.count(events.NameNotification) != 1 {
		t.Fatal("refund notification not broadcast exactly once")
	}
	if tracker.Live() != 0 {
		t.Fatal("stale ball still tracked")
	}
}

func TestFreshBallSurvivesSweep(t *testing.T) {
	clock := clockwork.NewFakeClock()
	ledger := &fakeLedger{}
	tracker := NewTracker(testTrackerConfig(), ledger, nil, clock)

	tracker.RecordSpawn("actor1", "Ann", 250, false)
	clock.Advance(testTrackerConfig().MaxBallAge / 2)
	tracker.Sweep(context.Background())

	if tracker.Live() != 1 {
		t.Fatal("fresh ball must survive the sweep")
	}
	if len(ledger.all()) != 0 {
		t.Fatal("fresh ball must not be refunded")
	}
}

func TestSingleFlight(t *testing.T) {
	a, _, _, _, _, _ := newTestAdapter(t)

	if err := a.Execute(item(a, "s1", 100)); err != nil {
		t.Fatal(err)
	}
	if err := a.Execute(item(a, "s2", 100)); !errors.Is(err, queue.ErrAlreadyRunning) {
		t.Fatalf("want ErrAlreadyRunning, got %v", err)
	}
	if err := a.Execute(item(a, "s1", 100)); err != nil {
		t.Fatalf("same session id must be idempotent, got %v", err)
	}
}

func TestConfigStalenessRejected(t *testing.T) {
	a, _, _, _, _, _ := newTestAdapter(t)

	stale := item(a, "s1", 100)
	cfg := testBoardConfig()
	cfg.ID = "board-v2"
	cfg.SlotMultipliers = append(cfg.SlotMultipliers, 1)
	a.UpdateConfig(cfg)

	if err := a.Execute(stale); !errors.Is(err, queue.ErrConfigChanged) {
		t.Fatalf("want ErrConfigChanged, got %v", err)
	}
}

func TestResolvedLandingPaysServerSlot(t *testing.T) {
	a, tracker, bc, completer, ledger, clock := newTestAdapter(t)
	a.randFn = func() float64 { return 0.5 } // slot 2, multiplier x2

	if err := a.Execute(item(a, "s1", 100)); err != nil {
		t.Fatal(err)
	}
	clock.Advance(3 * time.Second)
	// Overlay claims slot 4; server slot 2 wins and pays.
	a.AcknowledgeCompletion("s1", 4)

	e, ok := bc.last(events.NameResult(events.KindBallDrop))
	if !ok {
		t.Fatal("no result event")
	}
	var res events.ResultPayload
	if err := json.Unmarshal(e.Data, &res); err != nil {
		t.Fatal(err)
	}
	if res.OutcomeIndex != 2 || !res.SyncMismatch {
		t.Fatalf("server slot must win: %+v", res)
	}

	entries := ledger.all()
	if len(entries) != 1 || entries[0].kind != "payout" || entries[0].amount != 200 {
		t.Fatalf("want one payout of 200, got %+v", entries)
	}
	if completer.count() != 1 {
		t.Fatal("completion not reported to queue")
	}
	if tracker.Live() != 0 {
		t.Fatal("resolved ball still tracked")
	}
}

func TestInstantLandingKeepsSessionLive(t *testing.T) {
	a, tracker, bc, completer, _, _ := newTestAdapter(t)
	a.randFn = func() float64 { return 0 }

	if err := a.Execute(item(a, "s1", 100)); err != nil {
		t.Fatal(err)
	}
	// Landing claimed with no time for the ball to fall.
	a.AcknowledgeCompletion("s1", 0)

	if bc.count(events.NameError(events.KindBallDrop)) != 1 {
		t.Fatal("anti-cheat rejection must emit an error event")
	}
	if completer.count() != 0 {
		t.Fatal("rejected landing must not complete the item")
	}
	if tracker.Live() != 1 {
		t.Fatal("ball record must survive the rejected claim")
	}
}

func TestSafetyTimerSettlesBallWithoutRefund(t *testing.T) {
	a, tracker, bc, completer, ledger, clock := newTestAdapter(t)
	a.randFn = func() float64 { return 0.5 }

	if err := a.Execute(item(a, "s1", 100)); err != nil {
		t.Fatal(err)
	}
	clock.Advance(testBoardConfig().DropDuration + safetyBuffer)

	deadline := time.Now().Add(2 * time.Second)
	for completer.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if completer.count() != 1 {
		t.Fatal("session never force-resolved")
	}
	if bc.count(events.NameTimeout(events.KindBallDrop)) != 1 {
		t.Fatal("timeout event not broadcast")
	}
	if tracker.Live() != 0 {
		t.Fatal("force-resolved ball must be settled")
	}

	// A later sweep must not refund the settled ball.
	clock.Advance(testTrackerConfig().MaxBallAge)
	tracker.Sweep(context.Background())
	for _, entry := range ledger.all() {
		if entry.kind == "refund" {
			t.Fatalf("settled ball was refunded: %+v", entry)
		}
	}
}

func TestAckAfterBallSettledIsSilent(t *testing.T) {
	a, tracker, bc, completer, _, clock := newTestAdapter(t)
	a.randFn = func() float64 { return 0.5 }

	if err := a.Execute(item(a, "s1", 100)); err != nil {
		t.Fatal(err)
	}
	clock.Advance(testTrackerConfig().MinFlightTime)

	// Settle the record out from under the session, as the safety timer does
	// when it wins the race against a landing report.
	a.mu.Lock()
	ballID := a.current.ballID
	a.mu.Unlock()
	if _, err := tracker.RecordLanding(ballID); err != nil {
		t.Fatal(err)
	}

	a.AcknowledgeCompletion("s1", 2)

	if bc.count(events.NameError(events.KindBallDrop)) != 0 {
		t.Fatal("settled ball must not produce an error event")
	}
	if completer.count() != 0 {
		t.Fatal("silent return must leave resolution to the safety timer")
	}
	a.mu.Lock()
	live := a.current != nil
	a.mu.Unlock()
	if !live {
		t.Fatal("session must stay live for the safety timer to resolve")
	}
}

func TestDropPositionCentersOnSlot(t *testing.T) {
	if got := dropPosition(2, 5); got != 0.5 {
		t.Fatalf("middle slot should release at 0.5, got %f", got)
	}
	for slot := 0; slot < 5; slot++ {
		p := dropPosition(slot, 5)
		if p <= 0 || p >= 1 {
			t.Fatalf("slot %d position %f out of range", slot, p)
		}
	}
}
