package trigger

import (
	"testing"

	"github.com/overlayworks/arcade/internal/events"
	"github.com/overlayworks/arcade/internal/queue"
)

type fakeEnqueuer struct {
	calls []struct {
		kind events.GameKind
		req  queue.EnqueueRequest
	}
	err error
}

func (f *fakeEnqueuer) Enqueue(kind events.GameKind, req queue.EnqueueRequest) (queue.EnqueueResult, error) {
	f.calls = append(f.calls, struct {
		kind events.GameKind
		req  queue.EnqueueRequest
	}{kind, req})
	if f.err != nil {
		return queue.EnqueueResult{}, f.err
	}
	return queue.EnqueueResult{ItemID: "item-1", Queued: false, Position: 1}, nil
}

type fakeDeduper struct {
	allow bool
}

func (f *fakeDeduper) ShouldProcess(actorID, triggerKind, triggerID string) bool {
	return f.allow
}

var testRules = []Rule{
	{TriggerKind: "gift", TriggerID: "rose", Game: events.KindWheel},
	{TriggerKind: "chat", TriggerID: "!drop", Game: events.KindBallDrop},
}

func TestRoutesGiftToGame(t *testing.T) {
	enq := &fakeEnqueuer{}
	r, err := NewRouter(testRules, &fakeDeduper{allow: true}, enq)
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}

	r.Handle(Event{ActorID: "user-1", Nickname: "Ana", TriggerKind: "gift", TriggerID: "rose", Amount: 5})

	if len(enq.calls) != 1 {
		t.Fatalf("expected 1 enqueue, got %d", len(enq.calls))
	}
	call := enq.calls[0]
	if call.kind != events.KindWheel {
		t.Errorf("expected wheel, got %s", call.kind)
	}
	if call.req.ActorID != "user-1" || call.req.Stake != 5 {
		t.Errorf("unexpected request: %+v", call.req)
	}
}

func TestUnroutableTriggerDropped(t *testing.T) {
	enq := &fakeEnqueuer{}
	r, err := NewRouter(testRules, &fakeDeduper{allow: true}, enq)
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}

	r.Handle(Event{ActorID: "user-1", TriggerKind: "gift", TriggerID: "tulip"})

	if len(enq.calls) != 0 {
		t.Fatalf("expected no enqueue, got %d", len(enq.calls))
	}
}

func TestDuplicateTriggerDropped(t *testing.T) {
	enq := &fakeEnqueuer{}
	r, err := NewRouter(testRules, &fakeDeduper{allow: false}, enq)
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}

	r.Handle(Event{ActorID: "user-1", TriggerKind: "chat", TriggerID: "!drop"})

	if len(enq.calls) != 0 {
		t.Fatalf("expected no enqueue, got %d", len(enq.calls))
	}
}

func TestQueueFullIsSwallowed(t *testing.T) {
	enq := &fakeEnqueuer{err: queue.ErrQueueFull}
	r, err := NewRouter(testRules, &fakeDeduper{allow: true}, enq)
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}

	// Must not panic or retry; the rejection event is the queue's job.
	r.Handle(Event{ActorID: "user-1", TriggerKind: "gift", TriggerID: "rose"})

	if len(enq.calls) != 1 {
		t.Fatalf("expected 1 enqueue attempt, got %d", len(enq.calls))
	}
}

func TestRejectsRuleWithUnknownGame(t *testing.T) {
	bad := []Rule{{TriggerKind: "gift", TriggerID: "rose", Game: "pinball"}}
	if _, err := NewRouter(bad, &fakeDeduper{allow: true}, &fakeEnqueuer{}); err == nil {
		t.Fatal("expected error for unknown game kind")
	}
}

func TestUnroutedDuplicateNeverConsultsDeduper(t *testing.T) {
	// An unroutable trigger must not burn a dedup slot for the signature.
	ded := &trackingDeduper{}
	r, err := NewRouter(testRules, ded, &fakeEnqueuer{})
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}

	r.Handle(Event{ActorID: "user-1", TriggerKind: "gift", TriggerID: "tulip"})

	if ded.calls != 0 {
		t.Fatalf("expected deduper untouched, got %d calls", ded.calls)
	}
}

type trackingDeduper struct {
	calls int
}

func (t *trackingDeduper) ShouldProcess(actorID, triggerKind, triggerID string) bool {
	t.calls++
	return true
}
