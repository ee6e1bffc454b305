package queue_test

import (
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/overlayworks/arcade/internal/events"
	"github.com/overlayworks/arcade/internal/games/wheel"
	"github.com/overlayworks/arcade/internal/models"
	"github.com/overlayworks/arcade/internal/queue"
)

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingBroadcaster) Broadcast(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingBroadcaster) count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Name == name {
			n++
		}
	}
	return n
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

// An unacknowledged spin arms two timers for the same item: the queue's
// dispatch timer and the wheel's own safety timer. Both fire on the same
// clock advance; the item must resolve exactly once and the queue must still
// advance to the next item.
func TestQueueAndAdapterTimersResolveOnce(t *testing.T) {
	clock := clockwork.NewFakeClock()
	bc := &recordingBroadcaster{}

	q := queue.New(queue.Config{MaxSize: 5, WarnSize: 3, RestartDelay: 100 * time.Millisecond}, clock, bc)
	w := wheel.NewAdapter(models.WheelConfig{
		ID: "wheel-v1",
		Segments: []models.WheelSegment{
			{Label: "a", Weight: 1},
			{Label: "b", Weight: 1},
		},
		SpinDuration:          3 * time.Second,
		WinnerDisplayDuration: 2 * time.Second,
	}, q, bc, nil, clock)
	q.Register(w)

	if _, err := q.Enqueue(events.KindWheel, queue.EnqueueRequest{ActorID: "u1", Nickname: "Ana"}); err != nil {
		t.Fatal(err)
	}
	if _, err := q.Enqueue(events.KindWheel, queue.EnqueueRequest{ActorID: "u2", Nickname: "Ben"}); err != nil {
		t.Fatal(err)
	}
	if bc.count(events.NameStart(events.KindWheel)) != 1 {
		t.Fatal("first item should start immediately, second should wait")
	}

	// Fire both timers at once. TimeoutFor and the wheel's safety timer use
	// the same presentation duration plus buffer, so one advance covers both.
	clock.Advance(w.TimeoutFor(queue.Item{}))

	waitFor(t, func() bool {
		return bc.count(events.NameResult(events.KindWheel)) == 1
	}, "timed-out spin never resolved")
	waitFor(t, func() bool {
		st := q.Status()
		return !st.IsProcessing && st.CurrentItem == nil
	}, "queue never completed the timed-out item")

	if n := bc.count(events.NameResult(events.KindWheel)); n != 1 {
		t.Fatalf("expected exactly 1 result from the double timeout, got %d", n)
	}

	clock.Advance(200 * time.Millisecond)
	waitFor(t, func() bool {
		return bc.count(events.NameStart(events.KindWheel)) == 2
	}, "queue never advanced to the second item")

	if n := bc.count(events.NameResult(events.KindWheel)); n != 1 {
		t.Fatalf("second item start must not produce extra results, got %d", n)
	}
}
