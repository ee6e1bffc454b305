package dedup

import (
	"fmt"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func TestSuppressesWithinWindow(t *testing.T) {
	clock := clockwork.NewFakeClock()
	d := New(time.Second, clock)

	if !d.ShouldProcess("actor1", "gift", "rose") {
		t.Fatal("first trigger must pass")
	}
	clock.Advance(500 * time.Millisecond)
	if d.ShouldProcess("actor1", "gift", "rose") {
		t.Fatal("repeat inside window must be suppressed")
	}
}

func TestPassesAfterWindow(t *testing.T) {
	clock := clockwork.NewFakeClock()
	d := New(time.Second, clock)

	if !d.ShouldProcess("actor1", "gift", "rose") {
		t.Fatal("first trigger must pass")
	}
	clock.Advance(time.Second)
	if !d.ShouldProcess("actor1", "gift", "rose") {
		t.Fatal("trigger spaced a full window apart must pass")
	}
}

func TestDistinctSignaturesDoNotCollide(t *testing.T) {
	clock := clockwork.NewFakeClock()
	d := New(time.Second, clock)

	if !d.ShouldProcess("actor1", "gift", "rose") {
		t.Fatal("first trigger must pass")
	}
	if !d.ShouldProcess("actor2", "gift", "rose") {
		t.Fatal("different actor must not be suppressed")
	}
	if !d.ShouldProcess("actor1", "chat", "rose") {
		t.Fatal("different trigger kind must not be suppressed")
	}
}

func TestSweepRemovesExpired(t *testing.T) {
	clock := clockwork.NewFakeClock()
	d := New(time.Second, clock)

	d.ShouldProcess("actor1", "gift", "rose")
	d.ShouldProcess("actor2", "gift", "lion")
	clock.Advance(2 * time.Second)
	d.ShouldProcess("actor3", "gift", "rose")

	d.Sweep()
	if got := d.Len(); got != 1 {
		t.Fatalf("sweep should keep only the fresh entry, got %d", got)
	}
}

func TestStoreIsBounded(t *testing.T) {
	clock := clockwork.NewFakeClock()
	d := New(time.Second, clock)

	for i := 0; i < maxEntries+100; i++ {
		d.ShouldProcess(fmt.Sprintf("actor%d", i), "gift", "rose")
	}
	if got := d.Len(); got > maxEntries {
		t.Fatalf("store exceeded cap: %d", got)
	}
}
