package telemetry

import (
	"testing"
	"time"
)

func TestSubscribeRetainsWatchAndReschedulesToMin(t *testing.T) {
	ticks := make(chan RequestType, 16)
	reg := NewRegistry(5*time.Millisecond, func(typ RequestType) { ticks <- typ })

	id1 := reg.Subscribe(Heap, "*", 1000, make(chan Frame, 1))
	if len(reg.Watches(Heap)) != 1 {
		t.Fatalf("expected 1 watch, got %d", len(reg.Watches(Heap)))
	}

	id2 := reg.Subscribe(Heap, "*", 10, make(chan Frame, 1))
	if len(reg.Watches(Heap)) != 2 {
		t.Fatalf("expected 2 watches, got %d", len(reg.Watches(Heap)))
	}

	select {
	case typ := <-ticks:
		if typ != Heap {
			t.Fatalf("tick for wrong type: %v", typ)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a tick after rescheduling to the shorter interval")
	}

	reg.Unsubscribe(Heap, id1)
	reg.Unsubscribe(Heap, id2)
	if len(reg.Watches(Heap)) != 0 {
		t.Fatal("expected no watches after unsubscribing both")
	}
}

func TestWatchesPreserveFIFOOrder(t *testing.T) {
	reg := NewRegistry(time.Millisecond, nil)
	var ids []string
	for i := 0; i < 5; i++ {
		ids = append(ids, reg.Subscribe(Thread, "*", 1000, make(chan Frame, 1)))
	}
	watches := reg.Watches(Thread)
	for i, w := range watches {
		if w.id != ids[i] {
			t.Fatalf("watch order broken at index %d: got %s, want %s", i, w.id, ids[i])
		}
	}

	reg.Unsubscribe(Thread, ids[2])
	watches = reg.Watches(Thread)
	want := []string{ids[0], ids[1], ids[3], ids[4]}
	for i, w := range watches {
		if w.id != want[i] {
			t.Fatalf("watch order broken after removal at index %d: got %s, want %s", i, w.id, want[i])
		}
	}
}

func TestUnsubscribeLastWatchCancelsTimer(t *testing.T) {
	ticks := make(chan RequestType, 16)
	reg := NewRegistry(5*time.Millisecond, func(typ RequestType) { ticks <- typ })

	id := reg.Subscribe(Mx, "*", 5, make(chan Frame, 1))
	<-ticks // drain at least one tick to confirm the timer started

	reg.Unsubscribe(Mx, id)

	// Drain any ticks already in flight, then confirm no more arrive.
	drain := time.After(50 * time.Millisecond)
loop:
	for {
		select {
		case <-ticks:
		case <-drain:
			break loop
		}
	}

	select {
	case <-ticks:
		t.Fatal("expected no further ticks after the last watch is removed")
	case <-time.After(30 * time.Millisecond):
	}
}
