package replication

import (
	"sync"
	"testing"
	"time"
)

func TestSenderDrainsInOrder(t *testing.T) {
	a, b := newPipeFramerPair()
	sender := NewSender(NewChannel(a), 8, nil)
	defer sender.Stop()

	for un := uint64(1); un <= 3; un++ {
		sender.Append(Append{TableID: 1, UN: un, RowBuf: []byte("x")})
	}

	chB := NewChannel(b)
	for un := uint64(1); un <= 3; un++ {
		msg, err := chB.Receive()
		if err != nil {
			t.Fatalf("Receive: %v", err)
		}
		ap, ok := msg.(*Append)
		if !ok || ap.UN != un {
			t.Fatalf("received out of order: %+v ok=%v, want un=%d", msg, ok, un)
		}
	}
}

func TestSenderDisconnectsOnCongestion(t *testing.T) {
	a, _ := newPipeFramerPair()
	// No reader drains `a`'s outbound channel (64 frames) and the sender's
	// queue holds one, so 100 appends fill both quickly.
	stuck := make(chan struct{})
	var once sync.Once
	sender := newSenderWithTimeout(NewChannel(a), 1, 20*time.Millisecond, func() {
		once.Do(func() { close(stuck) })
	})
	defer sender.Stop()

	for i := 0; i < 100; i++ {
		sender.Append(Append{TableID: 1, UN: uint64(i), RowBuf: []byte("x")})
	}

	select {
	case <-stuck:
	case <-time.After(2 * time.Second):
		t.Fatal("expected onStuck to fire under sustained congestion")
	}
}

func TestSenderQueueDepth(t *testing.T) {
	a, _ := newPipeFramerPair()
	sender := newSenderWithTimeout(NewChannel(a), 4, time.Second, nil)
	defer sender.Stop()

	if sender.QueueDepth() != 0 {
		t.Fatalf("expected empty queue initially, got %d", sender.QueueDepth())
	}
}
