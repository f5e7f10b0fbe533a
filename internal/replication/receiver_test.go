package replication

import (
	"sync"
	"testing"
)

type fakeApplier struct {
	mu    sync.Mutex
	calls []uint64
}

func (f *fakeApplier) ApplyReplicated(un uint64, primaryKey, body []byte, tombstone bool, cb func(error)) {
	f.mu.Lock()
	f.calls = append(f.calls, un)
	f.mu.Unlock()
	cb(nil)
}

func TestReceiverAppliesInOrderAppends(t *testing.T) {
	a, b := newPipeFramerPair()
	sender := NewChannel(a)
	applier := &fakeApplier{}
	recv := NewReceiver(NewChannel(b), map[uint16]Applier{1: applier})

	go func() {
		sender.SendAppend(Append{TableID: 1, UN: 1, PrimaryKey: []byte("k1"), RowBuf: []byte("v1")})
		sender.SendAppend(Append{TableID: 1, UN: 2, PrimaryKey: []byte("k2"), RowBuf: []byte("v2")})
		sender.Close()
	}()

	recv.Run(nil)

	if len(applier.calls) != 2 || applier.calls[0] != 1 || applier.calls[1] != 2 {
		t.Fatalf("unexpected applied UNs: %v", applier.calls)
	}
}

func TestReceiverGapTriggersRecoverCallback(t *testing.T) {
	a, b := newPipeFramerPair()
	sender := NewChannel(a)
	applier := &fakeApplier{}
	recv := NewReceiver(NewChannel(b), map[uint16]Applier{1: applier})

	var gotTable uint16
	var gotFrom uint64
	recoverSignal := make(chan struct{})

	go func() {
		sender.SendAppend(Append{TableID: 1, UN: 1, PrimaryKey: []byte("k1"), RowBuf: []byte("v1")})
		sender.SendAppend(Append{TableID: 1, UN: 5, PrimaryKey: []byte("k5"), RowBuf: []byte("v5")})
		sender.Close()
	}()

	go func() {
		recv.Run(func(tableID uint16, fromUN uint64) {
			gotTable, gotFrom = tableID, fromUN
			close(recoverSignal)
		})
	}()

	<-recoverSignal
	if gotTable != 1 || gotFrom != 2 {
		t.Fatalf("recover callback = table=%d from=%d, want table=1 from=2", gotTable, gotFrom)
	}
}
