package replication

import (
	"io"
	"testing"

	"github.com/latticefin/rtdb/internal/record"
)

// pipeFramer is an in-memory Framer backed by a channel of encoded frames,
// used to test Channel/Receiver without a real libp2p stream.
type pipeFramer struct {
	out chan record.Frame
	in  chan record.Frame
}

func newPipeFramerPair() (a, b *pipeFramer) {
	c1 := make(chan record.Frame, 64)
	c2 := make(chan record.Frame, 64)
	a = &pipeFramer{out: c1, in: c2}
	b = &pipeFramer{out: c2, in: c1}
	return a, b
}

func (p *pipeFramer) Send(typ, shard uint16, body []byte) error {
	p.out <- record.Frame{FrameHeader: record.FrameHeader{Type: typ, Shard: shard}, Body: body}
	return nil
}

func (p *pipeFramer) Receive() (record.Frame, error) {
	f, ok := <-p.in
	if !ok {
		return record.Frame{}, io.EOF
	}
	return f, nil
}

func (p *pipeFramer) Close() error {
	close(p.out)
	return nil
}

func TestChannelSendReceiveRoundTripsAllMessageTypes(t *testing.T) {
	a, b := newPipeFramerPair()
	chA := NewChannel(a)
	chB := NewChannel(b)

	if err := chA.SendHeartbeat(Heartbeat{WallNS: 42, HighUN: map[uint16]uint64{1: 10}}); err != nil {
		t.Fatalf("SendHeartbeat: %v", err)
	}
	msg, err := chB.Receive()
	if err != nil {
		t.Fatalf("Receive heartbeat: %v", err)
	}
	hb, ok := msg.(*Heartbeat)
	if !ok || hb.WallNS != 42 || hb.HighUN[1] != 10 {
		t.Fatalf("unexpected heartbeat: %+v ok=%v", msg, ok)
	}

	if err := chA.SendAppend(Append{TableID: 1, UN: 7, Op: OpInsertOrUpdate, PrimaryKey: []byte("pk"), RowBuf: []byte("body")}); err != nil {
		t.Fatalf("SendAppend: %v", err)
	}
	msg, err = chB.Receive()
	if err != nil {
		t.Fatalf("Receive append: %v", err)
	}
	ap, ok := msg.(*Append)
	if !ok || ap.UN != 7 || string(ap.PrimaryKey) != "pk" || string(ap.RowBuf) != "body" {
		t.Fatalf("unexpected append: %+v ok=%v", msg, ok)
	}

	if err := chA.SendRecover(Recover{TableID: 1, FromUN: 3}); err != nil {
		t.Fatalf("SendRecover: %v", err)
	}
	msg, err = chB.Receive()
	if err != nil {
		t.Fatalf("Receive recover: %v", err)
	}
	if rc, ok := msg.(*Recover); !ok || rc.FromUN != 3 {
		t.Fatalf("unexpected recover: %+v ok=%v", msg, ok)
	}

	if err := chA.SendEnd(End{TableID: 1, ToUN: 9}); err != nil {
		t.Fatalf("SendEnd: %v", err)
	}
	msg, err = chB.Receive()
	if err != nil {
		t.Fatalf("Receive end: %v", err)
	}
	if e, ok := msg.(*End); !ok || e.ToUN != 9 {
		t.Fatalf("unexpected end: %+v ok=%v", msg, ok)
	}
}
