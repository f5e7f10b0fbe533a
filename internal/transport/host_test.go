package transport

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
)

func newTestHost(t *testing.T) *Host {
	t.Helper()
	cfg := Config{
		ListenAddrs:  []string{"/ip4/127.0.0.1/tcp/0"},
		IdentityPath: filepath.Join(t.TempDir(), "identity.key"),
		ConnMgrLow:   8,
		ConnMgrHigh:  32,
	}
	h, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	return h
}

func TestHostDialAndFramedRoundTrip(t *testing.T) {
	const pid protocol.ID = "/rtdb/test/1.0.0"

	server := newTestHost(t)
	client := newTestHost(t)

	received := make(chan string, 1)
	server.SetStreamHandler(pid, func(f *Framed) {
		frame, err := f.Receive()
		if err != nil {
			t.Errorf("server Receive: %v", err)
			return
		}
		received <- string(frame.Body)
		if err := f.Send(1, 0, []byte("ack")); err != nil {
			t.Errorf("server Send: %v", err)
		}
	})

	serverAddrs := server.Addrs()
	if len(serverAddrs) == 0 {
		t.Fatal("server has no listen addresses")
	}
	addr := serverAddrs[0].String() + "/p2p/" + server.ID().String()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	peerID, err := client.Dial(ctx, addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	stream, err := client.OpenStream(ctx, peerID, pid)
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	defer stream.Close()

	if err := stream.Send(1, 0, []byte("hello")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case got := <-received:
		if got != "hello" {
			t.Fatalf("server received %q, want hello", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for server to receive frame")
	}

	ack, err := stream.Receive()
	if err != nil {
		t.Fatalf("Receive ack: %v", err)
	}
	if string(ack.Body) != "ack" {
		t.Fatalf("ack body = %q, want ack", ack.Body)
	}
}

func TestHostPeerConnectedCallback(t *testing.T) {
	server := newTestHost(t)
	client := newTestHost(t)

	connected := make(chan peer.ID, 1)
	server.OnPeerConnected(func(id peer.ID) { connected <- id })

	addr := server.Addrs()[0].String() + "/p2p/" + server.ID().String()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Dial(ctx, addr); err != nil {
		t.Fatalf("Dial: %v", err)
	}

	select {
	case id := <-connected:
		if id != client.ID() {
			t.Fatalf("connected peer = %s, want %s", id, client.ID())
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for OnPeerConnected callback")
	}
}
