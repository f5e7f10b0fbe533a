package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"

	"github.com/latticefin/rtdb/internal/record"
)

const (
	defaultReadTimeout  = 60 * time.Second
	defaultWriteTimeout = 30 * time.Second
)

// Framed wraps a libp2p stream with internal/record's length-prefixed frame
// codec, validating inbound bodies against reg (nil skips validation).
type Framed struct {
	stream network.Stream
	writer *record.Writer
	reader *record.Reader
}

// NewFramed wraps an already-open stream, validating inbound frame bodies
// against reg.
func NewFramed(s network.Stream, reg *record.Registry) *Framed {
	return &Framed{
		stream: s,
		writer: record.NewWriter(s),
		reader: record.NewReader(s, reg),
	}
}

// Send writes one frame, applying the default write deadline.
func (f *Framed) Send(typ, shard uint16, body []byte) error {
	f.stream.SetWriteDeadline(time.Now().Add(defaultWriteTimeout))
	return f.writer.WriteFrame(typ, shard, time.Now().UnixNano(), body)
}

// Receive reads one frame, applying the default read deadline.
func (f *Framed) Receive() (record.Frame, error) {
	f.stream.SetReadDeadline(time.Now().Add(defaultReadTimeout))
	frame, _, err := f.reader.ReadFrame()
	return frame, err
}

// RemotePeer returns the peer on the other end of the stream.
func (f *Framed) RemotePeer() peer.ID { return f.stream.Conn().RemotePeer() }

// Close closes the underlying stream.
func (f *Framed) Close() error { return f.stream.Close() }

// HandlerFunc processes one inbound framed stream. The stream is closed by
// the caller once HandlerFunc returns.
type HandlerFunc func(*Framed)

// SetStreamHandler registers handler for every inbound stream opened on pid.
func (t *Host) SetStreamHandler(pid protocol.ID, handler HandlerFunc) {
	t.host.SetStreamHandler(pid, func(s network.Stream) {
		defer s.Close()
		handler(NewFramed(s, t.registry))
	})
}

// RemoveStreamHandler unregisters the handler for pid.
func (t *Host) RemoveStreamHandler(pid protocol.ID) {
	t.host.RemoveStreamHandler(pid)
}

// OpenStream opens a new stream to id on protocol pid.
func (t *Host) OpenStream(ctx context.Context, id peer.ID, pid protocol.ID) (*Framed, error) {
	s, err := t.host.NewStream(ctx, id, pid)
	if err != nil {
		return nil, fmt.Errorf("transport: opening stream to %s: %w", id, err)
	}
	return NewFramed(s, t.registry), nil
}
