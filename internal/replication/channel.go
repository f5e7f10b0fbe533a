package replication

import (
	"fmt"

	"github.com/latticefin/rtdb/internal/record"
)

// ProtocolID is the libp2p protocol used for the replication channel.
const ProtocolID = "/rtdb/replicate/1.0.0"

// Framer is the framing surface a Channel needs; *transport.Framed
// satisfies it over a real libp2p stream, and tests use an in-memory fake.
type Framer interface {
	Send(typ, shard uint16, body []byte) error
	Receive() (record.Frame, error)
	Close() error
}

// Channel is a point-to-point replication stream between two hosts,
// framed with internal/record's length-prefixed codec over a transport
// stream. Shard carries the table id for Append/Recover/RecoverChunk/End
// frames; Heartbeat uses shard 0 since it spans every table. Every frame
// body is little-endian fixed-layout binary, never JSON.
type Channel struct {
	framed Framer
}

// NewChannel wraps an already-open framed stream.
func NewChannel(f Framer) *Channel {
	return &Channel{framed: f}
}

// Close closes the underlying stream.
func (c *Channel) Close() error { return c.framed.Close() }

// SendHeartbeat sends a Heartbeat frame.
func (c *Channel) SendHeartbeat(hb Heartbeat) error {
	return c.framed.Send(TypeHeartbeat, 0, marshalHeartbeat(hb))
}

// SendAppend sends an Append frame for tableID.
func (c *Channel) SendAppend(a Append) error {
	return c.framed.Send(TypeAppend, a.TableID, marshalAppend(a))
}

// SendRecover sends a Recover request for tableID.
func (c *Channel) SendRecover(r Recover) error {
	return c.framed.Send(TypeRecover, r.TableID, marshalRecover(r))
}

// SendRecoverChunk sends one row of a recovery response.
func (c *Channel) SendRecoverChunk(rc RecoverChunk) error {
	return c.framed.Send(TypeRecoverChunk, rc.TableID, marshalRecoverChunk(rc))
}

// SendEnd terminates a recovery stream for tableID.
func (c *Channel) SendEnd(e End) error {
	return c.framed.Send(TypeEnd, e.TableID, marshalEnd(e))
}

// Receive reads the next frame and decodes it to its concrete message type:
// one of *Heartbeat, *Append, *Recover, *RecoverChunk, *End.
func (c *Channel) Receive() (interface{}, error) {
	frame, err := c.framed.Receive()
	if err != nil {
		return nil, err
	}

	switch frame.Type {
	case TypeHeartbeat:
		m, err := unmarshalHeartbeat(frame.Body)
		if err != nil {
			return nil, fmt.Errorf("replication: decoding heartbeat: %w", err)
		}
		return &m, nil
	case TypeAppend:
		m, err := unmarshalAppend(frame.Body)
		if err != nil {
			return nil, fmt.Errorf("replication: decoding append: %w", err)
		}
		return &m, nil
	case TypeRecover:
		m, err := unmarshalRecover(frame.Body)
		if err != nil {
			return nil, fmt.Errorf("replication: decoding recover: %w", err)
		}
		return &m, nil
	case TypeRecoverChunk:
		m, err := unmarshalRecoverChunk(frame.Body)
		if err != nil {
			return nil, fmt.Errorf("replication: decoding recover chunk: %w", err)
		}
		return &m, nil
	case TypeEnd:
		m, err := unmarshalEnd(frame.Body)
		if err != nil {
			return nil, fmt.Errorf("replication: decoding end: %w", err)
		}
		return &m, nil
	default:
		return nil, fmt.Errorf("replication: unknown frame type %d", frame.Type)
	}
}
