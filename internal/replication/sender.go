package replication

import (
	"time"

	"github.com/latticefin/rtdb/pkg/logging"
)

// defaultCongestionTimeout is how long an outbound frame may wait for queue
// space before the sender gives up on this peer and disconnects it, per
// spec.md §4.5's "on prolonged congestion the sender disconnects the slow
// peer."
const defaultCongestionTimeout = 10 * time.Second

// Sender paces outbound Append/Heartbeat/recovery frames to one peer
// through a bounded queue, so a slow receiver cannot force unbounded
// buffering. A goroutine drains the queue onto the Channel in order; if the
// queue stays full past the congestion timeout the peer is disconnected.
type Sender struct {
	ch  *Channel
	log *logging.Logger

	queue             chan func(*Channel) error
	stop              chan struct{}
	done              chan struct{}
	onStuck           func()
	congestionTimeout time.Duration
}

// NewSender starts a Sender's drain goroutine. onStuck is invoked each time
// an enqueue finds the queue full past the congestion timeout; callers typically
// use it to tear down the connection so the peer reconnects and recovers.
func NewSender(ch *Channel, queueSize int, onStuck func()) *Sender {
	return newSender(ch, queueSize, defaultCongestionTimeout, onStuck)
}

// newSenderWithTimeout is exposed to tests so the congestion path can be
// exercised without waiting out the production timeout.
func newSenderWithTimeout(ch *Channel, queueSize int, timeout time.Duration, onStuck func()) *Sender {
	return newSender(ch, queueSize, timeout, onStuck)
}

func newSender(ch *Channel, queueSize int, timeout time.Duration, onStuck func()) *Sender {
	if queueSize <= 0 {
		queueSize = 256
	}
	s := &Sender{
		ch:                ch,
		log:               logging.GetDefault().Component("replication-sender"),
		queue:             make(chan func(*Channel) error, queueSize),
		stop:              make(chan struct{}),
		done:              make(chan struct{}),
		onStuck:           onStuck,
		congestionTimeout: timeout,
	}
	go s.run()
	return s
}

func (s *Sender) run() {
	defer close(s.done)
	for {
		select {
		case send := <-s.queue:
			if err := send(s.ch); err != nil {
				s.log.Warn("replication send failed", "error", err)
				return
			}
		case <-s.stop:
			return
		}
	}
}

// Stop drains no further frames and terminates the sender goroutine.
func (s *Sender) Stop() {
	close(s.stop)
	<-s.done
}

// enqueue posts send onto the bounded queue, blocking up to
// congestionTimeout; past that, onStuck fires and the frame is dropped.
func (s *Sender) enqueue(send func(*Channel) error) {
	select {
	case s.queue <- send:
	case <-time.After(s.congestionTimeout):
		s.log.Warn("replication peer congested past timeout, disconnecting")
		if s.onStuck != nil {
			s.onStuck()
		}
	case <-s.stop:
	}
}

// Heartbeat enqueues a Heartbeat frame.
func (s *Sender) Heartbeat(hb Heartbeat) {
	s.enqueue(func(c *Channel) error { return c.SendHeartbeat(hb) })
}

// Append enqueues an Append frame. Appends for the same table must be
// enqueued by the caller in increasing UN order; the single drain goroutine
// preserves that order on the wire.
func (s *Sender) Append(a Append) {
	s.enqueue(func(c *Channel) error { return c.SendAppend(a) })
}

// Recover enqueues a Recover request.
func (s *Sender) Recover(r Recover) {
	s.enqueue(func(c *Channel) error { return c.SendRecover(r) })
}

// RecoverChunk enqueues a recovery response row.
func (s *Sender) RecoverChunk(rc RecoverChunk) {
	s.enqueue(func(c *Channel) error { return c.SendRecoverChunk(rc) })
}

// End enqueues an End frame closing a recovery stream.
func (s *Sender) End(e End) {
	s.enqueue(func(c *Channel) error { return c.SendEnd(e) })
}

// QueueDepth returns the number of frames currently queued, used by
// telemetry to surface per-peer replication lag.
func (s *Sender) QueueDepth() int { return len(s.queue) }
