package telemetry

import (
	"sync"
	"time"

	"github.com/latticefin/rtdb/pkg/logging"
)

const (
	defaultSubscriberBuffer     = 64
	defaultBackpressureTimeout = 5 * time.Second
)

// Dispatcher iterates externally registered Producers for each request
// type on every Registry tick, applies each matching watch's filter, and
// fans matching samples out to subscriber output channels. A subscriber
// whose output stalls past the backpressure timeout is disconnected, per
// spec.md §7's "telemetry subscribers observe a disconnect if the
// subscriber's output backpressure stalls beyond a threshold" — the same
// bounded-wait-then-drop shape as internal/replication's Sender.
type Dispatcher struct {
	reg *Registry
	log *logging.Logger

	mu                  sync.Mutex
	producers           map[RequestType][]Producer
	backpressureTimeout time.Duration
}

// NewDispatcher returns a Dispatcher whose Registry ticks are clamped to
// floor.
func NewDispatcher(floor time.Duration) *Dispatcher {
	d := &Dispatcher{
		producers:           make(map[RequestType][]Producer),
		log:                 logging.GetDefault().Component("telemetry"),
		backpressureTimeout: defaultBackpressureTimeout,
	}
	d.reg = NewRegistry(floor, d.tick)
	return d
}

// RegisterProducer adds a sample source for typ. Multiple producers may be
// registered for the same type; their samples are concatenated on each
// scan. A Mx producer may also emit Queue/Socket-shaped samples registered
// under Queue, coalescing the per-thread Rx/overflow ring and open-socket
// samples into the same dispatch tick, per spec.md §4.8.
func (d *Dispatcher) RegisterProducer(typ RequestType, p Producer) {
	d.mu.Lock()
	d.producers[typ] = append(d.producers[typ], p)
	d.mu.Unlock()
}

// Subscribe registers interest in typ matching filter. If intervalMS is
// zero, one immediate snapshot is pushed onto the returned channel (which
// is then closed) and no watch is retained — the returned id is "" in this
// case, and Unsubscribe on it is a no-op. Otherwise the channel receives
// one delivery per matching sample per tick until Unsubscribe is called or
// the subscriber is dropped for sustained backpressure.
func (d *Dispatcher) Subscribe(typ RequestType, filter string, intervalMS int) (id string, frames <-chan Frame) {
	out := make(chan Frame, defaultSubscriberBuffer)
	if intervalMS == 0 {
		go func() {
			defer close(out)
			d.scanOnce(typ, filter, out)
		}()
		return "", out
	}
	id = d.reg.Subscribe(typ, filter, intervalMS, out)
	return id, out
}

// Unsubscribe removes a retained watch.
func (d *Dispatcher) Unsubscribe(typ RequestType, id string) {
	if id == "" {
		return
	}
	d.reg.Unsubscribe(typ, id)
}

// tick performs one producer scan for typ and delivers matching samples to
// every current watch of that type, walked in FIFO (insertion) order.
func (d *Dispatcher) tick(typ RequestType) {
	samples := d.sample(typ)
	now := time.Now().UnixNano()

	for _, w := range d.reg.Watches(typ) {
		for _, s := range samples {
			if !matchFilter(w.filter, s.Key) {
				continue
			}
			frame := Frame{Type: typ, Key: s.Key, Data: s.Data, TimestampNS: now}
			if !d.deliver(w.output, frame) {
				d.log.Warn("telemetry subscriber disconnected on backpressure", "type", typ, "watch", w.id)
				d.reg.Unsubscribe(typ, w.id)
				break
			}
		}
	}
}

// scanOnce delivers every currently-matching sample once, for the
// zero-interval immediate-snapshot path.
func (d *Dispatcher) scanOnce(typ RequestType, filter string, out chan<- Frame) {
	now := time.Now().UnixNano()
	for _, s := range d.sample(typ) {
		if !matchFilter(filter, s.Key) {
			continue
		}
		out <- Frame{Type: typ, Key: s.Key, Data: s.Data, TimestampNS: now}
	}
}

func (d *Dispatcher) sample(typ RequestType) []Sample {
	d.mu.Lock()
	producers := append([]Producer(nil), d.producers[typ]...)
	d.mu.Unlock()

	var out []Sample
	for _, p := range producers {
		out = append(out, p.Sample()...)
	}
	return out
}

// deliver pushes frame onto output, giving a slow consumer up to
// backpressureTimeout before reporting sustained backpressure.
func (d *Dispatcher) deliver(output chan<- Frame, frame Frame) bool {
	select {
	case output <- frame:
		return true
	case <-time.After(d.backpressureTimeout):
		return false
	}
}
