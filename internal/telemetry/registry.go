package telemetry

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// watchEntry is one retained subscription. Entries are kept in a slice, not
// a map, so FIFO (insertion) order survives subscribe/unsubscribe churn.
type watchEntry struct {
	id         string
	filter     string
	intervalMS int
	output     chan<- Frame
}

type watchList struct {
	mu      sync.Mutex
	entries []*watchEntry
	ticker  *time.Ticker
	stop    chan struct{}
}

// Registry holds one watch list per request type and one shared timer per
// type. The timer's period is the minimum interval among that type's
// watches, clamped to a configured floor; it is rescheduled whenever
// membership changes and cancelled when the last watch of a type is
// removed.
type Registry struct {
	mu     sync.Mutex
	lists  map[RequestType]*watchList
	floor  time.Duration
	onTick func(RequestType)
}

// NewRegistry returns a Registry. onTick is invoked (off the caller's
// goroutine) once per scheduled tick for a request type; the Dispatcher
// wires this to its scan-and-deliver pass.
func NewRegistry(floor time.Duration, onTick func(RequestType)) *Registry {
	if floor <= 0 {
		floor = 100 * time.Millisecond
	}
	return &Registry{lists: make(map[RequestType]*watchList), floor: floor, onTick: onTick}
}

func (r *Registry) listFor(typ RequestType) *watchList {
	r.mu.Lock()
	defer r.mu.Unlock()
	wl, ok := r.lists[typ]
	if !ok {
		wl = &watchList{}
		r.lists[typ] = wl
	}
	return wl
}

// Subscribe registers a retained watch and returns its id. Callers with
// intervalMS == 0 must not call Subscribe; per spec.md §4.7 a zero interval
// gets a single immediate snapshot and no retained watch (see
// Dispatcher.Subscribe, which handles that case before ever reaching here).
func (r *Registry) Subscribe(typ RequestType, filter string, intervalMS int, output chan<- Frame) string {
	id := uuid.New().String()
	wl := r.listFor(typ)

	wl.mu.Lock()
	wl.entries = append(wl.entries, &watchEntry{id: id, filter: filter, intervalMS: intervalMS, output: output})
	wl.mu.Unlock()

	r.reschedule(typ, wl)
	return id
}

// Unsubscribe removes a watch by id. If no watches of its type remain, the
// type's timer is cancelled.
func (r *Registry) Unsubscribe(typ RequestType, id string) {
	wl := r.listFor(typ)

	wl.mu.Lock()
	kept := wl.entries[:0]
	for _, e := range wl.entries {
		if e.id != id {
			kept = append(kept, e)
		}
	}
	wl.entries = kept
	wl.mu.Unlock()

	r.reschedule(typ, wl)
}

// Watches returns a FIFO snapshot of the current watches for typ.
func (r *Registry) Watches(typ RequestType) []*watchEntry {
	wl := r.listFor(typ)
	wl.mu.Lock()
	defer wl.mu.Unlock()
	out := make([]*watchEntry, len(wl.entries))
	copy(out, wl.entries)
	return out
}

// reschedule recomputes the type's timer period from its current watch set
// and restarts (or cancels) the ticker goroutine accordingly.
func (r *Registry) reschedule(typ RequestType, wl *watchList) {
	wl.mu.Lock()
	n := len(wl.entries)
	var minInterval time.Duration
	for _, e := range wl.entries {
		d := time.Duration(e.intervalMS) * time.Millisecond
		if minInterval == 0 || d < minInterval {
			minInterval = d
		}
	}
	if wl.ticker != nil {
		wl.ticker.Stop()
		close(wl.stop)
		wl.ticker = nil
		wl.stop = nil
	}
	if n == 0 {
		wl.mu.Unlock()
		return
	}
	if minInterval < r.floor {
		minInterval = r.floor
	}
	ticker := time.NewTicker(minInterval)
	stop := make(chan struct{})
	wl.ticker = ticker
	wl.stop = stop
	wl.mu.Unlock()

	go func() {
		for {
			select {
			case <-ticker.C:
				if r.onTick != nil {
					r.onTick(typ)
				}
			case <-stop:
				return
			}
		}
	}()
}
