// Package cluster implements the cluster controller (C6): the host set,
// priority-ordered election, warm-up grace window, and primary/standby role
// callbacks. Writes are rejected on standbys; callers must route writes to
// the elected primary.
package cluster

import (
	"sync"
	"time"

	"github.com/latticefin/rtdb/pkg/logging"
)

// State is a cluster member's observed connectivity.
type State int

const (
	Down State = iota
	Connecting
	Up
	Inactive
)

func (s State) String() string {
	switch s {
	case Down:
		return "down"
	case Connecting:
		return "connecting"
	case Up:
		return "up"
	case Inactive:
		return "inactive"
	default:
		return "unknown"
	}
}

// Host is one cluster member.
type Host struct {
	ID       string
	Addr     string
	Priority int
	State    State

	// LastKnownUN is the highest UN this host is known to have acknowledged
	// per table, from its most recent Heartbeat.
	LastKnownUN map[uint16]uint64
}

// Config configures a Controller.
type Config struct {
	SelfID       string
	Hosts        []Host
	WarmupWindow time.Duration
	WarmupBatch  int
}

// Controller tracks cluster membership and runs the election rule: the
// host with the highest priority among state=up, priority>0 hosts is
// primary; ties break on lowest id. A former primary rejoining at higher
// priority does not preempt a healthy lower-priority primary until the
// warm-up grace window (measured from controller start) elapses.
type Controller struct {
	selfID      string
	warmupWin   time.Duration
	warmupBatch int
	startedAt   time.Time
	log         *logging.Logger

	mu             sync.Mutex
	hosts          map[string]*Host
	currentPrimary string

	onPrimary func(selfID, previousPrimaryID string)
	onStandby func(selfID, reason string)
}

// New returns a Controller with the configured static host set.
func New(cfg Config) *Controller {
	c := &Controller{
		selfID:      cfg.SelfID,
		warmupWin:   cfg.WarmupWindow,
		warmupBatch: cfg.WarmupBatch,
		startedAt:   time.Now(),
		log:         logging.GetDefault().Component("cluster"),
		hosts:       make(map[string]*Host),
	}
	for _, h := range cfg.Hosts {
		hc := h
		if hc.LastKnownUN == nil {
			hc.LastKnownUN = make(map[uint16]uint64)
		}
		c.hosts[h.ID] = &hc
	}
	return c
}

// OnPrimary registers the callback invoked when this host transitions to
// primary.
func (c *Controller) OnPrimary(fn func(selfID, previousPrimaryID string)) {
	c.mu.Lock()
	c.onPrimary = fn
	c.mu.Unlock()
}

// OnStandby registers the callback invoked when this host loses the primary
// role; it is not invoked for a host that never held it.
func (c *Controller) OnStandby(fn func(selfID, reason string)) {
	c.mu.Lock()
	c.onStandby = fn
	c.mu.Unlock()
}

// SetState updates a host's connectivity state and re-runs the election.
func (c *Controller) SetState(id string, state State) {
	c.mu.Lock()
	h, ok := c.hosts[id]
	if !ok {
		c.mu.Unlock()
		return
	}
	h.State = state
	c.mu.Unlock()

	c.reelect()
}

// UpdateHeartbeat records the latest high-water UN a peer has reported.
func (c *Controller) UpdateHeartbeat(id string, highUN map[uint16]uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.hosts[id]
	if !ok {
		return
	}
	for table, un := range highUN {
		if un > h.LastKnownUN[table] {
			h.LastKnownUN[table] = un
		}
	}
}

// IsPrimary reports whether this host currently holds the primary role.
func (c *Controller) IsPrimary() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentPrimary == c.selfID
}

// PrimaryID returns the id of the currently elected primary, or "" if none.
func (c *Controller) PrimaryID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentPrimary
}

// reelect applies the election rule and fires role callbacks on any change
// to this host's role.
func (c *Controller) reelect() {
	c.mu.Lock()

	best := electBest(c.hosts)
	previous := c.currentPrimary

	if best == nil {
		if previous == "" {
			c.mu.Unlock()
			return
		}
		c.currentPrimary = ""
		onStandby := c.onStandby
		c.mu.Unlock()
		if previous == c.selfID && onStandby != nil {
			onStandby(c.selfID, "no eligible primary")
		}
		return
	}
	if previous == best.ID {
		c.mu.Unlock()
		return
	}

	// A healthy current primary is not preempted by a higher-priority host
	// rejoining until the warm-up grace window elapses.
	if previous != "" && time.Since(c.startedAt) < c.warmupWin {
		if cur, ok := c.hosts[previous]; ok && cur.State == Up {
			c.mu.Unlock()
			return
		}
	}

	c.currentPrimary = best.ID
	wasSelf := previous == c.selfID
	becomesSelf := best.ID == c.selfID
	onPrimary := c.onPrimary
	onStandby := c.onStandby
	c.mu.Unlock()

	switch {
	case becomesSelf && onPrimary != nil:
		onPrimary(c.selfID, previous)
	case wasSelf && !becomesSelf && onStandby != nil:
		onStandby(c.selfID, "preempted by higher-priority host "+best.ID)
	}
}

// electBest picks the highest-priority host among state=up, priority>0
// candidates, breaking ties on lowest id. It returns nil if no host
// qualifies.
func electBest(hosts map[string]*Host) *Host {
	var best *Host
	for _, h := range hosts {
		if h.State != Up || h.Priority <= 0 {
			continue
		}
		if best == nil {
			best = h
			continue
		}
		if h.Priority > best.Priority || (h.Priority == best.Priority && h.ID < best.ID) {
			best = h
		}
	}
	return best
}
