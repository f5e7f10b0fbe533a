package cluster

import (
	"testing"
	"time"

	"github.com/latticefin/rtdb/internal/storage"
)

func newTestController(self string, warmup time.Duration) *Controller {
	return New(Config{
		SelfID: self,
		Hosts: []Host{
			{ID: "a", Priority: 100},
			{ID: "b", Priority: 50},
			{ID: "c", Priority: 0}, // priority 0: never primary
		},
		WarmupWindow: warmup,
		WarmupBatch:  10,
	})
}

func TestElectionPicksHighestPriorityAmongUp(t *testing.T) {
	c := newTestController("a", 0)
	c.SetState("a", Up)
	c.SetState("b", Up)
	if c.PrimaryID() != "a" {
		t.Fatalf("PrimaryID = %s, want a", c.PrimaryID())
	}
}

func TestElectionBreaksTiesOnLowestID(t *testing.T) {
	c := New(Config{
		SelfID: "x",
		Hosts: []Host{
			{ID: "host-2", Priority: 100},
			{ID: "host-1", Priority: 100},
		},
	})
	c.SetState("host-2", Up)
	c.SetState("host-1", Up)
	if c.PrimaryID() != "host-1" {
		t.Fatalf("PrimaryID = %s, want host-1 (tie broken by lowest id)", c.PrimaryID())
	}
}

func TestPriorityZeroNeverElected(t *testing.T) {
	c := newTestController("c", 0)
	c.SetState("c", Up)
	if c.PrimaryID() == "c" {
		t.Fatal("priority-0 host must never be elected primary")
	}
}

func TestOnPrimaryFiresForSelf(t *testing.T) {
	c := newTestController("a", 0)
	var gotSelf, gotPrev string
	c.OnPrimary(func(selfID, previousPrimaryID string) { gotSelf, gotPrev = selfID, previousPrimaryID })

	c.SetState("a", Up)
	if gotSelf != "a" || gotPrev != "" {
		t.Fatalf("OnPrimary(%q, %q), want (a, \"\")", gotSelf, gotPrev)
	}
}

func TestOnStandbyFiresOnPreemption(t *testing.T) {
	c := newTestController("b", 0) // no warm-up grace window
	var reason string
	c.OnStandby(func(selfID, r string) { reason = r })

	c.SetState("b", Up) // b becomes primary (only host up)
	c.SetState("a", Up) // a has higher priority, preempts b immediately (no warmup window)

	if c.PrimaryID() != "a" {
		t.Fatalf("PrimaryID = %s, want a", c.PrimaryID())
	}
	if reason == "" {
		t.Fatal("expected OnStandby to fire when b is preempted")
	}
}

func TestWarmupWindowBlocksPreemptionOfHealthyPrimary(t *testing.T) {
	c := newTestController("b", time.Hour) // long warmup window
	c.SetState("b", Up)                     // b becomes primary
	c.SetState("a", Up)                     // a has higher priority but shouldn't preempt yet

	if c.PrimaryID() != "b" {
		t.Fatalf("PrimaryID = %s, want b (warm-up window should block preemption)", c.PrimaryID())
	}
}

func TestWarmUpLoadsRowsFromBackingIntoCache(t *testing.T) {
	backing := storage.NewMemTable("orders_backing", nil, nil)
	backing.Write([]byte("pk1"), []byte("body1"), false, nil)
	backing.Write([]byte("pk2"), []byte("body2"), false, nil)

	cache := storage.NewMemTable("orders", nil, nil)
	c := newTestController("a", 0)

	if err := c.WarmUp(map[string]WarmUpTarget{"orders": {Cache: cache, Backing: backing}}); err != nil {
		t.Fatalf("WarmUp: %v", err)
	}

	if _, ok, _ := cache.Find([]byte("pk1")); !ok {
		t.Fatal("expected pk1 warmed into cache")
	}
	if _, ok, _ := cache.Find([]byte("pk2")); !ok {
		t.Fatal("expected pk2 warmed into cache")
	}
}
