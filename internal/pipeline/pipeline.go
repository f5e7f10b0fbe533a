// Package pipeline implements the command pipeline (C4): a per-table
// single-goroutine FIFO queue of operations against the handle pool and
// storage adapter, ordered by update number.
//
// Each Pipeline pins all mutation and cache-read work for one table to a
// single goroutine, mirroring the teacher's one-goroutine-per-subsystem
// convention (RetryWorker.run, PeerMonitor.run): no locks protect the
// cache itself, other goroutines interact only by posting closures.
package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/latticefin/rtdb/internal/storage"
	"github.com/latticefin/rtdb/pkg/logging"
)

// CacheMode selects how a table's in-memory cache relates to its backing
// store's acknowledgement.
type CacheMode int

const (
	// WriteThrough defers the cache mutation until the backing store
	// acknowledges; the in-memory row becomes the commit outcome.
	WriteThrough CacheMode = iota
	// WriteBack commits the cache mutation immediately; the backing
	// store's ack only advances the persisted-UN watermark used to decide
	// what can be pruned.
	WriteBack
)

// ErrNoBacking is returned when a write-through table has no backing store
// configured, so durability cannot be acknowledged.
var ErrNoBacking = errors.New("pipeline: write-through table has no backing store")

// WriteCallback receives the outcome of a Write or FindAndModify.
type WriteCallback func(un uint64, err error)

// FindCallback receives a read's result. The row reference is valid only
// for the duration of the callback.
type FindCallback func(row *storage.Row, ok bool, err error)

// SelectCallback receives a Select's result.
type SelectCallback func(entries []storage.SelectEntry, err error)

// MutateFunc is invoked by FindAndModify with the row's current state (nil
// if absent); it returns the new body to write (or tombstone=true to
// delete), or ok=false to abort the operation with no write.
type MutateFunc func(row *storage.Row, found bool) (newBody []byte, tombstone bool, ok bool, err error)

// RetryPolicy configures write-back retry backoff, following the teacher's
// RetryWorker.calculateNextRetry shape: doubling from Base up to Max.
type RetryPolicy struct {
	Base       time.Duration
	Max        time.Duration
	Multiplier float64
}

// DefaultRetryPolicy matches the teacher's 10s-to-10-minute backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Base: 10 * time.Second, Max: 10 * time.Minute, Multiplier: 2.0}
}

func (p RetryPolicy) nextDelay(attempt int) time.Duration {
	d := p.Base
	for i := 0; i < attempt; i++ {
		d = time.Duration(float64(d) * p.Multiplier)
		if d > p.Max {
			return p.Max
		}
	}
	return d
}

// ReplicateFunc publishes a committed write to the replication channel
// (C5); nil disables replication (standalone mode).
type ReplicateFunc func(tableName string, un uint64, primaryKey, body []byte, tombstone bool)

// Pipeline is the per-table command thread.
type Pipeline struct {
	name    string
	cache   *storage.MemTable // C2/authoritative in-memory view
	backing storage.Table     // C3 pluggable persistence; nil in standalone mode
	mode    CacheMode
	retry   RetryPolicy
	onWrite ReplicateFunc
	log     *logging.Logger

	ops chan func()
	stop chan struct{}
	done chan struct{}

	persistedUN uint64
	dirty       map[string]*dirtyEntry
}

type dirtyEntry struct {
	primaryKey []byte
	body       []byte
	tombstone  bool
	un         uint64
	attempt    int
	timer      *time.Timer
}

// Config configures a new Pipeline.
type Config struct {
	Name      string
	Cache     *storage.MemTable
	Backing   storage.Table
	Mode      CacheMode
	Retry     RetryPolicy
	OnWrite   ReplicateFunc
	QueueSize int
}

// New starts a Pipeline's command goroutine and returns it.
func New(cfg Config) *Pipeline {
	qsize := cfg.QueueSize
	if qsize <= 0 {
		qsize = 256
	}
	p := &Pipeline{
		name:    cfg.Name,
		cache:   cfg.Cache,
		backing: cfg.Backing,
		mode:    cfg.Mode,
		retry:   cfg.Retry,
		onWrite: cfg.OnWrite,
		log:     logging.GetDefault().Component("pipeline-" + cfg.Name),
		ops:     make(chan func(), qsize),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		dirty:   make(map[string]*dirtyEntry),
	}
	if p.retry == (RetryPolicy{}) {
		p.retry = DefaultRetryPolicy()
	}
	go p.run()
	return p
}

// Name returns the table name this pipeline serves.
func (p *Pipeline) Name() string { return p.name }

func (p *Pipeline) run() {
	defer close(p.done)
	for {
		select {
		case op := <-p.ops:
			op()
		case <-p.stop:
			// Drain any already-queued ops before exiting so in-flight
			// callers don't hang waiting on a callback that never fires.
			for {
				select {
				case op := <-p.ops:
					op()
				default:
					return
				}
			}
		}
	}
}

// Stop drains the queue and terminates the command goroutine, blocking
// until it has exited. A second Stop returns once the goroutine has exited.
func (p *Pipeline) Stop() {
	select {
	case <-p.stop:
	default:
		close(p.stop)
	}
	<-p.done
}

// Write enqueues a write (insert/update, or tombstone if tombstone is
// true). cb is invoked on the pipeline's goroutine once the write commits
// or fails.
func (p *Pipeline) Write(primaryKey, body []byte, tombstone bool, cb WriteCallback) {
	p.ops <- func() { p.doWrite(primaryKey, body, tombstone, cb) }
}

func (p *Pipeline) doWrite(primaryKey, body []byte, tombstone bool, cb WriteCallback) {
	switch p.mode {
	case WriteThrough:
		p.writeThrough(primaryKey, body, tombstone, cb)
	default:
		p.writeBack(primaryKey, body, tombstone, cb)
	}
}

// writeThrough commits to the backing store first (if any); only on
// success does the in-memory cache reflect the mutation.
func (p *Pipeline) writeThrough(primaryKey, body []byte, tombstone bool, cb WriteCallback) {
	if p.backing == nil {
		p.cache.Write(primaryKey, body, tombstone, func(o storage.CommitOutcome) {
			if p.onWrite != nil && o.Err == nil {
				p.onWrite(p.name, o.UN, primaryKey, body, tombstone)
			}
			if cb != nil {
				cb(o.UN, o.Err)
			}
		})
		return
	}

	p.backing.Write(primaryKey, body, tombstone, func(bo storage.CommitOutcome) {
		if bo.Err != nil {
			// Step 2 (cache mutation) never happened in write-through mode;
			// nothing to roll back. Surface as write-failed.
			if cb != nil {
				cb(0, bo.Err)
			}
			return
		}
		p.cache.Write(primaryKey, body, tombstone, func(co storage.CommitOutcome) {
			if co.Err == nil && p.onWrite != nil {
				p.onWrite(p.name, co.UN, primaryKey, body, tombstone)
			}
			if cb != nil {
				cb(co.UN, co.Err)
			}
		})
	})
}

// writeBack commits to the cache immediately; the backing store is written
// in the background with retry, and only advances persistedUN on success.
func (p *Pipeline) writeBack(primaryKey, body []byte, tombstone bool, cb WriteCallback) {
	p.cache.Write(primaryKey, body, tombstone, func(co storage.CommitOutcome) {
		if co.Err != nil {
			if cb != nil {
				cb(0, co.Err)
			}
			return
		}
		if p.onWrite != nil {
			p.onWrite(p.name, co.UN, primaryKey, body, tombstone)
		}
		if cb != nil {
			cb(co.UN, nil)
		}
		if p.backing != nil {
			p.persistAsync(primaryKey, body, tombstone, co.UN)
		} else {
			p.persistedUN = co.UN
		}
	})
}

func (p *Pipeline) persistAsync(primaryKey, body []byte, tombstone bool, un uint64) {
	p.backing.Write(primaryKey, body, tombstone, func(bo storage.CommitOutcome) {
		p.ops <- func() {
			if bo.Err == nil {
				delete(p.dirty, string(primaryKey))
				if un > p.persistedUN {
					p.persistedUN = un
				}
				return
			}
			p.log.Warn("write-back persist failed, scheduling retry", "table", p.name, "error", bo.Err)
			p.scheduleRetry(primaryKey, body, tombstone, un)
		}
	})
}

func (p *Pipeline) scheduleRetry(primaryKey, body []byte, tombstone bool, un uint64) {
	key := string(primaryKey)
	entry, exists := p.dirty[key]
	if !exists {
		entry = &dirtyEntry{primaryKey: primaryKey}
		p.dirty[key] = entry
	}
	entry.body = body
	entry.tombstone = tombstone
	entry.un = un
	delay := p.retry.nextDelay(entry.attempt)
	entry.attempt++
	entry.timer = time.AfterFunc(delay, func() {
		p.ops <- func() { p.persistAsync(entry.primaryKey, entry.body, entry.tombstone, entry.un) }
	})
}

// PersistedUN returns the highest UN the backing store has acknowledged in
// write-back mode (used to decide what can safely be pruned).
func (p *Pipeline) PersistedUN() uint64 { return p.persistedUN }

// DirtyCount returns how many rows currently have a pending/retrying
// write-back persist.
func (p *Pipeline) DirtyCount() int { return len(p.dirty) }

// Find looks up a row by primary key against the cache.
func (p *Pipeline) Find(primaryKey []byte, cb FindCallback) {
	p.ops <- func() {
		row, ok, err := p.cache.Find(primaryKey)
		cb(row, ok, err)
	}
}

// Select scans the cache's keyID index.
func (p *Pipeline) Select(keyID int, dir storage.Direction, inclusive bool, key []byte, mode storage.KeyMode, limit int, cb SelectCallback) {
	p.ops <- func() {
		entries, err := p.cache.Select(keyID, dir, inclusive, key, mode, limit)
		cb(entries, err)
	}
}

// Recover returns the row for exactly the given UN, used on replica
// catch-up.
func (p *Pipeline) Recover(un uint64, cb FindCallback) {
	p.ops <- func() {
		row, ok, err := p.cache.Recover(un)
		cb(row, ok, err)
	}
}

// CountCallback receives a Count's result.
type CountCallback func(n uint64, err error)

// Count returns the number of rows indexed under keyID with the given key
// prefix, routed through the table's command queue like every other cache
// read.
func (p *Pipeline) Count(keyID int, keyPrefix []byte, cb CountCallback) {
	p.ops <- func() {
		n, err := p.cache.Count(keyID, keyPrefix)
		cb(n, err)
	}
}

// FindAndModify is a fused find+mutate+write: the pipeline's single
// goroutine runs fn synchronously with no other op interleaved for this
// table, applies the returned mutation, and proceeds as a Write.
func (p *Pipeline) FindAndModify(primaryKey []byte, fn MutateFunc, cb WriteCallback) {
	p.ops <- func() {
		row, ok, err := p.cache.Find(primaryKey)
		if err != nil {
			if cb != nil {
				cb(0, err)
			}
			return
		}
		newBody, tombstone, proceed, mutErr := fn(row, ok)
		if mutErr != nil {
			if cb != nil {
				cb(0, mutErr)
			}
			return
		}
		if !proceed {
			if cb != nil {
				cb(0, nil)
			}
			return
		}
		p.doWrite(primaryKey, newBody, tombstone, cb)
	}
}

// ApplyReplicated applies an Append frame received from the primary (C5)
// directly to the cache, bypassing UN allocation (the UN is dictated by
// the primary). It is idempotent: re-applying the same UN is a no-op.
func (p *Pipeline) ApplyReplicated(un uint64, primaryKey, body []byte, tombstone bool, cb func(error)) {
	p.ops <- func() {
		err := p.cache.WriteWithUN(primaryKey, body, tombstone, un)
		if err != nil {
			err = fmt.Errorf("pipeline: apply replicated UN %d: %w", un, err)
		}
		if err == nil && un > p.persistedUN {
			p.persistedUN = un
		}
		if cb != nil {
			cb(err)
		}
	}
}
