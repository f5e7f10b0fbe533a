package storage

import (
	"sync"

	"github.com/latticefin/rtdb/internal/handle"
)

// MemTable is the authoritative in-memory reference implementation of
// Table, backed by internal/handle.Pool. It is used standalone and as the
// base for MockTable.
type MemTable struct {
	name string
	pool *handle.Pool

	mu       sync.Mutex // guards un/unIndex bookkeeping only; row access is single-threaded per C4 contract
	nextUN   uint64
	unIndex  map[uint64][]byte // un -> primary key, for Recover; compacted entries are deleted
	closed   bool
}

// NewMemTable returns an empty MemTable named name. extractors defines the
// table's secondary indexes, keyed by keyID. Unless extractors supplies key
// 0, key 0 is a unique index on the primary key.
func NewMemTable(name string, extractors map[int]handle.KeyFunc, unique map[int]bool) *MemTable {
	pool := handle.NewPool()
	for keyID, fn := range extractors {
		pool.DefineSecondaryIndex(keyID, unique[keyID], fn)
	}
	if _, ok := extractors[0]; !ok {
		pool.DefineSecondaryIndex(0, true, func(r *handle.Row) []byte { return r.PrimaryKey })
	}
	return &MemTable{
		name:    name,
		pool:    pool,
		unIndex: make(map[uint64][]byte),
	}
}

func (t *MemTable) Name() string { return t.name }

func (t *MemTable) Count(keyID int, keyPrefix []byte) (uint64, error) {
	if t.closed {
		return 0, ErrClosed
	}
	return t.pool.Count(keyID, keyPrefix)
}

func (t *MemTable) Find(primaryKey []byte) (*Row, bool, error) {
	if t.closed {
		return nil, false, ErrClosed
	}
	row, ok := t.pool.Find(primaryKey)
	if !ok {
		return nil, false, nil
	}
	return toStorageRow(row), true, nil
}

func (t *MemTable) Select(keyID int, dir Direction, inclusive bool, key []byte, mode KeyMode, limit int) ([]SelectEntry, error) {
	if t.closed {
		return nil, ErrClosed
	}
	entries, err := t.pool.Select(keyID, handle.Direction(dir), inclusive, key, bool(mode), limit)
	if err != nil {
		return nil, err
	}
	out := make([]SelectEntry, len(entries))
	for i, e := range entries {
		se := SelectEntry{Key: e.Key}
		if e.Row != nil {
			se.Row = toStorageRow(e.Row)
		}
		out[i] = se
	}
	return out, nil
}

func (t *MemTable) Recover(un uint64) (*Row, bool, error) {
	if t.closed {
		return nil, false, ErrClosed
	}
	pk, ok := t.unIndex[un]
	if !ok {
		return nil, false, nil
	}
	row, ok := t.pool.Find(pk)
	if !ok || row.UN != un {
		return nil, false, nil
	}
	return toStorageRow(row), true, nil
}

func (t *MemTable) Write(primaryKey, body []byte, tombstone bool, commit CommitFunc) error {
	if t.closed {
		if commit != nil {
			commit(CommitOutcome{Err: ErrClosed})
		}
		return ErrClosed
	}

	t.mu.Lock()
	t.nextUN++
	un := t.nextUN
	t.mu.Unlock()

	var err error
	if tombstone {
		_, err = t.pool.Tombstone(primaryKey, un)
	} else if _, ok := t.pool.Find(primaryKey); ok {
		_, err = t.pool.Update(primaryKey, body, un)
	} else {
		_, err = t.pool.Insert(primaryKey, body, un)
	}

	if err == nil {
		t.mu.Lock()
		t.unIndex[un] = append([]byte(nil), primaryKey...)
		t.mu.Unlock()
	}

	if commit != nil {
		commit(CommitOutcome{UN: un, Err: err})
	}
	return err
}

// WriteWithUN applies a mutation carrying an externally-dictated UN, used to
// apply replicated Append frames on a standby so that the replica's UN
// sequence exactly mirrors the primary's rather than allocating its own.
// It is idempotent: if un has already been applied, it is a no-op.
func (t *MemTable) WriteWithUN(primaryKey, body []byte, tombstone bool, un uint64) error {
	if t.closed {
		return ErrClosed
	}
	t.mu.Lock()
	if _, already := t.unIndex[un]; already {
		t.mu.Unlock()
		return nil
	}
	if un > t.nextUN {
		t.nextUN = un
	}
	t.mu.Unlock()

	var err error
	if tombstone {
		_, err = t.pool.Tombstone(primaryKey, un)
	} else if _, ok := t.pool.Find(primaryKey); ok {
		_, err = t.pool.Update(primaryKey, body, un)
	} else {
		_, err = t.pool.Insert(primaryKey, body, un)
	}
	if err == nil {
		t.mu.Lock()
		t.unIndex[un] = append([]byte(nil), primaryKey...)
		t.mu.Unlock()
	}
	return err
}

// Compact forgets the Recover mapping for un, simulating storage compaction.
func (t *MemTable) Compact(un uint64) {
	t.mu.Lock()
	delete(t.unIndex, un)
	t.mu.Unlock()
}

// Close marks the table closed; subsequent operations return ErrClosed.
func (t *MemTable) Close() error {
	t.closed = true
	return nil
}

// Stats exposes the underlying handle pool's occupancy snapshot, consumed
// by the telemetry DB/DBTable producers.
func (t *MemTable) Stats() handle.Stats {
	return t.pool.Stats()
}

func toStorageRow(r *handle.Row) *Row {
	return &Row{PrimaryKey: r.PrimaryKey, Body: r.Body, UN: r.UN}
}
