// Package handle implements the row handle pool (C2): the primary hash index
// and ordered secondary red-black tree indexes that back an in-memory table.
//
// A Pool is owned by exactly one command thread (see internal/pipeline); it
// performs no internal locking on row access, matching the single-threaded
// command-thread discipline described for the store.
package handle

import "github.com/latticefin/rtdb/pkg/helpers"

// Row owns one table row's current payload, its update number, its delete
// marker, and one index node per defined secondary key. The primary key
// lives directly on the row and may not change after insert.
type Row struct {
	PrimaryKey []byte
	Body       []byte
	UN         uint64
	Tombstoned bool

	secondary map[int]*rbNode // keyID -> this row's node in that secondary index
}

// Pool owns a set of Row values for one table, indexed by primary key and by
// zero or more secondary keys.
type Pool struct {
	primary    map[string]*Row
	secondary  map[int]*rbTree // keyID -> secondary index
	extractors map[int]KeyFunc
	tombstones int
}

// KeyFunc extracts a secondary key from a row's body. Extractors must be
// pure functions of Body (and PrimaryKey, if useful) with no side effects.
type KeyFunc func(row *Row) []byte

// NewPool returns an empty Pool.
func NewPool() *Pool {
	return &Pool{
		primary:    make(map[string]*Row),
		secondary:  make(map[int]*rbTree),
		extractors: make(map[int]KeyFunc),
	}
}

// DefineSecondaryIndex registers a secondary key extractor under keyID.
// unique controls whether a duplicate key replaces the row held under that
// key or is chained after it.
func (p *Pool) DefineSecondaryIndex(keyID int, unique bool, fn KeyFunc) {
	p.extractors[keyID] = fn
	p.secondary[keyID] = newRBTree(unique)
}

// Insert adds a new row with the given primary key, body, and UN. It returns
// an error if the primary key already exists.
func (p *Pool) Insert(primaryKey, body []byte, un uint64) (*Row, error) {
	pk := string(primaryKey)
	if _, exists := p.primary[pk]; exists {
		return nil, ErrDuplicatePrimaryKey
	}
	row := &Row{
		PrimaryKey: primaryKey,
		Body:       body,
		UN:         un,
		secondary:  make(map[int]*rbNode),
	}
	p.primary[pk] = row
	p.indexSecondary(row)
	return row, nil
}

// Update replaces a live row's body in place, bumping its UN and
// re-threading any secondary indexes whose extracted key changed.
func (p *Pool) Update(primaryKey, body []byte, un uint64) (*Row, error) {
	pk := string(primaryKey)
	row, ok := p.primary[pk]
	if !ok || row.Tombstoned {
		return nil, ErrRowNotFound
	}
	p.unindexSecondary(row)
	row.Body = body
	row.UN = un
	p.indexSecondary(row)
	return row, nil
}

// Tombstone marks a row deleted without removing it from the primary index;
// tombstoned rows are retained until every replica has acknowledged the UN
// that tombstoned them (see internal/replication).
func (p *Pool) Tombstone(primaryKey []byte, un uint64) (*Row, error) {
	pk := string(primaryKey)
	row, ok := p.primary[pk]
	if !ok || row.Tombstoned {
		return nil, ErrRowNotFound
	}
	p.unindexSecondary(row)
	row.Tombstoned = true
	row.UN = un
	p.tombstones++
	return row, nil
}

// Purge permanently removes a tombstoned row once every replica has
// acknowledged its tombstoning UN.
func (p *Pool) Purge(primaryKey []byte) error {
	pk := string(primaryKey)
	row, ok := p.primary[pk]
	if !ok {
		return ErrRowNotFound
	}
	if !row.Tombstoned {
		return ErrRowNotTombstoned
	}
	delete(p.primary, pk)
	p.tombstones--
	return nil
}

// Find returns the live row for a primary key, or (nil, false).
func (p *Pool) Find(primaryKey []byte) (*Row, bool) {
	row, ok := p.primary[string(primaryKey)]
	if !ok || row.Tombstoned {
		return nil, false
	}
	return row, true
}

func (p *Pool) indexSecondary(row *Row) {
	for keyID, fn := range p.extractors {
		key := fn(row)
		node := p.secondary[keyID].insert(key, row)
		row.secondary[keyID] = node
	}
}

func (p *Pool) unindexSecondary(row *Row) {
	for keyID, node := range row.secondary {
		p.secondary[keyID].removeRow(node, row)
	}
	row.secondary = make(map[int]*rbNode)
}

// Direction selects ascending or descending iteration order for Select.
type Direction int

const (
	// Next yields rows in ascending key order.
	Next Direction = iota
	// Prev yields rows in descending key order.
	Prev
)

// Select returns rows (or bare keys, if rowMode is false) from the secondary
// index keyID, seeded at key (or the very first/last entry if key is nil),
// walking in the given direction, honoring inclusive, and stopping after
// limit results (0 means unbounded).
func (p *Pool) Select(keyID int, dir Direction, inclusive bool, key []byte, rowMode bool, limit int) ([]SelectEntry, error) {
	tree, ok := p.secondary[keyID]
	if !ok {
		return nil, ErrUnknownKeyID
	}
	nodes := tree.rangeFrom(key, dir, inclusive, limit)
	out := make([]SelectEntry, 0, len(nodes))
	for _, n := range nodes {
		for r := n.rows; r != nil; r = r.next {
			e := SelectEntry{Key: n.key}
			if rowMode {
				e.Row = r.row
			}
			out = append(out, e)
			if limit > 0 && len(out) >= limit {
				return out, nil
			}
		}
	}
	return out, nil
}

// SelectEntry is one result of a Select call: always the indexed key, and
// (if rowMode was requested) the full row.
type SelectEntry struct {
	Key []byte
	Row *Row
}

// Count returns the number of distinct rows indexed under keyID whose key
// has the given prefix (prefix may be nil/empty to count everything).
func (p *Pool) Count(keyID int, prefix []byte) (uint64, error) {
	tree, ok := p.secondary[keyID]
	if !ok {
		return 0, ErrUnknownKeyID
	}
	return tree.countPrefix(prefix), nil
}

// Stats is a snapshot of pool occupancy, consumed by the telemetry DB/DBTable
// producers.
type Stats struct {
	RowCount      int
	TombstoneCount int
	IndexDepth    map[int]int
}

// Stats returns a point-in-time snapshot of this pool's occupancy.
func (p *Pool) Stats() Stats {
	depths := make(map[int]int, len(p.secondary))
	for keyID, tree := range p.secondary {
		depths[keyID] = tree.depth()
	}
	return Stats{
		RowCount:       len(p.primary),
		TombstoneCount: p.tombstones,
		IndexDepth:     depths,
	}
}

// compareKeys is the byte-ordering comparator used by every secondary index;
// it delegates to helpers.CompareBytes so that the ordering rule lives in one
// shared place.
func compareKeys(a, b []byte) int {
	return helpers.CompareBytes(a, b)
}
