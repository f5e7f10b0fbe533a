package handle

import "testing"

const secondaryByLink = 1

func newTestPool() *Pool {
	p := NewPool()
	p.DefineSecondaryIndex(secondaryByLink, false, func(r *Row) []byte {
		return r.Body[:4]
	})
	return p
}

func TestInsertFindDuplicate(t *testing.T) {
	p := NewPool()
	if _, err := p.Insert([]byte("pk1"), []byte("body1"), 1); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	row, ok := p.Find([]byte("pk1"))
	if !ok || string(row.Body) != "body1" {
		t.Fatalf("Find = %v, %v", row, ok)
	}
	if _, err := p.Insert([]byte("pk1"), []byte("body2"), 2); err != ErrDuplicatePrimaryKey {
		t.Fatalf("expected ErrDuplicatePrimaryKey, got %v", err)
	}
}

func TestUpdateBumpsUN(t *testing.T) {
	p := NewPool()
	p.Insert([]byte("pk1"), []byte("body1"), 1)
	row, err := p.Update([]byte("pk1"), []byte("body2"), 2)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if row.UN != 2 || string(row.Body) != "body2" {
		t.Fatalf("unexpected row after update: %+v", row)
	}
}

func TestTombstoneHidesRowUntilPurge(t *testing.T) {
	p := NewPool()
	p.Insert([]byte("pk1"), []byte("body1"), 1)
	if _, err := p.Tombstone([]byte("pk1"), 2); err != nil {
		t.Fatalf("Tombstone: %v", err)
	}
	if _, ok := p.Find([]byte("pk1")); ok {
		t.Fatal("expected tombstoned row to be hidden from Find")
	}
	if err := p.Purge([]byte("pk1")); err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if err := p.Purge([]byte("pk1")); err != ErrRowNotFound {
		t.Fatalf("expected ErrRowNotFound after purge, got %v", err)
	}
}

func TestSecondaryIndexOrderedRange(t *testing.T) {
	p := newTestPool()
	rows := []struct {
		pk   string
		link string
		seq  string
	}{
		{"pk0", "FIX0", "order0"},
		{"pk1", "FIX0", "order1"},
		{"pk2", "FIX0", "order2"},
	}
	for i, r := range rows {
		body := []byte(r.link + "|" + r.seq)
		if _, err := p.Insert([]byte(r.pk), body, uint64(i+1)); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	entries, err := p.Select(secondaryByLink, Next, true, nil, true, 0)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries chained off one key, got %d", len(entries))
	}
}

func TestSecondaryIndexUniqueKeysDescending(t *testing.T) {
	p := NewPool()
	p.DefineSecondaryIndex(secondaryByLink, true, func(r *Row) []byte { return r.Body })

	keys := []string{"a", "c", "b", "e", "d"}
	for i, k := range keys {
		p.Insert([]byte(k), []byte(k), uint64(i+1))
	}

	entries, err := p.Select(secondaryByLink, Prev, true, nil, false, 0)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	want := []string{"e", "d", "c", "b", "a"}
	if len(entries) != len(want) {
		t.Fatalf("got %d entries, want %d", len(entries), len(want))
	}
	for i, e := range entries {
		if string(e.Key) != want[i] {
			t.Fatalf("entry %d = %q, want %q", i, e.Key, want[i])
		}
	}
}

func TestSelectExclusiveSeedSkipsSeed(t *testing.T) {
	p := NewPool()
	p.DefineSecondaryIndex(secondaryByLink, true, func(r *Row) []byte { return r.Body })
	for i, k := range []string{"a", "b", "c"} {
		p.Insert([]byte(k), []byte(k), uint64(i+1))
	}
	entries, err := p.Select(secondaryByLink, Next, false, []byte("b"), false, 0)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(entries) != 1 || string(entries[0].Key) != "c" {
		t.Fatalf("expected only 'c', got %+v", entries)
	}
}

func TestSelectLimit(t *testing.T) {
	p := NewPool()
	p.DefineSecondaryIndex(secondaryByLink, true, func(r *Row) []byte { return r.Body })
	for i, k := range []string{"a", "b", "c", "d"} {
		p.Insert([]byte(k), []byte(k), uint64(i+1))
	}
	entries, err := p.Select(secondaryByLink, Next, true, nil, false, 2)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
}

func TestCountPrefix(t *testing.T) {
	p := newTestPool()
	for i, link := range []string{"FIX0", "FIX0", "FIX1"} {
		body := []byte(link + "|seq")
		p.Insert([]byte{byte(i)}, body, uint64(i+1))
	}
	n, err := p.Count(secondaryByLink, []byte("FIX0"))
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 2 {
		t.Fatalf("Count = %d, want 2", n)
	}
}

func TestStatsReflectsRowsAndTombstones(t *testing.T) {
	p := NewPool()
	p.Insert([]byte("a"), []byte("a"), 1)
	p.Insert([]byte("b"), []byte("b"), 2)
	p.Tombstone([]byte("a"), 3)

	stats := p.Stats()
	if stats.RowCount != 2 {
		t.Fatalf("RowCount = %d, want 2 (tombstoned rows stay until purge)", stats.RowCount)
	}
	if stats.TombstoneCount != 1 {
		t.Fatalf("TombstoneCount = %d, want 1", stats.TombstoneCount)
	}
}

func TestUnknownKeyID(t *testing.T) {
	p := NewPool()
	if _, err := p.Select(99, Next, true, nil, true, 0); err != ErrUnknownKeyID {
		t.Fatalf("expected ErrUnknownKeyID, got %v", err)
	}
	if _, err := p.Count(99, nil); err != ErrUnknownKeyID {
		t.Fatalf("expected ErrUnknownKeyID, got %v", err)
	}
}
