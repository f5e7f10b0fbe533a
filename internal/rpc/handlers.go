package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/latticefin/rtdb/internal/storage"
)

// TableFindParams selects one table_find call.
type TableFindParams struct {
	Table      string `json:"table"`
	PrimaryKey []byte `json:"primary_key"`
}

// TableFindResult is the outcome of table_find.
type TableFindResult struct {
	Found bool         `json:"found"`
	Row   *storage.Row `json:"row,omitempty"`
}

// tableFind looks a row up by primary key, via the table's owning command
// thread (C4): the result is delivered through Find's callback and this
// handler blocks on a channel until it fires, matching spec.md §5's rule
// that readers outside the owning thread only see snapshots via callbacks.
func (s *Server) tableFind(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p TableFindParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("rpc: invalid table_find params: %w", err)
	}
	tbl, ok := s.tables[p.Table]
	if !ok {
		return nil, fmt.Errorf("rpc: unknown table %q", p.Table)
	}

	type outcome struct {
		row *storage.Row
		ok  bool
		err error
	}
	done := make(chan outcome, 1)
	tbl.Find(p.PrimaryKey, func(row *storage.Row, ok bool, err error) {
		done <- outcome{row, ok, err}
	})

	select {
	case o := <-done:
		if o.err != nil {
			return nil, o.err
		}
		return TableFindResult{Found: o.ok, Row: o.row}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TableSelectParams selects one table_select call.
type TableSelectParams struct {
	Table     string `json:"table"`
	KeyID     int    `json:"key_id"`
	Direction string `json:"direction"` // "next" or "prev"
	Inclusive bool   `json:"inclusive"`
	Key       []byte `json:"key"`
	RowMode   bool   `json:"row_mode"`
	Limit     int    `json:"limit"`
}

func (s *Server) tableSelect(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p TableSelectParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("rpc: invalid table_select params: %w", err)
	}
	tbl, ok := s.tables[p.Table]
	if !ok {
		return nil, fmt.Errorf("rpc: unknown table %q", p.Table)
	}

	dir := storage.Next
	if p.Direction == "prev" {
		dir = storage.Prev
	}
	mode := storage.KeyOnlyMode
	if p.RowMode {
		mode = storage.RowMode
	}

	type outcome struct {
		entries []storage.SelectEntry
		err     error
	}
	done := make(chan outcome, 1)
	tbl.Select(p.KeyID, dir, p.Inclusive, p.Key, mode, p.Limit, func(entries []storage.SelectEntry, err error) {
		done <- outcome{entries, err}
	})

	select {
	case o := <-done:
		if o.err != nil {
			return nil, o.err
		}
		return o.entries, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TableCountParams selects one table_count call.
type TableCountParams struct {
	Table     string `json:"table"`
	KeyID     int    `json:"key_id"`
	KeyPrefix []byte `json:"key_prefix"`
}

func (s *Server) tableCount(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p TableCountParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("rpc: invalid table_count params: %w", err)
	}
	tbl, ok := s.tables[p.Table]
	if !ok {
		return nil, fmt.Errorf("rpc: unknown table %q", p.Table)
	}

	type outcome struct {
		n   uint64
		err error
	}
	done := make(chan outcome, 1)
	tbl.Count(p.KeyID, p.KeyPrefix, func(n uint64, err error) {
		done <- outcome{n, err}
	})

	select {
	case o := <-done:
		return o.n, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ClusterStatusResult reports the current election outcome.
type ClusterStatusResult struct {
	PrimaryID string `json:"primary_id"`
	IsPrimary bool   `json:"is_primary"`
}

func (s *Server) clusterStatus(ctx context.Context, params json.RawMessage) (interface{}, error) {
	if s.cluster == nil {
		return ClusterStatusResult{}, nil
	}
	return ClusterStatusResult{PrimaryID: s.cluster.PrimaryID(), IsPrimary: s.cluster.IsPrimary()}, nil
}
