// Package telemetry implements the watch registry (C7), producer dispatch
// (C8), and alert pipeline (C9): a per-request-type subscription fan-out
// that streams operational state from many producers to many consumers with
// bounded buffering and on-disk overflow for alerts.
package telemetry

import "path/filepath"

// RequestType is one of the fixed telemetry payload kinds. A watch belongs
// to exactly one request type.
type RequestType string

const (
	Heap    RequestType = "Heap"
	HashTbl RequestType = "HashTbl"
	Thread  RequestType = "Thread"
	Mx      RequestType = "Mx"
	Queue   RequestType = "Queue"
	Engine  RequestType = "Engine"
	DB      RequestType = "DB"
	App     RequestType = "App"
	Alert   RequestType = "Alert"
)

// Sample is one producer's current reading. Key is matched against a
// watch's filter glob; for Queue producers Key is conventionally formatted
// "kind:id" (e.g. "rx:thread-1", "overflow:thread-1") so the same glob
// matcher also implements the spec's "type:id" queue filter form.
type Sample struct {
	Key  string
	Data interface{}
}

// Producer supplies the current samples for one request type. Sampling must
// be non-blocking and side-effect free; producers are sampled on the
// telemetry thread during a dispatch tick.
type Producer interface {
	Sample() []Sample
}

// HeapRecord is a per-allocator-arena heap usage sample.
type HeapRecord struct {
	ThreadID      string `json:"thread_id"`
	BytesInUse    uint64 `json:"bytes_in_use"`
	BytesReserved uint64 `json:"bytes_reserved"`
}

// HashTblRecord is a hash-table load sample.
type HashTblRecord struct {
	Name    string `json:"name"`
	Buckets int    `json:"buckets"`
	Entries int    `json:"entries"`
}

// ThreadRecord is a pinned-thread scheduling sample.
type ThreadRecord struct {
	ID         string  `json:"id"`
	CPUPercent float64 `json:"cpu_percent"`
	State      string  `json:"state"`
}

// MxRecord is a multiplexer backlog sample.
type MxRecord struct {
	Name         string `json:"name"`
	PendingCount int    `json:"pending_count"`
}

// QueueKind distinguishes a per-thread ring from an inter-process queue. IPC
// queues are sampled identically to thread queues minus byte accounting,
// since the underlying transport does not expose per-message byte counts.
type QueueKind string

const (
	QueueKindThread QueueKind = "thread"
	QueueKindIPC    QueueKind = "ipc"
)

// QueueRecord is a per-ring depth sample. Direction is "rx" or "overflow".
// BytesInUse is nil for QueueKindIPC.
type QueueRecord struct {
	Name       string    `json:"name"`
	OwnerID    string    `json:"owner_id"`
	Kind       QueueKind `json:"kind"`
	Direction  string    `json:"direction"`
	Depth      int       `json:"depth"`
	Capacity   int       `json:"capacity"`
	BytesInUse *uint64   `json:"bytes_in_use,omitempty"`
}

// SocketRecord is an open-connection sample emitted alongside Queue frames
// during a multiplexer scan.
type SocketRecord struct {
	Name      string `json:"name"`
	RemoteTag string `json:"remote_tag"`
	State     string `json:"state"`
}

// EngineRecord is an order-routing engine throughput sample.
type EngineRecord struct {
	Name         string  `json:"name"`
	OrdersPerSec float64 `json:"orders_per_sec"`
}

// DBRecord is a per-table replication/size sample.
type DBRecord struct {
	Table    string `json:"table"`
	RowCount uint64 `json:"row_count"`
	HighUN   uint64 `json:"high_un"`
}

// AppRecord is an opaque application-defined key/value sample.
type AppRecord struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Frame is one dispatched sample addressed to a matching watch.
type Frame struct {
	Type        RequestType `json:"type"`
	Key         string      `json:"key"`
	Data        interface{} `json:"data"`
	TimestampNS int64       `json:"timestamp_ns"`
}

// matchFilter implements the watch filter grammar: "" and "*" match
// everything, "prefix*" and exact/glob patterns are matched with the
// standard shell-glob rules (which also covers the "kind:id" queue form,
// since "rx:*" and "rx:thread-1" are both ordinary glob patterns against
// Key).
func matchFilter(filter, key string) bool {
	if filter == "" || filter == "*" {
		return true
	}
	ok, err := filepath.Match(filter, key)
	if err != nil {
		return filter == key
	}
	return ok
}
