// Package replication implements the point-to-point replication channel
// (C5): a framed stream between every pair of hosts that may exchange the
// primary role, carrying heartbeats, committed appends, and UN-based
// recovery.
package replication

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/latticefin/rtdb/internal/record"
)

// Frame type codes carried in internal/record's FrameHeader.Type field.
const (
	TypeHeartbeat    uint16 = 1
	TypeAppend       uint16 = 2
	TypeRecover      uint16 = 3
	TypeRecoverChunk uint16 = 4
	TypeEnd          uint16 = 5
)

// recoverBodySize and endBodySize are the two message kinds with a fixed
// wire size; Heartbeat carries a variable number of table entries and
// Append/RecoverChunk a variable-length PrimaryKey/RowBuf, so they cannot be
// registered with one fixed size.
const (
	recoverBodySize = 2 + 8 // TableID + FromUN
	endBodySize     = 2 + 8 // TableID + ToUN
)

// NewMessageRegistry returns a record.Registry validating the fixed-size
// message bodies (Recover, End) on every frame this channel reads; per
// spec.md §6's binary fixed-layout wire format.
func NewMessageRegistry() *record.Registry {
	reg := record.NewRegistry()
	reg.Register(TypeRecover, recoverBodySize)
	reg.Register(TypeEnd, endBodySize)
	return reg
}

// Op identifies the kind of row mutation an Append/RecoverChunk carries.
type Op byte

const (
	OpInsertOrUpdate Op = 0
	OpTombstone      Op = 1
)

// Heartbeat carries the primary's wall clock and the high-water UN of every
// table it owns, once per configured interval.
type Heartbeat struct {
	WallNS int64
	HighUN map[uint16]uint64
}

// Append is emitted for each committed write on the primary. RowBuf is the
// row's encoded body (variable length, not registered); PrimaryKey is carried
// alongside it since a replica applies by primary key, not by scanning body.
type Append struct {
	TableID    uint16
	UN         uint64
	Op         Op
	PrimaryKey []byte
	RowBuf     []byte
}

// Recover is sent by a standby joining or catching up on a table.
type Recover struct {
	TableID uint16
	FromUN  uint64
}

// RecoverChunk is one row of a Recover response.
type RecoverChunk struct {
	TableID    uint16
	UN         uint64
	Op         Op
	PrimaryKey []byte
	RowBuf     []byte
}

// End terminates a recovery stream for a table.
type End struct {
	TableID uint16
	ToUN    uint64
}

// marshalHeartbeat encodes {wall_ns:i64, count:u16, count*(table_id:u16,
// high_un:u64)}; table ids are written in ascending order so the encoding
// is deterministic.
func marshalHeartbeat(hb Heartbeat) []byte {
	ids := make([]uint16, 0, len(hb.HighUN))
	for id := range hb.HighUN {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	buf := make([]byte, 8+2+len(ids)*10)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(hb.WallNS))
	binary.LittleEndian.PutUint16(buf[8:10], uint16(len(ids)))
	off := 10
	for _, id := range ids {
		binary.LittleEndian.PutUint16(buf[off:off+2], id)
		binary.LittleEndian.PutUint64(buf[off+2:off+10], hb.HighUN[id])
		off += 10
	}
	return buf
}

func unmarshalHeartbeat(body []byte) (Heartbeat, error) {
	if len(body) < 10 {
		return Heartbeat{}, fmt.Errorf("replication: heartbeat body too short (%d bytes)", len(body))
	}
	hb := Heartbeat{WallNS: int64(binary.LittleEndian.Uint64(body[0:8]))}
	count := int(binary.LittleEndian.Uint16(body[8:10]))
	off := 10
	if len(body) < off+count*10 {
		return Heartbeat{}, fmt.Errorf("replication: heartbeat body truncated: want %d entries", count)
	}
	hb.HighUN = make(map[uint16]uint64, count)
	for i := 0; i < count; i++ {
		id := binary.LittleEndian.Uint16(body[off : off+2])
		hb.HighUN[id] = binary.LittleEndian.Uint64(body[off+2 : off+10])
		off += 10
	}
	return hb, nil
}

// marshalRow encodes the shared {table_id:u16, un:u64, op:u8,
// primary_key_len:u16, primary_key, row_buf_len:u32, row_buf} layout used by
// both Append and RecoverChunk.
func marshalRow(tableID uint16, un uint64, op Op, primaryKey, rowBuf []byte) []byte {
	buf := make([]byte, 2+8+1+2+len(primaryKey)+4+len(rowBuf))
	binary.LittleEndian.PutUint16(buf[0:2], tableID)
	binary.LittleEndian.PutUint64(buf[2:10], un)
	buf[10] = byte(op)
	binary.LittleEndian.PutUint16(buf[11:13], uint16(len(primaryKey)))
	off := 13
	copy(buf[off:off+len(primaryKey)], primaryKey)
	off += len(primaryKey)
	binary.LittleEndian.PutUint32(buf[off:off+4], uint32(len(rowBuf)))
	off += 4
	copy(buf[off:off+len(rowBuf)], rowBuf)
	return buf
}

func unmarshalRow(body []byte) (tableID uint16, un uint64, op Op, primaryKey, rowBuf []byte, err error) {
	if len(body) < 13 {
		return 0, 0, 0, nil, nil, fmt.Errorf("replication: row body too short (%d bytes)", len(body))
	}
	tableID = binary.LittleEndian.Uint16(body[0:2])
	un = binary.LittleEndian.Uint64(body[2:10])
	op = Op(body[10])
	pkLen := int(binary.LittleEndian.Uint16(body[11:13]))
	off := 13
	if len(body) < off+pkLen+4 {
		return 0, 0, 0, nil, nil, fmt.Errorf("replication: row body truncated reading primary key")
	}
	primaryKey = append([]byte(nil), body[off:off+pkLen]...)
	off += pkLen
	rowLen := int(binary.LittleEndian.Uint32(body[off : off+4]))
	off += 4
	if len(body) < off+rowLen {
		return 0, 0, 0, nil, nil, fmt.Errorf("replication: row body truncated reading row buf")
	}
	rowBuf = append([]byte(nil), body[off:off+rowLen]...)
	return tableID, un, op, primaryKey, rowBuf, nil
}

func marshalAppend(a Append) []byte {
	return marshalRow(a.TableID, a.UN, a.Op, a.PrimaryKey, a.RowBuf)
}

func unmarshalAppend(body []byte) (Append, error) {
	tableID, un, op, pk, rb, err := unmarshalRow(body)
	if err != nil {
		return Append{}, err
	}
	return Append{TableID: tableID, UN: un, Op: op, PrimaryKey: pk, RowBuf: rb}, nil
}

func marshalRecoverChunk(rc RecoverChunk) []byte {
	return marshalRow(rc.TableID, rc.UN, rc.Op, rc.PrimaryKey, rc.RowBuf)
}

func unmarshalRecoverChunk(body []byte) (RecoverChunk, error) {
	tableID, un, op, pk, rb, err := unmarshalRow(body)
	if err != nil {
		return RecoverChunk{}, err
	}
	return RecoverChunk{TableID: tableID, UN: un, Op: op, PrimaryKey: pk, RowBuf: rb}, nil
}

// marshalRecover encodes {table_id:u16, from_un:u64}.
func marshalRecover(r Recover) []byte {
	buf := make([]byte, recoverBodySize)
	binary.LittleEndian.PutUint16(buf[0:2], r.TableID)
	binary.LittleEndian.PutUint64(buf[2:10], r.FromUN)
	return buf
}

func unmarshalRecover(body []byte) (Recover, error) {
	if len(body) != recoverBodySize {
		return Recover{}, fmt.Errorf("replication: recover body size %d, want %d", len(body), recoverBodySize)
	}
	return Recover{
		TableID: binary.LittleEndian.Uint16(body[0:2]),
		FromUN:  binary.LittleEndian.Uint64(body[2:10]),
	}, nil
}

// marshalEnd encodes {table_id:u16, to_un:u64}.
func marshalEnd(e End) []byte {
	buf := make([]byte, endBodySize)
	binary.LittleEndian.PutUint16(buf[0:2], e.TableID)
	binary.LittleEndian.PutUint64(buf[2:10], e.ToUN)
	return buf
}

func unmarshalEnd(body []byte) (End, error) {
	if len(body) != endBodySize {
		return End{}, fmt.Errorf("replication: end body size %d, want %d", len(body), endBodySize)
	}
	return End{
		TableID: binary.LittleEndian.Uint16(body[0:2]),
		ToUN:    binary.LittleEndian.Uint64(body[2:10]),
	}, nil
}
