package telemetry

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// dayLayout is the UTC day format used in alert file names and in the
// "yyyymmdd:seq_no" subscription filter form.
const dayLayout = "20060102"

const idxEntrySize = 8 // fixed 8-byte big-endian offset per index entry

// AlertRecord is one persisted alert: {timestamp, seq_no, severity,
// thread_id, message} per spec.md §3.
type AlertRecord struct {
	TimestampNS int64
	SeqNo       uint64
	Severity    string
	ThreadID    string
	Message     string
}

// encodeAlertRecord lays out {timestamp_ns:i64, seq_no:u64, severity_len:u16,
// severity, thread_id_len:u16, thread_id, message_len:u32, message} in
// big-endian, matching this file's index encoding. This is the body that sits
// behind the 4-byte length prefix persist/readDayFrom already frame it with.
func encodeAlertRecord(rec AlertRecord) []byte {
	sev, thread, msg := []byte(rec.Severity), []byte(rec.ThreadID), []byte(rec.Message)
	buf := make([]byte, 8+8+2+len(sev)+2+len(thread)+4+len(msg))
	binary.BigEndian.PutUint64(buf[0:8], uint64(rec.TimestampNS))
	binary.BigEndian.PutUint64(buf[8:16], rec.SeqNo)
	off := 16
	binary.BigEndian.PutUint16(buf[off:off+2], uint16(len(sev)))
	off += 2
	copy(buf[off:off+len(sev)], sev)
	off += len(sev)
	binary.BigEndian.PutUint16(buf[off:off+2], uint16(len(thread)))
	off += 2
	copy(buf[off:off+len(thread)], thread)
	off += len(thread)
	binary.BigEndian.PutUint32(buf[off:off+4], uint32(len(msg)))
	off += 4
	copy(buf[off:off+len(msg)], msg)
	return buf
}

func decodeAlertRecord(buf []byte) (AlertRecord, error) {
	if len(buf) < 16+2 {
		return AlertRecord{}, fmt.Errorf("telemetry: alert record too short (%d bytes)", len(buf))
	}
	rec := AlertRecord{
		TimestampNS: int64(binary.BigEndian.Uint64(buf[0:8])),
		SeqNo:       binary.BigEndian.Uint64(buf[8:16]),
	}
	off := 16
	sevLen := int(binary.BigEndian.Uint16(buf[off : off+2]))
	off += 2
	if len(buf) < off+sevLen+2 {
		return AlertRecord{}, fmt.Errorf("telemetry: alert record truncated reading severity")
	}
	rec.Severity = string(buf[off : off+sevLen])
	off += sevLen
	threadLen := int(binary.BigEndian.Uint16(buf[off : off+2]))
	off += 2
	if len(buf) < off+threadLen+4 {
		return AlertRecord{}, fmt.Errorf("telemetry: alert record truncated reading thread id")
	}
	rec.ThreadID = string(buf[off : off+threadLen])
	off += threadLen
	msgLen := int(binary.BigEndian.Uint32(buf[off : off+4]))
	off += 4
	if len(buf) < off+msgLen {
		return AlertRecord{}, fmt.Errorf("telemetry: alert record truncated reading message")
	}
	rec.Message = string(buf[off : off+msgLen])
	return rec, nil
}

// AlertPipeline is the single-writer append path plus bounded in-memory
// ring for the alert subsystem (C9): one data file plus one index file per
// UTC day, named "<prefix>_<yyyymmdd>" and "<prefix>_<yyyymmdd>.idx". Write
// errors are logged directly to stderr, bypassing pkg/logging, to avoid
// recursing back into a logging sink that itself alerts.
type AlertPipeline struct {
	mu            sync.Mutex
	dir           string
	prefix        string
	maxReplayDays int
	ringCap       int

	day      string
	nextSeq  uint64
	offset   int64
	dataFile *os.File
	idxFile  *os.File

	ring         []AlertRecord
	ringDay      string
	ringStartSeq uint64

	subscribers map[string]chan AlertRecord
}

// NewAlertPipeline returns a pipeline writing "<prefix>_*" files under dir,
// retaining up to ringCap recent records in memory and clamping replay
// requests to maxReplayDays.
func NewAlertPipeline(dir, prefix string, ringCap, maxReplayDays int) *AlertPipeline {
	if ringCap <= 0 {
		ringCap = 1024
	}
	if maxReplayDays <= 0 {
		maxReplayDays = 1
	}
	return &AlertPipeline{
		dir:           dir,
		prefix:        prefix,
		ringCap:       ringCap,
		maxReplayDays: maxReplayDays,
		subscribers:   make(map[string]chan AlertRecord),
	}
}

// Append writes one alert. A failure to persist is logged to stderr and the
// record is dropped from durable storage but still retained in the ring and
// fanned out to live subscribers, per spec.md §4.9/§7.
func (ap *AlertPipeline) Append(severity, threadID, message string) error {
	ap.mu.Lock()
	defer ap.mu.Unlock()

	today := time.Now().UTC().Format(dayLayout)
	if ap.day != today {
		if err := ap.rotate(today); err != nil {
			fmt.Fprintf(os.Stderr, "telemetry: alert day rollover to %s failed: %v\n", today, err)
		}
	}

	rec := AlertRecord{
		TimestampNS: time.Now().UnixNano(),
		SeqNo:       ap.nextSeq,
		Severity:    severity,
		ThreadID:    threadID,
		Message:     message,
	}
	ap.nextSeq++

	if err := ap.persist(rec); err != nil {
		fmt.Fprintf(os.Stderr, "telemetry: alert persist failed, seq=%d: %v\n", rec.SeqNo, err)
	}

	ap.pushRing(today, rec)
	ap.fanOut(rec)
	return nil
}

// persist appends rec to the currently open day's data+index files.
func (ap *AlertPipeline) persist(rec AlertRecord) error {
	if ap.dataFile == nil || ap.idxFile == nil {
		return fmt.Errorf("telemetry: no open alert files")
	}
	body := encodeAlertRecord(rec)
	lenBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(lenBuf, uint32(len(body)))
	if _, err := ap.dataFile.Write(lenBuf); err != nil {
		return err
	}
	if _, err := ap.dataFile.Write(body); err != nil {
		return err
	}

	offBuf := make([]byte, idxEntrySize)
	binary.BigEndian.PutUint64(offBuf, uint64(ap.offset))
	if _, err := ap.idxFile.Write(offBuf); err != nil {
		return err
	}

	ap.offset += int64(len(lenBuf) + len(body))
	return nil
}

// rotate closes the current day's files (if any) and opens (or resumes)
// today's, resetting seq_no to 0 for a brand new day.
func (ap *AlertPipeline) rotate(today string) error {
	if ap.dataFile != nil {
		ap.dataFile.Close()
	}
	if ap.idxFile != nil {
		ap.idxFile.Close()
	}

	dataPath := ap.dataPath(today)
	idxPath := ap.idxPath(today)

	df, err := os.OpenFile(dataPath, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		ap.dataFile, ap.idxFile = nil, nil
		return err
	}
	ixf, err := os.OpenFile(idxPath, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		df.Close()
		ap.dataFile, ap.idxFile = nil, nil
		return err
	}

	ap.dataFile, ap.idxFile = df, ixf
	ap.day = today

	if st, err := ixf.Stat(); err == nil {
		ap.nextSeq = uint64(st.Size() / idxEntrySize)
	} else {
		ap.nextSeq = 0
	}
	if st, err := df.Stat(); err == nil {
		ap.offset = st.Size()
	} else {
		ap.offset = 0
	}
	return nil
}

// pushRing appends rec to the in-memory ring, tracking which day's seq_no
// space the oldest retained entry belongs to, and evicts the oldest entry
// once the ring is at capacity (it remains retrievable from files).
func (ap *AlertPipeline) pushRing(day string, rec AlertRecord) {
	ap.ring = append(ap.ring, rec)
	if len(ap.ring) > ap.ringCap {
		ap.ring = ap.ring[1:]
	}
	ap.ringDay = day
	ap.ringStartSeq = ap.ring[0].SeqNo
}

func (ap *AlertPipeline) fanOut(rec AlertRecord) {
	for id, ch := range ap.subscribers {
		select {
		case ch <- rec:
		default:
			fmt.Fprintf(os.Stderr, "telemetry: alert subscriber %s dropped seq=%d (slow consumer)\n", id, rec.SeqNo)
		}
	}
}

func (ap *AlertPipeline) dataPath(day string) string {
	return filepath.Join(ap.dir, ap.prefix+"_"+day)
}

func (ap *AlertPipeline) idxPath(day string) string {
	return filepath.Join(ap.dir, ap.prefix+"_"+day+".idx")
}

// Subscribe starts a backfill-then-live alert stream per spec.md §4.9: the
// filter is "" (default: today) or "yyyymmdd:seq_no" (replay from that
// point, clamped to today-maxReplayDays). The returned channel delivers the
// backfill first, then live alerts; call the returned func to unsubscribe.
func (ap *AlertPipeline) Subscribe(filter string) (<-chan AlertRecord, func(), error) {
	ap.mu.Lock()

	startDay, startSeq, err := ap.resolveStart(filter)
	if err != nil {
		ap.mu.Unlock()
		return nil, nil, err
	}

	backfill := ap.collectBackfill(startDay, startSeq)

	id := uuid.New().String()
	out := make(chan AlertRecord, ap.ringCap+len(backfill)+16)
	ap.subscribers[id] = out
	ap.mu.Unlock()

	go func() {
		for _, rec := range backfill {
			out <- rec
		}
	}()

	unsubscribe := func() {
		ap.mu.Lock()
		delete(ap.subscribers, id)
		ap.mu.Unlock()
	}
	return out, unsubscribe, nil
}

// resolveStart parses filter and clamps it to today-maxReplayDays. Caller
// must hold ap.mu.
func (ap *AlertPipeline) resolveStart(filter string) (day string, seq uint64, err error) {
	today := time.Now().UTC().Format(dayLayout)
	day, seq = today, 0

	if filter != "" {
		parts := strings.SplitN(filter, ":", 2)
		if len(parts) != 2 {
			return "", 0, fmt.Errorf("telemetry: malformed alert filter %q, want yyyymmdd:seq_no", filter)
		}
		if _, err := time.Parse(dayLayout, parts[0]); err != nil {
			return "", 0, fmt.Errorf("telemetry: malformed alert filter day %q: %w", parts[0], err)
		}
		n, err := strconv.ParseUint(parts[1], 10, 64)
		if err != nil {
			return "", 0, fmt.Errorf("telemetry: malformed alert filter seq %q: %w", parts[1], err)
		}
		day, seq = parts[0], n
	}

	minTime, err := time.Parse(dayLayout, today)
	if err != nil {
		return "", 0, err
	}
	minDay := minTime.AddDate(0, 0, -ap.maxReplayDays).Format(dayLayout)
	if day < minDay {
		day, seq = minDay, 0
	}
	return day, seq, nil
}

// collectBackfill gathers records from startDay/startSeq up to (and
// including) the ring's contents. Caller must hold ap.mu.
func (ap *AlertPipeline) collectBackfill(startDay string, startSeq uint64) []AlertRecord {
	if ap.ringDay == "" {
		return nil
	}

	var out []AlertRecord
	for day := startDay; day < ap.ringDay; day = nextDay(day) {
		from := uint64(0)
		if day == startDay {
			from = startSeq
		}
		out = append(out, ap.readDayFrom(day, from, nil)...)
	}

	if startDay == ap.ringDay && startSeq < ap.ringStartSeq {
		out = append(out, ap.readDayFrom(ap.ringDay, startSeq, &ap.ringStartSeq)...)
	}
	if startDay <= ap.ringDay {
		out = append(out, ap.ring...)
	}
	return out
}

// readDayFrom reads records for day starting at seq_no from, up to (but not
// including) upTo if non-nil, else to the end of the day's index. Corrupt
// entries are logged to stderr and skipped.
func (ap *AlertPipeline) readDayFrom(day string, from uint64, upTo *uint64) []AlertRecord {
	idxBytes, err := os.ReadFile(ap.idxPath(day))
	if err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "telemetry: reading alert index for %s: %v\n", day, err)
		}
		return nil
	}
	total := uint64(len(idxBytes) / idxEntrySize)
	end := total
	if upTo != nil && *upTo < end {
		end = *upTo
	}
	if from >= end {
		return nil
	}

	df, err := os.Open(ap.dataPath(day))
	if err != nil {
		fmt.Fprintf(os.Stderr, "telemetry: opening alert data for %s: %v\n", day, err)
		return nil
	}
	defer df.Close()
	fi, err := df.Stat()
	if err != nil {
		return nil
	}
	fileSize := fi.Size()

	var out []AlertRecord
	for seq := from; seq < end; seq++ {
		off := int64(binary.BigEndian.Uint64(idxBytes[seq*idxEntrySize : (seq+1)*idxEntrySize]))
		var next int64
		if seq+1 < total {
			next = int64(binary.BigEndian.Uint64(idxBytes[(seq+1)*idxEntrySize : (seq+2)*idxEntrySize]))
		} else {
			next = fileSize
		}
		if off >= fileSize || next <= off {
			fmt.Fprintf(os.Stderr, "telemetry: corrupt alert index entry for %s seq=%d\n", day, seq)
			continue
		}
		buf := make([]byte, next-off)
		if _, err := df.ReadAt(buf, off); err != nil {
			fmt.Fprintf(os.Stderr, "telemetry: corrupt alert data for %s seq=%d: %v\n", day, seq, err)
			continue
		}
		if len(buf) < 4 {
			continue
		}
		bodyLen := binary.BigEndian.Uint32(buf[:4])
		if int(4+bodyLen) > len(buf) {
			fmt.Fprintf(os.Stderr, "telemetry: corrupt alert frame for %s seq=%d\n", day, seq)
			continue
		}
		rec, err := decodeAlertRecord(buf[4 : 4+bodyLen])
		if err != nil {
			fmt.Fprintf(os.Stderr, "telemetry: corrupt alert body for %s seq=%d: %v\n", day, seq, err)
			continue
		}
		out = append(out, rec)
	}
	return out
}

// Close closes the currently open day's files.
func (ap *AlertPipeline) Close() error {
	ap.mu.Lock()
	defer ap.mu.Unlock()
	var firstErr error
	if ap.dataFile != nil {
		if err := ap.dataFile.Close(); err != nil {
			firstErr = err
		}
	}
	if ap.idxFile != nil {
		if err := ap.idxFile.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func nextDay(day string) string {
	t, err := time.Parse(dayLayout, day)
	if err != nil {
		return day
	}
	return t.AddDate(0, 0, 1).Format(dayLayout)
}
