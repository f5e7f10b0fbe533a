package telemetry

import (
	"testing"
)

func TestAlertAppendAndRingBackfill(t *testing.T) {
	dir := t.TempDir()
	ap := NewAlertPipeline(dir, "alerts", 100, 7)
	defer ap.Close()

	for i := 0; i < 5; i++ {
		if err := ap.Append("info", "thread-1", "message"); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	frames, unsub, err := ap.Subscribe("")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer unsub()

	var got []AlertRecord
	for i := 0; i < 5; i++ {
		got = append(got, <-frames)
	}
	for i, rec := range got {
		if rec.SeqNo != uint64(i) {
			t.Fatalf("backfill out of order: got seq %d at index %d", rec.SeqNo, i)
		}
	}
}

func TestAlertLiveDeliveryAfterBackfill(t *testing.T) {
	dir := t.TempDir()
	ap := NewAlertPipeline(dir, "alerts", 100, 7)
	defer ap.Close()

	ap.Append("info", "t1", "first")

	frames, unsub, err := ap.Subscribe("")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer unsub()

	backfilled := <-frames
	if backfilled.SeqNo != 0 {
		t.Fatalf("expected backfilled seq 0, got %d", backfilled.SeqNo)
	}

	ap.Append("warn", "t1", "second")

	live := <-frames
	if live.SeqNo != 1 || live.Severity != "warn" {
		t.Fatalf("unexpected live alert: %+v", live)
	}
}

func TestAlertReplayFromSeqFilter(t *testing.T) {
	dir := t.TempDir()
	ap := NewAlertPipeline(dir, "alerts", 2, 7) // tiny ring forces file-backed replay
	defer ap.Close()

	for i := 0; i < 10; i++ {
		ap.Append("info", "t1", "message")
	}

	today, _, err := ap.resolveStart("")
	if err != nil {
		t.Fatalf("resolveStart: %v", err)
	}
	frames, unsub, err := ap.Subscribe(today + ":3")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer unsub()

	first := <-frames
	if first.SeqNo != 3 {
		t.Fatalf("expected replay to start at seq 3, got %d", first.SeqNo)
	}

	var last AlertRecord
	for i := 3; i < 10; i++ {
		last = <-frames
	}
	if last.SeqNo != 9 {
		t.Fatalf("expected replay to reach seq 9, got %d", last.SeqNo)
	}
}

func TestReadDayFromReturnsCleanRecords(t *testing.T) {
	dir := t.TempDir()
	ap := NewAlertPipeline(dir, "alerts", 2, 7)
	defer ap.Close()

	for i := 0; i < 3; i++ {
		ap.Append("info", "t1", "message")
	}

	day, _, _ := ap.resolveStart("")
	recs := ap.readDayFrom(day, 0, nil)
	if len(recs) != 3 {
		t.Fatalf("expected 3 clean records, got %d", len(recs))
	}
}
