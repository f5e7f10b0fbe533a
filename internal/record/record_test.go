package record

import (
	"bytes"
	"io"
	"testing"
)

func TestHeaderRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	want := Header{VMajor: 1, VMinor: 2}
	if err := WriteHeader(&buf, want); err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}
	got, err := ReadHeader(&buf)
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	if got != want {
		t.Fatalf("header round-trip = %+v, want %+v", got, want)
	}
}

func TestReadHeaderBadMagic(t *testing.T) {
	buf := bytes.NewBufferString("XXX\x01\x00\x00\x00")
	if _, err := ReadHeader(buf); err == nil {
		t.Fatal("expected error for bad magic")
	}
}

func TestReadHeaderTruncated(t *testing.T) {
	buf := bytes.NewBufferString("RM")
	_, err := ReadHeader(buf)
	if err != ErrTruncated {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
}

func TestFrameRoundTrip(t *testing.T) {
	reg := NewRegistry()
	reg.Register(1, 8)

	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.SetBase(1000)

	body := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	if err := w.WriteFrame(1, 42, 1500, body); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	r := NewReader(&buf, reg)
	r.SetBase(1000)
	frame, abs, err := r.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if frame.Type != 1 || frame.Shard != 42 {
		t.Fatalf("frame header mismatch: %+v", frame.FrameHeader)
	}
	if !bytes.Equal(frame.Body, body) {
		t.Fatalf("body = %v, want %v", frame.Body, body)
	}
	if abs != 1500 {
		t.Fatalf("abs nsec = %d, want 1500", abs)
	}

	if _, _, err := r.ReadFrame(); err != io.EOF {
		t.Fatalf("expected io.EOF at stream end, got %v", err)
	}
}

func TestFrameWrongBodySize(t *testing.T) {
	reg := NewRegistry()
	reg.Register(1, 4)

	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.WriteFrame(1, 0, 0, []byte{1, 2, 3, 4, 5}); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	r := NewReader(&buf, reg)
	if _, _, err := r.ReadFrame(); err == nil {
		t.Fatal("expected error for mismatched body size")
	}
}

func TestFrameTooLarge(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	body := make([]byte, MaxFrameSize)
	if err := w.WriteFrame(1, 0, 0, body); err != ErrFrameTooLarge {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestReadFrameTruncatedBody(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.WriteFrame(1, 0, 0, []byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	full := buf.Bytes()
	truncated := bytes.NewReader(full[:len(full)-2])

	r := NewReader(truncated, nil)
	if _, _, err := r.ReadFrame(); err != ErrTruncated {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
}

func TestUnknownTypeSkipsLengthCheckOnly(t *testing.T) {
	reg := NewRegistry()
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.WriteFrame(99, 0, 0, []byte{1, 2, 3}); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	r := NewReader(&buf, reg)
	frame, _, err := r.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if frame.Type != 99 || len(frame.Body) != 3 {
		t.Fatalf("unexpected frame: %+v", frame)
	}
}
