// Package record implements the flat record codec (C1): a fixed file/stream
// header followed by a sequence of length-prefixed, typed frames.
package record

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxFrameSize is the compile-time cap on a single frame's total size,
// including the header.
const MaxFrameSize = 64 * 1024

// Magic is the 3-byte ASCII marker at the start of every record file/stream.
var Magic = [3]byte{'R', 'M', 'D'}

// Header is the file/stream header: 3 ASCII bytes "RMD" + vmajor + vminor.
type Header struct {
	VMajor uint16
	VMinor uint16
}

const headerSize = 3 + 2 + 2

// FrameHeader precedes every record body.
type FrameHeader struct {
	Length    uint16 // total frame size including this header
	Type      uint16
	Shard     uint16
	NsecDelta uint32
}

const frameHeaderSize = 2 + 2 + 2 + 4

// Frame is a decoded record: header plus body bytes.
type Frame struct {
	FrameHeader
	Body []byte
}

var (
	// ErrTruncated is returned when a read hits EOF mid-frame; callers treat
	// this as a clean end of stream.
	ErrTruncated = errors.New("record: truncated frame")
	// ErrInvalidFormat is fatal: the stream does not begin with the expected
	// magic, or a frame's length does not match its registered type.
	ErrInvalidFormat = errors.New("record: invalid format")
	// ErrFrameTooLarge is returned when a frame would exceed MaxFrameSize.
	ErrFrameTooLarge = errors.New("record: frame exceeds size cap")
)

// WriteHeader writes the file/stream header.
func WriteHeader(w io.Writer, h Header) error {
	buf := make([]byte, headerSize)
	copy(buf[0:3], Magic[:])
	binary.LittleEndian.PutUint16(buf[3:5], h.VMajor)
	binary.LittleEndian.PutUint16(buf[5:7], h.VMinor)
	_, err := w.Write(buf)
	return err
}

// ReadHeader reads and validates the file/stream header.
func ReadHeader(r io.Reader) (Header, error) {
	buf := make([]byte, headerSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return Header{}, ErrTruncated
		}
		return Header{}, err
	}
	if buf[0] != Magic[0] || buf[1] != Magic[1] || buf[2] != Magic[2] {
		return Header{}, fmt.Errorf("%w: bad magic", ErrInvalidFormat)
	}
	return Header{
		VMajor: binary.LittleEndian.Uint16(buf[3:5]),
		VMinor: binary.LittleEndian.Uint16(buf[5:7]),
	}, nil
}

// Registry maps a record type to its fixed body size, so decoders can
// validate a frame's length without switching on every call site.
type Registry struct {
	sizes map[uint16]int
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{sizes: make(map[uint16]int)}
}

// Register fixes the body size for a record type. Registering the same type
// twice with different sizes panics, since that would indicate a programming
// error in the caller, not a runtime condition.
func (r *Registry) Register(typ uint16, bodySize int) {
	if existing, ok := r.sizes[typ]; ok && existing != bodySize {
		panic(fmt.Sprintf("record: type %d re-registered with different body size (%d != %d)", typ, existing, bodySize))
	}
	r.sizes[typ] = bodySize
}

// BodySize returns the fixed body size for typ, and whether it is known.
func (r *Registry) BodySize(typ uint16) (int, bool) {
	n, ok := r.sizes[typ]
	return n, ok
}

// Writer emits frames onto an io.Writer in construction order; it never
// reorders frames.
type Writer struct {
	w        io.Writer
	baseNsec int64
}

// NewWriter returns a Writer over w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteFrame encodes and writes a single frame. nsec is the frame's absolute
// timestamp in nanoseconds; it is encoded as a delta against the last
// heartbeat base (reset via SetBase).
func (wr *Writer) WriteFrame(typ, shard uint16, nsec int64, body []byte) error {
	total := frameHeaderSize + len(body)
	if total > MaxFrameSize {
		return ErrFrameTooLarge
	}
	delta := nsec - wr.baseNsec
	if delta < 0 {
		delta = 0
	}
	buf := make([]byte, total)
	binary.LittleEndian.PutUint16(buf[0:2], uint16(total))
	binary.LittleEndian.PutUint16(buf[2:4], typ)
	binary.LittleEndian.PutUint16(buf[4:6], shard)
	binary.LittleEndian.PutUint32(buf[6:10], uint32(delta))
	copy(buf[frameHeaderSize:], body)
	_, err := wr.w.Write(buf)
	return err
}

// SetBase resets the heartbeat base nanosecond timestamp that subsequent
// WriteFrame deltas are computed against.
func (wr *Writer) SetBase(nsec int64) {
	wr.baseNsec = nsec
}

// Reader decodes frames from an io.Reader, validating lengths against a
// Registry.
type Reader struct {
	r        io.Reader
	reg      *Registry
	baseNsec int64
}

// NewReader returns a Reader over r, validating frame bodies against reg.
// reg may be nil, in which case body-size validation is skipped.
func NewReader(r io.Reader, reg *Registry) *Reader {
	return &Reader{r: r, reg: reg}
}

// SetBase resets the base nanosecond timestamp used to reconstitute absolute
// times from nsec_delta.
func (rd *Reader) SetBase(nsec int64) {
	rd.baseNsec = nsec
}

// ReadFrame reads and validates the next frame. It returns io.EOF at a clean
// stream boundary, and ErrTruncated if the stream ends mid-frame.
func (rd *Reader) ReadFrame() (Frame, int64, error) {
	hbuf := make([]byte, frameHeaderSize)
	n, err := io.ReadFull(rd.r, hbuf)
	if err != nil {
		if n == 0 && err == io.EOF {
			return Frame{}, 0, io.EOF
		}
		return Frame{}, 0, ErrTruncated
	}
	length := binary.LittleEndian.Uint16(hbuf[0:2])
	typ := binary.LittleEndian.Uint16(hbuf[2:4])
	shard := binary.LittleEndian.Uint16(hbuf[4:6])
	delta := binary.LittleEndian.Uint32(hbuf[6:10])

	if int(length) > MaxFrameSize {
		return Frame{}, 0, ErrFrameTooLarge
	}
	if int(length) < frameHeaderSize {
		return Frame{}, 0, fmt.Errorf("%w: length %d smaller than header", ErrInvalidFormat, length)
	}
	bodyLen := int(length) - frameHeaderSize

	if rd.reg != nil {
		if want, ok := rd.reg.BodySize(typ); ok && want != bodyLen {
			return Frame{}, 0, fmt.Errorf("%w: type %d expects body size %d, got %d", ErrInvalidFormat, typ, want, bodyLen)
		}
	}

	body := make([]byte, bodyLen)
	if bodyLen > 0 {
		if _, err := io.ReadFull(rd.r, body); err != nil {
			return Frame{}, 0, ErrTruncated
		}
	}

	abs := rd.baseNsec + int64(delta)
	return Frame{
		FrameHeader: FrameHeader{
			Length:    length,
			Type:      typ,
			Shard:     shard,
			NsecDelta: delta,
		},
		Body: body,
	}, abs, nil
}
