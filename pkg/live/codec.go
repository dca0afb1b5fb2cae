package live

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// maxStringLen bounds decoded strings; keys and control words are short
const maxStringLen = 1 << 12

var errTooLong = errors.New("string too long")

// Encoder handles encoding of live protocol messages
type Encoder struct {
	w   io.Writer
	tmp [binary.MaxVarintLen64]byte
}

// NewEncoder creates a new encoder
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// WriteUvarint writes an unsigned varint
func (e *Encoder) WriteUvarint(v uint64) error {
	n := binary.PutUvarint(e.tmp[:], v)
	_, err := e.w.Write(e.tmp[:n])
	return err
}

// WriteVarint writes a zig-zag signed varint
func (e *Encoder) WriteVarint(v int64) error {
	n := binary.PutVarint(e.tmp[:], v)
	_, err := e.w.Write(e.tmp[:n])
	return err
}

// WriteFloat64 writes a little-endian IEEE-754 double
func (e *Encoder) WriteFloat64(f float64) error {
	binary.LittleEndian.PutUint64(e.tmp[:8], math.Float64bits(f))
	_, err := e.w.Write(e.tmp[:8])
	return err
}

// WriteString writes a length-prefixed string
func (e *Encoder) WriteString(s string) error {
	if err := e.WriteUvarint(uint64(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(e.w, s)
	return err
}

// WriteBytes writes raw bytes
func (e *Encoder) WriteBytes(b []byte) error {
	_, err := e.w.Write(b)
	return err
}

// Decoder handles decoding of live protocol messages
type Decoder struct {
	r   io.Reader
	buf []byte
}

// NewDecoder creates a new decoder
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{
		r:   r,
		buf: make([]byte, 64),
	}
}

// ReadUvarint reads an unsigned varint
func (d *Decoder) ReadUvarint() (uint64, error) {
	return binary.ReadUvarint(d)
}

// ReadVarint reads a zig-zag signed varint
func (d *Decoder) ReadVarint() (int64, error) {
	return binary.ReadVarint(d)
}

// ReadByte implements io.ByteReader
func (d *Decoder) ReadByte() (byte, error) {
	var b [1]byte
	if _, err := io.ReadFull(d.r, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadFloat64 reads a little-endian IEEE-754 double
func (d *Decoder) ReadFloat64() (float64, error) {
	var b [8]byte
	if _, err := io.ReadFull(d.r, b[:]); err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b[:])), nil
}

// ReadString reads a length-prefixed string
func (d *Decoder) ReadString() (string, error) {
	length, err := d.ReadUvarint()
	if err != nil {
		return "", err
	}
	if length > maxStringLen {
		return "", errTooLong
	}

	if length > uint64(len(d.buf)) {
		d.buf = make([]byte, length)
	}

	n, err := io.ReadFull(d.r, d.buf[:length])
	if err != nil {
		return "", err
	}

	return string(d.buf[:n]), nil
}

// EncodeEvents encodes an event frame: frame type, event count, events
func EncodeEvents(events ...Event) []byte {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)

	buf.WriteByte(byte(FrameEvent))
	enc.WriteUvarint(uint64(len(events)))
	for _, evt := range events {
		encodeEvent(enc, &buf, evt)
	}
	return buf.Bytes()
}

func encodeEvent(enc *Encoder, buf *bytes.Buffer, evt Event) {
	buf.WriteByte(byte(evt.Type))

	switch evt.Type {
	case EventViewport, EventPointerPosition:
		enc.WriteFloat64(evt.X)
		enc.WriteFloat64(evt.Y)

	case EventPointerDown:
		enc.WriteUvarint(uint64(evt.PointerID))
		enc.WriteFloat64(evt.X)
		enc.WriteFloat64(evt.Y)
		enc.WriteVarint(int64(evt.Button))
		buf.WriteByte(evt.Flags)

	case EventPointerMove, EventPointerUp:
		enc.WriteUvarint(uint64(evt.PointerID))
		enc.WriteFloat64(evt.X)
		enc.WriteFloat64(evt.Y)

	case EventPointerCancel:
		enc.WriteUvarint(uint64(evt.PointerID))

	case EventWheel:
		enc.WriteFloat64(evt.X)
		enc.WriteFloat64(evt.Y)
		buf.WriteByte(evt.Flags)

	case EventKeyDown, EventKeyUp:
		enc.WriteString(evt.Key)

	case EventFlip, EventJump:
		enc.WriteVarint(int64(evt.Index))
	}
}

// DecodeEvents decodes an event frame
func DecodeEvents(data []byte) ([]Event, error) {
	if len(data) < 2 {
		return nil, errors.New("event data too short")
	}
	if data[0] != byte(FrameEvent) {
		return nil, errors.New("not an event frame")
	}

	dec := NewDecoder(bytes.NewReader(data[1:]))
	count, err := dec.ReadUvarint()
	if err != nil {
		return nil, fmt.Errorf("failed to decode event count: %w", err)
	}
	// Every event takes at least one byte
	if count > uint64(len(data)) {
		return nil, fmt.Errorf("event count %d exceeds frame size", count)
	}

	events := make([]Event, 0, count)
	for i := uint64(0); i < count; i++ {
		evt, err := decodeEvent(dec)
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
		events = append(events, evt)
	}
	return events, nil
}

func decodeEvent(dec *Decoder) (Event, error) {
	t, err := dec.ReadByte()
	if err != nil {
		return Event{}, err
	}
	evt := Event{Type: EventType(t)}

	readXY := func() error {
		var err error
		if evt.X, err = dec.ReadFloat64(); err != nil {
			return err
		}
		evt.Y, err = dec.ReadFloat64()
		return err
	}
	readID := func() error {
		id, err := dec.ReadUvarint()
		if err != nil {
			return err
		}
		if id > math.MaxInt32 {
			return fmt.Errorf("pointer id %d out of range", id)
		}
		evt.PointerID = int(id)
		return nil
	}

	switch evt.Type {
	case EventViewport, EventPointerPosition:
		err = readXY()

	case EventPointerDown:
		if err = readID(); err != nil {
			break
		}
		if err = readXY(); err != nil {
			break
		}
		var b int64
		if b, err = dec.ReadVarint(); err != nil {
			break
		}
		evt.Button = int(b)
		evt.Flags, err = dec.ReadByte()

	case EventPointerMove, EventPointerUp:
		if err = readID(); err != nil {
			break
		}
		err = readXY()

	case EventPointerCancel:
		err = readID()

	case EventWheel:
		if err = readXY(); err != nil {
			break
		}
		evt.Flags, err = dec.ReadByte()

	case EventKeyDown, EventKeyUp:
		evt.Key, err = dec.ReadString()

	case EventZoomIn, EventZoomOut, EventZoomReset:

	case EventFlip, EventJump:
		var idx int64
		if idx, err = dec.ReadVarint(); err != nil {
			break
		}
		if idx < math.MinInt32 || idx > math.MaxInt32 {
			return evt, fmt.Errorf("index %d out of range", idx)
		}
		evt.Index = int(idx)

	default:
		return evt, fmt.Errorf("unknown event type 0x%02x", t)
	}
	return evt, err
}

// EncodeControl encodes a control frame carrying a control word and
// optional string arguments
func EncodeControl(word string, args ...string) []byte {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	buf.WriteByte(byte(FrameControl))
	enc.WriteString(word)
	for _, a := range args {
		enc.WriteString(a)
	}
	return buf.Bytes()
}
