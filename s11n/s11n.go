// Package s11n implements the fixed-width, endian-aware binary serialization
// primitives used to encode and decode wire structures throughout femc-go
// (CAN frames, persisted records). All widths advance a caller-owned cursor
// on success and leave it untouched on failure, so a caller can always
// retry against a fuller buffer without re-deriving its position.
package s11n

import (
	"encoding/binary"

	"github.com/pjsaksa/femc-go/errstack"
)

// Endianness selects the byte order used by the package-level read/write
// functions. The zero value is [BigEndian], matching network byte order.
type Endianness uint8

const (
	BigEndian Endianness = iota
	LittleEndian
)

var current = BigEndian

// GetEndianness returns the process-wide endianness currently in effect.
func GetEndianness() Endianness { return current }

// SetEndianness sets the process-wide endianness used by subsequent
// read/write calls, returning the previous value so callers can restore it,
// the way [can] package codecs bracket their own fixed-endianness encoding.
func SetEndianness(e Endianness) Endianness {
	prev := current
	current = e
	return prev
}

func byteOrder() binary.ByteOrder {
	if current == LittleEndian {
		return binary.LittleEndian
	}
	return binary.BigEndian
}

// Cursor is a read or write position within a byte slice, advanced only by
// successful operations.
type Cursor struct {
	buf []byte
	pos int
}

// NewCursor returns a [Cursor] over buf, starting at offset 0.
func NewCursor(buf []byte) *Cursor { return &Cursor{buf: buf} }

// Pos returns the current offset into the underlying buffer.
func (c *Cursor) Pos() int { return c.pos }

// Remaining returns the number of unconsumed bytes.
func (c *Cursor) Remaining() int { return len(c.buf) - c.pos }

func (c *Cursor) take(n int) ([]byte, bool) {
	if c.Remaining() < n {
		return nil, false
	}
	b := c.buf[c.pos : c.pos+n]
	c.pos += n
	return b, true
}

func (c *Cursor) reserve(n int) ([]byte, bool) {
	if c.Remaining() < n {
		return nil, false
	}
	b := c.buf[c.pos : c.pos+n]
	c.pos += n
	return b, true
}

// underflow records a read that ran out of buffer, the counterpart of
// fdu_s11n_read_*'s fde_push_resource_failure_id(fde_resource_buffer_underflow).
func underflow() bool {
	return errstack.PushResourceFailureID(errstack.ResourceBufferUnderflow)
}

// overflow records a write that ran out of buffer.
func overflow() bool {
	return errstack.PushResourceFailureID(errstack.ResourceBufferOverflow)
}

// ReadUint8 reads a single byte.
func (c *Cursor) ReadUint8() (uint8, bool) {
	cookie, _ := errstack.PushContext(errstack.ContextS11N, "read_uint8")
	defer errstack.PopContext(errstack.ContextS11N, cookie, true)

	b, ok := c.take(1)
	if !ok {
		underflow()
		return 0, false
	}
	return b[0], true
}

// ReadUint16 reads a 16-bit unsigned integer.
func (c *Cursor) ReadUint16() (uint16, bool) {
	cookie, _ := errstack.PushContext(errstack.ContextS11N, "read_uint16")
	defer errstack.PopContext(errstack.ContextS11N, cookie, true)

	b, ok := c.take(2)
	if !ok {
		underflow()
		return 0, false
	}
	return byteOrder().Uint16(b), true
}

// ReadUint24 reads a 24-bit unsigned integer into the low 24 bits of a
// uint32, the width the original wire format uses for compact counters.
func (c *Cursor) ReadUint24() (uint32, bool) {
	cookie, _ := errstack.PushContext(errstack.ContextS11N, "read_uint24")
	defer errstack.PopContext(errstack.ContextS11N, cookie, true)

	b, ok := c.take(3)
	if !ok {
		underflow()
		return 0, false
	}
	if current == LittleEndian {
		return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16, true
	}
	return uint32(b[2]) | uint32(b[1])<<8 | uint32(b[0])<<16, true
}

// ReadUint32 reads a 32-bit unsigned integer.
func (c *Cursor) ReadUint32() (uint32, bool) {
	cookie, _ := errstack.PushContext(errstack.ContextS11N, "read_uint32")
	defer errstack.PopContext(errstack.ContextS11N, cookie, true)

	b, ok := c.take(4)
	if !ok {
		underflow()
		return 0, false
	}
	return byteOrder().Uint32(b), true
}

// ReadUint64 reads a 64-bit unsigned integer.
func (c *Cursor) ReadUint64() (uint64, bool) {
	cookie, _ := errstack.PushContext(errstack.ContextS11N, "read_uint64")
	defer errstack.PopContext(errstack.ContextS11N, cookie, true)

	b, ok := c.take(8)
	if !ok {
		underflow()
		return 0, false
	}
	return byteOrder().Uint64(b), true
}

// ReadFloat32 reads an IEEE-754 single-precision float.
func (c *Cursor) ReadFloat32() (float32, bool) {
	cookie, _ := errstack.PushContext(errstack.ContextS11N, "read_float32")
	defer errstack.PopContext(errstack.ContextS11N, cookie, true)

	v, ok := c.ReadUint32()
	if !ok {
		return 0, false
	}
	return float32FromBits(v), true
}

// ReadFloat64 reads an IEEE-754 double-precision float.
func (c *Cursor) ReadFloat64() (float64, bool) {
	cookie, _ := errstack.PushContext(errstack.ContextS11N, "read_float64")
	defer errstack.PopContext(errstack.ContextS11N, cookie, true)

	v, ok := c.ReadUint64()
	if !ok {
		return 0, false
	}
	return float64FromBits(v), true
}

// ReadBytes copies exactly len(dst) bytes into dst.
func (c *Cursor) ReadBytes(dst []byte) bool {
	cookie, _ := errstack.PushContext(errstack.ContextS11N, "read_bytes")
	defer errstack.PopContext(errstack.ContextS11N, cookie, true)

	b, ok := c.take(len(dst))
	if !ok {
		underflow()
		return false
	}
	copy(dst, b)
	return true
}

// WriteUint8 writes a single byte.
func (c *Cursor) WriteUint8(v uint8) bool {
	cookie, _ := errstack.PushContext(errstack.ContextS11N, "write_uint8")
	defer errstack.PopContext(errstack.ContextS11N, cookie, true)

	b, ok := c.reserve(1)
	if !ok {
		overflow()
		return false
	}
	b[0] = v
	return true
}

// WriteUint16 writes a 16-bit unsigned integer.
func (c *Cursor) WriteUint16(v uint16) bool {
	cookie, _ := errstack.PushContext(errstack.ContextS11N, "write_uint16")
	defer errstack.PopContext(errstack.ContextS11N, cookie, true)

	b, ok := c.reserve(2)
	if !ok {
		overflow()
		return false
	}
	byteOrder().PutUint16(b, v)
	return true
}

// WriteUint24 writes the low 24 bits of v.
func (c *Cursor) WriteUint24(v uint32) bool {
	cookie, _ := errstack.PushContext(errstack.ContextS11N, "write_uint24")
	defer errstack.PopContext(errstack.ContextS11N, cookie, true)

	b, ok := c.reserve(3)
	if !ok {
		overflow()
		return false
	}
	if current == LittleEndian {
		b[0] = byte(v)
		b[1] = byte(v >> 8)
		b[2] = byte(v >> 16)
	} else {
		b[0] = byte(v >> 16)
		b[1] = byte(v >> 8)
		b[2] = byte(v)
	}
	return true
}

// WriteUint32 writes a 32-bit unsigned integer.
func (c *Cursor) WriteUint32(v uint32) bool {
	cookie, _ := errstack.PushContext(errstack.ContextS11N, "write_uint32")
	defer errstack.PopContext(errstack.ContextS11N, cookie, true)

	b, ok := c.reserve(4)
	if !ok {
		overflow()
		return false
	}
	byteOrder().PutUint32(b, v)
	return true
}

// WriteUint64 writes a 64-bit unsigned integer.
func (c *Cursor) WriteUint64(v uint64) bool {
	cookie, _ := errstack.PushContext(errstack.ContextS11N, "write_uint64")
	defer errstack.PopContext(errstack.ContextS11N, cookie, true)

	b, ok := c.reserve(8)
	if !ok {
		overflow()
		return false
	}
	byteOrder().PutUint64(b, v)
	return true
}

// WriteFloat32 writes an IEEE-754 single-precision float.
func (c *Cursor) WriteFloat32(v float32) bool {
	cookie, _ := errstack.PushContext(errstack.ContextS11N, "write_float32")
	defer errstack.PopContext(errstack.ContextS11N, cookie, true)

	return c.WriteUint32(float32Bits(v))
}

// WriteFloat64 writes an IEEE-754 double-precision float.
func (c *Cursor) WriteFloat64(v float64) bool {
	cookie, _ := errstack.PushContext(errstack.ContextS11N, "write_float64")
	defer errstack.PopContext(errstack.ContextS11N, cookie, true)

	return c.WriteUint64(float64Bits(v))
}

// WriteBytes copies src verbatim.
func (c *Cursor) WriteBytes(src []byte) bool {
	cookie, _ := errstack.PushContext(errstack.ContextS11N, "write_bytes")
	defer errstack.PopContext(errstack.ContextS11N, cookie, true)

	b, ok := c.reserve(len(src))
	if !ok {
		overflow()
		return false
	}
	copy(b, src)
	return true
}
