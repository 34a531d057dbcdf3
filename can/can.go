// Package can implements the wire and text encodings for a CAN bus frame:
// a compact binary form (used on the wire between femc-go peers) and a
// human-readable hex form (used for logging and manual testing).
package can

import (
	"fmt"

	"github.com/pjsaksa/femc-go/errstack"
	"github.com/pjsaksa/femc-go/s11n"
)

const (
	extIDBit      uint32 = 0x80000000
	extByteBit    byte   = 0x80
	stdValueMask  uint32 = 0x07FF
	extValueMask  uint32 = 0x1FFFFFFF
	maxFrameBytes        = 8
)

// Frame is a single CAN frame: an 11-bit standard or 29-bit extended
// identifier plus up to 8 bytes of data.
type Frame struct {
	ID       uint32 // standard: 11 meaningful bits; extended: 29, with Extended true
	Extended bool
	Data     [maxFrameBytes]byte
	Size     uint8
}

// ReadBinary decodes one frame from the wire form at *start, advancing
// *start past it. The wire form is always big-endian regardless of the
// package-level [s11n] endianness setting, which is saved and restored
// around the call.
func ReadBinary(f *Frame, start *[]byte) error {
	cookie, _ := errstack.PushContext(errstack.ContextCAN, "ReadBinary")
	defer errstack.PopContext(errstack.ContextCAN, cookie, true)

	if f == nil || start == nil || *start == nil {
		errstack.PushConsistencyFailureID(errstack.ConsistencyInvalidArguments)
		return fmt.Errorf("can: invalid arguments to ReadBinary")
	}

	old := s11n.GetEndianness()
	s11n.SetEndianness(s11n.BigEndian)
	defer s11n.SetEndianness(old)

	buf := *start

	if len(buf) < 3 {
		errstack.PushResourceFailureID(errstack.ResourceBufferUnderflow)
		return fmt.Errorf("can: buffer underflow decoding frame header")
	}

	extended := buf[0]&extByteBit != 0

	if extended && len(buf) < 5 {
		errstack.PushResourceFailureID(errstack.ResourceBufferUnderflow)
		return fmt.Errorf("can: buffer underflow decoding extended id")
	}

	sizeOffset := 2
	if extended {
		sizeOffset = 4
	}
	size := buf[sizeOffset]

	if size > maxFrameBytes {
		errstack.PushDataCorruption("can frame size over 8")
		return fmt.Errorf("can: frame size %d exceeds 8 bytes", size)
	}

	headerLen := 3
	if extended {
		headerLen = 5
	}
	if len(buf) < headerLen+int(size) {
		errstack.PushResourceFailureID(errstack.ResourceBufferUnderflow)
		return fmt.Errorf("can: buffer underflow decoding frame data")
	}

	cursor := s11n.NewCursor(buf)

	var id uint32
	if extended {
		v, ok := cursor.ReadUint32()
		if !ok {
			errstack.PushResourceFailureID(errstack.ResourceBufferUnderflow)
			return fmt.Errorf("can: read extended id")
		}
		id = v & extValueMask
	} else {
		v, ok := cursor.ReadUint16()
		if !ok {
			errstack.PushResourceFailureID(errstack.ResourceBufferUnderflow)
			return fmt.Errorf("can: read standard id")
		}
		id = uint32(v) & stdValueMask
	}

	sizeByte, ok := cursor.ReadUint8()
	if !ok || sizeByte != size {
		errstack.PushDataCorruption("can frame size mismatch")
		return fmt.Errorf("can: frame size mismatch")
	}

	f.ID = id
	f.Extended = extended
	f.Size = size
	if size > 0 {
		if !cursor.ReadBytes(f.Data[:size]) {
			errstack.PushResourceFailureID(errstack.ResourceBufferUnderflow)
			return fmt.Errorf("can: read frame data")
		}
	}

	*start = buf[cursor.Pos():]
	return nil
}

// WriteBinary encodes f into the wire form at *start, advancing *start past
// it.
func WriteBinary(f *Frame, start *[]byte) error {
	cookie, _ := errstack.PushContext(errstack.ContextCAN, "WriteBinary")
	defer errstack.PopContext(errstack.ContextCAN, cookie, true)

	if f == nil || start == nil || *start == nil || f.Size > maxFrameBytes {
		errstack.PushConsistencyFailureID(errstack.ConsistencyInvalidArguments)
		return fmt.Errorf("can: invalid arguments to WriteBinary")
	}

	old := s11n.GetEndianness()
	s11n.SetEndianness(s11n.BigEndian)
	defer s11n.SetEndianness(old)

	frameSize := 3 + int(f.Size)
	if f.Extended {
		frameSize = 5 + int(f.Size)
	}
	if len(*start) < frameSize {
		errstack.PushResourceFailureID(errstack.ResourceBufferOverflow)
		return fmt.Errorf("can: buffer overflow encoding frame")
	}

	cursor := s11n.NewCursor(*start)

	if f.Extended {
		if !cursor.WriteUint32((f.ID & extValueMask) | extIDBit) {
			errstack.PushResourceFailureID(errstack.ResourceBufferOverflow)
			return fmt.Errorf("can: write extended id")
		}
	} else {
		if !cursor.WriteUint16(uint16(f.ID)) {
			errstack.PushResourceFailureID(errstack.ResourceBufferOverflow)
			return fmt.Errorf("can: write standard id")
		}
	}

	if !cursor.WriteUint8(f.Size) {
		errstack.PushResourceFailureID(errstack.ResourceBufferOverflow)
		return fmt.Errorf("can: write size")
	}

	if f.Size > 0 && !cursor.WriteBytes(f.Data[:f.Size]) {
		errstack.PushResourceFailureID(errstack.ResourceBufferOverflow)
		return fmt.Errorf("can: write frame data")
	}

	*start = (*start)[cursor.Pos():]
	return nil
}
