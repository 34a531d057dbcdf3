package can

import (
	"fmt"

	"github.com/pjsaksa/femc-go/errstack"
)

const hexDigits = "0123456789ABCDEF"

func writeNibble(buf []byte, pos int, v byte) int {
	buf[pos] = hexDigits[v&0x0F]
	return pos + 1
}

// textByteSize returns the number of bytes WriteText needs for a frame with
// the given shape, optionally including a trailing NUL (kept for parity
// with callers that hand the result straight to a C-style string API).
func textByteSize(extended bool, size uint8, writeNull bool) int {
	idNibbles := 4
	if extended {
		idNibbles = 8
	}
	count := idNibbles + 1 /*size nibble*/ + 4 /*4 spaces*/
	if size > 0 {
		count += int(size)*2 + int(size-1) // hex pairs plus separating spaces
	}
	if writeNull {
		count++
	}
	return count
}

// WriteText renders f as the human-readable hex form used for logging:
// <id nibbles> "  " <size nibble> "  " <space-separated data byte pairs>,
// optionally NUL terminated. It writes into *start and advances past the
// written bytes (the NUL, if requested, is written but not counted in the
// advance, matching a C string's own convention of excluding its
// terminator from its length).
func WriteText(f *Frame, start *[]byte, writeNull bool) error {
	cookie, _ := errstack.PushContext(errstack.ContextCAN, "WriteText")
	defer errstack.PopContext(errstack.ContextCAN, cookie, true)

	if f == nil || start == nil || *start == nil || f.Size > maxFrameBytes {
		errstack.PushConsistencyFailureID(errstack.ConsistencyInvalidArguments)
		return fmt.Errorf("can: invalid arguments to WriteText")
	}

	need := textByteSize(f.Extended, f.Size, writeNull)
	buf := *start
	if len(buf) < need {
		errstack.PushResourceFailureID(errstack.ResourceBufferOverflow)
		return fmt.Errorf("can: buffer overflow encoding frame text")
	}

	id := f.ID & extValueMask
	pos := 0

	if f.Extended {
		for shift := 28; shift >= 0; shift -= 4 {
			pos = writeNibble(buf, pos, byte(id>>uint(shift)))
		}
	} else {
		for shift := 12; shift >= 0; shift -= 4 {
			pos = writeNibble(buf, pos, byte(id>>uint(shift)))
		}
	}

	buf[pos], buf[pos+1] = ' ', ' '
	pos += 2
	pos = writeNibble(buf, pos, f.Size)
	buf[pos], buf[pos+1] = ' ', ' '
	pos += 2

	for i := 0; i < int(f.Size); i++ {
		if i > 0 {
			buf[pos] = ' '
			pos++
		}
		pos = writeNibble(buf, pos, f.Data[i]>>4)
		pos = writeNibble(buf, pos, f.Data[i])
	}

	if writeNull {
		buf[pos] = 0
	}

	*start = buf[pos:]
	return nil
}
