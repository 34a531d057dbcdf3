package can_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pjsaksa/femc-go/can"
)

func TestWriteThenReadBinaryStandardFrame(t *testing.T) {
	f := can.Frame{ID: 0x123, Size: 3, Data: [8]byte{0xDE, 0xAD, 0xBE}}

	buf := make([]byte, 16)
	cursor := buf

	require.NoError(t, can.WriteBinary(&f, &cursor))

	readCursor := buf
	var got can.Frame
	require.NoError(t, can.ReadBinary(&got, &readCursor))

	assert.Equal(t, f.ID, got.ID)
	assert.False(t, got.Extended)
	assert.Equal(t, f.Size, got.Size)
	assert.Equal(t, f.Data, got.Data)
}

func TestWriteThenReadBinaryExtendedFrame(t *testing.T) {
	f := can.Frame{ID: 0x1FFFFFFF, Extended: true, Size: 8, Data: [8]byte{1, 2, 3, 4, 5, 6, 7, 8}}

	buf := make([]byte, 16)
	cursor := buf
	require.NoError(t, can.WriteBinary(&f, &cursor))

	readCursor := buf
	var got can.Frame
	require.NoError(t, can.ReadBinary(&got, &readCursor))

	assert.Equal(t, f.ID, got.ID)
	assert.True(t, got.Extended)
	assert.Equal(t, f.Data, got.Data)
}

func TestWriteBinaryRejectsOversizedFrame(t *testing.T) {
	f := can.Frame{Size: 9}
	buf := make([]byte, 16)
	cursor := buf
	assert.Error(t, can.WriteBinary(&f, &cursor))
}

func TestReadBinaryRejectsShortBuffer(t *testing.T) {
	buf := []byte{0x01}
	var got can.Frame
	assert.Error(t, can.ReadBinary(&got, &buf))
}

func TestWriteTextStandardFrame(t *testing.T) {
	f := can.Frame{ID: 0x123, Size: 2, Data: [8]byte{0xAB, 0xCD}}

	buf := make([]byte, 32)
	cursor := buf
	require.NoError(t, can.WriteText(&f, &cursor, false))

	written := len(buf) - len(cursor)
	assert.Equal(t, "0123  2  AB CD", string(buf[:written]))
}

func TestWriteTextRejectsOversizedFrame(t *testing.T) {
	f := can.Frame{Size: 9}
	buf := make([]byte, 32)
	cursor := buf
	assert.Error(t, can.WriteText(&f, &cursor, false))
}
