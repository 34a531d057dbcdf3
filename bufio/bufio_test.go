package bufio_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/pjsaksa/femc-go/bufio"
)

type fakeWatcher struct {
	addInputCalls, removeInputCalls   int
	addOutputCalls, removeOutputCalls int
}

func (f *fakeWatcher) AddInput(fd int, handler func() bool) error {
	f.addInputCalls++
	return nil
}
func (f *fakeWatcher) RemoveInput(fd int) error { f.removeInputCalls++; return nil }
func (f *fakeWatcher) AddOutput(fd int, handler func() bool) error {
	f.addOutputCalls++
	return nil
}
func (f *fakeWatcher) RemoveOutput(fd int) error { f.removeOutputCalls++; return nil }

func pipe(t *testing.T) (r, w *os.File) {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)
	require.NoError(t, unix.SetNonblock(int(r.Fd()), true))
	require.NoError(t, unix.SetNonblock(int(w.Fd()), true))
	t.Cleanup(func() { r.Close(); w.Close() })
	return r, w
}

func TestNewInputRejectsBadSize(t *testing.T) {
	r, _ := pipe(t)
	w := &fakeWatcher{}
	_, err := bufio.NewInput(int(r.Fd()), 1, w, nil, nil)
	assert.Error(t, err)
}

func TestNewInputInPlaceRejectsNilRegion(t *testing.T) {
	r, _ := pipe(t)
	w := &fakeWatcher{}
	_, err := bufio.NewInputInPlace(int(r.Fd()), nil, w, nil, nil)
	assert.Error(t, err)
}

func TestNewInputInPlaceRejectsShortRegion(t *testing.T) {
	r, _ := pipe(t)
	w := &fakeWatcher{}
	_, err := bufio.NewInputInPlace(int(r.Fd()), make([]byte, 1), w, nil, nil)
	assert.Error(t, err)
}

func TestNewInputInPlaceUsesCallerRegion(t *testing.T) {
	r, w := pipe(t)
	watcher := &fakeWatcher{}

	region := make([]byte, 64)
	buf, err := bufio.NewInputInPlace(int(r.Fd()), region, watcher, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 64, buf.Cap())

	_, err = w.Write([]byte("hi"))
	require.NoError(t, err)
	assert.True(t, buf.HandleReadable())
	assert.Equal(t, "hi", string(region[:2]))
}

func TestNewOutputInPlaceUsesCallerRegion(t *testing.T) {
	r, w := pipe(t)
	watcher := &fakeWatcher{}

	region := make([]byte, 64)
	buf, err := bufio.NewOutputInPlace(int(w.Fd()), region, watcher, nil, nil)
	require.NoError(t, err)

	n := buf.Append([]byte("out"))
	assert.Equal(t, 3, n)
	require.True(t, buf.Touch())

	out := make([]byte, 3)
	rn, err := r.Read(out)
	require.NoError(t, err)
	assert.Equal(t, "out", string(out[:rn]))
}

func TestInputBufferReadsAndNotifies(t *testing.T) {
	r, w := pipe(t)
	watcher := &fakeWatcher{}

	var notified []byte
	buf, err := bufio.NewInput(int(r.Fd()), 64, watcher, func(b *bufio.Buffer) bool {
		notified = append([]byte(nil), b.Bytes()...)
		return true
	}, nil)
	require.NoError(t, err)
	require.Equal(t, 1, watcher.addInputCalls)

	_, err = w.Write([]byte("hello"))
	require.NoError(t, err)

	assert.True(t, buf.HandleReadable())
	assert.Equal(t, "hello", string(notified))
	assert.Equal(t, 5, buf.Len())
}

func TestInputBufferClosesOnEOF(t *testing.T) {
	r, w := pipe(t)
	watcher := &fakeWatcher{}

	var closedFd int
	var closedCause error
	buf, err := bufio.NewInput(int(r.Fd()), 64, watcher, nil, func(b *bufio.Buffer, fd int, cause error) {
		closedFd = fd
		closedCause = cause
	})
	require.NoError(t, err)

	w.Close()

	assert.True(t, buf.HandleReadable())
	assert.True(t, buf.IsClosed())
	assert.Equal(t, int(r.Fd()), closedFd)
	assert.NoError(t, closedCause)
}

func TestConsumeCompactsRemainingData(t *testing.T) {
	r, w := pipe(t)
	watcher := &fakeWatcher{}

	buf, err := bufio.NewInput(int(r.Fd()), 64, watcher, nil, nil)
	require.NoError(t, err)

	_, err = w.Write([]byte("hello world"))
	require.NoError(t, err)
	require.True(t, buf.HandleReadable())

	require.True(t, buf.Consume(len("hello ")))
	assert.Equal(t, "world", string(buf.Bytes()))
}

func TestConsumeRejectsOutOfRangeLength(t *testing.T) {
	r, _ := pipe(t)
	watcher := &fakeWatcher{}

	buf, err := bufio.NewInput(int(r.Fd()), 64, watcher, nil, nil)
	require.NoError(t, err)

	assert.False(t, buf.Consume(-1))
	assert.False(t, buf.Consume(1))
}

func TestOutputBufferWritesAndDrains(t *testing.T) {
	r, w := pipe(t)
	watcher := &fakeWatcher{}

	notifyCount := 0
	buf, err := bufio.NewOutput(int(w.Fd()), 64, watcher, func(b *bufio.Buffer) bool {
		notifyCount++
		return true
	}, nil)
	require.NoError(t, err)

	n := buf.Append([]byte("world"))
	assert.Equal(t, 5, n)
	require.True(t, buf.Touch())

	out := make([]byte, 5)
	rn, err := r.Read(out)
	require.NoError(t, err)
	assert.Equal(t, "world", string(out[:rn]))
}

func TestTransferMovesBytesBetweenBuffers(t *testing.T) {
	rA, wA := pipe(t)
	rB, wB := pipe(t)
	watcher := &fakeWatcher{}

	src, err := bufio.NewInput(int(rA.Fd()), 64, watcher, nil, nil)
	require.NoError(t, err)
	dst, err := bufio.NewOutput(int(wB.Fd()), 64, watcher, nil, nil)
	require.NoError(t, err)

	_, err = wA.Write([]byte("xfer"))
	require.NoError(t, err)
	require.True(t, src.HandleReadable())
	require.Equal(t, 4, src.Len())

	n := bufio.Transfer(dst, src)
	assert.Equal(t, 4, n)
	assert.Equal(t, 0, src.Len())
	assert.Equal(t, 4, dst.Len())

	require.True(t, dst.Touch())
	out := make([]byte, 4)
	rn, err := rB.Read(out)
	require.NoError(t, err)
	assert.Equal(t, "xfer", string(out[:rn]))
}

func TestCloseDeferredDuringNotify(t *testing.T) {
	r, w := pipe(t)
	watcher := &fakeWatcher{}

	closeCalled := false
	var buf *bufio.Buffer
	var err error
	buf, err = bufio.NewInput(int(r.Fd()), 64, watcher, func(b *bufio.Buffer) bool {
		b.Close() // re-entrant close from within notify
		return true
	}, func(b *bufio.Buffer, fd int, cause error) {
		closeCalled = true
	})
	require.NoError(t, err)

	_, err = w.Write([]byte("x"))
	require.NoError(t, err)

	buf.HandleReadable()
	assert.True(t, closeCalled)
	assert.True(t, buf.IsClosed())
}
