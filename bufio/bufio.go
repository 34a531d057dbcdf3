// Package bufio provides the buffered I/O service that sits between a raw,
// non-blocking file descriptor and application code: it shuttles bytes
// between the fd and an in-memory buffer, invoking a notify callback on
// every movement and a close callback exactly once when the fd goes away.
//
// A [Buffer] is either an input buffer (filled by reads, drained by the
// application) or an output buffer (filled by the application, drained by
// writes) — never both. The caller always owns and closes the underlying
// fd; this package only ever reads or writes it.
package bufio

import (
	"errors"

	"golang.org/x/sys/unix"

	"github.com/pjsaksa/femc-go/errstack"
)

// Size bounds mirror the limits of the original wire protocol this package
// grew up serving: small enough that a misconfigured caller cannot stall
// the reactor allocating gigabytes, large enough for a full HTTP request.
const (
	MinimumSize = 64
	MaximumSize = 1024 * 1024
)

// Direction distinguishes an input buffer (reads into itself) from an
// output buffer (writes out of itself).
type Direction uint8

const (
	Input Direction = iota
	Output
)

// Watcher is the subset of a reactor's readiness-registration API a
// [Buffer] needs. [reactor.Loop] satisfies it. AddInput/AddOutput are used
// both for the buffer's initial registration (handler bound to the buffer
// itself) and for re-arming interest after it was paused to apply
// backpressure; the reactor rejects an add for a direction that already has
// a handler, and a remove clears the stored handler, so every add supplies
// the handler again.
type Watcher interface {
	AddInput(fd int, handler func() bool) error
	RemoveInput(fd int) error
	AddOutput(fd int, handler func() bool) error
	RemoveOutput(fd int) error
}

// NotifyFunc is called whenever data moves in or out of the buffer. A false
// return, or a call to [Buffer.Close] from within the callback, schedules
// the buffer to close once the callback returns.
type NotifyFunc func(*Buffer) bool

// CloseFunc is called exactly once, when a [Buffer] transitions to closed,
// with the fd that was in use and the errno that caused the close (nil for
// a clean EOF/drain-triggered close).
type CloseFunc func(buf *Buffer, fd int, cause error)

// callstack is a bitset of re-entrancy flags, set while a notify/close
// callback is executing so that a [Buffer.Close] or [Buffer.Free] called
// from within the callback defers the actual teardown until the callback
// returns, instead of freeing storage the callback is still using.
type callstack uint8

const (
	csActive callstack = 1 << iota
	csClosed
	csFreed
)

// Buffer is a single buffered-I/O direction bound to one fd. Create one with
// [NewInput] or [NewOutput]; dispose of it with [Buffer.Free].
type Buffer struct {
	fd      int
	canXfer bool
	dir     Direction

	data   []byte
	filled int

	watcher  Watcher
	notify   NotifyFunc
	onClose  CloseFunc
	closeErr error

	cs callstack
}

// NewInput creates an input buffer of size bytes over fd, registered with
// watcher. notify may be nil. The backing storage is allocated internally;
// a caller that already owns a region to reuse should call
// [NewInputInPlace] instead.
func NewInput(fd int, size int, watcher Watcher, notify NotifyFunc, onClose CloseFunc) (*Buffer, error) {
	cookie, _ := errstack.PushContext(errstack.ContextBufio, "new_input")
	defer errstack.PopContext(errstack.ContextBufio, cookie, true)

	if size < MinimumSize || size > MaximumSize {
		errstack.PushConsistencyFailureID(errstack.ConsistencyInvalidArguments)
		return nil, errors.New("bufio: buffer size out of range")
	}
	return NewInputInPlace(fd, make([]byte, size), watcher, notify, onClose)
}

// NewOutput creates an output buffer of size bytes over fd, registered with
// watcher. notify may be nil. The backing storage is allocated internally;
// a caller that already owns a region to reuse should call
// [NewOutputInPlace] instead.
func NewOutput(fd int, size int, watcher Watcher, notify NotifyFunc, onClose CloseFunc) (*Buffer, error) {
	cookie, _ := errstack.PushContext(errstack.ContextBufio, "new_output")
	defer errstack.PopContext(errstack.ContextBufio, cookie, true)

	if size < MinimumSize || size > MaximumSize {
		errstack.PushConsistencyFailureID(errstack.ConsistencyInvalidArguments)
		return nil, errors.New("bufio: buffer size out of range")
	}
	return NewOutputInPlace(fd, make([]byte, size), watcher, notify, onClose)
}

// NewInputInPlace is [NewInput] for a caller that owns region (a
// previously allocated, currently unused byte slice) and wants the buffer
// built directly over it instead of a freshly allocated one — mirroring
// the original driver's new_input_inplace, which took a caller-managed
// service_region/buffer_region pair rather than calling malloc itself.
// len(region) becomes the buffer's size; it must not be nil and must lie
// within [MinimumSize, MaximumSize], and must not be touched by the caller again
// while the buffer is alive.
func NewInputInPlace(fd int, region []byte, watcher Watcher, notify NotifyFunc, onClose CloseFunc) (*Buffer, error) {
	return newBufferInPlace(fd, region, Input, watcher, notify, onClose)
}

// NewOutputInPlace is [NewOutput]'s in-place counterpart; see
// [NewInputInPlace].
func NewOutputInPlace(fd int, region []byte, watcher Watcher, notify NotifyFunc, onClose CloseFunc) (*Buffer, error) {
	return newBufferInPlace(fd, region, Output, watcher, notify, onClose)
}

func newBufferInPlace(fd int, region []byte, dir Direction, watcher Watcher, notify NotifyFunc, onClose CloseFunc) (*Buffer, error) {
	cookie, _ := errstack.PushContext(errstack.ContextBufio, "new_bufio_inplace")
	defer errstack.PopContext(errstack.ContextBufio, cookie, true)

	if fd < 0 || watcher == nil || region == nil || len(region) < MinimumSize || len(region) > MaximumSize {
		errstack.PushConsistencyFailureID(errstack.ConsistencyInvalidArguments)
		return nil, errors.New("bufio: invalid fd, watcher or region")
	}

	b := &Buffer{
		fd:      fd,
		dir:     dir,
		data:    region,
		watcher: watcher,
		notify:  notify,
		onClose: onClose,
	}

	var err error
	switch dir {
	case Input:
		err = watcher.AddInput(fd, b.gotInput)
	case Output:
		// An output buffer starts empty: nothing to write yet, so it is
		// armed for transfer rather than registered for readiness.
		b.canXfer = true
	}
	if err != nil {
		errstack.PushStdlibError("add_watch", 0)
		return nil, err
	}

	return b, nil
}

// Fd returns the underlying file descriptor, or -1 once closed.
func (b *Buffer) Fd() int { return b.fd }

// IsClosed reports whether the buffer's fd has been released.
func (b *Buffer) IsClosed() bool { return b.fd < 0 }

// IsEmpty reports whether the buffer currently holds no data.
func (b *Buffer) IsEmpty() bool { return b.filled == 0 }

// Len returns the number of bytes currently buffered.
func (b *Buffer) Len() int { return b.filled }

// Cap returns the buffer's fixed capacity.
func (b *Buffer) Cap() int { return len(b.data) }

// Bytes exposes the filled portion of the buffer for direct inspection
// (input side) or for direct appends prior to [Buffer.Touch] (output side).
// The returned slice aliases the buffer's storage and is invalidated by any
// subsequent call into the buffer.
func (b *Buffer) Bytes() []byte { return b.data[:b.filled] }

// Append copies p onto the tail of an output buffer's pending data,
// returning the number of bytes actually copied (possibly less than
// len(p) if the buffer is near capacity).
func (b *Buffer) Append(p []byte) int {
	space := len(b.data) - b.filled
	n := len(p)
	if n > space {
		n = space
	}
	copy(b.data[b.filled:], p[:n])
	b.filled += n
	return n
}

// Consume discards the first n bytes of an input buffer's pending data,
// compacting the remainder to the front, for a caller that parsed n bytes
// out of [Buffer.Bytes] directly. It reports false (discarding nothing) if
// n is out of [0, b.Len()].
func (b *Buffer) Consume(n int) bool {
	if n < 0 || n > b.filled {
		return false
	}
	if n == 0 {
		return true
	}
	b.filled -= n
	if b.filled > 0 {
		copy(b.data, b.data[n:n+b.filled])
	}
	return true
}

// HandleReadable is invoked by the reactor when fd becomes readable. It
// panics if the buffer is not an input buffer.
func (b *Buffer) HandleReadable() bool {
	if b.dir != Input {
		panic("bufio: HandleReadable called on an output buffer")
	}
	return b.gotInput()
}

// HandleWritable is invoked by the reactor when fd becomes writable. It
// panics if the buffer is not an output buffer.
func (b *Buffer) HandleWritable() bool {
	if b.dir != Output {
		panic("bufio: HandleWritable called on an input buffer")
	}
	return b.gotOutput()
}

func (b *Buffer) gotInput() bool {
	cookie, ok := errstack.PushContext(errstack.ContextBufio, "got_input")
	if !ok {
		return false
	}
	defer errstack.PopContext(errstack.ContextBufio, cookie, true)

	if b.filled == len(b.data) {
		b.canXfer = true
		return b.watcher.RemoveInput(b.fd) == nil
	}

	n, err := unix.Read(b.fd, b.data[b.filled:])

	if b.canXfer {
		b.canXfer = false
		if addErr := b.watcher.AddInput(b.fd, b.gotInput); addErr != nil {
			return false
		}
	}

	lazyClose := false
	var closeCause error

	switch {
	case n > 0:
		b.filled += n
		if b.notify != nil {
			if !b.dispatchNotify() {
				lazyClose = true
			}
		}
	case n == 0 && err == nil:
		lazyClose = true
	case err != nil && !errors.Is(err, unix.EINTR) && !errors.Is(err, unix.EAGAIN):
		lazyClose = true
		closeCause = err
	}

	if lazyClose {
		b.closeErr = closeCause
		b.Close()
	}

	return true
}

// gotOutput is invoked by the reactor when fd becomes writable.
func (b *Buffer) gotOutput() bool {
	cookie, ok := errstack.PushContext(errstack.ContextBufio, "got_output")
	if !ok {
		return false
	}
	defer errstack.PopContext(errstack.ContextBufio, cookie, true)

	if b.filled == 0 {
		b.canXfer = true
		return b.watcher.RemoveOutput(b.fd) == nil
	}

	n, err := unix.Write(b.fd, b.data[:b.filled])

	if b.canXfer {
		b.canXfer = false
		if addErr := b.watcher.AddOutput(b.fd, b.gotOutput); addErr != nil {
			return false
		}
	}

	lazyClose := false
	var closeCause error

	switch {
	case n > 0:
		b.filled -= n
		if b.filled > 0 {
			copy(b.data, b.data[n:n+b.filled])
		}
		if b.notify != nil {
			if !b.dispatchNotify() {
				lazyClose = true
			}
		}
	case errors.Is(err, unix.EPIPE):
		lazyClose = true
	case err != nil && !errors.Is(err, unix.EINTR) && !errors.Is(err, unix.EAGAIN):
		lazyClose = true
		closeCause = err
	}

	if lazyClose {
		b.closeErr = closeCause
		b.Close()
	}

	return true
}

// dispatchNotify runs the notify callback with the callstack "active" flag
// held, so a [Buffer.Close] or [Buffer.Free] called re-entrantly from within
// the callback defers instead of tearing the buffer down mid-callback.
func (b *Buffer) dispatchNotify() bool {
	b.cs |= csActive
	ok := b.notify(b)
	closed := b.cs&(csClosed|csFreed) != 0
	b.cs &^= csActive | csClosed
	return ok && !closed
}

// Touch re-arms the buffer for transfer after the application has drained
// (input) or filled (output) it directly via [Buffer.Bytes]/[Buffer.Append],
// without waiting for the next readiness notification.
func (b *Buffer) Touch() bool {
	if b.fd < 0 {
		return false
	}
	if !b.canXfer {
		return true
	}

	switch b.dir {
	case Input:
		if b.filled < len(b.data) {
			return b.gotInput()
		}
	case Output:
		if b.filled > 0 {
			return b.gotOutput()
		}
	}
	return true
}

// Close releases the fd and invokes the close callback exactly once. It is
// safe to call re-entrantly from within the notify callback: the actual
// teardown is deferred until the callback returns.
func (b *Buffer) Close() {
	if b.fd < 0 {
		return
	}

	if b.cs&csActive != 0 {
		b.cs |= csClosed
		return
	}

	fd := b.fd
	b.fd = -1

	if !b.canXfer {
		switch b.dir {
		case Input:
			b.watcher.RemoveInput(fd)
		case Output:
			b.watcher.RemoveOutput(fd)
		}
	}

	b.cs |= csActive

	if b.onClose != nil {
		b.onClose(b, fd, b.closeErr)
	}

	b.cs &^= csActive | csFreed
}

// Free disposes of the [Buffer], closing it first (invoking the close
// callback) if it is still open. Like [Buffer.Close], it is safe to call
// re-entrantly from a notify callback — in that case the close/free is
// deferred until the callback returns. A [Buffer] carries no resources
// beyond Go-managed memory, so Free's only job is to guarantee Close runs;
// it exists to mirror the lifecycle of the manually-freed original and to
// give callers one unconditional teardown call regardless of buffer state.
func (b *Buffer) Free() {
	if b.cs&csActive != 0 {
		b.cs |= csFreed
		return
	}

	if b.IsClosed() {
		return
	}

	b.Close()
}

// Transfer copies as many bytes as possible from src's filled region into
// dst's free space, compacting src afterward. It returns the number of
// bytes moved.
func Transfer(dst, src *Buffer) int {
	if dst == nil || src == nil {
		return 0
	}

	space := len(dst.data) - dst.filled
	n := src.filled
	if n > space {
		n = space
	}
	if n == 0 {
		return 0
	}

	copy(dst.data[dst.filled:], src.data[:n])
	dst.filled += n
	src.filled -= n

	if src.filled > 0 {
		copy(src.data, src.data[n:n+src.filled])
	}

	return n
}
