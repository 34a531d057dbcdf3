package netutil

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/pjsaksa/femc-go/errstack"
)

// Watcher is the subset of a reactor's readiness-registration API that
// [LazyConnect] and [AutoAccept] need. [reactor.Loop] satisfies it; it is
// the same shape as bufio.Watcher so a single Loop serves both packages.
type Watcher interface {
	AddInput(fd int, handler func() bool) error
	RemoveInput(fd int) error
	AddOutput(fd int, handler func() bool) error
	RemoveOutput(fd int) error
}

// ConnectFunc reports the outcome of a [LazyConnect] attempt: fd is the
// connected socket (or -1 on failure) and connErr the connect() errno
// translated to a Go error, nil on success.
type ConnectFunc func(fd int, connErr error) bool

// LazyConnect opens a non-blocking socket and connects it to addr. If the
// connect completes instantly, callback runs before LazyConnect returns. If
// it would block, LazyConnect registers with w and callback runs later, once
// the fd becomes writable, with the real outcome read back via SO_ERROR.
func LazyConnect(w Watcher, addr *unix.SockaddrInet4, opts SocketOption, callback ConnectFunc) error {
	cookie, _ := errstack.PushContext(errstack.ContextConnect, "LazyConnect")
	defer errstack.PopContext(errstack.ContextConnect, cookie, true)

	if w == nil || addr == nil || callback == nil || opts&^UDP != 0 {
		errstack.PushConsistencyFailureID(errstack.ConsistencyInvalidArguments)
		return fmt.Errorf("netutil: invalid arguments to LazyConnect")
	}

	sockType := unix.SOCK_STREAM
	if opts&UDP != 0 {
		sockType = unix.SOCK_DGRAM
	}

	fd, err := unix.Socket(unix.AF_INET, sockType, 0)
	if err != nil {
		errstack.PushStdlibError("socket", errnoOf(err))
		return fmt.Errorf("netutil: socket: %w", err)
	}
	if err := setNonblockCloexec(fd); err != nil {
		_ = unix.Close(fd)
		return err
	}

	connErr := unix.Connect(fd, addr)
	if connErr == unix.EINPROGRESS {
		return pendingConnect(w, fd, callback)
	}

	if connErr != nil {
		_ = unix.Close(fd)
		fd = -1
	}

	callback(fd, connErr)
	return nil
}

func pendingConnect(w Watcher, fd int, callback ConnectFunc) error {
	var handler func() bool
	handler = func() bool {
		_ = w.RemoveOutput(fd)

		connErrno, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
		if err != nil {
			errstack.PushStdlibError("getsockopt", errnoOf(err))
			connErrno = -1
		}

		var connErr error
		if connErrno != 0 {
			connErr = unix.Errno(connErrno)
		}

		return callback(fd, connErr)
	}

	if err := w.AddOutput(fd, handler); err != nil {
		_ = unix.Close(fd)
		return fmt.Errorf("netutil: AddOutput: %w", err)
	}
	return nil
}
