// Package netutil provides the small set of blocking-socket helpers and
// readiness-driven connection primitives every femc-go based server needs
// around the reactor: safe retrying read/write/close, listening sockets,
// non-blocking connect, and auto-accepting a listening fd into a callback.
//
// The caller always owns the fd it hands to this package; nothing here
// ever closes an fd the caller didn't ask it to close.
package netutil

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/pjsaksa/femc-go/errstack"
)

// SocketOption bits select socket() and bind() behaviour for
// [ListenInet4]/[LazyConnect], mirroring the original driver's option enum.
type SocketOption uint32

const (
	// UDP selects SOCK_DGRAM instead of the default SOCK_STREAM, for both
	// [ListenInet4] and [LazyConnect].
	UDP SocketOption = 1 << iota
	// Local binds to the loopback interface only, instead of any
	// interface. [ListenInet4] only.
	Local
	// NoReuse disables SO_REUSEADDR. [ListenInet4] only.
	NoReuse
	// Broadcast enables SO_BROADCAST. Only valid together with UDP and not
	// Local. [ListenInet4] only.
	Broadcast
)

const listenBacklog = 64

// SafeRead fills buf completely from fd, retrying on EINTR and busy-waiting
// through EAGAIN. It is meant for blocking-mode descriptors (a pidfile, a
// pipe to a helper process) rather than the reactor's own non-blocking fds.
func SafeRead(fd int, buf []byte) error {
	cookie, _ := errstack.PushContext(errstack.ContextSafe, "SafeRead")
	defer errstack.PopContext(errstack.ContextSafe, cookie, true)

	if fd < 0 || buf == nil {
		errstack.PushConsistencyFailureID(errstack.ConsistencyInvalidArguments)
		return fmt.Errorf("netutil: invalid arguments to SafeRead")
	}

	start := 0
	for start < len(buf) {
		n, err := unix.Read(fd, buf[start:])
		switch {
		case n > 0:
			start += n
		case err == unix.EINTR || err == unix.EAGAIN:
			continue
		default:
			errstack.PushStdlibError("read", errnoOf(err))
			return fmt.Errorf("netutil: read: %w", err)
		}
	}
	return nil
}

// SafeWrite writes buf to fd in full, retrying on EINTR/EAGAIN.
func SafeWrite(fd int, buf []byte) error {
	cookie, _ := errstack.PushContext(errstack.ContextSafe, "SafeWrite")
	defer errstack.PopContext(errstack.ContextSafe, cookie, true)

	if fd < 0 || buf == nil {
		errstack.PushConsistencyFailureID(errstack.ConsistencyInvalidArguments)
		return fmt.Errorf("netutil: invalid arguments to SafeWrite")
	}

	start := 0
	for start < len(buf) {
		n, err := unix.Write(fd, buf[start:])
		switch {
		case n > 0:
			start += n
		case err == unix.EINTR || err == unix.EAGAIN:
			continue
		default:
			errstack.PushStdlibError("write", errnoOf(err))
			return fmt.Errorf("netutil: write: %w", err)
		}
	}
	return nil
}

// SafeClose closes fd, retrying on EINTR.
func SafeClose(fd int) error {
	cookie, _ := errstack.PushContext(errstack.ContextSafe, "SafeClose")
	defer errstack.PopContext(errstack.ContextSafe, cookie, true)

	if fd < 0 {
		errstack.PushConsistencyFailureID(errstack.ConsistencyInvalidArguments)
		return fmt.Errorf("netutil: invalid fd passed to SafeClose")
	}

	for {
		err := unix.Close(fd)
		if err == nil {
			return nil
		}
		if err == unix.EINTR {
			continue
		}
		errstack.PushStdlibError("close", errnoOf(err))
		return fmt.Errorf("netutil: close: %w", err)
	}
}

// CopyFD dup2s oldfd onto newfd, retrying on EINTR. A no-op if the two are
// already equal.
func CopyFD(oldfd, newfd int) error {
	cookie, _ := errstack.PushContext(errstack.ContextSafe, "CopyFD")
	defer errstack.PopContext(errstack.ContextSafe, cookie, true)

	if oldfd < 0 || newfd < 0 {
		errstack.PushConsistencyFailureID(errstack.ConsistencyInvalidArguments)
		return fmt.Errorf("netutil: invalid fd passed to CopyFD")
	}
	if oldfd == newfd {
		return nil
	}
	for {
		err := unix.Dup2(oldfd, newfd)
		if err == nil {
			return nil
		}
		if err == unix.EINTR {
			continue
		}
		errstack.PushStdlibError("dup2", errnoOf(err))
		return fmt.Errorf("netutil: dup2: %w", err)
	}
}

// MoveFD is [CopyFD] followed by closing oldfd, unless the two are equal.
func MoveFD(oldfd, newfd int) error {
	if oldfd == newfd {
		return nil
	}
	if err := CopyFD(oldfd, newfd); err != nil {
		return err
	}
	return SafeClose(oldfd)
}

func setNonblockCloexec(fd int) error {
	if err := unix.SetNonblock(fd, true); err != nil {
		errstack.PushStdlibError("fcntl(O_NONBLOCK)", errnoOf(err))
		return fmt.Errorf("netutil: fcntl(O_NONBLOCK): %w", err)
	}
	unix.CloseOnExec(fd)
	return nil
}

func errnoOf(err error) int {
	if errno, ok := err.(unix.Errno); ok {
		return int(errno)
	}
	return -1
}

// ListenInet4 opens, optionally configures and binds a TCP or UDP IPv4
// socket to port on all interfaces (or loopback, with [Local]), and starts
// listening unless opts includes [UDP]. The returned fd is non-blocking.
func ListenInet4(port uint16, opts SocketOption) (int, error) {
	cookie, _ := errstack.PushContext(errstack.ContextListen, "ListenInet4")
	defer errstack.PopContext(errstack.ContextListen, cookie, true)

	const validBits = UDP | Local | NoReuse | Broadcast
	if port == 0 ||
		opts&^validBits != 0 ||
		(opts&Broadcast != 0 && opts&(UDP|Local) != UDP) {
		errstack.PushConsistencyFailureID(errstack.ConsistencyInvalidArguments)
		return -1, fmt.Errorf("netutil: invalid arguments to ListenInet4")
	}

	sockType := unix.SOCK_STREAM
	if opts&UDP != 0 {
		sockType = unix.SOCK_DGRAM
	}

	fd, err := unix.Socket(unix.AF_INET, sockType, 0)
	if err != nil {
		errstack.PushStdlibError("socket", errnoOf(err))
		return -1, fmt.Errorf("netutil: socket: %w", err)
	}
	if err := setNonblockCloexec(fd); err != nil {
		_ = unix.Close(fd)
		return -1, err
	}

	if opts&NoReuse == 0 {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			errstack.PushStdlibError("setsockopt(SO_REUSEADDR)", errnoOf(err))
			_ = unix.Close(fd)
			return -1, fmt.Errorf("netutil: setsockopt(SO_REUSEADDR): %w", err)
		}
	}

	if opts&Broadcast != 0 {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_BROADCAST, 1); err != nil {
			errstack.PushStdlibError("setsockopt(SO_BROADCAST)", errnoOf(err))
			_ = unix.Close(fd)
			return -1, fmt.Errorf("netutil: setsockopt(SO_BROADCAST): %w", err)
		}
	}

	addr := unix.SockaddrInet4{Port: int(port)}
	if opts&Local != 0 {
		addr.Addr = [4]byte{127, 0, 0, 1}
	}
	if err := unix.Bind(fd, &addr); err != nil {
		errstack.PushStdlibError("bind", errnoOf(err))
		_ = unix.Close(fd)
		return -1, fmt.Errorf("netutil: bind: %w", err)
	}

	if opts&UDP == 0 {
		if err := unix.Listen(fd, listenBacklog); err != nil {
			errstack.PushStdlibError("listen", errnoOf(err))
			_ = unix.Close(fd)
			return -1, fmt.Errorf("netutil: listen: %w", err)
		}
	}

	return fd, nil
}

// ListenUnix is [ListenInet4]'s counterpart for AF_UNIX stream/dgram
// sockets bound to a filesystem path.
func ListenUnix(path string, opts SocketOption) (int, error) {
	cookie, _ := errstack.PushContext(errstack.ContextListen, "ListenUnix")
	defer errstack.PopContext(errstack.ContextListen, cookie, true)

	if path == "" || opts&^UDP != 0 {
		errstack.PushConsistencyFailureID(errstack.ConsistencyInvalidArguments)
		return -1, fmt.Errorf("netutil: invalid arguments to ListenUnix")
	}

	sockType := unix.SOCK_STREAM
	if opts&UDP != 0 {
		sockType = unix.SOCK_DGRAM
	}

	fd, err := unix.Socket(unix.AF_UNIX, sockType, 0)
	if err != nil {
		errstack.PushStdlibError("socket", errnoOf(err))
		return -1, fmt.Errorf("netutil: socket: %w", err)
	}
	if err := setNonblockCloexec(fd); err != nil {
		_ = unix.Close(fd)
		return -1, err
	}

	if err := unix.Bind(fd, &unix.SockaddrUnix{Name: path}); err != nil {
		errstack.PushStdlibError("bind", errnoOf(err))
		_ = unix.Close(fd)
		return -1, fmt.Errorf("netutil: bind: %w", err)
	}

	if opts&UDP == 0 {
		if err := unix.Listen(fd, listenBacklog); err != nil {
			errstack.PushStdlibError("listen", errnoOf(err))
			_ = unix.Close(fd)
			return -1, fmt.Errorf("netutil: listen: %w", err)
		}
	}

	return fd, nil
}
