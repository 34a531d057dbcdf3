// Package pidfile implements the advisory-lock PID file convention used to
// prevent two instances of a long-running server from running at once: an
// fcntl write-lock taken on a file that, if the lock succeeds, gets
// truncated and rewritten with the current process's PID.
package pidfile

import (
	"fmt"
	"os"
	"strconv"

	"golang.org/x/sys/unix"

	"github.com/pjsaksa/femc-go/errstack"
)

// Option bits for [Acquire].
type Option uint32

const (
	// OnlyCheck takes and immediately releases the lock without writing a
	// PID, for a pre-flight "is another instance already running" check.
	OnlyCheck Option = 1 << iota
)

// Acquire opens (creating if necessary) the file at path, takes an
// exclusive, non-blocking fcntl write-lock on it, and — unless opts
// includes [OnlyCheck] — truncates it and writes the current process's PID
// followed by a newline.
//
// On success with [OnlyCheck] unset, the returned fd holds the lock for the
// lifetime of the process; the caller keeps it open (and never closes it)
// until exiting, at which point the OS releases the lock automatically.
// With [OnlyCheck] set, the fd is always closed before returning and -1 is
// returned on success.
//
// Contention (another live process already holds the lock) surfaces as an
// error wrapping [unix.EAGAIN] or [unix.EACCES], matching fcntl(F_SETLK)'s
// own behavior on a conflicting lock.
func Acquire(path string, opts Option) (int, error) {
	cookie, _ := errstack.PushContext(errstack.ContextPidfile, "Acquire")
	defer errstack.PopContext(errstack.ContextPidfile, cookie, true)

	const validBits = OnlyCheck
	if path == "" || opts&^validBits != 0 {
		errstack.PushConsistencyFailureID(errstack.ConsistencyInvalidArguments)
		return -1, fmt.Errorf("pidfile: invalid arguments to Acquire")
	}

	// O_RDWR|O_CREAT without O_TRUNC: opening must never disturb the
	// file's content before the lock is confirmed, since the write-lock
	// is what arbitrates between two racing instances.
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT|unix.O_CLOEXEC, 0600)
	if err != nil {
		errstack.PushStdlibError("open", int(errnoOf(err)))
		return -1, fmt.Errorf("pidfile: open: %w", err)
	}

	flock := unix.Flock_t{
		Type:   unix.F_WRLCK,
		Whence: int16(unix.SEEK_SET),
		Start:  0,
		Len:    0,
	}
	if err := unix.FcntlFlock(uintptr(fd), unix.F_SETLK, &flock); err != nil {
		errstack.PushStdlibError("fcntl", int(errnoOf(err)))
		_ = unix.Close(fd)
		return -1, fmt.Errorf("pidfile: already locked: %w", err)
	}

	if opts&OnlyCheck != 0 {
		if err := unix.Close(fd); err != nil {
			errstack.PushStdlibError("close", int(errnoOf(err)))
			return -1, fmt.Errorf("pidfile: close: %w", err)
		}
		return -1, nil
	}

	buf := []byte(strconv.Itoa(os.Getpid()) + "\n")

	if err := safeWriteAt(fd, buf); err != nil {
		_ = unix.Close(fd)
		return -1, err
	}

	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		errstack.PushStdlibError("fstat", int(errnoOf(err)))
		_ = unix.Close(fd)
		return -1, fmt.Errorf("pidfile: fstat: %w", err)
	}

	if st.Size != int64(len(buf)) {
		if err := unix.Ftruncate(fd, int64(len(buf))); err != nil {
			errstack.PushStdlibError("ftruncate", int(errnoOf(err)))
			_ = unix.Close(fd)
			return -1, fmt.Errorf("pidfile: ftruncate: %w", err)
		}
	}

	return fd, nil
}

// safeWriteAt writes buf to fd starting at offset 0, retrying short writes
// and EINTR; unlike netutil.SafeWrite it does not retry on EAGAIN (pidfile
// predates a fd being handed to any reactor/bufio machinery).
func safeWriteAt(fd int, buf []byte) error {
	if _, err := unix.Seek(fd, 0, unix.SEEK_SET); err != nil {
		errstack.PushStdlibError("lseek", int(errnoOf(err)))
		return fmt.Errorf("pidfile: lseek: %w", err)
	}

	start := 0
	for start < len(buf) {
		n, err := unix.Write(fd, buf[start:])
		switch {
		case n > 0:
			start += n
		case err == unix.EINTR:
			continue
		default:
			errstack.PushStdlibError("write", int(errnoOf(err)))
			return fmt.Errorf("pidfile: write: %w", err)
		}
	}
	return nil
}

func errnoOf(err error) unix.Errno {
	if errno, ok := err.(unix.Errno); ok {
		return errno
	}
	return 0
}
