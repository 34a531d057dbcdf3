package netutil

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/pjsaksa/femc-go/errstack"
)

// AcceptFunc is called with a freshly accepted connection fd, or with -1 if
// the accepted fd could not be made non-blocking. Its return value is
// handed back to the watcher as the readiness handler's result; it does
// not unregister the accept loop. The loop is unregistered only when
// accept() fails with a non-retryable error, and the listening fd is never
// closed here.
type AcceptFunc func(fd int) bool

// AutoAccept is a running accept loop bound to a listening fd: every time
// the listener becomes readable, accept() is retried until it yields a
// connection or a non-retryable error, and the result is handed to
// callback.
type AutoAccept struct {
	w        Watcher
	serverFD int
	callback AcceptFunc
}

// NewAutoAccept registers with w to accept connections arriving on
// serverFD, handing each one to callback. The caller remains responsible
// for serverFD; [AutoAccept.Close] unregisters interest but does not close
// it.
func NewAutoAccept(w Watcher, serverFD int, callback AcceptFunc) (*AutoAccept, error) {
	cookie, _ := errstack.PushContext(errstack.ContextBufioAutoAccept, "NewAutoAccept")
	defer errstack.PopContext(errstack.ContextBufioAutoAccept, cookie, true)

	if w == nil || serverFD < 0 || callback == nil {
		errstack.PushConsistencyFailureID(errstack.ConsistencyInvalidArguments)
		return nil, fmt.Errorf("netutil: invalid arguments to NewAutoAccept")
	}

	aac := &AutoAccept{w: w, serverFD: serverFD, callback: callback}

	if err := w.AddInput(serverFD, aac.onReadable); err != nil {
		return nil, fmt.Errorf("netutil: AddInput: %w", err)
	}

	return aac, nil
}

func (a *AutoAccept) onReadable() bool {
	for {
		fd, _, err := unix.Accept(a.serverFD)
		if err == nil {
			if ferr := unix.SetNonblock(fd, true); ferr != nil {
				errstack.PushStdlibError("fcntl(O_NONBLOCK)", errnoOf(ferr))
				_ = unix.Close(fd)
				return a.callback(-1)
			}
			return a.callback(fd)
		}
		if err == unix.EINTR || err == unix.EAGAIN {
			continue
		}

		errstack.PushStdlibError("accept", errnoOf(err))
		_ = a.w.RemoveInput(a.serverFD)
		return false
	}
}

// Close unregisters the accept loop from its watcher. It does not close the
// listening fd.
func (a *AutoAccept) Close() error {
	cookie, _ := errstack.PushContext(errstack.ContextBufioAutoAccept, "Close")
	defer errstack.PopContext(errstack.ContextBufioAutoAccept, cookie, true)

	return a.w.RemoveInput(a.serverFD)
}
