package reactor

import "errors"

// errHandlerFailed is returned by pollerBackend.poll when its dispatch
// callback reports a fatal error; Loop.Main distinguishes it from a genuine
// syscall failure so it doesn't also push a redundant stdlib-error frame.
var errHandlerFailed = errors.New("reactor: handler reported fatal error")

// pollerBackend is the readiness-multiplexing strategy a [Loop] delegates
// to. Exactly one implementation is compiled in, selected by build tag:
// poller_linux.go (epoll), poller_darwin.go (kqueue), or poller_select.go
// (select(2), the portable fallback).
type pollerBackend interface {
	// empty reports whether the backend currently has no fds registered.
	empty() bool

	addInput(fd int) error
	addOutput(fd int) error
	removeInput(fd int) error
	removeOutput(fd int) error

	// poll blocks for up to timeoutMsec milliseconds (Infinite means
	// forever) waiting for readiness, then calls dispatch once per ready
	// fd with which directions are ready. If dispatch returns false, poll
	// stops dispatching further fds and returns errHandlerFailed.
	poll(timeoutMsec uint64, dispatch func(fd int, readable, writable bool) bool) error

	close() error
}
