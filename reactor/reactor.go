// Package reactor implements a single-threaded event loop: it multiplexes readiness on a set of file descriptors and a
// set of timers, dispatching to registered handlers in ascending fd order
// and routing every handler's return value through a replaceable error
// resolver policy.
//
// A [Loop] is not safe for concurrent use. It is designed to be driven from
// one goroutine, the same goroutine that registers and removes fds and
// timers — exactly the model of the single-threaded reactor it was ported
// from.
package reactor

import (
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/pjsaksa/femc-go/errstack"
	"github.com/pjsaksa/femc-go/internal/diag"
)

// Handler is invoked when a registered fd becomes ready, or when a timer
// fires. It returns false to report failure to the [Loop]'s error resolver.
type Handler func() bool

// TimerFunc is invoked when a timer expires. id is the value supplied to
// [Loop.AddTimer]/[Loop.AddTimerHandle]. A recurring timer's handler may
// request graceful, silent cancellation by returning false after pushing
// only [errstack.ConsistencyKillRecurringTimer] (via
// [errstack.PushConsistencyFailureID]) onto the error stack; any other
// failure is routed through the loop's [ErrorResolver] as usual.
type TimerFunc func(id ContextID) bool

// ContextID tags a timer node for application bookkeeping; it has no
// meaning to the loop itself.
type ContextID uint32

// TimerHandle groups timer nodes for mass cancellation via [Loop.CancelTimer].
// The zero value never matches anything: [Loop.CancelTimer] with handle 0 is
// a no-op, mirroring a timer added without a handle.
type TimerHandle uint32

// Infinite is the sentinel poll/run timeout meaning "forever".
const Infinite = ^uint64(0)

// LogfileOption configures [Loop.OpenLogFile].
type LogfileOption uint32

// LogfileNoRotate disables the SIGHUP-driven reopen of the active log file.
const LogfileNoRotate LogfileOption = 1

// State is the loop's current phase, mirroring the idle/polling/dispatching
// cycle of the original dispatcher.
type State uint8

const (
	StateIdle State = iota
	StatePolling
	StateDispatching
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	case StateDispatching:
		return "dispatching"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// ErrorResolver is consulted after every handler return (timer or I/O). It
// receives the handler's boolean and decides whether the loop should keep
// running (true) or abort (false). On success the loop resets the process
// error stack back to the loop's own context, discarding whatever the
// handler pushed.
type ErrorResolver func(notifyOK bool) bool

// Loop is a single-threaded reactor: fds, timers, a pluggable poller
// backend, a reopenable log file, and an error-resolution policy.
type Loop struct {
	fds           []fdEntry
	poller        pollerBackend
	timers        *timerNode
	timerFreelist *timerNode

	state     State
	running   bool
	mainCookie errstack.Cookie

	resolver ErrorResolver
	debug    bool

	logfile         *os.File
	logfilePath     string
	logfileNoRotate bool
	logfileChanged  atomic.Bool

	logger *diag.Logger
}

type fdEntry struct {
	input  Handler
	output Handler
}

// New creates a [Loop] with the platform's preferred poller backend,
// applying opts in order.
func New(opts ...Option) (*Loop, error) {
	l := &Loop{}
	l.resolver = l.defaultErrorResolver

	for _, opt := range opts {
		if opt != nil {
			opt.apply(l)
		}
	}

	backend, err := newPollerBackend()
	if err != nil {
		return nil, err
	}
	l.poller = backend

	return l, nil
}

func (l *Loop) defaultErrorResolver(notifyOK bool) bool {
	if l.debug {
		errstack.PrintStack(os.Stderr)
		return false
	}
	return true
}

// SetErrorResolver replaces the policy consulted after every handler
// return. Passing nil restores the built-in debug/release default.
func (l *Loop) SetErrorResolver(fn ErrorResolver) {
	if fn == nil {
		fn = l.defaultErrorResolver
	}
	l.resolver = fn
}

func (l *Loop) resolveNotifyReturn(notifyOK bool) bool {
	if notifyOK && errstack.Errors() == 0 && errstack.ResetContext(errstack.ContextReactor, l.mainCookie, true) {
		return true
	}
	return l.resolver(notifyOK) && errstack.ResetContext(errstack.ContextReactor, l.mainCookie, true)
}

// ------------------------------------------------------------
// fd registration

func (l *Loop) ensureFdTable(fd int) error {
	if fd < len(l.fds) {
		return nil
	}

	newSize := len(l.fds)
	if newSize == 0 {
		newSize = 64
	}
	for newSize <= fd {
		newSize *= 2
	}

	grown := make([]fdEntry, newSize)
	copy(grown, l.fds)
	l.fds = grown
	return nil
}

// AddInput registers handler to be invoked whenever fd becomes readable. It
// fails with [errstack.ConsistencyIOHandlerCorrupted] if fd already has an
// input handler registered.
func (l *Loop) AddInput(fd int, handler func() bool) error {
	cookie, _ := errstack.PushContext(errstack.ContextReactor, "add_input")
	defer errstack.PopContext(errstack.ContextReactor, cookie, true)

	if fd < 0 || handler == nil {
		errstack.PushConsistencyFailureID(errstack.ConsistencyInvalidArguments)
		return errors.New("reactor: invalid fd or handler")
	}
	if err := l.ensureFdTable(fd); err != nil {
		errstack.PushResourceFailureID(errstack.ResourceMemoryAllocation)
		return err
	}
	if l.fds[fd].input != nil {
		errstack.PushConsistencyFailureID(errstack.ConsistencyIOHandlerCorrupted)
		return errors.New("reactor: input handler already registered")
	}

	if err := l.poller.addInput(fd); err != nil {
		errstack.PushStdlibError("add_input", 0)
		return err
	}
	l.fds[fd].input = handler
	return nil
}

// AddOutput registers handler to be invoked whenever fd becomes writable.
func (l *Loop) AddOutput(fd int, handler func() bool) error {
	cookie, _ := errstack.PushContext(errstack.ContextReactor, "add_output")
	defer errstack.PopContext(errstack.ContextReactor, cookie, true)

	if fd < 0 || handler == nil {
		errstack.PushConsistencyFailureID(errstack.ConsistencyInvalidArguments)
		return errors.New("reactor: invalid fd or handler")
	}
	if err := l.ensureFdTable(fd); err != nil {
		errstack.PushResourceFailureID(errstack.ResourceMemoryAllocation)
		return err
	}
	if l.fds[fd].output != nil {
		errstack.PushConsistencyFailureID(errstack.ConsistencyIOHandlerCorrupted)
		return errors.New("reactor: output handler already registered")
	}

	if err := l.poller.addOutput(fd); err != nil {
		errstack.PushStdlibError("add_output", 0)
		return err
	}
	l.fds[fd].output = handler
	return nil
}

// RemoveInput unregisters fd's input handler. It is idempotent for an fd
// that has none, but fails if fd was never sized into the table.
func (l *Loop) RemoveInput(fd int) error {
	cookie, _ := errstack.PushContext(errstack.ContextReactor, "remove_input")
	defer errstack.PopContext(errstack.ContextReactor, cookie, true)

	if fd < 0 || fd >= len(l.fds) {
		errstack.PushConsistencyFailureID(errstack.ConsistencyIOHandlerCorrupted)
		return errors.New("reactor: fd out of range")
	}

	l.fds[fd].input = nil
	return l.poller.removeInput(fd)
}

// RemoveOutput unregisters fd's output handler.
func (l *Loop) RemoveOutput(fd int) error {
	cookie, _ := errstack.PushContext(errstack.ContextReactor, "remove_output")
	defer errstack.PopContext(errstack.ContextReactor, cookie, true)

	if fd < 0 || fd >= len(l.fds) {
		errstack.PushConsistencyFailureID(errstack.ConsistencyIOHandlerCorrupted)
		return errors.New("reactor: fd out of range")
	}

	l.fds[fd].output = nil
	return l.poller.removeOutput(fd)
}

// ------------------------------------------------------------
// timers

// AddTimer schedules notify to fire after delay, recurring every
// recurring thereafter (0 means one-shot).
func (l *Loop) AddTimer(notify TimerFunc, id ContextID, delay, recurring time.Duration) error {
	return l.AddTimerHandle(notify, id, delay, recurring, 0)
}

// AddTimerHandle is [Loop.AddTimer] tagging the node with handle, for later
// mass cancellation via [Loop.CancelTimer].
func (l *Loop) AddTimerHandle(notify TimerFunc, id ContextID, delay, recurring time.Duration, handle TimerHandle) error {
	cookie, _ := errstack.PushContext(errstack.ContextReactor, "add_timer")
	defer errstack.PopContext(errstack.ContextReactor, cookie, true)

	if notify == nil {
		errstack.PushConsistencyFailureID(errstack.ConsistencyInvalidArguments)
		return errors.New("reactor: nil timer handler")
	}

	node := l.allocTimerNode()
	if node == nil {
		errstack.PushResourceFailureID(errstack.ResourceMemoryAllocation)
		return errors.New("reactor: timer allocation failed")
	}

	node.expires = time.Now().Add(delay)
	node.recurring = recurring
	node.notify = notify
	node.id = id
	node.handle = handle

	l.insertTimerNode(node)
	return nil
}

// CancelTimer removes every pending timer tagged with handle. handle 0 is a
// no-op, matching a timer that was never given one.
func (l *Loop) CancelTimer(handle TimerHandle) {
	if handle == 0 {
		return
	}

	var head *timerNode
	var tail *timerNode

	for n := l.timers; n != nil; {
		next := n.next
		if n.handle == handle {
			l.freeTimerNode(n)
		} else {
			n.next = nil
			if head == nil {
				head = n
				tail = n
			} else {
				tail.next = n
				tail = n
			}
		}
		n = next
	}

	l.timers = head
}

// ------------------------------------------------------------
// log file

// OpenLogFile opens or reopens the active log at path. LogfileNoRotate
// disables the SIGHUP-driven reopen.
func (l *Loop) OpenLogFile(path string, opts LogfileOption) error {
	cookie, _ := errstack.PushContext(errstack.ContextReactor, "open_logfile")
	defer errstack.PopContext(errstack.ContextReactor, cookie, true)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		errstack.PushStdlibError("open_logfile", 0)
		return err
	}

	if l.logfile != nil {
		l.logfile.Close()
	}
	l.logfile = f
	l.logfilePath = path
	l.logfileNoRotate = opts&LogfileNoRotate != 0
	l.logfileChanged.Store(false)

	if !l.logfileNoRotate {
		registerRotateHook(l)
	}

	return nil
}

// ActiveLogFile returns the currently open log file, or os.Stderr if none
// has been opened — mirroring FDD_ACTIVE_LOGFILE.
func (l *Loop) ActiveLogFile() *os.File {
	if l.logfile != nil {
		return l.logfile
	}
	return os.Stderr
}

func (l *Loop) reopenLogFile() error {
	f, err := os.OpenFile(l.logfilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if l.logfile != nil {
		l.logfile.Close()
	}
	l.logfile = f
	l.logfileChanged.Store(false)
	return nil
}

// ------------------------------------------------------------
// main loop

// Shutdown requests an orderly stop. It is meant to be called from within a
// handler running inside [Loop.Main].
func (l *Loop) Shutdown() {
	l.running = false
}

// State returns the loop's current phase.
func (l *Loop) State() State { return l.state }

// Main runs the loop until shutdown is requested, the combined registration
// set (fds and timers) becomes empty, or maxMsec elapses ([Infinite] means
// run forever). It returns an error only on an unrecoverable failure; a
// clean exit (shutdown, emptiness, or timeout) returns nil.
func (l *Loop) Main(maxMsec uint64) error {
	if errstack.Errors() != 0 {
		return errors.New("reactor: error stack not clean on entry")
	}

	cookie, ok := errstack.PushContext(errstack.ContextReactor, "main")
	if !ok {
		return errors.New("reactor: error stack full")
	}
	l.mainCookie = cookie

	var maxExpires time.Time
	if maxMsec > 0 && maxMsec < Infinite {
		maxExpires = time.Now().Add(time.Duration(maxMsec) * time.Millisecond)
	}

	l.running = true
	timersHandled := 0

	for l.running && (l.timers != nil || !l.poller.empty()) {
		l.state = StateIdle

		var timeout uint64 = Infinite

		if l.timers != nil {
			remain := time.Until(l.timers.expires)
			if remain <= 0 {
				if err := l.fireTimer(); err != nil {
					errstack.PopContext(errstack.ContextReactor, cookie, true)
					return err
				}
				timersHandled++
				continue
			}
			timeout = uint64(remain / time.Millisecond)
		}

		if maxMsec < Infinite {
			if timersHandled > 0 && maxMsec > 0 {
				maxMsec = msecUntil(maxExpires)
			}
			if timeout > maxMsec {
				timeout = maxMsec
			}
		}

		l.state = StatePolling
		if err := l.poller.poll(timeout, l.dispatchReady); err != nil {
			if !errors.Is(err, errHandlerFailed) {
				errstack.PushStdlibError("poll", 0)
			}
			errstack.PopContext(errstack.ContextReactor, cookie, true)
			return err
		}

		if maxMsec > 0 && maxMsec < Infinite {
			maxMsec = msecUntil(maxExpires)
		}
		if maxMsec == 0 && maxMsec < Infinite {
			break
		}

		if l.logfileChanged.Load() {
			if err := l.reopenLogFile(); err != nil {
				errstack.PopContext(errstack.ContextReactor, cookie, true)
				return fmt.Errorf("reactor: reopening log failed: %w", err)
			}
		}

		timersHandled = 0
	}

	l.state = StateTerminated
	errstack.PopContext(errstack.ContextReactor, cookie, true)
	return nil
}

func msecUntil(t time.Time) uint64 {
	remain := time.Until(t)
	if remain <= 0 {
		return 0
	}
	return uint64(remain / time.Millisecond)
}

func (l *Loop) fireTimer() error {
	l.state = StateDispatching

	tmr := l.timers
	l.timers = l.timers.next
	tmr.next = nil

	notifyOK := tmr.notify(tmr.id)

	keep := false
	if tmr.recurring > 0 {
		if !notifyOK && isKillRecurringTimer() {
			if errstack.ResetContext(errstack.ContextReactor, l.mainCookie, true) {
				notifyOK = true
			}
		} else {
			tmr.expires = tmr.expires.Add(tmr.recurring)

			// Coalesce missed ticks: if more than one occurrence is
			// already due, skip forward to the most recent one.
			for {
				next := tmr.expires.Add(tmr.recurring)
				if time.Until(next) > 0 {
					break
				}
				tmr.expires = next
			}

			l.insertTimerNode(tmr)
			keep = true
		}
	}

	if !keep {
		l.freeTimerNode(tmr)
	}

	if !l.resolveNotifyReturn(notifyOK) {
		return errors.New("reactor: unresolved timer error")
	}
	return nil
}

func isKillRecurringTimer() bool {
	n, ok := errstack.GetLast(errstack.MaskConsistencyFailure)
	if !ok || n.ID != uint32(errstack.ConsistencyKillRecurringTimer) {
		return false
	}
	return errstack.Errors() == 1
}

func (l *Loop) dispatchReady(fd int, readable, writable bool) bool {
	l.state = StateDispatching

	if readable && fd < len(l.fds) && l.fds[fd].input != nil {
		if !l.resolveNotifyReturn(l.fds[fd].input()) {
			return false
		}
	}
	if writable && fd < len(l.fds) && l.fds[fd].output != nil {
		if !l.resolveNotifyReturn(l.fds[fd].output()) {
			return false
		}
	}
	return true
}
