//go:build darwin

package reactor

import (
	"sort"

	"golang.org/x/sys/unix"
)

// kqueueBackend is the Darwin pollerBackend, grounded on the same
// registration/poll shape as poller_linux.go's epollBackend but expressed
// against kqueue: one EV_ADD/EV_DELETE changelist entry per filter per
// interest change, one kevent call per poll.
type kqueueBackend struct {
	kq       int
	readers  map[int]bool
	writers  map[int]bool
	eventBuf [256]unix.Kevent_t
}

func newPollerBackend() (pollerBackend, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	return &kqueueBackend{kq: kq, readers: make(map[int]bool), writers: make(map[int]bool)}, nil
}

func (p *kqueueBackend) empty() bool { return len(p.readers) == 0 && len(p.writers) == 0 }

func (p *kqueueBackend) change(fd int, filter int16, flags uint16) error {
	ev := unix.Kevent_t{Ident: uint64(fd), Filter: filter, Flags: flags}
	_, err := unix.Kevent(p.kq, []unix.Kevent_t{ev}, nil, nil)
	return err
}

func (p *kqueueBackend) addInput(fd int) error {
	if p.readers[fd] {
		return nil
	}
	if err := p.change(fd, unix.EVFILT_READ, unix.EV_ADD|unix.EV_ENABLE); err != nil {
		return err
	}
	p.readers[fd] = true
	return nil
}

func (p *kqueueBackend) addOutput(fd int) error {
	if p.writers[fd] {
		return nil
	}
	if err := p.change(fd, unix.EVFILT_WRITE, unix.EV_ADD|unix.EV_ENABLE); err != nil {
		return err
	}
	p.writers[fd] = true
	return nil
}

func (p *kqueueBackend) removeInput(fd int) error {
	if !p.readers[fd] {
		return nil
	}
	delete(p.readers, fd)
	return p.change(fd, unix.EVFILT_READ, unix.EV_DELETE)
}

func (p *kqueueBackend) removeOutput(fd int) error {
	if !p.writers[fd] {
		return nil
	}
	delete(p.writers, fd)
	return p.change(fd, unix.EVFILT_WRITE, unix.EV_DELETE)
}

func (p *kqueueBackend) poll(timeoutMsec uint64, dispatch func(fd int, readable, writable bool) bool) error {
	var ts *unix.Timespec
	if timeoutMsec < Infinite {
		t := unix.NsecToTimespec(int64(timeoutMsec) * int64(1e6))
		ts = &t
	}

	n, err := unix.Kevent(p.kq, nil, p.eventBuf[:], ts)
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		return err
	}

	var readyRead, readyWrite []int
	for i := 0; i < n; i++ {
		ev := p.eventBuf[i]
		fd := int(ev.Ident)
		switch ev.Filter {
		case unix.EVFILT_READ:
			readyRead = append(readyRead, fd)
		case unix.EVFILT_WRITE:
			readyWrite = append(readyWrite, fd)
		}
	}
	sort.Ints(readyRead)
	sort.Ints(readyWrite)

	for _, fd := range readyRead {
		if !dispatch(fd, true, false) {
			return errHandlerFailed
		}
	}
	for _, fd := range readyWrite {
		if !dispatch(fd, false, true) {
			return errHandlerFailed
		}
	}

	return nil
}

func (p *kqueueBackend) close() error {
	return unix.Close(p.kq)
}
