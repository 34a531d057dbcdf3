//go:build linux

package reactor

import (
	"sort"

	"golang.org/x/sys/unix"
)

// epollBackend is the Linux pollerBackend, grounded on the epoll shape of
// the original epoll-based reactor: one epoll instance, one EpollCtl call
// per interest change, level-triggered readiness resolved against whichever
// directions the caller actually registered.
type epollBackend struct {
	epfd     int
	interest map[int]uint32
	eventBuf [256]unix.EpollEvent
}

func newPollerBackend() (pollerBackend, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &epollBackend{epfd: epfd, interest: make(map[int]uint32)}, nil
}

func (p *epollBackend) empty() bool { return len(p.interest) == 0 }

func (p *epollBackend) ctl(fd int, events uint32) error {
	existing, had := p.interest[fd]
	op := unix.EPOLL_CTL_MOD
	if !had {
		op = unix.EPOLL_CTL_ADD
	}
	if events == 0 {
		delete(p.interest, fd)
		return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	}
	if existing == events && had {
		return nil
	}
	p.interest[fd] = events
	return unix.EpollCtl(p.epfd, op, fd, &unix.EpollEvent{Events: events, Fd: int32(fd)})
}

func (p *epollBackend) addInput(fd int) error {
	return p.ctl(fd, p.interest[fd]|unix.EPOLLIN)
}

func (p *epollBackend) addOutput(fd int) error {
	return p.ctl(fd, p.interest[fd]|unix.EPOLLOUT)
}

func (p *epollBackend) removeInput(fd int) error {
	events, ok := p.interest[fd]
	if !ok || events&unix.EPOLLIN == 0 {
		return nil
	}
	return p.ctl(fd, events&^uint32(unix.EPOLLIN))
}

func (p *epollBackend) removeOutput(fd int) error {
	events, ok := p.interest[fd]
	if !ok || events&unix.EPOLLOUT == 0 {
		return nil
	}
	return p.ctl(fd, events&^uint32(unix.EPOLLOUT))
}

func (p *epollBackend) poll(timeoutMsec uint64, dispatch func(fd int, readable, writable bool) bool) error {
	timeout := -1
	if timeoutMsec < Infinite {
		if timeoutMsec > 1<<31-1 {
			timeout = 1<<31 - 1
		} else {
			timeout = int(timeoutMsec)
		}
	}

	n, err := unix.EpollWait(p.epfd, p.eventBuf[:], timeout)
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		return err
	}

	var readyRead, readyWrite []int
	for i := 0; i < n; i++ {
		ev := p.eventBuf[i]
		fd := int(ev.Fd)
		if ev.Events&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
			readyRead = append(readyRead, fd)
		}
		if ev.Events&unix.EPOLLOUT != 0 {
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

func (p *epollBackend) close() error {
	return unix.Close(p.epfd)
}
