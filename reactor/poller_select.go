//go:build !linux && !darwin && !windows

package reactor

import (
	"golang.org/x/sys/unix"
)

// selectBackend is the portable pollerBackend used on any GOOS without a
// dedicated readiness-notification facility, grounded on the original
// dispatcher_select.c: a dense, growable fd bitset plus select(2). Its fd
// table starts empty, is sized to 64 on first registration, and doubles
// thereafter until it admits the requested fd — the same growth rule as
// the rest of the reactor's fd bookkeeping. select(2) itself still caps the
// usable fd range at FD_SETSIZE on most platforms; callers needing a wider
// range should build for linux or darwin instead.
type selectBackend struct {
	readers []bool
	writers []bool
	nfdsR   int
	nfdsW   int
}

func newPollerBackend() (pollerBackend, error) {
	return &selectBackend{}, nil
}

func (p *selectBackend) empty() bool { return p.nfdsR == 0 && p.nfdsW == 0 }

func (p *selectBackend) ensure(fd int) {
	size := len(p.readers)
	if fd < size {
		return
	}
	newSize := size
	if newSize == 0 {
		newSize = 64
	}
	for newSize <= fd {
		newSize *= 2
	}

	grownR := make([]bool, newSize)
	grownW := make([]bool, newSize)
	copy(grownR, p.readers)
	copy(grownW, p.writers)
	p.readers = grownR
	p.writers = grownW
}

func (p *selectBackend) addInput(fd int) error {
	p.ensure(fd)
	p.readers[fd] = true
	if p.nfdsR < fd+1 {
		p.nfdsR = fd + 1
	}
	return nil
}

func (p *selectBackend) addOutput(fd int) error {
	p.ensure(fd)
	p.writers[fd] = true
	if p.nfdsW < fd+1 {
		p.nfdsW = fd + 1
	}
	return nil
}

func (p *selectBackend) removeInput(fd int) error {
	if fd >= len(p.readers) {
		return nil
	}
	p.readers[fd] = false
	for p.nfdsR > 0 && !p.readers[p.nfdsR-1] {
		p.nfdsR--
	}
	return nil
}

func (p *selectBackend) removeOutput(fd int) error {
	if fd >= len(p.writers) {
		return nil
	}
	p.writers[fd] = false
	for p.nfdsW > 0 && !p.writers[p.nfdsW-1] {
		p.nfdsW--
	}
	return nil
}

func fdSet(set *unix.FdSet, fd int) {
	set.Bits[fd/64] |= 1 << uint(fd%64)
}

func fdIsSet(set *unix.FdSet, fd int) bool {
	return set.Bits[fd/64]&(1<<uint(fd%64)) != 0
}

func (p *selectBackend) poll(timeoutMsec uint64, dispatch func(fd int, readable, writable bool) bool) error {
	nfds := p.nfdsR
	if p.nfdsW > nfds {
		nfds = p.nfdsW
	}

	var r, w unix.FdSet
	for fd := 0; fd < p.nfdsR; fd++ {
		if p.readers[fd] {
			fdSet(&r, fd)
		}
	}
	for fd := 0; fd < p.nfdsW; fd++ {
		if p.writers[fd] {
			fdSet(&w, fd)
		}
	}

	var tv *unix.Timeval
	if timeoutMsec < Infinite {
		t := unix.NsecToTimeval(int64(timeoutMsec) * int64(1e6))
		tv = &t
	}

	n, err := unix.Select(nfds, &r, &w, nil, tv)
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		return err
	}
	if n == 0 {
		return nil
	}

	var readyRead, readyWrite []int
	for fd := 0; fd < p.nfdsR; fd++ {
		if p.readers[fd] && fdIsSet(&r, fd) {
			readyRead = append(readyRead, fd)
		}
	}
	for fd := 0; fd < p.nfdsW; fd++ {
		if p.writers[fd] && fdIsSet(&w, fd) {
			readyWrite = append(readyWrite, fd)
		}
	}

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

func (p *selectBackend) close() error {
	return nil
}
