//go:build darwin

package reactor

import (
	"sync"

	"golang.org/x/sys/unix"
)

// kqueuePoller is the Darwin counterpart of epollPoller. kqueue reports
// readable and writable interest through separate filters, so Register and
// Reregister submit up to two change entries per call.
type kqueuePoller struct {
	kq int

	mu     sync.Mutex
	tokens map[int]uint64

	eventBuf [1024]unix.Kevent_t
}

func newPoller() (poller, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	unix.CloseOnExec(kq)
	return &kqueuePoller{
		kq:     kq,
		tokens: make(map[int]uint64),
	}, nil
}

func (p *kqueuePoller) changes(fd int, interest Readiness, flags uint16) []unix.Kevent_t {
	changes := make([]unix.Kevent_t, 0, 2)
	readFlags := flags
	if !interest.has(Readable) {
		readFlags = unix.EV_DELETE | unix.EV_DISABLE
	}
	changes = append(changes, unix.Kevent_t{
		Ident:  uint64(fd),
		Filter: unix.EVFILT_READ,
		Flags:  readFlags,
	})
	writeFlags := flags
	if !interest.has(Writable) {
		writeFlags = unix.EV_DELETE | unix.EV_DISABLE
	}
	changes = append(changes, unix.Kevent_t{
		Ident:  uint64(fd),
		Filter: unix.EVFILT_WRITE,
		Flags:  writeFlags,
	})
	return changes
}

func (p *kqueuePoller) apply(fd int, token uint64, interest Readiness, flags uint16) error {
	p.mu.Lock()
	p.tokens[fd] = token
	p.mu.Unlock()
	changes := p.changes(fd, interest, flags)
	// EV_DELETE on a filter that was never added returns ENOENT; harmless on
	// first registration when only one of read/write is requested.
	_, err := unix.Kevent(p.kq, changes, nil, nil)
	if err != nil && err != unix.ENOENT {
		return err
	}
	return nil
}

func (p *kqueuePoller) Register(fd int, token uint64, interest Readiness) error {
	return p.apply(fd, token, interest, unix.EV_ADD|unix.EV_ENABLE)
}

func (p *kqueuePoller) Reregister(fd int, token uint64, interest Readiness) error {
	return p.apply(fd, token, interest, unix.EV_ADD|unix.EV_ENABLE)
}

func (p *kqueuePoller) Deregister(fd int) error {
	p.mu.Lock()
	delete(p.tokens, fd)
	p.mu.Unlock()
	changes := []unix.Kevent_t{
		{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_DELETE},
		{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_DELETE},
	}
	_, err := unix.Kevent(p.kq, changes, nil, nil)
	if err != nil && err != unix.ENOENT {
		return err
	}
	return nil
}

func (p *kqueuePoller) Wait(timeoutMs int, dst []Event) ([]Event, error) {
	var ts *unix.Timespec
	if timeoutMs >= 0 {
		t := unix.NsecToTimespec(int64(timeoutMs) * int64(1_000_000))
		ts = &t
	}
	n, err := unix.Kevent(p.kq, nil, p.eventBuf[:], ts)
	if err != nil {
		if err == unix.EINTR {
			return dst, nil
		}
		return dst, err
	}
	p.mu.Lock()
	for i := 0; i < n; i++ {
		kev := p.eventBuf[i]
		fd := int(kev.Ident)
		token, ok := p.tokens[fd]
		if !ok {
			continue
		}
		var r Readiness
		switch kev.Filter {
		case unix.EVFILT_READ:
			r |= Readable
		case unix.EVFILT_WRITE:
			r |= Writable
		}
		if kev.Flags&unix.EV_EOF != 0 {
			r |= HangUp
		}
		if kev.Flags&unix.EV_ERROR != 0 {
			r |= Errored
		}
		dst = append(dst, Event{Token: token, Readiness: r})
	}
	p.mu.Unlock()
	return dst, nil
}

func (p *kqueuePoller) Close() error {
	return unix.Close(p.kq)
}
