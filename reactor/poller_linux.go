//go:build linux

package reactor

import (
	"sync"

	"golang.org/x/sys/unix"
)

// epollPoller is a thin, token-keyed wrapper around epoll. Unlike a
// callback-dispatching poller, Wait only translates raw epoll_event entries
// into [Event] values; the Reactor owns dispatch so that timer and token-0
// handling stay in one place.
type epollPoller struct {
	epfd int

	mu     sync.Mutex
	tokens map[int]uint64 // fd -> token, for event translation

	eventBuf [1024]unix.EpollEvent
}

func newPoller() (poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &epollPoller{
		epfd:   epfd,
		tokens: make(map[int]uint64),
	}, nil
}

func readinessToEpoll(r Readiness) uint32 {
	var e uint32
	if r.has(Readable) {
		e |= unix.EPOLLIN
	}
	if r.has(Writable) {
		e |= unix.EPOLLOUT
	}
	return e
}

func epollToReadiness(e uint32) Readiness {
	var r Readiness
	if e&unix.EPOLLIN != 0 {
		r |= Readable
	}
	if e&unix.EPOLLOUT != 0 {
		r |= Writable
	}
	if e&unix.EPOLLERR != 0 {
		r |= Errored
	}
	if e&unix.EPOLLHUP != 0 || e&unix.EPOLLRDHUP != 0 {
		r |= HangUp
	}
	return r
}

func (p *epollPoller) Register(fd int, token uint64, interest Readiness) error {
	p.mu.Lock()
	p.tokens[fd] = token
	p.mu.Unlock()
	ev := &unix.EpollEvent{Events: readinessToEpoll(interest), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, ev); err != nil {
		p.mu.Lock()
		delete(p.tokens, fd)
		p.mu.Unlock()
		return err
	}
	return nil
}

func (p *epollPoller) Reregister(fd int, token uint64, interest Readiness) error {
	p.mu.Lock()
	p.tokens[fd] = token
	p.mu.Unlock()
	ev := &unix.EpollEvent{Events: readinessToEpoll(interest), Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, ev)
}

func (p *epollPoller) Deregister(fd int) error {
	p.mu.Lock()
	delete(p.tokens, fd)
	p.mu.Unlock()
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (p *epollPoller) Wait(timeoutMs int, dst []Event) ([]Event, error) {
	n, err := unix.EpollWait(p.epfd, p.eventBuf[:], timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return dst, nil
		}
		return dst, err
	}
	p.mu.Lock()
	for i := 0; i < n; i++ {
		fd := int(p.eventBuf[i].Fd)
		token, ok := p.tokens[fd]
		if !ok {
			continue
		}
		dst = append(dst, Event{Token: token, Readiness: epollToReadiness(p.eventBuf[i].Events)})
	}
	p.mu.Unlock()
	return dst, nil
}

func (p *epollPoller) Close() error {
	return unix.Close(p.epfd)
}
