//go:build linux

package reactor

import (
	"encoding/binary"

	"golang.org/x/sys/unix"
)

// waker is the cross-thread wake-up side channel bound to token 0: a
// goroutine posting work via RunInThread toggles it readable so the
// owning reactor's poll call returns promptly instead of blocking until the
// next timer.
type waker struct {
	fd int
}

func newWaker() (*waker, error) {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &waker{fd: fd}, nil
}

func (w *waker) Fd() int { return w.fd }

// Wake makes the eventfd readable. Safe to call from any goroutine.
func (w *waker) Wake() error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 1)
	_, err := unix.Write(w.fd, buf[:])
	if err != nil && err != unix.EAGAIN {
		return err
	}
	return nil
}

// Drain clears the pending readiness. Must be called from the reactor's own
// goroutine after observing token 0 readable.
func (w *waker) Drain() {
	var buf [8]byte
	for {
		_, err := unix.Read(w.fd, buf[:])
		if err != nil {
			return
		}
	}
}

func (w *waker) Close() error {
	return unix.Close(w.fd)
}
