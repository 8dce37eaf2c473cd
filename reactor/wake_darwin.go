//go:build darwin

package reactor

import "golang.org/x/sys/unix"

// waker mirrors wake_linux.go's eventfd approach using a self-pipe, since
// Darwin's kqueue has no eventfd equivalent.
type waker struct {
	readFd  int
	writeFd int
}

func newWaker() (*waker, error) {
	// Darwin has no pipe2; flags are applied after creation.
	fds := make([]int, 2)
	if err := unix.Pipe(fds); err != nil {
		return nil, err
	}
	for _, fd := range fds {
		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			_ = unix.Close(fds[0])
			_ = unix.Close(fds[1])
			return nil, err
		}
	}
	return &waker{readFd: fds[0], writeFd: fds[1]}, nil
}

func (w *waker) Fd() int { return w.readFd }

func (w *waker) Wake() error {
	_, err := unix.Write(w.writeFd, []byte{1})
	if err != nil && err != unix.EAGAIN {
		return err
	}
	return nil
}

func (w *waker) Drain() {
	var buf [512]byte
	for {
		_, err := unix.Read(w.readFd, buf[:])
		if err != nil {
			return
		}
	}
}

func (w *waker) Close() error {
	_ = unix.Close(w.writeFd)
	return unix.Close(w.readFd)
}
