//go:build !linux && !darwin

package reactor

type waker struct{}

func newWaker() (*waker, error) {
	return nil, ErrUnsupportedPlatform
}

func (w *waker) Fd() int      { return -1 }
func (w *waker) Wake() error  { return ErrUnsupportedPlatform }
func (w *waker) Drain()       {}
func (w *waker) Close() error { return nil }
