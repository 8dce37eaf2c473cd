//go:build linux || darwin

package transport

import (
	"errors"
	"os"

	"github.com/joeycumines/go-transportation/reactor"
	"golang.org/x/sys/unix"
)

// FD is a minimal non-blocking raw-descriptor wrapper: it applies
// non-blocking flags and forwards reads and writes, nothing more. It
// satisfies [Underlying] directly over raw unix.Read/Write so WouldBlock
// surfaces as unix.EAGAIN rather than being hidden by a bufio/os.File
// layer.
type FD struct {
	fd   int
	file *os.File // kept only to pin the descriptor's lifetime; may be nil
}

// NewFD wraps an already non-blocking file descriptor.
func NewFD(fd int) *FD {
	return &FD{fd: fd}
}

// Fd returns the raw descriptor.
func (f *FD) Fd() int { return f.fd }

// Read forwards to the underlying descriptor.
func (f *FD) Read(p []byte) (int, error) { return unix.Read(f.fd, p) }

// Write forwards to the underlying descriptor.
func (f *FD) Write(p []byte) (int, error) { return unix.Write(f.fd, p) }

// Close closes the underlying descriptor.
func (f *FD) Close() error {
	if f.file != nil {
		return f.file.Close()
	}
	return unix.Close(f.fd)
}

// fileConn is satisfied by *net.TCPConn, *net.UnixConn, and similar
// connection types that can hand over their underlying descriptor.
type fileConn interface {
	File() (*os.File, error)
}

// FromConn duplicates conn's underlying descriptor (via File) and puts it
// into non-blocking mode, for use as a BufferedTransport's [Underlying].
// The returned FD owns the duplicated descriptor; conn itself is left
// untouched and must still be closed independently by the caller.
func FromConn(conn fileConn) (*FD, error) {
	f, err := conn.File()
	if err != nil {
		return nil, err
	}
	fd := int(f.Fd())
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &FD{fd: fd, file: f}, nil
}

// FromFile wraps an already-open regular file, setting it non-blocking.
// Regular files characteristically cannot be registered with the OS
// readiness poller (see the shim fallback in NewBufferedTransport); this
// constructor is the common way such a file reaches a BufferedTransport.
func FromFile(f *os.File) (*FD, error) {
	fd := int(f.Fd())
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, err
	}
	return &FD{fd: fd, file: f}, nil
}

// CreatePair constructs a connected, non-blocking Unix-domain socket pair
// wrapped as two BufferedTransports registered against r.
func CreatePair(r *reactor.Reactor, opts ...TransportOption) (*BufferedTransport, *BufferedTransport, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, nil, err
	}
	for _, fd := range fds {
		if err := unix.SetNonblock(fd, true); err != nil {
			unix.Close(fds[0])
			unix.Close(fds[1])
			return nil, nil, err
		}
	}

	a, err := NewBufferedTransport(r, NewFD(fds[0]), opts...)
	if err != nil {
		unix.Close(fds[0])
		unix.Close(fds[1])
		return nil, nil, err
	}
	b, err := NewBufferedTransport(r, NewFD(fds[1]), opts...)
	if err != nil {
		_ = a.Close()
		unix.Close(fds[1])
		return nil, nil, err
	}
	return a, b, nil
}

func isPermissionDenied(err error) bool {
	return errors.Is(err, unix.EPERM)
}

func isAlreadyRegistered(err error) bool {
	return errors.Is(err, unix.EEXIST)
}

func isWouldBlock(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK)
}
