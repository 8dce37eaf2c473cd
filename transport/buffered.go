package transport

import (
	"bytes"
	"encoding/binary"
	"sync"

	"github.com/joeycumines/go-transportation/reactor"
)

// Underlying is the non-blocking resource a [BufferedTransport] drives: a
// connected socket, pipe, or regular file exposed as a raw file descriptor.
// [FD] and [FromConn] are the usual implementations, kept deliberately
// thin.
type Underlying interface {
	Fd() int
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// bufferedCore holds the state a BufferedTransport and its clones share:
// an explicit pointer-shared struct guarded by a mutex, so every clone
// observes the same buffers, hook, and close latch.
type bufferedCore struct {
	mu sync.Mutex

	underlying Underlying
	readBuf    bytes.Buffer
	writeBuf   bytes.Buffer

	notifyHook Notifiable
	closed     bool
	draining   bool // Close requested, waiting for writeBuf to drain

	key       uint64
	readLimit int
	shimmed   bool // underlying refused OS registration (regular file)

	logger *Logger
}

// BufferedTransport adapts a non-blocking [Underlying] resource into an
// application-visible pair of byte buffers, driven by a [reactor.Reactor].
// Construct with [NewBufferedTransport] or [CreatePair]; a zero value is
// not usable.
type BufferedTransport struct {
	core *bufferedCore
	r    *reactor.Reactor
}

// NewBufferedTransport registers underlying with r and returns a transport
// ready to read and write against it. If r's poller refuses to register
// underlying's descriptor with EPERM (characteristic of regular files), a
// synthetic always-ready shim registration is installed instead, so the
// reactor still drives this transport's notify every turn.
func NewBufferedTransport(r *reactor.Reactor, underlying Underlying, opts ...TransportOption) (*BufferedTransport, error) {
	cfg, err := resolveTransportOptions(opts)
	if err != nil {
		return nil, err
	}

	core := &bufferedCore{
		underlying: underlying,
		readLimit:  cfg.readLimit,
		logger:     cfg.logger,
	}
	bt := &BufferedTransport{core: core, r: r}

	token, err := r.InsertListener(bt.onEvent)
	if err != nil {
		return nil, err
	}
	core.key = token

	var regErr error
	r.BorrowPoll(func(p reactor.Poll) {
		regErr = p.Register(underlying.Fd(), token, reactor.Readable)
	})
	if regErr != nil {
		switch {
		case isPermissionDenied(regErr):
			r.MarkShim(token)
			core.shimmed = true
		case isAlreadyRegistered(regErr):
			// Registering the same descriptor twice is a usage error.
			r.RemoveListener(token)
			panic(fatalf("NewBufferedTransport", ErrAlreadyRegistered))
		default:
			r.RemoveListener(token)
			return nil, regErr
		}
	}
	return bt, nil
}

// Clone returns a handle sharing this transport's buffers, notify hook, and
// registration. Both handles observe the same reads, writes, and close.
func (bt *BufferedTransport) Clone() *BufferedTransport {
	return &BufferedTransport{core: bt.core, r: bt.r}
}

// Available returns the number of bytes currently buffered for reading.
func (bt *BufferedTransport) Available() int {
	c := bt.core
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readBuf.Len()
}

// TakeChunk removes and returns exactly n bytes from the front of the read
// buffer, or (nil, false) if fewer than n are currently buffered. It never
// returns a partial chunk.
func (bt *BufferedTransport) TakeChunk(n int) ([]byte, bool) {
	c := bt.core
	c.mu.Lock()
	if c.readBuf.Len() < n {
		c.mu.Unlock()
		return nil, false
	}
	out := make([]byte, n)
	copy(out, c.readBuf.Next(n))
	c.mu.Unlock()
	bt.reregister()
	return out, true
}

// Take removes and returns the entire read buffer.
func (bt *BufferedTransport) Take() []byte {
	c := bt.core
	c.mu.Lock()
	n := c.readBuf.Len()
	out := make([]byte, n)
	copy(out, c.readBuf.Next(n))
	c.mu.Unlock()
	bt.reregister()
	return out
}

// Put appends b to the write buffer. The reactor flushes it opportunistically
// once the underlying resource reports writable.
func (bt *BufferedTransport) Put(b []byte) {
	c := bt.core
	c.mu.Lock()
	c.writeBuf.Write(b)
	c.mu.Unlock()
	bt.reregister()
}

// SendMessage frames b with a 2-byte big-endian length prefix and appends it
// to the write buffer. Panics with a [FatalError] wrapping
// [ErrMessageTooLarge] if len(b) > 65535: the prefix cannot represent a
// longer message.
func (bt *BufferedTransport) SendMessage(b []byte) {
	if len(b) > 65535 {
		panic(fatalf("SendMessage", ErrMessageTooLarge))
	}
	var prefix [2]byte
	binary.BigEndian.PutUint16(prefix[:], uint16(len(b)))
	c := bt.core
	c.mu.Lock()
	c.writeBuf.Write(prefix[:])
	c.writeBuf.Write(b)
	c.mu.Unlock()
	bt.reregister()
}

// RecvMessage removes and returns one length-prefixed message if the
// preamble and full payload have both arrived, otherwise (nil, false).
func (bt *BufferedTransport) RecvMessage() ([]byte, bool) {
	c := bt.core
	c.mu.Lock()
	buf := c.readBuf.Bytes()
	if len(buf) < 2 {
		c.mu.Unlock()
		return nil, false
	}
	l := int(binary.BigEndian.Uint16(buf[:2]))
	if len(buf) < 2+l {
		c.mu.Unlock()
		return nil, false
	}
	msg := make([]byte, l)
	copy(msg, buf[2:2+l])
	c.readBuf.Next(2 + l)
	c.mu.Unlock()
	bt.reregister()
	return msg, true
}

// RecvAllMessages drains every length-prefixed message currently fully
// buffered.
func (bt *BufferedTransport) RecvAllMessages() [][]byte {
	var out [][]byte
	for {
		msg, ok := bt.RecvMessage()
		if !ok {
			break
		}
		out = append(out, msg)
	}
	return out
}

// HasWriteSpace reports whether the write buffer is below its advisory
// 2048-byte threshold. It is advisory only and never blocks a write.
func (bt *BufferedTransport) HasWriteSpace() bool {
	c := bt.core
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeBuf.Len() < maxWriteBufferAdvisory
}

// IsClosed reports the transport's latched close state.
func (bt *BufferedTransport) IsClosed() bool {
	c := bt.core
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// SetNotify installs n as the hook invoked after every I/O turn, replacing
// any previous hook. The transport stores n as an ordinary reference.
func (bt *BufferedTransport) SetNotify(n Notifiable) {
	c := bt.core
	c.mu.Lock()
	c.notifyHook = n
	c.mu.Unlock()
}

// Close requests a graceful close: if the write buffer is already empty (or
// the transport already closed), it closes immediately; otherwise it marks
// the transport draining and finishes once the write buffer empties on a
// subsequent notify turn.
func (bt *BufferedTransport) Close() error {
	c := bt.core
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	if c.writeBuf.Len() > 0 {
		c.draining = true
		c.mu.Unlock()
		bt.reregister()
		return nil
	}
	c.mu.Unlock()
	return bt.finishClose()
}

// finishClose performs the real close: latches closed, deregisters from the
// reactor, and closes the underlying descriptor. Errors closing the
// underlying are logged, not fatal.
func (bt *BufferedTransport) finishClose() error {
	c := bt.core
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.draining = false
	key := c.key
	shimmed := c.shimmed
	logger := c.logger
	underlying := c.underlying
	c.mu.Unlock()

	bt.r.RemoveListener(key)
	if shimmed {
		bt.r.UnmarkShim(key)
	} else {
		bt.r.BorrowPoll(func(p reactor.Poll) {
			_ = p.Deregister(underlying.Fd())
		})
	}
	if err := underlying.Close(); err != nil && logger != nil {
		logger.Err().Err(err).Log("buffered transport: closing underlying failed")
	}
	return nil
}

// reregister recomputes the interest set (readable iff under the read
// limit, writable iff the write buffer is non-empty) and pushes it to the
// poller. Shim-registered transports are always fully ready and need no
// update.
func (bt *BufferedTransport) reregister() {
	c := bt.core
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	var interest reactor.Readiness
	if c.readBuf.Len() < c.readLimit {
		interest |= reactor.Readable
	}
	if c.writeBuf.Len() > 0 {
		interest |= reactor.Writable
	}
	key := c.key
	shimmed := c.shimmed
	underlying := c.underlying
	c.mu.Unlock()

	if shimmed {
		return
	}
	bt.r.BorrowPoll(func(p reactor.Poll) {
		_ = p.Reregister(underlying.Fd(), key, interest)
	})
}

const readChunkSize = 16384

// onEvent is the reactor handler registered for this transport's token. It
// reads available data, flushes pending writes, and invokes the notify
// hook. It then completes the close (on end-of-file, or once a pending
// graceful close has drained the write buffer) or else recomputes interest.
func (bt *BufferedTransport) onEvent(ev reactor.Event) {
	c := bt.core
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}

	readable := ev.Readiness&reactor.Readable != 0
	hungUp := ev.Readiness&reactor.HangUp != 0
	writable := ev.Readiness&reactor.Writable != 0
	underlying := c.underlying
	logger := c.logger
	c.mu.Unlock()

	eof := false
	if readable || hungUp {
		var buf [readChunkSize]byte
		n, err := underlying.Read(buf[:])
		switch {
		case err == nil && n == 0:
			// Clean EOF: finishClose below latches closed and deregisters.
			eof = true
		case err == nil:
			c.mu.Lock()
			c.readBuf.Write(buf[:n])
			c.mu.Unlock()
		case isWouldBlock(err):
			// Spurious wakeup; nothing buffered yet.
		default:
			if logger != nil {
				logger.Err().Err(err).Log("buffered transport: read failed")
			}
		}
	}

	if writable {
		for {
			c.mu.Lock()
			pending := c.writeBuf.Bytes()
			if len(pending) == 0 {
				c.mu.Unlock()
				break
			}
			c.mu.Unlock()

			n, err := underlying.Write(pending)
			if n > 0 {
				c.mu.Lock()
				c.writeBuf.Next(n)
				c.mu.Unlock()
			}
			if err != nil {
				if !isWouldBlock(err) && logger != nil {
					logger.Err().Err(err).Log("buffered transport: write failed")
				}
				break
			}
			if n == 0 {
				break
			}
		}
	}

	c.mu.Lock()
	hook := c.notifyHook
	closedNow := c.closed
	shouldFinishDraining := c.draining && c.writeBuf.Len() == 0
	c.mu.Unlock()

	if hook != nil {
		hook.Notify()
	}

	if closedNow || eof || shouldFinishDraining {
		bt.finishClose()
		return
	}

	bt.reregister()
}
