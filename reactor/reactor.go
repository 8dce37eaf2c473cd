package reactor

import (
	"sync"
	"sync/atomic"
	"time"
)

// Handler reacts to one readiness event delivered for the token it was
// registered under.
type Handler func(Event)

// Reactor is a single-threaded, callback-driven I/O event loop. It must be
// constructed and driven (via Run or RunWorker) from the same goroutine;
// other goroutines reach it only through [RunInThread] and [Reactor.Stop].
type Reactor struct {
	logger *Logger

	poll  poller
	wake  *waker
	token uint64 // next id to hand out; 0 is reserved for wake

	mu       sync.Mutex
	handlers map[uint64]Handler
	shims    map[uint64]struct{} // always-ready synthetic registrations (regular files)
	timers   *timerSet

	metrics metrics

	remoteMu sync.Mutex
	remote   []func()

	shouldContinue atomic.Bool
	running        atomic.Bool
	closed         atomic.Bool
	flushRequested bool

	currentEvent Event

	eventBuf []Event

	id threadID
}

// New constructs a Reactor bound to the calling goroutine's logical thread
// identity (see RunInThread). Close the reactor when done to release the
// poller and wake-up descriptors.
func New(opts ...Option) (*Reactor, error) {
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}

	p, err := newPoller()
	if err != nil {
		return nil, err
	}
	w, err := newWaker()
	if err != nil {
		_ = p.Close()
		return nil, err
	}
	if err := p.Register(w.Fd(), 0, Readable); err != nil {
		_ = w.Close()
		_ = p.Close()
		return nil, err
	}

	r := &Reactor{
		logger:   cfg.logger,
		poll:     p,
		wake:     w,
		token:    1,
		handlers: make(map[uint64]Handler),
		shims:    make(map[uint64]struct{}),
		timers:   newTimerSet(),
		eventBuf: make([]Event, 0, 1024),
	}
	r.shouldContinue.Store(true)
	r.id = registerRemote(r)
	return r, nil
}

func (r *Reactor) nextToken() (uint64, error) {
	if r.token == 0 {
		panic(fatalf("token allocation", ErrTokenExhausted))
	}
	t := r.token
	r.token++
	return t, nil
}

// InsertListener allocates a token and stores cb as its handler. The caller
// is responsible for registering whatever OS resource should deliver events
// under that token (see BorrowPoll).
func (r *Reactor) InsertListener(cb Handler) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, err := r.nextToken()
	if err != nil {
		return 0, err
	}
	r.handlers[t] = cb
	return t, nil
}

// RemoveListener deletes the handler for token, returning whether it was
// present. Deregistering the underlying OS resource is the caller's job.
func (r *Reactor) RemoveListener(token uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.handlers[token]
	delete(r.handlers, token)
	delete(r.shims, token)
	return ok
}

// markShim records that token refers to a resource the OS poller refused to
// register (typically a regular file) and should instead be treated as
// permanently ready every turn.
func (r *Reactor) markShim(token uint64) {
	r.mu.Lock()
	r.shims[token] = struct{}{}
	r.mu.Unlock()
}

func (r *Reactor) unmarkShim(token uint64) {
	r.mu.Lock()
	delete(r.shims, token)
	r.mu.Unlock()
}

// SetTimeout schedules cb to run once after d has elapsed.
func (r *Reactor) SetTimeout(cb func(), d time.Duration) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, err := r.nextToken()
	if err != nil {
		return 0, err
	}
	r.timers.add(&timerEntry{token: t, callback: cb, fireAt: time.Now().Add(d)})
	return t, nil
}

// SetInterval schedules cb to run every d, starting after the first d has
// elapsed.
func (r *Reactor) SetInterval(cb func(), d time.Duration) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, err := r.nextToken()
	if err != nil {
		return 0, err
	}
	r.timers.add(&timerEntry{token: t, callback: cb, fireAt: time.Now().Add(d), interval: d})
	return t, nil
}

// ClearTimeout cancels a one-shot timer. Returns false if token names an
// interval instead, or is unknown.
func (r *Reactor) ClearTimeout(token uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.timers.remove(token, false)
}

// ClearInterval cancels a repeating timer. Returns false if token names a
// one-shot timeout instead, or is unknown.
func (r *Reactor) ClearInterval(token uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.timers.remove(token, true)
}

// BorrowPoll grants synchronous access to the underlying registration API,
// for use by transports that need to (re)register or deregister their own
// file descriptors.
func (r *Reactor) BorrowPoll(f func(p Poll)) {
	f(pollHandle{r})
}

// Poll is the subset of poller operations exposed to callers outside this
// package (transports) via BorrowPoll.
type Poll interface {
	Register(fd int, token uint64, interest Readiness) error
	Reregister(fd int, token uint64, interest Readiness) error
	Deregister(fd int) error
}

type pollHandle struct{ r *Reactor }

func (h pollHandle) Register(fd int, token uint64, interest Readiness) error {
	return h.r.poll.Register(fd, token, interest)
}
func (h pollHandle) Reregister(fd int, token uint64, interest Readiness) error {
	return h.r.poll.Reregister(fd, token, interest)
}
func (h pollHandle) Deregister(fd int) error {
	return h.r.poll.Deregister(fd)
}

// MarkShim tells the reactor that token's resource could not be registered
// with the OS poller and should be dispatched as always-ready instead. Used
// by BufferedTransport for the regular-file workaround described in the
// design notes.
func (r *Reactor) MarkShim(token uint64) { r.markShim(token) }

// UnmarkShim undoes MarkShim, typically right before RemoveListener.
func (r *Reactor) UnmarkShim(token uint64) { r.unmarkShim(token) }

// GetEvent returns the event that triggered the handler currently
// executing. Calling it outside of a handler invocation is unspecified: it
// returns the most recently dispatched event, or the zero Event if none has
// been dispatched yet.
func (r *Reactor) GetEvent() Event {
	return r.currentEvent
}

// Stop requests that Run/RunWorker return after the current turn. It nudges
// the wake-up channel so a loop blocked indefinitely in the poller observes
// the request promptly. If no loop is running, the next Run or RunWorker
// returns without taking a turn. Safe to call from any goroutine.
func (r *Reactor) Stop() {
	r.shouldContinue.Store(false)
	r.mu.Lock()
	w := r.wake
	r.mu.Unlock()
	_ = w.Wake()
}

// Flush performs the post-fork reset: it drops the poller, every handler
// and timer, and the cross-thread inbox, then rebuilds them with the token
// counter reset to 1. It must only be called from inside a turn on the
// owning goroutine.
func (r *Reactor) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.poll.Close(); err != nil {
		return err
	}
	if err := r.wake.Close(); err != nil {
		return err
	}

	p, err := newPoller()
	if err != nil {
		return err
	}
	w, err := newWaker()
	if err != nil {
		_ = p.Close()
		return err
	}
	if err := p.Register(w.Fd(), 0, Readable); err != nil {
		_ = w.Close()
		_ = p.Close()
		return err
	}

	r.poll = p
	r.wake = w
	r.token = 1
	r.handlers = make(map[uint64]Handler)
	r.shims = make(map[uint64]struct{})
	r.timers = newTimerSet()

	r.remoteMu.Lock()
	r.remote = nil
	r.remoteMu.Unlock()
	r.metrics.remoteQueued.Store(0)

	r.flushRequested = true
	return nil
}

// Close releases the reactor's poller and wake-up descriptors. Stop the
// loop first; Close is not safe to call concurrently with Run/RunWorker.
// The reactor's entry in the process-wide remotes registry is kept as a
// tombstone so that a later RunInThread targeting this reactor returns
// ErrThreadTerminated instead of waiting forever.
func (r *Reactor) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	err1 := r.wake.Close()
	err2 := r.poll.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// Run drives the reactor until it has no listeners and no timers left, or
// until Stop is called.
func (r *Reactor) Run() error {
	return r.run(false)
}

// RunWorker drives the reactor until Stop is called, regardless of whether
// it is momentarily idle. Intended for threads whose only purpose is to
// accept work posted via RunInThread.
func (r *Reactor) RunWorker() error {
	return r.run(true)
}

func (r *Reactor) run(worker bool) error {
	if r.closed.Load() {
		return ErrClosed
	}
	if r.running.Swap(true) {
		return ErrReentrantRun
	}
	defer r.running.Store(false)
	// Re-arm on exit rather than on entry, so a Stop issued before this loop
	// started is still honoured.
	defer r.shouldContinue.Store(true)

	for r.shouldContinue.Load() {
		r.mu.Lock()
		empty := !worker && len(r.handlers) == 0 && r.timers.len() == 0
		r.mu.Unlock()
		if empty {
			return nil
		}
		if err := r.turn(); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reactor) turn() error {
	r.mu.Lock()
	timeout := -1
	due := r.timers.peek()
	if due != nil {
		d := time.Until(due.fireAt)
		if d < 0 {
			d = 0
		}
		// Round up so a sub-millisecond wait doesn't degenerate into a
		// zero-timeout spin until the timer is due.
		timeout = int((d + time.Millisecond - 1) / time.Millisecond)
	}
	shimTokens := make([]uint64, 0, len(r.shims))
	for t := range r.shims {
		shimTokens = append(shimTokens, t)
	}
	r.mu.Unlock()

	if len(shimTokens) > 0 {
		// Regular files are always ready; don't block waiting on the OS
		// poller when one is registered, so their notify fires every turn.
		timeout = 0
	}

	r.eventBuf = r.eventBuf[:0]
	events, err := r.poll.Wait(timeout, r.eventBuf)
	if err != nil {
		if r.logger != nil {
			r.logger.Err().Err(err).Log("poll failed")
		}
		return fatalf("poll", err)
	}
	r.eventBuf = events

	r.mu.Lock()
	fired := r.timers.popDue(time.Now())
	r.mu.Unlock()
	if fired != nil {
		r.safeInvoke(func() { fired.callback() })
		if r.consumeFlush() {
			return nil
		}
	}

	for _, ev := range events {
		if ev.Token == 0 {
			r.wake.Drain()
			if r.drainRemote() {
				return nil
			}
			continue
		}
		r.dispatch(ev)
		if r.consumeFlush() {
			return nil
		}
	}

	for _, t := range shimTokens {
		r.dispatch(Event{Token: t, Readiness: Readable | Writable})
		if r.consumeFlush() {
			return nil
		}
	}

	return nil
}

func (r *Reactor) dispatch(ev Event) {
	r.mu.Lock()
	h, ok := r.handlers[ev.Token]
	r.mu.Unlock()
	if !ok {
		return
	}
	r.currentEvent = ev
	r.safeInvoke(func() { h(ev) })
}

func (r *Reactor) consumeFlush() bool {
	r.mu.Lock()
	f := r.flushRequested
	r.flushRequested = false
	r.mu.Unlock()
	return f
}

// safeInvoke runs cb, recovering ordinary panics but re-panicking any value
// marked fatal (this package's FatalError and the transport layer's
// equivalent) so it terminates Run's caller, per the taxonomy in the error
// handling design.
func (r *Reactor) safeInvoke(cb func()) {
	defer func() {
		if rec := recover(); rec != nil {
			if _, ok := rec.(interface{ Fatal() }); ok {
				panic(rec)
			}
			if r.logger != nil {
				r.logger.Err().Log("recovered panic in reactor callback")
			}
		}
	}()
	cb()
}
