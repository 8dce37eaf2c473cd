// Package reactor provides a single-threaded, callback-driven I/O event loop.
//
// A [Reactor] owns one OS readiness poller (epoll on Linux, kqueue on
// Darwin), a set of timers, and a table of event handlers keyed by token. It
// is never shared between goroutines: create one per goroutine that wants to
// drive I/O, and communicate with it from other goroutines only through
// [RunInThread].
//
// # Execution model
//
// [Reactor.Run] repeatedly takes one turn: it computes a poll timeout from
// the earliest pending timer, blocks in the poller, fires at most one due
// timer, then dispatches every event the poller returned. Token 0 is
// reserved for the cross-thread wake-up channel and is drained specially.
// [Reactor.RunWorker] is identical except it never exits when the reactor is
// idle, which makes it suitable for a thread that exists only to accept work
// posted via [RunInThread].
//
// # Thread safety
//
// [Reactor.InsertListener], [Reactor.RemoveListener], [Reactor.SetTimeout],
// [Reactor.SetInterval], [Reactor.ClearTimeout], [Reactor.ClearInterval],
// [Reactor.BorrowPoll] and [Reactor.GetEvent] must only be called from the
// reactor's own goroutine, generally from inside a handler callback.
// [RunInThread] and [Reactor.Stop] are the entry points safe to call from
// any goroutine.
//
// # Usage
//
//	r, err := reactor.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer r.Close()
//
//	r.SetTimeout(func() {
//	    fmt.Println("fired")
//	    r.Stop()
//	}, 100*time.Millisecond)
//
//	if err := r.Run(); err != nil {
//	    log.Fatal(err)
//	}
package reactor
