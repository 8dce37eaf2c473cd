package reactor

import (
	"runtime"
	"sync"
)

// threadID identifies a reactor instance in the process-wide remotes
// registry. It is an opaque handle rather than an OS thread id, since a
// Reactor is bound to whichever goroutine calls Run/RunWorker, not to a
// kernel thread.
type threadID uint64

var (
	remotesMu  sync.Mutex
	remotes    = make(map[threadID]*Reactor)
	nextThread threadID
)

// registerRemote publishes r under a freshly allocated threadID. Entries are
// never removed: a closed reactor stays behind as a tombstone so RunInThread
// can distinguish "not started yet" (wait) from "terminated" (error).
func registerRemote(r *Reactor) threadID {
	remotesMu.Lock()
	nextThread++
	id := nextThread
	remotes[id] = r
	remotesMu.Unlock()
	return id
}

// ID returns the handle other goroutines must pass to RunInThread to post
// work onto this reactor.
func (r *Reactor) ID() uint64 { return uint64(r.id) }

// drainRemote invokes, in FIFO order, every callback posted via RunInThread
// since the last drain. Must only be called from the reactor's own
// goroutine (token 0's dispatch path). Reports whether a Flush occurred
// mid-drain, in which case the remaining callbacks were dropped with the
// rest of the inbox and the caller must end the turn.
func (r *Reactor) drainRemote() bool {
	r.remoteMu.Lock()
	pending := r.remote
	r.remote = nil
	r.remoteMu.Unlock()

	for _, cb := range pending {
		r.metrics.remoteQueued.Add(-1)
		r.safeInvoke(cb)
		if r.consumeFlush() {
			return true
		}
	}
	return false
}

// RunInThread posts cb to be executed on the reactor identified by targetID,
// on that reactor's own goroutine, inside a single turn of its loop. It
// returns as soon as cb is enqueued and the target's wake-up channel nudged;
// it does not wait for cb to run. If the target reactor does not exist yet,
// the caller spin-yields until it does. If the target has been closed,
// RunInThread returns ErrThreadTerminated.
func RunInThread(targetID uint64, cb func()) error {
	id := threadID(targetID)
	var target *Reactor
	for {
		remotesMu.Lock()
		t, ok := remotes[id]
		remotesMu.Unlock()
		if ok {
			target = t
			break
		}
		runtime.Gosched()
	}
	if target.closed.Load() {
		return ErrThreadTerminated
	}

	target.remoteMu.Lock()
	target.remote = append(target.remote, cb)
	target.remoteMu.Unlock()
	target.metrics.remoteQueued.Add(1)

	if err := target.wake.Wake(); err != nil {
		return ErrThreadTerminated
	}
	return nil
}
