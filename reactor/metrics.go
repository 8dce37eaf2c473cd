package reactor

import "sync/atomic"

// Metrics is a point-in-time snapshot of reactor load, sufficient to sanity
// check a running process without wiring an external observability stack.
type Metrics struct {
	Listeners    int
	Timers       int
	RemoteQueued int64
}

type metrics struct {
	remoteQueued atomic.Int64
}

// Metrics returns a snapshot of the reactor's current load. Safe to call
// from any goroutine, including concurrently with Run.
func (r *Reactor) Metrics() Metrics {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Metrics{
		Listeners:    len(r.handlers),
		Timers:       r.timers.len(),
		RemoteQueued: r.metrics.remoteQueued.Load(),
	}
}
