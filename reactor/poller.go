package reactor

// Readiness is a bitmask of the conditions a registered descriptor can be
// interested in, or can report.
type Readiness uint32

const (
	// Readable indicates the descriptor has data available to read.
	Readable Readiness = 1 << iota
	// Writable indicates the descriptor can accept a write without blocking.
	Writable
	// Errored indicates an error condition on the descriptor.
	Errored
	// HangUp indicates the peer closed its end of the connection.
	HangUp
)

func (r Readiness) has(bit Readiness) bool { return r&bit != 0 }

// Event is one readiness notification delivered by a poller turn, keyed by
// the token under which the interested party registered.
type Event struct {
	Token     uint64
	Readiness Readiness
}

// poller is the platform-specific readiness multiplexer. Exactly one
// implementation is compiled per GOOS (see poller_linux.go, poller_darwin.go,
// poller_other.go).
type poller interface {
	// Register begins monitoring fd under token for the given interest.
	Register(fd int, token uint64, interest Readiness) error
	// Reregister updates the interest set for an already-registered fd.
	Reregister(fd int, token uint64, interest Readiness) error
	// Deregister stops monitoring fd.
	Deregister(fd int) error
	// Wait blocks up to timeoutMs (negative means forever) and appends ready
	// events to dst, returning the extended slice.
	Wait(timeoutMs int, dst []Event) ([]Event, error)
	// Close releases the poller's OS resources.
	Close() error
}

// newPoller, which constructs the platform poller, is defined once per OS in
// the files listed above.
