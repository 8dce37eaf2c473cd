package transport

import "errors"

// Sentinel errors. Match against these with errors.Is. ErrTransportClosed is
// returned by Send on a closed transport; ErrAlreadyRegistered is wrapped in
// the [FatalError] NewBufferedTransport panics with when a descriptor is
// registered twice.
var (
	ErrTransportClosed   = errors.New("transport: closed")
	ErrAlreadyRegistered = errors.New("transport: underlying resource already registered")
)

// Sentinels wrapped by the [FatalError] values this package raises for
// usage errors and protocol corruption: message length overruns, nonce
// exhaustion, and frame corruption are all unrecoverable and terminate the
// program rather than propagate as ordinary errors.
var (
	ErrMessageTooLarge = errors.New("transport: message exceeds 65535 bytes")
	ErrNonceExhausted  = errors.New("transport: nonce counter exhausted")
	ErrFrameCorrupt    = errors.New("transport: encrypted frame failed to decrypt or had an unexpected length")
	ErrDeserialize     = errors.New("transport: failed to deserialize message")
)

// FatalError marks a condition that must terminate the program: a message
// too large to frame, nonce exhaustion, or a corrupt/unauthentic
// encrypted frame. It mirrors reactor.FatalError so a panic raised from
// inside a BufferedTransport's notify handler (itself invoked by the
// reactor) propagates the same way reactor-level fatal conditions do.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string {
	if e.Err == nil {
		return "transport: fatal: " + e.Op
	}
	return "transport: fatal: " + e.Op + ": " + e.Err.Error()
}

func (e *FatalError) Unwrap() error { return e.Err }

// Fatal marks this panic value so the reactor's per-callback recovery
// re-raises it instead of swallowing it; see reactor.FatalError.
func (e *FatalError) Fatal() {}

func fatalf(op string, err error) *FatalError {
	return &FatalError{Op: op, Err: err}
}
