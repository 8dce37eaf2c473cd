package transport

import "github.com/joeycumines/go-transportation/reactor"

// Logger is the structured logger type accepted by this package, the same
// logiface/stumpy pairing used by the reactor package.
type Logger = reactor.Logger

// defaultReadLimit is the backpressure knob: a BufferedTransport stops
// asking for readable readiness once its read buffer reaches this size.
const defaultReadLimit = 16384

// maxWriteBufferAdvisory is the threshold HasWriteSpace checks against. It
// is advisory only; Put never refuses a write because of it.
const maxWriteBufferAdvisory = 2048

// TransportOption configures a BufferedTransport at construction time.
type TransportOption interface {
	apply(*transportConfig) error
}

type transportConfig struct {
	logger    *Logger
	readLimit int
}

type transportOptionFunc func(*transportConfig) error

func (f transportOptionFunc) apply(c *transportConfig) error { return f(c) }

// WithLogger attaches a structured logger for non-fatal diagnostics: read
// and write errors, and errors closing the underlying resource.
func WithLogger(l *Logger) TransportOption {
	return transportOptionFunc(func(c *transportConfig) error {
		c.logger = l
		return nil
	})
}

// WithReadLimit overrides the default 16384-byte backpressure threshold.
func WithReadLimit(n int) TransportOption {
	return transportOptionFunc(func(c *transportConfig) error {
		c.readLimit = n
		return nil
	})
}

func resolveTransportOptions(opts []TransportOption) (transportConfig, error) {
	c := transportConfig{readLimit: defaultReadLimit}
	for _, o := range opts {
		if err := o.apply(&c); err != nil {
			return transportConfig{}, err
		}
	}
	return c, nil
}
