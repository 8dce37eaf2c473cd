package reactor

import (
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// Logger is the structured logger type accepted by this package: a logiface
// logger bound to stumpy's event type, the pairing used throughout the
// joeycumines-go-utilpkg monorepo this reactor is patterned on.
type Logger = logiface.Logger[*stumpy.Event]

// Option configures a Reactor at construction time.
type Option interface {
	apply(*config) error
}

type config struct {
	logger *Logger
}

type optionFunc func(*config) error

func (f optionFunc) apply(c *config) error { return f(c) }

// WithLogger attaches a structured logger used to report poll failures and
// panics recovered from callbacks. A nil logger (the default) disables
// logging entirely.
func WithLogger(l *Logger) Option {
	return optionFunc(func(c *config) error {
		c.logger = l
		return nil
	})
}

func resolveOptions(opts []Option) (config, error) {
	var c config
	for _, o := range opts {
		if err := o.apply(&c); err != nil {
			return config{}, err
		}
	}
	return c, nil
}
