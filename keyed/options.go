package keyed

import (
	"github.com/cnlangzi/slidingrate"
	"go.uber.org/zap"
)

// Option is a functional option for configuring Registry.
type Option func(*Registry)

// WithClock sets the time source shared by every limiter in the registry.
func WithClock(c slidingrate.Clock) Option {
	return func(r *Registry) {
		r.clock = c
	}
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithOnExceeded sets a hook fired when a key is rejected. Each key is
// reported at most once per rotation period. The period lasts one Window, is
// shared by every key and starts when the registry is created, so it is not
// aligned with any single key's window.
func WithOnExceeded(fn func(key string)) Option {
	return func(r *Registry) {
		r.onExceeded = fn
	}
}
