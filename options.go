package slidingrate

import (
	"time"

	"go.uber.org/zap"
)

// Option is a functional option for configuring Limiter.
type Option func(*Limiter)

// WithMaxAttempts sets the number of actions admitted per window.
func WithMaxAttempts(n int) Option {
	return func(l *Limiter) {
		l.cfg.MaxAttempts = n
	}
}

// WithWindow sets the sliding window length.
func WithWindow(window time.Duration) Option {
	return func(l *Limiter) {
		l.cfg.Window = window
	}
}

// WithConfig replaces both MaxAttempts and Window.
func WithConfig(cfg Config) Option {
	return func(l *Limiter) {
		l.cfg = cfg
	}
}

// WithOnExceeded sets a callback fired each time an action is rejected.
// It runs on the caller's goroutine after the limiter has released its lock.
func WithOnExceeded(fn func()) Option {
	return func(l *Limiter) {
		l.onExceeded = fn
	}
}

// WithClock implants a custom time source.
func WithClock(c Clock) Option {
	return func(l *Limiter) {
		l.clock = c
	}
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Limiter) {
		l.logger = logger
	}
}
