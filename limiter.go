package slidingrate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gammazero/deque"
	"go.uber.org/zap"
)

// Default configuration values.
var (
	DefaultMaxAttempts = 5
	DefaultWindow      = time.Minute
)

// Limiter is a sliding-window log rate limiter. Safe for concurrent use.
type Limiter struct {
	cfg Config

	mu sync.Mutex
	// Admitted attempt timestamps, oldest at the front, never decreasing.
	log deque.Deque[time.Time]

	clock      Clock
	onExceeded func()
	logger     *zap.Logger
}

// New creates a limiter with default config and applies options.
func New(opts ...Option) (*Limiter, error) {
	l := &Limiter{
		cfg: Config{
			MaxAttempts: DefaultMaxAttempts,
			Window:      DefaultWindow,
		},
	}

	for _, opt := range opts {
		opt(l)
	}

	if l.cfg.Window <= 0 {
		return nil, fmt.Errorf("%w: got %s", ErrInvalidWindow, l.cfg.Window)
	}
	if l.clock == nil {
		l.clock = SystemClock{}
	}
	if l.logger == nil {
		l.logger = zap.NewNop()
	}

	return l, nil
}

// Config returns the limiter configuration.
func (l *Limiter) Config() Config {
	return l.cfg
}

// IsAllowed reports whether an action requested now would be admitted.
// It records nothing.
func (l *Limiter) IsAllowed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.prune(l.clock.Now())
	return l.log.Len() < l.cfg.MaxAttempts
}

// Remaining returns how many more actions the current window admits.
func (l *Limiter) Remaining() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.prune(l.clock.Now())
	return max(0, l.cfg.MaxAttempts-l.log.Len())
}

// Attempts returns the number of admitted attempts still inside the window.
func (l *Limiter) Attempts() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.prune(l.clock.Now())
	return l.log.Len()
}

// TimeUntilReset returns how long until the oldest retained attempt leaves the
// window, or zero when the log is empty.
func (l *Limiter) TimeUntilReset() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	l.prune(now)
	return l.untilReset(now)
}

// Acquire records an attempt and returns true if the window has room.
// Otherwise it fires OnExceeded and returns false.
func (l *Limiter) Acquire() bool {
	if ok, _ := l.reserve(); ok {
		return true
	}
	l.exceeded()
	return false
}

// Do runs action if the limiter admits it. ok is false when the action was
// rejected and not run; err is whatever action returned.
func (l *Limiter) Do(action func() error) (ok bool, err error) {
	_, ok, err = Execute(l, func() (struct{}, error) {
		return struct{}{}, action()
	})
	return ok, err
}

// Execute runs action under l. The attempt is recorded before action starts,
// so a slow or failing action still holds its slot for the full window.
// When the limiter rejects, action is not run and the zero T is returned with
// ok set to false.
func Execute[T any](l *Limiter, action func() (T, error)) (result T, ok bool, err error) {
	if !l.Acquire() {
		return result, false, nil
	}
	result, err = action()
	return result, true, err
}

// Wait blocks until an attempt can be recorded or ctx is done. It does not
// fire OnExceeded.
//
// The delay until the next free slot is measured on the limiter's Clock while
// a ctx deadline is wall-clock time. Wait returns ErrLimit early only when the
// deadline falls before that delay would elapse on the wall clock. With a
// SystemClock the two agree.
func (l *Limiter) Wait(ctx context.Context) error {
	for {
		ok, delay := l.reserve()
		if ok {
			return nil
		}

		if l.cfg.MaxAttempts <= 0 {
			<-ctx.Done()
			return ctx.Err()
		}

		if deadline, has := ctx.Deadline(); has && time.Until(deadline) < delay {
			return ErrLimit
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.clock.After(delay):
		}
	}
}

// Reset clears every recorded attempt.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.log.Clear()
}

// reserve is the atomic check-then-record step. On rejection it returns how
// long until the oldest attempt expires.
func (l *Limiter) reserve() (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	l.prune(now)

	if l.log.Len() >= l.cfg.MaxAttempts {
		return false, l.untilReset(now)
	}

	// Keep the log ordered if the clock stepped backwards.
	if l.log.Len() > 0 && now.Before(l.log.Back()) {
		now = l.log.Back()
	}
	l.log.PushBack(now)
	return true, 0
}

func (l *Limiter) prune(now time.Time) {
	cutoff := now.Add(-l.cfg.Window)
	for l.log.Len() > 0 && !l.log.Front().After(cutoff) {
		l.log.PopFront()
	}
}

func (l *Limiter) untilReset(now time.Time) time.Duration {
	if l.log.Len() == 0 {
		return 0
	}
	return max(0, l.log.Front().Add(l.cfg.Window).Sub(now))
}

func (l *Limiter) exceeded() {
	l.logger.Debug("rate limit exceeded",
		zap.Int("max_attempts", l.cfg.MaxAttempts),
		zap.Duration("window", l.cfg.Window))

	if l.onExceeded != nil {
		l.onExceeded()
	}
}
