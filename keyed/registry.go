// Package keyed keeps one sliding-window limiter per key, so that each form,
// client or endpoint draws from its own independent quota.
package keyed

import (
	"container/list"
	"fmt"
	"sync"
	"time"

	"github.com/cnlangzi/slidingrate"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultMaxKeys bounds how many keys a Registry tracks before evicting.
var DefaultMaxKeys = 100000

// Config holds registry configuration. MaxAttempts and Window apply to every key.
type Config struct {
	MaxAttempts int
	Window      time.Duration
	MaxKeys     int
}

type entry struct {
	key     string
	limiter *slidingrate.Limiter
}

// Registry maps keys to limiters, evicting the least recently used key once
// MaxKeys is reached. An evicted key starts over with a full quota.
type Registry struct {
	cfg Config

	mu    sync.Mutex
	lru   *list.List
	index map[string]*list.Element

	// Keys already reported as exceeded in the rotation period that began at
	// rotatedAt. One period lasts cfg.Window and covers every key.
	reported  *exceededFilter
	rotatedAt time.Time

	clock      slidingrate.Clock
	logger     *zap.Logger
	onExceeded func(key string)

	evictions uint64
	evictLog  rate.Sometimes
}

// New creates a registry and applies options.
func New(cfg Config, opts ...Option) (*Registry, error) {
	if cfg.Window <= 0 {
		return nil, fmt.Errorf("keyed: %w: got %s", slidingrate.ErrInvalidWindow, cfg.Window)
	}
	if cfg.MaxKeys <= 0 {
		cfg.MaxKeys = DefaultMaxKeys
	}

	r := &Registry{
		cfg:      cfg,
		lru:      list.New(),
		index:    make(map[string]*list.Element),
		reported: newExceededFilter(),
		evictLog: rate.Sometimes{Interval: time.Second},
	}

	for _, opt := range opts {
		opt(r)
	}

	if r.clock == nil {
		r.clock = slidingrate.SystemClock{}
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	r.rotatedAt = r.clock.Now()

	return r, nil
}

// Config returns the registry configuration.
func (r *Registry) Config() Config {
	return r.cfg
}

// Get returns the limiter for key, creating it on first use.
func (r *Registry) Get(key string) *slidingrate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	if elem, ok := r.index[key]; ok {
		r.lru.MoveToFront(elem)
		return elem.Value.(*entry).limiter
	}

	if r.lru.Len() >= r.cfg.MaxKeys {
		r.evictOldest()
	}

	l, err := slidingrate.New(
		slidingrate.WithMaxAttempts(r.cfg.MaxAttempts),
		slidingrate.WithWindow(r.cfg.Window),
		slidingrate.WithClock(r.clock),
		slidingrate.WithLogger(r.logger.With(zap.String("key", key))),
		slidingrate.WithOnExceeded(func() { r.notify(key) }),
	)
	if err != nil {
		// Window is validated in New.
		panic(err)
	}

	r.index[key] = r.lru.PushFront(&entry{key: key, limiter: l})
	return l
}

// Allow reports whether key would be admitted now without recording anything.
func (r *Registry) Allow(key string) bool {
	if l, ok := r.lookup(key); ok {
		return l.IsAllowed()
	}
	return r.cfg.MaxAttempts > 0
}

// Acquire records an attempt for key if its window has room.
func (r *Registry) Acquire(key string) bool {
	return r.Get(key).Acquire()
}

// Do runs action under key's limiter. See slidingrate.Limiter.Do.
func (r *Registry) Do(key string, action func() error) (bool, error) {
	return r.Get(key).Do(action)
}

// Execute runs action under key's limiter. See slidingrate.Execute.
func Execute[T any](r *Registry, key string, action func() (T, error)) (T, bool, error) {
	return slidingrate.Execute(r.Get(key), action)
}

// Remaining returns key's remaining quota.
func (r *Registry) Remaining(key string) int {
	if l, ok := r.lookup(key); ok {
		return l.Remaining()
	}
	return max(0, r.cfg.MaxAttempts)
}

// TimeUntilReset returns how long until key's oldest attempt expires.
func (r *Registry) TimeUntilReset(key string) time.Duration {
	if l, ok := r.lookup(key); ok {
		return l.TimeUntilReset()
	}
	return 0
}

// Reset clears key's attempts but keeps tracking it.
func (r *Registry) Reset(key string) {
	if l, ok := r.lookup(key); ok {
		l.Reset()
	}
}

// Remove stops tracking key.
func (r *Registry) Remove(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if elem, ok := r.index[key]; ok {
		r.lru.Remove(elem)
		delete(r.index, key)
	}
}

// Len returns the number of tracked keys.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lru.Len()
}

func (r *Registry) lookup(key string) (*slidingrate.Limiter, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	elem, ok := r.index[key]
	if !ok {
		return nil, false
	}
	return elem.Value.(*entry).limiter, true
}

func (r *Registry) evictOldest() {
	tail := r.lru.Back()
	if tail == nil {
		return
	}

	e := tail.Value.(*entry)
	r.lru.Remove(tail)
	delete(r.index, e.key)
	r.evictions++

	r.evictLog.Do(func() {
		r.logger.Warn("evicting least recently used limiter",
			zap.String("key", e.key),
			zap.Int("max_keys", r.cfg.MaxKeys),
			zap.Uint64("evictions", r.evictions))
	})
}

// notify reports key at most once per rotation period.
func (r *Registry) notify(key string) {
	r.mu.Lock()
	now := r.clock.Now()
	if now.Sub(r.rotatedAt) >= r.cfg.Window {
		r.reported.Rotate()
		r.rotatedAt = now
	}
	seen := r.reported.TestAndAdd(key)
	r.mu.Unlock()

	if seen {
		return
	}

	r.logger.Warn("rate limit exceeded",
		zap.String("key", key),
		zap.Int("max_attempts", r.cfg.MaxAttempts),
		zap.Duration("window", r.cfg.Window))

	if r.onExceeded != nil {
		r.onExceeded(key)
	}
}
