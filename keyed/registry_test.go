package keyed

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/cnlangzi/slidingrate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestRegistry(t *testing.T, cfg Config, opts ...Option) (*Registry, *slidingrate.ManualClock) {
	t.Helper()

	clock := slidingrate.NewManualClock(epoch)
	r, err := New(cfg, append([]Option{WithClock(clock)}, opts...)...)
	require.NoError(t, err)
	return r, clock
}

func TestNew(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		r, err := New(Config{MaxAttempts: 3, Window: time.Minute})
		require.NoError(t, err)
		assert.Equal(t, DefaultMaxKeys, r.Config().MaxKeys)
		assert.NotNil(t, r.logger)
		assert.IsType(t, slidingrate.SystemClock{}, r.clock)
	})

	t.Run("InvalidWindow", func(t *testing.T) {
		r, err := New(Config{MaxAttempts: 3})
		assert.ErrorIs(t, err, slidingrate.ErrInvalidWindow)
		assert.Nil(t, r)
	})
}

func TestRegistry_KeysAreIndependent(t *testing.T) {
	r, _ := newTestRegistry(t, Config{MaxAttempts: 2, Window: time.Minute})

	assert.True(t, r.Acquire("checkout:alice"))
	assert.True(t, r.Acquire("checkout:alice"))
	assert.False(t, r.Acquire("checkout:alice"))

	assert.True(t, r.Acquire("checkout:bob"))
	assert.Equal(t, 0, r.Remaining("checkout:alice"))
	assert.Equal(t, 1, r.Remaining("checkout:bob"))
	assert.Equal(t, 2, r.Len())
}

func TestRegistry_Get_ReturnsSameLimiter(t *testing.T) {
	r, _ := newTestRegistry(t, Config{MaxAttempts: 2, Window: time.Minute})

	l := r.Get("contact")
	assert.Same(t, l, r.Get("contact"))
	assert.Equal(t, slidingrate.Config{MaxAttempts: 2, Window: time.Minute}, l.Config())
}

func TestRegistry_UnknownKeyQueries(t *testing.T) {
	r, _ := newTestRegistry(t, Config{MaxAttempts: 4, Window: time.Minute})

	assert.True(t, r.Allow("nobody"))
	assert.Equal(t, 4, r.Remaining("nobody"))
	assert.Zero(t, r.TimeUntilReset("nobody"))
	r.Reset("nobody")
	assert.Zero(t, r.Len(), "queries must not start tracking a key")
}

func TestRegistry_Do(t *testing.T) {
	r, clock := newTestRegistry(t, Config{MaxAttempts: 1, Window: time.Second})

	boom := errors.New("insert failed")
	ok, err := r.Do("order:1", func() error { return boom })
	assert.True(t, ok)
	assert.Same(t, boom, err)

	ran := false
	ok, err = r.Do("order:1", func() error {
		ran = true
		return nil
	})
	assert.False(t, ok)
	assert.NoError(t, err)
	assert.False(t, ran)
	assert.Equal(t, time.Second, r.TimeUntilReset("order:1"))

	clock.Advance(time.Second)
	assert.True(t, r.Allow("order:1"))
}

func TestRegistry_Execute(t *testing.T) {
	r, _ := newTestRegistry(t, Config{MaxAttempts: 1, Window: time.Minute})

	id, ok, err := Execute(r, "checkout", func() (string, error) { return "ord-1", nil })
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "ord-1", id)

	id, ok, err = Execute(r, "checkout", func() (string, error) { return "ord-2", nil })
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, id)
}

func TestRegistry_ResetAndRemove(t *testing.T) {
	r, _ := newTestRegistry(t, Config{MaxAttempts: 1, Window: time.Minute})

	r.Acquire("a")
	r.Acquire("b")

	r.Reset("a")
	assert.True(t, r.Allow("a"))
	assert.Equal(t, 2, r.Len())

	r.Remove("b")
	assert.Equal(t, 1, r.Len())
	assert.True(t, r.Allow("b"))

	r.Remove("missing")
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_LRUEviction(t *testing.T) {
	r, _ := newTestRegistry(t, Config{MaxAttempts: 1, Window: time.Minute, MaxKeys: 3})

	r.Acquire("A")
	r.Acquire("B")
	r.Acquire("C")

	// touch A so B becomes the oldest
	r.Get("A")

	r.Acquire("D")

	assert.Equal(t, 3, r.Len())
	assert.False(t, r.Allow("A"), "A was recently used and must keep its log")
	assert.True(t, r.Allow("B"), "B was evicted and starts with a full quota")
	assert.False(t, r.Allow("C"))
	assert.False(t, r.Allow("D"))
	assert.Equal(t, uint64(1), r.evictions)
}

func TestRegistry_EvictionLogThrottled(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	r, _ := newTestRegistry(t,
		Config{MaxAttempts: 1, Window: time.Minute, MaxKeys: 1},
		WithLogger(zap.New(core)),
	)

	for i := 0; i < 50; i++ {
		r.Acquire(fmt.Sprintf("key-%d", i))
	}

	assert.Equal(t, 1, r.Len())
	assert.Equal(t, uint64(49), r.evictions)
	assert.Equal(t, 1, logs.FilterMessage("evicting least recently used limiter").Len())
}

func TestRegistry_OnExceeded_OncePerWindow(t *testing.T) {
	var reported []string
	core, logs := observer.New(zapcore.WarnLevel)
	r, clock := newTestRegistry(t,
		Config{MaxAttempts: 1, Window: time.Second},
		WithLogger(zap.New(core)),
		WithOnExceeded(func(key string) { reported = append(reported, key) }),
	)

	r.Acquire("alice")
	for i := 0; i < 5; i++ {
		assert.False(t, r.Acquire("alice"))
	}
	r.Acquire("bob")
	r.Acquire("bob")

	assert.Equal(t, []string{"alice", "bob"}, reported)
	assert.Equal(t, 2, logs.FilterMessage("rate limit exceeded").Len())

	clock.Advance(time.Second)
	r.Acquire("alice")
	r.Acquire("alice")

	assert.Equal(t, []string{"alice", "bob", "alice"}, reported)
}

func TestRegistry_OnExceeded_RotationPeriod(t *testing.T) {
	var reported []string
	r, clock := newTestRegistry(t,
		Config{MaxAttempts: 1, Window: time.Second},
		WithOnExceeded(func(key string) { reported = append(reported, key) }),
	)

	clock.Advance(500 * time.Millisecond)
	require.True(t, r.Acquire("k"))

	clock.Advance(400 * time.Millisecond)
	assert.False(t, r.Acquire("k"))
	assert.Len(t, reported, 1)

	// The shared period rolls over at 1s while k's attempt from 0.5s still
	// blocks it, so k is reported again inside its own window.
	clock.Advance(200 * time.Millisecond)
	assert.False(t, r.Acquire("k"))
	assert.Equal(t, []string{"k", "k"}, reported)

	clock.Advance(100 * time.Millisecond)
	assert.False(t, r.Acquire("k"))
	assert.Len(t, reported, 2)
}

func TestRegistry_NonPositiveMaxAttempts(t *testing.T) {
	r, _ := newTestRegistry(t, Config{MaxAttempts: 0, Window: time.Second})

	assert.False(t, r.Allow("x"))
	assert.Equal(t, 0, r.Remaining("x"))
	assert.False(t, r.Acquire("x"))
}

func BenchmarkRegistry_Acquire(b *testing.B) {
	r, err := New(Config{MaxAttempts: 100, Window: time.Millisecond})
	if err != nil {
		b.Fatalf("New() returned error: %v", err)
	}

	keys := make([]string, 256)
	for i := range keys {
		keys[i] = fmt.Sprintf("10.0.0.%d", i)
	}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		r.Acquire(keys[i%len(keys)])
	}
}
