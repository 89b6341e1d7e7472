package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 3
	cfg.SuccessThreshold = 2
	cfg.MaxRequests = 5
	cfg.Timeout = 50 * time.Millisecond
	cfg.Interval = time.Second
	return cfg
}

func TestBreakerTripsAfterConsecutiveFailures(t *testing.T) {
	cb := NewCircuitBreaker("test", testConfig(), zaptest.NewLogger(t))
	ctx := context.Background()

	require.Equal(t, StateClosed, cb.State())

	for i := 0; i < 3; i++ {
		require.NoError(t, cb.Execute(ctx, func() error { return nil }))
	}
	assert.Equal(t, StateClosed, cb.State(), "successes must not trip the breaker")

	boom := errors.New("backend down")
	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, cb.Execute(ctx, func() error { return boom }), boom)
	}
	assert.Equal(t, StateOpen, cb.State())

	// Open breakers fail fast without invoking the call.
	called := false
	err := cb.Execute(ctx, func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitBreakerOpen)
	assert.False(t, called)
}

func TestBreakerRecoversThroughHalfOpen(t *testing.T) {
	cb := NewCircuitBreaker("test", testConfig(), zaptest.NewLogger(t))
	ctx := context.Background()

	boom := errors.New("backend down")
	for i := 0; i < 3; i++ {
		cb.Execute(ctx, func() error { return boom })
	}
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(80 * time.Millisecond)

	// First probe after the timeout is admitted and moves the breaker
	// to half-open; two good probes close it.
	require.NoError(t, cb.Execute(ctx, func() error { return nil }))
	assert.Equal(t, StateHalfOpen, cb.State())
	require.NoError(t, cb.Execute(ctx, func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreakerReopensOnFailedProbe(t *testing.T) {
	cb := NewCircuitBreaker("test", testConfig(), zaptest.NewLogger(t))
	ctx := context.Background()

	boom := errors.New("backend down")
	for i := 0; i < 3; i++ {
		cb.Execute(ctx, func() error { return boom })
	}
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(80 * time.Millisecond)

	assert.ErrorIs(t, cb.Execute(ctx, func() error { return boom }), boom)
	assert.Equal(t, StateOpen, cb.State())
}

func TestBreakerHalfOpenProbeQuota(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRequests = 2
	cfg.SuccessThreshold = 5 // keep it half-open across the probes
	cb := NewCircuitBreaker("test", cfg, zaptest.NewLogger(t))
	ctx := context.Background()

	cb.mutex.Lock()
	cb.state = StateHalfOpen
	cb.cycle++
	cb.counts = Counts{}
	cb.mutex.Unlock()

	for i := 0; i < 2; i++ {
		require.NoError(t, cb.Execute(ctx, func() error { return nil }))
	}
	assert.ErrorIs(t, cb.Execute(ctx, func() error { return nil }), ErrTooManyRequests)
}

func TestBreakerCountsTally(t *testing.T) {
	cb := NewCircuitBreaker("test", DefaultConfig(), zaptest.NewLogger(t))
	ctx := context.Background()

	cb.Execute(ctx, func() error { return nil })
	cb.Execute(ctx, func() error { return errors.New("nope") })
	cb.Execute(ctx, func() error { return nil })

	counts := cb.Counts()
	assert.Equal(t, uint32(3), counts.Requests)
	assert.Equal(t, uint32(2), counts.TotalSuccesses)
	assert.Equal(t, uint32(1), counts.TotalFailures)
}

func TestBreakerStateChangeHook(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 2

	type change struct{ from, to State }
	var changes []change
	cfg.OnStateChange = func(name string, from, to State) {
		changes = append(changes, change{from, to})
	}

	cb := NewCircuitBreaker("test", cfg, zaptest.NewLogger(t))
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		cb.Execute(ctx, func() error { return errors.New("nope") })
	}

	require.Len(t, changes, 1)
	assert.Equal(t, StateClosed, changes[0].from)
	assert.Equal(t, StateOpen, changes[0].to)
}

func TestBreakerPanicCountsAsFailure(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 1
	cb := NewCircuitBreaker("test", cfg, zaptest.NewLogger(t))

	require.Panics(t, func() {
		cb.Execute(context.Background(), func() error { panic("boom") })
	})
	assert.Equal(t, StateOpen, cb.State())
}
