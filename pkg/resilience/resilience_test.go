package resilience

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	apperrors "github.com/Hikikomori041/m2-projetweb/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func TestCircuitBreakerTripsAndRecovers(t *testing.T) {
	var transitions []string
	cb := NewCircuitBreaker("redis", CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     time.Minute,
		OnStateChange: func(_ string, from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})
	now := time.Unix(1_700_000_000, 0)
	cb.now = func() time.Time { return now }

	assert.ErrorIs(t, cb.Execute(func() error { return errBoom }), errBoom)
	assert.Equal(t, StateClosed, cb.State())
	assert.ErrorIs(t, cb.Execute(func() error { return errBoom }), errBoom)
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)

	now = now.Add(time.Minute)
	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, []string{"closed->open", "open->half-open", "half-open->closed"}, transitions)
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker("kafka", CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Second})
	now := time.Unix(0, 0)
	cb.now = func() time.Time { return now }

	_ = cb.Execute(func() error { return errBoom })
	now = now.Add(time.Second)
	_ = cb.Execute(func() error { return errBoom })
	assert.Equal(t, StateOpen, cb.State())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())
}

func TestRetrySucceedsEventually(t *testing.T) {
	var calls int
	err := Retry(context.Background(), "apply", RetryConfig{MaxAttempts: 4, InitialDelay: time.Millisecond}, func() error {
		calls++
		if calls < 3 {
			return errBoom
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryGivesUp(t *testing.T) {
	var calls int
	err := Retry(context.Background(), "apply", RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond}, func() error {
		calls++
		return errBoom
	})
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, 2, calls)
}

func TestRetryStopsOnPermanent(t *testing.T) {
	var calls int
	err := Retry(context.Background(), "decode", RetryConfig{MaxAttempts: 5, InitialDelay: time.Millisecond}, func() error {
		calls++
		return Permanent(errBoom)
	})
	assert.Same(t, errBoom, err)
	assert.Equal(t, 1, calls)
}

func TestRetryHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	err := Retry(ctx, "apply", RetryConfig{MaxAttempts: 5, InitialDelay: time.Hour}, func() error {
		cancel()
		return errBoom
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestComputeDelayCapped(t *testing.T) {
	cfg := RetryConfig{InitialDelay: time.Second, MaxDelay: 3 * time.Second, Multiplier: 10}
	assert.Equal(t, time.Second, computeDelay(1, cfg))
	assert.Equal(t, 3*time.Second, computeDelay(4, cfg))
}

func TestWithTimeout(t *testing.T) {
	require.NoError(t, WithTimeout(context.Background(), time.Second, "fast", func(context.Context) error { return nil }))

	var finished atomic.Bool
	err := WithTimeout(context.Background(), 10*time.Millisecond, "slow", func(ctx context.Context) error {
		<-ctx.Done()
		finished.Store(true)
		return ctx.Err()
	})
	assert.ErrorIs(t, err, apperrors.ErrTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	assert.ErrorIs(t, WithTimeout(context.Background(), 0, "direct", func(context.Context) error { return errBoom }), errBoom)
}
