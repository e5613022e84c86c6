package retry

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"
)

func testPolicy() Policy {
	return Policy{
		MaxAttempts:  3,
		DefaultDelay: time.Millisecond,
		MaxDelay:     10 * time.Millisecond,
	}
}

func TestController_FirstCallSucceeds(t *testing.T) {
	c := NewController(testPolicy(), zap.NewNop())

	calls := 0
	attempts, err := c.Do(context.Background(), "a", func(ctx context.Context) error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, calls)
}

func TestController_TransientThenSuccess(t *testing.T) {
	c := NewController(testPolicy(), zap.NewNop())

	calls := 0
	attempts, err := c.Do(context.Background(), "a", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return WrapTransient(errors.New("model loading"), time.Millisecond)
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 3, calls)
}

func TestController_PermanentFailureNotRetried(t *testing.T) {
	c := NewController(testPolicy(), zap.NewNop())

	permanent := errors.New("not found")
	calls := 0
	attempts, err := c.Do(context.Background(), "a", func(ctx context.Context) error {
		calls++
		return permanent
	})

	require.ErrorIs(t, err, permanent)
	assert.NotErrorIs(t, err, ErrAttemptsExhausted)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, calls)
}

func TestController_ExhaustsBudget(t *testing.T) {
	c := NewController(testPolicy(), zap.NewNop())

	transient := WrapTransient(errors.New("busy"), 0)
	calls := 0
	attempts, err := c.Do(context.Background(), "a", func(ctx context.Context) error {
		calls++
		return transient
	})

	require.ErrorIs(t, err, ErrAttemptsExhausted)
	assert.True(t, IsTransient(err))
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 3, calls)
}

func TestController_OnRetryReportsState(t *testing.T) {
	var states []State
	policy := testPolicy()
	policy.OnRetry = func(provider string, state State, err error) {
		assert.Equal(t, "hf", provider)
		states = append(states, state)
	}
	c := NewController(policy, zap.NewNop())

	_, err := c.Do(context.Background(), "hf", func(ctx context.Context) error {
		return WrapTransient(errors.New("busy"), 2*time.Millisecond)
	})

	require.Error(t, err)
	require.Len(t, states, 2)
	assert.Equal(t, 1, states[0].Attempt)
	assert.Equal(t, 2, states[1].Attempt)
	assert.Equal(t, 2*time.Millisecond, states[0].NextDelay)
}

func TestController_HintCappedByMaxDelay(t *testing.T) {
	c := NewController(Policy{MaxAttempts: 2, DefaultDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}, zap.NewNop())

	delay := c.delayFor(WrapTransient(errors.New("busy"), time.Hour))
	assert.Equal(t, 5*time.Millisecond, delay)

	delay = c.delayFor(WrapTransient(errors.New("busy"), 0))
	assert.Equal(t, time.Millisecond, delay)
}

func TestController_CancelDuringWait(t *testing.T) {
	c := NewController(Policy{MaxAttempts: 3, DefaultDelay: time.Minute, MaxDelay: time.Minute}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	attempts, err := c.Do(ctx, "a", func(ctx context.Context) error {
		calls++
		return WrapTransient(errors.New("busy"), 0)
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, calls)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestController_DeadlineDuringWaitKeepsLastError(t *testing.T) {
	c := NewController(Policy{MaxAttempts: 3, DefaultDelay: time.Minute, MaxDelay: time.Minute}, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	busy := errors.New("model loading")
	attempts, err := c.Do(ctx, "hf", func(ctx context.Context) error {
		return WrapTransient(busy, 2*time.Second)
	})

	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.ErrorIs(t, err, busy)
	assert.Equal(t, 1, attempts)
	assert.True(t, IsTransient(err))

	hint, ok := RetryAfter(err)
	assert.True(t, ok)
	assert.Equal(t, 2*time.Second, hint)
}

func TestController_CanceledBeforeFirstCall(t *testing.T) {
	c := NewController(testPolicy(), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts, err := c.Do(ctx, "a", func(ctx context.Context) error {
		t.Fatal("should not be called")
		return nil
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, attempts)
}

func TestController_AttemptTimeoutIsTransient(t *testing.T) {
	policy := testPolicy()
	policy.MaxAttempts = 2
	policy.AttemptTimeout = 10 * time.Millisecond
	c := NewController(policy, zap.NewNop())

	calls := 0
	attempts, err := c.Do(context.Background(), "slow", func(ctx context.Context) error {
		calls++
		if calls == 1 {
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestDoTyped(t *testing.T) {
	c := NewController(testPolicy(), zap.NewNop())

	calls := 0
	v, attempts, err := DoTyped(c, context.Background(), "a", func(ctx context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", WrapTransient(errors.New("busy"), 0)
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 2, attempts)

	v, _, err = DoTyped(c, context.Background(), "a", func(ctx context.Context) (string, error) {
		return "partial", errors.New("bad")
	})
	require.Error(t, err)
	assert.Empty(t, v)
}

func TestIsTransient(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(errors.New("plain")))
	assert.True(t, IsTransient(WrapTransient(errors.New("x"), 0)))

	hint, ok := RetryAfter(WrapTransient(errors.New("x"), 3*time.Second))
	assert.True(t, ok)
	assert.Equal(t, 3*time.Second, hint)

	assert.Nil(t, WrapTransient(nil, time.Second))
}

// The number of calls never exceeds MaxAttempts whatever the failure pattern.
func TestProperty_AttemptBudgetNeverExceeded(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		maxAttempts := rapid.IntRange(1, 6).Draw(rt, "maxAttempts")
		pattern := rapid.SliceOfN(rapid.SampledFrom([]string{"ok", "transient", "fatal"}), 1, 10).Draw(rt, "pattern")

		c := NewController(Policy{MaxAttempts: maxAttempts, DefaultDelay: 0, MaxDelay: time.Millisecond}, zap.NewNop())

		var calls int32
		attempts, err := c.Do(context.Background(), "p", func(ctx context.Context) error {
			i := int(atomic.AddInt32(&calls, 1)) - 1
			switch pattern[i%len(pattern)] {
			case "ok":
				return nil
			case "transient":
				return WrapTransient(errors.New("busy"), 0)
			default:
				return errors.New("fatal")
			}
		})

		if int(calls) > maxAttempts {
			rt.Fatalf("made %d calls with budget %d", calls, maxAttempts)
		}
		if attempts != int(calls) {
			rt.Fatalf("reported %d attempts, made %d calls", attempts, calls)
		}
		if err == nil && pattern[(attempts-1)%len(pattern)] != "ok" {
			rt.Fatalf("success reported on a failing call")
		}
	})
}
