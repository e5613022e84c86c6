package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Policy bounds how a single provider is retried within one request.
type Policy struct {
	MaxAttempts    int           // total calls allowed, first call included (default 3)
	DefaultDelay   time.Duration // wait used when the provider gives no hint
	MaxDelay       time.Duration // upper bound on any single wait
	AttemptTimeout time.Duration // per-call timeout, 0 disables it
	OnRetry        func(provider string, state State, err error)
}

// DefaultPolicy returns the policy used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    3,
		DefaultDelay:   5 * time.Second,
		MaxDelay:       60 * time.Second,
		AttemptTimeout: 60 * time.Second,
	}
}

// State is the per-provider retry bookkeeping. It lives for one Do call.
type State struct {
	Attempt     int
	MaxAttempts int
	NextDelay   time.Duration
}

// ErrAttemptsExhausted is wrapped into the error returned when every allowed
// attempt failed transiently.
var ErrAttemptsExhausted = errors.New("retry attempts exhausted")

// Controller runs a call under a Policy: transient failures are retried after
// the provider's wait hint, anything else fails on first occurrence.
type Controller struct {
	policy Policy
	logger *zap.Logger
}

// NewController normalizes the policy and creates a controller.
func NewController(policy Policy, logger *zap.Logger) *Controller {
	def := DefaultPolicy()
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = def.MaxAttempts
	}
	if policy.DefaultDelay < 0 {
		policy.DefaultDelay = def.DefaultDelay
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = def.MaxDelay
	}
	if policy.MaxDelay < policy.DefaultDelay {
		policy.MaxDelay = policy.DefaultDelay
	}
	if policy.AttemptTimeout < 0 {
		policy.AttemptTimeout = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		policy: policy,
		logger: logger.With(zap.String("component", "retry")),
	}
}

// Policy returns the effective policy.
func (c *Controller) Policy() Policy {
	return c.policy
}

// Do calls fn until it succeeds, fails permanently, the attempt budget runs
// out or ctx is done. It reports how many calls were made.
func (c *Controller) Do(ctx context.Context, provider string, fn func(ctx context.Context) error) (int, error) {
	state := State{MaxAttempts: c.policy.MaxAttempts}
	var lastErr error

	for state.Attempt < state.MaxAttempts {
		if err := ctx.Err(); err != nil {
			return state.Attempt, interrupted(err, lastErr)
		}

		state.Attempt++
		lastErr = c.call(ctx, fn)
		if lastErr == nil {
			if state.Attempt > 1 {
				c.logger.Info("provider recovered after retry",
					zap.String("provider", provider),
					zap.Int("attempt", state.Attempt),
				)
			}
			return state.Attempt, nil
		}

		// The caller went away; nothing left to decide.
		if err := ctx.Err(); err != nil {
			return state.Attempt, interrupted(err, lastErr)
		}

		if !IsTransient(lastErr) {
			c.logger.Debug("permanent failure, not retrying",
				zap.String("provider", provider),
				zap.Int("attempt", state.Attempt),
				zap.Error(lastErr),
			)
			return state.Attempt, lastErr
		}

		if state.Attempt >= state.MaxAttempts {
			break
		}

		state.NextDelay = c.delayFor(lastErr)
		c.logger.Debug("transient failure, retrying",
			zap.String("provider", provider),
			zap.Int("attempt", state.Attempt),
			zap.Int("max_attempts", state.MaxAttempts),
			zap.Duration("delay", state.NextDelay),
			zap.Error(lastErr),
		)
		if c.policy.OnRetry != nil {
			c.policy.OnRetry(provider, state, lastErr)
		}

		if err := sleep(ctx, state.NextDelay); err != nil {
			return state.Attempt, interrupted(err, lastErr)
		}
	}

	c.logger.Warn("retry attempts exhausted",
		zap.String("provider", provider),
		zap.Int("attempts", state.Attempt),
		zap.Error(lastErr),
	)
	return state.Attempt, fmt.Errorf("%w after %d attempts: %w", ErrAttemptsExhausted, state.Attempt, lastErr)
}

// call runs one attempt under the per-call timeout. A per-call deadline that
// fires while the caller is still waiting counts as a transient failure.
func (c *Controller) call(ctx context.Context, fn func(ctx context.Context) error) error {
	if c.policy.AttemptTimeout <= 0 {
		return fn(ctx)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, c.policy.AttemptTimeout)
	defer cancel()

	err := fn(attemptCtx)
	if err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && !IsTransient(err) {
		return WrapTransient(fmt.Errorf("attempt timed out after %s: %w", c.policy.AttemptTimeout, err), 0)
	}
	return err
}

// delayFor picks the provider hint when there is one, else the default, capped.
func (c *Controller) delayFor(err error) time.Duration {
	delay := c.policy.DefaultDelay
	if hint, ok := RetryAfter(err); ok && hint > 0 {
		delay = hint
	}
	if delay > c.policy.MaxDelay {
		delay = c.policy.MaxDelay
	}
	return delay
}

// sleep waits for d or until ctx is done, whichever comes first.
// interrupted keeps the last provider failure behind the context error so the
// caller can still read its kind and wait hint.
func interrupted(ctxErr, lastErr error) error {
	switch {
	case lastErr == nil:
		return ctxErr
	case errors.Is(lastErr, ctxErr):
		return lastErr
	default:
		return fmt.Errorf("%w: %w", ctxErr, lastErr)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
