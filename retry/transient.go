package retry

import (
	"errors"
	"time"
)

// Retryable is implemented by errors that know whether another attempt may
// succeed and how long the remote side asked us to wait.
type Retryable interface {
	error
	Transient() bool
	RetryAfter() time.Duration
}

// TransientError marks an arbitrary error as transient.
type TransientError struct {
	Err   error
	After time.Duration
}

func (e *TransientError) Error() string { return e.Err.Error() }

func (e *TransientError) Unwrap() error { return e.Err }

// Transient always reports true.
func (e *TransientError) Transient() bool { return true }

// RetryAfter returns the wait hint, zero when unknown.
func (e *TransientError) RetryAfter() time.Duration { return e.After }

// WrapTransient marks err as transient with an optional wait hint.
func WrapTransient(err error, after time.Duration) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err, After: after}
}

// IsTransient reports whether any error in the chain declares itself transient.
func IsTransient(err error) bool {
	var r Retryable
	if errors.As(err, &r) {
		return r.Transient()
	}
	return false
}

// RetryAfter returns the wait hint carried by the first Retryable in the chain.
func RetryAfter(err error) (time.Duration, bool) {
	var r Retryable
	if errors.As(err, &r) && r.Transient() {
		return r.RetryAfter(), true
	}
	return 0, false
}
