/*
Package retry retries one provider call at a time.

A call moves from Calling to Success, TransientRetry or FatalFailure. Only
errors that declare themselves transient (see Retryable) are retried; the wait
between attempts is the provider's hint when present, otherwise the policy
default, and it is interrupted by context cancellation. The attempt budget is
per provider per request and never exceeded.
*/
package retry
