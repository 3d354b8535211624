package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	defaultRetriesConstant            = 3
	defaultInitialDelayConstant       = time.Second
	defaultMaximumDelayConstant       = 30 * time.Second
	defaultBackoffFactorConstant      = 2.0
	minimumBackoffFactorConstant      = 1.0
	exhaustedErrorTemplateConstant    = "gave up after %d attempts: %v"
	operationNotConfiguredMessageText = "retry operation not configured"
)

// ErrOperationNotConfigured indicates Do was called without an operation.
var ErrOperationNotConfigured = errors.New(operationNotConfiguredMessageText)

// Policy configures the retry loop. Retries counts additional attempts after the first.
// Timer drives the waits between attempts; nil uses a system timer per call.
type Policy struct {
	Retries       int
	InitialDelay  time.Duration
	MaximumDelay  time.Duration
	BackoffFactor float64
	Timer         backoff.Timer
}

// DefaultPolicy returns three retries starting at one second and doubling up to thirty seconds.
func DefaultPolicy() Policy {
	return Policy{
		Retries:       defaultRetriesConstant,
		InitialDelay:  defaultInitialDelayConstant,
		MaximumDelay:  defaultMaximumDelayConstant,
		BackoffFactor: defaultBackoffFactorConstant,
	}
}

// WithRetries returns a copy of the policy using the supplied retry count.
func (policy Policy) WithRetries(retries int) Policy {
	policy.Retries = retries
	return policy
}

// backOff builds a fresh deterministic schedule for one Do call.
func (policy Policy) backOff(executionContext context.Context) backoff.BackOff {
	retries := policy.Retries
	if retries < 0 {
		retries = 0
	}

	var schedule backoff.BackOff = &backoff.ZeroBackOff{}
	if policy.InitialDelay > 0 {
		exponential := backoff.NewExponentialBackOff()
		exponential.InitialInterval = policy.InitialDelay
		exponential.RandomizationFactor = 0
		exponential.Multiplier = math.Max(policy.BackoffFactor, minimumBackoffFactorConstant)
		exponential.MaxInterval = policy.MaximumDelay
		if policy.MaximumDelay <= 0 {
			exponential.MaxInterval = time.Duration(math.MaxInt64)
		}
		exponential.MaxElapsedTime = 0
		exponential.Reset()
		schedule = exponential
	}
	return backoff.WithContext(backoff.WithMaxRetries(schedule, uint64(retries)), executionContext)
}

// ExhaustedError reports an operation that failed on every allowed attempt.
type ExhaustedError struct {
	Attempts int
	Cause    error
}

// Error describes the final failure.
func (exhausted ExhaustedError) Error() string {
	return fmt.Sprintf(exhaustedErrorTemplateConstant, exhausted.Attempts, exhausted.Cause)
}

// Unwrap exposes the last attempt's error.
func (exhausted ExhaustedError) Unwrap() error {
	return exhausted.Cause
}

// Permanent marks an error as not worth retrying. Do returns the wrapped cause immediately.
func Permanent(cause error) error {
	return backoff.Permanent(cause)
}

// IsPermanent reports whether the error was marked with Permanent.
func IsPermanent(candidate error) bool {
	var permanent *backoff.PermanentError
	return errors.As(candidate, &permanent)
}

// Do calls operation until it succeeds, returns a permanent error, or exhausts the policy.
// The attempt number passed to operation starts at 1. A cancelled context ends the loop
// with an ExhaustedError carrying the last failure.
func Do(executionContext context.Context, policy Policy, operation func(attempt int) error) error {
	if operation == nil {
		return ErrOperationNotConfigured
	}

	attemptCount := 0
	permanentFailure := false
	var lastError error
	retryError := backoff.RetryNotifyWithTimer(func() error {
		attemptCount++
		lastError = operation(attemptCount)
		permanentFailure = IsPermanent(lastError)
		return lastError
	}, policy.backOff(executionContext), nil, policy.Timer)

	switch {
	case retryError == nil:
		return nil
	case permanentFailure:
		return retryError
	default:
		return ExhaustedError{Attempts: attemptCount, Cause: lastError}
	}
}
