package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/temirov/cfgsync/internal/retry"
)

// recordingTimer fires immediately and remembers every requested wait.
type recordingTimer struct {
	recordedDelays []time.Duration
	fired          chan time.Time
}

func newRecordingTimer() *recordingTimer {
	return &recordingTimer{fired: make(chan time.Time, 1)}
}

func (timer *recordingTimer) Start(duration time.Duration) {
	timer.recordedDelays = append(timer.recordedDelays, duration)
	timer.fired <- time.Time{}
}

func (timer *recordingTimer) Stop() {}

func (timer *recordingTimer) C() <-chan time.Time {
	return timer.fired
}

func TestDoRetriesUntilSuccess(testInstance *testing.T) {
	timer := newRecordingTimer()
	policy := retry.Policy{Retries: 3, InitialDelay: time.Second, MaximumDelay: 3 * time.Second, BackoffFactor: 2, Timer: timer}

	var observedAttempts []int
	operationError := retry.Do(context.Background(), policy, func(attempt int) error {
		observedAttempts = append(observedAttempts, attempt)
		if attempt < 4 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(testInstance, operationError)
	require.Equal(testInstance, []int{1, 2, 3, 4}, observedAttempts)
	require.Equal(testInstance, []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}, timer.recordedDelays)
}

func TestDoReportsExhaustion(testInstance *testing.T) {
	timer := newRecordingTimer()
	transientError := errors.New("connection reset")
	policy := retry.Policy{Retries: 2, Timer: timer}

	attemptCount := 0
	operationError := retry.Do(context.Background(), policy, func(int) error {
		attemptCount++
		return transientError
	})

	require.Error(testInstance, operationError)
	require.ErrorIs(testInstance, operationError, transientError)
	var exhausted retry.ExhaustedError
	require.ErrorAs(testInstance, operationError, &exhausted)
	require.Equal(testInstance, 3, exhausted.Attempts)
	require.Equal(testInstance, 3, attemptCount)
	require.Equal(testInstance, []time.Duration{0, 0}, timer.recordedDelays)
}

func TestDoStopsOnPermanentError(testInstance *testing.T) {
	timer := newRecordingTimer()
	rejectionError := errors.New("rejected")
	policy := retry.Policy{Retries: 5, Timer: timer}

	attemptCount := 0
	operationError := retry.Do(context.Background(), policy, func(int) error {
		attemptCount++
		return retry.Permanent(rejectionError)
	})

	require.Equal(testInstance, rejectionError, operationError)
	require.Equal(testInstance, 1, attemptCount)
	require.Empty(testInstance, timer.recordedDelays)
	require.False(testInstance, retry.IsPermanent(operationError))
	require.True(testInstance, retry.IsPermanent(retry.Permanent(rejectionError)))
	require.NoError(testInstance, retry.Permanent(nil))
}

func TestDoAttemptCounts(testInstance *testing.T) {
	testCases := []struct {
		name             string
		retries          int
		expectedAttempts int
	}{
		{name: "negative_retries_run_once", retries: -1, expectedAttempts: 1},
		{name: "zero_retries_run_once", retries: 0, expectedAttempts: 1},
		{name: "two_retries_run_three_times", retries: 2, expectedAttempts: 3},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(testInstance *testing.T) {
			attemptCount := 0
			operationError := retry.Do(context.Background(), retry.Policy{Retries: testCase.retries, Timer: newRecordingTimer()}, func(int) error {
				attemptCount++
				return errors.New("failure")
			})
			var exhausted retry.ExhaustedError
			require.ErrorAs(testInstance, operationError, &exhausted)
			require.Equal(testInstance, testCase.expectedAttempts, exhausted.Attempts)
			require.Equal(testInstance, testCase.expectedAttempts, attemptCount)
		})
	}
}

func TestDoRequiresOperation(testInstance *testing.T) {
	require.ErrorIs(testInstance, retry.Do(context.Background(), retry.DefaultPolicy(), nil), retry.ErrOperationNotConfigured)
}

func TestDoStopsWhenContextIsCancelled(testInstance *testing.T) {
	cancelledContext, cancel := context.WithCancel(context.Background())
	transientError := errors.New("timeout")

	attemptCount := 0
	operationError := retry.Do(cancelledContext, retry.Policy{Retries: 5, InitialDelay: time.Hour}, func(int) error {
		attemptCount++
		cancel()
		return transientError
	})

	require.Equal(testInstance, 1, attemptCount)
	require.ErrorIs(testInstance, operationError, transientError)
	var exhausted retry.ExhaustedError
	require.ErrorAs(testInstance, operationError, &exhausted)
	require.Equal(testInstance, 1, exhausted.Attempts)
}
