package api

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tornflow/tornflow/pkg/errors"
)

func fastPolicy(attempts int) *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := fastPolicy(3).ExecuteWithCondition(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New(errors.ErrorTypeConnection, "transient")
		}
		return nil
	}, errors.IsRetryable)

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryNonRetryableReturnsImmediately(t *testing.T) {
	calls := 0
	err := fastPolicy(5).ExecuteWithCondition(context.Background(), func() error {
		calls++
		return errors.New(errors.ErrorTypeCredential, "bad key")
	}, errors.IsRetryable)

	require.Error(t, err)
	assert.Equal(t, 1, calls, "credential errors must not be retried")
	assert.True(t, errors.IsType(err, errors.ErrorTypeCredential))
}

func TestRetryExhaustionWrapsLastError(t *testing.T) {
	calls := 0
	err := fastPolicy(3).ExecuteWithCondition(context.Background(), func() error {
		calls++
		return errors.New(errors.ErrorTypeRateLimit, "429")
	}, errors.IsRetryable)

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Contains(t, err.Error(), "all 3 attempts failed")
	assert.True(t, errors.IsType(err, errors.ErrorTypeRateLimit), "wrapped cause keeps its type")
}

func TestRetryCancelledBetweenAttempts(t *testing.T) {
	policy := &RetryPolicy{MaxAttempts: 5, InitialDelay: time.Hour, Multiplier: 2.0, MaxDelay: time.Hour}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := policy.Execute(ctx, func() error {
		return errors.New(errors.ErrorTypeConnection, "down")
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCalculateDelayBackoffAndCap(t *testing.T) {
	policy := &RetryPolicy{
		MaxAttempts:  10,
		InitialDelay: time.Second,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
	}

	assert.Equal(t, time.Second, policy.GetDelay(0))
	assert.Equal(t, 2*time.Second, policy.GetDelay(1))
	assert.Equal(t, 4*time.Second, policy.GetDelay(2))
	assert.Equal(t, 5*time.Second, policy.GetDelay(3), "delay caps at MaxDelay")
	assert.Equal(t, 5*time.Second, policy.GetDelay(8))
}

func TestCalculateDelayJitterBounds(t *testing.T) {
	policy := DefaultRetryPolicy()
	base := float64(policy.InitialDelay)

	for i := 0; i < 50; i++ {
		d := float64(policy.GetDelay(0))
		assert.GreaterOrEqual(t, d, base*(1-policy.RandomizeFactor))
		assert.LessOrEqual(t, d, base*(1+policy.RandomizeFactor))
	}
}
