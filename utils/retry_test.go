package utils

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noSleep(policy *RetryPolicy) *[]time.Duration {
	var slept []time.Duration
	policy.Sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return &slept
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 10 * time.Second}
	noSleep(&policy)

	calls := 0
	err := policy.Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("451 4.7.1 greylisted, try again later")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryGivesUpAfterMaxAttempts(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 10 * time.Second}
	slept := noSleep(&policy)

	calls := 0
	err := policy.Do(context.Background(), func() error {
		calls++
		return errors.New("421 service unavailable")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Len(t, *slept, 2)
}

func TestRetryNeverRetriesAuthErrors(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: 10 * time.Second}
	noSleep(&policy)

	calls := 0
	err := policy.Do(context.Background(), func() error {
		calls++
		return errors.New("535 5.7.8 username and password not accepted")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, IsAuthError(err))
}

func TestRetryNeverRetriesPermanentErrors(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: 10 * time.Second}
	noSleep(&policy)

	calls := 0
	err := policy.Do(context.Background(), func() error {
		calls++
		return errors.New("550 5.1.1 user unknown")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDelayGrowsExponentiallyAndCaps(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 10, BaseDelay: time.Second, MaxDelay: 5 * time.Second}

	assert.Equal(t, 1*time.Second, policy.Delay(1))
	assert.Equal(t, 2*time.Second, policy.Delay(2))
	assert.Equal(t, 4*time.Second, policy.Delay(3))
	assert.Equal(t, 5*time.Second, policy.Delay(4))
	assert.Equal(t, 5*time.Second, policy.Delay(8))
}

func TestRetryHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := RetryPolicy{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: 10 * time.Second}
	policy.Sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	err := policy.Do(ctx, func() error {
		return errors.New("try again later")
	})
	assert.ErrorIs(t, err, context.Canceled)
}
