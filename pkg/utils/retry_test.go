package utils

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoll_StopsWhenDone(t *testing.T) {
	calls := 0
	v, err := Poll(context.Background(), 5, time.Millisecond, func(context.Context) (int, bool, error) {
		calls++
		return calls, calls == 3, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, v)
	assert.Equal(t, 3, calls)
}

func TestPoll_Exhausted(t *testing.T) {
	calls := 0
	_, err := Poll(context.Background(), 4, time.Millisecond, func(context.Context) (string, bool, error) {
		calls++
		return "open", false, nil
	})
	assert.ErrorIs(t, err, ErrPollExhausted)
	assert.Equal(t, 4, calls)
}

func TestPoll_RespectsDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := Poll(ctx, 1000, 10*time.Millisecond, func(context.Context) (int, bool, error) {
		return 0, false, nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPoll_PropagatesError(t *testing.T) {
	boom := errors.New("boom")
	_, err := Poll(context.Background(), 3, time.Millisecond, func(context.Context) (int, bool, error) {
		return 0, false, boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestRetryWithResult(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 2}
	calls := 0
	v, err := RetryWithResult(context.Background(), cfg, func() (float64, error) {
		calls++
		if calls < 2 {
			return 0, errors.New("transient")
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42.0, v)
}

func TestCalculateBackoff(t *testing.T) {
	assert.Equal(t, 100*time.Millisecond, CalculateBackoff(0, 100*time.Millisecond, time.Second, 2))
	assert.Equal(t, 400*time.Millisecond, CalculateBackoff(2, 100*time.Millisecond, time.Second, 2))
	assert.Equal(t, time.Second, CalculateBackoff(10, 100*time.Millisecond, time.Second, 2))
}
