package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBusy = errors.New("busy")

// recordSleep collects the pauses instead of waiting.
func recordSleep(waits *[]time.Duration) Option {
	return WithSleep(func(_ context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return nil
	})
}

func TestDo_RetriesUntilSuccess(t *testing.T) {
	var waits []time.Duration
	calls := 0
	err := Do(context.Background(), func(ctx context.Context) error {
		calls++
		assert.Equal(t, calls, Attempt(ctx))
		if calls < 3 {
			return errBusy
		}
		return nil
	}, WithMaxAttempts(5), WithInitialDelay(10*time.Millisecond), WithJitter(0), recordSleep(&waits))

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, waits)
}

func TestDo_BackoffIsCapped(t *testing.T) {
	var waits []time.Duration
	err := Do(context.Background(), func(context.Context) error { return errBusy },
		WithMaxAttempts(5),
		WithInitialDelay(time.Second),
		WithMultiplier(3),
		WithMaxDelay(5*time.Second),
		WithJitter(0),
		recordSleep(&waits),
	)

	assert.Same(t, errBusy, err)
	assert.Equal(t, []time.Duration{time.Second, 3 * time.Second, 5 * time.Second, 5 * time.Second}, waits)
}

func TestDo_RetryIfRejects(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func(context.Context) error {
		calls++
		return errBusy
	}, WithRetryIf(func(error) bool { return false }))

	assert.ErrorIs(t, err, errBusy)
	assert.Equal(t, 1, calls)
}

func TestDo_CancellationIsNotRetriedByDefault(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func(context.Context) error {
		calls++
		return context.Canceled
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDo_CanceledDuringPauseReturnsLastError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, func(context.Context) error {
		calls++
		cancel()
		return errBusy
	}, WithMaxAttempts(5), WithInitialDelay(time.Hour))

	assert.Same(t, errBusy, err)
	assert.Equal(t, 1, calls)
}

func TestDo_OnRetry(t *testing.T) {
	var attempts []int
	_ = Do(context.Background(), func(context.Context) error { return errBusy },
		WithMaxAttempts(3),
		WithSleep(func(context.Context, time.Duration) error { return nil }),
		WithOnRetry(func(attempt int, err error, _ time.Duration) {
			assert.Same(t, errBusy, err)
			attempts = append(attempts, attempt)
		}),
	)
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestStoreRetrier_OnlyRetriesTransient(t *testing.T) {
	errTransient := errors.New("lock timeout")
	noWait := WithSleep(func(context.Context, time.Duration) error { return nil })
	r := StoreRetrier(func(err error) bool { return errors.Is(err, errTransient) }, noWait)

	calls := 0
	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errBusy
	})
	assert.ErrorIs(t, err, errBusy)
	assert.Equal(t, 1, calls)

	calls = 0
	err = r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return errTransient
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 3, r.Policy().MaxAttempts)
}

func TestRankIndexRetrier(t *testing.T) {
	p := RankIndexRetrier().Policy()
	assert.Equal(t, 4, p.MaxAttempts)
	assert.Equal(t, 1.5, p.Multiplier)
	assert.True(t, p.RetryIf(errBusy))
	assert.False(t, p.RetryIf(context.Canceled))
}

func TestDoWithData(t *testing.T) {
	calls := 0
	v, err := DoWithData(context.Background(), func(ctx context.Context) (int, error) {
		calls++
		if calls == 1 {
			return -1, errBusy
		}
		return 42, nil
	}, WithSleep(func(context.Context, time.Duration) error { return nil }))

	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 0, Attempt(context.Background()))
}
