package browser

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffExponential(t *testing.T) {
	eb := Backoff{Initial: 100 * time.Millisecond, Max: time.Second, Factor: 2}.Exponential()

	var got []time.Duration
	for i := 0; i < 6; i++ {
		got = append(got, eb.NextBackOff())
	}
	assert.Equal(t, []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		time.Second,
		time.Second,
	}, got, "doubles without jitter and caps at Max")

	flat := Backoff{Initial: 50 * time.Millisecond, Factor: 0.5}.Exponential()
	flat.NextBackOff()
	assert.Equal(t, 50*time.Millisecond, flat.NextBackOff(), "factors below one never shrink the delay")
	assert.NotEqual(t, backoff.Stop, flat.NextBackOff(), "elapsed time is bounded by the context only")
}

func TestPollUntil(t *testing.T) {
	fast := Backoff{Initial: time.Millisecond, Max: 2 * time.Millisecond, Factor: 2, Timeout: 200 * time.Millisecond}

	t.Run("succeeds once the condition holds", func(t *testing.T) {
		calls := 0
		err := PollUntil(context.Background(), fast, func(context.Context) (bool, error) {
			calls++
			return calls == 3, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("times out", func(t *testing.T) {
		b := fast
		b.Timeout = 20 * time.Millisecond
		err := PollUntil(context.Background(), b, func(context.Context) (bool, error) { return false, nil })
		assert.ErrorIs(t, err, ErrPollTimeout)
	})

	t.Run("propagates condition errors without retrying", func(t *testing.T) {
		boom := errors.New("boom")
		calls := 0
		err := PollUntil(context.Background(), fast, func(context.Context) (bool, error) {
			calls++
			return false, boom
		})
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 1, calls)
	})

	t.Run("honors cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		calls := 0
		err := PollUntil(ctx, Backoff{Initial: time.Second}, func(context.Context) (bool, error) {
			calls++
			return false, nil
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls, "the condition is evaluated at least once")
	})
}
