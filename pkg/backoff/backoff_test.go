package backoff

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextGrowsToMax(t *testing.T) {
	b := Backoff{Min: 100 * time.Millisecond, Max: time.Second, Factor: 2}
	assert.Equal(t, 100*time.Millisecond, b.Next(0))
	assert.Equal(t, 100*time.Millisecond, b.Next(1))
	assert.Equal(t, 200*time.Millisecond, b.Next(2))
	assert.Equal(t, 800*time.Millisecond, b.Next(4))
	assert.Equal(t, time.Second, b.Next(5))
	assert.Equal(t, time.Second, b.Next(50))
}

func TestNextJitterStaysInRange(t *testing.T) {
	b := Backoff{Min: time.Second, Max: time.Second, Factor: 2, Jitter: 0.2}
	for range 100 {
		d := b.Next(1)
		assert.GreaterOrEqual(t, d, 800*time.Millisecond)
		assert.LessOrEqual(t, d, 1200*time.Millisecond)
	}
}

func TestRetry(t *testing.T) {
	fast := Backoff{Min: time.Millisecond, Max: 2 * time.Millisecond}
	errFlaky := errors.New("flaky")

	t.Run("succeeds after failures", func(t *testing.T) {
		calls := 0
		err := fast.Retry(context.Background(), nil, 5, func(int) error {
			calls++
			if calls < 3 {
				return errFlaky
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("returns last error when attempts run out", func(t *testing.T) {
		var seen []int
		err := fast.Retry(context.Background(), nil, 3, func(attempt int) error {
			seen = append(seen, attempt)
			return errFlaky
		})
		require.ErrorIs(t, err, errFlaky)
		assert.Equal(t, []int{1, 2, 3}, seen)
	})

	t.Run("permanent stops at once", func(t *testing.T) {
		calls := 0
		err := fast.Retry(context.Background(), nil, 5, func(int) error {
			calls++
			return Permanent(errFlaky)
		})
		require.ErrorIs(t, err, errFlaky)
		assert.Equal(t, 1, calls)
	})

	t.Run("context ends the wait", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		slow := Backoff{Min: time.Hour, Max: time.Hour}
		err := slow.Retry(ctx, nil, 2, func(int) error {
			cancel()
			return errFlaky
		})
		require.ErrorIs(t, err, context.Canceled)
	})
}
