package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"hftcore/pkg/exception"
)

func TestQueueBounded(t *testing.T) {
	q := NewQueue[int](2)
	require.NoError(t, q.TryPublish(1))
	require.NoError(t, q.TryPublish(2))
	require.ErrorIs(t, q.TryPublish(3), exception.ErrQueueFull)
	require.Equal(t, 2, q.Len())

	var got []int
	require.Equal(t, 2, q.Drain(func(v int) { got = append(got, v) }))
	require.Equal(t, []int{1, 2}, got)

	q.Close()
	require.ErrorIs(t, q.TryPublish(4), exception.ErrQueueClosed)
}

func TestQueuePublishBlocksUntilContextDone(t *testing.T) {
	q := NewQueue[string](1)
	require.NoError(t, q.Publish(context.Background(), "a"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, q.Publish(ctx, "b"), context.DeadlineExceeded)
}

func TestQueueRunStopsOnClose(t *testing.T) {
	q := NewQueue[int](4)
	_ = q.TryPublish(1)
	_ = q.TryPublish(2)
	q.Close()

	sum := 0
	q.Run(context.Background(), func(v int) { sum += v })
	require.Equal(t, 3, sum)
}
