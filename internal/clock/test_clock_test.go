package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"hftcore/internal/model"
	"hftcore/pkg/exception"
)

func TestTestClockTimerFiresOnInterval(t *testing.T) {
	c := NewTestClock(0)
	var fired []model.UnixNanos
	require.NoError(t, c.SetTimer("t1", time.Second, 0, 0, func(e TimeEvent) { fired = append(fired, e.TsEvent) }))

	hs, err := c.AdvanceTime(model.UnixNanos(3*time.Second), true)
	require.NoError(t, err)
	require.Len(t, hs, 3)
	for _, h := range hs {
		h.Run()
	}
	require.Equal(t, []model.UnixNanos{
		model.UnixNanos(time.Second), model.UnixNanos(2 * time.Second), model.UnixNanos(3 * time.Second),
	}, fired)
	require.Equal(t, model.UnixNanos(3*time.Second), c.TimestampNs())

	next, ok := c.NextTimeNs("t1")
	require.True(t, ok)
	require.Equal(t, model.UnixNanos(4*time.Second), next)
}

func TestTestClockStopTimeRemovesTimer(t *testing.T) {
	c := NewTestClock(0)
	require.NoError(t, c.SetTimer("t1", time.Second, 0, model.UnixNanos(2*time.Second), func(TimeEvent) {}))
	require.Error(t, c.SetTimer("t2", time.Second, 0, 0, nil), "no callback and no default handler")

	c.RegisterDefaultHandler(func(TimeEvent) {})
	require.NoError(t, c.SetTimer("t2", time.Second, 0, model.UnixNanos(2*time.Second), nil))

	hs, err := c.AdvanceTime(model.UnixNanos(10*time.Second), true)
	require.NoError(t, err)
	require.Len(t, hs, 4)
	require.Zero(t, c.TimerCount())
}

func TestTestClockOrdersByTimeThenCreation(t *testing.T) {
	c := NewTestClock(0)
	cb := func(TimeEvent) {}
	require.NoError(t, c.SetTimer("b", 2*time.Second, 0, 0, cb))
	require.NoError(t, c.SetTimer("a", time.Second, 0, 0, cb))
	require.NoError(t, c.SetTimeAlert("alert", model.UnixNanos(1500*time.Millisecond), cb))

	hs, err := c.AdvanceTime(model.UnixNanos(2*time.Second), false)
	require.NoError(t, err)
	names := make([]string, 0, len(hs))
	for _, h := range hs {
		names = append(names, h.Event.Name)
	}
	require.Equal(t, []string{"a", "alert", "b", "a"}, names)
	require.Equal(t, model.UnixNanos(0), c.TimestampNs())
	require.Equal(t, []string{"a", "b"}, c.TimerNames())
}

func TestTestClockRejectsInvalidInput(t *testing.T) {
	c := NewTestClock(model.UnixNanos(10 * time.Second))
	cb := func(TimeEvent) {}

	require.ErrorIs(t, c.SetTimer("", time.Second, 0, 0, cb), exception.ErrInvalidArgument)
	require.ErrorIs(t, c.SetTimer("x", 0, 0, 0, cb), exception.ErrInvalidArgument)
	require.ErrorIs(t, c.SetTimeAlert("x", model.UnixNanos(time.Second), cb), exception.ErrInvalidArgument)

	require.NoError(t, c.SetTimer("x", time.Second, 0, 0, cb))
	require.ErrorIs(t, c.SetTimer("x", time.Second, 0, 0, cb), exception.ErrDuplicateKey)

	_, err := c.AdvanceTime(model.UnixNanos(time.Second), true)
	require.ErrorIs(t, err, exception.ErrInvalidArgument)

	c.CancelTimer("x")
	require.Zero(t, c.TimerCount())
}
