package exec

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hftcore/pkg/exception"
)

func TestAuthTracker(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		a := NewAuthTracker()
		go a.Succeed()
		require.NoError(t, a.Wait(context.Background(), time.Second))
		assert.True(t, a.IsAuthenticated())
	})

	t.Run("failure", func(t *testing.T) {
		a := NewAuthTracker()
		a.Fail("bad signature")
		err := a.Wait(context.Background(), time.Second)
		assert.ErrorIs(t, err, exception.ErrAuthentication)
		assert.Contains(t, err.Error(), "bad signature")
		assert.False(t, a.IsAuthenticated())
	})

	t.Run("timeout", func(t *testing.T) {
		a := NewAuthTracker()
		err := a.Wait(context.Background(), 10*time.Millisecond)
		assert.ErrorIs(t, err, ErrAuthTimeout)
		assert.ErrorIs(t, err, exception.ErrAuthentication)
	})

	t.Run("begin resets", func(t *testing.T) {
		a := NewAuthTracker()
		a.Succeed()
		a.Begin()
		assert.False(t, a.IsAuthenticated())
		assert.ErrorIs(t, a.Wait(context.Background(), 10*time.Millisecond), ErrAuthTimeout)
	})

	t.Run("context canceled", func(t *testing.T) {
		a := NewAuthTracker()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.ErrorIs(t, a.Wait(ctx, time.Second), context.Canceled)
	})
}
