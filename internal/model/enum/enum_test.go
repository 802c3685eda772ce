package enum

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseRoundTrip(t *testing.T) {
	for s := OrderStatusInitialized; s <= OrderStatusFilled; s++ {
		got, err := ParseOrderStatus(s.String())
		require.NoError(t, err)
		require.Equal(t, s, got)
	}

	got, err := ParseOrderType("trailing_stop_limit")
	require.NoError(t, err)
	require.Equal(t, OrderTypeTrailingStopLimit, got)

	_, err = ParseOrderSide("SIDEWAYS")
	require.Error(t, err)
}

func TestOrderStatusClasses(t *testing.T) {
	require.True(t, OrderStatusFilled.IsTerminal())
	require.True(t, OrderStatusDenied.IsTerminal())
	require.False(t, OrderStatusPartiallyFilled.IsTerminal())
	require.True(t, OrderStatusPendingCancel.IsInflight())
	require.False(t, OrderStatusAccepted.IsInflight())
}

func TestUnknownName(t *testing.T) {
	require.Equal(t, "UNKNOWN(42)", OrderSide(42).String())
	require.Equal(t, OrderSideSell, OrderSideBuy.Opposite())
}

func TestTextUnmarshal(t *testing.T) {
	var b BookType
	require.NoError(t, b.UnmarshalText([]byte("L2_MBP")))
	require.Equal(t, BookL2MBP, b)
	require.Error(t, b.UnmarshalText([]byte("L4")))
}
