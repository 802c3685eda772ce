package schema

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEventTypeNames(t *testing.T) {
	for et := EventUnknown + 1; et < _eventType_end; et++ {
		require.NotEmpty(t, eventTypeNames[et], "missing name for %d", et)
		parsed, err := ParseEventType(et.String())
		require.NoError(t, err)
		require.Equal(t, et, parsed)
	}

	_, err := ParseEventType("Nope")
	require.Error(t, err)
	require.True(t, EventOrderFilled.IsOrderEvent())
	require.False(t, EventPositionOpened.IsOrderEvent())
}
