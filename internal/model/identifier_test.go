package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hftcore/pkg/exception"
)

func TestIdentifierInterning(t *testing.T) {
	a := MustClientOrderID("O-1")
	b := MustClientOrderID("O-" + "1")
	assert.Equal(t, a, b)

	m := map[ClientOrderID]int{a: 1}
	assert.Equal(t, 1, m[b])

	var zero ClientOrderID
	assert.True(t, zero.IsZero())
	assert.Equal(t, "", zero.String())
}

func TestIdentifierValidation(t *testing.T) {
	_, err := NewTraderID("TRADER")
	require.ErrorIs(t, err, exception.ErrInvalidArgument)

	trader, err := NewTraderID("TRADER-001")
	require.NoError(t, err)
	assert.Equal(t, "001", TraderTag(trader))

	_, err = NewClientOrderID("")
	require.ErrorIs(t, err, exception.ErrInvalidArgument)

	_, err = NewVenue("SIM.X")
	require.Error(t, err)

	_, err = NewClientOrderID("O 1")
	require.Error(t, err)

	assert.Equal(t, "SIM", AccountIssuer(MustAccountID("SIM-001")).String())
}

func TestInstrumentID(t *testing.T) {
	id, err := ParseInstrumentID("BTC.USDT-PERP.BINANCE")
	require.NoError(t, err)
	assert.Equal(t, "BTC.USDT-PERP", id.Symbol.String())
	assert.Equal(t, "BINANCE", id.Venue.String())
	assert.Equal(t, "BTC.USDT-PERP.BINANCE", id.String())

	_, err = ParseInstrumentID("BTCUSDT")
	require.Error(t, err)
}

func TestBarTypeParse(t *testing.T) {
	bt, err := ParseBarType("BTCUSDT.BINANCE-1-MINUTE-LAST-EXTERNAL")
	require.NoError(t, err)
	assert.Equal(t, 1, bt.Spec.Step)
	assert.False(t, bt.IsComposite())
	assert.Equal(t, "BTCUSDT.BINANCE-1-MINUTE-LAST-EXTERNAL", bt.String())

	composite := "ETHUSDT.BINANCE-5-MINUTE-LAST-INTERNAL@1-MINUTE-EXTERNAL"
	bt, err = ParseBarType(composite)
	require.NoError(t, err)
	assert.True(t, bt.IsComposite())
	assert.Equal(t, composite, bt.String())
	assert.Equal(t, "ETHUSDT.BINANCE-1-MINUTE-LAST-EXTERNAL", bt.SourceBarType().String())
	assert.Equal(t, "ETHUSDT.BINANCE-5-MINUTE-LAST-INTERNAL", bt.Standard().String())

	_, err = ParseBarType("ETHUSDT.BINANCE-0-MINUTE-LAST-EXTERNAL")
	require.Error(t, err)
}
