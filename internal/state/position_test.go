package state_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hftcore/internal/model"
	"hftcore/internal/model/enum"
	"hftcore/internal/og"
	"hftcore/internal/state"
	"hftcore/internal/testkit"
	"hftcore/pkg/exception"
)

type fixture struct {
	t       *testing.T
	inst    *model.Instrument
	factory *og.Factory
	ts      model.UnixNanos
	trades  int
	posID   model.PositionID
}

func newFixture(t *testing.T, inst *model.Instrument) *fixture {
	f := &fixture{t: t, inst: inst, posID: model.MustPositionID("P-1")}
	f.factory = og.NewFactory(testkit.Trader, testkit.Strategy, func() model.UnixNanos { return f.ts })
	return f
}

func (f *fixture) fill(side enum.OrderSide, qty, px, commission string) *og.OrderFilled {
	f.t.Helper()
	f.ts++
	f.trades++
	o, err := f.factory.Market(f.inst.ID, side, model.MustQuantity(qty))
	require.NoError(f.t, err)
	o.AccountID = testkit.SimAccount
	c := model.ZeroMoney(f.inst.CostCurrency())
	if commission != "" {
		c = model.MustMoney(commission)
	}
	fill := testkit.Fill(o, qty, px, "T-"+string(rune('A'+f.trades)), c, f.ts)
	fill.PositionID = f.posID
	return fill
}

func TestPositionRoundTripRealizesPnL(t *testing.T) {
	f := newFixture(t, testkit.BTCUSDT())

	p, err := state.NewPosition(f.inst, f.fill(enum.OrderSideBuy, "10", "49", "0.1 USDT"))
	require.NoError(t, err)
	assert.Equal(t, enum.PositionSideLong, p.Side)
	assert.Equal(t, "10", p.SignedQty().String())
	assert.Equal(t, "49", p.AvgPxOpen.String())
	assert.Equal(t, "-0.10000000 USDT", p.RealizedPnL.String())

	require.NoError(t, p.Apply(f.fill(enum.OrderSideSell, "10", "51", "0.1 USDT")))
	assert.True(t, p.IsClosed())
	assert.Equal(t, enum.PositionSideFlat, p.Side)
	assert.Equal(t, "19.80000000 USDT", p.RealizedPnL.String())
	assert.Equal(t, "51", p.AvgPxClose.String())
	assert.Equal(t, "10", p.PeakQty.String())
	assert.NotZero(t, p.TsClosed)
	assert.Len(t, p.Commissions(), 1)

	err = p.Apply(f.fill(enum.OrderSideBuy, "1", "50", ""))
	require.ErrorIs(t, err, state.ErrPositionClosed)
}

func TestPositionFIFOLots(t *testing.T) {
	f := newFixture(t, testkit.BTCUSDT())

	p, err := state.NewPosition(f.inst, f.fill(enum.OrderSideBuy, "1", "100", ""))
	require.NoError(t, err)
	require.NoError(t, p.Apply(f.fill(enum.OrderSideBuy, "1", "110", "")))
	assert.Equal(t, "105", p.AvgPxOpen.String())

	require.NoError(t, p.Apply(f.fill(enum.OrderSideSell, "1", "120", "")))
	assert.Equal(t, "20.00000000 USDT", p.RealizedPnL.String())
	assert.Equal(t, "10.00000000 USDT", p.UnrealizedPnL(model.MustPrice("120")).String())
	assert.Equal(t, "30.00000000 USDT", p.TotalPnL(model.MustPrice("120")).String())
	assert.True(t, p.Quantity.Equal(model.MustQuantity("1")), p.Quantity.String())
}

func TestPositionShort(t *testing.T) {
	f := newFixture(t, testkit.BTCUSDT())

	p, err := state.NewPosition(f.inst, f.fill(enum.OrderSideSell, "2", "100", ""))
	require.NoError(t, err)
	assert.True(t, p.IsShort())
	assert.Equal(t, "-2", p.SignedQty().String())
	assert.Equal(t, enum.OrderSideBuy, p.ClosingOrderSide())

	require.NoError(t, p.Apply(f.fill(enum.OrderSideBuy, "2", "90", "")))
	assert.Equal(t, "20.00000000 USDT", p.RealizedPnL.String())
}

func TestPositionRejectsFlipAndDuplicates(t *testing.T) {
	f := newFixture(t, testkit.BTCUSDT())

	first := f.fill(enum.OrderSideBuy, "1", "100", "")
	p, err := state.NewPosition(f.inst, first)
	require.NoError(t, err)

	flip := f.fill(enum.OrderSideSell, "2", "100", "")
	assert.True(t, p.WouldFlip(flip))
	require.ErrorIs(t, p.Apply(flip), state.ErrPositionFlip)

	require.ErrorIs(t, p.Apply(first), exception.ErrDuplicateKey)
	assert.Equal(t, 1, p.FillCount())
}

func TestPositionInverse(t *testing.T) {
	f := newFixture(t, testkit.XBTUSDInverse())

	p, err := state.NewPosition(f.inst, f.fill(enum.OrderSideBuy, "100", "10000", ""))
	require.NoError(t, err)
	assert.Equal(t, "BTC", p.Currency.Code)
	assert.Equal(t, "0.01000000 BTC", p.NotionalValue(model.MustPrice("10000")).String())

	require.NoError(t, p.Apply(f.fill(enum.OrderSideSell, "100", "20000", "")))
	assert.Equal(t, "0.00500000 BTC", p.RealizedPnL.String())
}

func TestPositionForceSet(t *testing.T) {
	f := newFixture(t, testkit.BTCUSDT())
	p, err := state.NewPosition(f.inst, f.fill(enum.OrderSideBuy, "1", "100", ""))
	require.NoError(t, err)

	px := decimal.RequireFromString("101")
	p.ForceSet(decimal.RequireFromString("-3"), &px, 99)
	assert.True(t, p.IsShort())
	assert.True(t, p.Quantity.Equal(model.MustQuantity("3")), p.Quantity.String())
	assert.True(t, p.Reconciled)

	p.ForceSet(decimal.Zero, nil, 100)
	assert.True(t, p.IsClosed())
	assert.Equal(t, model.UnixNanos(100), p.TsClosed)
}

func TestPositionEvents(t *testing.T) {
	f := newFixture(t, testkit.BTCUSDT())
	fill := f.fill(enum.OrderSideBuy, "10", "49", "")
	p, err := state.NewPosition(f.inst, fill)
	require.NoError(t, err)

	opened := state.NewPositionOpened(p, fill, fill.TsEvent)
	assert.Equal(t, enum.PositionSideLong, opened.Side)
	assert.Equal(t, "49", opened.AvgPxOpen.String())
	assert.Equal(t, "10", opened.LastQty.String())

	closing := f.fill(enum.OrderSideSell, "10", "51", "")
	require.NoError(t, p.Apply(closing))
	_, ok := state.EventFor(p, closing, closing.TsEvent).(*state.PositionClosed)
	assert.True(t, ok)
}
