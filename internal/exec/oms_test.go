package exec

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hftcore/internal/cache"
	"hftcore/internal/command"
	"hftcore/internal/model"
	"hftcore/internal/model/enum"
	"hftcore/internal/og"
	"hftcore/internal/schema"
	"hftcore/internal/testkit"
)

func requireDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got)
}

func (f *fixture) filledOrder(side enum.OrderSide, qty, px, trade string, commission model.Money) *og.Order {
	o := f.limit(side, qty, px)
	require.NoError(f.t, f.submit(o))
	f.accept(o, "V-"+trade)
	f.fill(o, qty, px, trade, commission)
	require.Equal(f.t, enum.OrderStatusFilled, o.Status)
	return o
}

func TestNettingOpenAndCloseRealizesPnL(t *testing.T) {
	f := newFixture(t, DefaultConfig(), testkit.ETHUSDTPerp(), enum.OmsNetting)
	require.NoError(t, f.engine.ProcessAccountState(testkit.MarginState(testkit.SimAccount, model.MustMoney("10000 USDT"))))

	f.filledOrder(enum.OrderSideBuy, "1", "100.00", "T-1", model.MustMoney("0.05 USDT"))
	pid := NettingPositionID(f.inst.ID, testkit.Strategy)
	p, ok := f.cache.Position(pid)
	require.True(t, ok)
	assert.Equal(t, enum.PositionSideLong, p.Side)
	requireDecimal(t, "-0.05", p.RealizedPnL.Decimal())

	f.filledOrder(enum.OrderSideSell, "1", "110.00", "T-2", model.MustMoney("0.055 USDT"))
	assert.True(t, p.IsClosed())
	requireDecimal(t, "9.895", p.RealizedPnL.Decimal())
	assert.Equal(t, []schema.EventType{schema.EventPositionOpened, schema.EventPositionClosed}, f.positionEvents)

	acc, ok := f.cache.Account(testkit.SimAccount)
	require.True(t, ok)
	requireDecimal(t, "10009.895", acc.BalanceTotal(model.USDT).Decimal())
	requireDecimal(t, "0.105", acc.Commission(model.USDT).Decimal())
	// one reported state plus one per fill
	assert.Equal(t, 3, f.accountEvents)
	assert.Equal(t, uint64(2), f.engine.Stats().Fills)
}

func TestNettingReopenSnapshotsClosedPosition(t *testing.T) {
	f := newFixture(t, DefaultConfig(), testkit.ETHUSDTPerp(), enum.OmsNetting)
	f.filledOrder(enum.OrderSideBuy, "1", "100.00", "T-1", model.MustMoney("0 USDT"))
	f.filledOrder(enum.OrderSideSell, "1", "101.00", "T-2", model.MustMoney("0 USDT"))
	f.filledOrder(enum.OrderSideSell, "2", "102.00", "T-3", model.MustMoney("0 USDT"))

	pid := NettingPositionID(f.inst.ID, testkit.Strategy)
	p, ok := f.cache.Position(pid)
	require.True(t, ok)
	assert.Equal(t, enum.PositionSideShort, p.Side)
	requireDecimal(t, "2", p.Quantity.Decimal())
	require.Len(t, f.cache.PositionSnapshots(pid), 1)
	requireDecimal(t, "1", f.cache.PositionSnapshots(pid)[0].RealizedPnL.Decimal())
}

func TestNettingFlipSplitsFill(t *testing.T) {
	f := newFixture(t, DefaultConfig(), testkit.ETHUSDTPerp(), enum.OmsNetting)
	f.filledOrder(enum.OrderSideBuy, "1", "100.00", "T-1", model.MustMoney("0 USDT"))
	f.filledOrder(enum.OrderSideSell, "3", "110.00", "T-2", model.MustMoney("0.3 USDT"))

	pid := NettingPositionID(f.inst.ID, testkit.Strategy)
	p, ok := f.cache.Position(pid)
	require.True(t, ok)
	assert.Equal(t, enum.PositionSideShort, p.Side)
	requireDecimal(t, "2", p.Quantity.Decimal())
	requireDecimal(t, "-0.2", p.RealizedPnL.Decimal())

	snaps := f.cache.PositionSnapshots(pid)
	require.Len(t, snaps, 1)
	assert.True(t, snaps[0].IsClosed())
	requireDecimal(t, "9.9", snaps[0].RealizedPnL.Decimal())

	assert.Equal(t, []schema.EventType{
		schema.EventPositionOpened,
		schema.EventPositionClosed,
		schema.EventPositionOpened,
	}, f.positionEvents)
}

func TestNettingSnapshotsDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SnapshotPositions = false
	f := newFixture(t, cfg, testkit.ETHUSDTPerp(), enum.OmsNetting)
	f.filledOrder(enum.OrderSideBuy, "1", "100.00", "T-1", model.MustMoney("0 USDT"))
	f.filledOrder(enum.OrderSideSell, "2", "110.00", "T-2", model.MustMoney("0 USDT"))

	pid := NettingPositionID(f.inst.ID, testkit.Strategy)
	assert.Empty(t, f.cache.PositionSnapshots(pid))
	p, ok := f.cache.Position(pid)
	require.True(t, ok)
	assert.True(t, p.IsShort())
}

func TestHedgingOpensPositionPerEntry(t *testing.T) {
	f := newFixture(t, DefaultConfig(), testkit.ETHUSDTPerp(), enum.OmsHedging)
	a := f.filledOrder(enum.OrderSideBuy, "1", "100.00", "T-1", model.MustMoney("0 USDT"))
	b := f.filledOrder(enum.OrderSideBuy, "1", "101.00", "T-2", model.MustMoney("0 USDT"))

	open := f.cache.PositionsOpen(cache.Filter{InstrumentID: f.inst.ID}, enum.PositionSideNone)
	require.Len(t, open, 2)
	assert.NotEqual(t, a.PositionID, b.PositionID)
	assert.True(t, strings.HasPrefix(a.PositionID.String(), "P-"))
	assert.True(t, strings.HasSuffix(a.PositionID.String(), "-1"))
	assert.True(t, strings.HasSuffix(b.PositionID.String(), "-2"))
	assert.Equal(t, 2, f.engine.PositionIDs().Count(testkit.Strategy))
}

func TestHedgingFlipUsesFlippedID(t *testing.T) {
	f := newFixture(t, DefaultConfig(), testkit.ETHUSDTPerp(), enum.OmsHedging)
	entry := f.filledOrder(enum.OrderSideBuy, "1", "100.00", "T-1", model.MustMoney("0 USDT"))
	pid := entry.PositionID

	exit := f.limit(enum.OrderSideSell, "3", "105.00")
	require.NoError(t, f.engine.Execute(command.NewSubmitOrder(exit, pid, t0)))
	f.accept(exit, "V-2")
	f.fill(exit, "3", "105.00", "T-2", model.MustMoney("0 USDT"))

	closed, ok := f.cache.Position(pid)
	require.True(t, ok)
	assert.True(t, closed.IsClosed())
	requireDecimal(t, "5", closed.RealizedPnL.Decimal())

	flipped := f.cache.PositionsOpen(cache.Filter{InstrumentID: f.inst.ID}, enum.PositionSideShort)
	require.Len(t, flipped, 1)
	assert.True(t, strings.HasSuffix(flipped[0].ID.String(), "-2F"))
	requireDecimal(t, "2", flipped[0].Quantity.Decimal())
}

func TestVenuePositionIDIsKeptUnderHedging(t *testing.T) {
	f := newFixture(t, DefaultConfig(), testkit.ETHUSDTPerp(), enum.OmsHedging)
	o := f.limit(enum.OrderSideBuy, "1", "100.00")
	require.NoError(t, f.submit(o))
	f.accept(o, "V-1")
	fill := testkit.Fill(o, "1", "100.00", "T-1", model.MustMoney("0 USDT"), t0)
	fill.PositionID = model.MustPositionID("VENUE-POS-9")
	f.engine.Process(fill)

	_, ok := f.cache.Position(model.MustPositionID("VENUE-POS-9"))
	assert.True(t, ok)
	assert.Equal(t, 0, f.engine.PositionIDs().Count(testkit.Strategy))
}

func TestCashSpotFillsMoveBalances(t *testing.T) {
	f := newFixture(t, DefaultConfig(), testkit.BTCUSDT(), enum.OmsNetting)
	require.NoError(t, f.engine.ProcessAccountState(testkit.CashState(testkit.SimAccount,
		model.MustMoney("10000 USDT"), model.MustMoney("0 BTC"))))

	f.filledOrder(enum.OrderSideBuy, "0.5", "100.00", "T-1", model.MustMoney("0.1 USDT"))
	acc, ok := f.cache.Account(testkit.SimAccount)
	require.True(t, ok)
	requireDecimal(t, "9949.9", acc.BalanceTotal(model.USDT).Decimal())
	requireDecimal(t, "0.5", acc.BalanceTotal(model.BTC).Decimal())

	f.filledOrder(enum.OrderSideSell, "0.5", "120.00", "T-2", model.MustMoney("0 USDT"))
	requireDecimal(t, "10009.9", acc.BalanceTotal(model.USDT).Decimal())
	requireDecimal(t, "0", acc.BalanceTotal(model.BTC).Decimal())
	assert.False(t, acc.LastEvent().IsReported)
}

func TestCashFillBelowZeroIsCounted(t *testing.T) {
	f := newFixture(t, DefaultConfig(), testkit.BTCUSDT(), enum.OmsNetting)
	require.NoError(t, f.engine.ProcessAccountState(testkit.CashState(testkit.SimAccount,
		model.MustMoney("10000 USDT"), model.MustMoney("0 BTC"))))

	o := f.limit(enum.OrderSideBuy, "0.5", "100.00")
	require.NoError(t, f.submit(o))
	f.accept(o, "V-1")
	// the venue reports a smaller balance before the fill arrives
	require.NoError(t, f.engine.ProcessAccountState(testkit.CashState(testkit.SimAccount,
		model.MustMoney("10 USDT"), model.MustMoney("0 BTC"))))
	f.fill(o, "0.5", "100.00", "T-1", model.MustMoney("0 USDT"))
	require.Equal(t, enum.OrderStatusFilled, o.Status)

	acc, ok := f.cache.Account(testkit.SimAccount)
	require.True(t, ok)
	requireDecimal(t, "10", acc.BalanceTotal(model.USDT).Decimal())
	requireDecimal(t, "0", acc.BalanceTotal(model.BTC).Decimal())
	assert.EqualValues(t, 1, f.engine.Stats().AccountRejects)
	assert.EqualValues(t, 1, f.engine.Stats().Fills)
}

func TestFillResolvedByVenueOrderID(t *testing.T) {
	f := newFixture(t, DefaultConfig(), testkit.ETHUSDTPerp(), enum.OmsNetting)
	o := f.limit(enum.OrderSideBuy, "2", "100.00")
	require.NoError(t, f.submit(o))
	f.accept(o, "V-42")

	fill := testkit.Fill(o, "1", "100.00", "T-1", model.MustMoney("0 USDT"), t0)
	fill.ClientOrderID = model.MustClientOrderID("O-UNKNOWN")
	f.engine.Process(fill)
	assert.Equal(t, enum.OrderStatusPartiallyFilled, o.Status)

	// the same trade reported again changes nothing
	f.engine.Process(testkit.Fill(o, "1", "100.00", "T-1", model.MustMoney("0 USDT"), t0))
	requireDecimal(t, "1", o.FilledQty.Decimal())
	p, ok := f.cache.Position(NettingPositionID(f.inst.ID, testkit.Strategy))
	require.True(t, ok)
	requireDecimal(t, "1", p.Quantity.Decimal())
}

func TestProcessAccountStateReplacesBalances(t *testing.T) {
	f := newFixture(t, DefaultConfig(), testkit.BTCUSDT(), enum.OmsNetting)
	require.NoError(t, f.engine.ProcessAccountState(testkit.CashState(testkit.SimAccount, model.MustMoney("100 USDT"))))
	require.NoError(t, f.engine.ProcessAccountState(testkit.CashState(testkit.SimAccount, model.MustMoney("250 USDT"))))

	acc, ok := f.cache.AccountForVenue(testkit.SimVenue)
	require.True(t, ok)
	requireDecimal(t, "250", acc.BalanceFree(model.USDT).Decimal())
	assert.Len(t, acc.Events(), 2)
	assert.Equal(t, 2, f.accountEvents)
}
