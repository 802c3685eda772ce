package core

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hftcore/internal/bus"
	"hftcore/internal/cache"
	"hftcore/internal/clock"
	"hftcore/internal/command"
	"hftcore/internal/model"
	"hftcore/internal/model/enum"
	"hftcore/internal/og"
	"hftcore/internal/recorder"
	"hftcore/internal/sandbox"
	"hftcore/internal/schema"
	"hftcore/internal/testkit"
	"hftcore/pkg/exception"
)

const t0 = model.UnixNanos(1_700_000_000_000_000_000)

func at(d time.Duration) model.UnixNanos { return t0.Add(d) }

type fixture struct {
	t       *testing.T
	clk     *clock.TestClock
	k       *Kernel
	inst    *model.Instrument
	factory *og.Factory
}

func testConfig(journalDir string) Config {
	cfg := DefaultConfig(testkit.Trader)
	cfg.Instruments = []*model.Instrument{testkit.BTCUSDT()}
	venue := sandbox.DefaultConfig(testkit.SimVenue)
	venue.AccountID = testkit.SimAccount
	venue.StartingBalances = []model.Money{model.MustMoney("100000 USDT")}
	cfg.Venues = []sandbox.Config{venue}
	if journalDir != "" {
		jcfg := recorder.DefaultConfig(journalDir)
		jcfg.FlushInterval = 0
		jcfg.SyncInterval = 0
		cfg.Journal = &jcfg
	}
	return cfg
}

func newFixture(t *testing.T, cfg Config) *fixture {
	f := &fixture{
		t:    t,
		clk:  clock.NewTestClock(t0),
		inst: testkit.BTCUSDT(),
	}
	var err error
	f.k, err = NewKernel(cfg, f.clk, nil)
	require.NoError(t, err)
	require.NoError(t, f.k.Start(context.Background()))
	t.Cleanup(func() { _ = f.k.Dispose(context.Background()) })
	f.factory = og.NewFactory(testkit.Trader, testkit.Strategy, f.clk.TimestampNs)
	return f
}

func (f *fixture) load(quotes ...[2]string) {
	dc, ok := f.k.DataClient(testkit.SimVenue)
	require.True(f.t, ok)
	items := make([]model.Data, 0, len(quotes))
	for i, q := range quotes {
		items = append(items, testkit.Quote(f.inst.ID, q[0], q[1], "10", at(time.Duration(i+1)*time.Second)))
	}
	dc.Load(items...)
}

func (f *fixture) subscribeQuotes() *command.Subscribe {
	return &command.Subscribe{
		DataBase: command.DataBase{Venue: testkit.SimVenue, TsInit: f.clk.TimestampNs()},
		DataSpec: command.DataSpec{Kind: enum.DataQuote, InstrumentID: f.inst.ID},
	}
}

func (f *fixture) marketBuy(qty string) *command.SubmitOrder {
	o, err := f.factory.Market(f.inst.ID, enum.OrderSideBuy, model.MustQuantity(qty))
	require.NoError(f.t, err)
	return command.NewSubmitOrder(o, model.PositionID{}, f.clk.TimestampNs())
}

func TestNewKernelValidatesConfig(t *testing.T) {
	clk := clock.NewTestClock(t0)

	_, err := NewKernel(Config{}, clk, nil)
	assert.ErrorIs(t, err, exception.ErrInvalidArgument)

	cfg := testConfig("")
	cfg.Venues = append(cfg.Venues, cfg.Venues[0])
	_, err = NewKernel(cfg, clk, nil)
	assert.ErrorIs(t, err, exception.ErrDuplicateKey)

	_, err = NewKernel(testConfig(""), nil, nil)
	assert.ErrorIs(t, err, exception.ErrInvalidArgument)
}

func TestKernelStartConnectsVenues(t *testing.T) {
	f := newFixture(t, testConfig(""))
	assert.True(t, f.k.IsRunning())

	ec, ok := f.k.ExecutionClient(testkit.SimVenue)
	require.True(t, ok)
	assert.True(t, ec.IsConnected())
	_, ok = f.k.ExecutionClient(model.MustVenue("OTHER"))
	assert.False(t, ok)

	_, ok = f.k.Cache().Instrument(f.inst.ID)
	assert.True(t, ok)
	acc, ok := f.k.Cache().Account(testkit.SimAccount)
	require.True(t, ok)
	assert.True(t, decimal.NewFromInt(100000).Equal(acc.BalanceTotal(model.USDT).Decimal()))
	assert.NoError(t, f.k.CheckIntegrity())
}

func TestKernelDispatch(t *testing.T) {
	f := newFixture(t, testConfig(""))

	require.NoError(t, f.k.Dispatch(f.subscribeQuotes()))
	dc, _ := f.k.DataClient(testkit.SimVenue)
	assert.Equal(t, 1, dc.Subscriptions())

	called := false
	require.NoError(t, f.k.Dispatch(func(k *Kernel) error {
		called = k == f.k
		return nil
	}))
	assert.True(t, called)

	assert.ErrorIs(t, f.k.Dispatch(nil), exception.ErrInvalidArgument)
	assert.ErrorIs(t, f.k.Dispatch("nope"), exception.ErrInvalidArgument)
}

func TestKernelPublishesInitializedOnce(t *testing.T) {
	f := newFixture(t, testConfig(""))
	var inits int
	_, err := f.k.Bus().Subscribe(bus.TopicAllOrderEvents, func(msg any) {
		if _, ok := msg.(*og.OrderInitialized); ok {
			inits++
		}
	}, 0)
	require.NoError(t, err)

	cmd := f.marketBuy("1")
	require.NoError(t, f.k.Dispatch(cmd))
	require.NoError(t, f.k.Dispatch(cmd))
	assert.Equal(t, 1, inits)
}

func TestKernelHandleEventRejectsUnknown(t *testing.T) {
	f := newFixture(t, testConfig(""))
	assert.ErrorIs(t, f.k.HandleEvent(42), exception.ErrInvalidArgument)
}

func TestKernelObservesPublishedEvents(t *testing.T) {
	f := newFixture(t, testConfig(""))

	// no quote yet, so the market order cannot trade
	cmd := f.marketBuy("1")
	require.NoError(t, f.k.Dispatch(cmd))
	assert.True(t, cmd.Order.IsClosed())

	s := f.k.Metrics().Snapshot()
	assert.Equal(t, uint64(1), s.EventCounts[schema.EventOrderInitialized])
	assert.Equal(t, uint64(1), s.Denied()+s.Rejected())
	assert.Positive(t, s.Published())
}

func TestKernelStopIsIdempotent(t *testing.T) {
	f := newFixture(t, testConfig(t.TempDir()))
	ctx := context.Background()
	require.NoError(t, f.k.Stop(ctx))
	assert.False(t, f.k.IsRunning())
	require.NoError(t, f.k.Stop(ctx))
	assert.Empty(t, f.k.Cache().Positions(cache.Filter{}))
}
