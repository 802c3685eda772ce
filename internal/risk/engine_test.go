package risk

import (
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
	"hftcore/internal/state"
	"hftcore/internal/testkit"
)

const t0 = model.UnixNanos(1_700_000_000_000_000_000)

type fixture struct {
	t       *testing.T
	clk     *clock.TestClock
	bus     *bus.MessageBus
	cache   *cache.Cache
	engine  *Engine
	factory *og.Factory
	inst    *model.Instrument

	events    []og.OrderEvent
	forwarded []command.TradingCommand
}

func newFixture(t *testing.T, cfg Config) *fixture {
	f := &fixture{
		t:     t,
		clk:   clock.NewTestClock(t0),
		cache: cache.New(cache.DefaultConfig(), nil),
		inst:  testkit.BTCUSDT(),
	}
	require.NoError(t, f.cache.AddInstrument(f.inst))
	f.factory = og.NewFactory(testkit.Trader, testkit.Strategy, f.clk.TimestampNs)

	mb := bus.NewMessageBus(testkit.Trader, "test")
	require.NoError(t, mb.Register(bus.EndpointExecProcess, func(msg any) {
		ev := msg.(og.OrderEvent)
		if _, ok := ev.(*og.OrderDenied); ok {
			o, found := f.cache.Order(ev.Header().ClientOrderID)
			require.True(t, found)
			require.NoError(t, o.Apply(ev))
		}
		f.events = append(f.events, ev)
	}))
	require.NoError(t, mb.Register(bus.EndpointExecExecute, func(msg any) {
		f.forwarded = append(f.forwarded, msg.(command.TradingCommand))
	}))
	f.bus = mb
	f.engine = NewEngine(cfg, f.clk, mb, f.cache)
	require.NoError(t, f.engine.RegisterEndpoints())
	return f
}

func (f *fixture) limit(side enum.OrderSide, qty, px string) *og.Order {
	o, err := f.factory.Limit(f.inst.ID, side, model.MustQuantity(qty), model.MustPrice(px))
	require.NoError(f.t, err)
	return o
}

func (f *fixture) submit(o *og.Order) {
	f.engine.Execute(command.NewSubmitOrder(o, model.PositionID{}, f.clk.TimestampNs()))
}

func (f *fixture) denied() []string {
	var out []string
	for _, ev := range f.events {
		if d, ok := ev.(*og.OrderDenied); ok {
			out = append(out, d.Reason)
		}
	}
	return out
}

func TestAllowedSubmitIsForwarded(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	o := f.limit(enum.OrderSideBuy, "1", "100.00")
	require.NoError(t, f.bus.Send(bus.EndpointRiskExecute, command.NewSubmitOrder(o, model.PositionID{}, t0)))

	require.Len(t, f.forwarded, 1)
	assert.Same(t, o, f.forwarded[0].(*command.SubmitOrder).Order)
	assert.Empty(t, f.events)
	assert.Equal(t, uint64(1), f.engine.Stats().Checked)
}

func TestSubmitThrottle(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxOrderSubmitRate = 2
	f := newFixture(t, cfg)

	for range 3 {
		f.submit(f.limit(enum.OrderSideBuy, "1", "100.00"))
	}
	assert.Len(t, f.forwarded, 2)
	assert.Equal(t, []string{"submit rate limit exceeded"}, f.denied())
	assert.Equal(t, uint64(1), f.engine.Stats().Throttled)

	f.clk.SetTime(t0 + model.UnixNanos(time.Second))
	f.submit(f.limit(enum.OrderSideBuy, "1", "100.00"))
	assert.Len(t, f.forwarded, 3)
}

func TestMaxOrderQtyAndNotional(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxOrderQty = decimal.NewFromInt(5)
	cfg.MaxNotionalPerOrder = map[string]decimal.Decimal{"BTCUSDT.SIM": decimal.NewFromInt(1_000)}
	f := newFixture(t, cfg)

	tooBig := f.limit(enum.OrderSideBuy, "6", "10.00")
	f.submit(tooBig)
	tooRich := f.limit(enum.OrderSideBuy, "1", "1500.00")
	f.submit(tooRich)
	ok := f.limit(enum.OrderSideBuy, "2", "400.00")
	f.submit(ok)

	require.Len(t, f.denied(), 2)
	assert.Contains(t, f.denied()[0], "quantity 6 exceeds max 5")
	assert.Contains(t, f.denied()[1], "notional")
	assert.Equal(t, enum.OrderStatusDenied, tooBig.Status)
	assert.Equal(t, enum.OrderStatusDenied, tooRich.Status)
	require.Len(t, f.forwarded, 1)
	assert.True(t, f.cache.OrderExists(tooBig.ClientOrderID))
}

func TestMarketOrderNotionalUsesTouch(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxNotionalPerOrder = map[string]decimal.Decimal{"BTCUSDT.SIM": decimal.NewFromInt(1_000)}
	f := newFixture(t, cfg)
	f.cache.AddQuote(testkit.Quote(f.inst.ID, "499.00", "501.00", "1", t0))

	buy, err := f.factory.Market(f.inst.ID, enum.OrderSideBuy, model.MustQuantity("2"))
	require.NoError(t, err)
	f.submit(buy)
	sell, err := f.factory.Market(f.inst.ID, enum.OrderSideSell, model.MustQuantity("2"))
	require.NoError(t, err)
	f.submit(sell)

	assert.Equal(t, enum.OrderStatusDenied, buy.Status)
	assert.Equal(t, enum.OrderStatusInitialized, sell.Status)
	assert.Len(t, f.forwarded, 1)
}

func TestPriceDeviation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxPriceDeviationBps = 100
	f := newFixture(t, cfg)
	f.cache.AddQuote(testkit.Quote(f.inst.ID, "100.00", "100.10", "1", t0))

	f.submit(f.limit(enum.OrderSideBuy, "1", "102.00"))
	f.submit(f.limit(enum.OrderSideBuy, "1", "100.50"))

	require.Len(t, f.denied(), 1)
	assert.Contains(t, f.denied()[0], "deviates")
	assert.Len(t, f.forwarded, 1)
}

func TestHaltedDeniesSubmitAndModifyButNotCancel(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	o := f.limit(enum.OrderSideBuy, "1", "100.00")
	require.NoError(t, f.cache.AddOrder(o, model.PositionID{}, testkit.SimClient))
	f.submit(o)
	require.Len(t, f.forwarded, 1)

	f.engine.SetTradingState(enum.TradingHalted)
	assert.Equal(t, enum.TradingHalted, f.engine.TradingState())

	f.submit(f.limit(enum.OrderSideBuy, "1", "100.00"))
	qty := model.MustQuantity("2")
	f.engine.Execute(&command.ModifyOrder{
		Base:          command.NewBase(testkit.Trader, testkit.Strategy, f.inst.ID, t0),
		ClientOrderID: o.ClientOrderID,
		Quantity:      &qty,
	})
	f.engine.Execute(command.NewCancelOrder(o, t0))

	assert.Equal(t, []string{"trading state HALTED"}, f.denied())
	require.Len(t, f.events, 2)
	rejected, ok := f.events[1].(*og.OrderModifyRejected)
	require.True(t, ok)
	assert.Equal(t, o.ClientOrderID, rejected.ClientOrderID)
	require.Len(t, f.forwarded, 2)
	assert.IsType(t, &command.CancelOrder{}, f.forwarded[1])
}

func TestReducingOnlyAllowsReducingOrders(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	opening := f.limit(enum.OrderSideBuy, "2", "100.00")
	fill := testkit.Fill(opening, "2", "100.00", "T-1", model.ZeroMoney(model.USDT), t0)
	fill.PositionID = model.MustPositionID("P-1")
	fill.AccountID = testkit.SimAccount
	p, err := state.NewPosition(f.inst, fill)
	require.NoError(t, err)
	require.NoError(t, f.cache.AddPosition(p, enum.OmsNetting))

	f.engine.SetTradingState(enum.TradingReducing)

	testCases := []struct {
		desc    string
		side    enum.OrderSide
		qty     string
		allowed bool
	}{
		{desc: "partial close", side: enum.OrderSideSell, qty: "1", allowed: true},
		{desc: "full close", side: enum.OrderSideSell, qty: "2", allowed: true},
		{desc: "flip", side: enum.OrderSideSell, qty: "3"},
		{desc: "increase", side: enum.OrderSideBuy, qty: "1"},
	}
	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			before := len(f.forwarded)
			o := f.limit(tc.side, tc.qty, "100.00")
			f.submit(o)
			assert.Equal(t, tc.allowed, len(f.forwarded) > before)
			assert.Equal(t, !tc.allowed, o.Status == enum.OrderStatusDenied)
		})
	}
}

func TestOrderListDeniedAsAWhole(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxPriceDeviationBps = 500
	f := newFixture(t, cfg)
	f.cache.AddQuote(testkit.Quote(f.inst.ID, "100.00", "100.00", "1", t0))

	list, err := f.factory.Bracket(og.Params{
		InstrumentID: f.inst.ID,
		Side:         enum.OrderSideBuy,
		Type:         enum.OrderTypeLimit,
		Quantity:     model.MustQuantity("1"),
		Price:        model.PricePtr(model.MustPrice("100.00")),
	}, model.MustPrice("150.00"), model.MustPrice("95.00"), enum.TriggerTypeNone)
	require.NoError(t, err)

	f.engine.Execute(command.NewSubmitOrderList(list, model.PositionID{}, t0))

	assert.Empty(t, f.forwarded)
	require.Len(t, f.denied(), 3)
	for _, o := range list.Orders {
		assert.Equal(t, enum.OrderStatusDenied, o.Status, o.ClientOrderID.String())
	}
}

func TestBypassSkipsChecks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Bypass = true
	cfg.State = enum.TradingHalted
	f := newFixture(t, cfg)

	f.submit(f.limit(enum.OrderSideBuy, "1", "100.00"))
	assert.Len(t, f.forwarded, 1)
	assert.Empty(t, f.events)
}
