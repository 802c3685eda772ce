package exec

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hftcore/internal/bus"
	"hftcore/internal/cache"
	"hftcore/internal/clock"
	"hftcore/internal/command"
	"hftcore/internal/model"
	"hftcore/internal/model/enum"
	"hftcore/internal/og"
	"hftcore/internal/schema"
	"hftcore/internal/state"
	"hftcore/internal/testkit"
	"hftcore/pkg/exception"
)

const t0 = model.UnixNanos(1_700_000_000_000_000_000)

type fakeClient struct {
	id        model.ClientID
	venue     model.Venue
	oms       enum.OmsType
	connected bool
	err       error

	submitted []*og.Order
	lists     []*command.SubmitOrderList
	modified  []*command.ModifyOrder
	canceled  []*command.CancelOrder
	cancelAll []*command.CancelAllOrders
}

func newFakeClient(oms enum.OmsType) *fakeClient {
	return &fakeClient{id: testkit.SimClient, venue: testkit.SimVenue, oms: oms}
}

func (c *fakeClient) ID() model.ClientID         { return c.id }
func (c *fakeClient) Venue() model.Venue         { return c.venue }
func (c *fakeClient) AccountID() model.AccountID { return testkit.SimAccount }
func (c *fakeClient) OmsType() enum.OmsType      { return c.oms }
func (c *fakeClient) IsConnected() bool          { return c.connected }

func (c *fakeClient) Connect(context.Context) error {
	c.connected = true
	return nil
}

func (c *fakeClient) Disconnect(context.Context) error {
	c.connected = false
	return nil
}

func (c *fakeClient) SubmitOrder(cmd *command.SubmitOrder) error {
	if c.err != nil {
		return c.err
	}
	c.submitted = append(c.submitted, cmd.Order)
	return nil
}

func (c *fakeClient) SubmitOrderList(cmd *command.SubmitOrderList) error {
	if c.err != nil {
		return c.err
	}
	c.lists = append(c.lists, cmd)
	return nil
}

func (c *fakeClient) ModifyOrder(cmd *command.ModifyOrder) error {
	c.modified = append(c.modified, cmd)
	return nil
}

func (c *fakeClient) CancelOrder(cmd *command.CancelOrder) error {
	c.canceled = append(c.canceled, cmd)
	return nil
}

func (c *fakeClient) CancelAllOrders(cmd *command.CancelAllOrders) error {
	c.cancelAll = append(c.cancelAll, cmd)
	return nil
}

func (c *fakeClient) BatchCancelOrders(*command.BatchCancelOrders) error { return nil }

func (c *fakeClient) QueryOrder(*command.QueryOrder) error { return nil }

type fixture struct {
	t       *testing.T
	clk     *clock.TestClock
	bus     *bus.MessageBus
	cache   *cache.Cache
	engine  *Engine
	client  *fakeClient
	factory *og.Factory
	inst    *model.Instrument

	emulated       []command.TradingCommand
	positionEvents []schema.EventType
	accountEvents  int
}

func newFixture(t *testing.T, cfg Config, inst *model.Instrument, oms enum.OmsType) *fixture {
	f := &fixture{
		t:     t,
		clk:   clock.NewTestClock(t0),
		cache: cache.New(cache.DefaultConfig(), nil),
		inst:  inst,
	}
	require.NoError(t, f.cache.AddInstrument(inst))
	f.factory = og.NewFactory(testkit.Trader, testkit.Strategy, f.clk.TimestampNs)
	f.bus = bus.NewMessageBus(testkit.Trader, "test")
	require.NoError(t, f.bus.Register(bus.EndpointEmulatorExecute, func(msg any) {
		f.emulated = append(f.emulated, msg.(command.TradingCommand))
	}))
	_, err := f.bus.Subscribe(bus.TopicAllPositionEvents, func(msg any) {
		f.positionEvents = append(f.positionEvents, msg.(state.PositionEvent).EventType())
	}, 0)
	require.NoError(t, err)
	_, err = f.bus.Subscribe(bus.TopicAllAccountEvents, func(any) { f.accountEvents++ }, 0)
	require.NoError(t, err)

	f.engine = NewEngine(cfg, f.clk, f.bus, f.cache)
	require.NoError(t, f.engine.RegisterEndpoints())
	f.client = newFakeClient(oms)
	require.NoError(t, f.engine.RegisterClient(f.client))
	return f
}

func (f *fixture) limit(side enum.OrderSide, qty, px string) *og.Order {
	o, err := f.factory.Limit(f.inst.ID, side, model.MustQuantity(qty), model.MustPrice(px))
	require.NoError(f.t, err)
	return o
}

func (f *fixture) submit(o *og.Order) error {
	return f.engine.Execute(command.NewSubmitOrder(o, model.PositionID{}, f.clk.TimestampNs()))
}

// accept moves o to Accepted the way a venue would report it.
func (f *fixture) accept(o *og.Order, venueID string) {
	ts := f.clk.TimestampNs()
	f.engine.Process(&og.OrderSubmitted{EventBase: og.BaseFor(o, ts)})
	ev := &og.OrderAccepted{EventBase: og.BaseFor(o, ts)}
	ev.VenueOrderID = model.MustVenueOrderID(venueID)
	ev.AccountID = testkit.SimAccount
	f.engine.Process(ev)
	require.Equal(f.t, enum.OrderStatusAccepted, o.Status)
}

func (f *fixture) fill(o *og.Order, qty, px, trade string, commission model.Money) *og.OrderFilled {
	fill := testkit.Fill(o, qty, px, trade, commission, f.clk.TimestampNs())
	f.engine.Process(fill)
	return fill
}

func lastReason(o *og.Order) string {
	switch ev := o.LastEvent().(type) {
	case *og.OrderDenied:
		return ev.Reason
	case *og.OrderRejected:
		return ev.Reason
	}
	return ""
}

func TestSubmitRoutesToVenueClient(t *testing.T) {
	f := newFixture(t, DefaultConfig(), testkit.BTCUSDT(), enum.OmsNetting)
	o := f.limit(enum.OrderSideBuy, "1", "100.00")
	require.NoError(t, f.bus.Send(bus.EndpointExecExecute, command.NewSubmitOrder(o, model.PositionID{}, t0)))

	require.Len(t, f.client.submitted, 1)
	assert.Same(t, o, f.client.submitted[0])
	assert.True(t, f.cache.OrderExists(o.ClientOrderID))
	assert.Equal(t, uint64(1), f.engine.Stats().Commands)
}

func TestSubmitWithoutClientIsDenied(t *testing.T) {
	f := newFixture(t, DefaultConfig(), testkit.BTCUSDT(), enum.OmsNetting)
	require.NoError(t, f.engine.DeregisterClient(testkit.SimClient))

	o := f.limit(enum.OrderSideBuy, "1", "100.00")
	err := f.submit(o)
	assert.ErrorIs(t, err, exception.ErrNoClient)
	assert.Equal(t, enum.OrderStatusDenied, o.Status)
}

func TestDuplicateSubmit(t *testing.T) {
	f := newFixture(t, DefaultConfig(), testkit.BTCUSDT(), enum.OmsNetting)
	o := f.limit(enum.OrderSideBuy, "1", "100.00")
	require.NoError(t, f.submit(o))

	// a second instance with the same id is refused
	clone, err := og.NewOrder(o.InitEvent())
	require.NoError(t, err)
	assert.ErrorIs(t, f.submit(clone), exception.ErrOrderAlreadyExists)

	// so is the same instance once a venue has seen it
	f.accept(o, "V-1")
	assert.ErrorIs(t, f.submit(o), exception.ErrOrderAlreadyExists)
	assert.Len(t, f.client.submitted, 1)
}

func TestExpiredCommandIsDeniedWithTimeout(t *testing.T) {
	f := newFixture(t, DefaultConfig(), testkit.BTCUSDT(), enum.OmsNetting)
	o := f.limit(enum.OrderSideBuy, "1", "100.00")
	cmd := command.NewSubmitOrder(o, model.PositionID{}, t0)
	cmd.Deadline = t0
	f.clk.SetTime(t0 + 1)

	err := f.engine.Execute(cmd)
	assert.ErrorIs(t, err, exception.ErrTimeout)
	assert.Equal(t, enum.OrderStatusDenied, o.Status)
	assert.Equal(t, ReasonTimeout, lastReason(o))
	assert.Empty(t, f.client.submitted)
}

func TestEmulatedOrderGoesToEmulator(t *testing.T) {
	f := newFixture(t, DefaultConfig(), testkit.BTCUSDT(), enum.OmsNetting)
	o, err := f.factory.New(og.Params{
		InstrumentID:     f.inst.ID,
		Side:             enum.OrderSideSell,
		Type:             enum.OrderTypeStopMarket,
		Quantity:         model.MustQuantity("1"),
		TriggerPrice:     model.PricePtr(model.MustPrice("90.00")),
		EmulationTrigger: enum.TriggerTypeDefault,
	})
	require.NoError(t, err)
	require.NoError(t, f.engine.ProcessAccountState(testkit.CashState(testkit.SimAccount, model.MustMoney("0 USDT"), model.MustMoney("5 BTC"))))

	require.NoError(t, f.submit(o))
	require.Len(t, f.emulated, 1)
	assert.Empty(t, f.client.submitted)

	require.NoError(t, f.engine.Execute(command.NewCancelOrder(o, t0)))
	require.Len(t, f.emulated, 2)
	assert.IsType(t, &command.CancelOrder{}, f.emulated[1])
}

func TestClientErrorRejectsOrder(t *testing.T) {
	f := newFixture(t, DefaultConfig(), testkit.BTCUSDT(), enum.OmsNetting)
	f.client.err = errors.New("socket closed")

	o := f.limit(enum.OrderSideBuy, "1", "100.00")
	assert.Error(t, f.submit(o))
	assert.Equal(t, enum.OrderStatusRejected, o.Status)
	assert.Equal(t, enum.OrderStatusSubmitted, o.PreviousStatus())
	assert.Contains(t, lastReason(o), "socket closed")
	assert.Equal(t, uint64(1), f.engine.Stats().Rejected)
}

func TestCancelBeforeSubmissionIsDenied(t *testing.T) {
	f := newFixture(t, DefaultConfig(), testkit.BTCUSDT(), enum.OmsNetting)
	o := f.limit(enum.OrderSideBuy, "1", "100.00")
	require.NoError(t, f.submit(o))

	require.NoError(t, f.engine.Execute(command.NewCancelOrder(o, t0)))
	assert.Equal(t, enum.OrderStatusDenied, o.Status)
	assert.Empty(t, f.client.canceled)
}

func TestCancelAcceptedOrderGoesToClient(t *testing.T) {
	f := newFixture(t, DefaultConfig(), testkit.BTCUSDT(), enum.OmsNetting)
	o := f.limit(enum.OrderSideBuy, "1", "100.00")
	require.NoError(t, f.submit(o))
	f.accept(o, "V-7")

	require.NoError(t, f.engine.Execute(&command.CancelOrder{
		Base:          command.NewBase(o.TraderID, o.StrategyID, o.InstrumentID, t0),
		ClientOrderID: o.ClientOrderID,
	}))
	require.Len(t, f.client.canceled, 1)
	assert.Equal(t, model.MustVenueOrderID("V-7"), f.client.canceled[0].VenueOrderID)
}

func TestModifyLocalOrderUpdatesInPlace(t *testing.T) {
	f := newFixture(t, DefaultConfig(), testkit.BTCUSDT(), enum.OmsNetting)
	o := f.limit(enum.OrderSideBuy, "1", "100.00")
	require.NoError(t, f.submit(o))

	px := model.MustPrice("99.50")
	require.NoError(t, f.engine.Execute(&command.ModifyOrder{
		Base:          command.NewBase(o.TraderID, o.StrategyID, o.InstrumentID, t0),
		ClientOrderID: o.ClientOrderID,
		Price:         &px,
	}))
	assert.Equal(t, "99.50", o.Price.String())
	assert.Empty(t, f.client.modified)

	require.NoError(t, f.engine.Execute(&command.ModifyOrder{
		Base:          command.NewBase(o.TraderID, o.StrategyID, o.InstrumentID, t0),
		ClientOrderID: o.ClientOrderID,
	}))
	assert.IsType(t, &og.OrderModifyRejected{}, o.LastEvent())
}

func TestBracketHoldsExitsUntilEntryFills(t *testing.T) {
	f := newFixture(t, DefaultConfig(), testkit.BTCUSDT(), enum.OmsNetting)
	require.NoError(t, f.engine.ProcessAccountState(testkit.CashState(testkit.SimAccount, model.MustMoney("10000 USDT"), model.MustMoney("0 BTC"))))

	list, err := f.factory.Bracket(og.Params{
		InstrumentID: f.inst.ID,
		Side:         enum.OrderSideBuy,
		Type:         enum.OrderTypeLimit,
		Quantity:     model.MustQuantity("1"),
		Price:        model.PricePtr(model.MustPrice("100.00")),
	}, model.MustPrice("110.00"), model.MustPrice("90.00"), enum.TriggerTypeNone)
	require.NoError(t, err)
	entry, tp, sl := list.Orders[0], list.Orders[1], list.Orders[2]

	require.NoError(t, f.engine.Execute(command.NewSubmitOrderList(list, model.PositionID{}, t0)))
	require.Len(t, f.client.submitted, 1)
	assert.Same(t, entry, f.client.submitted[0])
	assert.True(t, f.engine.Contingency().IsHeld(tp.ClientOrderID))
	assert.True(t, f.engine.Contingency().IsHeld(sl.ClientOrderID))

	f.accept(entry, "V-1")
	f.fill(entry, "1", "100.00", "T-1", model.MustMoney("0 USDT"))

	require.Len(t, f.client.submitted, 3)
	assert.Same(t, tp, f.client.submitted[1])
	assert.Same(t, sl, f.client.submitted[2])
	assert.Empty(t, f.engine.Contingency().Held())

	pid, ok := f.cache.PositionID(tp.ClientOrderID)
	require.True(t, ok)
	assert.Equal(t, NettingPositionID(f.inst.ID, testkit.Strategy), pid)
}

func TestBracketEntryCanceledDeniesExits(t *testing.T) {
	f := newFixture(t, DefaultConfig(), testkit.BTCUSDT(), enum.OmsNetting)
	list, err := f.factory.Bracket(og.Params{
		InstrumentID: f.inst.ID,
		Side:         enum.OrderSideBuy,
		Type:         enum.OrderTypeLimit,
		Quantity:     model.MustQuantity("1"),
		Price:        model.PricePtr(model.MustPrice("100.00")),
	}, model.MustPrice("110.00"), model.MustPrice("90.00"), enum.TriggerTypeNone)
	require.NoError(t, err)
	entry, tp, sl := list.Orders[0], list.Orders[1], list.Orders[2]
	require.NoError(t, f.engine.Execute(command.NewSubmitOrderList(list, model.PositionID{}, t0)))

	f.accept(entry, "V-1")
	f.engine.Process(&og.OrderCanceled{EventBase: og.BaseFor(entry, t0)})

	assert.Equal(t, enum.OrderStatusCanceled, entry.Status)
	assert.Equal(t, enum.OrderStatusDenied, tp.Status)
	assert.Equal(t, enum.OrderStatusDenied, sl.Status)
	assert.Empty(t, f.engine.Contingency().Held())
}

func TestExternalClientCommandsAreSkipped(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ExternalClients = []string{"SIM"}
	f := newFixture(t, cfg, testkit.BTCUSDT(), enum.OmsNetting)

	o := f.limit(enum.OrderSideBuy, "1", "100.00")
	cmd := command.NewSubmitOrder(o, model.PositionID{}, t0)
	cmd.ClientID = testkit.SimClient
	require.NoError(t, f.engine.Execute(cmd))
	assert.Empty(t, f.client.submitted)
	assert.False(t, f.cache.OrderExists(o.ClientOrderID))
}

func TestOmsTypeResolution(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OmsOverrides = map[string]enum.OmsType{"S-002": enum.OmsHedging}
	f := newFixture(t, cfg, testkit.BTCUSDT(), enum.OmsUnspecified)

	assert.Equal(t, enum.OmsNetting, f.engine.OmsType(testkit.Strategy, testkit.SimVenue))
	assert.Equal(t, enum.OmsHedging, f.engine.OmsType(model.MustStrategyID("S-002"), testkit.SimVenue))
}

func TestExternalOrderClaims(t *testing.T) {
	f := newFixture(t, DefaultConfig(), testkit.BTCUSDT(), enum.OmsNetting)
	require.NoError(t, f.engine.RegisterExternalOrderClaims(testkit.Strategy, f.inst.ID))
	err := f.engine.RegisterExternalOrderClaims(model.MustStrategyID("S-002"), f.inst.ID)
	assert.ErrorIs(t, err, exception.ErrDuplicateKey)

	owner, ok := f.engine.ExternalOrderClaim(f.inst.ID)
	require.True(t, ok)
	assert.Equal(t, testkit.Strategy, owner)
	assert.Equal(t, []model.InstrumentID{f.inst.ID}, f.engine.ExternalOrderClaimsInstruments())
}

func TestConnectAndDisconnect(t *testing.T) {
	f := newFixture(t, DefaultConfig(), testkit.BTCUSDT(), enum.OmsNetting)
	assert.False(t, f.engine.CheckConnected())
	require.NoError(t, f.engine.Connect(context.Background()))
	assert.True(t, f.engine.CheckConnected())
	require.NoError(t, f.engine.Disconnect(context.Background()))
	assert.False(t, f.engine.CheckConnected())
}
