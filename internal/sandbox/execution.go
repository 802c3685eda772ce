package sandbox

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"

	"hftcore/internal/bus"
	"hftcore/internal/cache"
	"hftcore/internal/clock"
	"hftcore/internal/command"
	"hftcore/internal/exec"
	"hftcore/internal/matching"
	"hftcore/internal/model"
	"hftcore/internal/model/enum"
	"hftcore/internal/og"
	"hftcore/internal/state"
	"hftcore/pkg/exception"
)

var _ exec.LiveClient = (*ExecutionClient)(nil)

// venueOrder is the venue's own record of an order it accepted.
type venueOrder struct {
	order     *og.Order
	venueID   model.VenueOrderID
	status    enum.OrderStatus
	filled    model.Quantity
	avgPx     decimal.Decimal
	accepted  model.UnixNanos
	triggered model.UnixNanos
	last      model.UnixNanos
	reason    string
}

func (v *venueOrder) isOpen() bool { return !v.status.IsTerminal() }

type netPosition struct {
	qty   decimal.Decimal
	avgPx decimal.Decimal
	last  model.UnixNanos
}

// ExecutionClient must only be used from the runner goroutine. Order events
// are sent to ExecEngine.process while the command that caused them is
// still being dispatched.
type ExecutionClient struct {
	cfg   Config
	clock clock.Clock
	bus   *bus.MessageBus
	cache *cache.Cache

	connected bool
	cores     map[model.InstrumentID]*matching.Core
	quoteSubs map[model.InstrumentID]uint64
	tradeSubs map[model.InstrumentID]uint64
	orders    map[model.ClientOrderID]*venueOrder
	byVenueID map[model.VenueOrderID]model.ClientOrderID
	fills     []model.FillReport
	positions map[model.InstrumentID]*netPosition

	orderSeq uint64
	tradeSeq uint64
}

func NewExecutionClient(cfg Config, clk clock.Clock, mb *bus.MessageBus, c *cache.Cache) (*ExecutionClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &ExecutionClient{
		cfg:       cfg,
		clock:     clk,
		bus:       mb,
		cache:     c,
		cores:     map[model.InstrumentID]*matching.Core{},
		quoteSubs: map[model.InstrumentID]uint64{},
		tradeSubs: map[model.InstrumentID]uint64{},
		orders:    map[model.ClientOrderID]*venueOrder{},
		byVenueID: map[model.VenueOrderID]model.ClientOrderID{},
		positions: map[model.InstrumentID]*netPosition{},
	}, nil
}

func (c *ExecutionClient) ID() model.ClientID         { return c.cfg.ClientID }
func (c *ExecutionClient) Venue() model.Venue         { return c.cfg.Venue }
func (c *ExecutionClient) AccountID() model.AccountID { return c.cfg.AccountID }
func (c *ExecutionClient) OmsType() enum.OmsType      { return c.cfg.OmsType }
func (c *ExecutionClient) IsConnected() bool          { return c.connected }

// Connect reports the starting account state.
func (c *ExecutionClient) Connect(ctx context.Context) error {
	if c.connected {
		return nil
	}
	c.connected = true
	logs.Infof("[Sandbox] %s connected", c.cfg.Venue)
	if len(c.cfg.StartingBalances) == 0 {
		return nil
	}
	return c.reportAccount()
}

func (c *ExecutionClient) reportAccount() error {
	ts := c.clock.TimestampNs()
	s := &state.AccountState{
		AccountID:  c.cfg.AccountID,
		Type:       c.cfg.AccountType,
		IsReported: true,
		EventID:    model.NewUUID4(),
		TsEvent:    ts,
		TsInit:     ts,
	}
	for _, b := range c.cfg.StartingBalances {
		bal, err := state.NewAccountBalance(b, model.ZeroMoney(b.Currency))
		if err != nil {
			return err
		}
		s.Balances = append(s.Balances, bal)
	}
	return c.bus.Send(bus.EndpointExecProcess, s)
}

// Disconnect stops following market data. Resting orders stay on the venue.
func (c *ExecutionClient) Disconnect(ctx context.Context) error {
	for id, sub := range c.quoteSubs {
		c.bus.Unsubscribe(bus.QuotesTopic(id), sub)
	}
	for id, sub := range c.tradeSubs {
		c.bus.Unsubscribe(bus.TradesTopic(id), sub)
	}
	clear(c.quoteSubs)
	clear(c.tradeSubs)
	c.connected = false
	logs.Infof("[Sandbox] %s disconnected", c.cfg.Venue)
	return nil
}

// Reset forgets every order, fill and position the venue holds.
func (c *ExecutionClient) Reset() {
	for _, core := range c.cores {
		core.Reset()
	}
	clear(c.orders)
	clear(c.byVenueID)
	clear(c.positions)
	c.fills = nil
	c.orderSeq, c.tradeSeq = 0, 0
}

func (c *ExecutionClient) Core(id model.InstrumentID) (*matching.Core, bool) {
	core, ok := c.cores[id]
	return core, ok
}

func (c *ExecutionClient) checkConnected() error {
	if !c.connected {
		return fmt.Errorf("%w: sandbox %s", exception.ErrNotConnected, c.cfg.Venue)
	}
	return nil
}

func (c *ExecutionClient) coreFor(inst *model.Instrument) *matching.Core {
	if core, ok := c.cores[inst.ID]; ok {
		return core
	}
	core := matching.NewCore(inst.ID, inst.PriceIncrement, matching.Handlers{
		FillLimit:   c.fillAtTouch,
		FillMarket:  c.fillAtTouch,
		TriggerStop: c.triggerStop,
	})
	if q, ok := c.cache.Quote(inst.ID, 0); ok {
		core.SetBid(q.BidPrice)
		core.SetAsk(q.AskPrice)
	}
	if t, ok := c.cache.Trade(inst.ID, 0); ok {
		core.SetLast(t.Price)
	}
	c.cores[inst.ID] = core
	c.follow(inst.ID)
	return core
}

func (c *ExecutionClient) follow(id model.InstrumentID) {
	if _, ok := c.quoteSubs[id]; !ok {
		sub, err := c.bus.Subscribe(bus.QuotesTopic(id), c.onQuote, 0)
		if err != nil {
			logs.Errorf("[Sandbox] subscribe quotes %s: %+v", id, err)
		} else {
			c.quoteSubs[id] = sub
		}
	}
	if _, ok := c.tradeSubs[id]; !ok && c.cfg.UseTrades {
		sub, err := c.bus.Subscribe(bus.TradesTopic(id), c.onTrade, 0)
		if err != nil {
			logs.Errorf("[Sandbox] subscribe trades %s: %+v", id, err)
		} else {
			c.tradeSubs[id] = sub
		}
	}
}

func (c *ExecutionClient) onQuote(msg any) {
	if q, ok := msg.(model.QuoteTick); ok {
		c.ProcessQuote(q)
	}
}

func (c *ExecutionClient) onTrade(msg any) {
	if t, ok := msg.(model.TradeTick); ok {
		c.ProcessTrade(t)
	}
}

// ProcessQuote moves the bid and ask, then matches the resting orders.
func (c *ExecutionClient) ProcessQuote(q model.QuoteTick) {
	core, ok := c.cores[q.InstrumentID]
	if !ok {
		return
	}
	core.SetBid(q.BidPrice)
	core.SetAsk(q.AskPrice)
	c.iterate(core)
}

// ProcessTrade moves the last price. With UseTrades, and no quote seen
// since, the trade also sets the bid and ask.
func (c *ExecutionClient) ProcessTrade(t model.TradeTick) {
	core, ok := c.cores[t.InstrumentID]
	if !ok {
		return
	}
	core.SetLast(t.Price)
	if c.cfg.UseTrades {
		if _, ok := c.cache.Quote(t.InstrumentID, 0); !ok {
			core.SetBid(t.Price)
			core.SetAsk(t.Price)
		}
	}
	c.iterate(core)
}

func (c *ExecutionClient) iterate(core *matching.Core) {
	c.expire(core)
	core.Iterate()
}

// expire closes the resting GTD orders whose expire time has passed.
func (c *ExecutionClient) expire(core *matching.Core) {
	now := c.clock.TimestampNs()
	for _, o := range append(core.OrdersBid(), core.OrdersAsk()...) {
		if o.TimeInForce != enum.TimeInForceGTD || o.ExpireTime == 0 || o.ExpireTime > now {
			continue
		}
		v := c.orders[o.ClientOrderID]
		if v == nil {
			continue
		}
		core.DeleteOrder(o)
		c.close(v, enum.OrderStatusExpired, now)
		c.send(&og.OrderExpired{EventBase: c.base(o, now)})
	}
}

func (c *ExecutionClient) base(o *og.Order, ts model.UnixNanos) og.EventBase {
	b := og.BaseFor(o, ts)
	b.AccountID = c.cfg.AccountID
	if v, ok := c.orders[o.ClientOrderID]; ok {
		b.VenueOrderID = v.venueID
	}
	return b
}

func (c *ExecutionClient) send(ev og.OrderEvent) {
	if err := c.bus.Send(bus.EndpointExecProcess, ev); err != nil {
		logs.Errorf("[Sandbox] process %T for %s: %+v", ev, ev.Header().ClientOrderID, err)
	}
}

func (c *ExecutionClient) close(v *venueOrder, status enum.OrderStatus, ts model.UnixNanos) {
	v.status = status
	v.last = ts
}

func (c *ExecutionClient) SubmitOrder(cmd *command.SubmitOrder) error {
	if err := c.checkConnected(); err != nil {
		return err
	}
	o := cmd.Order
	ts := c.clock.TimestampNs()
	c.send(&og.OrderSubmitted{EventBase: c.base(o, ts)})
	c.process(o)
	return nil
}

// SubmitOrderList submits the orders one after another.
func (c *ExecutionClient) SubmitOrderList(cmd *command.SubmitOrderList) error {
	if err := c.checkConnected(); err != nil {
		return err
	}
	ts := c.clock.TimestampNs()
	for _, o := range cmd.List.Orders {
		c.send(&og.OrderSubmitted{EventBase: c.base(o, ts)})
	}
	for _, o := range cmd.List.Orders {
		if o.IsOpen() {
			c.process(o)
		}
	}
	return nil
}

func (c *ExecutionClient) reject(o *og.Order, reason string, postOnly bool) {
	logs.Warnf("[Sandbox] rejected %s: %s", o.ClientOrderID, reason)
	c.send(&og.OrderRejected{
		EventBase:     c.base(o, c.clock.TimestampNs()),
		Reason:        reason,
		DueToPostOnly: postOnly,
	})
}

// process accepts o, fills it when it is marketable, and otherwise rests it.
func (c *ExecutionClient) process(o *og.Order) {
	inst, ok := c.cache.Instrument(o.InstrumentID)
	if !ok {
		c.reject(o, fmt.Sprintf("no instrument %s on %s", o.InstrumentID, c.cfg.Venue), false)
		return
	}
	if _, ok := c.orders[o.ClientOrderID]; ok {
		c.reject(o, fmt.Sprintf("duplicate client order id %s", o.ClientOrderID), false)
		return
	}
	core := c.coreFor(inst)

	if o.Type == enum.OrderTypeMarket {
		if _, ok := c.touch(core, o.Side); !ok {
			c.reject(o, fmt.Sprintf("no market for %s", o.InstrumentID), false)
			return
		}
	}
	if o.PostOnly && o.Price != nil && core.IsLimitMatched(o.Side, *o.Price) {
		c.reject(o, fmt.Sprintf("post-only %s at %s would take liquidity", o.Side, o.Price), true)
		return
	}

	c.orderSeq++
	ts := c.clock.TimestampNs()
	v := &venueOrder{
		order:    o,
		venueID:  model.MustVenueOrderID(fmt.Sprintf("%s-%d", c.cfg.Venue, c.orderSeq)),
		status:   enum.OrderStatusAccepted,
		filled:   model.QuantityFromRaw(0, o.Quantity.Precision),
		accepted: ts,
		last:     ts,
	}
	c.orders[o.ClientOrderID] = v
	c.byVenueID[v.venueID] = o.ClientOrderID
	c.send(&og.OrderAccepted{EventBase: c.base(o, ts)})

	core.MatchOrder(o)
	if !v.isOpen() {
		return
	}
	switch o.TimeInForce {
	case enum.TimeInForceIOC, enum.TimeInForceFOK:
		c.close(v, enum.OrderStatusCanceled, c.clock.TimestampNs())
		c.send(&og.OrderCanceled{EventBase: c.base(o, c.clock.TimestampNs())})
		return
	}
	if err := core.AddOrder(o); err != nil {
		logs.Errorf("[Sandbox] rest %s: %+v", o.ClientOrderID, err)
	}
}

// touch is the price an aggressive order on side would trade at.
func (c *ExecutionClient) touch(core *matching.Core, side enum.OrderSide) (model.Price, bool) {
	if side == enum.OrderSideBuy {
		return core.Ask()
	}
	return core.Bid()
}

func (c *ExecutionClient) fillAtTouch(o *og.Order) {
	core := c.cores[o.InstrumentID]
	px, ok := c.touch(core, o.Side)
	if !ok {
		return
	}
	liquidity := enum.LiquidityTaker
	if core.OrderExists(o.ClientOrderID) {
		liquidity = enum.LiquidityMaker
	}
	c.fill(core, o, px, liquidity)
}

// triggerStop fills stop-market style orders at the touch. Stop-limit style
// orders are triggered and then matched as limits.
func (c *ExecutionClient) triggerStop(o *og.Order) {
	switch o.Type {
	case enum.OrderTypeStopLimit, enum.OrderTypeLimitIfTouched, enum.OrderTypeTrailingStopLimit:
	default:
		c.fillAtTouch(o)
		return
	}
	v := c.orders[o.ClientOrderID]
	if v == nil {
		return
	}
	ts := c.clock.TimestampNs()
	v.status = enum.OrderStatusTriggered
	v.triggered, v.last = ts, ts
	c.send(&og.OrderTriggered{EventBase: c.base(o, ts)})
	core := c.cores[o.InstrumentID]
	core.UpdateOrder(o)
	core.MatchOrder(o)
}

// fill executes the whole leaves quantity at px.
func (c *ExecutionClient) fill(core *matching.Core, o *og.Order, px model.Price, liquidity enum.LiquiditySide) {
	v := c.orders[o.ClientOrderID]
	if v == nil || !v.isOpen() {
		return
	}
	inst, ok := c.cache.Instrument(o.InstrumentID)
	if !ok {
		return
	}
	qty := o.Quantity.Sub(v.filled)
	if !qty.IsPositive() {
		return
	}
	ts := c.clock.TimestampNs()
	c.tradeSeq++
	trade := model.MustTradeID(fmt.Sprintf("%s-T%d", c.cfg.Venue, c.tradeSeq))
	commission := inst.Commission(qty, px, liquidity)

	prev := v.filled.Decimal()
	v.filled = v.filled.Add(qty)
	v.avgPx = prev.Mul(v.avgPx).Add(qty.Mul(px)).Div(v.filled.Decimal())
	v.status = enum.OrderStatusFilled
	v.last = ts
	core.DeleteOrder(o)
	c.updatePosition(o.InstrumentID, o.Side, qty, px, ts)

	c.fills = append(c.fills, model.FillReport{
		AccountID:     c.cfg.AccountID,
		InstrumentID:  o.InstrumentID,
		ClientOrderID: o.ClientOrderID,
		VenueOrderID:  v.venueID,
		TradeID:       trade,
		Side:          o.Side,
		LastQty:       qty,
		LastPx:        px,
		Commission:    commission,
		LiquiditySide: liquidity,
		ReportID:      model.NewUUID4(),
		TsEvent:       ts,
		TsInit:        ts,
	})
	logs.Debugf("[Sandbox] filled %s %s %s @ %s (%s)", o.ClientOrderID, o.Side, qty, px, liquidity)
	c.send(&og.OrderFilled{
		EventBase:     c.base(o, ts),
		TradeID:       trade,
		Side:          o.Side,
		Type:          o.Type,
		LastQty:       qty,
		LastPx:        px,
		Currency:      inst.QuoteCurrency,
		Commission:    commission,
		LiquiditySide: liquidity,
	})
}

func (c *ExecutionClient) updatePosition(id model.InstrumentID, side enum.OrderSide, qty model.Quantity, px model.Price, ts model.UnixNanos) {
	p, ok := c.positions[id]
	if !ok {
		p = &netPosition{}
		c.positions[id] = p
	}
	signed := qty.Decimal()
	if side == enum.OrderSideSell {
		signed = signed.Neg()
	}
	next := p.qty.Add(signed)
	switch {
	case next.IsZero():
		p.avgPx = decimal.Zero
	case p.qty.IsZero() || p.qty.Sign() != next.Sign():
		p.avgPx = px.Decimal()
	case p.qty.Sign() == signed.Sign():
		p.avgPx = p.qty.Abs().Mul(p.avgPx).Add(qty.Mul(px)).Div(next.Abs())
	}
	p.qty = next
	p.last = ts
}

// lookup finds an order the venue accepted by either id.
func (c *ExecutionClient) lookup(id model.ClientOrderID, venueID model.VenueOrderID) (*venueOrder, bool) {
	if v, ok := c.orders[id]; ok {
		return v, true
	}
	if coid, ok := c.byVenueID[venueID]; ok {
		v, ok := c.orders[coid]
		return v, ok
	}
	return nil, false
}

func (c *ExecutionClient) ModifyOrder(cmd *command.ModifyOrder) error {
	if err := c.checkConnected(); err != nil {
		return err
	}
	v, ok := c.lookup(cmd.ClientOrderID, cmd.VenueOrderID)
	if !ok {
		return c.refuse(cmd.ClientOrderID, func(o *og.Order, ts model.UnixNanos) og.OrderEvent {
			return &og.OrderModifyRejected{EventBase: c.base(o, ts), Reason: "order not found"}
		})
	}
	o := v.order
	ts := c.clock.TimestampNs()
	modifyRejected := func(reason string) error {
		c.send(&og.OrderModifyRejected{EventBase: c.base(o, ts), Reason: reason})
		return nil
	}
	if !v.isOpen() {
		return modifyRejected(fmt.Sprintf("order is %s", v.status))
	}
	qty := o.Quantity
	if cmd.Quantity != nil {
		qty = *cmd.Quantity
	}
	if qty.LessThan(v.filled) {
		return modifyRejected(fmt.Sprintf("quantity %s below filled %s", qty, v.filled))
	}
	core := c.cores[o.InstrumentID]
	if o.PostOnly && cmd.Price != nil && core.IsLimitMatched(o.Side, *cmd.Price) {
		return modifyRejected(fmt.Sprintf("post-only %s at %s would take liquidity", o.Side, cmd.Price))
	}
	v.last = ts
	c.send(&og.OrderUpdated{EventBase: c.base(o, ts), Quantity: qty, Price: cmd.Price, TriggerPrice: cmd.TriggerPrice})
	core.UpdateOrder(o)
	core.MatchOrder(o)
	return nil
}

// refuse answers a command about an order the venue never accepted.
func (c *ExecutionClient) refuse(id model.ClientOrderID, event func(*og.Order, model.UnixNanos) og.OrderEvent) error {
	o, ok := c.cache.Order(id)
	if !ok {
		return fmt.Errorf("%w: %s on %s", exception.ErrUnknownClientOrderID, id, c.cfg.Venue)
	}
	c.send(event(o, c.clock.TimestampNs()))
	return nil
}

func (c *ExecutionClient) CancelOrder(cmd *command.CancelOrder) error {
	if err := c.checkConnected(); err != nil {
		return err
	}
	v, ok := c.lookup(cmd.ClientOrderID, cmd.VenueOrderID)
	if !ok {
		return c.refuse(cmd.ClientOrderID, func(o *og.Order, ts model.UnixNanos) og.OrderEvent {
			return &og.OrderCancelRejected{EventBase: c.base(o, ts), Reason: "order not found"}
		})
	}
	c.cancel(v)
	return nil
}

func (c *ExecutionClient) cancel(v *venueOrder) {
	o := v.order
	ts := c.clock.TimestampNs()
	if !v.isOpen() {
		c.send(&og.OrderCancelRejected{EventBase: c.base(o, ts), Reason: fmt.Sprintf("order is %s", v.status)})
		return
	}
	if core, ok := c.cores[o.InstrumentID]; ok {
		core.DeleteOrder(o)
	}
	c.close(v, enum.OrderStatusCanceled, ts)
	c.send(&og.OrderCanceled{EventBase: c.base(o, ts)})
}

// CancelAllOrders cancels the strategy's open orders on the instrument.
func (c *ExecutionClient) CancelAllOrders(cmd *command.CancelAllOrders) error {
	if err := c.checkConnected(); err != nil {
		return err
	}
	core, ok := c.cores[cmd.InstrumentID]
	if !ok {
		return nil
	}
	for _, o := range append(core.OrdersBid(), core.OrdersAsk()...) {
		if cmd.Side != enum.OrderSideNone && o.Side != cmd.Side {
			continue
		}
		if !cmd.StrategyID.IsZero() && o.StrategyID != cmd.StrategyID {
			continue
		}
		if v, ok := c.orders[o.ClientOrderID]; ok {
			c.cancel(v)
		}
	}
	return nil
}

func (c *ExecutionClient) BatchCancelOrders(cmd *command.BatchCancelOrders) error {
	if err := c.checkConnected(); err != nil {
		return err
	}
	for _, cancel := range cmd.Cancels {
		if err := c.CancelOrder(cancel); err != nil {
			logs.Warnf("[Sandbox] batch cancel %s: %+v", cancel.ClientOrderID, err)
		}
	}
	return nil
}

// QueryOrder answers with a status report on ExecEngine.reconcile.
func (c *ExecutionClient) QueryOrder(cmd *command.QueryOrder) error {
	if err := c.checkConnected(); err != nil {
		return err
	}
	v, ok := c.lookup(cmd.ClientOrderID, cmd.VenueOrderID)
	if !ok {
		return fmt.Errorf("%w: query %s on %s", exception.ErrUnknownClientOrderID, cmd.ClientOrderID, c.cfg.Venue)
	}
	report := c.statusReport(v)
	if !c.bus.IsRegistered(bus.EndpointExecReconcile) {
		logs.Infof("[Sandbox] %s is %s, filled %s", v.order.ClientOrderID, report.Status, report.FilledQty)
		return nil
	}
	return c.bus.Send(bus.EndpointExecReconcile, &report)
}
