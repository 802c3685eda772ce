// Package emulator holds orders locally until market data triggers them, then
// releases them to the execution engine as plain market or limit orders.
package emulator

import (
	"fmt"

	"github.com/yanun0323/logs"
	"go.uber.org/multierr"

	"hftcore/internal/bus"
	"hftcore/internal/cache"
	"hftcore/internal/clock"
	"hftcore/internal/command"
	"hftcore/internal/matching"
	"hftcore/internal/model"
	"hftcore/internal/model/enum"
	"hftcore/internal/og"
	"hftcore/pkg/exception"
)

type Stats struct {
	Emulated uint64
	Released uint64
	Canceled uint64
	Denied   uint64
}

// Emulator must only be used from the runner goroutine.
type Emulator struct {
	clock clock.Clock
	bus   *bus.MessageBus
	cache *cache.Cache

	cores    map[model.InstrumentID]*matching.Core
	commands map[model.ClientOrderID]*command.SubmitOrder
	quotes   map[model.InstrumentID]uint64
	trades   map[model.InstrumentID]uint64
	eventSub uint64

	stats Stats
}

func New(clk clock.Clock, mb *bus.MessageBus, c *cache.Cache) *Emulator {
	return &Emulator{
		clock:    clk,
		bus:      mb,
		cache:    c,
		cores:    map[model.InstrumentID]*matching.Core{},
		commands: map[model.ClientOrderID]*command.SubmitOrder{},
		quotes:   map[model.InstrumentID]uint64{},
		trades:   map[model.InstrumentID]uint64{},
	}
}

func (e *Emulator) Stats() Stats { return e.stats }

// RegisterEndpoints binds the emulator's endpoints and follows every order event.
func (e *Emulator) RegisterEndpoints() error {
	err := multierr.Combine(
		e.bus.Register(bus.EndpointEmulatorExecute, e.onExecute),
		e.bus.Register(bus.EndpointEmulatorOnEvent, e.onEvent),
	)
	if err != nil {
		return err
	}
	e.eventSub, err = e.bus.Subscribe(bus.TopicAllOrderEvents, e.onEvent, 0)
	return err
}

// Start resumes every order the cache still holds as emulated.
func (e *Emulator) Start() {
	for _, o := range e.cache.OrdersEmulated(cache.Filter{}) {
		if _, ok := e.commands[o.ClientOrderID]; ok {
			continue
		}
		pid, _ := e.cache.PositionID(o.ClientOrderID)
		logs.Infof("[OrderEmulator] resuming %s", o.ClientOrderID)
		e.Submit(command.NewSubmitOrder(o, pid, e.clock.TimestampNs()))
	}
}

// Dispose drops every emulation and data subscription.
func (e *Emulator) Dispose() {
	for id, sub := range e.quotes {
		e.bus.Unsubscribe(bus.QuotesTopic(id), sub)
	}
	for id, sub := range e.trades {
		e.bus.Unsubscribe(bus.TradesTopic(id), sub)
	}
	if e.eventSub != 0 {
		e.bus.Unsubscribe(bus.TopicAllOrderEvents, e.eventSub)
	}
	clear(e.quotes)
	clear(e.trades)
	clear(e.cores)
	clear(e.commands)
}

func (e *Emulator) Core(id model.InstrumentID) (*matching.Core, bool) {
	c, ok := e.cores[id]
	return c, ok
}

// Command returns the submit command of an order held by the emulator.
func (e *Emulator) Command(id model.ClientOrderID) (*command.SubmitOrder, bool) {
	cmd, ok := e.commands[id]
	return cmd, ok
}

func (e *Emulator) IsEmulating(id model.ClientOrderID) bool {
	_, ok := e.commands[id]
	return ok
}

func (e *Emulator) SubscribedQuotes(id model.InstrumentID) bool {
	_, ok := e.quotes[id]
	return ok
}

func (e *Emulator) SubscribedTrades(id model.InstrumentID) bool {
	_, ok := e.trades[id]
	return ok
}

func (e *Emulator) onExecute(msg any) {
	switch cmd := msg.(type) {
	case *command.SubmitOrder:
		e.Submit(cmd)
	case *command.ModifyOrder:
		e.Modify(cmd)
	case *command.CancelOrder:
		e.Cancel(cmd)
	case *command.CancelAllOrders:
		e.CancelAll(cmd)
	default:
		logs.Errorf("[OrderEmulator] execute: unexpected %T", msg)
	}
}

func (e *Emulator) onEvent(msg any) {
	ev, ok := msg.(og.OrderEvent)
	if !ok {
		return
	}
	id := ev.Header().ClientOrderID
	cmd, ok := e.commands[id]
	if !ok {
		return
	}
	o := cmd.Order
	core := e.cores[o.TriggerInstrumentID]
	if o.IsClosed() {
		delete(e.commands, id)
		if core != nil {
			core.DeleteOrder(o)
		}
		return
	}
	if _, ok := ev.(*og.OrderUpdated); ok && core != nil {
		core.UpdateOrder(o)
	}
}

// supported reports why o cannot be emulated, if it cannot.
func supported(o *og.Order) error {
	switch o.EmulationTrigger {
	case enum.TriggerTypeDefault, enum.TriggerTypeBidAsk, enum.TriggerTypeLastPrice:
	default:
		return fmt.Errorf("%w: emulation trigger %s not supported", exception.ErrInvalidArgument, o.EmulationTrigger)
	}
	switch o.Type {
	case enum.OrderTypeMarket, enum.OrderTypeMarketToLimit:
		return fmt.Errorf("%w: %s orders cannot be emulated", exception.ErrInvalidArgument, o.Type)
	}
	if o.Type.IsTrailing() {
		switch o.TriggerType {
		case enum.TriggerTypeDefault, enum.TriggerTypeLastPrice, enum.TriggerTypeMarkPrice,
			enum.TriggerTypeBidAsk, enum.TriggerTypeLastOrBidAsk:
		default:
			return fmt.Errorf("%w: trailing trigger type %s not supported", exception.ErrInvalidArgument, o.TriggerType)
		}
	}
	return nil
}

// Submit starts emulating cmd's order. Orders already marketable are released at once.
func (e *Emulator) Submit(cmd *command.SubmitOrder) {
	o := cmd.Order
	if err := supported(o); err != nil {
		e.deny(o, err.Error())
		return
	}
	inst, ok := e.cache.Instrument(o.TriggerInstrumentID)
	if !ok {
		e.deny(o, fmt.Sprintf("no instrument %s for emulation", o.TriggerInstrumentID))
		return
	}
	if _, ok := e.commands[o.ClientOrderID]; ok {
		logs.Warnf("[OrderEmulator] %s already emulated", o.ClientOrderID)
		return
	}

	core := e.coreFor(inst)
	e.subscribe(o)
	e.commands[o.ClientOrderID] = cmd

	if o.Type.IsTrailing() {
		e.updateTrailing(core, o)
	}
	core.MatchOrder(o)
	if _, ok := e.commands[o.ClientOrderID]; !ok {
		return
	}
	if err := core.AddOrder(o); err != nil {
		delete(e.commands, o.ClientOrderID)
		e.deny(o, err.Error())
		return
	}
	if o.Status == enum.OrderStatusInitialized {
		e.stats.Emulated++
		e.apply(&og.OrderEmulated{EventBase: og.BaseFor(o, e.clock.TimestampNs())})
	}
	logs.Debugf("[OrderEmulator] emulating %s %s %s on %s", o.ClientOrderID, o.Side, o.Type, o.EmulationTrigger)
}

func (e *Emulator) coreFor(inst *model.Instrument) *matching.Core {
	if c, ok := e.cores[inst.ID]; ok {
		return c
	}
	c := matching.NewCore(inst.ID, inst.PriceIncrement, matching.Handlers{
		FillLimit:   e.fillLimit,
		FillMarket:  e.fillMarket,
		TriggerStop: e.triggerStop,
	})
	if q, ok := e.cache.Quote(inst.ID, 0); ok {
		c.SetBid(q.BidPrice)
		c.SetAsk(q.AskPrice)
	}
	if t, ok := e.cache.Trade(inst.ID, 0); ok {
		c.SetLast(t.Price)
	}
	e.cores[inst.ID] = c
	return c
}

func needsQuotes(o *og.Order) bool {
	if o.EmulationTrigger == enum.TriggerTypeDefault || o.EmulationTrigger == enum.TriggerTypeBidAsk {
		return true
	}
	return o.Type.IsTrailing() && (o.TriggerType == enum.TriggerTypeBidAsk || o.TriggerType == enum.TriggerTypeLastOrBidAsk)
}

func needsTrades(o *og.Order) bool {
	if o.EmulationTrigger == enum.TriggerTypeLastPrice {
		return true
	}
	if !o.Type.IsTrailing() {
		return false
	}
	switch o.TriggerType {
	case enum.TriggerTypeDefault, enum.TriggerTypeLastPrice, enum.TriggerTypeMarkPrice, enum.TriggerTypeLastOrBidAsk:
		return true
	}
	return false
}

func (e *Emulator) subscribe(o *og.Order) {
	id := o.TriggerInstrumentID
	if _, ok := e.quotes[id]; !ok && needsQuotes(o) {
		sub, err := e.bus.Subscribe(bus.QuotesTopic(id), e.onQuote, 0)
		if err != nil {
			logs.Errorf("[OrderEmulator] subscribe quotes %s: %+v", id, err)
		} else {
			e.quotes[id] = sub
			e.requestData(id, enum.DataQuote)
		}
	}
	if _, ok := e.trades[id]; !ok && needsTrades(o) {
		sub, err := e.bus.Subscribe(bus.TradesTopic(id), e.onTrade, 0)
		if err != nil {
			logs.Errorf("[OrderEmulator] subscribe trades %s: %+v", id, err)
		} else {
			e.trades[id] = sub
			e.requestData(id, enum.DataTrade)
		}
	}
}

// requestData asks the data engine for the stream when one is running.
func (e *Emulator) requestData(id model.InstrumentID, kind enum.DataKind) {
	if !e.bus.IsRegistered(bus.EndpointDataExecute) {
		return
	}
	cmd := &command.Subscribe{
		DataBase: command.DataBase{Venue: id.Venue, CommandID: model.NewUUID4(), TsInit: e.clock.TimestampNs()},
		DataSpec: command.DataSpec{Kind: kind, InstrumentID: id},
	}
	if err := e.bus.Send(bus.EndpointDataExecute, cmd); err != nil {
		logs.Errorf("[OrderEmulator] subscribe %s %s: %+v", kind, id, err)
	}
}

func (e *Emulator) onQuote(msg any) {
	q, ok := msg.(model.QuoteTick)
	if !ok {
		return
	}
	core, ok := e.cores[q.InstrumentID]
	if !ok {
		return
	}
	core.SetBid(q.BidPrice)
	core.SetAsk(q.AskPrice)
	e.iterate(core)
}

func (e *Emulator) onTrade(msg any) {
	t, ok := msg.(model.TradeTick)
	if !ok {
		return
	}
	core, ok := e.cores[t.InstrumentID]
	if !ok {
		return
	}
	core.SetLast(t.Price)
	if _, ok := e.quotes[t.InstrumentID]; !ok {
		core.SetBid(t.Price)
		core.SetAsk(t.Price)
	}
	e.iterate(core)
}

// iterate matches the resting orders then moves the trailing stops left.
func (e *Emulator) iterate(core *matching.Core) {
	core.Iterate()
	for _, o := range append(core.OrdersBid(), core.OrdersAsk()...) {
		if o.Type.IsTrailing() {
			e.updateTrailing(core, o)
		}
	}
}

func pricePtr(p model.Price, ok bool) *model.Price {
	if !ok {
		return nil
	}
	return &p
}

func (e *Emulator) updateTrailing(core *matching.Core, o *og.Order) {
	if o.TsTriggered != 0 {
		return
	}
	ref := References{
		Bid:  pricePtr(core.Bid()),
		Ask:  pricePtr(core.Ask()),
		Last: pricePtr(core.Last()),
	}
	trigger, limit, err := TrailingStopCalculate(core.PriceIncrement, o, ref)
	if err != nil {
		// inactive until the references it follows arrive
		logs.Debugf("[OrderEmulator] trailing %s: %v", o.ClientOrderID, err)
		return
	}
	if trigger == nil && limit == nil {
		return
	}
	e.apply(&og.OrderUpdated{
		EventBase:    og.BaseFor(o, e.clock.TimestampNs()),
		Quantity:     o.Quantity,
		Price:        limit,
		TriggerPrice: trigger,
	})
	core.UpdateOrder(o)
}

func (e *Emulator) triggerStop(o *og.Order) {
	switch o.Type {
	case enum.OrderTypeStopLimit, enum.OrderTypeLimitIfTouched, enum.OrderTypeTrailingStopLimit:
		e.release(o, enum.OrderTypeLimit)
	default:
		e.release(o, enum.OrderTypeMarket)
	}
}

// fillLimit releases a marketable emulated limit as a market order.
func (e *Emulator) fillLimit(o *og.Order) { e.release(o, enum.OrderTypeMarket) }

func (e *Emulator) fillMarket(o *og.Order) { e.release(o, enum.OrderTypeMarket) }

// release hands o to the execution engine as a plain order of type t.
func (e *Emulator) release(o *og.Order, t enum.OrderType) {
	cmd, ok := e.commands[o.ClientOrderID]
	if !ok {
		logs.Errorf("[OrderEmulator] release %s: no submit command", o.ClientOrderID)
		return
	}
	core := e.cores[o.TriggerInstrumentID]

	var released model.Price
	if t == enum.OrderTypeLimit && o.Price != nil {
		released = *o.Price
	} else {
		px, ok := core.Ask()
		if o.IsSell() {
			px, ok = core.Bid()
		}
		if !ok {
			logs.Warnf("[OrderEmulator] cannot release %s: no %s reference", o.ClientOrderID, o.Side)
			return
		}
		released = px
	}

	delete(e.commands, o.ClientOrderID)
	core.DeleteOrder(o)
	o.Transform(t, o.Price)
	e.stats.Released++
	e.apply(&og.OrderReleased{EventBase: og.BaseFor(o, e.clock.TimestampNs()), ReleasedPrice: released})
	logs.Infof("[OrderEmulator] released %s as %s at %s", o.ClientOrderID, t, released)
	if err := e.bus.Send(bus.EndpointExecExecute, cmd); err != nil {
		logs.Errorf("[OrderEmulator] send %s: %+v", o.ClientOrderID, err)
	}
}

// Modify changes an emulated order locally and rematches it.
func (e *Emulator) Modify(cmd *command.ModifyOrder) {
	held, ok := e.commands[cmd.ClientOrderID]
	if !ok {
		logs.Warnf("[OrderEmulator] modify %s: not emulated", cmd.ClientOrderID)
		return
	}
	o := held.Order
	ts := e.clock.TimestampNs()
	if err := cmd.Validate(); err != nil {
		e.apply(&og.OrderModifyRejected{EventBase: og.BaseFor(o, ts), Reason: err.Error()})
		return
	}
	qty := o.Quantity
	if cmd.Quantity != nil {
		qty = *cmd.Quantity
	}
	e.apply(&og.OrderUpdated{EventBase: og.BaseFor(o, ts), Quantity: qty, Price: cmd.Price, TriggerPrice: cmd.TriggerPrice})
	if core, ok := e.cores[o.TriggerInstrumentID]; ok {
		core.UpdateOrder(o)
		core.MatchOrder(o)
	}
}

// Cancel cancels an emulated order locally.
func (e *Emulator) Cancel(cmd *command.CancelOrder) {
	held, ok := e.commands[cmd.ClientOrderID]
	if !ok {
		logs.Warnf("[OrderEmulator] cancel %s: not emulated", cmd.ClientOrderID)
		return
	}
	e.cancel(held.Order)
}

func (e *Emulator) cancel(o *og.Order) {
	delete(e.commands, o.ClientOrderID)
	if core, ok := e.cores[o.TriggerInstrumentID]; ok {
		core.DeleteOrder(o)
	}
	ts := e.clock.TimestampNs()
	e.stats.Canceled++
	if o.Status == enum.OrderStatusEmulated {
		e.apply(&og.OrderCanceled{EventBase: og.BaseFor(o, ts)})
		return
	}
	e.apply(&og.OrderDenied{EventBase: og.BaseFor(o, ts), Reason: "canceled before emulation"})
}

// CancelAll cancels the strategy's emulated orders on the instrument, on one side or both.
func (e *Emulator) CancelAll(cmd *command.CancelAllOrders) {
	orders := e.cache.OrdersEmulated(cache.Filter{
		InstrumentID: cmd.InstrumentID,
		StrategyID:   cmd.StrategyID,
		Side:         cmd.Side,
	})
	for _, o := range orders {
		if _, ok := e.commands[o.ClientOrderID]; ok {
			e.cancel(o)
		}
	}
}

func (e *Emulator) deny(o *og.Order, reason string) {
	e.stats.Denied++
	logs.Warnf("[OrderEmulator] denied %s: %s", o.ClientOrderID, reason)
	e.apply(&og.OrderDenied{EventBase: og.BaseFor(o, e.clock.TimestampNs()), Reason: reason})
}

// apply hands ev to the execution engine, which applies, caches and publishes it.
func (e *Emulator) apply(ev og.OrderEvent) {
	if err := e.bus.Send(bus.EndpointExecProcess, ev); err != nil {
		logs.Errorf("[OrderEmulator] process %T for %s: %+v", ev, ev.Header().ClientOrderID, err)
	}
}
