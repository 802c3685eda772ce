package risk

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"
	"golang.org/x/time/rate"

	"hftcore/internal/bus"
	"hftcore/internal/cache"
	"hftcore/internal/clock"
	"hftcore/internal/command"
	"hftcore/internal/model"
	"hftcore/internal/model/enum"
	"hftcore/internal/og"
)

var bpsDivisor = decimal.NewFromInt(10_000)

// Config defines pre-trade limits. Zero values disable a check.
type Config struct {
	Bypass               bool                       `json:"bypass" yaml:"bypass"`
	State                enum.TradingState          `json:"trading_state" yaml:"trading_state"`
	MaxOrderSubmitRate   int                        `json:"max_order_submit_rate" yaml:"max_order_submit_rate"`
	MaxOrderModifyRate   int                        `json:"max_order_modify_rate" yaml:"max_order_modify_rate"`
	RateWindow           time.Duration              `json:"rate_window" yaml:"rate_window"`
	MaxOrderQty          decimal.Decimal            `json:"max_order_qty" yaml:"max_order_qty"`
	MaxNotionalPerOrder  map[string]decimal.Decimal `json:"max_notional_per_order" yaml:"max_notional_per_order"`
	MaxPriceDeviationBps int64                      `json:"max_price_deviation_bps" yaml:"max_price_deviation_bps"`
}

func DefaultConfig() Config {
	return Config{
		MaxOrderSubmitRate: 100,
		MaxOrderModifyRate: 100,
		RateWindow:         time.Second,
	}
}

type Stats struct {
	Checked   uint64
	Denied    uint64
	Throttled uint64
}

// Engine sits between the runner and the execution engine. Allowed commands
// are forwarded to ExecEngine.execute, denied ones become OrderDenied or
// OrderModifyRejected events.
type Engine struct {
	cfg   Config
	clock clock.Clock
	bus   *bus.MessageBus
	cache *cache.Cache

	state  enum.TradingState
	submit *rate.Limiter
	modify *rate.Limiter

	stats Stats
}

func limiter(n int, window time.Duration) *rate.Limiter {
	if n <= 0 || window <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Every(window/time.Duration(n)), n)
}

func NewEngine(cfg Config, clk clock.Clock, mb *bus.MessageBus, c *cache.Cache) *Engine {
	if cfg.State == 0 {
		cfg.State = enum.TradingActive
	}
	return &Engine{
		cfg:    cfg,
		clock:  clk,
		bus:    mb,
		cache:  c,
		state:  cfg.State,
		submit: limiter(cfg.MaxOrderSubmitRate, cfg.RateWindow),
		modify: limiter(cfg.MaxOrderModifyRate, cfg.RateWindow),
	}
}

func (e *Engine) Stats() Stats { return e.stats }

func (e *Engine) TradingState() enum.TradingState { return e.state }

// SetTradingState switches the kill switch. Halted denies every new order and
// modification, Reducing only allows orders that shrink a position.
func (e *Engine) SetTradingState(s enum.TradingState) {
	if s == e.state {
		return
	}
	logs.Warnf("[RiskEngine] trading state %s -> %s", e.state, s)
	e.state = s
}

func (e *Engine) RegisterEndpoints() error {
	return e.bus.Register(bus.EndpointRiskExecute, e.onExecute)
}

func (e *Engine) onExecute(msg any) {
	cmd, ok := msg.(command.TradingCommand)
	if !ok {
		logs.Errorf("[RiskEngine] execute: unexpected %T", msg)
		return
	}
	e.Execute(cmd)
}

// Execute checks cmd and forwards it when allowed.
func (e *Engine) Execute(cmd command.TradingCommand) {
	if e.cfg.Bypass {
		e.forward(cmd)
		return
	}
	e.stats.Checked++
	switch c := cmd.(type) {
	case *command.SubmitOrder:
		if reason := e.checkSubmit(c.Order, c.PositionID); reason != "" {
			e.deny(c.Order, c.PositionID, c.ClientID, reason)
			return
		}
	case *command.SubmitOrderList:
		for _, o := range c.List.Orders {
			if reason := e.checkSubmit(o, c.PositionID); reason != "" {
				for _, denied := range c.List.Orders {
					e.deny(denied, c.PositionID, c.ClientID, fmt.Sprintf("order list %s: %s", c.List.ID, reason))
				}
				return
			}
		}
	case *command.ModifyOrder:
		if reason := e.checkModify(c); reason != "" {
			e.rejectModify(c, reason)
			return
		}
	}
	e.forward(cmd)
}

func (e *Engine) forward(cmd command.TradingCommand) {
	if err := e.bus.Send(bus.EndpointExecExecute, cmd); err != nil {
		logs.Errorf("[RiskEngine] forward %s: %+v", cmd.Name(), err)
	}
}

func (e *Engine) allow(l *rate.Limiter) bool {
	if l == nil || l.AllowN(e.clock.UtcNow(), 1) {
		return true
	}
	e.stats.Throttled++
	return false
}

// checkSubmit returns the reason o must be denied, or "".
func (e *Engine) checkSubmit(o *og.Order, positionID model.PositionID) string {
	if e.state == enum.TradingHalted {
		return "trading state HALTED"
	}
	if e.state == enum.TradingReducing && !e.reduces(o, positionID) {
		return "trading state REDUCING and order would increase position"
	}
	if !e.allow(e.submit) {
		return "submit rate limit exceeded"
	}
	if !e.cfg.MaxOrderQty.IsZero() && o.Quantity.Decimal().GreaterThan(e.cfg.MaxOrderQty) {
		return fmt.Sprintf("quantity %s exceeds max %s", o.Quantity, e.cfg.MaxOrderQty)
	}

	inst, ok := e.cache.Instrument(o.InstrumentID)
	if !ok {
		// left to the execution engine, which knows the instruments it routes
		return ""
	}
	px, ok := e.referencePrice(o)
	if !ok {
		return ""
	}
	if limit, ok := e.cfg.MaxNotionalPerOrder[o.InstrumentID.String()]; ok && !o.QuoteQuantity {
		notional := inst.NotionalValue(o.Quantity, px)
		if notional.Decimal().GreaterThan(limit) {
			return fmt.Sprintf("notional %s exceeds max %s", notional, limit)
		}
	}
	if e.cfg.MaxPriceDeviationBps > 0 && o.Price != nil {
		ref, ok := e.cache.Price(o.InstrumentID, enum.PriceTypeMid)
		if ok && ref.IsPositive() {
			dev := o.Price.Decimal().Sub(ref.Decimal()).Abs().Mul(bpsDivisor).Div(ref.Decimal())
			if dev.GreaterThan(decimal.NewFromInt(e.cfg.MaxPriceDeviationBps)) {
				return fmt.Sprintf("price %s deviates %s bps from %s", o.Price, dev.StringFixed(1), ref)
			}
		}
	}
	return ""
}

// referencePrice is the price the order is expected to trade at.
func (e *Engine) referencePrice(o *og.Order) (model.Price, bool) {
	if o.Price != nil {
		return *o.Price, true
	}
	if o.TriggerPrice != nil {
		return *o.TriggerPrice, true
	}
	pt := enum.PriceTypeAsk
	if o.IsSell() {
		pt = enum.PriceTypeBid
	}
	if px, ok := e.cache.Price(o.InstrumentID, pt); ok {
		return px, true
	}
	return e.cache.Price(o.InstrumentID, enum.PriceTypeLast)
}

// reduces reports whether o can only shrink the position it trades against.
func (e *Engine) reduces(o *og.Order, positionID model.PositionID) bool {
	var signed decimal.Decimal
	if !positionID.IsZero() {
		if p, ok := e.cache.Position(positionID); ok {
			signed = p.SignedQty()
		}
	} else {
		for _, p := range e.cache.PositionsOpen(cache.Filter{InstrumentID: o.InstrumentID, StrategyID: o.StrategyID}, enum.PositionSideNone) {
			signed = signed.Add(p.SignedQty())
		}
	}
	qty := o.Quantity.Decimal()
	switch {
	case signed.IsPositive():
		return o.IsSell() && qty.LessThanOrEqual(signed)
	case signed.IsNegative():
		return o.IsBuy() && qty.LessThanOrEqual(signed.Neg())
	}
	return false
}

func (e *Engine) checkModify(c *command.ModifyOrder) string {
	if e.state == enum.TradingHalted {
		return "trading state HALTED"
	}
	if !e.allow(e.modify) {
		return "modify rate limit exceeded"
	}
	if e.state == enum.TradingReducing && c.Quantity != nil {
		if o, ok := e.cache.Order(c.ClientOrderID); ok && c.Quantity.GreaterThan(o.Quantity) {
			return "trading state REDUCING and modify would increase quantity"
		}
	}
	if c.Quantity != nil && !e.cfg.MaxOrderQty.IsZero() && c.Quantity.Decimal().GreaterThan(e.cfg.MaxOrderQty) {
		return fmt.Sprintf("quantity %s exceeds max %s", c.Quantity, e.cfg.MaxOrderQty)
	}
	return ""
}

func (e *Engine) deny(o *og.Order, positionID model.PositionID, clientID model.ClientID, reason string) {
	e.stats.Denied++
	logs.Warnf("[RiskEngine] denied %s: %s", o.ClientOrderID, reason)
	if !e.cache.OrderExists(o.ClientOrderID) {
		if err := e.cache.AddOrder(o, positionID, clientID); err != nil {
			logs.Errorf("[RiskEngine] cache %s: %+v", o.ClientOrderID, err)
			return
		}
	}
	if o.IsClosed() {
		return
	}
	ev := &og.OrderDenied{EventBase: og.BaseFor(o, e.clock.TimestampNs()), Reason: reason}
	if err := e.bus.Send(bus.EndpointExecProcess, ev); err != nil {
		logs.Errorf("[RiskEngine] deny %s: %+v", o.ClientOrderID, err)
	}
}

func (e *Engine) rejectModify(c *command.ModifyOrder, reason string) {
	e.stats.Denied++
	logs.Warnf("[RiskEngine] modify %s rejected: %s", c.ClientOrderID, reason)
	o, ok := e.cache.Order(c.ClientOrderID)
	if !ok || o.IsClosed() {
		return
	}
	ev := &og.OrderModifyRejected{EventBase: og.BaseFor(o, e.clock.TimestampNs()), Reason: reason}
	if err := e.bus.Send(bus.EndpointExecProcess, ev); err != nil {
		logs.Errorf("[RiskEngine] modify reject %s: %+v", c.ClientOrderID, err)
	}
}
