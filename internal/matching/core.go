// Package matching holds the matching core shared by the order emulator and
// the sandbox venue: resting orders per side and the rules deciding when an
// order is marketable against the current bid, ask and last.
package matching

import (
	"cmp"
	"fmt"
	"slices"

	"hftcore/internal/model"
	"hftcore/internal/model/enum"
	"hftcore/internal/og"
	"hftcore/pkg/exception"
)

// Handlers receive orders the core found marketable. Unset handlers are skipped.
type Handlers struct {
	FillLimit   func(o *og.Order)
	FillMarket  func(o *og.Order)
	TriggerStop func(o *og.Order)
}

type resting struct {
	order *og.Order
	seq   uint64
}

// Core is not safe for concurrent use.
type Core struct {
	InstrumentID   model.InstrumentID
	PriceIncrement model.Price

	bid, ask, last          model.Price
	hasBid, hasAsk, hasLast bool

	bids []resting
	asks []resting
	seq  uint64

	h Handlers
}

func NewCore(id model.InstrumentID, increment model.Price, h Handlers) *Core {
	return &Core{InstrumentID: id, PriceIncrement: increment, h: h}
}

func (c *Core) Bid() (model.Price, bool)  { return c.bid, c.hasBid }
func (c *Core) Ask() (model.Price, bool)  { return c.ask, c.hasAsk }
func (c *Core) Last() (model.Price, bool) { return c.last, c.hasLast }

func (c *Core) SetBid(p model.Price)  { c.bid, c.hasBid = p, true }
func (c *Core) SetAsk(p model.Price)  { c.ask, c.hasAsk = p, true }
func (c *Core) SetLast(p model.Price) { c.last, c.hasLast = p, true }

// Reset drops every resting order and reference price.
func (c *Core) Reset() {
	c.bids, c.asks = nil, nil
	c.hasBid, c.hasAsk, c.hasLast = false, false, false
}

func (c *Core) side(o *og.Order) *[]resting {
	if o.IsBuy() {
		return &c.bids
	}
	return &c.asks
}

// AddOrder rests o on its side in price-time priority. o must trade or
// trigger on the core's instrument.
func (c *Core) AddOrder(o *og.Order) error {
	if o.InstrumentID != c.InstrumentID && o.TriggerInstrumentID != c.InstrumentID {
		return fmt.Errorf("%w: matching core %s got order for %s", exception.ErrInvalidArgument, c.InstrumentID, o.InstrumentID)
	}
	if c.OrderExists(o.ClientOrderID) {
		return fmt.Errorf("%w: %s already resting", exception.ErrDuplicateKey, o.ClientOrderID)
	}
	c.seq++
	s := c.side(o)
	*s = append(*s, resting{order: o, seq: c.seq})
	c.sort(s, o.IsBuy())
	return nil
}

// UpdateOrder re-sorts o after its prices changed. A price change loses time priority.
func (c *Core) UpdateOrder(o *og.Order) {
	s := c.side(o)
	i := slices.IndexFunc(*s, func(r resting) bool { return r.order.ClientOrderID == o.ClientOrderID })
	if i < 0 {
		return
	}
	c.seq++
	(*s)[i] = resting{order: o, seq: c.seq}
	c.sort(s, o.IsBuy())
}

func (c *Core) DeleteOrder(o *og.Order) bool {
	s := c.side(o)
	n := len(*s)
	*s = slices.DeleteFunc(*s, func(r resting) bool { return r.order.ClientOrderID == o.ClientOrderID })
	return len(*s) != n
}

func (c *Core) Order(id model.ClientOrderID) (*og.Order, bool) {
	for _, s := range [][]resting{c.bids, c.asks} {
		for _, r := range s {
			if r.order.ClientOrderID == id {
				return r.order, true
			}
		}
	}
	return nil, false
}

func (c *Core) OrderExists(id model.ClientOrderID) bool {
	_, ok := c.Order(id)
	return ok
}

func orders(s []resting) []*og.Order {
	out := make([]*og.Order, len(s))
	for i, r := range s {
		out[i] = r.order
	}
	return out
}

// OrdersBid returns resting buys, best first.
func (c *Core) OrdersBid() []*og.Order { return orders(c.bids) }

// OrdersAsk returns resting sells, best first.
func (c *Core) OrdersAsk() []*og.Order { return orders(c.asks) }

func (c *Core) OrderCount() int { return len(c.bids) + len(c.asks) }

// priorityPrice is the price an order competes on: the limit price once it
// can rest as a limit, otherwise its trigger.
func priorityPrice(o *og.Order) (model.Price, bool) {
	if isLimitPhase(o) && o.Price != nil {
		return *o.Price, true
	}
	if o.TriggerPrice != nil {
		return *o.TriggerPrice, true
	}
	if o.Price != nil {
		return *o.Price, true
	}
	return model.Price{}, false
}

func (c *Core) sort(s *[]resting, buy bool) {
	slices.SortStableFunc(*s, func(a, b resting) int {
		pa, oka := priorityPrice(a.order)
		pb, okb := priorityPrice(b.order)
		if oka && okb && pa.Raw != pb.Raw {
			if buy {
				return cmp.Compare(pb.Raw, pa.Raw)
			}
			return cmp.Compare(pa.Raw, pb.Raw)
		}
		if oka != okb {
			// unpriced orders (inactive trailing stops) go last
			if oka {
				return -1
			}
			return 1
		}
		return cmp.Compare(a.seq, b.seq)
	})
}

// Iterate matches every resting order against the current references, bids
// first. Handlers may add or delete orders while iterating.
func (c *Core) Iterate() {
	for _, o := range orders(c.bids) {
		if c.OrderExists(o.ClientOrderID) {
			c.MatchOrder(o)
		}
	}
	for _, o := range orders(c.asks) {
		if c.OrderExists(o.ClientOrderID) {
			c.MatchOrder(o)
		}
	}
}

// isLimitPhase reports whether o matches as a plain limit order right now.
func isLimitPhase(o *og.Order) bool {
	switch o.Type {
	case enum.OrderTypeLimit, enum.OrderTypeMarketToLimit:
		return true
	case enum.OrderTypeStopLimit, enum.OrderTypeLimitIfTouched, enum.OrderTypeTrailingStopLimit:
		return o.Status == enum.OrderStatusTriggered || o.TsTriggered != 0
	}
	return false
}

// MatchOrder invokes the handler o qualifies for, if any.
func (c *Core) MatchOrder(o *og.Order) {
	if o.IsClosed() {
		return
	}
	switch o.Type {
	case enum.OrderTypeMarket:
		c.call(c.h.FillMarket, o)
	case enum.OrderTypeLimit, enum.OrderTypeMarketToLimit:
		c.matchLimit(o)
	case enum.OrderTypeStopMarket, enum.OrderTypeTrailingStopMarket:
		c.matchStop(o)
	case enum.OrderTypeStopLimit, enum.OrderTypeTrailingStopLimit:
		if isLimitPhase(o) {
			c.matchLimit(o)
			return
		}
		c.matchStop(o)
	case enum.OrderTypeMarketIfTouched:
		c.matchTouch(o)
	case enum.OrderTypeLimitIfTouched:
		if isLimitPhase(o) {
			c.matchLimit(o)
			return
		}
		c.matchTouch(o)
	}
}

func (c *Core) call(h func(*og.Order), o *og.Order) {
	if h != nil {
		h(o)
	}
}

func (c *Core) matchLimit(o *og.Order) {
	if o.Price != nil && c.IsLimitMatched(o.Side, *o.Price) {
		c.call(c.h.FillLimit, o)
	}
}

func (c *Core) matchStop(o *og.Order) {
	// trailing stops without a trigger are not activated yet
	if o.TriggerPrice == nil {
		return
	}
	if c.IsStopMatched(o.Side, *o.TriggerPrice) {
		c.call(c.h.TriggerStop, o)
	}
}

func (c *Core) matchTouch(o *og.Order) {
	if o.TriggerPrice != nil && c.IsTouchTriggered(o.Side, *o.TriggerPrice) {
		c.call(c.h.TriggerStop, o)
	}
}

// IsLimitMatched reports whether a limit at price is marketable: a buy needs
// ask <= price, a sell needs bid >= price.
func (c *Core) IsLimitMatched(side enum.OrderSide, price model.Price) bool {
	switch side {
	case enum.OrderSideBuy:
		return c.hasAsk && c.ask.LessOrEqual(price)
	case enum.OrderSideSell:
		return c.hasBid && c.bid.GreaterOrEqual(price)
	}
	return false
}

// IsStopMatched reports whether a stop at trigger has fired: a buy needs
// ask >= trigger, a sell needs bid <= trigger.
func (c *Core) IsStopMatched(side enum.OrderSide, trigger model.Price) bool {
	switch side {
	case enum.OrderSideBuy:
		return c.hasAsk && c.ask.GreaterOrEqual(trigger)
	case enum.OrderSideSell:
		return c.hasBid && c.bid.LessOrEqual(trigger)
	}
	return false
}

// IsTouchTriggered reports whether an if-touched order has been touched: a
// buy needs ask <= trigger, a sell needs bid >= trigger.
func (c *Core) IsTouchTriggered(side enum.OrderSide, trigger model.Price) bool {
	switch side {
	case enum.OrderSideBuy:
		return c.hasAsk && c.ask.LessOrEqual(trigger)
	case enum.OrderSideSell:
		return c.hasBid && c.bid.GreaterOrEqual(trigger)
	}
	return false
}
