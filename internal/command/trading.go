// Package command defines the trading and data commands routed by the
// runner to the risk, execution and data engines.
package command

import (
	"fmt"

	"hftcore/internal/model"
	"hftcore/internal/model/enum"
	"hftcore/internal/og"
	"hftcore/pkg/exception"
)

// Base is embedded by every trading command.
type Base struct {
	TraderID     model.TraderID
	ClientID     model.ClientID
	StrategyID   model.StrategyID
	InstrumentID model.InstrumentID
	CommandID    model.UUID4
	TsInit       model.UnixNanos
	// Deadline is the latest time the command may be dispatched. Zero means none.
	Deadline model.UnixNanos
}

func (b *Base) Header() *Base { return b }

// Expired reports whether the deadline has passed at now.
func (b *Base) Expired(now model.UnixNanos) bool { return b.Deadline != 0 && now > b.Deadline }

// TradingCommand is any command handled by the execution engine.
type TradingCommand interface {
	Header() *Base
	Name() string
}

func NewBase(trader model.TraderID, strategy model.StrategyID, instrument model.InstrumentID, ts model.UnixNanos) Base {
	return Base{
		TraderID:     trader,
		StrategyID:   strategy,
		InstrumentID: instrument,
		CommandID:    model.NewUUID4(),
		TsInit:       ts,
	}
}

type SubmitOrder struct {
	Base
	Order      *og.Order
	PositionID model.PositionID
}

// NewSubmitOrder wraps o with a header stamped at ts.
func NewSubmitOrder(o *og.Order, positionID model.PositionID, ts model.UnixNanos) *SubmitOrder {
	return &SubmitOrder{
		Base:       NewBase(o.TraderID, o.StrategyID, o.InstrumentID, ts),
		Order:      o,
		PositionID: positionID,
	}
}

type SubmitOrderList struct {
	Base
	List       *og.OrderList
	PositionID model.PositionID
}

func NewSubmitOrderList(l *og.OrderList, positionID model.PositionID, ts model.UnixNanos) *SubmitOrderList {
	first := l.First()
	return &SubmitOrderList{
		Base:       NewBase(first.TraderID, l.StrategyID, l.InstrumentID, ts),
		List:       l,
		PositionID: positionID,
	}
}

// ModifyOrder changes the working values of an order. Nil fields are left unchanged.
type ModifyOrder struct {
	Base
	ClientOrderID model.ClientOrderID
	VenueOrderID  model.VenueOrderID
	Quantity      *model.Quantity
	Price         *model.Price
	TriggerPrice  *model.Price
}

func (c *ModifyOrder) Validate() error {
	if c.ClientOrderID.IsZero() {
		return fmt.Errorf("%w: modify: client order id is empty", exception.ErrInvalidArgument)
	}
	if c.Quantity == nil && c.Price == nil && c.TriggerPrice == nil {
		return fmt.Errorf("%w: modify %s: nothing to change", exception.ErrInvalidArgument, c.ClientOrderID)
	}
	if c.Quantity != nil && !c.Quantity.IsPositive() {
		return fmt.Errorf("%w: modify %s: quantity must be positive", exception.ErrInvalidArgument, c.ClientOrderID)
	}
	return nil
}

type CancelOrder struct {
	Base
	ClientOrderID model.ClientOrderID
	VenueOrderID  model.VenueOrderID
}

func NewCancelOrder(o *og.Order, ts model.UnixNanos) *CancelOrder {
	return &CancelOrder{
		Base:          NewBase(o.TraderID, o.StrategyID, o.InstrumentID, ts),
		ClientOrderID: o.ClientOrderID,
		VenueOrderID:  o.VenueOrderID,
	}
}

// CancelAllOrders cancels every open order of the strategy on the instrument.
// OrderSideNone matches both sides.
type CancelAllOrders struct {
	Base
	Side enum.OrderSide
}

type BatchCancelOrders struct {
	Base
	Cancels []*CancelOrder
}

func (c *BatchCancelOrders) Validate() error {
	if len(c.Cancels) == 0 {
		return fmt.Errorf("%w: batch cancel is empty", exception.ErrInvalidArgument)
	}
	for _, cancel := range c.Cancels {
		if cancel.InstrumentID != c.InstrumentID {
			return fmt.Errorf("%w: batch cancel for %s contains %s", exception.ErrInvalidArgument,
				c.InstrumentID, cancel.InstrumentID)
		}
	}
	return nil
}

type QueryOrder struct {
	Base
	ClientOrderID model.ClientOrderID
	VenueOrderID  model.VenueOrderID
}

func (*SubmitOrder) Name() string       { return "SubmitOrder" }
func (*SubmitOrderList) Name() string   { return "SubmitOrderList" }
func (*ModifyOrder) Name() string       { return "ModifyOrder" }
func (*CancelOrder) Name() string       { return "CancelOrder" }
func (*CancelAllOrders) Name() string   { return "CancelAllOrders" }
func (*BatchCancelOrders) Name() string { return "BatchCancelOrders" }
func (*QueryOrder) Name() string        { return "QueryOrder" }

// Orders returns the orders a command creates, if any.
func Orders(cmd TradingCommand) []*og.Order {
	switch c := cmd.(type) {
	case *SubmitOrder:
		return []*og.Order{c.Order}
	case *SubmitOrderList:
		return c.List.Orders
	}
	return nil
}
