package og

import (
	"fmt"
	"slices"

	"github.com/shopspring/decimal"

	"hftcore/internal/model"
	"hftcore/internal/model/enum"
	"hftcore/pkg/exception"
)

// Order is the lifecycle entity mutated only through Apply.
type Order struct {
	TraderID      model.TraderID
	StrategyID    model.StrategyID
	InstrumentID  model.InstrumentID
	ClientOrderID model.ClientOrderID
	VenueOrderID  model.VenueOrderID
	PositionID    model.PositionID
	AccountID     model.AccountID
	LastTradeID   model.TradeID

	Side               enum.OrderSide
	Type               enum.OrderType
	Quantity           model.Quantity
	Price              *model.Price
	TriggerPrice       *model.Price
	TriggerType        enum.TriggerType
	LimitOffset        decimal.Decimal
	TrailingOffset     decimal.Decimal
	TrailingOffsetType enum.TrailingOffsetType
	TimeInForce        enum.TimeInForce
	ExpireTime         model.UnixNanos
	PostOnly           bool
	ReduceOnly         bool
	QuoteQuantity      bool
	DisplayQty         *model.Quantity

	EmulationTrigger    enum.TriggerType
	TriggerInstrumentID model.InstrumentID
	ReleasedPrice       *model.Price

	ContingencyType enum.ContingencyType
	OrderListID     model.OrderListID
	LinkedOrderIDs  []model.ClientOrderID
	ParentOrderID   model.ClientOrderID

	ExecAlgorithmID     model.ExecAlgorithmID
	ExecAlgorithmParams map[string]string
	ExecSpawnID         model.ClientOrderID
	Tags                []string

	Status        enum.OrderStatus
	FilledQty     model.Quantity
	LeavesQty     model.Quantity
	AvgPx         decimal.Decimal
	LiquiditySide enum.LiquiditySide

	InitID      model.UUID4
	TsInit      model.UnixNanos
	TsLast      model.UnixNanos
	TsAccepted  model.UnixNanos
	TsTriggered model.UnixNanos
	TsClosed    model.UnixNanos

	previousStatus enum.OrderStatus
	events         []OrderEvent
	venueOrderIDs  []model.VenueOrderID
	tradeIDs       []model.TradeID
	commissions    map[string]model.Money
}

// NewOrder builds an order in the Initialized state from its init event.
func NewOrder(init *OrderInitialized) (*Order, error) {
	if init.ClientOrderID.IsZero() {
		return nil, fmt.Errorf("%w: order: client order id is empty", exception.ErrInvalidArgument)
	}
	if !init.Quantity.IsPositive() {
		return nil, fmt.Errorf("%w: order %s: quantity must be positive", exception.ErrInvalidArgument, init.ClientOrderID)
	}
	if !init.Type.IsAvailable() {
		return nil, fmt.Errorf("%w: order %s: invalid type", exception.ErrInvalidArgument, init.ClientOrderID)
	}
	if init.Type.HasPrice() && init.Type != enum.OrderTypeMarketToLimit && init.Price == nil {
		return nil, fmt.Errorf("%w: order %s: %s requires a price", exception.ErrInvalidArgument, init.ClientOrderID, init.Type)
	}
	if init.Type.HasTriggerPrice() && !init.Type.IsTrailing() && init.TriggerPrice == nil {
		return nil, fmt.Errorf("%w: order %s: %s requires a trigger price", exception.ErrInvalidArgument, init.ClientOrderID, init.Type)
	}
	if init.TimeInForce == enum.TimeInForceGTD && init.ExpireTime == 0 {
		return nil, fmt.Errorf("%w: order %s: GTD requires expire time", exception.ErrInvalidArgument, init.ClientOrderID)
	}

	o := &Order{
		TraderID:            init.TraderID,
		StrategyID:          init.StrategyID,
		InstrumentID:        init.InstrumentID,
		ClientOrderID:       init.ClientOrderID,
		AccountID:           init.AccountID,
		Side:                init.Side,
		Type:                init.Type,
		Quantity:            init.Quantity,
		Price:               init.Price,
		TriggerPrice:        init.TriggerPrice,
		TriggerType:         init.TriggerType,
		LimitOffset:         init.LimitOffset,
		TrailingOffset:      init.TrailingOffset,
		TrailingOffsetType:  init.TrailingOffsetType,
		TimeInForce:         init.TimeInForce,
		ExpireTime:          init.ExpireTime,
		PostOnly:            init.PostOnly,
		ReduceOnly:          init.ReduceOnly,
		QuoteQuantity:       init.QuoteQuantity,
		DisplayQty:          init.DisplayQty,
		EmulationTrigger:    init.EmulationTrigger,
		TriggerInstrumentID: init.TriggerInstrumentID,
		ContingencyType:     init.ContingencyType,
		OrderListID:         init.OrderListID,
		LinkedOrderIDs:      slices.Clone(init.LinkedOrderIDs),
		ParentOrderID:       init.ParentOrderID,
		ExecAlgorithmID:     init.ExecAlgorithmID,
		ExecAlgorithmParams: init.ExecAlgorithmParams,
		ExecSpawnID:         init.ExecSpawnID,
		Tags:                slices.Clone(init.Tags),
		Status:              enum.OrderStatusInitialized,
		FilledQty:           model.Quantity{Precision: init.Quantity.Precision},
		LeavesQty:           init.Quantity,
		InitID:              init.EventID,
		TsInit:              init.TsInit,
		TsLast:              init.TsEvent,
		events:              []OrderEvent{init},
		commissions:         map[string]model.Money{},
	}
	if o.TriggerInstrumentID.IsZero() {
		o.TriggerInstrumentID = o.InstrumentID
	}
	return o, nil
}

// Apply advances the order with ev. Terminal orders reject every event.
func (o *Order) Apply(ev OrderEvent) error {
	h := ev.Header()
	if h.ClientOrderID != o.ClientOrderID {
		return fmt.Errorf("%w: order %s: event for %s", exception.ErrInvalidArgument, o.ClientOrderID, h.ClientOrderID)
	}
	if _, ok := ev.(*OrderInitialized); ok {
		return fmt.Errorf("%w: %s: already initialized", ErrInvalidTransition, o.ClientOrderID)
	}
	if o.Status.IsTerminal() {
		return fmt.Errorf("%w: %s: %s is terminal, dropping %s", ErrInvalidTransition, o.ClientOrderID, o.Status, ev.EventType())
	}
	if h.TsEvent < o.TsLast {
		return fmt.Errorf("%w: order %s: ts_event %d before last %d", exception.ErrInvalidArgument, o.ClientOrderID, h.TsEvent, o.TsLast)
	}
	if fill, ok := ev.(*OrderFilled); ok {
		if err := o.checkFill(fill); err != nil {
			return err
		}
	}
	if upd, ok := ev.(*OrderUpdated); ok && upd.Quantity.IsPositive() && upd.Quantity.LessThan(o.FilledQty) {
		return fmt.Errorf("%w: order %s: quantity %s below filled %s", exception.ErrInvalidArgument, o.ClientOrderID, upd.Quantity, o.FilledQty)
	}

	next, err := o.nextStatus(ev)
	if err != nil {
		return err
	}

	switch e := ev.(type) {
	case *OrderAccepted:
		o.setVenueOrderID(e.VenueOrderID)
		o.TsAccepted = e.TsEvent
		if !e.AccountID.IsZero() {
			o.AccountID = e.AccountID
		}
	case *OrderSubmitted:
		if !e.AccountID.IsZero() {
			o.AccountID = e.AccountID
		}
	case *OrderReleased:
		o.ReleasedPrice = model.PricePtr(e.ReleasedPrice)
	case *OrderTriggered:
		o.TsTriggered = e.TsEvent
	case *OrderUpdated:
		o.setVenueOrderID(e.VenueOrderID)
		if e.Quantity.IsPositive() {
			o.Quantity = e.Quantity
			o.LeavesQty = e.Quantity.Sub(o.FilledQty)
		}
		if e.Price != nil {
			o.Price = model.PricePtr(*e.Price)
		}
		if e.TriggerPrice != nil {
			o.TriggerPrice = model.PricePtr(*e.TriggerPrice)
		}
	case *OrderFilled:
		o.applyFill(e)
	}

	if next != o.Status {
		o.previousStatus = o.Status
		o.Status = next
	}
	if o.Status.IsTerminal() {
		o.TsClosed = h.TsEvent
	}
	o.TsLast = h.TsEvent
	o.events = append(o.events, ev)
	return nil
}

func (o *Order) checkFill(fill *OrderFilled) error {
	if !fill.LastQty.IsPositive() {
		return fmt.Errorf("%w: order %s: fill quantity must be positive", exception.ErrInvalidArgument, o.ClientOrderID)
	}
	if fill.LastQty.GreaterThan(o.LeavesQty) {
		return fmt.Errorf("%w: %s: fill %s > leaves %s", ErrOverfill, o.ClientOrderID, fill.LastQty, o.LeavesQty)
	}
	if !fill.TradeID.IsZero() && slices.Contains(o.tradeIDs, fill.TradeID) {
		return fmt.Errorf("%w: %s: %s", ErrDuplicateFill, o.ClientOrderID, fill.TradeID)
	}
	return nil
}

func (o *Order) applyFill(fill *OrderFilled) {
	o.setVenueOrderID(fill.VenueOrderID)
	if !fill.PositionID.IsZero() {
		o.PositionID = fill.PositionID
	}
	if !fill.AccountID.IsZero() {
		o.AccountID = fill.AccountID
	}

	filled := o.FilledQty.Decimal()
	qty := fill.LastQty.Decimal()
	o.AvgPx = o.AvgPx.Mul(filled).Add(fill.LastPx.Decimal().Mul(qty)).Div(filled.Add(qty))

	o.FilledQty = o.FilledQty.Add(fill.LastQty)
	o.LeavesQty = o.Quantity.Sub(o.FilledQty)
	o.LastTradeID = fill.TradeID
	o.LiquiditySide = fill.LiquiditySide
	if !fill.TradeID.IsZero() {
		o.tradeIDs = append(o.tradeIDs, fill.TradeID)
	}
	if !fill.Commission.Currency.IsZero() {
		code := fill.Commission.Currency.Code
		if prev, ok := o.commissions[code]; ok {
			o.commissions[code] = prev.Add(fill.Commission)
		} else {
			o.commissions[code] = fill.Commission
		}
	}
}

func (o *Order) setVenueOrderID(id model.VenueOrderID) {
	if id.IsZero() || id == o.VenueOrderID {
		return
	}
	o.VenueOrderID = id
	o.venueOrderIDs = append(o.venueOrderIDs, id)
}

// Transform rewrites an emulated order into the plain type it is released as.
func (o *Order) Transform(t enum.OrderType, price *model.Price) {
	o.Type = t
	o.TriggerPrice = nil
	o.EmulationTrigger = enum.TriggerTypeNone
	if t == enum.OrderTypeMarket {
		o.Price = nil
		if o.TimeInForce == enum.TimeInForceGTD {
			o.TimeInForce = enum.TimeInForceGTC
			o.ExpireTime = 0
		}
		return
	}
	if price != nil {
		o.Price = model.PricePtr(*price)
	}
}

func (o *Order) IsBuy() bool  { return o.Side == enum.OrderSideBuy }
func (o *Order) IsSell() bool { return o.Side == enum.OrderSideSell }

// IsClosed reports a terminal status.
func (o *Order) IsClosed() bool { return o.Status.IsTerminal() }

// IsOpen reports any non-terminal status, including local and in-flight states.
func (o *Order) IsOpen() bool { return !o.Status.IsTerminal() }

// IsEmulated reports whether the order is held by the local emulator.
func (o *Order) IsEmulated() bool {
	return o.Status == enum.OrderStatusEmulated ||
		(o.Status == enum.OrderStatusInitialized && o.EmulationTrigger != enum.TriggerTypeNone)
}

func (o *Order) IsInflight() bool { return o.Status.IsInflight() }

// IsWorking reports whether the venue may currently match the order.
func (o *Order) IsWorking() bool {
	switch o.Status {
	case enum.OrderStatusAccepted, enum.OrderStatusTriggered, enum.OrderStatusPendingUpdate,
		enum.OrderStatusPendingCancel, enum.OrderStatusPartiallyFilled:
		return true
	}
	return false
}

// IsActiveLocal reports a status that has not yet reached a venue.
func (o *Order) IsActiveLocal() bool {
	switch o.Status {
	case enum.OrderStatusInitialized, enum.OrderStatusEmulated, enum.OrderStatusReleased:
		return true
	}
	return false
}

func (o *Order) IsPassive() bool { return o.Type != enum.OrderTypeMarket }

func (o *Order) IsContingent() bool { return o.ContingencyType != enum.ContingencyNone }

func (o *Order) PreviousStatus() enum.OrderStatus { return o.previousStatus }

func (o *Order) Events() []OrderEvent { return slices.Clone(o.events) }

func (o *Order) EventCount() int { return len(o.events) }

func (o *Order) LastEvent() OrderEvent { return o.events[len(o.events)-1] }

// InitEvent returns the event the order was created from.
func (o *Order) InitEvent() *OrderInitialized { return o.events[0].(*OrderInitialized) }

func (o *Order) TradeIDs() []model.TradeID { return slices.Clone(o.tradeIDs) }

func (o *Order) HasTradeID(id model.TradeID) bool { return slices.Contains(o.tradeIDs, id) }

func (o *Order) VenueOrderIDs() []model.VenueOrderID { return slices.Clone(o.venueOrderIDs) }

func (o *Order) Commissions() []model.Money {
	out := make([]model.Money, 0, len(o.commissions))
	for _, m := range o.commissions {
		out = append(out, m)
	}
	slices.SortFunc(out, func(a, b model.Money) int {
		if a.Currency.Code < b.Currency.Code {
			return -1
		}
		if a.Currency.Code > b.Currency.Code {
			return 1
		}
		return 0
	})
	return out
}

// SignedQty is positive for buys and negative for sells.
func (o *Order) SignedQty() decimal.Decimal {
	if o.IsSell() {
		return o.Quantity.Decimal().Neg()
	}
	return o.Quantity.Decimal()
}

// WouldReduceOnly reports whether filling the leaves quantity can only reduce
// a position of the given side and size.
func (o *Order) WouldReduceOnly(side enum.PositionSide, qty model.Quantity) bool {
	switch side {
	case enum.PositionSideLong:
		return o.IsSell() && o.LeavesQty.LessOrEqual(qty)
	case enum.PositionSideShort:
		return o.IsBuy() && o.LeavesQty.LessOrEqual(qty)
	}
	return false
}
