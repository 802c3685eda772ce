package og

import (
	"github.com/shopspring/decimal"

	"hftcore/internal/model"
	"hftcore/internal/model/enum"
	"hftcore/internal/schema"
)

// OrderEvent is any event applied to an Order.
type OrderEvent interface {
	Header() *EventBase
	EventType() schema.EventType
}

// EventBase holds the fields common to every order event.
type EventBase struct {
	TraderID       model.TraderID
	StrategyID     model.StrategyID
	InstrumentID   model.InstrumentID
	ClientOrderID  model.ClientOrderID
	VenueOrderID   model.VenueOrderID
	AccountID      model.AccountID
	EventID        model.UUID4
	TsEvent        model.UnixNanos
	TsInit         model.UnixNanos
	Reconciliation bool
}

func (b *EventBase) Header() *EventBase { return b }

// BaseFor stamps a new event header for o.
func BaseFor(o *Order, ts model.UnixNanos) EventBase {
	return EventBase{
		TraderID:      o.TraderID,
		StrategyID:    o.StrategyID,
		InstrumentID:  o.InstrumentID,
		ClientOrderID: o.ClientOrderID,
		VenueOrderID:  o.VenueOrderID,
		AccountID:     o.AccountID,
		EventID:       model.NewUUID4(),
		TsEvent:       ts,
		TsInit:        ts,
	}
}

type OrderInitialized struct {
	EventBase
	Side                enum.OrderSide
	Type                enum.OrderType
	Quantity            model.Quantity
	Price               *model.Price
	TriggerPrice        *model.Price
	TriggerType         enum.TriggerType
	LimitOffset         decimal.Decimal
	TrailingOffset      decimal.Decimal
	TrailingOffsetType  enum.TrailingOffsetType
	TimeInForce         enum.TimeInForce
	ExpireTime          model.UnixNanos
	PostOnly            bool
	ReduceOnly          bool
	QuoteQuantity       bool
	DisplayQty          *model.Quantity
	EmulationTrigger    enum.TriggerType
	TriggerInstrumentID model.InstrumentID
	ContingencyType     enum.ContingencyType
	OrderListID         model.OrderListID
	LinkedOrderIDs      []model.ClientOrderID
	ParentOrderID       model.ClientOrderID
	ExecAlgorithmID     model.ExecAlgorithmID
	ExecAlgorithmParams map[string]string
	ExecSpawnID         model.ClientOrderID
	Tags                []string
}

type OrderDenied struct {
	EventBase
	Reason string
}

type OrderEmulated struct{ EventBase }

type OrderReleased struct {
	EventBase
	ReleasedPrice model.Price
}

type OrderSubmitted struct{ EventBase }

type OrderAccepted struct{ EventBase }

type OrderRejected struct {
	EventBase
	Reason        string
	DueToPostOnly bool
}

type OrderCanceled struct{ EventBase }

type OrderExpired struct{ EventBase }

type OrderTriggered struct{ EventBase }

type OrderPendingUpdate struct{ EventBase }

type OrderPendingCancel struct{ EventBase }

type OrderModifyRejected struct {
	EventBase
	Reason string
}

type OrderCancelRejected struct {
	EventBase
	Reason string
}

// OrderUpdated carries the new working values. Nil pointers leave the field unchanged.
type OrderUpdated struct {
	EventBase
	Quantity     model.Quantity
	Price        *model.Price
	TriggerPrice *model.Price
}

type OrderFilled struct {
	EventBase
	TradeID       model.TradeID
	PositionID    model.PositionID
	Side          enum.OrderSide
	Type          enum.OrderType
	LastQty       model.Quantity
	LastPx        model.Price
	Currency      model.Currency
	Commission    model.Money
	LiquiditySide enum.LiquiditySide
}

func (e *OrderFilled) IsBuy() bool { return e.Side == enum.OrderSideBuy }

func (*OrderInitialized) EventType() schema.EventType    { return schema.EventOrderInitialized }
func (*OrderDenied) EventType() schema.EventType         { return schema.EventOrderDenied }
func (*OrderEmulated) EventType() schema.EventType       { return schema.EventOrderEmulated }
func (*OrderReleased) EventType() schema.EventType       { return schema.EventOrderReleased }
func (*OrderSubmitted) EventType() schema.EventType      { return schema.EventOrderSubmitted }
func (*OrderAccepted) EventType() schema.EventType       { return schema.EventOrderAccepted }
func (*OrderRejected) EventType() schema.EventType       { return schema.EventOrderRejected }
func (*OrderCanceled) EventType() schema.EventType       { return schema.EventOrderCanceled }
func (*OrderExpired) EventType() schema.EventType        { return schema.EventOrderExpired }
func (*OrderTriggered) EventType() schema.EventType      { return schema.EventOrderTriggered }
func (*OrderPendingUpdate) EventType() schema.EventType  { return schema.EventOrderPendingUpdate }
func (*OrderPendingCancel) EventType() schema.EventType  { return schema.EventOrderPendingCancel }
func (*OrderModifyRejected) EventType() schema.EventType { return schema.EventOrderModifyRejected }
func (*OrderCancelRejected) EventType() schema.EventType { return schema.EventOrderCancelRejected }
func (*OrderUpdated) EventType() schema.EventType        { return schema.EventOrderUpdated }
func (*OrderFilled) EventType() schema.EventType         { return schema.EventOrderFilled }
