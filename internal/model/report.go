package model

import (
	"github.com/shopspring/decimal"

	"hftcore/internal/model/enum"
)

// OrderStatusReport is a venue's view of a single order.
type OrderStatusReport struct {
	AccountID       AccountID
	InstrumentID    InstrumentID
	ClientOrderID   ClientOrderID
	VenueOrderID    VenueOrderID
	OrderListID     OrderListID
	ContingencyType enum.ContingencyType
	Side            enum.OrderSide
	Type            enum.OrderType
	TimeInForce     enum.TimeInForce
	Status          enum.OrderStatus
	Quantity        Quantity
	FilledQty       Quantity
	Price           *Price
	TriggerPrice    *Price
	TriggerType     enum.TriggerType
	AvgPx           *decimal.Decimal
	ExpireTime      UnixNanos
	PostOnly        bool
	ReduceOnly      bool
	CancelReason    string
	ReportID        UUID4
	TsAccepted      UnixNanos
	TsTriggered     UnixNanos
	TsLast          UnixNanos
	TsInit          UnixNanos
}

func (r OrderStatusReport) LeavesQty() Quantity { return r.Quantity.Sub(r.FilledQty) }

// FillReport is a single venue execution.
type FillReport struct {
	AccountID       AccountID
	InstrumentID    InstrumentID
	ClientOrderID   ClientOrderID
	VenueOrderID    VenueOrderID
	VenuePositionID PositionID
	TradeID         TradeID
	Side            enum.OrderSide
	LastQty         Quantity
	LastPx          Price
	Commission      Money
	LiquiditySide   enum.LiquiditySide
	ReportID        UUID4
	TsEvent         UnixNanos
	TsInit          UnixNanos
}

// PositionStatusReport is a venue's view of a net or hedged position.
type PositionStatusReport struct {
	AccountID       AccountID
	InstrumentID    InstrumentID
	VenuePositionID PositionID
	Side            enum.PositionSide
	Quantity        Quantity
	AvgPxOpen       *decimal.Decimal
	ReportID        UUID4
	TsLast          UnixNanos
	TsInit          UnixNanos
}

// SignedQty is positive for long, negative for short.
func (r PositionStatusReport) SignedQty() decimal.Decimal {
	if r.Side == enum.PositionSideShort {
		return r.Quantity.Decimal().Neg()
	}
	if r.Side == enum.PositionSideLong {
		return r.Quantity.Decimal()
	}
	return decimal.Zero
}

func PricePtr(p Price) *Price { return &p }

func QuantityPtr(q Quantity) *Quantity { return &q }

// ExecutionMassStatus bundles every report a venue returns for one account.
type ExecutionMassStatus struct {
	ClientID        ClientID
	AccountID       AccountID
	Venue           Venue
	OrderReports    []OrderStatusReport
	FillReports     []FillReport
	PositionReports []PositionStatusReport
	ReportID        UUID4
	TsInit          UnixNanos
}
