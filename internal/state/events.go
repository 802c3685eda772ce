package state

import (
	"github.com/shopspring/decimal"

	"hftcore/internal/model"
	"hftcore/internal/model/enum"
	"hftcore/internal/og"
	"hftcore/internal/schema"
)

// PositionEvent is published on events.position.{position_id}.
type PositionEvent interface {
	Snapshot() *PositionSnapshot
	EventType() schema.EventType
}

// PositionSnapshot is the state of a position right after a fill.
type PositionSnapshot struct {
	TraderID       model.TraderID
	StrategyID     model.StrategyID
	InstrumentID   model.InstrumentID
	PositionID     model.PositionID
	AccountID      model.AccountID
	OpeningOrderID model.ClientOrderID
	ClosingOrderID model.ClientOrderID
	Entry          enum.OrderSide
	Side           enum.PositionSide
	SignedQty      decimal.Decimal
	Quantity       model.Quantity
	PeakQty        model.Quantity
	LastQty        model.Quantity
	LastPx         model.Price
	Currency       model.Currency
	AvgPxOpen      decimal.Decimal
	AvgPxClose     decimal.Decimal
	RealizedPnL    model.Money
	UnrealizedPnL  model.Money
	EventID        model.UUID4
	TsOpened       model.UnixNanos
	TsClosed       model.UnixNanos
	TsEvent        model.UnixNanos
	TsInit         model.UnixNanos
	Reconciliation bool
}

func (s *PositionSnapshot) Snapshot() *PositionSnapshot { return s }

type PositionOpened struct{ PositionSnapshot }
type PositionChanged struct{ PositionSnapshot }
type PositionClosed struct{ PositionSnapshot }

func (*PositionOpened) EventType() schema.EventType  { return schema.EventPositionOpened }
func (*PositionChanged) EventType() schema.EventType { return schema.EventPositionChanged }
func (*PositionClosed) EventType() schema.EventType  { return schema.EventPositionClosed }

func snapshotOf(p *Position, fill *og.OrderFilled, ts model.UnixNanos) PositionSnapshot {
	s := PositionSnapshot{
		TraderID:       p.TraderID,
		StrategyID:     p.StrategyID,
		InstrumentID:   p.InstrumentID,
		PositionID:     p.ID,
		AccountID:      p.AccountID,
		OpeningOrderID: p.OpeningOrderID,
		ClosingOrderID: p.ClosingOrderID,
		Entry:          p.Entry,
		Side:           p.Side,
		SignedQty:      p.signed,
		Quantity:       p.Quantity,
		PeakQty:        p.PeakQty,
		Currency:       p.Currency,
		AvgPxOpen:      p.AvgPxOpen,
		AvgPxClose:     p.AvgPxClose,
		RealizedPnL:    p.RealizedPnL,
		UnrealizedPnL:  model.ZeroMoney(p.Currency),
		EventID:        model.NewUUID4(),
		TsOpened:       p.TsOpened,
		TsClosed:       p.TsClosed,
		TsEvent:        ts,
		TsInit:         ts,
		Reconciliation: p.Reconciled,
	}
	if fill != nil {
		s.LastQty = fill.LastQty
		s.LastPx = fill.LastPx
		s.TsEvent = fill.TsEvent
		s.Reconciliation = s.Reconciliation || fill.Reconciliation
		if p.IsOpen() {
			s.UnrealizedPnL = p.UnrealizedPnL(fill.LastPx)
		}
	}
	return s
}

func NewPositionOpened(p *Position, fill *og.OrderFilled, ts model.UnixNanos) *PositionOpened {
	return &PositionOpened{snapshotOf(p, fill, ts)}
}

func NewPositionChanged(p *Position, fill *og.OrderFilled, ts model.UnixNanos) *PositionChanged {
	return &PositionChanged{snapshotOf(p, fill, ts)}
}

func NewPositionClosed(p *Position, fill *og.OrderFilled, ts model.UnixNanos) *PositionClosed {
	return &PositionClosed{snapshotOf(p, fill, ts)}
}

// EventFor picks Changed or Closed for a position after a non-opening fill.
func EventFor(p *Position, fill *og.OrderFilled, ts model.UnixNanos) PositionEvent {
	if p.IsClosed() {
		return NewPositionClosed(p, fill, ts)
	}
	return NewPositionChanged(p, fill, ts)
}
