package state

import (
	"fmt"
	"slices"

	"github.com/shopspring/decimal"

	"hftcore/internal/model"
	"hftcore/internal/model/enum"
	"hftcore/internal/og"
	"hftcore/pkg/exception"
)

var (
	ErrPositionClosed = fmt.Errorf("%w: position: closed", exception.ErrInvalidTransition)
	ErrPositionFlip   = fmt.Errorf("%w: position: fill would flip side", exception.ErrInvalidArgument)
)

type lot struct {
	qty decimal.Decimal
	px  decimal.Decimal
}

// Position aggregates fills for one instrument, account and strategy (or one
// hedging leg). Realized P&L is computed FIFO against open lots and net of
// commissions charged in the cost currency.
type Position struct {
	ID             model.PositionID
	InstrumentID   model.InstrumentID
	AccountID      model.AccountID
	StrategyID     model.StrategyID
	TraderID       model.TraderID
	OpeningOrderID model.ClientOrderID
	ClosingOrderID model.ClientOrderID
	LastTradeID    model.TradeID
	Entry          enum.OrderSide

	Side        enum.PositionSide
	Quantity    model.Quantity
	PeakQty     model.Quantity
	AvgPxOpen   decimal.Decimal
	AvgPxClose  decimal.Decimal
	RealizedPnL model.Money

	Currency   model.Currency
	Multiplier decimal.Decimal
	IsInverse  bool

	TsOpened   model.UnixNanos
	TsLast     model.UnixNanos
	TsClosed   model.UnixNanos
	Reconciled bool

	sizePrecision uint8
	signed        decimal.Decimal
	closedQty     decimal.Decimal
	realized      decimal.Decimal
	lots          []lot
	fills         []*og.OrderFilled
	commissions   map[string]model.Money
}

// NewPosition opens a position from its first fill. fill.PositionID must be set.
func NewPosition(inst *model.Instrument, fill *og.OrderFilled) (*Position, error) {
	if fill.PositionID.IsZero() {
		return nil, fmt.Errorf("%w: position: fill has no position id", exception.ErrInvalidArgument)
	}
	if inst.ID != fill.InstrumentID {
		return nil, fmt.Errorf("%w: position: instrument %s does not match fill %s", exception.ErrInvalidArgument, inst.ID, fill.InstrumentID)
	}
	mult := decimal.NewFromInt(1)
	if inst.Multiplier.IsPositive() {
		mult = inst.Multiplier.Decimal()
	}
	p := &Position{
		ID:             fill.PositionID,
		InstrumentID:   fill.InstrumentID,
		AccountID:      fill.AccountID,
		StrategyID:     fill.StrategyID,
		TraderID:       fill.TraderID,
		OpeningOrderID: fill.ClientOrderID,
		Entry:          fill.Side,
		Side:           enum.PositionSideFlat,
		Currency:       inst.CostCurrency(),
		Multiplier:     mult,
		IsInverse:      inst.IsInverse,
		TsOpened:       fill.TsEvent,
		sizePrecision:  inst.SizePrecision,
		commissions:    map[string]model.Money{},
	}
	p.RealizedPnL = model.ZeroMoney(p.Currency)
	if err := p.Apply(fill); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Position) IsOpen() bool   { return p.Side != enum.PositionSideFlat }
func (p *Position) IsClosed() bool { return p.Side == enum.PositionSideFlat }
func (p *Position) IsLong() bool   { return p.Side == enum.PositionSideLong }
func (p *Position) IsShort() bool  { return p.Side == enum.PositionSideShort }

// SignedQty is positive when long and negative when short.
func (p *Position) SignedQty() decimal.Decimal { return p.signed }

// WouldFlip reports whether the fill closes more than the open quantity.
func (p *Position) WouldFlip(fill *og.OrderFilled) bool {
	if p.IsClosed() {
		return false
	}
	return p.isClosing(fill.Side) && fill.LastQty.Decimal().GreaterThan(p.signed.Abs())
}

func (p *Position) isClosing(side enum.OrderSide) bool {
	return (p.IsLong() && side == enum.OrderSideSell) || (p.IsShort() && side == enum.OrderSideBuy)
}

// ClosingOrderSide is the side that reduces the position.
func (p *Position) ClosingOrderSide() enum.OrderSide {
	switch p.Side {
	case enum.PositionSideLong:
		return enum.OrderSideSell
	case enum.PositionSideShort:
		return enum.OrderSideBuy
	}
	return enum.OrderSideNone
}

func (p *Position) HasTradeID(id model.TradeID) bool {
	return slices.ContainsFunc(p.fills, func(f *og.OrderFilled) bool { return f.TradeID == id })
}

// Apply folds a fill into the position. A closed position rejects fills and a
// fill larger than the open quantity on the closing side must be split by the
// caller.
func (p *Position) Apply(fill *og.OrderFilled) error {
	if len(p.fills) > 0 && p.IsClosed() {
		return fmt.Errorf("%w: %s", ErrPositionClosed, p.ID)
	}
	if !fill.TradeID.IsZero() && p.HasTradeID(fill.TradeID) {
		return fmt.Errorf("%w: position %s already has trade %s", exception.ErrDuplicateKey, p.ID, fill.TradeID)
	}
	if p.WouldFlip(fill) {
		return fmt.Errorf("%w: %s fill %s vs open %s", ErrPositionFlip, p.ID, fill.LastQty, p.Quantity)
	}

	qty := fill.LastQty.Decimal()
	px := fill.LastPx.Decimal()
	if p.isClosing(fill.Side) {
		p.close(qty, px)
		p.ClosingOrderID = fill.ClientOrderID
	} else {
		p.open(qty, px)
	}
	if fill.Side == enum.OrderSideBuy {
		p.signed = p.signed.Add(qty)
	} else {
		p.signed = p.signed.Sub(qty)
	}

	if c := fill.Commission; !c.Currency.IsZero() {
		if prev, ok := p.commissions[c.Currency.Code]; ok {
			p.commissions[c.Currency.Code] = prev.Add(c)
		} else {
			p.commissions[c.Currency.Code] = c
		}
		if c.Currency.Code == p.Currency.Code {
			p.realized = p.realized.Sub(c.Decimal())
		}
	}
	p.RealizedPnL, _ = model.MoneyFromDecimal(p.realized, p.Currency)

	p.refreshSide()
	p.LastTradeID = fill.TradeID
	p.TsLast = fill.TsEvent
	if p.IsClosed() {
		p.TsClosed = fill.TsEvent
	}
	p.fills = append(p.fills, fill)
	return nil
}

func (p *Position) open(qty, px decimal.Decimal) {
	held := p.signed.Abs()
	p.AvgPxOpen = p.AvgPxOpen.Mul(held).Add(px.Mul(qty)).Div(held.Add(qty))
	p.lots = append(p.lots, lot{qty: qty, px: px})
}

func (p *Position) close(qty, px decimal.Decimal) {
	long := p.IsLong()
	remaining := qty
	for remaining.IsPositive() && len(p.lots) > 0 {
		l := &p.lots[0]
		m := decimal.Min(l.qty, remaining)
		p.realized = p.realized.Add(p.pnl(l.px, px, m, long))
		l.qty = l.qty.Sub(m)
		remaining = remaining.Sub(m)
		if !l.qty.IsPositive() {
			p.lots = p.lots[1:]
		}
	}
	p.AvgPxClose = p.AvgPxClose.Mul(p.closedQty).Add(px.Mul(qty)).Div(p.closedQty.Add(qty))
	p.closedQty = p.closedQty.Add(qty)
}

func (p *Position) pnl(open, close, qty decimal.Decimal, long bool) decimal.Decimal {
	var diff decimal.Decimal
	if p.IsInverse {
		if open.IsZero() || close.IsZero() {
			return decimal.Zero
		}
		one := decimal.NewFromInt(1)
		diff = one.Div(open).Sub(one.Div(close))
	} else {
		diff = close.Sub(open)
	}
	if !long {
		diff = diff.Neg()
	}
	return diff.Mul(qty).Mul(p.Multiplier)
}

func (p *Position) refreshSide() {
	switch p.signed.Sign() {
	case 1:
		p.Side = enum.PositionSideLong
	case -1:
		p.Side = enum.PositionSideShort
	default:
		p.Side = enum.PositionSideFlat
		p.lots = nil
	}
	p.Quantity, _ = model.QuantityFromDecimal(p.signed.Abs(), p.sizePrecision)
	if p.Quantity.GreaterThan(p.PeakQty) {
		p.PeakQty = p.Quantity
	}
}

// UnrealizedPnL marks the open lots at last.
func (p *Position) UnrealizedPnL(last model.Price) model.Money {
	total := decimal.Zero
	for _, l := range p.lots {
		total = total.Add(p.pnl(l.px, last.Decimal(), l.qty, p.IsLong()))
	}
	m, _ := model.MoneyFromDecimal(total, p.Currency)
	return m
}

func (p *Position) TotalPnL(last model.Price) model.Money {
	return p.RealizedPnL.Add(p.UnrealizedPnL(last))
}

// NotionalValue is the open quantity marked at last.
func (p *Position) NotionalValue(last model.Price) model.Money {
	var d decimal.Decimal
	if p.IsInverse {
		if last.IsZero() {
			return model.ZeroMoney(p.Currency)
		}
		d = p.signed.Abs().Mul(p.Multiplier).Div(last.Decimal())
	} else {
		d = p.signed.Abs().Mul(p.Multiplier).Mul(last.Decimal())
	}
	m, _ := model.MoneyFromDecimal(d, p.Currency)
	return m
}

func (p *Position) Duration() model.UnixNanos {
	if p.TsClosed == 0 {
		return 0
	}
	return p.TsClosed - p.TsOpened
}

func (p *Position) Fills() []*og.OrderFilled { return slices.Clone(p.fills) }

func (p *Position) FillCount() int { return len(p.fills) }

func (p *Position) Commissions() []model.Money {
	out := make([]model.Money, 0, len(p.commissions))
	for _, c := range p.commissions {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b model.Money) int { return compareStrings(a.Currency.Code, b.Currency.Code) })
	return out
}

// ForceSet overwrites quantity and side without a fill. Used by
// reconciliation when no price is available to synthesize one.
func (p *Position) ForceSet(signed decimal.Decimal, avgPx *decimal.Decimal, ts model.UnixNanos) {
	px := p.AvgPxOpen
	if avgPx != nil {
		px = *avgPx
	}
	p.signed = signed
	p.lots = nil
	if !signed.IsZero() {
		p.lots = []lot{{qty: signed.Abs(), px: px}}
		p.AvgPxOpen = px
	}
	p.refreshSide()
	p.TsLast = ts
	if p.IsClosed() {
		p.TsClosed = ts
	} else {
		p.TsClosed = 0
	}
	p.Reconciled = true
}

func compareStrings(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
