package emulator

import (
	"fmt"

	"github.com/shopspring/decimal"

	"hftcore/internal/model"
	"hftcore/internal/model/enum"
	"hftcore/internal/og"
	"hftcore/pkg/exception"
)

var bpsDivisor = decimal.NewFromInt(10_000)

// References are the prices a trailing stop follows. A nil field is unknown.
type References struct {
	Bid, Ask, Last *model.Price
}

// TrailingStopCalculate returns the trigger and limit prices o should move to.
// A nil result means the current value stays. Stops only tighten: a buy
// trigger only moves down and a sell trigger only moves up.
func TrailingStopCalculate(increment model.Price, o *og.Order, ref References) (trigger, limit *model.Price, err error) {
	if !o.Type.IsTrailing() {
		return nil, nil, fmt.Errorf("%w: trailing stop calculation for %s", exception.ErrInvalidArgument, o.Type)
	}
	if o.TrailingOffsetType == enum.TrailingOffsetNone {
		return nil, nil, fmt.Errorf("%w: %s has no trailing offset type", exception.ErrInvalidArgument, o.ClientOrderID)
	}

	t := trail{increment: increment, o: o, trigger: o.TriggerPrice}
	if o.Type == enum.OrderTypeTrailingStopLimit {
		t.limit = o.Price
	}

	switch o.TriggerType {
	case enum.TriggerTypeDefault, enum.TriggerTypeLastPrice, enum.TriggerTypeMarkPrice:
		if ref.Last == nil {
			return nil, nil, fmt.Errorf("%w: %s: no last price", exception.ErrInvalidArgument, o.ClientOrderID)
		}
		t.follow(*ref.Last)
	case enum.TriggerTypeBidAsk, enum.TriggerTypeLastOrBidAsk:
		if ref.Bid == nil || ref.Ask == nil {
			return nil, nil, fmt.Errorf("%w: %s: no bid or ask", exception.ErrInvalidArgument, o.ClientOrderID)
		}
		if o.IsBuy() {
			t.follow(*ref.Ask)
		} else {
			t.follow(*ref.Bid)
		}
		if o.TriggerType == enum.TriggerTypeLastOrBidAsk {
			if ref.Last == nil {
				return nil, nil, fmt.Errorf("%w: %s: no last price", exception.ErrInvalidArgument, o.ClientOrderID)
			}
			t.follow(*ref.Last)
		}
	default:
		return nil, nil, fmt.Errorf("%w: trigger type %s is not supported for trailing stops", exception.ErrInvalidArgument, o.TriggerType)
	}
	return t.newTrigger, t.newLimit, nil
}

type trail struct {
	increment model.Price
	o         *og.Order

	trigger, limit       *model.Price
	newTrigger, newLimit *model.Price
}

// follow offers basis as a new reference to both the trigger and the limit.
func (t *trail) follow(basis model.Price) {
	if p := t.offset(basis, t.o.TrailingOffset); t.better(p, t.trigger) {
		t.trigger, t.newTrigger = &p, &p
	}
	if t.o.Type != enum.OrderTypeTrailingStopLimit {
		return
	}
	if p := t.offset(basis, t.o.LimitOffset); t.better(p, t.limit) {
		t.limit, t.newLimit = &p, &p
	}
}

func (t *trail) better(candidate model.Price, current *model.Price) bool {
	if current == nil {
		return true
	}
	if t.o.IsBuy() {
		return candidate.LessThan(*current)
	}
	return candidate.GreaterThan(*current)
}

// offset moves basis away from the market by off, expressed in the order's
// offset type: up for buys, down for sells.
func (t *trail) offset(basis model.Price, off decimal.Decimal) model.Price {
	b := basis.Decimal()
	var delta decimal.Decimal
	switch t.o.TrailingOffsetType {
	case enum.TrailingOffsetBasisPoints:
		delta = b.Mul(off).Div(bpsDivisor)
	case enum.TrailingOffsetTicks:
		delta = off.Mul(t.increment.Decimal())
	default:
		delta = off
	}
	if t.o.IsSell() {
		delta = delta.Neg()
	}
	precision := t.increment.Precision
	p, err := model.PriceFromDecimal(b.Add(delta).Round(int32(precision)), precision)
	if err != nil {
		return basis
	}
	return p
}
