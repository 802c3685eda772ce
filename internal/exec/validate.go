package exec

import (
	"fmt"

	"github.com/shopspring/decimal"

	"hftcore/internal/cache"
	"hftcore/internal/model"
	"hftcore/internal/model/enum"
	"hftcore/internal/og"
	"hftcore/internal/state"
)

// validate returns why o cannot be dispatched, or "" when it can.
func (e *Engine) validate(o *og.Order, positionID model.PositionID) string {
	if !o.IsActiveLocal() || o.Status != enum.OrderStatusInitialized {
		// released orders were checked when first submitted
		return ""
	}
	inst, ok := e.cache.Instrument(o.InstrumentID)
	if !ok {
		return fmt.Sprintf("no instrument found for %s", o.InstrumentID)
	}
	if reason := checkQuantity(inst, o); reason != "" {
		return reason
	}
	if reason := checkPrices(inst, o); reason != "" {
		return reason
	}
	if o.ReduceOnly && !e.contingency.ShouldHold(o) {
		// held OTO children are checked again once their parent fills
		if reason := e.checkReduceOnly(o, positionID); reason != "" {
			return reason
		}
	}
	if o.PostOnly {
		if reason := e.checkPostOnly(o); reason != "" {
			return reason
		}
	}
	if !o.ReduceOnly {
		return e.checkBalance(inst, o)
	}
	return ""
}

func checkQuantity(inst *model.Instrument, o *og.Order) string {
	if o.QuoteQuantity {
		return ""
	}
	q := o.Quantity
	if q.Precision > inst.SizePrecision {
		return fmt.Sprintf("quantity %s precision %d exceeds instrument size precision %d", q, q.Precision, inst.SizePrecision)
	}
	if !inst.IsValidQuantity(q) {
		return fmt.Sprintf("quantity %s is not a multiple of size increment %s", q, inst.SizeIncrement)
	}
	if inst.MinQuantity.IsPositive() && q.LessThan(inst.MinQuantity) {
		return fmt.Sprintf("quantity %s below minimum %s", q, inst.MinQuantity)
	}
	if inst.MaxQuantity.IsPositive() && q.GreaterThan(inst.MaxQuantity) {
		return fmt.Sprintf("quantity %s above maximum %s", q, inst.MaxQuantity)
	}
	return ""
}

func checkPrices(inst *model.Instrument, o *og.Order) string {
	for _, p := range []struct {
		name string
		px   *model.Price
	}{{"price", o.Price}, {"trigger price", o.TriggerPrice}} {
		if p.px == nil {
			continue
		}
		px := *p.px
		if px.Precision > inst.PricePrecision {
			return fmt.Sprintf("%s %s precision %d exceeds instrument price precision %d", p.name, px, px.Precision, inst.PricePrecision)
		}
		if !inst.IsValidPrice(px) {
			return fmt.Sprintf("%s %s is not a multiple of tick size %s", p.name, px, inst.PriceIncrement)
		}
		if inst.MinPrice.IsPositive() && px.LessThan(inst.MinPrice) {
			return fmt.Sprintf("%s %s below minimum %s", p.name, px, inst.MinPrice)
		}
		if inst.MaxPrice.IsPositive() && px.GreaterThan(inst.MaxPrice) {
			return fmt.Sprintf("%s %s above maximum %s", p.name, px, inst.MaxPrice)
		}
	}
	if o.Price != nil && !o.QuoteQuantity {
		notional := inst.NotionalValue(o.Quantity, *o.Price).Decimal()
		if inst.MinNotional.IsPositive() && notional.LessThan(inst.MinNotional) {
			return fmt.Sprintf("notional %s below minimum %s", notional, inst.MinNotional)
		}
		if inst.MaxNotional.IsPositive() && notional.GreaterThan(inst.MaxNotional) {
			return fmt.Sprintf("notional %s above maximum %s", notional, inst.MaxNotional)
		}
	}
	return ""
}

// positionFor resolves the position a reduce-only order trades against.
func (e *Engine) positionFor(o *og.Order, positionID model.PositionID) (*state.Position, bool) {
	if !positionID.IsZero() {
		return e.cache.Position(positionID)
	}
	if e.OmsType(o.StrategyID, o.InstrumentID.Venue) == enum.OmsNetting {
		if p, ok := e.cache.Position(NettingPositionID(o.InstrumentID, o.StrategyID)); ok {
			return p, true
		}
	}
	ps := e.cache.PositionsOpen(cache.Filter{InstrumentID: o.InstrumentID, StrategyID: o.StrategyID}, enum.PositionSideNone)
	if len(ps) == 1 {
		return ps[0], true
	}
	return nil, false
}

func (e *Engine) checkReduceOnly(o *og.Order, positionID model.PositionID) string {
	p, ok := e.positionFor(o, positionID)
	if !ok || p.IsClosed() {
		return fmt.Sprintf("reduce-only %s with no open position", o.Side)
	}
	if p.ClosingOrderSide() != o.Side {
		return fmt.Sprintf("reduce-only %s would increase %s position %s", o.Side, p.Side, p.ID)
	}
	if o.Quantity.GreaterThan(p.Quantity) {
		return fmt.Sprintf("reduce-only quantity %s exceeds position %s quantity %s", o.Quantity, p.ID, p.Quantity)
	}
	return ""
}

func (e *Engine) checkPostOnly(o *og.Order) string {
	if o.Price == nil {
		return ""
	}
	if o.IsBuy() {
		if ask, ok := e.cache.Price(o.InstrumentID, enum.PriceTypeAsk); ok && o.Price.GreaterOrEqual(ask) {
			return fmt.Sprintf("post-only BUY at %s would cross ask %s", o.Price, ask)
		}
		return ""
	}
	if bid, ok := e.cache.Price(o.InstrumentID, enum.PriceTypeBid); ok && o.Price.LessOrEqual(bid) {
		return fmt.Sprintf("post-only SELL at %s would cross bid %s", o.Price, bid)
	}
	return ""
}

// expectedPrice is the price o is assumed to trade at for balance checks.
func (e *Engine) expectedPrice(o *og.Order) (model.Price, bool) {
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

func (e *Engine) accountFor(o *og.Order) (*state.Account, bool) {
	if !o.AccountID.IsZero() {
		if a, ok := e.cache.Account(o.AccountID); ok {
			return a, true
		}
	}
	return e.cache.AccountForVenue(o.InstrumentID.Venue)
}

// checkBalance requires enough free balance for the order: the full cost for
// cash accounts and the initial margin for margin accounts. Orders without a
// known account or price are let through.
func (e *Engine) checkBalance(inst *model.Instrument, o *og.Order) string {
	acc, ok := e.accountFor(o)
	if !ok {
		return ""
	}
	if acc.IsCash() && e.cfg.AllowCashBorrowing {
		return ""
	}
	px, ok := e.expectedPrice(o)
	if !ok || !px.IsPositive() {
		return ""
	}

	if acc.IsCash() && inst.Class == enum.InstrumentSpot && o.IsSell() {
		free := acc.BalanceFree(inst.BaseCurrency)
		if free.Decimal().LessThan(o.Quantity.Decimal()) {
			return fmt.Sprintf("insufficient %s balance: free %s, order %s", inst.BaseCurrency.Code, free, o.Quantity)
		}
		return ""
	}

	notional := inst.NotionalValue(o.Quantity, px)
	required := notional.Decimal()
	if acc.IsMargin() || inst.Class != enum.InstrumentSpot {
		if !inst.MarginInit.IsPositive() && acc.IsMargin() {
			required = decimal.Zero
		} else if inst.MarginInit.IsPositive() {
			required = required.Mul(inst.MarginInit)
		}
	}
	required = required.Add(inst.Commission(o.Quantity, px, enum.LiquidityTaker).Decimal())
	free := acc.BalanceFree(notional.Currency)
	if free.Decimal().LessThan(required) {
		return fmt.Sprintf("insufficient %s balance: free %s, required %s", notional.Currency.Code, free,
			required.StringFixed(int32(notional.Currency.Precision)))
	}
	return ""
}
