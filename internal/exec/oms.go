package exec

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"

	"hftcore/internal/bus"
	"hftcore/internal/model"
	"hftcore/internal/model/enum"
	"hftcore/internal/og"
	"hftcore/internal/state"
)

// Process applies an order event reported by an execution client or the
// emulator. Events for unknown orders are resolved through the venue order id
// and dropped when that fails too.
func (e *Engine) Process(ev og.OrderEvent) {
	h := ev.Header()
	o, ok := e.cache.Order(h.ClientOrderID)
	if !ok && !h.VenueOrderID.IsZero() {
		if id, found := e.cache.ClientOrderID(h.VenueOrderID); found {
			h.ClientOrderID = id
			o, ok = e.cache.Order(id)
		}
	}
	if !ok {
		logs.Warnf("[ExecEngine] %s for unknown order %s (venue %s)", ev.EventType(), h.ClientOrderID, h.VenueOrderID)
		return
	}
	if fill, isFill := ev.(*og.OrderFilled); isFill {
		e.processFill(o, fill)
		return
	}
	e.apply(o, ev)
}

// apply folds ev into o, re-indexes o, publishes ev on the order's topic and
// lets the contingency manager react. It reports whether ev was accepted.
func (e *Engine) apply(o *og.Order, ev og.OrderEvent) bool {
	if !e.applyOrder(o, ev) {
		return false
	}
	e.contingency.HandleEvent(ev)
	return true
}

func (e *Engine) applyOrder(o *og.Order, ev og.OrderEvent) bool {
	if err := o.Apply(ev); err != nil {
		if errors.Is(err, og.ErrInvalidTransition) || errors.Is(err, og.ErrDuplicateFill) {
			logs.Warnf("[ExecEngine] %+v", err)
		} else {
			logs.Errorf("[ExecEngine] apply %s to %s: %+v", ev.EventType(), o.ClientOrderID, err)
		}
		return false
	}
	e.stats.Events++
	if err := e.cache.UpdateOrder(o); err != nil {
		logs.Errorf("[ExecEngine] %+v", err)
	}
	e.bus.Publish(bus.OrderEventsTopic(o.ClientOrderID), ev)
	return true
}

func (e *Engine) processFill(o *og.Order, fill *og.OrderFilled) {
	inst, ok := e.cache.Instrument(fill.InstrumentID)
	if !ok {
		logs.Errorf("[ExecEngine] fill %s for %s: no instrument %s", fill.TradeID, o.ClientOrderID, fill.InstrumentID)
		return
	}
	if fill.StrategyID.IsZero() {
		fill.StrategyID = o.StrategyID
	}
	if fill.AccountID.IsZero() {
		fill.AccountID = o.AccountID
	}
	if fill.Currency.IsZero() {
		fill.Currency = inst.QuoteCurrency
	}
	oms := e.OmsType(fill.StrategyID, fill.InstrumentID.Venue)
	e.assignPositionID(o, fill, oms)
	if o.ContingencyType == enum.ContingencyOTO {
		// children of an OTO parent trade against the position the parent opened
		for _, child := range o.LinkedOrderIDs {
			if _, linked := e.cache.PositionID(child); !linked {
				e.cache.AddPositionID(fill.PositionID, fill.InstrumentID.Venue, child, o.StrategyID)
			}
		}
	}
	if !e.applyOrder(o, fill) {
		return
	}
	e.stats.Fills++
	e.bus.Publish(bus.FillsTopic(fill.InstrumentID), fill)

	realized := e.updatePosition(inst, o, fill, oms)
	e.updateAccount(inst, fill, realized)
	// contingent orders released by this fill see the updated position
	e.contingency.HandleEvent(fill)
}

func isVirtual(id model.PositionID) bool { return strings.HasPrefix(id.String(), "P-") }

// assignPositionID sets the position a fill belongs to. Netting keeps one
// position per instrument and strategy. Hedging keeps a venue assigned id,
// then the id the order was linked to, and generates one otherwise.
func (e *Engine) assignPositionID(o *og.Order, fill *og.OrderFilled, oms enum.OmsType) {
	if oms != enum.OmsHedging {
		fill.PositionID = NettingPositionID(fill.InstrumentID, fill.StrategyID)
		return
	}
	if !fill.PositionID.IsZero() {
		return
	}
	if pid, ok := e.cache.PositionID(o.ClientOrderID); ok {
		fill.PositionID = pid
		return
	}
	if !o.PositionID.IsZero() {
		fill.PositionID = o.PositionID
		return
	}
	fill.PositionID = e.positionIDs.Generate(fill.StrategyID, false)
}

// updatePosition opens, changes, closes or flips the fill's position and
// returns the realized P&L the fill produced in the cost currency.
func (e *Engine) updatePosition(inst *model.Instrument, o *og.Order, fill *og.OrderFilled, oms enum.OmsType) decimal.Decimal {
	p, ok := e.cache.Position(fill.PositionID)
	if !ok || p.IsClosed() {
		if ok && oms == enum.OmsHedging {
			logs.Errorf("[ExecEngine] fill %s for closed hedging position %s", fill.TradeID, p.ID)
			return decimal.Zero
		}
		opened := e.openPosition(inst, fill, oms)
		if opened == nil {
			return decimal.Zero
		}
		return opened.RealizedPnL.Decimal()
	}
	if p.WouldFlip(fill) {
		return e.flipPosition(inst, o, p, fill, oms)
	}
	return e.changePosition(p, fill)
}

func (e *Engine) openPosition(inst *model.Instrument, fill *og.OrderFilled, oms enum.OmsType) *state.Position {
	p, err := state.NewPosition(inst, fill)
	if err != nil {
		logs.Errorf("[ExecEngine] open position %s: %+v", fill.PositionID, err)
		return nil
	}
	if prev, ok := e.cache.Position(p.ID); ok && prev.IsClosed() && !e.cfg.SnapshotPositions {
		e.cache.PurgePosition(prev.ID)
	}
	if err := e.cache.AddPosition(p, oms); err != nil {
		logs.Errorf("[ExecEngine] %+v", err)
		return nil
	}
	logs.Debugf("[ExecEngine] opened %s %s %s", p.ID, p.Side, p.Quantity)
	e.bus.Publish(bus.PositionEventsTopic(p.ID), state.NewPositionOpened(p, fill, e.clock.TimestampNs()))
	return p
}

func (e *Engine) changePosition(p *state.Position, fill *og.OrderFilled) decimal.Decimal {
	before := p.RealizedPnL.Decimal()
	if err := p.Apply(fill); err != nil {
		logs.Errorf("[ExecEngine] apply fill %s to %s: %+v", fill.TradeID, p.ID, err)
		return decimal.Zero
	}
	if err := e.cache.UpdatePosition(p); err != nil {
		logs.Errorf("[ExecEngine] %+v", err)
	}
	e.bus.Publish(bus.PositionEventsTopic(p.ID), state.EventFor(p, fill, e.clock.TimestampNs()))
	return p.RealizedPnL.Decimal().Sub(before)
}

// flipPosition splits a fill larger than the open quantity: the first part
// closes p and the rest opens a position on the other side. Commission is
// split pro rata.
func (e *Engine) flipPosition(inst *model.Instrument, o *og.Order, p *state.Position, fill *og.OrderFilled, oms enum.OmsType) decimal.Decimal {
	closeQty := p.Quantity.WithPrecision(fill.LastQty.Precision)
	openQty := fill.LastQty.Sub(closeQty)

	closing := *fill
	closing.LastQty = closeQty
	opening := *fill
	opening.LastQty = openQty
	opening.EventID = model.NewUUID4()

	if c := fill.Commission; !c.Currency.IsZero() {
		share := c.Decimal().Mul(closeQty.Decimal()).Div(fill.LastQty.Decimal())
		closing.Commission, _ = model.MoneyFromDecimal(share, c.Currency)
		opening.Commission = c.Sub(closing.Commission)
	}

	realized := e.changePosition(p, &closing)

	if oms == enum.OmsHedging && isVirtual(p.ID) {
		opening.PositionID = e.positionIDs.Generate(fill.StrategyID, true)
		e.cache.AddPositionID(opening.PositionID, fill.InstrumentID.Venue, o.ClientOrderID, fill.StrategyID)
	}
	logs.Infof("[ExecEngine] flipped %s: closed %s, opening %s %s", p.ID, closeQty, opening.PositionID, openQty)
	if opened := e.openPosition(inst, &opening, oms); opened != nil {
		realized = realized.Add(opened.RealizedPnL.Decimal())
	}
	return realized
}

func (e *Engine) accountForFill(fill *og.OrderFilled) (*state.Account, bool) {
	if !fill.AccountID.IsZero() {
		if a, ok := e.cache.Account(fill.AccountID); ok {
			return a, true
		}
	}
	return e.cache.AccountForVenue(fill.InstrumentID.Venue)
}

// updateAccount books a fill into its account and publishes the new,
// unreported state. Cash spot trades move the base and quote balances by the
// traded amounts. Everything else books the realized P&L into the cost
// currency. Commission not already inside the P&L is charged separately.
func (e *Engine) updateAccount(inst *model.Instrument, fill *og.OrderFilled, realized decimal.Decimal) {
	acc, ok := e.accountForFill(fill)
	if !ok {
		logs.Debugf("[ExecEngine] no account for fill %s on %s", fill.TradeID, fill.InstrumentID.Venue)
		return
	}

	deltas := map[string]decimal.Decimal{}
	currencies := map[string]model.Currency{}
	add := func(c model.Currency, d decimal.Decimal) {
		if c.IsZero() || d.IsZero() {
			return
		}
		deltas[c.Code] = deltas[c.Code].Add(d)
		currencies[c.Code] = c
	}

	comm := fill.Commission
	if acc.IsCash() && inst.Class == enum.InstrumentSpot {
		notional := inst.NotionalValue(fill.LastQty, fill.LastPx)
		if fill.IsBuy() {
			add(notional.Currency, notional.Decimal().Neg())
			add(inst.BaseCurrency, fill.LastQty.Decimal())
		} else {
			add(notional.Currency, notional.Decimal())
			add(inst.BaseCurrency, fill.LastQty.Decimal().Neg())
		}
		add(comm.Currency, comm.Decimal().Neg())
	} else {
		cost := inst.CostCurrency()
		add(cost, realized)
		if comm.Currency.Code != cost.Code {
			add(comm.Currency, comm.Decimal().Neg())
		}
	}
	if !comm.Currency.IsZero() {
		acc.AddCommission(comm)
	}
	if len(deltas) == 0 {
		return
	}

	balances := make([]state.AccountBalance, 0, len(deltas))
	for code, d := range deltas {
		c := currencies[code]
		prev, _ := acc.Balance(c)
		locked := prev.Locked
		if locked.Currency.IsZero() {
			locked = model.ZeroMoney(c)
		}
		total, err := model.MoneyFromDecimal(acc.BalanceTotal(c).Decimal().Add(d), c)
		if err != nil {
			e.stats.AccountRejects++
			logs.Errorf("[ExecEngine] account %s %s: %+v", acc.ID, code, err)
			return
		}
		b, err := state.NewAccountBalance(total, locked)
		if err != nil {
			e.stats.AccountRejects++
			logs.Errorf("[ExecEngine] account %s after fill %s: %+v", acc.ID, fill.TradeID, err)
			return
		}
		balances = append(balances, b)
	}

	next := acc.NextState(balances, nil, fill.TsEvent)
	if err := acc.Apply(next); err != nil {
		e.stats.AccountRejects++
		logs.Errorf("[ExecEngine] %+v", err)
		return
	}
	if err := e.cache.UpdateAccount(acc); err != nil {
		logs.Errorf("[ExecEngine] %+v", err)
	}
	e.bus.Publish(bus.AccountEventsTopic(acc.ID), next)
}

// ProcessAccountState replaces the account's balances with a state reported
// by a venue, creating the account on first sight.
func (e *Engine) ProcessAccountState(s *state.AccountState) error {
	if err := s.Validate(); err != nil {
		return err
	}
	acc, ok := e.cache.Account(s.AccountID)
	if !ok {
		created, err := state.NewAccount(s)
		if err != nil {
			return err
		}
		if err := e.cache.AddAccount(created); err != nil {
			return err
		}
		logs.Infof("[ExecEngine] added %s account %s", created.Type, created.ID)
	} else {
		if err := acc.Apply(s); err != nil {
			return err
		}
		if err := e.cache.UpdateAccount(acc); err != nil {
			return err
		}
	}
	e.bus.Publish(bus.AccountEventsTopic(s.AccountID), s)
	return nil
}
