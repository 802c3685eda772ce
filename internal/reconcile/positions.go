package reconcile

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"

	"hftcore/internal/bus"
	"hftcore/internal/cache"
	"hftcore/internal/model"
	"hftcore/internal/model/enum"
	"hftcore/internal/og"
	"hftcore/internal/state"
	"hftcore/pkg/exception"
)

// ReconciliationPrice returns the fill price that takes a position from
// current at currentAvg to target at targetAvg. ok is false when no
// positive price does.
func ReconciliationPrice(current decimal.Decimal, currentAvg *decimal.Decimal, target decimal.Decimal, targetAvg *decimal.Decimal) (decimal.Decimal, bool) {
	diff := target.Sub(current)
	if diff.IsZero() {
		return decimal.Zero, false
	}
	// flattening closes at the current average
	if target.IsZero() {
		if currentAvg == nil {
			return decimal.Zero, false
		}
		return *currentAvg, true
	}
	if targetAvg == nil || targetAvg.IsZero() {
		return decimal.Zero, false
	}
	if current.IsZero() || currentAvg == nil {
		return *targetAvg, true
	}
	// a flip reopens at the target average
	if current.IsPositive() != target.IsPositive() {
		return *targetAvg, true
	}
	px := target.Mul(*targetAvg).Sub(current.Mul(*currentAvg)).Div(diff)
	if !px.IsPositive() {
		return decimal.Zero, false
	}
	return px, true
}

// localPosition sums what the cache holds for the report: the venue
// position under hedging, every open position on the instrument otherwise.
// single is set when exactly one position backs the sum.
func (m *Manager) localPosition(r model.PositionStatusReport) (qty decimal.Decimal, avg *decimal.Decimal, single *state.Position) {
	if !r.VenuePositionID.IsZero() {
		p, ok := m.cache.Position(r.VenuePositionID)
		if !ok {
			return decimal.Zero, nil, nil
		}
		if p.IsOpen() {
			px := p.AvgPxOpen
			avg = &px
		}
		return p.SignedQty(), avg, p
	}

	ps := m.cache.PositionsOpen(cache.Filter{InstrumentID: r.InstrumentID}, enum.PositionSideNone)
	weighted := decimal.Zero
	for _, p := range ps {
		qty = qty.Add(p.SignedQty())
		weighted = weighted.Add(p.SignedQty().Mul(p.AvgPxOpen))
	}
	if !qty.IsZero() {
		px := weighted.Div(qty)
		avg = &px
	}
	if len(ps) == 1 {
		single = ps[0]
	}
	return qty, avg, single
}

// owner picks the strategy a correcting fill is booked to.
func (m *Manager) owner(id model.InstrumentID, single *state.Position) model.StrategyID {
	if single != nil {
		return single.StrategyID
	}
	if s, ok := m.engine.ExternalOrderClaim(id); ok {
		return s
	}
	if closed := m.cache.PositionsClosed(cache.Filter{InstrumentID: id}); len(closed) == 1 {
		return closed[0].StrategyID
	}
	return ExternalStrategy
}

func (m *Manager) reconcilePosition(r model.PositionStatusReport) error {
	inst, ok := m.cache.Instrument(r.InstrumentID)
	if !ok {
		return fmt.Errorf("%w: reconcile position: %s", exception.ErrUnknownInstrument, r.InstrumentID)
	}
	// netting books every fill to the instrument position, whatever id the
	// venue gives it
	if !r.VenuePositionID.IsZero() && m.engine.OmsType(model.StrategyID{}, r.InstrumentID.Venue) != enum.OmsHedging {
		r.VenuePositionID = model.PositionID{}
	}
	current, currentAvg, single := m.localPosition(r)
	target := r.SignedQty()
	if current.Equal(target) {
		return nil
	}
	logs.Warnf("[Reconciliation] %s %s: local %s, venue %s", r.InstrumentID, r.VenuePositionID, current, target)

	px, ok := ReconciliationPrice(current, currentAvg, target, r.AvgPxOpen)
	if !ok {
		px, ok = m.marketPrice(r.InstrumentID)
	}
	// the engine does not reopen a closed hedging position through fills
	closedLeg := !r.VenuePositionID.IsZero() && single != nil && single.IsClosed()
	if ok && !closedLeg {
		return m.correctingFill(inst, r, m.owner(r.InstrumentID, single), target.Sub(current), px)
	}
	return m.forceSet(single, r)
}

func (m *Manager) marketPrice(id model.InstrumentID) (decimal.Decimal, bool) {
	for _, pt := range []enum.PriceType{enum.PriceTypeLast, enum.PriceTypeMid} {
		if p, ok := m.cache.Price(id, pt); ok && p.IsPositive() {
			return p.Decimal(), true
		}
	}
	return decimal.Zero, false
}

// correctingFill books a synthetic market order filled for diff at px.
func (m *Manager) correctingFill(inst *model.Instrument, r model.PositionStatusReport, strategy model.StrategyID, diff, px decimal.Decimal) error {
	qty := inst.MakeQty(diff)
	if !qty.IsPositive() {
		return divergence("%s: position difference %s is below the size increment", r.InstrumentID, diff)
	}
	side := enum.OrderSideBuy
	if diff.IsNegative() {
		side = enum.OrderSideSell
	}
	ts := r.TsLast
	if ts == 0 {
		ts = m.clock.TimestampNs()
	}
	id := model.MustClientOrderID("R-" + model.NewUUID4().String())
	init := &og.OrderInitialized{
		EventBase: og.EventBase{
			TraderID:       m.bus.TraderID(),
			StrategyID:     strategy,
			InstrumentID:   r.InstrumentID,
			ClientOrderID:  id,
			AccountID:      r.AccountID,
			EventID:        model.NewUUID4(),
			TsEvent:        ts,
			TsInit:         m.clock.TimestampNs(),
			Reconciliation: true,
		},
		Side:        side,
		Type:        enum.OrderTypeMarket,
		Quantity:    qty,
		TimeInForce: enum.TimeInForceGTC,
		Tags:        []string{"RECONCILIATION"},
	}
	o, err := og.NewOrder(init)
	if err != nil {
		return err
	}
	if err := m.cache.AddOrder(o, r.VenuePositionID, m.clientIDFor(r.InstrumentID.Venue)); err != nil {
		return err
	}
	m.bus.Publish(bus.OrderEventsTopic(id), init)

	lastPx := inst.MakePrice(px)
	m.stats.PositionFixes++
	logs.Warnf("[Reconciliation] correcting %s with %s %s @ %s (%s)", r.InstrumentID, side, qty, lastPx, id)

	m.process(&og.OrderSubmitted{EventBase: m.base(o, ts)})
	b := m.base(o, ts)
	b.VenueOrderID = model.MustVenueOrderID(id.String())
	m.process(&og.OrderAccepted{EventBase: b})
	m.process(&og.OrderFilled{
		EventBase:     b,
		TradeID:       model.MustTradeID(model.NewUUID4().String()),
		PositionID:    r.VenuePositionID,
		Side:          side,
		Type:          enum.OrderTypeMarket,
		LastQty:       qty,
		LastPx:        lastPx,
		Currency:      inst.QuoteCurrency,
		Commission:    model.ZeroMoney(inst.CostCurrency()),
		LiquiditySide: enum.LiquidityTaker,
	})
	if o.Status != enum.OrderStatusFilled {
		return divergence("%s: correcting order %s ended %s", r.InstrumentID, id, o.Status)
	}
	return nil
}

// forceSet overwrites the local position when no fill can reach the
// reported one.
func (m *Manager) forceSet(p *state.Position, r model.PositionStatusReport) error {
	if p == nil {
		return divergence("%s: no price and no single local position to correct", r.InstrumentID)
	}
	ts := m.clock.TimestampNs()
	p.ForceSet(r.SignedQty(), r.AvgPxOpen, ts)
	if err := m.cache.UpdatePosition(p); err != nil {
		return err
	}
	m.stats.PositionFixes++
	logs.Warnf("[Reconciliation] forced %s to %s %s", p.ID, p.Side, p.Quantity)
	m.bus.Publish(bus.PositionEventsTopic(p.ID), state.EventFor(p, nil, ts))
	return nil
}
