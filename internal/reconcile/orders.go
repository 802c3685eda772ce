package reconcile

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"

	"hftcore/internal/bus"
	"hftcore/internal/model"
	"hftcore/internal/model/enum"
	"hftcore/internal/og"
	"hftcore/pkg/exception"
)

// ExternalStrategy owns venue orders no strategy claimed.
var ExternalStrategy = model.MustStrategyID("EXTERNAL")

func (m *Manager) resolve(r *model.OrderStatusReport) (*og.Order, bool) {
	if !r.ClientOrderID.IsZero() {
		if o, ok := m.cache.Order(r.ClientOrderID); ok {
			return o, true
		}
	}
	if !r.VenueOrderID.IsZero() {
		if id, ok := m.cache.ClientOrderID(r.VenueOrderID); ok {
			return m.cache.Order(id)
		}
	}
	return nil, false
}

func (m *Manager) clientIDFor(venue model.Venue) model.ClientID {
	var out model.ClientID
	for id, c := range m.clients {
		if c.Venue() == venue && (out.IsZero() || compareIDs(id.String(), out.String()) < 0) {
			out = id
		}
	}
	return out
}

func divergence(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{exception.ErrReconciliationFailure}, args...)...)
}

// reconcileOrder walks the order forward to the reported state and returns
// the id of the local order the report was matched with.
func (m *Manager) reconcileOrder(r *model.OrderStatusReport, fills []model.FillReport) (model.ClientOrderID, error) {
	o, ok := m.resolve(r)
	if !ok {
		var err error
		if o, err = m.external(r); err != nil || o == nil {
			return model.ClientOrderID{}, err
		}
	}
	id := o.ClientOrderID
	inst, ok := m.cache.Instrument(o.InstrumentID)
	if !ok {
		return id, fmt.Errorf("%w: reconcile %s: %s", exception.ErrUnknownInstrument, id, o.InstrumentID)
	}
	ts := r.TsLast
	if ts == 0 {
		ts = m.clock.TimestampNs()
	}

	if o.IsClosed() {
		if r.FilledQty.GreaterThan(o.FilledQty) {
			return id, divergence("%s is %s with %s filled, venue reports %s filled", id, o.Status, o.FilledQty, r.FilledQty)
		}
		if !r.Status.IsTerminal() {
			logs.Warnf("[Reconciliation] %s is %s locally, venue reports %s", id, o.Status, r.Status)
		}
		return id, nil
	}
	if o.Status == enum.OrderStatusEmulated {
		logs.Warnf("[Reconciliation] %s is emulated locally, venue reports %s", id, r.Status)
		return id, nil
	}
	if o.IsActiveLocal() {
		m.process(&og.OrderSubmitted{EventBase: m.base(o, ts)})
	}

	if r.Status == enum.OrderStatusRejected {
		reason := r.CancelReason
		if reason == "" {
			reason = "UNKNOWN"
		}
		m.process(&og.OrderRejected{EventBase: m.base(o, ts), Reason: reason})
		return id, nil
	}

	if o.Status == enum.OrderStatusSubmitted {
		at := r.TsAccepted
		if at == 0 {
			at = ts
		}
		b := m.base(o, at)
		b.VenueOrderID = r.VenueOrderID
		m.process(&og.OrderAccepted{EventBase: b})
	}

	if o.Status == enum.OrderStatusAccepted && o.Type.HasTriggerPrice() &&
		(r.Status == enum.OrderStatusTriggered || r.TsTriggered != 0) {
		at := r.TsTriggered
		if at == 0 {
			at = ts
		}
		m.process(&og.OrderTriggered{EventBase: m.base(o, at)})
	}

	if !r.Status.IsTerminal() && needsUpdate(o, r) {
		m.process(&og.OrderUpdated{
			EventBase:    m.base(o, ts),
			Quantity:     r.Quantity,
			Price:        r.Price,
			TriggerPrice: r.TriggerPrice,
		})
	}

	slices.SortStableFunc(fills, func(a, b model.FillReport) int { return cmp.Compare(a.TsEvent, b.TsEvent) })
	for _, f := range fills {
		if err := m.applyFillReport(o, inst, f); err != nil {
			return id, err
		}
	}
	switch {
	case r.FilledQty.GreaterThan(o.FilledQty):
		if err := m.inferFill(o, inst, r, ts); err != nil {
			return id, err
		}
	case r.FilledQty.LessThan(o.FilledQty):
		return id, divergence("%s has %s filled, venue reports %s", id, o.FilledQty, r.FilledQty)
	}

	switch r.Status {
	case enum.OrderStatusCanceled:
		if o.IsOpen() {
			m.process(&og.OrderCanceled{EventBase: m.base(o, ts)})
		}
	case enum.OrderStatusExpired:
		if o.IsOpen() {
			m.process(&og.OrderExpired{EventBase: m.base(o, ts)})
		}
	case enum.OrderStatusFilled:
		if o.Status != enum.OrderStatusFilled {
			return id, divergence("%s is %s, venue reports it filled", id, o.Status)
		}
	}
	return id, nil
}

func needsUpdate(o *og.Order, r *model.OrderStatusReport) bool {
	return !o.Quantity.Equal(r.Quantity) || priceChanged(o.Price, r.Price) || priceChanged(o.TriggerPrice, r.TriggerPrice)
}

func priceChanged(local, venue *model.Price) bool {
	if venue == nil {
		return false
	}
	return local == nil || !local.Equal(*venue)
}

// external adopts a venue order the cache does not know. It returns nil when
// the order is filtered out or carries nothing worth adopting.
func (m *Manager) external(r *model.OrderStatusReport) (*og.Order, error) {
	if !m.cfg.GenerateMissingOrders {
		logs.Warnf("[Reconciliation] unknown venue order %s %s, not generating", r.VenueOrderID, r.ClientOrderID)
		return nil, nil
	}
	if r.Status.IsTerminal() && r.FilledQty.IsZero() {
		logs.Debugf("[Reconciliation] skip unknown %s venue order %s", r.Status, r.VenueOrderID)
		return nil, nil
	}
	strategy, claimed := m.engine.ExternalOrderClaim(r.InstrumentID)
	var tags []string
	if !claimed {
		if m.cfg.FilterUnclaimedExternalOrders {
			logs.Warnf("[Reconciliation] filtered unclaimed venue order %s on %s", r.VenueOrderID, r.InstrumentID)
			return nil, nil
		}
		strategy = ExternalStrategy
		tags = []string{"EXTERNAL"}
	}

	id := r.ClientOrderID
	if id.IsZero() {
		id = model.MustClientOrderID("O-" + model.NewUUID4().String())
	}
	tif := r.TimeInForce
	if tif == enum.TimeInForceGTD && r.ExpireTime == 0 {
		tif = enum.TimeInForceGTC
	}
	ts := r.TsAccepted
	if ts == 0 {
		ts = r.TsLast
	}
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
		Side:            r.Side,
		Type:            r.Type,
		Quantity:        r.Quantity,
		Price:           r.Price,
		TriggerPrice:    r.TriggerPrice,
		TriggerType:     r.TriggerType,
		TimeInForce:     tif,
		ExpireTime:      r.ExpireTime,
		PostOnly:        r.PostOnly,
		ReduceOnly:      r.ReduceOnly,
		ContingencyType: r.ContingencyType,
		OrderListID:     r.OrderListID,
		Tags:            tags,
	}
	o, err := og.NewOrder(init)
	if err != nil {
		return nil, fmt.Errorf("adopt venue order %s: %w", r.VenueOrderID, err)
	}
	if err := m.cache.AddOrder(o, model.PositionID{}, m.clientIDFor(r.InstrumentID.Venue)); err != nil {
		return nil, err
	}
	m.stats.External++
	logs.Infof("[Reconciliation] adopted venue order %s as %s for %s (%s)", r.VenueOrderID, id, strategy, r.Status)
	m.bus.Publish(bus.OrderEventsTopic(id), init)
	return o, nil
}

// applyFillReport applies a venue fill once. Trade ids already on the order
// or already processed are skipped.
func (m *Manager) applyFillReport(o *og.Order, inst *model.Instrument, f model.FillReport) error {
	if o.HasTradeID(f.TradeID) {
		return nil
	}
	if _, ok := m.processed[f.TradeID]; ok {
		return nil
	}
	if f.LastQty.GreaterThan(o.LeavesQty) {
		return divergence("fill %s of %s exceeds %s leaves %s", f.TradeID, f.LastQty, o.ClientOrderID, o.LeavesQty)
	}
	b := m.base(o, f.TsEvent)
	if !f.VenueOrderID.IsZero() {
		b.VenueOrderID = f.VenueOrderID
	}
	if !f.AccountID.IsZero() {
		b.AccountID = f.AccountID
	}
	m.processed[f.TradeID] = struct{}{}
	m.process(&og.OrderFilled{
		EventBase:     b,
		TradeID:       f.TradeID,
		PositionID:    f.VenuePositionID,
		Side:          o.Side,
		Type:          o.Type,
		LastQty:       f.LastQty,
		LastPx:        f.LastPx,
		Currency:      inst.QuoteCurrency,
		Commission:    f.Commission,
		LiquiditySide: f.LiquiditySide,
	})
	return nil
}

// reconcileFillReport handles a fill whose order report was not part of the
// mass status.
func (m *Manager) reconcileFillReport(f model.FillReport) error {
	o, ok := m.resolve(&model.OrderStatusReport{ClientOrderID: f.ClientOrderID, VenueOrderID: f.VenueOrderID})
	if !ok {
		logs.Warnf("[Reconciliation] fill %s for unknown venue order %s", f.TradeID, f.VenueOrderID)
		return nil
	}
	inst, ok := m.cache.Instrument(o.InstrumentID)
	if !ok {
		return fmt.Errorf("%w: reconcile fill %s: %s", exception.ErrUnknownInstrument, f.TradeID, o.InstrumentID)
	}
	if o.IsClosed() {
		if !o.HasTradeID(f.TradeID) {
			logs.Warnf("[Reconciliation] fill %s for closed order %s", f.TradeID, o.ClientOrderID)
		}
		return nil
	}
	return m.applyFillReport(o, inst, f)
}

// inferFill books the filled quantity the venue reports but no fill report
// explains.
func (m *Manager) inferFill(o *og.Order, inst *model.Instrument, r *model.OrderStatusReport, ts model.UnixNanos) error {
	fallback := r.Price
	if fallback == nil {
		fallback = o.Price
	}
	px, ok := InferFillPrice(o.FilledQty.Decimal(), o.AvgPx, r.FilledQty.Decimal(), r.AvgPx, fallback)
	if !ok {
		return divergence("%s: no price for %s missing fill", o.ClientOrderID, r.FilledQty.Sub(o.FilledQty))
	}
	lastQty := inst.MakeQty(r.FilledQty.Decimal().Sub(o.FilledQty.Decimal()))
	lastPx := inst.MakePrice(px)

	liquidity := enum.LiquidityNone
	switch {
	case o.Type == enum.OrderTypeMarket || o.Type == enum.OrderTypeStopMarket || o.Type == enum.OrderTypeTrailingStopMarket:
		liquidity = enum.LiquidityTaker
	case r.PostOnly:
		liquidity = enum.LiquidityMaker
	}
	fee := liquidity
	if fee == enum.LiquidityNone {
		fee = enum.LiquidityTaker
	}

	b := m.base(o, ts)
	if !r.VenueOrderID.IsZero() {
		b.VenueOrderID = r.VenueOrderID
	}
	if !r.AccountID.IsZero() {
		b.AccountID = r.AccountID
	}
	fill := &og.OrderFilled{
		EventBase:     b,
		TradeID:       model.MustTradeID(model.NewUUID4().String()),
		Side:          o.Side,
		Type:          o.Type,
		LastQty:       lastQty,
		LastPx:        lastPx,
		Currency:      inst.QuoteCurrency,
		Commission:    inst.Commission(lastQty, lastPx, fee),
		LiquiditySide: liquidity,
	}
	m.stats.InferredFills++
	logs.Warnf("[Reconciliation] inferred fill %s %s @ %s for %s", fill.TradeID, lastQty, lastPx, o.ClientOrderID)
	m.process(fill)
	return nil
}

// InferFillPrice returns the price of the fill that takes an order from
// localFilled at localAvg to reportFilled at reportAvg. Without a usable
// reported average it falls back to the order's price.
func InferFillPrice(localFilled, localAvg, reportFilled decimal.Decimal, reportAvg *decimal.Decimal, fallback *model.Price) (decimal.Decimal, bool) {
	diff := reportFilled.Sub(localFilled)
	if !diff.IsPositive() {
		return decimal.Zero, false
	}
	if reportAvg != nil && reportAvg.IsPositive() {
		if localFilled.IsZero() {
			return *reportAvg, true
		}
		px := reportAvg.Mul(reportFilled).Sub(localAvg.Mul(localFilled)).Div(diff)
		if px.IsPositive() {
			return px, true
		}
	}
	if fallback != nil && fallback.IsPositive() {
		return fallback.Decimal(), true
	}
	return decimal.Zero, false
}
