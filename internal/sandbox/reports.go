package sandbox

import (
	"cmp"
	"context"
	"slices"
	"time"

	"hftcore/internal/exec"
	"hftcore/internal/model"
	"hftcore/internal/model/enum"
)

func (c *ExecutionClient) statusReport(v *venueOrder) model.OrderStatusReport {
	o := v.order
	r := model.OrderStatusReport{
		AccountID:       c.cfg.AccountID,
		InstrumentID:    o.InstrumentID,
		ClientOrderID:   o.ClientOrderID,
		VenueOrderID:    v.venueID,
		OrderListID:     o.OrderListID,
		ContingencyType: o.ContingencyType,
		Side:            o.Side,
		Type:            o.Type,
		TimeInForce:     o.TimeInForce,
		Status:          v.status,
		Quantity:        o.Quantity,
		FilledQty:       v.filled,
		Price:           o.Price,
		TriggerPrice:    o.TriggerPrice,
		TriggerType:     o.TriggerType,
		ExpireTime:      o.ExpireTime,
		PostOnly:        o.PostOnly,
		ReduceOnly:      o.ReduceOnly,
		CancelReason:    v.reason,
		ReportID:        model.NewUUID4(),
		TsAccepted:      v.accepted,
		TsTriggered:     v.triggered,
		TsLast:          v.last,
		TsInit:          c.clock.TimestampNs(),
	}
	if v.filled.IsPositive() {
		avg := v.avgPx
		r.AvgPx = &avg
	}
	if v.status == enum.OrderStatusAccepted && v.filled.IsPositive() {
		r.Status = enum.OrderStatusPartiallyFilled
	}
	return r
}

func (c *ExecutionClient) matches(v *venueOrder, q exec.ReportQuery) bool {
	o := v.order
	switch {
	case !q.InstrumentID.IsZero() && o.InstrumentID != q.InstrumentID:
		return false
	case !q.ClientOrderID.IsZero() && o.ClientOrderID != q.ClientOrderID:
		return false
	case !q.VenueOrderID.IsZero() && v.venueID != q.VenueOrderID:
		return false
	case q.OpenOnly && !v.isOpen():
		return false
	case q.Start != 0 && v.last < q.Start && !v.isOpen():
		return false
	}
	return true
}

// sortedOrders returns the venue's orders in acceptance order.
func (c *ExecutionClient) sortedOrders() []*venueOrder {
	out := make([]*venueOrder, 0, len(c.orders))
	for _, v := range c.orders {
		out = append(out, v)
	}
	slices.SortFunc(out, func(a, b *venueOrder) int {
		if a.accepted != b.accepted {
			return cmp.Compare(a.accepted, b.accepted)
		}
		return compareIDs(a.venueID.String(), b.venueID.String())
	})
	return out
}

func compareIDs(a, b string) int {
	if len(a) != len(b) {
		return len(a) - len(b)
	}
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// GenerateOrderStatusReport returns nil when the venue does not know the order.
func (c *ExecutionClient) GenerateOrderStatusReport(ctx context.Context, q exec.ReportQuery) (*model.OrderStatusReport, error) {
	if err := c.checkConnected(); err != nil {
		return nil, err
	}
	v, ok := c.lookup(q.ClientOrderID, q.VenueOrderID)
	if !ok {
		return nil, nil
	}
	r := c.statusReport(v)
	return &r, nil
}

func (c *ExecutionClient) GenerateOrderStatusReports(ctx context.Context, q exec.ReportQuery) ([]model.OrderStatusReport, error) {
	if err := c.checkConnected(); err != nil {
		return nil, err
	}
	var out []model.OrderStatusReport
	for _, v := range c.sortedOrders() {
		if c.matches(v, q) {
			out = append(out, c.statusReport(v))
		}
	}
	return out, nil
}

func (c *ExecutionClient) GenerateFillReports(ctx context.Context, q exec.ReportQuery) ([]model.FillReport, error) {
	if err := c.checkConnected(); err != nil {
		return nil, err
	}
	var out []model.FillReport
	for _, f := range c.fills {
		switch {
		case !q.InstrumentID.IsZero() && f.InstrumentID != q.InstrumentID:
			continue
		case !q.ClientOrderID.IsZero() && f.ClientOrderID != q.ClientOrderID:
			continue
		case !q.VenueOrderID.IsZero() && f.VenueOrderID != q.VenueOrderID:
			continue
		case q.Start != 0 && f.TsEvent < q.Start:
			continue
		}
		out = append(out, f)
	}
	return out, nil
}

// GeneratePositionStatusReports reports one net position per traded instrument.
func (c *ExecutionClient) GeneratePositionStatusReports(ctx context.Context, q exec.ReportQuery) ([]model.PositionStatusReport, error) {
	if err := c.checkConnected(); err != nil {
		return nil, err
	}
	ids := make([]model.InstrumentID, 0, len(c.positions))
	for id := range c.positions {
		if q.InstrumentID.IsZero() || id == q.InstrumentID {
			ids = append(ids, id)
		}
	}
	slices.SortFunc(ids, func(a, b model.InstrumentID) int { return compareIDs(a.String(), b.String()) })

	ts := c.clock.TimestampNs()
	out := make([]model.PositionStatusReport, 0, len(ids))
	for _, id := range ids {
		p := c.positions[id]
		inst, ok := c.cache.Instrument(id)
		if !ok {
			continue
		}
		qty, err := model.QuantityFromDecimal(p.qty.Abs(), inst.SizePrecision)
		if err != nil {
			return nil, err
		}
		r := model.PositionStatusReport{
			AccountID:    c.cfg.AccountID,
			InstrumentID: id,
			Side:         enum.PositionSideFlat,
			Quantity:     qty,
			ReportID:     model.NewUUID4(),
			TsLast:       p.last,
			TsInit:       ts,
		}
		if p.qty.IsPositive() {
			r.Side = enum.PositionSideLong
		} else if p.qty.IsNegative() {
			r.Side = enum.PositionSideShort
		}
		if !p.qty.IsZero() {
			avg := p.avgPx
			r.AvgPxOpen = &avg
		}
		out = append(out, r)
	}
	return out, nil
}

// GenerateMassStatus bundles every report updated within the lookback.
func (c *ExecutionClient) GenerateMassStatus(ctx context.Context, lookbackMins int) (*model.ExecutionMassStatus, error) {
	if err := c.checkConnected(); err != nil {
		return nil, err
	}
	ts := c.clock.TimestampNs()
	var q exec.ReportQuery
	if lookbackMins > 0 {
		start := int64(ts) - (time.Duration(lookbackMins) * time.Minute).Nanoseconds()
		q.Start = model.UnixNanos(max(start, 0))
	}
	orders, err := c.GenerateOrderStatusReports(ctx, q)
	if err != nil {
		return nil, err
	}
	fills, err := c.GenerateFillReports(ctx, q)
	if err != nil {
		return nil, err
	}
	positions, err := c.GeneratePositionStatusReports(ctx, exec.ReportQuery{})
	if err != nil {
		return nil, err
	}
	return &model.ExecutionMassStatus{
		ClientID:        c.cfg.ClientID,
		AccountID:       c.cfg.AccountID,
		Venue:           c.cfg.Venue,
		OrderReports:    orders,
		FillReports:     fills,
		PositionReports: positions,
		ReportID:        model.NewUUID4(),
		TsInit:          ts,
	}, nil
}
