package data

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"

	"hftcore/internal/clock"
	"hftcore/internal/model"
	"hftcore/internal/model/enum"
	"hftcore/pkg/exception"
)

// BarBuilder accumulates OHLCV values for one bar.
type BarBuilder struct {
	barType        model.BarType
	pricePrecision uint8
	sizePrecision  uint8

	initialized bool
	tsLast      model.UnixNanos
	count       int

	open, high, low, close model.Price
	lastClose              model.Price
	hasOpen, hasLastClose  bool
	volume                 model.Quantity
}

func NewBarBuilder(bt model.BarType, pricePrecision, sizePrecision uint8) *BarBuilder {
	return &BarBuilder{
		barType:        bt,
		pricePrecision: pricePrecision,
		sizePrecision:  sizePrecision,
		volume:         model.Quantity{Precision: sizePrecision},
	}
}

func (b *BarBuilder) Initialized() bool { return b.initialized }

func (b *BarBuilder) Count() int { return b.count }

func (b *BarBuilder) TsLast() model.UnixNanos { return b.tsLast }

func (b *BarBuilder) Volume() model.Quantity { return b.volume }

// Update folds one price and size in. Updates older than the last are ignored.
func (b *BarBuilder) Update(px model.Price, sz model.Quantity, ts model.UnixNanos) {
	if ts < b.tsLast {
		return
	}
	b.extend(px, px)
	b.close = px
	b.volume = b.volume.Add(sz.WithPrecision(b.sizePrecision))
	b.count++
	b.tsLast = ts
}

// UpdateBar folds a finer bar in with the given share of its volume.
func (b *BarBuilder) UpdateBar(bar model.Bar, volume model.Quantity, ts model.UnixNanos) {
	if ts < b.tsLast {
		return
	}
	if !b.hasOpen {
		b.open, b.high, b.low = bar.Open, bar.High, bar.Low
		b.hasOpen, b.initialized = true, true
	} else {
		b.extend(bar.High, bar.Low)
	}
	b.close = bar.Close
	b.volume = b.volume.Add(volume.WithPrecision(b.sizePrecision))
	b.count++
	b.tsLast = ts
}

func (b *BarBuilder) extend(high, low model.Price) {
	if !b.hasOpen {
		b.open, b.high, b.low = low, high, low
		b.hasOpen, b.initialized = true, true
		return
	}
	if high.GreaterThan(b.high) {
		b.high = high
	}
	if low.LessThan(b.low) {
		b.low = low
	}
}

// Reset drops the in-progress values. The last close is kept for empty bars.
func (b *BarBuilder) Reset() {
	b.hasOpen = false
	b.volume = model.Quantity{Precision: b.sizePrecision}
	b.count = 0
}

// Build returns the bar and resets. A builder without updates since the last
// bar repeats the previous close; it must have built at least once or been updated.
func (b *BarBuilder) Build(tsEvent, tsInit model.UnixNanos) model.Bar {
	if !b.hasOpen {
		b.open, b.high, b.low, b.close = b.lastClose, b.lastClose, b.lastClose, b.lastClose
	}
	if b.close.LessThan(b.low) {
		b.low = b.close
	}
	if b.close.GreaterThan(b.high) {
		b.high = b.close
	}
	bar := model.Bar{
		BarType: b.barType,
		Open:    b.open,
		High:    b.high,
		Low:     b.low,
		Close:   b.close,
		Volume:  b.volume,
		TsEvent: tsEvent,
		TsInit:  tsInit,
	}
	b.lastClose, b.hasLastClose = b.close, true
	b.Reset()
	return bar
}

// BuildNow builds with both timestamps at the last update.
func (b *BarBuilder) BuildNow() model.Bar { return b.Build(b.tsLast, b.tsLast) }

// Aggregator builds bars of one bar type from prices, sizes or finer bars.
type Aggregator interface {
	BarType() model.BarType
	Update(px model.Price, sz model.Quantity, ts model.UnixNanos)
	UpdateBar(bar model.Bar, volume model.Quantity, ts model.UnixNanos)
}

// HandleQuote feeds the price type of the aggregator's spec from q.
func HandleQuote(a Aggregator, q model.QuoteTick) {
	pt := a.BarType().Spec.PriceType
	a.Update(q.ExtractPrice(pt), q.ExtractSize(pt), q.TsEvent)
}

func HandleTrade(a Aggregator, t model.TradeTick) { a.Update(t.Price, t.Size, t.TsEvent) }

func HandleBar(a Aggregator, b model.Bar) { a.UpdateBar(b, b.Volume, b.TsInit) }

type aggregatorBase struct {
	barType model.BarType
	builder *BarBuilder
	handler func(model.Bar)
}

func newBase(bt model.BarType, inst *model.Instrument, handler func(model.Bar)) aggregatorBase {
	out := bt.Standard()
	return aggregatorBase{
		barType: out,
		builder: NewBarBuilder(out, inst.PricePrecision, inst.SizePrecision),
		handler: handler,
	}
}

func (a *aggregatorBase) BarType() model.BarType { return a.barType }

func (a *aggregatorBase) Builder() *BarBuilder { return a.builder }

func (a *aggregatorBase) send(bar model.Bar) {
	if a.handler != nil {
		a.handler(bar)
	}
}

// TickAggregator closes a bar every Step updates.
type TickAggregator struct{ aggregatorBase }

func NewTickAggregator(bt model.BarType, inst *model.Instrument, handler func(model.Bar)) *TickAggregator {
	return &TickAggregator{newBase(bt, inst, handler)}
}

func (a *TickAggregator) Update(px model.Price, sz model.Quantity, ts model.UnixNanos) {
	a.builder.Update(px, sz, ts)
	if a.builder.count >= a.barType.Spec.Step {
		a.send(a.builder.BuildNow())
	}
}

func (a *TickAggregator) UpdateBar(bar model.Bar, volume model.Quantity, ts model.UnixNanos) {
	a.builder.UpdateBar(bar, volume, ts)
	if a.builder.count >= a.barType.Spec.Step {
		a.send(a.builder.BuildNow())
	}
}

// VolumeAggregator closes a bar whenever accumulated size reaches Step. A
// large update is split across as many bars as it fills.
type VolumeAggregator struct{ aggregatorBase }

func NewVolumeAggregator(bt model.BarType, inst *model.Instrument, handler func(model.Bar)) *VolumeAggregator {
	return &VolumeAggregator{newBase(bt, inst, handler)}
}

func (a *VolumeAggregator) step() int64 { return int64(a.barType.Spec.Step) * model.FixedScalar }

func (a *VolumeAggregator) Update(px model.Price, sz model.Quantity, ts model.UnixNanos) {
	a.split(sz, func(q model.Quantity) { a.builder.Update(px, q, ts) })
}

func (a *VolumeAggregator) UpdateBar(bar model.Bar, volume model.Quantity, ts model.UnixNanos) {
	a.split(volume, func(q model.Quantity) { a.builder.UpdateBar(bar, q, ts) })
}

func (a *VolumeAggregator) split(sz model.Quantity, apply func(model.Quantity)) {
	remaining := sz.Raw
	for remaining > 0 {
		if a.builder.volume.Raw+remaining < a.step() {
			apply(model.QuantityFromRaw(remaining, sz.Precision))
			return
		}
		diff := a.step() - a.builder.volume.Raw
		apply(model.QuantityFromRaw(diff, sz.Precision))
		a.send(a.builder.BuildNow())
		remaining -= diff
	}
}

// ValueAggregator closes a bar whenever accumulated price times size reaches Step.
type ValueAggregator struct {
	aggregatorBase
	cumValue decimal.Decimal
}

func NewValueAggregator(bt model.BarType, inst *model.Instrument, handler func(model.Bar)) *ValueAggregator {
	return &ValueAggregator{aggregatorBase: newBase(bt, inst, handler)}
}

func (a *ValueAggregator) CumulativeValue() decimal.Decimal { return a.cumValue }

func (a *ValueAggregator) Update(px model.Price, sz model.Quantity, ts model.UnixNanos) {
	a.split(px.Decimal(), sz, func(q model.Quantity) { a.builder.Update(px, q, ts) })
}

// UpdateBar values the bar's volume at its typical price (high+low+close)/3.
func (a *ValueAggregator) UpdateBar(bar model.Bar, volume model.Quantity, ts model.UnixNanos) {
	typical := bar.High.Decimal().Add(bar.Low.Decimal()).Add(bar.Close.Decimal()).Div(decimal.NewFromInt(3))
	a.split(typical, volume, func(q model.Quantity) { a.builder.UpdateBar(bar, q, ts) })
}

func (a *ValueAggregator) split(px decimal.Decimal, sz model.Quantity, apply func(model.Quantity)) {
	step := decimal.NewFromInt(int64(a.barType.Spec.Step))
	precision := a.builder.sizePrecision
	remaining := sz.Decimal()
	for remaining.IsPositive() {
		value := px.Mul(remaining)
		if a.cumValue.Add(value).LessThan(step) || !px.IsPositive() {
			a.cumValue = a.cumValue.Add(value)
			apply(a.quantity(remaining, precision))
			return
		}
		part := a.quantity(step.Sub(a.cumValue).Div(px), precision)
		if !part.IsPositive() {
			// the remainder cannot be split at this precision
			part = a.quantity(remaining, precision)
		}
		apply(part)
		a.send(a.builder.BuildNow())
		a.cumValue = decimal.Zero
		remaining = remaining.Sub(part.Decimal())
	}
}

func (a *ValueAggregator) quantity(d decimal.Decimal, precision uint8) model.Quantity {
	q, err := model.QuantityFromDecimal(d.Truncate(int32(precision)), precision)
	if err != nil {
		return model.Quantity{Precision: precision}
	}
	return q
}

// TimeOptions are the time bar options of the data engine config.
type TimeOptions struct {
	BuildWithNoUpdates  bool
	TimestampOnClose    bool
	IntervalType        enum.BarIntervalType
	SkipFirstNonFullBar bool
	CompositeBuildDelay time.Duration
}

// TimeAggregator closes bars on clock boundaries. An update stamped at a
// boundary that arrives before the boundary timer joins the closing bar for
// left-open intervals (open, close] and starts the next bar for right-open
// intervals [open, close). The runner fires timers due at or before a data
// item first, so under the runner such an update always opens the next bar.
type TimeAggregator struct {
	aggregatorBase
	clock    clock.Clock
	opts     TimeOptions
	interval time.Duration
	months   int
	timer    string

	openNs      model.UnixNanos
	nextCloseNs model.UnixNanos
	lastCloseNs model.UnixNanos
	skipFirst   bool
	running     bool
}

func NewTimeAggregator(bt model.BarType, inst *model.Instrument, clk clock.Clock, opts TimeOptions, handler func(model.Bar)) (*TimeAggregator, error) {
	if !bt.Spec.Aggregation.IsTime() {
		return nil, fmt.Errorf("%w: %s is not a time bar", exception.ErrInvalidArgument, bt)
	}
	if opts.IntervalType == 0 {
		opts.IntervalType = enum.BarIntervalLeftOpen
	}
	a := &TimeAggregator{
		aggregatorBase: newBase(bt, inst, handler),
		clock:          clk,
		opts:           opts,
		interval:       bt.Spec.Interval(),
		timer:          bt.String(),
		skipFirst:      opts.SkipFirstNonFullBar,
	}
	if bt.Spec.Aggregation == enum.BarMonth {
		a.months = bt.Spec.Step
	}
	return a, nil
}

func (a *TimeAggregator) IsRunning() bool { return a.running }

func (a *TimeAggregator) NextCloseNs() model.UnixNanos { return a.nextCloseNs }

// BarStart returns the boundary at or before now that the current bar opened on.
func BarStart(now time.Time, spec model.BarSpecification) time.Time {
	now = now.UTC()
	switch spec.Aggregation {
	case enum.BarDay:
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	case enum.BarWeek:
		day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	case enum.BarMonth:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
	return now.Truncate(spec.Interval())
}

func (a *TimeAggregator) advance(t model.UnixNanos) model.UnixNanos {
	if a.months > 0 {
		return model.UnixNanosFromTime(t.Time().AddDate(0, a.months, 0))
	}
	return t.Add(a.interval)
}

// Start aligns the first bar to the current boundary and arms the timer.
func (a *TimeAggregator) Start() error {
	now := a.clock.UtcNow()
	start := BarStart(now, a.barType.Spec)
	if start.Equal(now) {
		a.skipFirst = false
	}
	startNs := model.UnixNanosFromTime(start)
	if a.opts.CompositeBuildDelay > 0 {
		startNs = startNs.Add(a.opts.CompositeBuildDelay)
	}
	a.openNs = startNs
	a.nextCloseNs = a.advance(startNs)
	a.running = true

	var err error
	if a.months > 0 {
		err = a.clock.SetTimeAlert(a.timer, a.nextCloseNs, a.OnTimeEvent)
	} else {
		err = a.clock.SetTimer(a.timer, a.interval, startNs, 0, a.OnTimeEvent)
	}
	if err != nil {
		a.running = false
		return err
	}
	logs.Debugf("[TimeAggregator] started %s next close %s", a.timer, a.nextCloseNs)
	return nil
}

func (a *TimeAggregator) Stop() {
	a.clock.CancelTimer(a.timer)
	a.running = false
}

func (a *TimeAggregator) Update(px model.Price, sz model.Quantity, ts model.UnixNanos) {
	a.catchUp(ts)
	a.builder.Update(px, sz, ts)
}

func (a *TimeAggregator) UpdateBar(bar model.Bar, volume model.Quantity, ts model.UnixNanos) {
	a.catchUp(ts)
	a.builder.UpdateBar(bar, volume, ts)
}

// catchUp closes bars whose boundary an update has already passed, for
// right-open boundaries and for timers that fired late.
func (a *TimeAggregator) catchUp(ts model.UnixNanos) {
	if !a.running {
		return
	}
	for ts > a.nextCloseNs || (a.opts.IntervalType == enum.BarIntervalRightOpen && ts == a.nextCloseNs) {
		a.closeAt(a.nextCloseNs)
	}
}

// OnTimeEvent is the timer callback closing the bar ending at the event time.
func (a *TimeAggregator) OnTimeEvent(ev clock.TimeEvent) {
	if ev.TsEvent <= a.lastCloseNs {
		return
	}
	a.closeAt(ev.TsEvent)
	if a.months > 0 && a.running {
		if err := a.clock.SetTimeAlert(a.timer, a.nextCloseNs, a.OnTimeEvent); err != nil {
			logs.Errorf("[TimeAggregator] %s rearm: %+v", a.timer, err)
		}
	}
}

func (a *TimeAggregator) tsEvent(open, close model.UnixNanos) model.UnixNanos {
	if a.opts.IntervalType == enum.BarIntervalLeftOpen && a.opts.TimestampOnClose {
		return close
	}
	return open
}

func (a *TimeAggregator) closeAt(close model.UnixNanos) {
	open := a.openNs
	a.openNs = close
	a.nextCloseNs = a.advance(close)
	a.lastCloseNs = close

	if !a.builder.initialized {
		return
	}
	if a.builder.count == 0 && (!a.opts.BuildWithNoUpdates || !a.builder.hasLastClose) {
		return
	}
	if a.skipFirst {
		// built and dropped so the next empty bar still has a close to repeat
		a.skipFirst = false
		a.builder.Build(close, close)
		return
	}
	a.send(a.builder.Build(a.tsEvent(open, close), close))
}
