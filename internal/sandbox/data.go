package sandbox

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/yanun0323/logs"

	"hftcore/internal/command"
	"hftcore/internal/data"
	"hftcore/internal/model"
	"hftcore/internal/model/enum"
	"hftcore/pkg/exception"
)

var _ data.Client = (*DataClient)(nil)

// Sink receives what the data client produces: model.Data items and
// *command.Response answers. The runner hands them to the data engine.
type Sink func(msg any)

// DataClient replays loaded market data for one venue. Items go out in
// ts_event order, and only for streams someone subscribed to.
type DataClient struct {
	id    model.ClientID
	venue model.Venue
	sink  Sink

	connected bool
	subs      map[string]command.DataSpec
	history   []model.Data
	cursor    int
}

func NewDataClient(id model.ClientID, venue model.Venue, sink Sink) *DataClient {
	return &DataClient{
		id:    id,
		venue: venue,
		sink:  sink,
		subs:  map[string]command.DataSpec{},
	}
}

func (c *DataClient) ID() model.ClientID { return c.id }
func (c *DataClient) Venue() model.Venue { return c.venue }
func (c *DataClient) IsConnected() bool  { return c.connected }
func (c *DataClient) Remaining() int     { return len(c.history) - c.cursor }
func (c *DataClient) SetSink(sink Sink)  { c.sink = sink }
func (c *DataClient) Subscriptions() int { return len(c.subs) }

func (c *DataClient) Connect(ctx context.Context) error {
	c.connected = true
	return nil
}

func (c *DataClient) Disconnect(ctx context.Context) error {
	c.connected = false
	return nil
}

func (c *DataClient) Supports(kind enum.DataKind) bool {
	switch kind {
	case enum.DataInstrument, enum.DataQuote, enum.DataTrade, enum.DataBar,
		enum.DataMarkPrice, enum.DataIndexPrice, enum.DataFundingRate:
		return true
	}
	return false
}

// Load adds items to replay. Items are kept sorted by ts_event, ties in load order.
func (c *DataClient) Load(items ...model.Data) {
	rest := append(c.history[c.cursor:len(c.history):len(c.history)], items...)
	slices.SortStableFunc(rest, func(a, b model.Data) int { return cmp.Compare(a.EventTs(), b.EventTs()) })
	c.history = append(c.history[:c.cursor], rest...)
}

func (c *DataClient) Subscribe(spec command.DataSpec) error {
	if !c.Supports(spec.Kind) {
		return fmt.Errorf("%w: sandbox %s does not serve %s", exception.ErrInvalidArgument, c.venue, spec.Kind)
	}
	c.subs[spec.Key()] = spec
	logs.Debugf("[SandboxData] subscribed %s", spec.Key())
	return nil
}

func (c *DataClient) Unsubscribe(spec command.DataSpec) error {
	delete(c.subs, spec.Key())
	return nil
}

func specFor(d model.Data) (command.DataSpec, bool) {
	switch v := d.(type) {
	case *model.Instrument:
		return command.DataSpec{Kind: enum.DataInstrument, InstrumentID: v.ID}, true
	case model.QuoteTick:
		return command.DataSpec{Kind: enum.DataQuote, InstrumentID: v.InstrumentID}, true
	case model.TradeTick:
		return command.DataSpec{Kind: enum.DataTrade, InstrumentID: v.InstrumentID}, true
	case model.Bar:
		return command.DataSpec{Kind: enum.DataBar, BarType: v.BarType}, true
	case model.MarkPriceUpdate:
		return command.DataSpec{Kind: enum.DataMarkPrice, InstrumentID: v.InstrumentID}, true
	case model.IndexPriceUpdate:
		return command.DataSpec{Kind: enum.DataIndexPrice, InstrumentID: v.InstrumentID}, true
	case model.FundingRateUpdate:
		return command.DataSpec{Kind: enum.DataFundingRate, InstrumentID: v.InstrumentID}, true
	}
	return command.DataSpec{}, false
}

// wanted reports whether d belongs to a subscribed stream. Instruments are
// always wanted, as an instrument subscription without id covers the venue.
func (c *DataClient) wanted(d model.Data) bool {
	spec, ok := specFor(d)
	if !ok {
		return false
	}
	if spec.Kind == enum.DataInstrument {
		return true
	}
	_, ok = c.subs[spec.Key()]
	return ok
}

// Next emits the next wanted item and reports whether one was emitted.
// Items nobody subscribed to are skipped.
func (c *DataClient) Next() bool {
	for c.cursor < len(c.history) {
		d := c.history[c.cursor]
		c.cursor++
		if c.wanted(d) {
			c.emit(d)
			return true
		}
	}
	return false
}

// Until emits every wanted item with ts_event at or before ts.
func (c *DataClient) Until(ts model.UnixNanos) int {
	n := 0
	for c.cursor < len(c.history) && c.history[c.cursor].EventTs() <= ts {
		d := c.history[c.cursor]
		c.cursor++
		if c.wanted(d) {
			c.emit(d)
			n++
		}
	}
	return n
}

// Peek returns the ts_event of the next item, wanted or not.
func (c *DataClient) Peek() (model.UnixNanos, bool) {
	if c.cursor >= len(c.history) {
		return 0, false
	}
	return c.history[c.cursor].EventTs(), true
}

func (c *DataClient) emit(msg any) {
	if c.sink == nil {
		logs.Warnf("[SandboxData] %s has no sink, dropped %T", c.venue, msg)
		return
	}
	c.sink(msg)
}

// Request answers from the loaded history, already replayed or not.
func (c *DataClient) Request(req *command.Request) error {
	if !c.Supports(req.Kind) {
		return fmt.Errorf("%w: sandbox %s does not serve %s", exception.ErrInvalidArgument, c.venue, req.Kind)
	}
	want := req.Key()
	var out []model.Data
	for _, d := range c.history {
		spec, ok := specFor(d)
		if !ok || spec.Key() != want {
			continue
		}
		ts := d.EventTs()
		if req.Start != 0 && ts < req.Start {
			continue
		}
		if req.End != 0 && ts > req.End {
			continue
		}
		out = append(out, d)
	}
	if req.Limit > 0 && len(out) > req.Limit {
		out = out[len(out)-req.Limit:]
	}
	c.emit(&command.Response{
		DataBase:      req.DataBase,
		DataSpec:      req.DataSpec,
		CorrelationID: req.CommandID,
		Data:          out,
	})
	return nil
}
