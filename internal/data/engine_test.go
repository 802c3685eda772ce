package data

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"hftcore/internal/bus"
	"hftcore/internal/cache"
	"hftcore/internal/clock"
	"hftcore/internal/command"
	"hftcore/internal/model"
	"hftcore/internal/model/enum"
	"hftcore/internal/testkit"
	"hftcore/pkg/exception"
)

type fakeClient struct {
	id       model.ClientID
	venue    model.Venue
	kinds    map[enum.DataKind]bool
	subs     []string
	unsubs   []string
	requests []*command.Request
	connErr  error
}

func newFakeClient(id string, venue model.Venue, kinds ...enum.DataKind) *fakeClient {
	c := &fakeClient{id: model.MustClientID(id), venue: venue, kinds: map[enum.DataKind]bool{}}
	for _, k := range kinds {
		c.kinds[k] = true
	}
	return c
}

func (c *fakeClient) ID() model.ClientID               { return c.id }
func (c *fakeClient) Venue() model.Venue               { return c.venue }
func (c *fakeClient) Connect(context.Context) error    { return c.connErr }
func (c *fakeClient) Disconnect(context.Context) error { return nil }
func (c *fakeClient) IsConnected() bool                { return c.connErr == nil }
func (c *fakeClient) Supports(kind enum.DataKind) bool { return c.kinds[kind] }
func (c *fakeClient) Request(req *command.Request) error {
	c.requests = append(c.requests, req)
	return nil
}
func (c *fakeClient) Subscribe(spec command.DataSpec) error {
	c.subs = append(c.subs, spec.Key())
	return nil
}
func (c *fakeClient) Unsubscribe(spec command.DataSpec) error {
	c.unsubs = append(c.unsubs, spec.Key())
	return nil
}

type engineSuite struct {
	suite.Suite

	clk    *clock.TestClock
	bus    *bus.MessageBus
	cache  *cache.Cache
	engine *Engine
	client *fakeClient
	inst   *model.Instrument
}

func TestEngine(t *testing.T) {
	suite.Run(t, new(engineSuite))
}

func (s *engineSuite) SetupTest() {
	s.clk = clock.NewTestClock(0)
	s.bus = bus.NewMessageBus(testkit.Trader, "test")
	s.cache = cache.New(cache.DefaultConfig(), nil)
	s.inst = testkit.BTCUSDT()
	s.Require().NoError(s.cache.AddInstrument(s.inst))

	cfg := DefaultConfig()
	cfg.ValidateDataSequence = true
	s.engine = NewEngine(cfg, s.clk, s.bus, s.cache)
	s.Require().NoError(s.engine.RegisterEndpoints())

	s.client = newFakeClient("SIM", testkit.SimVenue,
		enum.DataQuote, enum.DataTrade, enum.DataBar, enum.DataBookDeltas, enum.DataInstrument)
	s.Require().NoError(s.engine.RegisterClient(s.client))
}

func (s *engineSuite) subscribe(spec command.DataSpec) error {
	return s.engine.Subscribe(&command.Subscribe{DataSpec: spec})
}

func (s *engineSuite) collect(topic string) *[]any {
	got := &[]any{}
	_, err := s.bus.Subscribe(topic, func(msg any) { *got = append(*got, msg) }, 0)
	s.Require().NoError(err)
	return got
}

func (s *engineSuite) TestQuoteRoundTrip() {
	spec := command.DataSpec{Kind: enum.DataQuote, InstrumentID: s.inst.ID}
	s.Require().NoError(s.subscribe(spec))
	got := s.collect(bus.QuotesTopic(s.inst.ID))

	q := testkit.Quote(s.inst.ID, "100.00", "100.50", "1", 10)
	s.Require().NoError(s.bus.Send(bus.EndpointDataProcess, q))

	s.Require().Len(*got, 1)
	s.Equal(q, (*got)[0])
	latest, ok := s.cache.Quote(s.inst.ID, 0)
	s.Require().True(ok)
	s.Equal(q, latest)
	s.Equal(uint64(1), s.engine.Stats().Processed)
}

func (s *engineSuite) TestSubscribeIsIdempotent() {
	spec := command.DataSpec{Kind: enum.DataTrade, InstrumentID: s.inst.ID}
	s.Require().NoError(s.subscribe(spec))
	s.Require().NoError(s.subscribe(spec))
	s.Equal([]string{spec.Key()}, s.client.subs)
	s.True(s.engine.IsSubscribed(spec))

	s.Require().NoError(s.engine.Unsubscribe(&command.Unsubscribe{DataSpec: spec}))
	s.Equal([]string{spec.Key()}, s.client.unsubs)
	s.False(s.engine.IsSubscribed(spec))
	s.Empty(s.engine.Subscriptions())
}

func (s *engineSuite) TestSubscribeWithoutClient() {
	err := s.subscribe(command.DataSpec{Kind: enum.DataMarkPrice, InstrumentID: s.inst.ID})
	s.ErrorIs(err, exception.ErrNoClient)

	other := model.InstrumentID{Symbol: model.MustSymbol("ETHUSDT"), Venue: model.MustVenue("OTHER")}
	err = s.subscribe(command.DataSpec{Kind: enum.DataQuote, InstrumentID: other})
	s.ErrorIs(err, exception.ErrNoClient)

	err = s.engine.Subscribe(&command.Subscribe{
		DataBase: command.DataBase{ClientID: model.MustClientID("MISSING")},
		DataSpec: command.DataSpec{Kind: enum.DataQuote, InstrumentID: s.inst.ID},
	})
	s.ErrorIs(err, exception.ErrNoClient)
}

func (s *engineSuite) TestDefaultClientServesUnroutedVenues() {
	fallback := newFakeClient("FALLBACK", model.Venue{}, enum.DataQuote)
	s.Require().NoError(s.engine.RegisterDefaultClient(fallback))

	other := model.InstrumentID{Symbol: model.MustSymbol("ETHUSDT"), Venue: model.MustVenue("OTHER")}
	s.Require().NoError(s.subscribe(command.DataSpec{Kind: enum.DataQuote, InstrumentID: other}))
	s.Len(fallback.subs, 1)
	s.Empty(s.client.subs)
	s.Equal([]model.ClientID{fallback.ID(), s.client.ID()}, s.engine.ClientIDs())
}

func (s *engineSuite) TestExternalClientIsNotSubscribed() {
	cfg := DefaultConfig()
	cfg.ExternalClients = []string{"SIM"}
	engine := NewEngine(cfg, s.clk, bus.NewMessageBus(testkit.Trader, "external"), s.cache)
	client := newFakeClient("SIM", testkit.SimVenue, enum.DataQuote)
	s.Require().NoError(engine.RegisterClient(client))

	spec := command.DataSpec{Kind: enum.DataQuote, InstrumentID: s.inst.ID}
	s.Require().NoError(engine.Subscribe(&command.Subscribe{DataSpec: spec}))
	s.True(engine.IsExternal(client.ID()))
	s.True(engine.IsSubscribed(spec))
	s.Empty(client.subs)
}

func (s *engineSuite) TestOutOfOrderDataIsDropped() {
	got := s.collect(bus.TradesTopic(s.inst.ID))
	s.engine.Process(trade("100.00", "1", 20))
	s.engine.Process(trade("101.00", "1", 10))
	s.engine.Process(trade("102.00", "1", 20))

	s.Len(*got, 2)
	s.Equal(uint64(1), s.engine.Stats().Dropped)
	s.Equal(uint64(2), s.engine.Stats().Processed)

	// quotes are sequenced apart from trades
	s.engine.Process(testkit.Quote(s.inst.ID, "100.00", "100.50", "1", 5))
	s.Equal(uint64(1), s.engine.Stats().Dropped)
}

func (s *engineSuite) TestBarsAreSequencedPerBarType() {
	minute := model.MustBarType("BTCUSDT.SIM-1-MINUTE-LAST-EXTERNAL")
	hour := model.MustBarType("BTCUSDT.SIM-1-HOUR-LAST-EXTERNAL")
	bar := func(bt model.BarType, ts model.UnixNanos) model.Bar {
		p := model.MustPrice("100.00")
		return model.Bar{BarType: bt, Open: p, High: p, Low: p, Close: p, Volume: model.MustQuantity("1"), TsEvent: ts, TsInit: ts}
	}

	s.engine.Process(bar(hour, at(time.Hour)))
	s.engine.Process(bar(minute, at(time.Minute)))
	s.engine.Process(bar(minute, at(2*time.Minute)))
	s.Equal(uint64(0), s.engine.Stats().Dropped)

	s.engine.Process(bar(hour, at(30*time.Minute)))
	s.Equal(uint64(1), s.engine.Stats().Dropped)
	s.Equal(uint64(3), s.engine.Stats().Processed)
}

func (s *engineSuite) delta(px string, flags uint8, seq uint64) model.OrderBookDelta {
	return model.OrderBookDelta{
		InstrumentID: s.inst.ID,
		Action:       enum.BookActionAdd,
		Order:        model.BookOrder{Side: enum.OrderSideBuy, Price: model.MustPrice(px), Size: model.MustQuantity("1")},
		Flags:        flags,
		Sequence:     seq,
		TsEvent:      model.UnixNanos(seq),
		TsInit:       model.UnixNanos(seq),
	}
}

func (s *engineSuite) TestBufferedDeltasPublishOnLast() {
	cfg := DefaultConfig()
	cfg.BufferDeltas = true
	mb := bus.NewMessageBus(testkit.Trader, "buffered")
	engine := NewEngine(cfg, s.clk, mb, s.cache)
	var got []any
	_, err := mb.Subscribe(bus.DeltasTopic(s.inst.ID), func(msg any) { got = append(got, msg) }, 0)
	s.Require().NoError(err)

	engine.Process(s.delta("100.00", 0, 1))
	engine.Process(s.delta("99.00", 0, 2))
	s.Empty(got)
	s.Equal(2, engine.BufferedDeltas(s.inst.ID))

	engine.Process(s.delta("98.00", model.FlagLast, 3))
	s.Require().Len(got, 1)
	batch, ok := got[0].(model.OrderBookDeltas)
	s.Require().True(ok)
	s.Len(batch.Deltas, 3)
	s.Equal(uint64(3), batch.Sequence)
	s.Zero(engine.BufferedDeltas(s.inst.ID))
}

func (s *engineSuite) TestDeltasMaintainBook() {
	spec := command.DataSpec{Kind: enum.DataBookDeltas, InstrumentID: s.inst.ID, BookType: enum.BookL2MBP}
	s.Require().NoError(s.subscribe(spec))
	s.engine.Process(s.delta("100.00", model.FlagLast, 1))

	b, ok := s.cache.OrderBook(s.inst.ID)
	s.Require().True(ok)
	s.Equal(uint64(1), b.UpdateCount())
	s.Len(b.BidLevels(0), 1)
}

func (s *engineSuite) TestInternalTickBars() {
	bt := model.MustBarType("BTCUSDT.SIM-2-TICK-LAST-INTERNAL")
	s.Require().NoError(s.subscribe(command.DataSpec{Kind: enum.DataBar, BarType: bt}))
	got := s.collect(bus.BarsTopic(bt))

	tradeSpec := command.DataSpec{Kind: enum.DataTrade, InstrumentID: s.inst.ID}
	s.Equal([]string{tradeSpec.Key()}, s.client.subs)
	s.False(s.engine.IsSubscribed(tradeSpec))
	s.True(s.engine.IsSubscribed(command.DataSpec{Kind: enum.DataBar, BarType: bt}))

	for i, px := range []string{"10.00", "11.00", "12.00"} {
		s.engine.Process(trade(px, "1", model.UnixNanos(i+1)))
	}
	s.Require().Len(*got, 1)
	bar := (*got)[0].(model.Bar)
	s.Equal("11.00", bar.Close.String())
	s.Len(s.cache.Bars(bt), 1)

	// a user subscription to the source survives the aggregator
	s.Require().NoError(s.subscribe(tradeSpec))
	s.Require().NoError(s.engine.Unsubscribe(&command.Unsubscribe{DataSpec: command.DataSpec{Kind: enum.DataBar, BarType: bt}}))
	s.Empty(s.client.unsubs)
	_, ok := s.engine.Aggregator(bt)
	s.False(ok)
}

func (s *engineSuite) TestInternalTimeBarsFromQuotes() {
	bt := model.MustBarType("BTCUSDT.SIM-1-SECOND-MID-INTERNAL")
	s.Require().NoError(s.subscribe(command.DataSpec{Kind: enum.DataBar, BarType: bt}))
	got := s.collect(bus.BarsTopic(bt))

	s.engine.Process(testkit.Quote(s.inst.ID, "100.00", "102.00", "1", at(200*time.Millisecond)))
	advance(s.T(), s.clk, at(time.Second))

	s.Require().Len(*got, 1)
	s.Equal("101.000", (*got)[0].(model.Bar).Close.String())
}

func (s *engineSuite) TestCompositeBarsFromInternalSource() {
	src := model.MustBarType("BTCUSDT.SIM-1-SECOND-LAST-INTERNAL")
	bt := model.MustBarType("BTCUSDT.SIM-2-TICK-LAST-INTERNAL@1-SECOND-INTERNAL")
	s.Require().NoError(s.subscribe(command.DataSpec{Kind: enum.DataBar, BarType: bt}))
	_, ok := s.engine.Aggregator(src)
	s.True(ok)

	got := s.collect(bus.BarsTopic(bt.Standard()))
	for sec := 0; sec < 2; sec++ {
		ts := at(time.Duration(sec)*time.Second + 500*time.Millisecond)
		s.engine.Process(trade("10.00", "1", ts))
		advance(s.T(), s.clk, at(time.Duration(sec+1)*time.Second+time.Millisecond))
	}
	s.Require().Len(*got, 1)
	s.Equal("2.000000", (*got)[0].(model.Bar).Volume.String())
}

func (s *engineSuite) TestBookSnapshots() {
	spec := command.DataSpec{Kind: enum.DataBookSnapshot, InstrumentID: s.inst.ID, BookType: enum.BookL2MBP, IntervalMs: 1000}
	s.Require().NoError(s.subscribe(spec))
	s.True(s.engine.IsSubscribed(spec))
	got := s.collect(bus.BookSnapshotsTopic(s.inst.ID, 1000))

	// nothing is published for an untouched book
	advance(s.T(), s.clk, at(time.Second))
	s.Empty(*got)

	s.engine.Process(s.delta("100.00", model.FlagLast, 1))
	advance(s.T(), s.clk, at(2*time.Second))
	s.Require().Len(*got, 1)
	snap := (*got)[0].(model.OrderBookDeltas)
	s.Equal(s.inst.ID, snap.InstrumentID)

	s.Require().NoError(s.engine.Unsubscribe(&command.Unsubscribe{DataSpec: spec}))
	advance(s.T(), s.clk, at(3*time.Second))
	s.Len(*got, 1)
	s.Contains(s.client.unsubs, command.DataSpec{Kind: enum.DataBookDeltas, InstrumentID: s.inst.ID}.Key())
}

func (s *engineSuite) TestRequestResponse() {
	var resp *command.Response
	req := &command.Request{DataSpec: command.DataSpec{Kind: enum.DataTrade, InstrumentID: s.inst.ID}, Limit: 10}
	corr, err := s.bus.Request(bus.EndpointDataRequest, req, func(msg any) { resp = msg.(*command.Response) })
	s.Require().NoError(err)

	s.Require().Len(s.client.requests, 1)
	s.Equal(corr, s.client.requests[0].CommandID)

	tr := trade("100.00", "1", 5)
	s.Require().NoError(s.bus.Send(bus.EndpointDataResponse, &command.Response{
		DataSpec:      req.DataSpec,
		CorrelationID: corr,
		Data:          []model.Data{tr},
	}))
	s.Require().NotNil(resp)
	s.Len(resp.Data, 1)
	latest, ok := s.cache.Trade(s.inst.ID, 0)
	s.Require().True(ok)
	s.Equal(tr, latest)
}

func (s *engineSuite) TestFailedRequestIsAnsweredEmpty() {
	var resp *command.Response
	req := &command.Request{DataSpec: command.DataSpec{Kind: enum.DataFundingRate, InstrumentID: s.inst.ID}}
	_, err := s.bus.Request(bus.EndpointDataRequest, req, func(msg any) { resp = msg.(*command.Response) })
	s.Require().NoError(err)
	s.Require().NotNil(resp)
	s.Empty(resp.Data)
}

func TestConnectCombinesFailures(t *testing.T) {
	e := NewEngine(DefaultConfig(), clock.NewTestClock(0), bus.NewMessageBus(testkit.Trader, "t"), cache.New(cache.DefaultConfig(), nil))
	a := newFakeClient("A", model.MustVenue("A"))
	a.connErr = errors.New("refused")
	b := newFakeClient("B", model.MustVenue("B"))
	b.connErr = errors.New("timeout")
	require.NoError(t, e.RegisterClient(a))
	require.NoError(t, e.RegisterClient(b))
	require.ErrorIs(t, e.RegisterClient(a), exception.ErrDuplicateKey)

	err := e.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, exception.ErrConnection)
	assert.Contains(t, err.Error(), "refused")
	assert.Contains(t, err.Error(), "timeout")
}
