package data

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"go.uber.org/multierr"

	"hftcore/internal/book"
	"hftcore/internal/bus"
	"hftcore/internal/cache"
	"hftcore/internal/clock"
	"hftcore/internal/command"
	"hftcore/internal/model"
	"hftcore/internal/model/enum"
	"hftcore/pkg/exception"
)

const ownerUser = "user"

type Stats struct {
	Processed uint64
	Dropped   uint64
	Commands  uint64
	Requests  uint64
	Responses uint64
}

// feed is one stream subscribed at a client, shared by every owner that needs it.
type feed struct {
	spec   command.DataSpec
	client model.ClientID
	owners map[string]struct{}
}

type barAggregator struct {
	agg   Aggregator
	topic string
	subID uint64
}

type seqKey struct {
	instrument model.InstrumentID
	kind       string
}

// Engine must only be used from the runner goroutine.
type Engine struct {
	cfg   Config
	clock clock.Clock
	bus   *bus.MessageBus
	cache *cache.Cache

	clients       map[model.ClientID]Client
	routing       map[model.Venue]model.ClientID
	defaultClient model.ClientID
	external      map[model.ClientID]struct{}

	feeds       map[string]*feed
	aggregators map[model.BarType]*barAggregator
	snapshots   map[string]command.DataSpec
	lastTs      map[seqKey]model.UnixNanos
	deltaBuf    map[model.InstrumentID][]model.OrderBookDelta

	stats Stats
}

func NewEngine(cfg Config, clk clock.Clock, mb *bus.MessageBus, c *cache.Cache) *Engine {
	cfg = cfg.withDefaults()
	e := &Engine{
		cfg:         cfg,
		clock:       clk,
		bus:         mb,
		cache:       c,
		clients:     map[model.ClientID]Client{},
		routing:     map[model.Venue]model.ClientID{},
		external:    map[model.ClientID]struct{}{},
		feeds:       map[string]*feed{},
		aggregators: map[model.BarType]*barAggregator{},
		snapshots:   map[string]command.DataSpec{},
		lastTs:      map[seqKey]model.UnixNanos{},
		deltaBuf:    map[model.InstrumentID][]model.OrderBookDelta{},
	}
	for _, id := range cfg.ExternalClients {
		cid, err := model.NewClientID(id)
		if err != nil {
			logs.Warnf("[DataEngine] invalid external client %q: %+v", id, err)
			continue
		}
		e.external[cid] = struct{}{}
	}
	return e
}

func (e *Engine) Config() Config { return e.cfg }

func (e *Engine) Stats() Stats { return e.stats }

// RegisterEndpoints binds the engine's bus endpoints.
func (e *Engine) RegisterEndpoints() error {
	return multierr.Combine(
		e.bus.Register(bus.EndpointDataExecute, e.onExecute),
		e.bus.Register(bus.EndpointDataProcess, e.onProcess),
		e.bus.Register(bus.EndpointDataRequest, e.onRequest),
		e.bus.Register(bus.EndpointDataResponse, e.onResponse),
	)
}

func (e *Engine) onExecute(msg any) {
	var err error
	switch cmd := msg.(type) {
	case *command.Subscribe:
		err = e.Subscribe(cmd)
	case *command.Unsubscribe:
		err = e.Unsubscribe(cmd)
	default:
		err = fmt.Errorf("%w: data command %T", exception.ErrInvalidArgument, msg)
	}
	if err != nil {
		logs.Errorf("[DataEngine] execute: %+v", err)
	}
}

func (e *Engine) onProcess(msg any) {
	d, ok := msg.(model.Data)
	if !ok {
		logs.Errorf("[DataEngine] process: unexpected %T", msg)
		return
	}
	e.Process(d)
}

func (e *Engine) onRequest(msg any) {
	req, ok := msg.(bus.Request)
	if !ok {
		logs.Errorf("[DataEngine] request: unexpected %T", msg)
		return
	}
	r, ok := req.Payload.(*command.Request)
	if !ok {
		logs.Errorf("[DataEngine] request: unexpected payload %T", req.Payload)
		return
	}
	r.CommandID = req.CorrelationID
	if err := e.Request(r); err != nil {
		logs.Errorf("[DataEngine] request %s: %+v", r.Key(), err)
		e.bus.Response(req.CorrelationID, &command.Response{
			DataBase:      r.DataBase,
			DataSpec:      r.DataSpec,
			CorrelationID: req.CorrelationID,
		})
	}
}

func (e *Engine) onResponse(msg any) {
	resp, ok := msg.(*command.Response)
	if !ok {
		logs.Errorf("[DataEngine] response: unexpected %T", msg)
		return
	}
	e.Response(resp)
}

// RegisterClient adds a client. Clients with a venue are routed to for that
// venue; the first client without one becomes the default.
func (e *Engine) RegisterClient(c Client) error {
	id := c.ID()
	if _, ok := e.clients[id]; ok {
		return fmt.Errorf("%w: data client %s", exception.ErrDuplicateKey, id)
	}
	e.clients[id] = c
	if v := c.Venue(); !v.IsZero() {
		e.routing[v] = id
	} else if e.defaultClient.IsZero() {
		e.defaultClient = id
	}
	logs.Infof("[DataEngine] registered client %s", id)
	return nil
}

// RegisterDefaultClient routes every venue without its own client to c.
func (e *Engine) RegisterDefaultClient(c Client) error {
	if err := e.RegisterClient(c); err != nil {
		return err
	}
	e.defaultClient = c.ID()
	return nil
}

func (e *Engine) Client(id model.ClientID) (Client, bool) {
	c, ok := e.clients[id]
	return c, ok
}

func (e *Engine) ClientIDs() []model.ClientID {
	out := make([]model.ClientID, 0, len(e.clients))
	for id := range e.clients {
		out = append(out, id)
	}
	slices.SortFunc(out, func(a, b model.ClientID) int { return compare(a.String(), b.String()) })
	return out
}

func compare(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func (e *Engine) IsExternal(id model.ClientID) bool {
	_, ok := e.external[id]
	return ok
}

// Connect connects every client, returning all failures combined.
func (e *Engine) Connect(ctx context.Context) error {
	var err error
	for _, id := range e.ClientIDs() {
		if cerr := e.clients[id].Connect(ctx); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("%w: data client %s: %w", exception.ErrConnection, id, cerr))
		}
	}
	return err
}

func (e *Engine) Disconnect(ctx context.Context) error {
	var err error
	for _, id := range e.ClientIDs() {
		if cerr := e.clients[id].Disconnect(ctx); cerr != nil {
			err = multierr.Append(err, cerr)
		}
	}
	return err
}

func (e *Engine) resolveClient(base command.DataBase, spec command.DataSpec) (Client, error) {
	if !base.ClientID.IsZero() {
		c, ok := e.clients[base.ClientID]
		if !ok {
			return nil, fmt.Errorf("%w: data client %s", exception.ErrNoClient, base.ClientID)
		}
		return e.checkSupports(c, spec.Kind)
	}
	venue := base.Venue
	if venue.IsZero() {
		venue = spec.Instrument().Venue
	}
	id, ok := e.routing[venue]
	if !ok {
		id = e.defaultClient
	}
	c, ok := e.clients[id]
	if !ok {
		return nil, fmt.Errorf("%w: no data client for venue %s", exception.ErrNoClient, venue)
	}
	return e.checkSupports(c, spec.Kind)
}

func (e *Engine) checkSupports(c Client, kind enum.DataKind) (Client, error) {
	if !c.Supports(kind) {
		return nil, fmt.Errorf("%w: client %s does not provide %s", exception.ErrNoClient, c.ID(), kind)
	}
	return c, nil
}

// ensureFeed adds owner to the feed for spec, subscribing at the client for
// the first owner. External clients are never subscribed.
func (e *Engine) ensureFeed(base command.DataBase, spec command.DataSpec, owner string) error {
	key := spec.Key()
	if f, ok := e.feeds[key]; ok {
		f.owners[owner] = struct{}{}
		return nil
	}
	c, err := e.resolveClient(base, spec)
	if err != nil {
		return err
	}
	if !e.IsExternal(c.ID()) {
		if err := c.Subscribe(spec); err != nil {
			return fmt.Errorf("subscribe %s at %s: %w", key, c.ID(), err)
		}
	}
	e.feeds[key] = &feed{spec: spec, client: c.ID(), owners: map[string]struct{}{owner: {}}}
	logs.Infof("[DataEngine] subscribed %s via %s", key, c.ID())
	return nil
}

func (e *Engine) releaseFeed(spec command.DataSpec, owner string) error {
	key := spec.Key()
	f, ok := e.feeds[key]
	if !ok {
		return nil
	}
	delete(f.owners, owner)
	if len(f.owners) > 0 {
		return nil
	}
	delete(e.feeds, key)
	if e.IsExternal(f.client) {
		return nil
	}
	c, ok := e.clients[f.client]
	if !ok {
		return nil
	}
	if err := c.Unsubscribe(spec); err != nil {
		return fmt.Errorf("unsubscribe %s at %s: %w", key, f.client, err)
	}
	logs.Infof("[DataEngine] unsubscribed %s via %s", key, f.client)
	return nil
}

// IsSubscribed reports whether the stream is subscribed by a caller, as
// opposed to only feeding an aggregator or book.
func (e *Engine) IsSubscribed(spec command.DataSpec) bool {
	if f, ok := e.feeds[spec.Key()]; ok {
		_, user := f.owners[ownerUser]
		return user
	}
	if spec.Kind == enum.DataBar {
		_, ok := e.aggregators[spec.BarType.Standard()]
		return ok
	}
	if spec.Kind == enum.DataBookSnapshot {
		_, ok := e.snapshots[spec.Key()]
		return ok
	}
	return false
}

// Subscriptions returns the keys of every subscribed stream.
func (e *Engine) Subscriptions() []string {
	out := make([]string, 0, len(e.feeds)+len(e.snapshots)+len(e.aggregators))
	for k := range e.feeds {
		out = append(out, k)
	}
	for k := range e.snapshots {
		out = append(out, k)
	}
	for bt := range e.aggregators {
		out = append(out, enum.DataBar.String()+":"+bt.String())
	}
	slices.Sort(out)
	return out
}

// Subscribe is idempotent. It returns ErrNoClient when no client serves the stream.
func (e *Engine) Subscribe(cmd *command.Subscribe) error {
	e.stats.Commands++
	if err := cmd.Validate(); err != nil {
		return err
	}
	switch cmd.Kind {
	case enum.DataBar:
		if cmd.BarType.IsInternal() {
			return e.startAggregator(cmd.DataBase, cmd.BarType)
		}
	case enum.DataBookDeltas, enum.DataBookDepth:
		if err := e.ensureBook(cmd.InstrumentID, cmd.BookType); err != nil {
			return err
		}
	case enum.DataBookSnapshot:
		return e.startSnapshots(cmd.DataBase, cmd.DataSpec)
	}
	return e.ensureFeed(cmd.DataBase, cmd.DataSpec, ownerUser)
}

func (e *Engine) Unsubscribe(cmd *command.Unsubscribe) error {
	e.stats.Commands++
	if err := cmd.Validate(); err != nil {
		return err
	}
	switch cmd.Kind {
	case enum.DataBar:
		if cmd.BarType.IsInternal() {
			return e.stopAggregator(cmd.BarType)
		}
	case enum.DataBookSnapshot:
		return e.stopSnapshots(cmd.DataSpec)
	}
	return e.releaseFeed(cmd.DataSpec, ownerUser)
}

func (e *Engine) ensureBook(id model.InstrumentID, bt enum.BookType) error {
	if e.cache.HasOrderBook(id) {
		return nil
	}
	if _, ok := e.cache.Instrument(id); !ok {
		return fmt.Errorf("%w: book for %s", exception.ErrUnknownInstrument, id)
	}
	if !bt.IsAvailable() {
		bt = e.cfg.DefaultBookType
	}
	e.cache.AddOrderBook(book.New(id, bt))
	return nil
}

func snapshotTimer(spec command.DataSpec) string {
	return "BookSnapshots|" + spec.InstrumentID.String() + "|" + strconv.FormatInt(spec.IntervalMs, 10)
}

// startSnapshots keeps a book current from the richest feed the client
// offers and publishes it every IntervalMs.
func (e *Engine) startSnapshots(base command.DataBase, spec command.DataSpec) error {
	key := spec.Key()
	if _, ok := e.snapshots[key]; ok {
		return nil
	}
	src := command.DataSpec{Kind: enum.DataBookDeltas, InstrumentID: spec.InstrumentID, BookType: spec.BookType}
	bookType := spec.BookType
	switch {
	case e.supports(base, spec.InstrumentID, enum.DataBookDeltas):
	case e.supports(base, spec.InstrumentID, enum.DataBookDepth):
		src.Kind = enum.DataBookDepth
	case e.supports(base, spec.InstrumentID, enum.DataQuote):
		src = command.DataSpec{Kind: enum.DataQuote, InstrumentID: spec.InstrumentID}
		bookType = enum.BookL1MBP
	default:
		return fmt.Errorf("%w: no book feed for %s", exception.ErrNoClient, spec.InstrumentID)
	}
	if err := e.ensureBook(spec.InstrumentID, bookType); err != nil {
		return err
	}
	if err := e.ensureFeed(base, src, key); err != nil {
		return err
	}
	topic := bus.BookSnapshotsTopic(spec.InstrumentID, spec.IntervalMs)
	id := spec.InstrumentID
	interval := time.Duration(spec.IntervalMs) * time.Millisecond
	if err := e.clock.SetTimer(snapshotTimer(spec), interval, 0, 0, func(ev clock.TimeEvent) {
		b, ok := e.cache.OrderBook(id)
		if !ok || b.UpdateCount() == 0 {
			return
		}
		e.bus.Publish(topic, b.Snapshot(ev.TsEvent))
	}); err != nil {
		return errors.Wrap(err, "set book snapshot timer")
	}
	e.snapshots[key] = spec
	return nil
}

func (e *Engine) stopSnapshots(spec command.DataSpec) error {
	key := spec.Key()
	if _, ok := e.snapshots[key]; !ok {
		return nil
	}
	delete(e.snapshots, key)
	e.clock.CancelTimer(snapshotTimer(spec))
	var err error
	for _, kind := range []enum.DataKind{enum.DataBookDeltas, enum.DataBookDepth, enum.DataQuote} {
		err = multierr.Append(err, e.releaseFeed(command.DataSpec{Kind: kind, InstrumentID: spec.InstrumentID}, key))
	}
	return err
}

func (e *Engine) supports(base command.DataBase, id model.InstrumentID, kind enum.DataKind) bool {
	_, err := e.resolveClient(base, command.DataSpec{Kind: kind, InstrumentID: id})
	return err == nil
}

// Aggregator returns the running aggregator for an internal bar type.
func (e *Engine) Aggregator(bt model.BarType) (Aggregator, bool) {
	a, ok := e.aggregators[bt.Standard()]
	if !ok {
		return nil, false
	}
	return a.agg, true
}

func (e *Engine) newAggregator(bt model.BarType, inst *model.Instrument) (Aggregator, error) {
	handler := func(bar model.Bar) { e.handleBar(bar) }
	switch bt.Spec.Aggregation {
	case enum.BarTick:
		return NewTickAggregator(bt, inst, handler), nil
	case enum.BarVolume:
		return NewVolumeAggregator(bt, inst, handler), nil
	case enum.BarValue:
		return NewValueAggregator(bt, inst, handler), nil
	}
	opts := e.cfg.timeOptions()
	if bt.IsComposite() && bt.CompositeSource == enum.AggregationInternal {
		opts.CompositeBuildDelay = 15 * time.Microsecond
	}
	agg, err := NewTimeAggregator(bt, inst, e.clock, opts, handler)
	if err != nil {
		return nil, err
	}
	if err := agg.Start(); err != nil {
		return nil, errors.Wrap(err, "start time aggregator")
	}
	return agg, nil
}

// startAggregator builds bt internally from quotes, trades or, for
// composites, from the source bars.
func (e *Engine) startAggregator(base command.DataBase, bt model.BarType) error {
	out := bt.Standard()
	if _, ok := e.aggregators[out]; ok {
		return nil
	}
	inst, ok := e.cache.Instrument(bt.InstrumentID)
	if !ok {
		return fmt.Errorf("%w: aggregate %s", exception.ErrUnknownInstrument, bt)
	}
	agg, err := e.newAggregator(bt, inst)
	if err != nil {
		return err
	}

	var src command.DataSpec
	var topic string
	var handler bus.Handler
	switch {
	case bt.IsComposite():
		source := bt.SourceBarType()
		src = command.DataSpec{Kind: enum.DataBar, BarType: source}
		topic = bus.BarsTopic(source)
		handler = func(msg any) {
			if b, ok := msg.(model.Bar); ok {
				HandleBar(agg, b)
			}
		}
	case bt.Spec.PriceType == enum.PriceTypeLast:
		src = command.DataSpec{Kind: enum.DataTrade, InstrumentID: bt.InstrumentID}
		topic = bus.TradesTopic(bt.InstrumentID)
		handler = func(msg any) {
			if t, ok := msg.(model.TradeTick); ok {
				HandleTrade(agg, t)
			}
		}
	default:
		src = command.DataSpec{Kind: enum.DataQuote, InstrumentID: bt.InstrumentID}
		topic = bus.QuotesTopic(bt.InstrumentID)
		handler = func(msg any) {
			if q, ok := msg.(model.QuoteTick); ok {
				HandleQuote(agg, q)
			}
		}
	}

	owner := out.String()
	if bt.IsComposite() && bt.CompositeSource == enum.AggregationInternal {
		err = e.startAggregator(base, bt.SourceBarType())
	} else {
		err = e.ensureFeed(base, src, owner)
	}
	if err != nil {
		stopTime(agg)
		return err
	}
	id, err := e.bus.Subscribe(topic, handler, 0)
	if err != nil {
		stopTime(agg)
		return err
	}
	e.aggregators[out] = &barAggregator{agg: agg, topic: topic, subID: id}
	logs.Infof("[DataEngine] aggregating %s from %s", out, topic)
	return nil
}

func stopTime(agg Aggregator) {
	if t, ok := agg.(*TimeAggregator); ok {
		t.Stop()
	}
}

func (e *Engine) stopAggregator(bt model.BarType) error {
	out := bt.Standard()
	a, ok := e.aggregators[out]
	if !ok {
		return nil
	}
	delete(e.aggregators, out)
	e.bus.Unsubscribe(a.topic, a.subID)
	stopTime(a.agg)
	switch {
	case bt.IsComposite() && bt.CompositeSource == enum.AggregationInternal:
		return nil
	case bt.IsComposite():
		return e.releaseFeed(command.DataSpec{Kind: enum.DataBar, BarType: bt.SourceBarType()}, out.String())
	case bt.Spec.PriceType == enum.PriceTypeLast:
		return e.releaseFeed(command.DataSpec{Kind: enum.DataTrade, InstrumentID: bt.InstrumentID}, out.String())
	}
	return e.releaseFeed(command.DataSpec{Kind: enum.DataQuote, InstrumentID: bt.InstrumentID}, out.String())
}

// Request forwards a historical request to the client serving it.
func (e *Engine) Request(req *command.Request) error {
	e.stats.Requests++
	if err := req.Validate(); err != nil {
		return err
	}
	c, err := e.resolveClient(req.DataBase, req.DataSpec)
	if err != nil {
		return err
	}
	if req.CommandID == (model.UUID4{}) {
		req.CommandID = model.NewUUID4()
	}
	return c.Request(req)
}

// Response caches the returned data and routes it to the requester.
func (e *Engine) Response(resp *command.Response) {
	e.stats.Responses++
	for _, d := range resp.Data {
		switch v := d.(type) {
		case *model.Instrument:
			if err := e.cache.AddInstrument(v); err != nil {
				logs.Warnf("[DataEngine] response instrument %s: %+v", v.ID, err)
			}
		case model.QuoteTick:
			e.cache.AddQuote(v)
		case model.TradeTick:
			e.cache.AddTrade(v)
		case model.Bar:
			e.cache.AddBar(v)
		}
	}
	e.bus.Response(resp.CorrelationID, resp)
}

// kindOf names the stream an item is sequenced in. Bars sequence per bar type.
func kindOf(d model.Data) string {
	if b, ok := d.(model.Bar); ok {
		return "bar " + b.BarType.String()
	}
	return fmt.Sprintf("%T", d)
}

// accept applies the sequence check. Out of order items are dropped.
func (e *Engine) accept(d model.Data) bool {
	if !e.cfg.ValidateDataSequence {
		return true
	}
	key := seqKey{instrument: d.Instrument(), kind: kindOf(d)}
	ts := d.EventTs()
	if last, ok := e.lastTs[key]; ok && ts < last {
		e.stats.Dropped++
		logs.Warnf("[DataEngine] dropped %s for %s: ts_event %d before last %d", key.kind, key.instrument, ts, last)
		return false
	}
	e.lastTs[key] = ts
	return true
}

// Process validates, caches, applies and publishes one inbound data item.
func (e *Engine) Process(d model.Data) {
	if !e.accept(d) {
		return
	}
	e.stats.Processed++
	switch v := d.(type) {
	case *model.Instrument:
		if err := e.cache.AddInstrument(v); err != nil {
			logs.Errorf("[DataEngine] instrument %s: %+v", v.ID, err)
			return
		}
		e.bus.Publish(bus.InstrumentTopic(v.ID), v)
	case model.QuoteTick:
		e.cache.AddQuote(v)
		e.updateBook(v.InstrumentID, func(b *book.OrderBook) error { return b.UpdateQuote(v) }, enum.BookL1MBP)
		e.bus.Publish(bus.QuotesTopic(v.InstrumentID), v)
	case model.TradeTick:
		e.cache.AddTrade(v)
		e.updateBook(v.InstrumentID, func(b *book.OrderBook) error { return b.UpdateTrade(v) }, enum.BookL1MBP)
		e.bus.Publish(bus.TradesTopic(v.InstrumentID), v)
	case model.Bar:
		e.handleBar(v)
	case model.OrderBookDelta:
		e.handleDelta(v)
	case model.OrderBookDeltas:
		e.handleDeltas(v)
	case model.OrderBookDepth10:
		e.updateBook(v.InstrumentID, func(b *book.OrderBook) error { return b.ApplyDepth(v) }, 0)
		e.bus.Publish(bus.DepthTopic(v.InstrumentID), v)
	case model.MarkPriceUpdate:
		e.cache.AddMarkPrice(v)
		e.bus.Publish(bus.MarkPricesTopic(v.InstrumentID), v)
	case model.IndexPriceUpdate:
		e.cache.AddIndexPrice(v)
		e.bus.Publish(bus.IndexPricesTopic(v.InstrumentID), v)
	case model.FundingRateUpdate:
		e.cache.AddFundingRate(v)
		e.bus.Publish(bus.FundingRatesTopic(v.InstrumentID), v)
	case model.InstrumentStatus:
		e.cache.AddInstrumentStatus(v)
		e.bus.Publish(bus.InstrumentStatusTopic(v.InstrumentID), v)
	default:
		logs.Warnf("[DataEngine] unhandled data %T", d)
	}
}

func (e *Engine) handleBar(b model.Bar) {
	e.cache.AddBar(b)
	e.bus.Publish(bus.BarsTopic(b.BarType), b)
}

// updateBook applies fn to the cached book. A non-zero only restricts the
// update to books of that type.
func (e *Engine) updateBook(id model.InstrumentID, fn func(*book.OrderBook) error, only enum.BookType) {
	b, ok := e.cache.OrderBook(id)
	if !ok || (only != 0 && b.BookType != only) {
		return
	}
	if err := fn(b); err != nil {
		logs.Errorf("[DataEngine] book %s: %+v", id, err)
	}
}

func (e *Engine) handleDelta(d model.OrderBookDelta) {
	if !e.cfg.BufferDeltas {
		e.updateBook(d.InstrumentID, func(b *book.OrderBook) error { return b.ApplyDelta(d) }, 0)
		e.bus.Publish(bus.DeltasTopic(d.InstrumentID), d)
		return
	}
	buf := append(e.deltaBuf[d.InstrumentID], d)
	if !d.IsLast() {
		e.deltaBuf[d.InstrumentID] = buf
		return
	}
	delete(e.deltaBuf, d.InstrumentID)
	e.handleDeltas(model.NewOrderBookDeltas(d.InstrumentID, buf))
}

func (e *Engine) handleDeltas(ds model.OrderBookDeltas) {
	e.updateBook(ds.InstrumentID, func(b *book.OrderBook) error { return b.ApplyDeltas(ds) }, 0)
	e.bus.Publish(bus.DeltasTopic(ds.InstrumentID), ds)
}

// BufferedDeltas returns how many deltas wait for their F_LAST.
func (e *Engine) BufferedDeltas(id model.InstrumentID) int { return len(e.deltaBuf[id]) }

// Dispose stops aggregators and snapshot timers.
func (e *Engine) Dispose() {
	for bt, a := range e.aggregators {
		e.bus.Unsubscribe(a.topic, a.subID)
		stopTime(a.agg)
		delete(e.aggregators, bt)
	}
	for key, spec := range e.snapshots {
		e.clock.CancelTimer(snapshotTimer(spec))
		delete(e.snapshots, key)
	}
	clear(e.feeds)
}
