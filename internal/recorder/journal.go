package recorder

import (
	"sync"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"hftcore/internal/bus"
	"hftcore/internal/clock"
	"hftcore/internal/codec"
	"hftcore/internal/model"
	"hftcore/internal/obs"
	"hftcore/internal/og"
	"hftcore/internal/schema"
	"hftcore/internal/state"
)

var journalTopics = []string{
	bus.TopicAllOrderEvents,
	bus.TopicAllPositionEvents,
	bus.TopicAllAccountEvents,
}

// Journal subscribes to the event topics and appends every order, position
// and account event to a Writer. Market data is appended through RecordData
// when SaveMarketData is set.
type Journal struct {
	w       *Writer
	codec   *codec.Codec
	bus     *bus.MessageBus
	clock   clock.Clock
	metrics *obs.Metrics
	tracer  *obs.Tracer

	mu   sync.Mutex
	seq  uint64
	buf  []byte
	subs map[string]uint64
}

func NewJournal(w *Writer, mb *bus.MessageBus, clk clock.Clock, metrics *obs.Metrics) *Journal {
	return &Journal{
		w:       w,
		codec:   codec.New(codec.Options{}),
		bus:     mb,
		clock:   clk,
		metrics: metrics,
		tracer:  obs.NewTracer(obs.NewTraceGenerator(0), 0),
	}
}

// Writer exposes the underlying segment writer.
func (j *Journal) Writer() *Writer { return j.w }

// SaveMarketData reports whether market data is journaled.
func (j *Journal) SaveMarketData() bool { return j.w.Config().SaveMarketData }

// Seq is the sequence number of the last record handed to the writer.
func (j *Journal) Seq() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.seq
}

// Start subscribes the journal to the event topics. The priority puts the
// journal after every other subscriber of the same message.
func (j *Journal) Start() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.subs != nil {
		return nil
	}
	j.subs = make(map[string]uint64, len(journalTopics))
	for _, topic := range journalTopics {
		id, err := j.bus.Subscribe(topic, j.onEvent, -100)
		if err != nil {
			return errors.Wrapf(err, "journal subscribe %s", topic)
		}
		j.subs[topic] = id
	}
	logs.Infof("[Journal] recording to %s, market data: %v", j.w.Config().Dir, j.SaveMarketData())
	return nil
}

// Stop removes the bus subscriptions. Queued records are still written by
// the writer until it is closed.
func (j *Journal) Stop() {
	j.mu.Lock()
	defer j.mu.Unlock()
	for topic, id := range j.subs {
		j.bus.Unsubscribe(topic, id)
	}
	j.subs = nil
}

func (j *Journal) onEvent(msg any) {
	if err := j.Record(msg); err != nil {
		logs.Warnf("[Journal] drop %T, err: %+v", msg, err)
	}
}

// RecordData journals inbound market data when SaveMarketData is set. Data
// without a wire type is skipped.
func (j *Journal) RecordData(d model.Data) {
	if !j.SaveMarketData() {
		return
	}
	t, err := codec.TypeOf(d)
	if err != nil || !t.IsMarketData() {
		return
	}
	if err := j.Record(d); err != nil {
		logs.Warnf("[Journal] drop %T, err: %+v", d, err)
	}
}

// Record encodes v and appends it to the writer.
func (j *Journal) Record(v any) error {
	t, err := codec.TypeOf(v)
	if err != nil {
		return err
	}
	header := schema.EventHeader{Type: t, Version: schema.SchemaVersion, TsRecv: int64(j.clock.TimestampNs())}
	j.stamp(&header, v)

	j.mu.Lock()
	defer j.mu.Unlock()
	j.buf, err = j.codec.Encode(j.buf[:0], v)
	if err != nil {
		j.metrics.IncJournalDrop()
		return errors.Wrapf(err, "encode %s", t)
	}
	header.Seq = j.seq + 1
	if err := j.w.TryAppend(header, j.buf); err != nil {
		j.metrics.IncJournalDrop()
		return err
	}
	j.seq++
	j.metrics.IncJournalAppend()
	return nil
}

func (j *Journal) stamp(h *schema.EventHeader, v any) {
	switch x := v.(type) {
	case og.OrderEvent:
		base := x.Header()
		h.Source = schema.SourceExecEngine
		if t := x.EventType(); t == schema.EventOrderEmulated || t == schema.EventOrderReleased {
			h.Source = schema.SourceEmulator
		}
		if base.Reconciliation {
			h.Source = schema.SourceReconciliation
			h.Flags |= schema.FlagReconciliation
		}
		h.TsEvent = int64(base.TsEvent)
		h.TraceID = j.tracer.For(base.ClientOrderID.String())
	case state.PositionEvent:
		s := x.Snapshot()
		h.Source = schema.SourceExecEngine
		if s.Reconciliation {
			h.Source = schema.SourceReconciliation
			h.Flags |= schema.FlagReconciliation
		}
		h.TsEvent = int64(s.TsEvent)
		h.TraceID = j.tracer.Link(s.PositionID.String(), s.OpeningOrderID.String())
	case *state.AccountState:
		h.Source = schema.SourceExecEngine
		h.TsEvent = int64(x.TsEvent)
		h.TraceID = j.tracer.For(x.AccountID.String())
	case model.Data:
		h.Source = schema.SourceDataEngine
		h.TsEvent = int64(x.EventTs())
	default:
		h.Source = schema.SourceRunner
	}
}
