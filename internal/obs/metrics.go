// Package obs holds lightweight counters and latency stats that are safe to
// read from any goroutine while the runner updates them.
package obs

import (
	"sync/atomic"
	"time"

	"hftcore/internal/schema"
)

// Metrics collects lightweight counters and latency stats.
type Metrics struct {
	eventCounts     [schema.EventTypeCount]uint64
	reconciliations uint64
	journalAppends  uint64
	journalDrops    uint64
	queueDrops      uint64
	dataDropped     uint64
	accountRejects  uint64

	eventLatency   LatencyStats
	commandLatency LatencyStats
}

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64
	Min   time.Duration
	Max   time.Duration
	Avg   time.Duration
}

// Snapshot captures the current metrics values.
type Snapshot struct {
	EventCounts     map[schema.EventType]uint64
	Reconciliations uint64
	JournalAppends  uint64
	JournalDrops    uint64
	QueueDrops      uint64
	DataDropped     uint64
	AccountRejects  uint64
	EventLatency    LatencySnapshot
	CommandLatency  LatencySnapshot
}

// Published is the number of order, position and account events seen.
func (s Snapshot) Published() uint64 {
	var n uint64
	for t, c := range s.EventCounts {
		if !t.IsMarketData() && t != schema.EventTimeEvent {
			n += c
		}
	}
	return n
}

func (s Snapshot) Denied() uint64 { return s.EventCounts[schema.EventOrderDenied] }

func (s Snapshot) Rejected() uint64 { return s.EventCounts[schema.EventOrderRejected] }

// NewMetrics allocates a metrics container.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// ObserveEvent counts an event by type. Reconciliation events are also
// counted as corrections. A positive lag is recorded as event latency.
func (m *Metrics) ObserveEvent(t schema.EventType, reconciliation bool, lag time.Duration) {
	if m == nil {
		return
	}
	if idx := int(t); idx >= 0 && idx < len(m.eventCounts) {
		atomic.AddUint64(&m.eventCounts[idx], 1)
	}
	if reconciliation {
		atomic.AddUint64(&m.reconciliations, 1)
	}
	if lag > 0 {
		m.eventLatency.Observe(lag)
	}
}

func (m *Metrics) IncJournalAppend() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.journalAppends, 1)
}

func (m *Metrics) IncJournalDrop() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.journalDrops, 1)
}

// IncQueueDrop records an inbound item the runner queue had no room for.
func (m *Metrics) IncQueueDrop() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.queueDrops, 1)
}

// SetDataDropped mirrors the data engine's dropped counter.
func (m *Metrics) SetDataDropped(n uint64) {
	if m == nil {
		return
	}
	atomic.StoreUint64(&m.dataDropped, n)
}

// SetAccountRejects mirrors the execution engine's refused balance updates.
func (m *Metrics) SetAccountRejects(n uint64) {
	if m == nil {
		return
	}
	atomic.StoreUint64(&m.accountRejects, n)
}

// ObserveCommand measures how long the runner spent dispatching a command.
func (m *Metrics) ObserveCommand(d time.Duration) {
	if m == nil {
		return
	}
	m.commandLatency.Observe(d)
}

// Snapshot returns a copy of the current metrics values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	eventCounts := make(map[schema.EventType]uint64)
	for i := range m.eventCounts {
		if v := atomic.LoadUint64(&m.eventCounts[i]); v > 0 {
			eventCounts[schema.EventType(i)] = v
		}
	}
	return Snapshot{
		EventCounts:     eventCounts,
		Reconciliations: atomic.LoadUint64(&m.reconciliations),
		JournalAppends:  atomic.LoadUint64(&m.journalAppends),
		JournalDrops:    atomic.LoadUint64(&m.journalDrops),
		QueueDrops:      atomic.LoadUint64(&m.queueDrops),
		DataDropped:     atomic.LoadUint64(&m.dataDropped),
		AccountRejects:  atomic.LoadUint64(&m.accountRejects),
		EventLatency:    m.eventLatency.Snapshot(),
		CommandLatency:  m.commandLatency.Snapshot(),
	}
}

// Observe records a duration sample.
func (l *LatencyStats) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	nanos := uint64(d)
	atomic.AddUint64(&l.count, 1)
	atomic.AddUint64(&l.sum, nanos)

	for {
		cur := atomic.LoadUint64(&l.min)
		if cur != 0 && nanos >= cur {
			break
		}
		if atomic.CompareAndSwapUint64(&l.min, cur, nanos) {
			break
		}
	}

	for {
		cur := atomic.LoadUint64(&l.max)
		if nanos <= cur {
			break
		}
		if atomic.CompareAndSwapUint64(&l.max, cur, nanos) {
			break
		}
	}
}

// Snapshot returns the aggregated latency stats.
func (l *LatencyStats) Snapshot() LatencySnapshot {
	count := atomic.LoadUint64(&l.count)
	if count == 0 {
		return LatencySnapshot{}
	}
	sum := atomic.LoadUint64(&l.sum)
	return LatencySnapshot{
		Count: count,
		Min:   time.Duration(atomic.LoadUint64(&l.min)),
		Max:   time.Duration(atomic.LoadUint64(&l.max)),
		Avg:   time.Duration(sum / count),
	}
}
