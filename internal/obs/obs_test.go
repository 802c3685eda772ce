package obs

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hftcore/internal/schema"
)

func TestMetricsSnapshot(t *testing.T) {
	m := NewMetrics()
	m.ObserveEvent(schema.EventOrderSubmitted, false, 0)
	m.ObserveEvent(schema.EventOrderDenied, false, 0)
	m.ObserveEvent(schema.EventOrderRejected, true, 2*time.Millisecond)
	m.ObserveEvent(schema.EventQuoteTick, false, time.Millisecond)
	m.IncJournalAppend()
	m.IncJournalDrop()
	m.SetDataDropped(3)
	m.SetAccountRejects(2)
	m.ObserveCommand(5 * time.Microsecond)
	m.ObserveCommand(15 * time.Microsecond)

	s := m.Snapshot()
	assert.EqualValues(t, 3, s.Published())
	assert.EqualValues(t, 1, s.Denied())
	assert.EqualValues(t, 1, s.Rejected())
	assert.EqualValues(t, 1, s.Reconciliations)
	assert.EqualValues(t, 1, s.JournalAppends)
	assert.EqualValues(t, 1, s.JournalDrops)
	assert.EqualValues(t, 3, s.DataDropped)
	assert.EqualValues(t, 2, s.AccountRejects)
	assert.EqualValues(t, 2, s.EventLatency.Count)
	assert.Equal(t, time.Millisecond, s.EventLatency.Min)
	assert.Equal(t, 2*time.Millisecond, s.EventLatency.Max)
	assert.Equal(t, 10*time.Microsecond, s.CommandLatency.Avg)
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveEvent(schema.EventOrderFilled, true, time.Second)
	m.IncJournalDrop()
	m.ObserveCommand(time.Second)
	assert.Empty(t, m.Snapshot().EventCounts)
}

func TestLatencyStatsConcurrent(t *testing.T) {
	var l LatencyStats
	var wg sync.WaitGroup
	for i := 1; i <= 8; i++ {
		wg.Add(1)
		go func(d time.Duration) {
			defer wg.Done()
			l.Observe(d)
		}(time.Duration(i) * time.Millisecond)
	}
	wg.Wait()
	s := l.Snapshot()
	require.EqualValues(t, 8, s.Count)
	assert.Equal(t, time.Millisecond, s.Min)
	assert.Equal(t, 8*time.Millisecond, s.Max)
}

func TestTracerSharesIDsPerKey(t *testing.T) {
	tr := NewTracer(NewTraceGenerator(100), 2)
	a := tr.For("O-1")
	assert.EqualValues(t, 101, a)
	assert.Equal(t, a, tr.For("O-1"))
	assert.Equal(t, a, tr.Link("P-1", "O-1"))
	assert.Equal(t, a, tr.For("P-1"))
	assert.NotEqual(t, tr.For(""), tr.For(""))

	// capacity 2 evicts the oldest key
	tr.For("O-2")
	tr.For("O-3")
	assert.Equal(t, 2, tr.Len())
	assert.NotEqual(t, a, tr.For("O-1"))
}
