package obs

import (
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// TraceGenerator creates monotonically increasing trace IDs.
type TraceGenerator struct {
	next uint64
}

// NewTraceGenerator returns a generator seeded with the given value.
func NewTraceGenerator(seed uint64) *TraceGenerator {
	if seed == 0 {
		seed = uint64(time.Now().UTC().UnixNano())
	}
	return &TraceGenerator{next: seed}
}

// Next returns the next trace ID.
func (g *TraceGenerator) Next() uint64 {
	if g == nil {
		return 0
	}
	return atomic.AddUint64(&g.next, 1)
}

const defaultTraceCapacity = 1 << 16

// Tracer hands out one trace id per key, so every event of an order shares
// the id its first event got. Old keys are evicted least recently used first.
type Tracer struct {
	gen  *TraceGenerator
	keys *lru.Cache[string, uint64]
}

func NewTracer(gen *TraceGenerator, capacity int) *Tracer {
	if gen == nil {
		gen = NewTraceGenerator(0)
	}
	if capacity <= 0 {
		capacity = defaultTraceCapacity
	}
	keys, err := lru.New[string, uint64](capacity)
	if err != nil {
		panic(err)
	}
	return &Tracer{gen: gen, keys: keys}
}

// For returns the trace id of key, allocating one on first sight. An empty
// key always gets a fresh id.
func (t *Tracer) For(key string) uint64 {
	if key == "" {
		return t.gen.Next()
	}
	if id, ok := t.keys.Get(key); ok {
		return id
	}
	id := t.gen.Next()
	t.keys.Add(key, id)
	return id
}

// Link makes key share the trace id of parent.
func (t *Tracer) Link(key, parent string) uint64 {
	id := t.For(parent)
	if key != "" {
		t.keys.Add(key, id)
	}
	return id
}

func (t *Tracer) Len() int { return t.keys.Len() }
