// Package chaos drops, duplicates, reorders and delays a stream of items to
// check that replay and the data engine cope with a misbehaving feed.
package chaos

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/yanun0323/logs"

	"hftcore/internal/model"
	"hftcore/internal/schema"
	"hftcore/pkg/exception"
)

// Config controls chaos injection behavior.
type Config struct {
	Seed          uint64
	DropRate      float64
	DuplicateRate float64
	// ReorderWindow holds this many items and releases a random one. 1 keeps the order.
	ReorderWindow int
	MaxDelay      time.Duration
}

// Validate ensures the config is within supported ranges.
func (c Config) Validate() error {
	switch {
	case c.DropRate < 0 || c.DropRate > 1:
		return fmt.Errorf("%w: drop rate must be between 0 and 1", exception.ErrInvalidArgument)
	case c.DuplicateRate < 0 || c.DuplicateRate > 1:
		return fmt.Errorf("%w: duplicate rate must be between 0 and 1", exception.ErrInvalidArgument)
	case c.ReorderWindow <= 0:
		return fmt.Errorf("%w: reorder window must be >= 1", exception.ErrInvalidArgument)
	case c.MaxDelay < 0:
		return fmt.Errorf("%w: max delay must be >= 0", exception.ErrInvalidArgument)
	}
	return nil
}

// Stats counts what the engine did.
type Stats struct {
	In         uint64
	Out        uint64
	Dropped    uint64
	Duplicated uint64
	Delayed    uint64
}

// DelayFunc returns item received d later than it was.
type DelayFunc[T any] func(item T, d time.Duration) T

// Engine applies the chaos rules to items of type T.
type Engine[T any] struct {
	cfg     Config
	rng     *rand.Rand
	delay   DelayFunc[T]
	pending []T
	stats   Stats
}

// NewEngine validates cfg. delay may be nil when items carry no receive time.
func NewEngine[T any](cfg Config, delay DelayFunc[T]) (*Engine[T], error) {
	if cfg.ReorderWindow == 0 {
		cfg.ReorderWindow = 1
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Seed == 0 {
		cfg.Seed = uint64(time.Now().UTC().UnixNano())
	}
	logs.Debugf("[Chaos] seed %d, drop %.3f, dup %.3f, window %d, max delay %s",
		cfg.Seed, cfg.DropRate, cfg.DuplicateRate, cfg.ReorderWindow, cfg.MaxDelay)
	return &Engine[T]{
		cfg:   cfg,
		rng:   rand.New(rand.NewPCG(cfg.Seed, cfg.Seed>>1|1)),
		delay: delay,
	}, nil
}

func (e *Engine[T]) Stats() Stats { return e.stats }

// Process takes one item and returns what leaves the engine now.
func (e *Engine[T]) Process(item T) []T {
	e.stats.In++
	if e.cfg.DropRate > 0 && e.rng.Float64() < e.cfg.DropRate {
		e.stats.Dropped++
		return nil
	}
	item = e.applyDelay(item)
	if e.cfg.ReorderWindow <= 1 {
		return e.emit(item)
	}
	e.pending = append(e.pending, item)
	if len(e.pending) < e.cfg.ReorderWindow {
		return nil
	}
	return e.emit(e.take())
}

// Flush releases the held items in random order.
func (e *Engine[T]) Flush() []T {
	var out []T
	for len(e.pending) > 0 {
		out = append(out, e.emit(e.take())...)
	}
	return out
}

// Perturb runs items through the engine and flushes it.
func (e *Engine[T]) Perturb(items []T) []T {
	out := make([]T, 0, len(items))
	for _, item := range items {
		out = append(out, e.Process(item)...)
	}
	return append(out, e.Flush()...)
}

func (e *Engine[T]) take() T {
	i := e.rng.IntN(len(e.pending))
	item := e.pending[i]
	e.pending = append(e.pending[:i], e.pending[i+1:]...)
	return item
}

func (e *Engine[T]) emit(item T) []T {
	e.stats.Out++
	if e.cfg.DuplicateRate > 0 && e.rng.Float64() < e.cfg.DuplicateRate {
		e.stats.Duplicated++
		e.stats.Out++
		return []T{item, item}
	}
	return []T{item}
}

func (e *Engine[T]) applyDelay(item T) T {
	if e.delay == nil || e.cfg.MaxDelay <= 0 {
		return item
	}
	d := time.Duration(e.rng.Int64N(int64(e.cfg.MaxDelay) + 1))
	if d == 0 {
		return item
	}
	e.stats.Delayed++
	return e.delay(item, d)
}

// Record is one journal record.
type Record struct {
	Header  schema.EventHeader
	Payload []byte
}

// DelayRecord moves the receive time of a journal record.
func DelayRecord(r Record, d time.Duration) Record {
	switch {
	case r.Header.TsRecv > 0:
		r.Header.TsRecv += int64(d)
	case r.Header.TsEvent > 0:
		r.Header.TsRecv = r.Header.TsEvent + int64(d)
	}
	return r
}

// DelayData moves ts_init of the market data types that carry one.
func DelayData(item model.Data, d time.Duration) model.Data {
	switch v := item.(type) {
	case model.QuoteTick:
		v.TsInit = v.TsInit.Add(d)
		return v
	case model.TradeTick:
		v.TsInit = v.TsInit.Add(d)
		return v
	case model.Bar:
		v.TsInit = v.TsInit.Add(d)
		return v
	}
	return item
}
