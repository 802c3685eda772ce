package cache

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"hftcore/internal/codec"
	"hftcore/internal/model"
	"hftcore/internal/og"
	"hftcore/internal/state"
	"hftcore/pkg/exception"
)

// Database is the optional persistence behind the cache. The cache stays the
// authority for reads; the database is only read at start.
type Database interface {
	LoadGeneral(ctx context.Context) (map[string][]byte, error)
	LoadInstruments(ctx context.Context) ([]*model.Instrument, error)
	LoadAccounts(ctx context.Context) ([]*state.Account, error)
	LoadOrders(ctx context.Context) ([]*og.Order, error)
	LoadPositions(ctx context.Context, instrument func(model.InstrumentID) (*model.Instrument, bool)) ([]*state.Position, error)

	Add(key string, value []byte) error
	AddInstrument(inst *model.Instrument) error
	AddOrder(o *og.Order) error
	UpdateOrder(o *og.Order) error
	DeleteOrder(id model.ClientOrderID) error
	AddPosition(p *state.Position) error
	UpdatePosition(p *state.Position) error
	DeletePosition(id model.PositionID) error
	AddAccount(a *state.Account) error
	UpdateAccount(a *state.Account) error

	Flush(ctx context.Context) error
	Wipe(ctx context.Context) error
	Close() error
}

// Write is one key operation in a batch.
type Write struct {
	Key    string
	Value  []byte
	Delete bool
}

// Store is a raw ordered key value backend.
type Store interface {
	Write(ctx context.Context, batch []Write) error
	Scan(ctx context.Context, prefix string, fn func(key string, value []byte) error) error
	DeletePrefix(ctx context.Context, prefix string) error
	Close() error
}

const (
	collectionGeneral     = "general"
	collectionInstruments = "instruments"
	collectionAccounts    = "accounts"
	collectionOrders      = "orders"
	collectionPositions   = "positions"
)

// KeyPrefix builds the key namespace from the trader and instance ids.
func KeyPrefix(cfg Config, trader model.TraderID, instance model.UUID4) string {
	var parts []string
	if cfg.UseTraderPrefix && !trader.IsZero() {
		parts = append(parts, "trader-"+trader.String())
	}
	if cfg.UseInstanceID {
		parts = append(parts, instance.String())
	}
	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, ":") + ":"
}

// KVDatabase encodes cache state into a Store. Values are encoded on the
// caller's goroutine; writes are buffered when an interval is configured and
// applied by Run.
type KVDatabase struct {
	store    Store
	codec    *codec.Codec
	prefix   string
	interval time.Duration

	mu      sync.Mutex
	pending []Write
}

func NewKVDatabase(store Store, cfg Config, trader model.TraderID, instance model.UUID4) *KVDatabase {
	return &KVDatabase{
		store:    store,
		codec:    codec.New(codec.Options{}),
		prefix:   KeyPrefix(cfg, trader, instance),
		interval: cfg.BufferInterval(),
	}
}

func (d *KVDatabase) key(collection, id string) string {
	return d.prefix + collection + ":" + id
}

func (d *KVDatabase) enqueue(ws ...Write) error {
	if d.interval == 0 {
		return d.store.Write(context.Background(), ws)
	}
	d.mu.Lock()
	d.pending = append(d.pending, ws...)
	d.mu.Unlock()
	return nil
}

// Pending is the number of buffered writes.
func (d *KVDatabase) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

func (d *KVDatabase) Flush(ctx context.Context) error {
	d.mu.Lock()
	batch := d.pending
	d.pending = nil
	d.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}
	if err := d.store.Write(ctx, batch); err != nil {
		d.mu.Lock()
		d.pending = append(batch, d.pending...)
		d.mu.Unlock()
		return errors.Wrap(err, "flush cache writes")
	}
	return nil
}

// Run flushes buffered writes every interval until ctx is done, then flushes
// once more.
func (d *KVDatabase) Run(ctx context.Context) error {
	if d.interval == 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return d.Flush(context.WithoutCancel(ctx))
		case <-ticker.C:
			if err := d.Flush(ctx); err != nil {
				logs.Errorf("[CacheDB] flush, err: %+v", err)
			}
		}
	}
}

func (d *KVDatabase) Wipe(ctx context.Context) error {
	d.mu.Lock()
	d.pending = nil
	d.mu.Unlock()
	return d.store.DeletePrefix(ctx, d.prefix)
}

func (d *KVDatabase) Close() error { return d.store.Close() }

// encodeList writes a JSON array of envelopes.
func (d *KVDatabase) encodeList(n int, at func(i int) any) ([]byte, error) {
	buf := make([]byte, 0, 256*n)
	buf = append(buf, '[')
	for i := 0; i < n; i++ {
		if i > 0 {
			buf = append(buf, ',')
		}
		var err error
		if buf, err = d.codec.Encode(buf, at(i)); err != nil {
			return nil, err
		}
	}
	return append(buf, ']'), nil
}

func (d *KVDatabase) decodeList(b []byte) ([]any, error) {
	var raws []rawMessage
	if err := d.codec.Unmarshal(b, &raws); err != nil {
		return nil, errors.Wrap(err, "unmarshal event list")
	}
	out := make([]any, 0, len(raws))
	for _, r := range raws {
		v, err := d.codec.Decode(r)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// rawMessage defers decoding of one list element.
type rawMessage []byte

func (m *rawMessage) UnmarshalJSON(b []byte) error {
	*m = bytes.Clone(b)
	return nil
}

func (d *KVDatabase) scan(ctx context.Context, collection string, fn func(id string, value []byte) error) error {
	prefix := d.key(collection, "")
	return d.store.Scan(ctx, prefix, func(key string, value []byte) error {
		return fn(strings.TrimPrefix(key, prefix), value)
	})
}

func (d *KVDatabase) LoadGeneral(ctx context.Context) (map[string][]byte, error) {
	out := map[string][]byte{}
	err := d.scan(ctx, collectionGeneral, func(id string, value []byte) error {
		out[id] = bytes.Clone(value)
		return nil
	})
	return out, err
}

func (d *KVDatabase) LoadInstruments(ctx context.Context) ([]*model.Instrument, error) {
	var out []*model.Instrument
	err := d.scan(ctx, collectionInstruments, func(id string, value []byte) error {
		inst := &model.Instrument{}
		if err := d.codec.Unmarshal(value, inst); err != nil {
			return fmt.Errorf("instrument %s: %w", id, err)
		}
		out = append(out, inst)
		return nil
	})
	return out, err
}

func (d *KVDatabase) LoadAccounts(ctx context.Context) ([]*state.Account, error) {
	var out []*state.Account
	err := d.scan(ctx, collectionAccounts, func(id string, value []byte) error {
		v, err := d.codec.Decode(value)
		if err != nil {
			return fmt.Errorf("account %s: %w", id, err)
		}
		s, ok := v.(*state.AccountState)
		if !ok {
			return fmt.Errorf("%w: account %s holds %T", exception.ErrInvariantViolation, id, v)
		}
		a, err := state.NewAccount(s)
		if err != nil {
			return err
		}
		out = append(out, a)
		return nil
	})
	return out, err
}

func (d *KVDatabase) LoadOrders(ctx context.Context) ([]*og.Order, error) {
	var out []*og.Order
	err := d.scan(ctx, collectionOrders, func(id string, value []byte) error {
		events, err := d.decodeList(value)
		if err != nil {
			return fmt.Errorf("order %s: %w", id, err)
		}
		o, err := rebuildOrder(events)
		if err != nil {
			return fmt.Errorf("order %s: %w", id, err)
		}
		out = append(out, o)
		return nil
	})
	return out, err
}

func rebuildOrder(events []any) (*og.Order, error) {
	if len(events) == 0 {
		return nil, fmt.Errorf("%w: no events", exception.ErrInvariantViolation)
	}
	init, ok := events[0].(*og.OrderInitialized)
	if !ok {
		return nil, fmt.Errorf("%w: first event is %T", exception.ErrInvariantViolation, events[0])
	}
	o, err := og.NewOrder(init)
	if err != nil {
		return nil, err
	}
	for _, v := range events[1:] {
		ev, ok := v.(og.OrderEvent)
		if !ok {
			return nil, fmt.Errorf("%w: unexpected %T", exception.ErrInvariantViolation, v)
		}
		if err := o.Apply(ev); err != nil {
			return nil, err
		}
	}
	return o, nil
}

func (d *KVDatabase) LoadPositions(ctx context.Context, instrument func(model.InstrumentID) (*model.Instrument, bool)) ([]*state.Position, error) {
	var out []*state.Position
	err := d.scan(ctx, collectionPositions, func(id string, value []byte) error {
		events, err := d.decodeList(value)
		if err != nil {
			return fmt.Errorf("position %s: %w", id, err)
		}
		if len(events) == 0 {
			return nil
		}
		first, ok := events[0].(*og.OrderFilled)
		if !ok {
			return fmt.Errorf("%w: position %s first event is %T", exception.ErrInvariantViolation, id, events[0])
		}
		inst, ok := instrument(first.InstrumentID)
		if !ok {
			return fmt.Errorf("%w: position %s instrument %s", exception.ErrUnknownInstrument, id, first.InstrumentID)
		}
		p, err := state.NewPosition(inst, first)
		if err != nil {
			return err
		}
		for _, v := range events[1:] {
			fill, ok := v.(*og.OrderFilled)
			if !ok {
				return fmt.Errorf("%w: position %s holds %T", exception.ErrInvariantViolation, id, v)
			}
			if err := p.Apply(fill); err != nil {
				return fmt.Errorf("position %s: %w", id, err)
			}
		}
		out = append(out, p)
		return nil
	})
	return out, err
}

func (d *KVDatabase) Add(key string, value []byte) error {
	return d.enqueue(Write{Key: d.key(collectionGeneral, key), Value: bytes.Clone(value)})
}

func (d *KVDatabase) AddInstrument(inst *model.Instrument) error {
	b, err := d.codec.Marshal(inst)
	if err != nil {
		return errors.Wrap(err, "marshal instrument")
	}
	return d.enqueue(Write{Key: d.key(collectionInstruments, inst.ID.String()), Value: b})
}

func (d *KVDatabase) writeOrder(o *og.Order) error {
	events := o.Events()
	b, err := d.encodeList(len(events), func(i int) any { return events[i] })
	if err != nil {
		return err
	}
	return d.enqueue(Write{Key: d.key(collectionOrders, o.ClientOrderID.String()), Value: b})
}

func (d *KVDatabase) AddOrder(o *og.Order) error    { return d.writeOrder(o) }
func (d *KVDatabase) UpdateOrder(o *og.Order) error { return d.writeOrder(o) }

func (d *KVDatabase) DeleteOrder(id model.ClientOrderID) error {
	return d.enqueue(Write{Key: d.key(collectionOrders, id.String()), Delete: true})
}

func (d *KVDatabase) writePosition(p *state.Position) error {
	fills := p.Fills()
	b, err := d.encodeList(len(fills), func(i int) any { return fills[i] })
	if err != nil {
		return err
	}
	return d.enqueue(Write{Key: d.key(collectionPositions, p.ID.String()), Value: b})
}

func (d *KVDatabase) AddPosition(p *state.Position) error    { return d.writePosition(p) }
func (d *KVDatabase) UpdatePosition(p *state.Position) error { return d.writePosition(p) }

func (d *KVDatabase) DeletePosition(id model.PositionID) error {
	return d.enqueue(Write{Key: d.key(collectionPositions, id.String()), Delete: true})
}

func (d *KVDatabase) writeAccount(a *state.Account) error {
	last := a.LastEvent()
	if last == nil {
		return nil
	}
	b, err := d.codec.Encode(nil, last)
	if err != nil {
		return err
	}
	return d.enqueue(Write{Key: d.key(collectionAccounts, a.ID.String()), Value: b})
}

func (d *KVDatabase) AddAccount(a *state.Account) error    { return d.writeAccount(a) }
func (d *KVDatabase) UpdateAccount(a *state.Account) error { return d.writeAccount(a) }

var _ Database = (*KVDatabase)(nil)
