// Package mdg generates synthetic quotes and trades for backtests.
package mdg

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/yanun0323/errors"

	"hftcore/internal/codec"
	"hftcore/internal/model"
	"hftcore/internal/model/enum"
	"hftcore/internal/recorder"
	"hftcore/internal/schema"
	"hftcore/pkg/exception"
)

// Config shapes the random walk. Spread and MaxStep are in price ticks.
type Config struct {
	Kind      enum.DataKind
	Seed      uint64
	Start     model.UnixNanos
	Interval  time.Duration
	BasePrice model.Price
	Size      model.Quantity
	Spread    int64
	MaxStep   int64
}

func DefaultConfig() Config {
	return Config{
		Kind:      enum.DataQuote,
		Seed:      1,
		Start:     model.UnixNanosFromTime(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
		Interval:  100 * time.Millisecond,
		BasePrice: model.MustPrice("100"),
		Size:      model.MustQuantity("1"),
		Spread:    1,
		MaxStep:   2,
	}
}

func (c Config) Validate() error {
	switch {
	case c.Kind != enum.DataQuote && c.Kind != enum.DataTrade:
		return fmt.Errorf("%w: generator kind %s", exception.ErrInvalidArgument, c.Kind)
	case c.Interval <= 0:
		return fmt.Errorf("%w: generator interval must be > 0", exception.ErrInvalidArgument)
	case !c.BasePrice.IsPositive():
		return fmt.Errorf("%w: generator base price must be > 0", exception.ErrInvalidArgument)
	case !c.Size.IsPositive():
		return fmt.Errorf("%w: generator size must be > 0", exception.ErrInvalidArgument)
	case c.Spread < 0 || c.MaxStep < 0:
		return fmt.Errorf("%w: generator spread and step must be >= 0", exception.ErrInvalidArgument)
	}
	return nil
}

type walk struct {
	inst *model.Instrument
	mid  int64
}

// Generator walks the mid of every instrument and emits one item per call,
// cycling through the instruments.
type Generator struct {
	cfg   Config
	rng   *rand.Rand
	walks []walk
	ts    model.UnixNanos
	index int
	count int
}

func NewGenerator(instruments []*model.Instrument, cfg Config) (*Generator, error) {
	if len(instruments) == 0 {
		return nil, fmt.Errorf("%w: generator has no instruments", exception.ErrInvalidArgument)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	walks := make([]walk, 0, len(instruments))
	for _, inst := range instruments {
		if !inst.PriceIncrement.IsPositive() {
			return nil, fmt.Errorf("%w: %s has no price increment", exception.ErrInvalidArgument, inst.ID)
		}
		walks = append(walks, walk{inst: inst, mid: cfg.BasePrice.Raw})
	}
	return &Generator{
		cfg:   cfg,
		rng:   rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x5deece66d)),
		walks: walks,
		ts:    cfg.Start,
	}, nil
}

// Next returns the next item. Timestamps grow by Interval per item.
func (g *Generator) Next() model.Data {
	w := &g.walks[g.index]
	g.index = (g.index + 1) % len(g.walks)
	g.count++
	g.ts = g.ts.Add(g.cfg.Interval)

	tick := w.inst.PriceIncrement.Raw
	if g.cfg.MaxStep > 0 {
		w.mid += (g.rng.Int64N(2*g.cfg.MaxStep+1) - g.cfg.MaxStep) * tick
	}
	floor := (g.cfg.Spread + 1) * tick
	if w.mid < floor {
		w.mid = floor
	}

	prec := w.inst.PricePrecision
	size := model.QuantityFromRaw(g.cfg.Size.Raw, w.inst.SizePrecision)
	if g.cfg.Kind == enum.DataTrade {
		side := enum.AggressorBuyer
		if g.rng.IntN(2) == 0 {
			side = enum.AggressorSeller
		}
		return model.TradeTick{
			InstrumentID:  w.inst.ID,
			Price:         model.PriceFromRaw(w.mid, prec),
			Size:          size,
			AggressorSide: side,
			TradeID:       model.MustTradeID("G-" + strconv.Itoa(g.count)),
			TsEvent:       g.ts,
			TsInit:        g.ts,
		}
	}
	half := g.cfg.Spread * tick / 2
	bid := w.mid - half
	return model.QuoteTick{
		InstrumentID: w.inst.ID,
		BidPrice:     model.PriceFromRaw(bid, prec),
		AskPrice:     model.PriceFromRaw(bid+g.cfg.Spread*tick, prec),
		BidSize:      size,
		AskSize:      size,
		TsEvent:      g.ts,
		TsInit:       g.ts,
	}
}

func (g *Generator) Generate(n int) []model.Data {
	out := make([]model.Data, 0, n)
	for range n {
		out = append(out, g.Next())
	}
	return out
}

// WriteJournal encodes items as market data records. It blocks while the
// writer queue is full.
func WriteJournal(ctx context.Context, w *recorder.Writer, items []model.Data) error {
	c := codec.New(codec.Options{})
	var buf []byte
	for i, d := range items {
		t, err := codec.TypeOf(d)
		if err != nil {
			return err
		}
		buf, err = c.Encode(buf[:0], d)
		if err != nil {
			return errors.Wrapf(err, "encode item %d", i)
		}
		h := schema.NewHeader(t, schema.SourceDataEngine, uint64(i+1), int64(d.EventTs()), int64(d.InitTs()))
		if err := w.Append(ctx, h, buf); err != nil {
			return err
		}
	}
	return nil
}
