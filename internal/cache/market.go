package cache

import (
	"fmt"
	"slices"
	"strings"

	"hftcore/internal/book"
	"hftcore/internal/model"
	"hftcore/internal/model/enum"
	"hftcore/pkg/exception"
)

var errInvalidKey = fmt.Errorf("%w: cache: empty key", exception.ErrInvalidArgument)

func (c *Cache) AddInstrument(inst *model.Instrument) error {
	if err := inst.Validate(); err != nil {
		return err
	}
	c.instruments[inst.ID] = inst
	c.persist("add instrument", func(db Database) error { return db.AddInstrument(inst) })
	return nil
}

func (c *Cache) Instrument(id model.InstrumentID) (*model.Instrument, bool) {
	inst, ok := c.instruments[id]
	return inst, ok
}

// Instruments filters by venue and underlying when they are set, sorted by id.
func (c *Cache) Instruments(venue model.Venue, underlying string) []*model.Instrument {
	out := make([]*model.Instrument, 0, len(c.instruments))
	for id, inst := range c.instruments {
		if !venue.IsZero() && id.Venue != venue {
			continue
		}
		if underlying != "" && inst.Underlying != underlying {
			continue
		}
		out = append(out, inst)
	}
	slices.SortFunc(out, func(a, b *model.Instrument) int { return strings.Compare(a.ID.String(), b.ID.String()) })
	return out
}

func (c *Cache) InstrumentIDs(venue model.Venue) []model.InstrumentID {
	insts := c.Instruments(venue, "")
	out := make([]model.InstrumentID, len(insts))
	for i, inst := range insts {
		out[i] = inst.ID
	}
	return out
}

func (c *Cache) AddOrderBook(b *book.OrderBook) {
	c.books[b.InstrumentID] = b
}

// OrderBook returns the live book. Callers on the runner thread may mutate it.
func (c *Cache) OrderBook(id model.InstrumentID) (*book.OrderBook, bool) {
	b, ok := c.books[id]
	return b, ok
}

func (c *Cache) HasOrderBook(id model.InstrumentID) bool {
	_, ok := c.books[id]
	return ok
}

func (c *Cache) BookUpdateCount(id model.InstrumentID) uint64 {
	if b, ok := c.books[id]; ok {
		return b.UpdateCount()
	}
	return 0
}

func ringFor[K comparable, T any](m map[K]*Ring[T], k K, capacity int) *Ring[T] {
	r, ok := m[k]
	if !ok {
		r = NewRing[T](capacity)
		m[k] = r
	}
	return r
}

func at[K comparable, T any](m map[K]*Ring[T], k K, index int) (T, bool) {
	if r, ok := m[k]; ok {
		return r.At(index)
	}
	var zero T
	return zero, false
}

func items[K comparable, T any](m map[K]*Ring[T], k K) []T {
	if r, ok := m[k]; ok {
		return r.Items()
	}
	return nil
}

func count[K comparable, T any](m map[K]*Ring[T], k K) int {
	if r, ok := m[k]; ok {
		return r.Len()
	}
	return 0
}

func (c *Cache) AddQuote(q model.QuoteTick) {
	ringFor(c.quotes, q.InstrumentID, c.cfg.TickCapacity).Push(q)
}

// AddQuotes expects oldest first.
func (c *Cache) AddQuotes(qs []model.QuoteTick) {
	for _, q := range qs {
		c.AddQuote(q)
	}
}

// Quote returns the quote at index, 0 being the most recent.
func (c *Cache) Quote(id model.InstrumentID, index int) (model.QuoteTick, bool) {
	return at(c.quotes, id, index)
}

func (c *Cache) Quotes(id model.InstrumentID) []model.QuoteTick { return items(c.quotes, id) }
func (c *Cache) QuoteCount(id model.InstrumentID) int           { return count(c.quotes, id) }
func (c *Cache) HasQuotes(id model.InstrumentID) bool           { return c.QuoteCount(id) > 0 }

func (c *Cache) AddTrade(t model.TradeTick) {
	ringFor(c.trades, t.InstrumentID, c.cfg.TickCapacity).Push(t)
}

func (c *Cache) AddTrades(ts []model.TradeTick) {
	for _, t := range ts {
		c.AddTrade(t)
	}
}

func (c *Cache) Trade(id model.InstrumentID, index int) (model.TradeTick, bool) {
	return at(c.trades, id, index)
}

func (c *Cache) Trades(id model.InstrumentID) []model.TradeTick { return items(c.trades, id) }
func (c *Cache) TradeCount(id model.InstrumentID) int           { return count(c.trades, id) }
func (c *Cache) HasTrades(id model.InstrumentID) bool           { return c.TradeCount(id) > 0 }

func (c *Cache) AddBar(b model.Bar) {
	ringFor(c.bars, b.BarType, c.cfg.BarCapacity).Push(b)
}

func (c *Cache) AddBars(bs []model.Bar) {
	for _, b := range bs {
		c.AddBar(b)
	}
}

func (c *Cache) Bar(bt model.BarType, index int) (model.Bar, bool) { return at(c.bars, bt, index) }
func (c *Cache) Bars(bt model.BarType) []model.Bar                 { return items(c.bars, bt) }
func (c *Cache) BarCount(bt model.BarType) int                     { return count(c.bars, bt) }
func (c *Cache) HasBars(bt model.BarType) bool                     { return c.BarCount(bt) > 0 }

// BarTypes lists cached bar types for the instrument, or all when id is zero.
func (c *Cache) BarTypes(id model.InstrumentID) []model.BarType {
	var out []model.BarType
	for bt := range c.bars {
		if id.IsZero() || bt.InstrumentID == id {
			out = append(out, bt)
		}
	}
	slices.SortFunc(out, func(a, b model.BarType) int { return strings.Compare(a.String(), b.String()) })
	return out
}

func (c *Cache) AddMarkPrice(m model.MarkPriceUpdate) {
	ringFor(c.markPrices, m.InstrumentID, c.cfg.TickCapacity).Push(m)
}

func (c *Cache) MarkPrice(id model.InstrumentID) (model.MarkPriceUpdate, bool) {
	return at(c.markPrices, id, 0)
}

func (c *Cache) MarkPrices(id model.InstrumentID) []model.MarkPriceUpdate {
	return items(c.markPrices, id)
}

func (c *Cache) AddIndexPrice(p model.IndexPriceUpdate) {
	ringFor(c.indexPrices, p.InstrumentID, c.cfg.TickCapacity).Push(p)
}

func (c *Cache) IndexPrice(id model.InstrumentID) (model.IndexPriceUpdate, bool) {
	return at(c.indexPrices, id, 0)
}

func (c *Cache) AddFundingRate(f model.FundingRateUpdate) { c.funding[f.InstrumentID] = f }

func (c *Cache) FundingRate(id model.InstrumentID) (model.FundingRateUpdate, bool) {
	f, ok := c.funding[id]
	return f, ok
}

func (c *Cache) AddInstrumentStatus(s model.InstrumentStatus) { c.status[s.InstrumentID] = s }

func (c *Cache) InstrumentStatus(id model.InstrumentID) (model.InstrumentStatus, bool) {
	s, ok := c.status[id]
	return s, ok
}

// Price resolves the latest price of the given type. Bid, Ask and Mid come
// from quotes, then the book. Last comes from trades. Mark falls back to Last.
func (c *Cache) Price(id model.InstrumentID, pt enum.PriceType) (model.Price, bool) {
	switch pt {
	case enum.PriceTypeBid, enum.PriceTypeAsk, enum.PriceTypeMid:
		if q, ok := c.Quote(id, 0); ok {
			return q.ExtractPrice(pt), true
		}
		if b, ok := c.books[id]; ok {
			return bookPrice(b, pt)
		}
	case enum.PriceTypeLast:
		if t, ok := c.Trade(id, 0); ok {
			return t.Price, true
		}
	case enum.PriceTypeMark:
		if m, ok := c.MarkPrice(id); ok {
			return m.Value, true
		}
		return c.Price(id, enum.PriceTypeLast)
	}
	return model.Price{}, false
}

func bookPrice(b *book.OrderBook, pt enum.PriceType) (model.Price, bool) {
	bid, bok := b.BestBidPrice()
	ask, aok := b.BestAskPrice()
	switch pt {
	case enum.PriceTypeBid:
		return bid, bok
	case enum.PriceTypeAsk:
		return ask, aok
	}
	mid, ok := b.Midpoint()
	if !ok || !bok || !aok {
		return model.Price{}, false
	}
	precision := min(max(bid.Precision, ask.Precision)+1, model.FixedPrecision)
	p, err := model.PriceFromDecimal(mid, precision)
	if err != nil {
		return model.Price{}, false
	}
	return p, true
}
