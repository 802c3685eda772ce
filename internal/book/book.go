// Package book maintains single-instrument L1/L2/L3 order books.
package book

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"

	"hftcore/internal/model"
	"hftcore/internal/model/enum"
	"hftcore/pkg/exception"
)

type Fill struct {
	Price model.Price
	Size  model.Quantity
}

// OrderBook is owned by the runner and is not safe for concurrent use.
type OrderBook struct {
	InstrumentID model.InstrumentID
	BookType     enum.BookType

	bids *Ladder
	asks *Ladder

	sequence    uint64
	tsLast      model.UnixNanos
	updateCount uint64
}

func New(id model.InstrumentID, bookType enum.BookType) *OrderBook {
	return &OrderBook{
		InstrumentID: id,
		BookType:     bookType,
		bids:         newLadder(enum.OrderSideBuy),
		asks:         newLadder(enum.OrderSideSell),
	}
}

func (b *OrderBook) Sequence() uint64 { return b.sequence }

func (b *OrderBook) TsLast() model.UnixNanos { return b.tsLast }

func (b *OrderBook) UpdateCount() uint64 { return b.updateCount }

func (b *OrderBook) Bids() *Ladder { return b.bids }

func (b *OrderBook) Asks() *Ladder { return b.asks }

func (b *OrderBook) Reset() {
	b.bids.clear()
	b.asks.clear()
	b.sequence = 0
	b.tsLast = 0
	b.updateCount = 0
}

// preprocess derives synthetic order ids for aggregated book types.
func (b *OrderBook) preprocess(o model.BookOrder) model.BookOrder {
	switch b.BookType {
	case enum.BookL1MBP:
		o.OrderID = uint64(o.Side)
	case enum.BookL2MBP:
		o.OrderID = uint64(o.Price.Raw)
	}
	return o
}

func (b *OrderBook) ladder(side enum.OrderSide) (*Ladder, error) {
	switch side {
	case enum.OrderSideBuy:
		return b.bids, nil
	case enum.OrderSideSell:
		return b.asks, nil
	default:
		return nil, fmt.Errorf("%w: book order has no side", exception.ErrInvalidArgument)
	}
}

func (b *OrderBook) Add(o model.BookOrder, sequence uint64, ts model.UnixNanos) error {
	o = b.preprocess(o)
	l, err := b.ladder(o.Side)
	if err != nil {
		return err
	}
	if b.BookType == enum.BookL1MBP {
		l.clear()
	}
	l.add(o)
	b.increment(sequence, ts)
	return nil
}

func (b *OrderBook) Update(o model.BookOrder, sequence uint64, ts model.UnixNanos) error {
	o = b.preprocess(o)
	l, err := b.ladder(o.Side)
	if err != nil {
		return err
	}
	switch {
	case b.BookType == enum.BookL1MBP:
		l.clear()
		l.add(o)
	case b.BookType == enum.BookL3MBO && !l.Contains(o.OrderID):
		logs.Warnf("[OrderBook] %s update for unknown order %d, applying as add", b.InstrumentID, o.OrderID)
		l.add(o)
	default:
		l.update(o)
	}
	b.increment(sequence, ts)
	return nil
}

func (b *OrderBook) Delete(o model.BookOrder, sequence uint64, ts model.UnixNanos) error {
	o = b.preprocess(o)
	l, err := b.ladder(o.Side)
	if err != nil {
		return err
	}
	switch {
	case b.BookType == enum.BookL1MBP:
		l.clear()
	case b.BookType == enum.BookL3MBO && !l.Contains(o.OrderID):
		logs.Warnf("[OrderBook] %s delete for unknown order %d, applying as add", b.InstrumentID, o.OrderID)
		l.add(o)
	default:
		l.remove(o.OrderID)
	}
	b.increment(sequence, ts)
	return nil
}

func (b *OrderBook) Clear(sequence uint64, ts model.UnixNanos) {
	b.bids.clear()
	b.asks.clear()
	b.increment(sequence, ts)
}

func (b *OrderBook) ClearBids(sequence uint64, ts model.UnixNanos) {
	b.bids.clear()
	b.increment(sequence, ts)
}

func (b *OrderBook) ClearAsks(sequence uint64, ts model.UnixNanos) {
	b.asks.clear()
	b.increment(sequence, ts)
}

func (b *OrderBook) ApplyDelta(d model.OrderBookDelta) error {
	if d.InstrumentID != b.InstrumentID {
		return fmt.Errorf("%w: delta for %s applied to book %s", exception.ErrInvalidArgument, d.InstrumentID, b.InstrumentID)
	}
	switch d.Action {
	case enum.BookActionAdd:
		return b.Add(d.Order, d.Sequence, d.TsEvent)
	case enum.BookActionUpdate:
		return b.Update(d.Order, d.Sequence, d.TsEvent)
	case enum.BookActionDelete:
		return b.Delete(d.Order, d.Sequence, d.TsEvent)
	case enum.BookActionClear:
		b.Clear(d.Sequence, d.TsEvent)
		return nil
	default:
		return fmt.Errorf("%w: book action %d", exception.ErrInvalidArgument, d.Action)
	}
}

func (b *OrderBook) ApplyDeltas(ds model.OrderBookDeltas) error {
	for _, d := range ds.Deltas {
		if err := b.ApplyDelta(d); err != nil {
			return err
		}
	}
	return nil
}

// ApplyDepth replaces the book with a top-ten snapshot. Empty rows are skipped.
func (b *OrderBook) ApplyDepth(d model.OrderBookDepth10) error {
	if d.InstrumentID != b.InstrumentID {
		return fmt.Errorf("%w: depth for %s applied to book %s", exception.ErrInvalidArgument, d.InstrumentID, b.InstrumentID)
	}
	b.bids.clear()
	b.asks.clear()
	for i := range model.DepthLevels {
		if o := d.Bids[i]; o.Size.IsPositive() {
			o.Side = enum.OrderSideBuy
			b.bids.add(b.preprocess(o))
		}
		if o := d.Asks[i]; o.Size.IsPositive() {
			o.Side = enum.OrderSideSell
			b.asks.add(b.preprocess(o))
		}
		if b.BookType == enum.BookL1MBP {
			break
		}
	}
	b.increment(d.Sequence, d.TsEvent)
	return nil
}

// UpdateQuote writes both top levels from a quote. L1 books only.
func (b *OrderBook) UpdateQuote(q model.QuoteTick) error {
	if b.BookType != enum.BookL1MBP {
		return fmt.Errorf("%w: quote update on %s book", exception.ErrInvalidBookOperation, b.BookType)
	}
	if q.BidPrice.GreaterThan(q.AskPrice) {
		logs.Warnf("[OrderBook] %s quote crossed bid=%s ask=%s", b.InstrumentID, q.BidPrice, q.AskPrice)
	}
	b.setTop(
		model.BookOrder{Side: enum.OrderSideBuy, Price: q.BidPrice, Size: q.BidSize, OrderID: uint64(enum.OrderSideBuy)},
		model.BookOrder{Side: enum.OrderSideSell, Price: q.AskPrice, Size: q.AskSize, OrderID: uint64(enum.OrderSideSell)},
	)
	b.increment(b.sequence+1, q.TsEvent)
	return nil
}

// UpdateTrade writes both top levels to the trade price and size. L1 books only.
func (b *OrderBook) UpdateTrade(t model.TradeTick) error {
	if b.BookType != enum.BookL1MBP {
		return fmt.Errorf("%w: trade update on %s book", exception.ErrInvalidBookOperation, b.BookType)
	}
	b.setTop(
		model.BookOrder{Side: enum.OrderSideBuy, Price: t.Price, Size: t.Size, OrderID: uint64(enum.OrderSideBuy)},
		model.BookOrder{Side: enum.OrderSideSell, Price: t.Price, Size: t.Size, OrderID: uint64(enum.OrderSideSell)},
	)
	b.increment(b.sequence+1, t.TsEvent)
	return nil
}

func (b *OrderBook) setTop(bid, ask model.BookOrder) {
	b.bids.clear()
	b.bids.add(bid)
	b.asks.clear()
	b.asks.add(ask)
}

func (b *OrderBook) increment(sequence uint64, ts model.UnixNanos) {
	if sequence < b.sequence {
		logs.Warnf("[OrderBook] %s sequence went backwards old=%d new=%d", b.InstrumentID, b.sequence, sequence)
	}
	if ts < b.tsLast {
		logs.Warnf("[OrderBook] %s timestamp went backwards old=%d new=%d", b.InstrumentID, b.tsLast, ts)
	}
	b.sequence = sequence
	b.tsLast = ts
	b.updateCount++
}

func (b *OrderBook) HasBid() bool { return !b.bids.IsEmpty() }

func (b *OrderBook) HasAsk() bool { return !b.asks.IsEmpty() }

func (b *OrderBook) BestBidPrice() (model.Price, bool) { return topPrice(b.bids) }

func (b *OrderBook) BestAskPrice() (model.Price, bool) { return topPrice(b.asks) }

func (b *OrderBook) BestBidSize() (model.Quantity, bool) { return topSize(b.bids) }

func (b *OrderBook) BestAskSize() (model.Quantity, bool) { return topSize(b.asks) }

func topPrice(l *Ladder) (model.Price, bool) {
	lv, ok := l.Top()
	if !ok {
		return model.Price{}, false
	}
	return lv.Price, true
}

func topSize(l *Ladder) (model.Quantity, bool) {
	lv, ok := l.Top()
	if !ok {
		return model.Quantity{}, false
	}
	return lv.Size(), true
}

func (b *OrderBook) Spread() (model.Price, bool) {
	bid, ok1 := b.BestBidPrice()
	ask, ok2 := b.BestAskPrice()
	if !ok1 || !ok2 {
		return model.Price{}, false
	}
	return ask.Sub(bid), true
}

func (b *OrderBook) Midpoint() (decimal.Decimal, bool) {
	bid, ok1 := b.BestBidPrice()
	ask, ok2 := b.BestAskPrice()
	if !ok1 || !ok2 {
		return decimal.Zero, false
	}
	return bid.Decimal().Add(ask.Decimal()).Div(decimal.NewFromInt(2)), true
}

// SizeAtPrice is the resting size at an exact price on the given side.
func (b *OrderBook) SizeAtPrice(side enum.OrderSide, px model.Price) model.Quantity {
	l, err := b.ladder(side)
	if err != nil {
		return model.Quantity{}
	}
	if lv := l.level(px); lv != nil {
		return lv.Size()
	}
	return model.Quantity{}
}

// Exposure is price times size summed over a level.
func (b *OrderBook) Exposure(side enum.OrderSide, px model.Price) decimal.Decimal {
	l, err := b.ladder(side)
	if err != nil {
		return decimal.Zero
	}
	if lv := l.level(px); lv != nil {
		return lv.Exposure()
	}
	return decimal.Zero
}

// Level returns the resting orders at px in time priority.
func (b *OrderBook) Level(side enum.OrderSide, px model.Price) ([]model.BookOrder, bool) {
	l, err := b.ladder(side)
	if err != nil {
		return nil, false
	}
	lv := l.level(px)
	if lv == nil {
		return nil, false
	}
	return lv.Orders(), true
}

// CheckIntegrity verifies the structural invariants for the book type.
func (b *OrderBook) CheckIntegrity() error {
	switch b.BookType {
	case enum.BookL1MBP:
		if b.bids.Len() > 1 || b.asks.Len() > 1 {
			return fmt.Errorf("%w: L1 book %s has more than one level per side", exception.ErrInvariantViolation, b.InstrumentID)
		}
		return nil
	case enum.BookL2MBP:
		for _, l := range []*Ladder{b.bids, b.asks} {
			for _, lv := range l.levels {
				if lv.Len() > 1 {
					return fmt.Errorf("%w: L2 book %s has %d orders at %s", exception.ErrInvariantViolation, b.InstrumentID, lv.Len(), lv.Price)
				}
			}
		}
	}
	for _, l := range []*Ladder{b.bids, b.asks} {
		for i := 1; i < len(l.levels); i++ {
			if !l.better(l.levels[i-1].Price, l.levels[i].Price) {
				return fmt.Errorf("%w: %s ladder of %s is not strictly ordered", exception.ErrInvariantViolation, l.side, b.InstrumentID)
			}
		}
	}
	bid, ok1 := b.BestBidPrice()
	ask, ok2 := b.BestAskPrice()
	if ok1 && ok2 && bid.GreaterThan(ask) {
		return fmt.Errorf("%w: book %s crossed bid=%s ask=%s", exception.ErrInvariantViolation, b.InstrumentID, bid, ask)
	}
	return nil
}

// Pprint renders up to n levels per side, asks on top.
func (b *OrderBook) Pprint(n int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "OrderBook %s %s seq=%d updates=%d\n", b.InstrumentID, b.BookType, b.sequence, b.updateCount)
	asks := b.asks.Levels(n)
	for i := len(asks) - 1; i >= 0; i-- {
		fmt.Fprintf(&sb, "          | %-14s | %s\n", asks[i].Price, asks[i].Size())
	}
	for _, lv := range b.bids.Levels(n) {
		fmt.Fprintf(&sb, "%9s | %-14s |\n", lv.Size(), lv.Price)
	}
	return sb.String()
}
