package book

import (
	"github.com/shopspring/decimal"

	"hftcore/internal/model"
	"hftcore/internal/model/enum"
)

// opposite is the ladder an order on side would take liquidity from.
func (b *OrderBook) opposite(side enum.OrderSide) *Ladder {
	if side == enum.OrderSideBuy {
		return b.asks
	}
	return b.bids
}

// SimulateFills returns the fills an incoming order would receive against
// the opposite side. A zero price means no limit.
func (b *OrderBook) SimulateFills(o model.BookOrder) []Fill {
	return b.opposite(o.Side).simulateFills(o)
}

// GetAvgPxForQuantity is the volume weighted price to take qty from the
// side an order of the given side would hit. It is zero when the book is
// too thin.
func (b *OrderBook) GetAvgPxForQuantity(qty model.Quantity, side enum.OrderSide) decimal.Decimal {
	fills := b.SimulateFills(model.BookOrder{Side: side, Size: qty})
	var notional, total decimal.Decimal
	for _, f := range fills {
		notional = notional.Add(f.Size.Mul(f.Price))
		total = total.Add(f.Size.Decimal())
	}
	if total.IsZero() || total.LessThan(qty.Decimal()) {
		return decimal.Zero
	}
	return notional.Div(total)
}

// GetWorstPxForQuantity is the deepest price touched taking qty.
func (b *OrderBook) GetWorstPxForQuantity(qty model.Quantity, side enum.OrderSide) (model.Price, bool) {
	fills := b.SimulateFills(model.BookOrder{Side: side, Size: qty})
	if len(fills) == 0 {
		return model.Price{}, false
	}
	return fills[len(fills)-1].Price, true
}

// GetQuantityForPrice is the size available to an order of the given side
// at px or better.
func (b *OrderBook) GetQuantityForPrice(px model.Price, side enum.OrderSide) model.Quantity {
	l := b.opposite(side)
	total := model.QuantityFromRaw(0, 0)
	for _, lv := range l.levels {
		if l.beyond(lv.Price, px) {
			break
		}
		total = total.Add(lv.Size())
	}
	return total
}

type LevelView struct {
	Price    model.Price
	Size     model.Quantity
	Count    int
	Exposure decimal.Decimal
}

func views(levels []*Level) []LevelView {
	out := make([]LevelView, len(levels))
	for i, lv := range levels {
		out[i] = LevelView{Price: lv.Price, Size: lv.Size(), Count: lv.Len(), Exposure: lv.Exposure()}
	}
	return out
}

// BidLevels and AskLevels return aggregated depth best first; depth <= 0
// means all levels.
func (b *OrderBook) BidLevels(depth int) []LevelView { return views(b.bids.Levels(depth)) }

func (b *OrderBook) AskLevels(depth int) []LevelView { return views(b.asks.Levels(depth)) }

// Depth10 snapshots the top ten levels of each side.
func (b *OrderBook) Depth10(tsInit model.UnixNanos) model.OrderBookDepth10 {
	d := model.OrderBookDepth10{
		InstrumentID: b.InstrumentID,
		Sequence:     b.sequence,
		TsEvent:      b.tsLast,
		TsInit:       tsInit,
		Flags:        model.FlagSnapshot,
	}
	for i, lv := range b.bids.Levels(model.DepthLevels) {
		d.Bids[i] = model.BookOrder{Side: enum.OrderSideBuy, Price: lv.Price, Size: lv.Size()}
		d.BidCounts[i] = uint32(lv.Len())
	}
	for i, lv := range b.asks.Levels(model.DepthLevels) {
		d.Asks[i] = model.BookOrder{Side: enum.OrderSideSell, Price: lv.Price, Size: lv.Size()}
		d.AskCounts[i] = uint32(lv.Len())
	}
	return d
}

// Snapshot renders the book as Clear followed by one Add per resting order,
// the last carrying FlagLast.
func (b *OrderBook) Snapshot(tsInit model.UnixNanos) model.OrderBookDeltas {
	deltas := []model.OrderBookDelta{model.NewClearDelta(b.InstrumentID, b.sequence, b.tsLast, tsInit)}
	for _, l := range []*Ladder{b.bids, b.asks} {
		for _, lv := range l.levels {
			for _, o := range lv.orders {
				deltas = append(deltas, model.OrderBookDelta{
					InstrumentID: b.InstrumentID,
					Action:       enum.BookActionAdd,
					Order:        o,
					Flags:        model.FlagSnapshot,
					Sequence:     b.sequence,
					TsEvent:      b.tsLast,
					TsInit:       tsInit,
				})
			}
		}
	}
	deltas[len(deltas)-1].Flags |= model.FlagLast
	return model.NewOrderBookDeltas(b.InstrumentID, deltas)
}
