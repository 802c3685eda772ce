package book

import (
	"fmt"
	"slices"
	"strings"

	"hftcore/internal/model"
	"hftcore/internal/model/enum"
)

// Ladder is one side of a book. Levels are kept best first: descending for
// bids, ascending for asks. cache maps order id to its level price.
type Ladder struct {
	side   enum.OrderSide
	levels []*Level
	cache  map[uint64]model.Price
}

func newLadder(side enum.OrderSide) *Ladder {
	return &Ladder{side: side, cache: map[uint64]model.Price{}}
}

func (l *Ladder) Side() enum.OrderSide { return l.side }

func (l *Ladder) Len() int { return len(l.levels) }

func (l *Ladder) IsEmpty() bool { return len(l.levels) == 0 }

func (l *Ladder) Contains(orderID uint64) bool {
	_, ok := l.cache[orderID]
	return ok
}

// better reports whether a ranks ahead of b on this side.
func (l *Ladder) better(a, b model.Price) bool {
	if l.side == enum.OrderSideBuy {
		return a.Raw > b.Raw
	}
	return a.Raw < b.Raw
}

func (l *Ladder) search(px model.Price) (int, bool) {
	return slices.BinarySearchFunc(l.levels, px, func(lv *Level, target model.Price) int {
		switch {
		case lv.Price.Raw == target.Raw:
			return 0
		case l.better(lv.Price, target):
			return -1
		default:
			return 1
		}
	})
}

func (l *Ladder) level(px model.Price) *Level {
	i, ok := l.search(px)
	if !ok {
		return nil
	}
	return l.levels[i]
}

func (l *Ladder) clear() {
	l.levels = nil
	clear(l.cache)
}

func (l *Ladder) add(o model.BookOrder) {
	if _, ok := l.cache[o.OrderID]; ok {
		l.update(o)
		return
	}
	if o.Size.IsZero() {
		return
	}
	l.cache[o.OrderID] = o.Price
	i, ok := l.search(o.Price)
	if ok {
		l.levels[i].add(o)
		return
	}
	l.levels = slices.Insert(l.levels, i, newLevel(o))
}

// update moves the order when its price changed, otherwise it updates the
// size in place. Unknown ids are added.
func (l *Ladder) update(o model.BookOrder) {
	px, ok := l.cache[o.OrderID]
	if !ok {
		l.add(o)
		return
	}
	if px.Raw != o.Price.Raw {
		l.remove(o.OrderID)
		l.add(o)
		return
	}
	lv := l.level(px)
	if lv == nil {
		delete(l.cache, o.OrderID)
		l.add(o)
		return
	}
	lv.update(o)
	if o.Size.IsZero() {
		delete(l.cache, o.OrderID)
	}
	l.dropIfEmpty(px)
}

func (l *Ladder) remove(orderID uint64) bool {
	px, ok := l.cache[orderID]
	if !ok {
		return false
	}
	delete(l.cache, orderID)
	if lv := l.level(px); lv != nil {
		lv.remove(orderID)
		l.dropIfEmpty(px)
	}
	return true
}

func (l *Ladder) dropIfEmpty(px model.Price) {
	if i, ok := l.search(px); ok && l.levels[i].IsEmpty() {
		l.levels = slices.Delete(l.levels, i, i+1)
	}
}

// Top returns the best level.
func (l *Ladder) Top() (*Level, bool) {
	if len(l.levels) == 0 {
		return nil, false
	}
	return l.levels[0], true
}

// Levels returns up to depth levels best first; depth <= 0 means all.
func (l *Ladder) Levels(depth int) []*Level {
	if depth <= 0 || depth > len(l.levels) {
		depth = len(l.levels)
	}
	return l.levels[:depth]
}

// simulateFills walks the ladder against an incoming order on the opposite
// side and returns the (price, size) fills it would receive.
func (l *Ladder) simulateFills(o model.BookOrder) []Fill {
	var fills []Fill
	filled := model.QuantityFromRaw(0, o.Size.Precision)
	for _, lv := range l.levels {
		if !o.Price.IsZero() && l.beyond(lv.Price, o.Price) {
			break
		}
		for _, bo := range lv.orders {
			if filled.Add(bo.Size).GreaterOrEqual(o.Size) {
				if rem := o.Size.Sub(filled); rem.IsPositive() {
					fills = append(fills, Fill{Price: bo.Price, Size: rem})
				}
				return fills
			}
			fills = append(fills, Fill{Price: bo.Price, Size: bo.Size})
			filled = filled.Add(bo.Size)
		}
	}
	return fills
}

// beyond reports whether a resting level at px is outside an incoming
// order's limit.
func (l *Ladder) beyond(px, limit model.Price) bool {
	if l.side == enum.OrderSideSell {
		return px.Raw > limit.Raw
	}
	return px.Raw < limit.Raw
}

func (l *Ladder) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Ladder(side=%s)\n", l.side)
	for _, lv := range l.levels {
		fmt.Fprintf(&sb, "  %s -> %d orders\n", lv.Price, lv.Len())
	}
	return sb.String()
}
