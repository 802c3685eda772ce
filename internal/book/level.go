package book

import (
	"github.com/shopspring/decimal"

	"hftcore/internal/model"
)

// Level holds the orders resting at one price in arrival order.
type Level struct {
	Price  model.Price
	orders []model.BookOrder
}

func newLevel(o model.BookOrder) *Level {
	return &Level{Price: o.Price, orders: []model.BookOrder{o}}
}

func (l *Level) Len() int { return len(l.orders) }

func (l *Level) IsEmpty() bool { return len(l.orders) == 0 }

// Orders returns a copy in time priority.
func (l *Level) Orders() []model.BookOrder {
	out := make([]model.BookOrder, len(l.orders))
	copy(out, l.orders)
	return out
}

func (l *Level) First() (model.BookOrder, bool) {
	if len(l.orders) == 0 {
		return model.BookOrder{}, false
	}
	return l.orders[0], true
}

func (l *Level) indexOf(id uint64) int {
	for i := range l.orders {
		if l.orders[i].OrderID == id {
			return i
		}
	}
	return -1
}

func (l *Level) add(o model.BookOrder) {
	l.orders = append(l.orders, o)
}

// update replaces the size in place so time priority is preserved. A zero
// size removes the order.
func (l *Level) update(o model.BookOrder) {
	i := l.indexOf(o.OrderID)
	if i < 0 {
		l.add(o)
		return
	}
	if o.Size.IsZero() {
		l.remove(o.OrderID)
		return
	}
	l.orders[i].Size = o.Size
}

func (l *Level) remove(id uint64) bool {
	i := l.indexOf(id)
	if i < 0 {
		return false
	}
	l.orders = append(l.orders[:i], l.orders[i+1:]...)
	return true
}

// Size is the total resting quantity.
func (l *Level) Size() model.Quantity {
	var total model.Quantity
	for i, o := range l.orders {
		if i == 0 {
			total = o.Size
			continue
		}
		total = total.Add(o.Size)
	}
	return total
}

// Exposure is the sum of price times size over the level's orders.
func (l *Level) Exposure() decimal.Decimal {
	total := decimal.Zero
	for _, o := range l.orders {
		total = total.Add(o.Exposure())
	}
	return total
}
