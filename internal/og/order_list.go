package og

import (
	"fmt"

	"hftcore/internal/model"
	"hftcore/pkg/exception"
)

// OrderList groups orders submitted together, typically with contingencies.
type OrderList struct {
	ID           model.OrderListID
	InstrumentID model.InstrumentID
	StrategyID   model.StrategyID
	Orders       []*Order
	TsInit       model.UnixNanos
}

func NewOrderList(id model.OrderListID, orders []*Order, ts model.UnixNanos) (*OrderList, error) {
	if len(orders) == 0 {
		return nil, fmt.Errorf("%w: order list %s is empty", exception.ErrInvalidArgument, id)
	}
	first := orders[0]
	for _, o := range orders[1:] {
		if o.InstrumentID != first.InstrumentID {
			return nil, fmt.Errorf("%w: order list %s mixes instruments %s and %s", exception.ErrInvalidArgument,
				id, first.InstrumentID, o.InstrumentID)
		}
	}
	return &OrderList{
		ID:           id,
		InstrumentID: first.InstrumentID,
		StrategyID:   first.StrategyID,
		Orders:       orders,
		TsInit:       ts,
	}, nil
}

func (l *OrderList) First() *Order { return l.Orders[0] }

func (l *OrderList) ClientOrderIDs() []model.ClientOrderID {
	ids := make([]model.ClientOrderID, len(l.Orders))
	for i, o := range l.Orders {
		ids[i] = o.ClientOrderID
	}
	return ids
}
