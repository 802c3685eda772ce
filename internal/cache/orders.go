package cache

import (
	"fmt"
	"slices"
	"strings"

	"hftcore/internal/model"
	"hftcore/internal/og"
	"hftcore/pkg/exception"
)

// AddOrder caches a new order. positionID and clientID are optional routing
// hints recorded in the indices.
func (c *Cache) AddOrder(o *og.Order, positionID model.PositionID, clientID model.ClientID) error {
	if _, ok := c.orders[o.ClientOrderID]; ok {
		return fmt.Errorf("%w: %s", exception.ErrOrderAlreadyExists, o.ClientOrderID)
	}
	c.orders[o.ClientOrderID] = o
	c.indexOrder(o, positionID, clientID)
	c.persist("add order", func(db Database) error { return db.AddOrder(o) })
	return nil
}

func (c *Cache) indexOrder(o *og.Order, positionID model.PositionID, clientID model.ClientID) {
	ix := c.ix
	id := o.ClientOrderID
	ix.orders.add(id)
	addTo(ix.venueOrders, o.InstrumentID.Venue, id)
	addTo(ix.instrumentOrders, o.InstrumentID, id)
	addTo(ix.strategyOrders, o.StrategyID, id)
	addTo(ix.sideOrders, o.Side, id)
	ix.orderStrategy[id] = o.StrategyID
	ix.strategies.add(o.StrategyID)
	if !o.AccountID.IsZero() {
		addTo(ix.accountOrders, o.AccountID, id)
	}
	if !o.OrderListID.IsZero() {
		ix.orderList[id] = o.OrderListID
	}
	if !clientID.IsZero() {
		ix.orderClient[id] = clientID
	}
	if !o.VenueOrderID.IsZero() {
		ix.venueOrderIDs[o.VenueOrderID] = id
		ix.clientOrderIDs[id] = o.VenueOrderID
	}
	if positionID.IsZero() {
		positionID = o.PositionID
	}
	if !positionID.IsZero() {
		c.linkPosition(positionID, id, o.StrategyID)
	}
	c.refreshOrderSets(o)
}

// refreshOrderSets keeps exactly one of open/closed and the emulated and
// inflight subsets of open in step with the order status.
func (c *Cache) refreshOrderSets(o *og.Order) {
	ix := c.ix
	id := o.ClientOrderID
	if o.IsClosed() {
		ix.ordersOpen.del(id)
		ix.ordersClosed.add(id)
		ix.ordersEmulated.del(id)
		ix.ordersInflight.del(id)
		return
	}
	ix.ordersClosed.del(id)
	ix.ordersOpen.add(id)
	if o.IsEmulated() {
		ix.ordersEmulated.add(id)
	} else {
		ix.ordersEmulated.del(id)
	}
	if o.IsInflight() {
		ix.ordersInflight.add(id)
	} else {
		ix.ordersInflight.del(id)
	}
}

// UpdateOrder re-indexes an order after an event has been applied to it.
func (c *Cache) UpdateOrder(o *og.Order) error {
	cached, ok := c.orders[o.ClientOrderID]
	if !ok {
		return fmt.Errorf("%w: update of uncached order %s", exception.ErrInvariantViolation, o.ClientOrderID)
	}
	if cached != o {
		return fmt.Errorf("%w: update of order %s with a different instance", exception.ErrInvariantViolation, o.ClientOrderID)
	}
	ix := c.ix
	id := o.ClientOrderID
	if !o.AccountID.IsZero() {
		addTo(ix.accountOrders, o.AccountID, id)
	}
	if !o.VenueOrderID.IsZero() {
		if prev, ok := ix.clientOrderIDs[id]; ok && prev != o.VenueOrderID {
			delete(ix.venueOrderIDs, prev)
		}
		ix.venueOrderIDs[o.VenueOrderID] = id
		ix.clientOrderIDs[id] = o.VenueOrderID
	}
	if !o.PositionID.IsZero() {
		if _, ok := ix.orderPosition[id]; !ok {
			c.linkPosition(o.PositionID, id, o.StrategyID)
		}
	}
	c.refreshOrderSets(o)
	c.persist("update order", func(db Database) error { return db.UpdateOrder(o) })
	return nil
}

func (c *Cache) Order(id model.ClientOrderID) (*og.Order, bool) {
	o, ok := c.orders[id]
	return o, ok
}

func (c *Cache) OrderExists(id model.ClientOrderID) bool {
	_, ok := c.orders[id]
	return ok
}

// AddVenueOrderID indexes a venue order id. An existing mapping to another
// order is an error unless overwrite is set.
func (c *Cache) AddVenueOrderID(id model.ClientOrderID, venueID model.VenueOrderID, overwrite bool) error {
	if prev, ok := c.ix.venueOrderIDs[venueID]; ok && prev != id && !overwrite {
		return fmt.Errorf("%w: venue order id %s already maps to %s", exception.ErrDuplicateKey, venueID, prev)
	}
	c.ix.venueOrderIDs[venueID] = id
	c.ix.clientOrderIDs[id] = venueID
	return nil
}

func (c *Cache) ClientOrderID(venueID model.VenueOrderID) (model.ClientOrderID, bool) {
	id, ok := c.ix.venueOrderIDs[venueID]
	return id, ok
}

func (c *Cache) VenueOrderID(id model.ClientOrderID) (model.VenueOrderID, bool) {
	v, ok := c.ix.clientOrderIDs[id]
	return v, ok
}

func (c *Cache) ClientID(id model.ClientOrderID) (model.ClientID, bool) {
	v, ok := c.ix.orderClient[id]
	return v, ok
}

func (c *Cache) StrategyIDForOrder(id model.ClientOrderID) (model.StrategyID, bool) {
	v, ok := c.ix.orderStrategy[id]
	return v, ok
}

func (c *Cache) StrategyIDs() []model.StrategyID { return sorted(c.ix.strategies) }

func (c *Cache) ClientOrderIDs(f Filter) []model.ClientOrderID {
	return sorted(intersect(c.ix.orders, c.ix.orderFilters(f)...))
}

func (c *Cache) ClientOrderIDsOpen(f Filter) []model.ClientOrderID {
	return sorted(intersect(c.ix.ordersOpen, c.ix.orderFilters(f)...))
}

func (c *Cache) ClientOrderIDsClosed(f Filter) []model.ClientOrderID {
	return sorted(intersect(c.ix.ordersClosed, c.ix.orderFilters(f)...))
}

func (c *Cache) ClientOrderIDsEmulated(f Filter) []model.ClientOrderID {
	return sorted(intersect(c.ix.ordersEmulated, c.ix.orderFilters(f)...))
}

func (c *Cache) ClientOrderIDsInflight(f Filter) []model.ClientOrderID {
	return sorted(intersect(c.ix.ordersInflight, c.ix.orderFilters(f)...))
}

func (c *Cache) ordersFor(ids []model.ClientOrderID) []*og.Order {
	out := make([]*og.Order, 0, len(ids))
	for _, id := range ids {
		if o, ok := c.orders[id]; ok {
			out = append(out, o)
		}
	}
	return out
}

func (c *Cache) Orders(f Filter) []*og.Order         { return c.ordersFor(c.ClientOrderIDs(f)) }
func (c *Cache) OrdersOpen(f Filter) []*og.Order     { return c.ordersFor(c.ClientOrderIDsOpen(f)) }
func (c *Cache) OrdersClosed(f Filter) []*og.Order   { return c.ordersFor(c.ClientOrderIDsClosed(f)) }
func (c *Cache) OrdersEmulated(f Filter) []*og.Order { return c.ordersFor(c.ClientOrderIDsEmulated(f)) }
func (c *Cache) OrdersInflight(f Filter) []*og.Order { return c.ordersFor(c.ClientOrderIDsInflight(f)) }

func (c *Cache) OrdersOpenCount(f Filter) int {
	return len(intersect(c.ix.ordersOpen, c.ix.orderFilters(f)...))
}

func (c *Cache) OrdersClosedCount(f Filter) int {
	return len(intersect(c.ix.ordersClosed, c.ix.orderFilters(f)...))
}

func (c *Cache) OrdersEmulatedCount(f Filter) int {
	return len(intersect(c.ix.ordersEmulated, c.ix.orderFilters(f)...))
}

func (c *Cache) OrdersInflightCount(f Filter) int {
	return len(intersect(c.ix.ordersInflight, c.ix.orderFilters(f)...))
}

func (c *Cache) OrdersTotalCount(f Filter) int {
	return len(intersect(c.ix.orders, c.ix.orderFilters(f)...))
}

func (c *Cache) IsOrderOpen(id model.ClientOrderID) bool     { return c.ix.ordersOpen.has(id) }
func (c *Cache) IsOrderClosed(id model.ClientOrderID) bool   { return c.ix.ordersClosed.has(id) }
func (c *Cache) IsOrderEmulated(id model.ClientOrderID) bool { return c.ix.ordersEmulated.has(id) }
func (c *Cache) IsOrderInflight(id model.ClientOrderID) bool { return c.ix.ordersInflight.has(id) }

// OrdersForPosition lists every order linked to the position, sorted by id.
func (c *Cache) OrdersForPosition(id model.PositionID) []*og.Order {
	return c.ordersFor(sorted(c.ix.positionOrders[id]))
}

func (c *Cache) AddOrderList(l *og.OrderList) error {
	if _, ok := c.lists[l.ID]; ok {
		return fmt.Errorf("%w: order list %s", exception.ErrDuplicateKey, l.ID)
	}
	c.lists[l.ID] = l
	for _, o := range l.Orders {
		c.ix.orderList[o.ClientOrderID] = l.ID
	}
	return nil
}

func (c *Cache) OrderList(id model.OrderListID) (*og.OrderList, bool) {
	l, ok := c.lists[id]
	return l, ok
}

func (c *Cache) OrderListIDForOrder(id model.ClientOrderID) (model.OrderListID, bool) {
	v, ok := c.ix.orderList[id]
	return v, ok
}

// OrderLists filters on the first order of each list.
func (c *Cache) OrderLists(f Filter) []*og.OrderList {
	out := make([]*og.OrderList, 0, len(c.lists))
	for _, l := range c.lists {
		if !f.Venue.IsZero() && l.InstrumentID.Venue != f.Venue {
			continue
		}
		if !f.InstrumentID.IsZero() && l.InstrumentID != f.InstrumentID {
			continue
		}
		if !f.StrategyID.IsZero() && l.StrategyID != f.StrategyID {
			continue
		}
		out = append(out, l)
	}
	slices.SortFunc(out, func(a, b *og.OrderList) int { return strings.Compare(a.ID.String(), b.ID.String()) })
	return out
}
