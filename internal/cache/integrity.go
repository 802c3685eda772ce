package cache

import (
	"time"

	"github.com/yanun0323/logs"

	"hftcore/internal/model"
	"hftcore/internal/model/enum"
)

// CheckIntegrity verifies that every cached order and position is reachable
// through its indices and that order status sets are consistent. Failures are
// logged; the result is false when any check fails.
func (c *Cache) CheckIntegrity() bool {
	ok := true
	fail := func(format string, args ...any) {
		ok = false
		logs.Errorf("[Cache] integrity: "+format, args...)
	}
	ix := c.ix

	for id, o := range c.orders {
		if !ix.orders.has(id) {
			fail("order %s missing from index", id)
		}
		if !ix.venueOrders[o.InstrumentID.Venue].has(id) {
			fail("order %s missing from venue %s", id, o.InstrumentID.Venue)
		}
		if !ix.instrumentOrders[o.InstrumentID].has(id) {
			fail("order %s missing from instrument %s", id, o.InstrumentID)
		}
		if !ix.strategyOrders[o.StrategyID].has(id) {
			fail("order %s missing from strategy %s", id, o.StrategyID)
		}
		if !o.AccountID.IsZero() && !ix.accountOrders[o.AccountID].has(id) {
			fail("order %s missing from account %s", id, o.AccountID)
		}
		open, closed := ix.ordersOpen.has(id), ix.ordersClosed.has(id)
		if open == closed {
			fail("order %s open=%t closed=%t", id, open, closed)
		}
		if open != o.IsOpen() {
			fail("order %s open set %t but status %s", id, open, o.Status)
		}
		if ix.ordersEmulated.has(id) && !open {
			fail("emulated order %s not open", id)
		}
		if ix.ordersInflight.has(id) && !open {
			fail("inflight order %s not open", id)
		}
		if ix.ordersEmulated.has(id) != (open && o.IsEmulated()) {
			fail("order %s emulated set out of step with status %s", id, o.Status)
		}
		if ix.ordersInflight.has(id) != (open && o.IsInflight()) {
			fail("order %s inflight set out of step with status %s", id, o.Status)
		}
	}
	for id := range ix.orders {
		if _, exists := c.orders[id]; !exists {
			fail("indexed order %s not cached", id)
		}
	}

	for id, p := range c.positions {
		if !ix.positions.has(id) {
			fail("position %s missing from index", id)
		}
		if !ix.instrumentPositions[p.InstrumentID].has(id) {
			fail("position %s missing from instrument %s", id, p.InstrumentID)
		}
		if !ix.strategyPositions[p.StrategyID].has(id) {
			fail("position %s missing from strategy %s", id, p.StrategyID)
		}
		open, closed := ix.positionsOpen.has(id), ix.positionsClosed.has(id)
		if open == closed || open != p.IsOpen() {
			fail("position %s open=%t closed=%t side %s", id, open, closed, p.Side)
		}
	}
	for id := range ix.positions {
		if _, exists := c.positions[id]; !exists {
			fail("indexed position %s not cached", id)
		}
	}

	for venue, id := range ix.venueAccount {
		if _, exists := c.accounts[id]; !exists {
			fail("venue %s maps to uncached account %s", venue, id)
		}
	}
	return ok
}

// CheckResiduals logs open orders and positions and reports whether any remain.
func (c *Cache) CheckResiduals() bool {
	residual := false
	for _, o := range c.OrdersOpen(Filter{}) {
		residual = true
		logs.Warnf("[Cache] residual order %s, status %s", o.ClientOrderID, o.Status)
	}
	for _, p := range c.PositionsOpen(Filter{}, enum.PositionSideNone) {
		residual = true
		logs.Warnf("[Cache] residual position %s, side %s, qty %s", p.ID, p.Side, p.Quantity)
	}
	return residual
}

// PurgeClosedOrders drops orders closed for longer than buffer as of ts.
// Orders linked to an open position are kept.
func (c *Cache) PurgeClosedOrders(ts model.UnixNanos, buffer time.Duration) int {
	n := 0
	for _, id := range sorted(c.ix.ordersClosed) {
		o := c.orders[id]
		if o == nil || o.TsClosed+model.UnixNanos(buffer) > ts {
			continue
		}
		if pid, ok := c.ix.orderPosition[id]; ok && c.ix.positionsOpen.has(pid) {
			continue
		}
		c.PurgeOrder(id)
		n++
	}
	if n > 0 {
		logs.Infof("[Cache] purged %d closed orders", n)
	}
	return n
}

// PurgeOrder removes an order and every index entry for it.
func (c *Cache) PurgeOrder(id model.ClientOrderID) {
	o, ok := c.orders[id]
	if !ok {
		return
	}
	ix := c.ix
	delete(c.orders, id)
	ix.orders.del(id)
	ix.ordersOpen.del(id)
	ix.ordersClosed.del(id)
	ix.ordersEmulated.del(id)
	ix.ordersInflight.del(id)
	delFrom(ix.venueOrders, o.InstrumentID.Venue, id)
	delFrom(ix.instrumentOrders, o.InstrumentID, id)
	delFrom(ix.strategyOrders, o.StrategyID, id)
	delFrom(ix.sideOrders, o.Side, id)
	if !o.AccountID.IsZero() {
		delFrom(ix.accountOrders, o.AccountID, id)
	}
	if pid, ok := ix.orderPosition[id]; ok {
		delFrom(ix.positionOrders, pid, id)
		delete(ix.orderPosition, id)
	}
	if v, ok := ix.clientOrderIDs[id]; ok {
		delete(ix.venueOrderIDs, v)
		delete(ix.clientOrderIDs, id)
	}
	delete(ix.orderStrategy, id)
	delete(ix.orderClient, id)
	delete(ix.orderList, id)
	c.persist("delete order", func(db Database) error { return db.DeleteOrder(id) })
}

// PurgeClosedPositions drops positions closed for longer than buffer as of ts.
func (c *Cache) PurgeClosedPositions(ts model.UnixNanos, buffer time.Duration) int {
	n := 0
	for _, id := range sorted(c.ix.positionsClosed) {
		p := c.positions[id]
		if p == nil || p.TsClosed+model.UnixNanos(buffer) > ts {
			continue
		}
		c.PurgePosition(id)
		n++
	}
	if n > 0 {
		logs.Infof("[Cache] purged %d closed positions", n)
	}
	return n
}

func (c *Cache) PurgePosition(id model.PositionID) {
	p, ok := c.positions[id]
	if !ok {
		return
	}
	ix := c.ix
	delete(c.positions, id)
	delete(c.snapshots, id)
	ix.positions.del(id)
	ix.positionsOpen.del(id)
	ix.positionsClosed.del(id)
	delFrom(ix.venuePositions, p.InstrumentID.Venue, id)
	delFrom(ix.instrumentPositions, p.InstrumentID, id)
	delFrom(ix.strategyPositions, p.StrategyID, id)
	delFrom(ix.accountPositions, p.AccountID, id)
	for oid := range ix.positionOrders[id] {
		delete(ix.orderPosition, oid)
	}
	delete(ix.positionOrders, id)
	delete(ix.positionStrategy, id)
	c.persist("delete position", func(db Database) error { return db.DeletePosition(id) })
}
