package cache

import (
	"fmt"

	"github.com/yanun0323/logs"

	"hftcore/internal/model"
	"hftcore/internal/model/enum"
	"hftcore/internal/state"
	"hftcore/pkg/exception"
)

func (c *Cache) linkPosition(pid model.PositionID, id model.ClientOrderID, strategy model.StrategyID) {
	c.ix.orderPosition[id] = pid
	addTo(c.ix.positionOrders, pid, id)
	if !strategy.IsZero() {
		c.ix.positionStrategy[pid] = strategy
	}
}

// AddPositionID links an order to a position before the position exists.
func (c *Cache) AddPositionID(pid model.PositionID, venue model.Venue, id model.ClientOrderID, strategy model.StrategyID) {
	c.linkPosition(pid, id, strategy)
	addTo(c.ix.venuePositions, venue, pid)
}

// AddPosition caches a new position. Under netting a closed position
// reopened with the same id is snapshotted and replaced.
func (c *Cache) AddPosition(p *state.Position, oms enum.OmsType) error {
	if prev, ok := c.positions[p.ID]; ok {
		if oms != enum.OmsNetting || prev.IsOpen() || prev == p {
			return fmt.Errorf("%w: position %s", exception.ErrDuplicateKey, p.ID)
		}
		c.SnapshotPosition(prev)
	}
	c.positions[p.ID] = p
	c.indexPosition(p)
	c.persist("add position", func(db Database) error { return db.AddPosition(p) })
	return nil
}

func (c *Cache) indexPosition(p *state.Position) {
	ix := c.ix
	ix.positions.add(p.ID)
	addTo(ix.venuePositions, p.InstrumentID.Venue, p.ID)
	addTo(ix.instrumentPositions, p.InstrumentID, p.ID)
	addTo(ix.strategyPositions, p.StrategyID, p.ID)
	addTo(ix.accountPositions, p.AccountID, p.ID)
	ix.positionStrategy[p.ID] = p.StrategyID
	ix.strategies.add(p.StrategyID)
	for _, f := range p.Fills() {
		c.linkPosition(p.ID, f.ClientOrderID, p.StrategyID)
	}
	c.refreshPositionSets(p)
}

func (c *Cache) refreshPositionSets(p *state.Position) {
	if p.IsOpen() {
		c.ix.positionsClosed.del(p.ID)
		c.ix.positionsOpen.add(p.ID)
		return
	}
	c.ix.positionsOpen.del(p.ID)
	c.ix.positionsClosed.add(p.ID)
}

func (c *Cache) UpdatePosition(p *state.Position) error {
	if _, ok := c.positions[p.ID]; !ok {
		return fmt.Errorf("%w: update of uncached position %s", exception.ErrInvariantViolation, p.ID)
	}
	c.positions[p.ID] = p
	c.refreshPositionSets(p)
	c.persist("update position", func(db Database) error { return db.UpdatePosition(p) })
	return nil
}

// SnapshotPosition keeps a closed netting position before its id is reused.
func (c *Cache) SnapshotPosition(p *state.Position) {
	c.snapshots[p.ID] = append(c.snapshots[p.ID], p)
	logs.Debugf("[Cache] snapshot position %s, fills %d", p.ID, p.FillCount())
}

func (c *Cache) PositionSnapshots(id model.PositionID) []*state.Position {
	return append([]*state.Position(nil), c.snapshots[id]...)
}

func (c *Cache) Position(id model.PositionID) (*state.Position, bool) {
	p, ok := c.positions[id]
	return p, ok
}

func (c *Cache) PositionExists(id model.PositionID) bool {
	_, ok := c.positions[id]
	return ok
}

// PositionID is the position linked to the order, if any.
func (c *Cache) PositionID(id model.ClientOrderID) (model.PositionID, bool) {
	pid, ok := c.ix.orderPosition[id]
	return pid, ok
}

func (c *Cache) PositionForOrder(id model.ClientOrderID) (*state.Position, bool) {
	pid, ok := c.ix.orderPosition[id]
	if !ok {
		return nil, false
	}
	return c.Position(pid)
}

func (c *Cache) StrategyIDForPosition(id model.PositionID) (model.StrategyID, bool) {
	v, ok := c.ix.positionStrategy[id]
	return v, ok
}

func (c *Cache) PositionIDs(f Filter) []model.PositionID {
	return sorted(intersect(c.ix.positions, c.ix.positionFilters(f)...))
}

func (c *Cache) PositionIDsOpen(f Filter) []model.PositionID {
	return sorted(intersect(c.ix.positionsOpen, c.ix.positionFilters(f)...))
}

func (c *Cache) PositionIDsClosed(f Filter) []model.PositionID {
	return sorted(intersect(c.ix.positionsClosed, c.ix.positionFilters(f)...))
}

func (c *Cache) positionsFor(ids []model.PositionID, side enum.PositionSide) []*state.Position {
	out := make([]*state.Position, 0, len(ids))
	for _, id := range ids {
		p, ok := c.positions[id]
		if !ok {
			continue
		}
		if side != enum.PositionSideNone && p.Side != side {
			continue
		}
		out = append(out, p)
	}
	return out
}

func (c *Cache) Positions(f Filter) []*state.Position {
	return c.positionsFor(c.PositionIDs(f), enum.PositionSideNone)
}

// PositionsOpen optionally narrows by side; PositionSideNone matches any.
func (c *Cache) PositionsOpen(f Filter, side enum.PositionSide) []*state.Position {
	return c.positionsFor(c.PositionIDsOpen(f), side)
}

func (c *Cache) PositionsClosed(f Filter) []*state.Position {
	return c.positionsFor(c.PositionIDsClosed(f), enum.PositionSideNone)
}

func (c *Cache) PositionsOpenCount(f Filter) int {
	return len(intersect(c.ix.positionsOpen, c.ix.positionFilters(f)...))
}

func (c *Cache) PositionsClosedCount(f Filter) int {
	return len(intersect(c.ix.positionsClosed, c.ix.positionFilters(f)...))
}

func (c *Cache) PositionsTotalCount(f Filter) int {
	return len(intersect(c.ix.positions, c.ix.positionFilters(f)...))
}

func (c *Cache) IsPositionOpen(id model.PositionID) bool   { return c.ix.positionsOpen.has(id) }
func (c *Cache) IsPositionClosed(id model.PositionID) bool { return c.ix.positionsClosed.has(id) }

// NettingPosition finds the open position for the instrument, account and
// strategy tuple.
func (c *Cache) NettingPosition(inst model.InstrumentID, account model.AccountID, strategy model.StrategyID) (*state.Position, bool) {
	ps := c.PositionsOpen(Filter{InstrumentID: inst, AccountID: account, StrategyID: strategy}, enum.PositionSideNone)
	if len(ps) == 0 {
		return nil, false
	}
	return ps[0], true
}
