// Package contingency keeps OTO, OCO and OUO order groups consistent as their
// members fill, close or change size.
package contingency

import (
	"cmp"
	"slices"

	"github.com/yanun0323/logs"

	"hftcore/internal/cache"
	"hftcore/internal/command"
	"hftcore/internal/model"
	"hftcore/internal/model/enum"
	"hftcore/internal/og"
)

// Router carries out what the manager decides. Commands go back through the
// execution engine, which forwards emulated orders to the emulator. Events
// are for orders that never left this process.
type Router interface {
	Execute(cmd command.TradingCommand) error
	Apply(ev og.OrderEvent) error
}

// Manager must only be used from the runner goroutine.
type Manager struct {
	cache  *cache.Cache
	now    func() model.UnixNanos
	router Router

	// activateOnPartialFill releases OTO children on the parent's first fill
	// instead of waiting for the parent to fill completely.
	activateOnPartialFill bool

	held map[model.ClientOrderID]*command.SubmitOrder
}

func NewManager(c *cache.Cache, now func() model.UnixNanos, r Router, activateOnPartialFill bool) *Manager {
	return &Manager{
		cache:                 c,
		now:                   now,
		router:                r,
		activateOnPartialFill: activateOnPartialFill,
		held:                  map[model.ClientOrderID]*command.SubmitOrder{},
	}
}

// SetRouter replaces the router. Used when the router is built after the manager.
func (m *Manager) SetRouter(r Router) { m.router = r }

// ShouldHold reports whether o waits on an OTO parent that has not triggered it yet.
func (m *Manager) ShouldHold(o *og.Order) bool {
	if o.ParentOrderID.IsZero() {
		return false
	}
	parent, ok := m.cache.Order(o.ParentOrderID)
	if !ok || parent.ContingencyType != enum.ContingencyOTO {
		return false
	}
	return !m.triggered(parent)
}

func (m *Manager) triggered(parent *og.Order) bool {
	if m.activateOnPartialFill {
		return parent.FilledQty.IsPositive()
	}
	return parent.Status == enum.OrderStatusFilled
}

// Hold parks cmd until its parent fills.
func (m *Manager) Hold(cmd *command.SubmitOrder) {
	m.held[cmd.Order.ClientOrderID] = cmd
	logs.Debugf("[Contingency] holding %s for parent %s", cmd.Order.ClientOrderID, cmd.Order.ParentOrderID)
}

func (m *Manager) IsHeld(id model.ClientOrderID) bool {
	_, ok := m.held[id]
	return ok
}

// Held returns the ids of held orders in id order.
func (m *Manager) Held() []model.ClientOrderID {
	ids := make([]model.ClientOrderID, 0, len(m.held))
	for id := range m.held {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b model.ClientOrderID) int { return cmp.Compare(a.String(), b.String()) })
	return ids
}

func (m *Manager) Reset() { clear(m.held) }

// HandleEvent reacts to ev after it has been applied to its order and cached.
func (m *Manager) HandleEvent(ev og.OrderEvent) {
	o, ok := m.cache.Order(ev.Header().ClientOrderID)
	if !ok {
		return
	}
	if o.IsClosed() {
		delete(m.held, o.ClientOrderID)
	}
	if !o.IsContingent() {
		return
	}
	switch ev.(type) {
	case *og.OrderFilled:
		m.onFill(o)
	case *og.OrderRejected, *og.OrderCanceled, *og.OrderExpired, *og.OrderDenied:
		m.onClosed(o)
	case *og.OrderUpdated:
		m.onUpdated(o)
	}
}

func (m *Manager) linked(o *og.Order) []*og.Order {
	out := make([]*og.Order, 0, len(o.LinkedOrderIDs))
	for _, id := range o.LinkedOrderIDs {
		child, ok := m.cache.Order(id)
		if !ok {
			logs.Warnf("[Contingency] %s links unknown order %s", o.ClientOrderID, id)
			continue
		}
		out = append(out, child)
	}
	return out
}

func (m *Manager) onFill(o *og.Order) {
	switch o.ContingencyType {
	case enum.ContingencyOTO:
		if m.triggered(o) {
			m.activate(o)
		}
	case enum.ContingencyOCO:
		m.cancelLinked(o, "OCO")
	case enum.ContingencyOUO:
		m.syncOUO(o)
	}
}

func (m *Manager) onClosed(o *og.Order) {
	switch o.ContingencyType {
	case enum.ContingencyOTO:
		if o.FilledQty.IsPositive() {
			m.activate(o)
			return
		}
		m.cancelLinked(o, "OTO parent "+o.Status.String())
	case enum.ContingencyOCO:
		m.cancelLinked(o, "OCO")
	case enum.ContingencyOUO:
		m.cancelLinked(o, "OUO")
	}
}

// onUpdated follows a quantity change of an OTO parent or OCO member.
func (m *Manager) onUpdated(o *og.Order) {
	if o.ContingencyType != enum.ContingencyOTO && o.ContingencyType != enum.ContingencyOCO {
		return
	}
	for _, other := range m.linked(o) {
		if other.IsOpen() {
			m.modifyQuantity(other, o.Quantity)
		}
	}
}

// activate sizes each OTO child to the parent's filled quantity and submits
// the ones still held.
func (m *Manager) activate(parent *og.Order) {
	target := parent.FilledQty
	for _, child := range m.linked(parent) {
		if child.IsClosed() {
			continue
		}
		m.modifyQuantity(child, target.WithPrecision(child.Quantity.Precision))
		cmd, ok := m.held[child.ClientOrderID]
		if !ok {
			continue
		}
		delete(m.held, child.ClientOrderID)
		logs.Infof("[Contingency] releasing %s after %s filled %s", child.ClientOrderID, parent.ClientOrderID, target)
		if err := m.router.Execute(cmd); err != nil {
			logs.Errorf("[Contingency] submit %s: %+v", child.ClientOrderID, err)
		}
	}
}

// syncOUO cancels the siblings of a closed OUO member, or leaves them with the
// same remaining quantity as the member.
func (m *Manager) syncOUO(o *og.Order) {
	if o.IsClosed() {
		m.cancelLinked(o, "OUO")
		return
	}
	for _, other := range m.linked(o) {
		if other.IsClosed() {
			continue
		}
		target := other.FilledQty.Add(o.LeavesQty.WithPrecision(other.Quantity.Precision))
		m.modifyQuantity(other, target)
	}
}

func (m *Manager) cancelLinked(o *og.Order, reason string) {
	for _, other := range m.linked(o) {
		m.cancel(other, reason)
	}
}

func (m *Manager) cancel(o *og.Order, reason string) {
	if o.IsClosed() {
		return
	}
	ts := m.now()
	if _, ok := m.held[o.ClientOrderID]; ok {
		delete(m.held, o.ClientOrderID)
		m.apply(&og.OrderDenied{EventBase: og.BaseFor(o, ts), Reason: "contingent " + reason})
		return
	}
	switch o.Status {
	case enum.OrderStatusInitialized, enum.OrderStatusReleased:
		// not at any venue yet and Canceled is unreachable from here
		m.apply(&og.OrderDenied{EventBase: og.BaseFor(o, ts), Reason: "contingent " + reason})
	case enum.OrderStatusPendingCancel:
	default:
		if err := m.router.Execute(command.NewCancelOrder(o, ts)); err != nil {
			logs.Errorf("[Contingency] cancel %s: %+v", o.ClientOrderID, err)
		}
	}
}

func (m *Manager) modifyQuantity(o *og.Order, qty model.Quantity) {
	if qty.Equal(o.Quantity) {
		return
	}
	if !qty.IsPositive() || qty.LessThan(o.FilledQty) {
		logs.Warnf("[Contingency] not resizing %s to %s: filled %s", o.ClientOrderID, qty, o.FilledQty)
		return
	}
	ts := m.now()
	if o.Status == enum.OrderStatusInitialized || o.Status == enum.OrderStatusReleased {
		m.apply(&og.OrderUpdated{EventBase: og.BaseFor(o, ts), Quantity: qty})
		return
	}
	cmd := &command.ModifyOrder{
		Base:          command.NewBase(o.TraderID, o.StrategyID, o.InstrumentID, ts),
		ClientOrderID: o.ClientOrderID,
		VenueOrderID:  o.VenueOrderID,
		Quantity:      &qty,
	}
	if err := m.router.Execute(cmd); err != nil {
		logs.Errorf("[Contingency] modify %s: %+v", o.ClientOrderID, err)
	}
}

func (m *Manager) apply(ev og.OrderEvent) {
	if err := m.router.Apply(ev); err != nil {
		logs.Errorf("[Contingency] apply %T to %s: %+v", ev, ev.Header().ClientOrderID, err)
	}
}
