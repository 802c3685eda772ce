package og

import (
	"fmt"

	"hftcore/internal/model/enum"
	"hftcore/pkg/exception"
)

var (
	ErrInvalidTransition = fmt.Errorf("%w: order", exception.ErrInvalidTransition)
	ErrOverfill          = fmt.Errorf("%w: order: fill exceeds leaves quantity", exception.ErrInvalidArgument)
	ErrDuplicateFill     = fmt.Errorf("%w: order: trade id already applied", exception.ErrDuplicateKey)
)

type statusSet map[enum.OrderStatus]struct{}

func set(s ...enum.OrderStatus) statusSet {
	m := make(statusSet, len(s))
	for _, v := range s {
		m[v] = struct{}{}
	}
	return m
}

var transitions = map[enum.OrderStatus]statusSet{
	enum.OrderStatusInitialized: set(enum.OrderStatusDenied, enum.OrderStatusEmulated, enum.OrderStatusReleased,
		enum.OrderStatusSubmitted),
	enum.OrderStatusEmulated: set(enum.OrderStatusReleased, enum.OrderStatusCanceled, enum.OrderStatusDenied),
	enum.OrderStatusReleased: set(enum.OrderStatusSubmitted, enum.OrderStatusDenied),
	enum.OrderStatusSubmitted: set(enum.OrderStatusAccepted, enum.OrderStatusRejected, enum.OrderStatusCanceled,
		enum.OrderStatusExpired, enum.OrderStatusPendingUpdate, enum.OrderStatusPendingCancel,
		enum.OrderStatusPartiallyFilled, enum.OrderStatusFilled),
	enum.OrderStatusAccepted: set(enum.OrderStatusPendingUpdate, enum.OrderStatusPendingCancel, enum.OrderStatusTriggered,
		enum.OrderStatusCanceled, enum.OrderStatusExpired, enum.OrderStatusPartiallyFilled, enum.OrderStatusFilled),
	enum.OrderStatusTriggered: set(enum.OrderStatusPendingUpdate, enum.OrderStatusPendingCancel, enum.OrderStatusCanceled,
		enum.OrderStatusExpired, enum.OrderStatusPartiallyFilled, enum.OrderStatusFilled),
	enum.OrderStatusPendingUpdate: set(enum.OrderStatusAccepted, enum.OrderStatusTriggered, enum.OrderStatusCanceled,
		enum.OrderStatusExpired, enum.OrderStatusPartiallyFilled, enum.OrderStatusFilled),
	enum.OrderStatusPendingCancel: set(enum.OrderStatusAccepted, enum.OrderStatusCanceled, enum.OrderStatusExpired,
		enum.OrderStatusPartiallyFilled, enum.OrderStatusFilled),
	enum.OrderStatusPartiallyFilled: set(enum.OrderStatusPartiallyFilled, enum.OrderStatusFilled,
		enum.OrderStatusPendingUpdate, enum.OrderStatusPendingCancel, enum.OrderStatusCanceled, enum.OrderStatusExpired),
}

// CanTransition reports whether from -> to is a legal status change.
func CanTransition(from, to enum.OrderStatus) bool {
	_, ok := transitions[from][to]
	return ok
}

// nextStatus resolves the status an event moves the order to.
func (o *Order) nextStatus(ev OrderEvent) (enum.OrderStatus, error) {
	var target enum.OrderStatus
	switch e := ev.(type) {
	case *OrderDenied:
		target = enum.OrderStatusDenied
	case *OrderEmulated:
		target = enum.OrderStatusEmulated
	case *OrderReleased:
		target = enum.OrderStatusReleased
	case *OrderSubmitted:
		target = enum.OrderStatusSubmitted
	case *OrderAccepted:
		target = enum.OrderStatusAccepted
	case *OrderRejected:
		target = enum.OrderStatusRejected
	case *OrderCanceled:
		target = enum.OrderStatusCanceled
	case *OrderExpired:
		target = enum.OrderStatusExpired
	case *OrderTriggered:
		target = enum.OrderStatusTriggered
	case *OrderPendingUpdate:
		target = enum.OrderStatusPendingUpdate
	case *OrderPendingCancel:
		target = enum.OrderStatusPendingCancel
	case *OrderModifyRejected:
		if o.Status != enum.OrderStatusPendingUpdate {
			return o.Status, nil
		}
		return o.restoreStatus(), nil
	case *OrderCancelRejected:
		if o.Status != enum.OrderStatusPendingCancel {
			return o.Status, nil
		}
		return o.restoreStatus(), nil
	case *OrderUpdated:
		if o.Status != enum.OrderStatusPendingUpdate {
			return o.Status, nil
		}
		return o.restoreStatus(), nil
	case *OrderFilled:
		if e.LastQty.GreaterOrEqual(o.LeavesQty) {
			target = enum.OrderStatusFilled
		} else {
			target = enum.OrderStatusPartiallyFilled
		}
	default:
		return o.Status, fmt.Errorf("%w: unexpected event %T", ErrInvalidTransition, ev)
	}

	if !CanTransition(o.Status, target) {
		return o.Status, fmt.Errorf("%w: %s: %s -> %s", ErrInvalidTransition, o.ClientOrderID, o.Status, target)
	}
	return target, nil
}

// restoreStatus leaves a pending state after a reject or update. The previous
// status is used when the table allows it, Accepted otherwise.
func (o *Order) restoreStatus() enum.OrderStatus {
	if CanTransition(o.Status, o.previousStatus) {
		return o.previousStatus
	}
	return enum.OrderStatusAccepted
}
