package codec

import (
	"fmt"
	"reflect"

	"hftcore/internal/clock"
	"hftcore/internal/model"
	"hftcore/internal/og"
	"hftcore/internal/schema"
	"hftcore/internal/state"
	"hftcore/pkg/exception"
)

type typed interface {
	EventType() schema.EventType
}

// factories build a zero value for each event type. Pointer results are
// decoded in place; value results are dereferenced before returning.
var factories = map[schema.EventType]func() any{
	schema.EventOrderInitialized:    func() any { return &og.OrderInitialized{} },
	schema.EventOrderDenied:         func() any { return &og.OrderDenied{} },
	schema.EventOrderEmulated:       func() any { return &og.OrderEmulated{} },
	schema.EventOrderReleased:       func() any { return &og.OrderReleased{} },
	schema.EventOrderSubmitted:      func() any { return &og.OrderSubmitted{} },
	schema.EventOrderAccepted:       func() any { return &og.OrderAccepted{} },
	schema.EventOrderRejected:       func() any { return &og.OrderRejected{} },
	schema.EventOrderCanceled:       func() any { return &og.OrderCanceled{} },
	schema.EventOrderExpired:        func() any { return &og.OrderExpired{} },
	schema.EventOrderTriggered:      func() any { return &og.OrderTriggered{} },
	schema.EventOrderPendingUpdate:  func() any { return &og.OrderPendingUpdate{} },
	schema.EventOrderPendingCancel:  func() any { return &og.OrderPendingCancel{} },
	schema.EventOrderModifyRejected: func() any { return &og.OrderModifyRejected{} },
	schema.EventOrderCancelRejected: func() any { return &og.OrderCancelRejected{} },
	schema.EventOrderUpdated:        func() any { return &og.OrderUpdated{} },
	schema.EventOrderFilled:         func() any { return &og.OrderFilled{} },
	schema.EventPositionOpened:      func() any { return &state.PositionOpened{} },
	schema.EventPositionChanged:     func() any { return &state.PositionChanged{} },
	schema.EventPositionClosed:      func() any { return &state.PositionClosed{} },
	schema.EventAccountState:        func() any { return &state.AccountState{} },
	schema.EventQuoteTick:           func() any { return &model.QuoteTick{} },
	schema.EventTradeTick:           func() any { return &model.TradeTick{} },
	schema.EventBar:                 func() any { return &model.Bar{} },
	schema.EventOrderBookDelta:      func() any { return &model.OrderBookDelta{} },
	schema.EventOrderBookDeltas:     func() any { return &model.OrderBookDeltas{} },
	schema.EventTimeEvent:           func() any { return &clock.TimeEvent{} },
}

var byValue = map[schema.EventType]bool{
	schema.EventQuoteTick:       true,
	schema.EventTradeTick:       true,
	schema.EventBar:             true,
	schema.EventOrderBookDelta:  true,
	schema.EventOrderBookDeltas: true,
	schema.EventTimeEvent:       true,
}

// TypeOf returns the wire type of a supported event.
func TypeOf(v any) (schema.EventType, error) {
	switch x := v.(type) {
	case typed:
		return x.EventType(), nil
	case model.QuoteTick, *model.QuoteTick:
		return schema.EventQuoteTick, nil
	case model.TradeTick, *model.TradeTick:
		return schema.EventTradeTick, nil
	case model.Bar, *model.Bar:
		return schema.EventBar, nil
	case model.OrderBookDelta, *model.OrderBookDelta:
		return schema.EventOrderBookDelta, nil
	case model.OrderBookDeltas, *model.OrderBookDeltas:
		return schema.EventOrderBookDeltas, nil
	case clock.TimeEvent, *clock.TimeEvent:
		return schema.EventTimeEvent, nil
	}
	return schema.EventUnknown, fmt.Errorf("%w: no wire type for %T", exception.ErrInvalidArgument, v)
}

func (c *Codec) encodePayload(v any) (map[string]any, error) {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, fmt.Errorf("%w: nil %T", exception.ErrInvalidArgument, v)
		}
		rv = rv.Elem()
	}
	out := map[string]any{}
	if err := c.encodeStruct(rv, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Codec) decodePayload(t schema.EventType, payload map[string]any) (any, error) {
	factory, ok := factories[t]
	if !ok {
		return nil, fmt.Errorf("%w: no decoder for %s", exception.ErrInvalidArgument, t)
	}
	v := factory()
	rv := reflect.ValueOf(v).Elem()
	if err := c.decodeStruct(payload, rv); err != nil {
		return nil, fmt.Errorf("decode %s: %w", t, err)
	}
	if byValue[t] {
		return rv.Interface(), nil
	}
	return v, nil
}
