package og

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hftcore/internal/model"
	"hftcore/internal/model/enum"
	"hftcore/pkg/exception"
)

var (
	testInstrument = model.MustInstrumentID("BTCUSDT.SIM")
	testTrader     = model.MustTraderID("TRADER-001")
	testStrategy   = model.MustStrategyID("S-001")
)

func newTestFactory(ts *model.UnixNanos) *Factory {
	return NewFactory(testTrader, testStrategy, func() model.UnixNanos { return *ts })
}

func newLimit(t *testing.T) *Order {
	t.Helper()
	ts := model.UnixNanos(1)
	o, err := newTestFactory(&ts).Limit(testInstrument, enum.OrderSideBuy, model.MustQuantity("10"), model.MustPrice("50"))
	require.NoError(t, err)
	return o
}

func fill(o *Order, qty, px string, trade string, ts model.UnixNanos) *OrderFilled {
	return &OrderFilled{
		EventBase:     BaseFor(o, ts),
		TradeID:       model.MustTradeID(trade),
		Side:          o.Side,
		Type:          o.Type,
		LastQty:       model.MustQuantity(qty),
		LastPx:        model.MustPrice(px),
		Currency:      model.USDT,
		Commission:    model.MustMoney("0.1 USDT"),
		LiquiditySide: enum.LiquidityMaker,
	}
}

func TestCanTransition(t *testing.T) {
	testCases := []struct {
		from, to enum.OrderStatus
		ok       bool
	}{
		{enum.OrderStatusInitialized, enum.OrderStatusSubmitted, true},
		{enum.OrderStatusInitialized, enum.OrderStatusAccepted, false},
		{enum.OrderStatusEmulated, enum.OrderStatusReleased, true},
		{enum.OrderStatusReleased, enum.OrderStatusCanceled, false},
		{enum.OrderStatusSubmitted, enum.OrderStatusFilled, true},
		{enum.OrderStatusAccepted, enum.OrderStatusRejected, false},
		{enum.OrderStatusPendingCancel, enum.OrderStatusTriggered, false},
		{enum.OrderStatusPartiallyFilled, enum.OrderStatusPartiallyFilled, true},
		{enum.OrderStatusFilled, enum.OrderStatusCanceled, false},
	}
	for _, tc := range testCases {
		t.Run(tc.from.String()+"->"+tc.to.String(), func(t *testing.T) {
			assert.Equal(t, tc.ok, CanTransition(tc.from, tc.to))
		})
	}
}

func TestOrderLifecycle(t *testing.T) {
	o := newLimit(t)
	require.Equal(t, enum.OrderStatusInitialized, o.Status)

	require.NoError(t, o.Apply(&OrderSubmitted{EventBase: BaseFor(o, 2)}))
	accepted := &OrderAccepted{EventBase: BaseFor(o, 3)}
	accepted.VenueOrderID = model.MustVenueOrderID("V-1")
	require.NoError(t, o.Apply(accepted))
	require.Equal(t, "V-1", o.VenueOrderID.String())

	require.NoError(t, o.Apply(fill(o, "4", "50", "T-1", 4)))
	assert.Equal(t, enum.OrderStatusPartiallyFilled, o.Status)
	assert.Equal(t, "4", o.FilledQty.String())
	assert.Equal(t, "6", o.LeavesQty.String())

	require.NoError(t, o.Apply(fill(o, "6", "48", "T-2", 5)))
	assert.Equal(t, enum.OrderStatusFilled, o.Status)
	assert.True(t, o.LeavesQty.IsZero())
	assert.Equal(t, "48.8", o.AvgPx.String())
	assert.Equal(t, "0.20000000 USDT", o.Commissions()[0].String())
	assert.Equal(t, model.UnixNanos(5), o.TsClosed)
	assert.Equal(t, 5, o.EventCount())

	err := o.Apply(&OrderCanceled{EventBase: BaseFor(o, 6)})
	require.ErrorIs(t, err, exception.ErrInvalidTransition)
	assert.Equal(t, enum.OrderStatusFilled, o.Status)
	assert.Equal(t, 5, o.EventCount())
}

func TestOrderQuantityConservation(t *testing.T) {
	o := newLimit(t)
	require.NoError(t, o.Apply(&OrderSubmitted{EventBase: BaseFor(o, 2)}))
	for i, q := range []string{"1", "2", "3"} {
		require.NoError(t, o.Apply(fill(o, q, "50", "T-"+q, model.UnixNanos(3+i))))
		assert.Equal(t, o.Quantity.Raw, o.FilledQty.Raw+o.LeavesQty.Raw)
	}
}

func TestOrderRejectsOverfillAndDuplicates(t *testing.T) {
	o := newLimit(t)
	require.NoError(t, o.Apply(&OrderSubmitted{EventBase: BaseFor(o, 2)}))

	require.ErrorIs(t, o.Apply(fill(o, "11", "50", "T-1", 3)), ErrOverfill)
	require.NoError(t, o.Apply(fill(o, "1", "50", "T-1", 3)))
	require.ErrorIs(t, o.Apply(fill(o, "1", "50", "T-1", 4)), exception.ErrDuplicateKey)
	assert.Equal(t, "1", o.FilledQty.String())
}

func TestOrderErrorKinds(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind error
	}{
		{"transition", ErrInvalidTransition, exception.ErrInvalidTransition},
		{"overfill", ErrOverfill, exception.ErrInvalidArgument},
		{"duplicate fill", ErrDuplicateFill, exception.ErrDuplicateKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("%w: O-1", tt.err)
			assert.True(t, errors.Is(wrapped, tt.err))
			assert.True(t, errors.Is(wrapped, tt.kind))
		})
	}
}

func TestOrderRejectsBackwardTimestamps(t *testing.T) {
	o := newLimit(t)
	require.NoError(t, o.Apply(&OrderSubmitted{EventBase: BaseFor(o, 5)}))
	err := o.Apply(&OrderAccepted{EventBase: BaseFor(o, 4)})
	require.ErrorIs(t, err, exception.ErrInvalidArgument)
	assert.Equal(t, enum.OrderStatusSubmitted, o.Status)
}

func TestPendingStatesRestore(t *testing.T) {
	o := newLimit(t)
	require.NoError(t, o.Apply(&OrderSubmitted{EventBase: BaseFor(o, 2)}))
	require.NoError(t, o.Apply(&OrderAccepted{EventBase: BaseFor(o, 3)}))

	require.NoError(t, o.Apply(&OrderPendingUpdate{EventBase: BaseFor(o, 4)}))
	require.NoError(t, o.Apply(&OrderModifyRejected{EventBase: BaseFor(o, 5), Reason: "no"}))
	assert.Equal(t, enum.OrderStatusAccepted, o.Status)

	require.NoError(t, o.Apply(&OrderPendingUpdate{EventBase: BaseFor(o, 6)}))
	px := model.MustPrice("51")
	require.NoError(t, o.Apply(&OrderUpdated{EventBase: BaseFor(o, 7), Quantity: model.MustQuantity("12"), Price: &px}))
	assert.Equal(t, enum.OrderStatusAccepted, o.Status)
	assert.Equal(t, "12", o.LeavesQty.String())
	assert.Equal(t, "51", o.Price.String())

	require.NoError(t, o.Apply(&OrderPendingCancel{EventBase: BaseFor(o, 8)}))
	require.NoError(t, o.Apply(&OrderCancelRejected{EventBase: BaseFor(o, 9), Reason: "too late"}))
	assert.Equal(t, enum.OrderStatusAccepted, o.Status)

	// pending update from Submitted cannot return to Submitted
	o2 := newLimit(t)
	require.NoError(t, o2.Apply(&OrderSubmitted{EventBase: BaseFor(o2, 2)}))
	require.NoError(t, o2.Apply(&OrderPendingUpdate{EventBase: BaseFor(o2, 3)}))
	require.NoError(t, o2.Apply(&OrderModifyRejected{EventBase: BaseFor(o2, 4)}))
	assert.Equal(t, enum.OrderStatusAccepted, o2.Status)
}

func TestEmulatedRelease(t *testing.T) {
	ts := model.UnixNanos(1)
	f := newTestFactory(&ts)
	o, err := f.New(Params{
		InstrumentID:     testInstrument,
		Side:             enum.OrderSideSell,
		Type:             enum.OrderTypeStopLimit,
		Quantity:         model.MustQuantity("1"),
		Price:            model.PricePtr(model.MustPrice("99")),
		TriggerPrice:     model.PricePtr(model.MustPrice("100")),
		EmulationTrigger: enum.TriggerTypeBidAsk,
	})
	require.NoError(t, err)
	assert.True(t, o.IsEmulated())

	require.NoError(t, o.Apply(&OrderEmulated{EventBase: BaseFor(o, 2)}))
	o.Transform(enum.OrderTypeLimit, nil)
	require.NoError(t, o.Apply(&OrderReleased{EventBase: BaseFor(o, 3), ReleasedPrice: model.MustPrice("100")}))
	assert.False(t, o.IsEmulated())
	assert.Equal(t, enum.OrderTypeLimit, o.Type)
	assert.Equal(t, "99", o.Price.String())
	assert.Equal(t, "100", o.ReleasedPrice.String())
	require.NoError(t, o.Apply(&OrderSubmitted{EventBase: BaseFor(o, 4)}))
}

func TestNewOrderValidation(t *testing.T) {
	ts := model.UnixNanos(1)
	f := newTestFactory(&ts)
	_, err := f.New(Params{InstrumentID: testInstrument, Side: enum.OrderSideBuy, Type: enum.OrderTypeLimit, Quantity: model.MustQuantity("1")})
	require.ErrorIs(t, err, exception.ErrInvalidArgument)

	_, err = f.New(Params{InstrumentID: testInstrument, Side: enum.OrderSideBuy, Type: enum.OrderTypeMarket})
	require.ErrorIs(t, err, exception.ErrInvalidArgument)
}

func TestFactoryBracket(t *testing.T) {
	ts := model.UnixNanos(1_700_000_000_000_000_000)
	f := newTestFactory(&ts)
	list, err := f.Bracket(Params{
		InstrumentID: testInstrument,
		Side:         enum.OrderSideBuy,
		Type:         enum.OrderTypeLimit,
		Quantity:     model.MustQuantity("2"),
		Price:        model.PricePtr(model.MustPrice("100")),
	}, model.MustPrice("110"), model.MustPrice("90"), enum.TriggerTypeDefault)
	require.NoError(t, err)
	require.Len(t, list.Orders, 3)

	entry, tp, sl := list.Orders[0], list.Orders[1], list.Orders[2]
	assert.Equal(t, "O-20231114-221320-001-001-1", entry.ClientOrderID.String())
	assert.Equal(t, enum.ContingencyOTO, entry.ContingencyType)
	assert.Equal(t, []model.ClientOrderID{tp.ClientOrderID, sl.ClientOrderID}, entry.LinkedOrderIDs)
	assert.Equal(t, entry.ClientOrderID, tp.ParentOrderID)
	assert.Equal(t, enum.ContingencyOUO, sl.ContingencyType)
	assert.Equal(t, enum.OrderSideSell, sl.Side)
	assert.True(t, sl.ReduceOnly)
	assert.Equal(t, list.ID, sl.OrderListID)
}
