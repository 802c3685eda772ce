package codec_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hftcore/internal/clock"
	"hftcore/internal/codec"
	"hftcore/internal/model"
	"hftcore/internal/model/enum"
	"hftcore/internal/og"
	"hftcore/internal/state"
	"hftcore/internal/testkit"
)

var allOptions = []codec.Options{
	{Timestamps: codec.TimestampNanos, Numerics: codec.NumericString},
	{Timestamps: codec.TimestampISO8601, Numerics: codec.NumericString},
	{Timestamps: codec.TimestampNanos, Numerics: codec.NumericRaw},
	{Timestamps: codec.TimestampISO8601, Numerics: codec.NumericRaw},
}

func sampleEvents(t *testing.T) []any {
	t.Helper()
	inst := testkit.BTCUSDT()
	f := og.NewFactory(testkit.Trader, testkit.Strategy, func() model.UnixNanos { return 1_700_000_000_000_000_000 })
	o, err := f.Limit(inst.ID, enum.OrderSideBuy, model.MustQuantity("10"), model.MustPrice("50.00"))
	require.NoError(t, err)
	o.AccountID = testkit.SimAccount
	ts := model.UnixNanos(1_700_000_000_000_000_123)
	base := og.BaseFor(o, ts)
	venueBase := base
	venueBase.VenueOrderID = model.MustVenueOrderID("V-1")

	fill := testkit.Fill(o, "4", "49.00", "T-1", model.MustMoney("0.20000000 USDT"), ts)
	fill.PositionID = model.MustPositionID("P-1")
	fill.VenueOrderID = venueBase.VenueOrderID

	require.NoError(t, o.Apply(&og.OrderSubmitted{EventBase: base}))
	require.NoError(t, o.Apply(&og.OrderAccepted{EventBase: venueBase}))
	require.NoError(t, o.Apply(fill))
	pos, err := state.NewPosition(inst, fill)
	require.NoError(t, err)

	return []any{
		o.InitEvent(),
		&og.OrderDenied{EventBase: base, Reason: "no balance"},
		&og.OrderEmulated{EventBase: base},
		&og.OrderReleased{EventBase: base, ReleasedPrice: model.MustPrice("49.50")},
		&og.OrderSubmitted{EventBase: base},
		&og.OrderAccepted{EventBase: venueBase},
		&og.OrderRejected{EventBase: base, Reason: "post only", DueToPostOnly: true},
		&og.OrderCanceled{EventBase: venueBase},
		&og.OrderExpired{EventBase: venueBase},
		&og.OrderTriggered{EventBase: venueBase},
		&og.OrderPendingUpdate{EventBase: venueBase},
		&og.OrderPendingCancel{EventBase: venueBase},
		&og.OrderModifyRejected{EventBase: venueBase, Reason: "too late"},
		&og.OrderCancelRejected{EventBase: venueBase, Reason: "too late"},
		&og.OrderUpdated{EventBase: venueBase, Quantity: model.MustQuantity("8"), Price: model.PricePtr(model.MustPrice("51.00"))},
		fill,
		state.NewPositionOpened(pos, fill, ts),
		state.NewPositionChanged(pos, fill, ts),
		state.NewPositionClosed(pos, fill, ts),
		testkit.CashState(testkit.SimAccount, model.MustMoney("1000.00000000 USDT"), model.MustMoney("1.00000000 BTC")),
		testkit.Quote(inst.ID, "100.00", "100.10", "1.0", 1000),
		testkit.Trade(inst.ID, "100.05", "0.5", enum.AggressorBuyer, "T-9", 1001),
		model.Bar{
			BarType: model.MustBarType("BTCUSDT.SIM-1-MINUTE-LAST-EXTERNAL"),
			Open:    model.MustPrice("10"), High: model.MustPrice("12"), Low: model.MustPrice("10"), Close: model.MustPrice("12"),
			Volume: model.MustQuantity("2"), TsEvent: 60_000_000_000, TsInit: 60_000_000_001,
		},
		model.OrderBookDelta{
			InstrumentID: inst.ID, Action: enum.BookActionAdd,
			Order: model.BookOrder{Side: enum.OrderSideBuy, Price: model.MustPrice("100"), Size: model.MustQuantity("5"), OrderID: 1},
			Flags: model.FlagLast, Sequence: 3, TsEvent: 10, TsInit: 11,
		},
		model.NewOrderBookDeltas(inst.ID, []model.OrderBookDelta{model.NewClearDelta(inst.ID, 1, 5, 6)}),
		clock.TimeEvent{Name: "bar-timer", EventID: model.NewUUID4(), TsEvent: 60, TsInit: 61},
	}
}

func TestRoundTripEveryEvent(t *testing.T) {
	events := sampleEvents(t)
	for _, opts := range allOptions {
		c := codec.New(opts)
		for _, ev := range events {
			typ, err := codec.TypeOf(ev)
			require.NoError(t, err)
			t.Run(typ.String(), func(t *testing.T) {
				b, err := c.Encode(nil, ev)
				require.NoError(t, err)

				got, err := c.Decode(b)
				require.NoError(t, err)
				gotType, err := codec.TypeOf(got)
				require.NoError(t, err)
				assert.Equal(t, typ, gotType)

				again, err := c.Encode(nil, got)
				require.NoError(t, err)
				assert.JSONEq(t, string(b), string(again))

				peek, err := c.DecodeType(b)
				require.NoError(t, err)
				assert.Equal(t, typ, peek)
			})
		}
	}
}

func TestRoundTripPreservesValues(t *testing.T) {
	events := sampleEvents(t)
	c := codec.New(codec.Options{Timestamps: codec.TimestampISO8601, Numerics: codec.NumericRaw})

	fill := events[15].(*og.OrderFilled)
	b, err := c.Encode(nil, fill)
	require.NoError(t, err)
	got, err := c.Decode(b)
	require.NoError(t, err)
	assert.Equal(t, fill, got)

	quote := events[20].(model.QuoteTick)
	b, err = c.Encode(nil, quote)
	require.NoError(t, err)
	got, err = c.Decode(b)
	require.NoError(t, err)
	assert.Equal(t, quote, got)

	updated := events[14].(*og.OrderUpdated)
	b, err = c.Encode(nil, updated)
	require.NoError(t, err)
	got, err = c.Decode(b)
	require.NoError(t, err)
	assert.Equal(t, updated, got)
}

func TestPayloadShape(t *testing.T) {
	quote := testkit.Quote(model.MustInstrumentID("BTCUSDT.SIM"), "100.00", "100.10", "1.0", 1000)

	b, err := codec.New(codec.Options{}).Encode(nil, quote)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"QuoteTick","version":1,"payload":{
		"instrument_id":"BTCUSDT.SIM","bid_price":"100.00","ask_price":"100.10",
		"bid_size":"1.0","ask_size":"1.0","ts_event":1000,"ts_init":1000}}`, string(b))

	b, err = codec.New(codec.Options{Timestamps: codec.TimestampISO8601, Numerics: codec.NumericRaw}).Encode(nil, quote)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"bid_price":[100000000000,2]`)
	assert.Contains(t, string(b), `"ts_event":"1970-01-01T00:00:00.000001000Z"`)
}

func TestPlainStructs(t *testing.T) {
	c := codec.New(codec.Options{})
	_, isMarshaler := any(c).(json.Marshaler)
	assert.False(t, isMarshaler)

	b, err := c.Marshal(map[string]int{"b": 2, "a": 1})
	require.NoError(t, err)
	assert.Equal(t, `{"a":1,"b":2}`, string(b))

	var got map[string]int
	require.NoError(t, c.Unmarshal(b, &got))
	assert.Equal(t, map[string]int{"a": 1, "b": 2}, got)
}

func TestDecodeErrors(t *testing.T) {
	c := codec.New(codec.Options{})
	_, err := c.Decode([]byte(`{"type":"Nope","version":1,"payload":{}}`))
	require.Error(t, err)
	_, err = c.Decode([]byte(`{"type":"QuoteTick","version":99,"payload":{}}`))
	require.Error(t, err)
	_, err = c.Encode(nil, struct{}{})
	require.Error(t, err)
	_, err = codec.TypeOf(42)
	require.Error(t, err)
}
