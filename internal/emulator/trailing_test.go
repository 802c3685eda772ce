package emulator

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hftcore/internal/model"
	"hftcore/internal/model/enum"
	"hftcore/internal/og"
	"hftcore/internal/testkit"
	"hftcore/pkg/exception"
)

var tick = model.MustPrice("0.01")

func trailingOrder(t *testing.T, typ enum.OrderType, side enum.OrderSide, trigger enum.TriggerType,
	offsetType enum.TrailingOffsetType, offset string, initial, price *model.Price, limitOffset string) *og.Order {
	t.Helper()
	p := og.Params{
		InstrumentID:       testkit.BTCUSDT().ID,
		Side:               side,
		Type:               typ,
		Quantity:           model.MustQuantity("1"),
		TriggerPrice:       initial,
		Price:              price,
		TriggerType:        trigger,
		TrailingOffset:     decimal.RequireFromString(offset),
		TrailingOffsetType: offsetType,
	}
	if limitOffset != "" {
		p.LimitOffset = decimal.RequireFromString(limitOffset)
	}
	o, err := og.NewFactory(testkit.Trader, testkit.Strategy, func() model.UnixNanos { return 1 }).New(p)
	require.NoError(t, err)
	return o
}

func str(p *model.Price) string {
	if p == nil {
		return ""
	}
	return p.String()
}

func TestTrailingStopMarket(t *testing.T) {
	testCases := []struct {
		desc        string
		side        enum.OrderSide
		trigger     enum.TriggerType
		offsetType  enum.TrailingOffsetType
		offset      string
		initial     string
		bid, ask    string
		last        string
		wantTrigger string
	}{
		{desc: "buy last above trigger minus offset", side: enum.OrderSideBuy, trigger: enum.TriggerTypeLastPrice,
			offsetType: enum.TrailingOffsetPrice, offset: "1", initial: "100.00", last: "99.00"},
		{desc: "buy last falls", side: enum.OrderSideBuy, trigger: enum.TriggerTypeLastPrice,
			offsetType: enum.TrailingOffsetPrice, offset: "1", initial: "100.00", last: "98.00", wantTrigger: "99.00"},
		{desc: "sell last below", side: enum.OrderSideSell, trigger: enum.TriggerTypeLastPrice,
			offsetType: enum.TrailingOffsetPrice, offset: "1", initial: "100.00", last: "101.00"},
		{desc: "sell last rises", side: enum.OrderSideSell, trigger: enum.TriggerTypeLastPrice,
			offsetType: enum.TrailingOffsetPrice, offset: "1", initial: "100.00", last: "102.00", wantTrigger: "101.00"},
		{desc: "buy 50 basis points", side: enum.OrderSideBuy, trigger: enum.TriggerTypeLastPrice,
			offsetType: enum.TrailingOffsetBasisPoints, offset: "50", initial: "100.00", last: "98.00", wantTrigger: "98.49"},
		{desc: "sell 100 basis points", side: enum.OrderSideSell, trigger: enum.TriggerTypeLastPrice,
			offsetType: enum.TrailingOffsetBasisPoints, offset: "100", initial: "100.00", last: "103.00", wantTrigger: "101.97"},
		{desc: "buy ticks on ask", side: enum.OrderSideBuy, trigger: enum.TriggerTypeBidAsk,
			offsetType: enum.TrailingOffsetTicks, offset: "10", initial: "100.00", bid: "98.00", ask: "98.10", wantTrigger: "98.20"},
		{desc: "sell on bid", side: enum.OrderSideSell, trigger: enum.TriggerTypeBidAsk,
			offsetType: enum.TrailingOffsetPrice, offset: "1", initial: "100.00", bid: "102.00", ask: "102.10", wantTrigger: "101.00"},
		{desc: "last or bid ask prefers last", side: enum.OrderSideBuy, trigger: enum.TriggerTypeLastOrBidAsk,
			offsetType: enum.TrailingOffsetPrice, offset: "1", initial: "100.00", bid: "97.00", ask: "98.00", last: "98.00", wantTrigger: "99.00"},
		{desc: "last or bid ask uses tighter last", side: enum.OrderSideBuy, trigger: enum.TriggerTypeLastOrBidAsk,
			offsetType: enum.TrailingOffsetPrice, offset: "1", initial: "100.00", bid: "96.00", ask: "99.00", last: "97.00", wantTrigger: "98.00"},
		{desc: "sell last or bid ask uses bid", side: enum.OrderSideSell, trigger: enum.TriggerTypeLastOrBidAsk,
			offsetType: enum.TrailingOffsetPrice, offset: "1", initial: "100.00", bid: "103.00", ask: "104.00", last: "101.00", wantTrigger: "102.00"},
	}
	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			o := trailingOrder(t, enum.OrderTypeTrailingStopMarket, tc.side, tc.trigger, tc.offsetType, tc.offset,
				px(tc.initial), nil, "")
			ref := References{}
			if tc.bid != "" {
				ref.Bid, ref.Ask = px(tc.bid), px(tc.ask)
			}
			if tc.last != "" {
				ref.Last = px(tc.last)
			}
			trigger, limit, err := TrailingStopCalculate(tick, o, ref)
			require.NoError(t, err)
			assert.Equal(t, tc.wantTrigger, str(trigger))
			assert.Nil(t, limit)
		})
	}
}

func TestTrailingStopLimitMovesBoth(t *testing.T) {
	testCases := []struct {
		desc                   string
		side                   enum.OrderSide
		offsetType             enum.TrailingOffsetType
		offset, limitOffset    string
		initial, price, last   string
		wantTrigger, wantLimit string
	}{
		{desc: "buy price offsets", side: enum.OrderSideBuy, offsetType: enum.TrailingOffsetPrice, offset: "1", limitOffset: "0.5",
			initial: "105.00", price: "104.50", last: "100.00", wantTrigger: "101.00", wantLimit: "100.50"},
		{desc: "sell price offsets", side: enum.OrderSideSell, offsetType: enum.TrailingOffsetPrice, offset: "1", limitOffset: "0.5",
			initial: "95.00", price: "95.50", last: "100.00", wantTrigger: "99.00", wantLimit: "99.50"},
		{desc: "buy basis points", side: enum.OrderSideBuy, offsetType: enum.TrailingOffsetBasisPoints, offset: "50", limitOffset: "25",
			initial: "110.00", price: "109.50", last: "98.00", wantTrigger: "98.49", wantLimit: "98.25"},
	}
	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			o := trailingOrder(t, enum.OrderTypeTrailingStopLimit, tc.side, enum.TriggerTypeLastPrice, tc.offsetType, tc.offset,
				px(tc.initial), px(tc.price), tc.limitOffset)
			trigger, limit, err := TrailingStopCalculate(tick, o, References{Last: px(tc.last)})
			require.NoError(t, err)
			assert.Equal(t, tc.wantTrigger, str(trigger))
			assert.Equal(t, tc.wantLimit, str(limit))
		})
	}
}

func TestTrailingStopCalculateErrors(t *testing.T) {
	t.Run("not trailing", func(t *testing.T) {
		o, err := og.NewFactory(testkit.Trader, testkit.Strategy, func() model.UnixNanos { return 1 }).
			StopMarket(testkit.BTCUSDT().ID, enum.OrderSideBuy, model.MustQuantity("1"), model.MustPrice("100.00"))
		require.NoError(t, err)
		_, _, err = TrailingStopCalculate(tick, o, References{Last: px("100.00")})
		assert.ErrorIs(t, err, exception.ErrInvalidArgument)
	})
	t.Run("missing last", func(t *testing.T) {
		o := trailingOrder(t, enum.OrderTypeTrailingStopMarket, enum.OrderSideBuy, enum.TriggerTypeLastPrice,
			enum.TrailingOffsetPrice, "1", nil, nil, "")
		_, _, err := TrailingStopCalculate(tick, o, References{Bid: px("1.00"), Ask: px("1.01")})
		assert.ErrorIs(t, err, exception.ErrInvalidArgument)
	})
	t.Run("missing bid ask", func(t *testing.T) {
		o := trailingOrder(t, enum.OrderTypeTrailingStopMarket, enum.OrderSideSell, enum.TriggerTypeBidAsk,
			enum.TrailingOffsetPrice, "1", nil, nil, "")
		_, _, err := TrailingStopCalculate(tick, o, References{Last: px("1.00")})
		assert.ErrorIs(t, err, exception.ErrInvalidArgument)
	})
	t.Run("unsupported trigger", func(t *testing.T) {
		o := trailingOrder(t, enum.OrderTypeTrailingStopMarket, enum.OrderSideSell, enum.TriggerTypeIndexPrice,
			enum.TrailingOffsetPrice, "1", nil, nil, "")
		_, _, err := TrailingStopCalculate(tick, o, References{Last: px("1.00")})
		assert.ErrorIs(t, err, exception.ErrInvalidArgument)
	})
	t.Run("first calculation sets trigger", func(t *testing.T) {
		o := trailingOrder(t, enum.OrderTypeTrailingStopMarket, enum.OrderSideSell, enum.TriggerTypeLastPrice,
			enum.TrailingOffsetPrice, "1", nil, nil, "")
		trigger, _, err := TrailingStopCalculate(tick, o, References{Last: px("50.00")})
		require.NoError(t, err)
		assert.Equal(t, "49.00", str(trigger))
	})
}
