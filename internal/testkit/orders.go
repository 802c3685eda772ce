package testkit

import (
	"hftcore/internal/model"
	"hftcore/internal/model/enum"
	"hftcore/internal/og"
)

// Fill builds a fill event for o without applying it.
func Fill(o *og.Order, qty, px, trade string, commission model.Money, ts model.UnixNanos) *og.OrderFilled {
	return &og.OrderFilled{
		EventBase:     og.BaseFor(o, ts),
		TradeID:       model.MustTradeID(trade),
		Side:          o.Side,
		Type:          o.Type,
		LastQty:       model.MustQuantity(qty),
		LastPx:        model.MustPrice(px),
		Currency:      commission.Currency,
		Commission:    commission,
		LiquiditySide: enum.LiquidityTaker,
	}
}

// Quote builds a quote with equal sizes on both sides.
func Quote(id model.InstrumentID, bid, ask, size string, ts model.UnixNanos) model.QuoteTick {
	return model.QuoteTick{
		InstrumentID: id,
		BidPrice:     model.MustPrice(bid),
		AskPrice:     model.MustPrice(ask),
		BidSize:      model.MustQuantity(size),
		AskSize:      model.MustQuantity(size),
		TsEvent:      ts,
		TsInit:       ts,
	}
}

func Trade(id model.InstrumentID, px, size string, aggressor enum.AggressorSide, trade string, ts model.UnixNanos) model.TradeTick {
	return model.TradeTick{
		InstrumentID:  id,
		Price:         model.MustPrice(px),
		Size:          model.MustQuantity(size),
		AggressorSide: aggressor,
		TradeID:       model.MustTradeID(trade),
		TsEvent:       ts,
		TsInit:        ts,
	}
}
