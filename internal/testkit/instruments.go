// Package testkit provides fixtures shared by package tests.
package testkit

import (
	"github.com/shopspring/decimal"

	"hftcore/internal/model"
	"hftcore/internal/model/enum"
)

var (
	SimVenue   = model.MustVenue("SIM")
	Trader     = model.MustTraderID("TRADER-001")
	Strategy   = model.MustStrategyID("S-001")
	SimAccount = model.MustAccountID("SIM-001")
	SimClient  = model.MustClientID("SIM")
)

// BTCUSDT is a linear spot pair with two price decimals and zero fees.
func BTCUSDT() *model.Instrument {
	return &model.Instrument{
		ID:             model.MustInstrumentID("BTCUSDT.SIM"),
		RawSymbol:      model.MustSymbol("BTCUSDT"),
		Class:          enum.InstrumentSpot,
		AssetClass:     enum.AssetCryptocurrency,
		BaseCurrency:   model.BTC,
		QuoteCurrency:  model.USDT,
		PricePrecision: 2,
		SizePrecision:  6,
		PriceIncrement: model.MustPrice("0.01"),
		SizeIncrement:  model.MustQuantity("0.000001"),
		Multiplier:     model.MustQuantity("1"),
		MarginInit:     decimal.Zero,
		MarginMaint:    decimal.Zero,
		MakerFee:       decimal.Zero,
		TakerFee:       decimal.Zero,
	}
}

// ETHUSDTPerp is a linear perpetual with maker/taker fees and margins.
func ETHUSDTPerp() *model.Instrument {
	return &model.Instrument{
		ID:                 model.MustInstrumentID("ETHUSDT-PERP.SIM"),
		RawSymbol:          model.MustSymbol("ETHUSDT"),
		Class:              enum.InstrumentSwap,
		AssetClass:         enum.AssetCryptocurrency,
		BaseCurrency:       model.ETH,
		QuoteCurrency:      model.USDT,
		SettlementCurrency: model.USDT,
		PricePrecision:     2,
		SizePrecision:      3,
		PriceIncrement:     model.MustPrice("0.01"),
		SizeIncrement:      model.MustQuantity("0.001"),
		Multiplier:         model.MustQuantity("1"),
		MinQuantity:        model.MustQuantity("0.001"),
		MaxQuantity:        model.MustQuantity("10000"),
		MarginInit:         decimal.RequireFromString("0.1"),
		MarginMaint:        decimal.RequireFromString("0.05"),
		MakerFee:           decimal.RequireFromString("0.0002"),
		TakerFee:           decimal.RequireFromString("0.0005"),
	}
}

// XBTUSDInverse is an inverse perpetual settled in BTC.
func XBTUSDInverse() *model.Instrument {
	return &model.Instrument{
		ID:             model.MustInstrumentID("XBTUSD.SIM"),
		RawSymbol:      model.MustSymbol("XBTUSD"),
		Class:          enum.InstrumentSwap,
		AssetClass:     enum.AssetCryptocurrency,
		BaseCurrency:   model.BTC,
		QuoteCurrency:  model.USD,
		IsInverse:      true,
		PricePrecision: 1,
		SizePrecision:  0,
		PriceIncrement: model.MustPrice("0.5"),
		SizeIncrement:  model.MustQuantity("1"),
		Multiplier:     model.MustQuantity("1"),
		MakerFee:       decimal.Zero,
		TakerFee:       decimal.Zero,
	}
}
