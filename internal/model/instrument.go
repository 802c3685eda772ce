package model

import (
	"fmt"

	"github.com/shopspring/decimal"

	"hftcore/internal/model/enum"
	"hftcore/pkg/exception"
)

// Instrument is a tradable contract definition. Zero values mean "not set"
// for the optional limits.
type Instrument struct {
	ID                 InstrumentID         `json:"id"`
	RawSymbol          Symbol               `json:"raw_symbol"`
	Class              enum.InstrumentClass `json:"class"`
	AssetClass         enum.AssetClass      `json:"asset_class"`
	BaseCurrency       Currency             `json:"base_currency"`
	QuoteCurrency      Currency             `json:"quote_currency"`
	SettlementCurrency Currency             `json:"settlement_currency"`
	IsInverse          bool                 `json:"is_inverse"`
	PricePrecision     uint8                `json:"price_precision"`
	SizePrecision      uint8                `json:"size_precision"`
	PriceIncrement     Price                `json:"price_increment"`
	SizeIncrement      Quantity             `json:"size_increment"`
	Multiplier         Quantity             `json:"multiplier"`
	LotSize            Quantity             `json:"lot_size"`
	MaxQuantity        Quantity             `json:"max_quantity"`
	MinQuantity        Quantity             `json:"min_quantity"`
	MaxNotional        decimal.Decimal      `json:"max_notional"`
	MinNotional        decimal.Decimal      `json:"min_notional"`
	MaxPrice           Price                `json:"max_price"`
	MinPrice           Price                `json:"min_price"`
	MarginInit         decimal.Decimal      `json:"margin_init"`
	MarginMaint        decimal.Decimal      `json:"margin_maint"`
	MakerFee           decimal.Decimal      `json:"maker_fee"`
	TakerFee           decimal.Decimal      `json:"taker_fee"`
	Activation         UnixNanos            `json:"activation"`
	Expiration         UnixNanos            `json:"expiration"`
	Underlying         string               `json:"underlying,omitempty"`
	StrikePrice        Price                `json:"strike_price"`
	TsEvent            UnixNanos            `json:"ts_event"`
	TsInit             UnixNanos            `json:"ts_init"`
}

func (i *Instrument) Instrument() InstrumentID { return i.ID }
func (i *Instrument) EventTs() UnixNanos       { return i.TsEvent }
func (i *Instrument) InitTs() UnixNanos        { return i.TsInit }

// Validate checks structural consistency of the definition.
func (i *Instrument) Validate() error {
	if i.ID.IsZero() {
		return fmt.Errorf("%w: instrument id is empty", exception.ErrInvalidArgument)
	}
	if i.QuoteCurrency.IsZero() {
		return fmt.Errorf("%w: %s quote currency is empty", exception.ErrInvalidArgument, i.ID)
	}
	if err := checkPrecision(i.PricePrecision); err != nil {
		return err
	}
	if err := checkPrecision(i.SizePrecision); err != nil {
		return err
	}
	if !i.PriceIncrement.IsPositive() {
		return fmt.Errorf("%w: %s price increment must be positive", exception.ErrInvalidArgument, i.ID)
	}
	if !i.SizeIncrement.IsPositive() {
		return fmt.Errorf("%w: %s size increment must be positive", exception.ErrInvalidArgument, i.ID)
	}
	if i.IsInverse && i.BaseCurrency.IsZero() {
		return fmt.Errorf("%w: %s inverse instrument needs a base currency", exception.ErrInvalidArgument, i.ID)
	}
	return nil
}

// CostCurrency is the currency notional and P&L are expressed in.
func (i *Instrument) CostCurrency() Currency {
	if i.IsInverse {
		return i.BaseCurrency
	}
	if !i.SettlementCurrency.IsZero() {
		return i.SettlementCurrency
	}
	return i.QuoteCurrency
}

func (i *Instrument) multiplier() decimal.Decimal {
	if i.Multiplier.IsZero() {
		return decimal.NewFromInt(1)
	}
	return i.Multiplier.Decimal()
}

// MakePrice truncates toward zero to the price increment.
func (i *Instrument) MakePrice(d decimal.Decimal) Price {
	inc := i.PriceIncrement.Decimal()
	if inc.IsZero() {
		p, _ := PriceFromDecimal(d, i.PricePrecision)
		return p
	}
	p, _ := PriceFromDecimal(d.Div(inc).Truncate(0).Mul(inc), i.PricePrecision)
	return p
}

// MakeQty truncates toward zero to the size increment.
func (i *Instrument) MakeQty(d decimal.Decimal) Quantity {
	inc := i.SizeIncrement.Decimal()
	if inc.IsZero() {
		q, _ := QuantityFromDecimal(d.Abs(), i.SizePrecision)
		return q
	}
	q, _ := QuantityFromDecimal(d.Abs().Div(inc).Truncate(0).Mul(inc), i.SizePrecision)
	return q
}

func (i *Instrument) IsValidPrice(p Price) bool {
	if p.Precision > i.PricePrecision || i.PriceIncrement.Raw == 0 {
		return p.Precision <= i.PricePrecision
	}
	return p.Raw%i.PriceIncrement.Raw == 0
}

func (i *Instrument) IsValidQuantity(q Quantity) bool {
	if q.Precision > i.SizePrecision || i.SizeIncrement.Raw == 0 {
		return q.Precision <= i.SizePrecision
	}
	return q.Raw%i.SizeIncrement.Raw == 0
}

// NotionalValue is qty * multiplier * price, or qty * multiplier / price for inverse.
func (i *Instrument) NotionalValue(qty Quantity, px Price) Money {
	var d decimal.Decimal
	if i.IsInverse {
		if px.IsZero() {
			return ZeroMoney(i.CostCurrency())
		}
		d = qty.Decimal().Mul(i.multiplier()).Div(px.Decimal())
	} else {
		d = qty.Decimal().Mul(i.multiplier()).Mul(px.Decimal())
	}
	m, _ := MoneyFromDecimal(d, i.CostCurrency())
	return m
}

// Commission charges the maker or taker fee on notional.
func (i *Instrument) Commission(qty Quantity, px Price, liquidity enum.LiquiditySide) Money {
	fee := i.TakerFee
	if liquidity == enum.LiquidityMaker {
		fee = i.MakerFee
	}
	notional := i.NotionalValue(qty, px)
	m, _ := MoneyFromDecimal(notional.Decimal().Mul(fee), notional.Currency)
	return m
}
