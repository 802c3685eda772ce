package model

import (
	"fmt"
	"strings"
	"sync"

	"hftcore/internal/model/enum"
	"hftcore/pkg/exception"
)

type Currency struct {
	Code      string
	Precision uint8
	ISO4217   uint16
	Name      string
	Type      enum.CurrencyType
}

func (c Currency) IsZero() bool { return c.Code == "" }

func (c Currency) String() string { return c.Code }

func (c Currency) MarshalText() ([]byte, error) { return []byte(c.Code), nil }

func (c *Currency) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*c = Currency{}
		return nil
	}
	v, err := CurrencyFromString(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

var (
	USD  = Currency{Code: "USD", Precision: 2, ISO4217: 840, Name: "United States dollar", Type: enum.CurrencyFiat}
	EUR  = Currency{Code: "EUR", Precision: 2, ISO4217: 978, Name: "Euro", Type: enum.CurrencyFiat}
	GBP  = Currency{Code: "GBP", Precision: 2, ISO4217: 826, Name: "British pound", Type: enum.CurrencyFiat}
	JPY  = Currency{Code: "JPY", Precision: 0, ISO4217: 392, Name: "Japanese yen", Type: enum.CurrencyFiat}
	USDT = Currency{Code: "USDT", Precision: 8, Name: "Tether", Type: enum.CurrencyCrypto}
	USDC = Currency{Code: "USDC", Precision: 8, Name: "USD Coin", Type: enum.CurrencyCrypto}
	BTC  = Currency{Code: "BTC", Precision: 8, Name: "Bitcoin", Type: enum.CurrencyCrypto}
	ETH  = Currency{Code: "ETH", Precision: 8, Name: "Ether", Type: enum.CurrencyCrypto}
	SOL  = Currency{Code: "SOL", Precision: 8, Name: "Solana", Type: enum.CurrencyCrypto}
	BNB  = Currency{Code: "BNB", Precision: 8, Name: "Binance Coin", Type: enum.CurrencyCrypto}
)

var currencies = struct {
	sync.RWMutex
	m map[string]Currency
}{m: map[string]Currency{}}

func init() {
	for _, c := range []Currency{USD, EUR, GBP, JPY, USDT, USDC, BTC, ETH, SOL, BNB} {
		currencies.m[c.Code] = c
	}
}

// RegisterCurrency adds or replaces a currency in the process wide registry.
func RegisterCurrency(c Currency) error {
	if c.Code == "" {
		return fmt.Errorf("%w: currency code is empty", exception.ErrInvalidArgument)
	}
	if err := checkPrecision(c.Precision); err != nil {
		return err
	}
	currencies.Lock()
	currencies.m[strings.ToUpper(c.Code)] = c
	currencies.Unlock()
	return nil
}

func CurrencyFromString(code string) (Currency, error) {
	currencies.RLock()
	c, ok := currencies.m[strings.ToUpper(code)]
	currencies.RUnlock()
	if !ok {
		return Currency{}, fmt.Errorf("%w: unknown currency %q", exception.ErrInvalidArgument, code)
	}
	return c, nil
}
