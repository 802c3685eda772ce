package model

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"hftcore/pkg/exception"
)

// Money is a signed fixed-point amount in a currency. Arithmetic across
// currencies is a programming error and panics.
type Money struct {
	Raw      int64
	Currency Currency
}

func NewMoney(value float64, c Currency) Money {
	m, err := MoneyFromDecimal(decimal.NewFromFloat(value), c)
	if err != nil {
		panic(err)
	}
	return m
}

// MoneyFromDecimal truncates toward zero at the currency precision.
func MoneyFromDecimal(d decimal.Decimal, c Currency) (Money, error) {
	raw, err := rawFromDecimal(d, c.Precision)
	if err != nil {
		return Money{}, err
	}
	return Money{Raw: raw, Currency: c}, nil
}

func ZeroMoney(c Currency) Money { return Money{Currency: c} }

// MoneyFromString parses "<amount> <code>".
func MoneyFromString(s string) (Money, error) {
	amount, code, ok := strings.Cut(strings.TrimSpace(s), " ")
	if !ok {
		return Money{}, fmt.Errorf("%w: money %q missing currency", exception.ErrInvalidArgument, s)
	}
	c, err := CurrencyFromString(code)
	if err != nil {
		return Money{}, err
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return Money{}, fmt.Errorf("%w: parse money %q: %v", exception.ErrInvalidArgument, s, err)
	}
	return MoneyFromDecimal(d, c)
}

func MustMoney(s string) Money {
	m, err := MoneyFromString(s)
	if err != nil {
		panic(err)
	}
	return m
}

func (m Money) mustMatch(o Money) {
	if m.Currency.Code != o.Currency.Code {
		panic(fmt.Errorf("%w: currency mismatch %s != %s", exception.ErrInvariantViolation, m.Currency.Code, o.Currency.Code))
	}
}

func (m Money) Add(o Money) Money {
	m.mustMatch(o)
	return Money{Raw: m.Raw + o.Raw, Currency: m.Currency}
}

func (m Money) Sub(o Money) Money {
	m.mustMatch(o)
	return Money{Raw: m.Raw - o.Raw, Currency: m.Currency}
}

func (m Money) Neg() Money { return Money{Raw: -m.Raw, Currency: m.Currency} }

func (m Money) Cmp(o Money) int {
	m.mustMatch(o)
	return cmpRaw(m.Raw, o.Raw)
}

func (m Money) IsZero() bool             { return m.Raw == 0 }
func (m Money) IsNegative() bool         { return m.Raw < 0 }
func (m Money) Decimal() decimal.Decimal { return rawDecimal(m.Raw) }
func (m Money) Float64() float64         { return float64(m.Raw) / float64(FixedScalar) }

func (m Money) Amount() string { return formatRaw(m.Raw, m.Currency.Precision) }

func (m Money) String() string { return m.Amount() + " " + m.Currency.Code }

func (m Money) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *Money) UnmarshalText(b []byte) error {
	v, err := MoneyFromString(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}
