package model

import (
	"fmt"
	"math"
	"strconv"

	"github.com/shopspring/decimal"

	"hftcore/pkg/exception"
)

// Fixed-point values are stored as raw integers at a single scalar so values of
// different precisions can be added without rescaling.
const (
	FixedPrecision       = 9
	FixedScalar    int64 = 1_000_000_000
)

var pow10 = [...]int64{1, 10, 100, 1_000, 10_000, 100_000, 1_000_000, 10_000_000, 100_000_000,
	1_000_000_000, 10_000_000_000, 100_000_000_000, 1_000_000_000_000}

func checkPrecision(precision uint8) error {
	if precision > FixedPrecision {
		return fmt.Errorf("%w: precision %d exceeds maximum %d", exception.ErrInvalidArgument, precision, FixedPrecision)
	}
	return nil
}

// truncRaw drops digits beyond precision, rounding toward zero.
func truncRaw(raw int64, precision uint8) int64 {
	f := pow10[FixedPrecision-int(precision)]
	return raw / f * f
}

func rawFromDecimal(d decimal.Decimal, precision uint8) (int64, error) {
	if err := checkPrecision(precision); err != nil {
		return 0, err
	}
	scaled := d.Truncate(int32(precision)).Shift(FixedPrecision)
	if scaled.GreaterThan(decimal.NewFromInt(math.MaxInt64)) || scaled.LessThan(decimal.NewFromInt(math.MinInt64)) {
		return 0, fmt.Errorf("%w: value %s out of range", exception.ErrInvalidArgument, d.String())
	}
	return scaled.IntPart(), nil
}

// parseRaw parses a decimal string and infers the precision from its fractional digits.
func parseRaw(s string) (int64, uint8, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: parse %q: %v", exception.ErrInvalidArgument, s, err)
	}
	precision := uint8(0)
	if exp := d.Exponent(); exp < 0 {
		if -exp > FixedPrecision {
			return 0, 0, fmt.Errorf("%w: %q has more than %d decimals", exception.ErrInvalidArgument, s, FixedPrecision)
		}
		precision = uint8(-exp)
	}
	raw, err := rawFromDecimal(d, precision)
	return raw, precision, err
}

func rawDecimal(raw int64) decimal.Decimal {
	return decimal.New(raw, -FixedPrecision)
}

func formatRaw(raw int64, precision uint8) string {
	v := raw / pow10[FixedPrecision-int(precision)]
	return string(appendScaledInt(make([]byte, 0, 24), v, int(precision)))
}

func appendScaledInt(buf []byte, value int64, scale int) []byte {
	if scale <= 0 {
		return strconv.AppendInt(buf, value, 10)
	}

	neg := value < 0
	u := uint64(value)
	if neg {
		u = uint64(^value) + 1
	}

	var tmp [32]byte
	digits := strconv.AppendUint(tmp[:0], u, 10)

	if neg {
		buf = append(buf, '-')
	}

	if len(digits) <= scale {
		buf = append(buf, '0', '.')
		for i := 0; i < scale-len(digits); i++ {
			buf = append(buf, '0')
		}
		buf = append(buf, digits...)
		return buf
	}

	idx := len(digits) - scale
	buf = append(buf, digits[:idx]...)
	buf = append(buf, '.')
	buf = append(buf, digits[idx:]...)
	return buf
}

func cmpRaw(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Price is a signed fixed-point price.
type Price struct {
	Raw       int64
	Precision uint8
}

// NewPrice builds a price from a float, truncating beyond precision.
func NewPrice(value float64, precision uint8) Price {
	p, err := PriceFromDecimal(decimal.NewFromFloat(value), precision)
	if err != nil {
		panic(err)
	}
	return p
}

func PriceFromDecimal(d decimal.Decimal, precision uint8) (Price, error) {
	raw, err := rawFromDecimal(d, precision)
	if err != nil {
		return Price{}, err
	}
	return Price{Raw: raw, Precision: precision}, nil
}

func PriceFromRaw(raw int64, precision uint8) Price {
	return Price{Raw: truncRaw(raw, precision), Precision: precision}
}

func PriceFromString(s string) (Price, error) {
	raw, precision, err := parseRaw(s)
	if err != nil {
		return Price{}, err
	}
	return Price{Raw: raw, Precision: precision}, nil
}

// MustPrice is PriceFromString for literals and tests.
func MustPrice(s string) Price {
	p, err := PriceFromString(s)
	if err != nil {
		panic(err)
	}
	return p
}

func (p Price) Add(o Price) Price {
	return Price{Raw: p.Raw + o.Raw, Precision: max(p.Precision, o.Precision)}
}

func (p Price) Sub(o Price) Price {
	return Price{Raw: p.Raw - o.Raw, Precision: max(p.Precision, o.Precision)}
}

func (p Price) Neg() Price { return Price{Raw: -p.Raw, Precision: p.Precision} }

// Cmp compares values, ignoring precision.
func (p Price) Cmp(o Price) int { return cmpRaw(p.Raw, o.Raw) }

func (p Price) Equal(o Price) bool          { return p.Raw == o.Raw }
func (p Price) LessThan(o Price) bool       { return p.Raw < o.Raw }
func (p Price) LessOrEqual(o Price) bool    { return p.Raw <= o.Raw }
func (p Price) GreaterThan(o Price) bool    { return p.Raw > o.Raw }
func (p Price) GreaterOrEqual(o Price) bool { return p.Raw >= o.Raw }
func (p Price) IsZero() bool                { return p.Raw == 0 }
func (p Price) IsPositive() bool            { return p.Raw > 0 }

func (p Price) Decimal() decimal.Decimal { return rawDecimal(p.Raw) }

func (p Price) Float64() float64 { return float64(p.Raw) / float64(FixedScalar) }

func (p Price) String() string { return formatRaw(p.Raw, p.Precision) }

func (p Price) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *Price) UnmarshalText(b []byte) error {
	v, err := PriceFromString(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Quantity is a non-negative fixed-point amount.
type Quantity struct {
	Raw       int64
	Precision uint8
}

// NewQuantity builds a quantity from a float, truncating beyond precision.
func NewQuantity(value float64, precision uint8) Quantity {
	q, err := QuantityFromDecimal(decimal.NewFromFloat(value), precision)
	if err != nil {
		panic(err)
	}
	return q
}

func QuantityFromDecimal(d decimal.Decimal, precision uint8) (Quantity, error) {
	if d.IsNegative() {
		return Quantity{}, fmt.Errorf("%w: negative quantity %s", exception.ErrInvalidArgument, d.String())
	}
	raw, err := rawFromDecimal(d, precision)
	if err != nil {
		return Quantity{}, err
	}
	return Quantity{Raw: raw, Precision: precision}, nil
}

func QuantityFromRaw(raw int64, precision uint8) Quantity {
	return Quantity{Raw: truncRaw(raw, precision), Precision: precision}
}

func QuantityFromString(s string) (Quantity, error) {
	raw, precision, err := parseRaw(s)
	if err != nil {
		return Quantity{}, err
	}
	if raw < 0 {
		return Quantity{}, fmt.Errorf("%w: negative quantity %q", exception.ErrInvalidArgument, s)
	}
	return Quantity{Raw: raw, Precision: precision}, nil
}

func MustQuantity(s string) Quantity {
	q, err := QuantityFromString(s)
	if err != nil {
		panic(err)
	}
	return q
}

func (q Quantity) Add(o Quantity) Quantity {
	return Quantity{Raw: q.Raw + o.Raw, Precision: max(q.Precision, o.Precision)}
}

// Sub floors at zero.
func (q Quantity) Sub(o Quantity) Quantity {
	raw := q.Raw - o.Raw
	if raw < 0 {
		raw = 0
	}
	return Quantity{Raw: raw, Precision: max(q.Precision, o.Precision)}
}

func (q Quantity) Min(o Quantity) Quantity {
	if o.Raw < q.Raw {
		return o
	}
	return q
}

func (q Quantity) Cmp(o Quantity) int                      { return cmpRaw(q.Raw, o.Raw) }
func (q Quantity) Equal(o Quantity) bool                   { return q.Raw == o.Raw }
func (q Quantity) LessThan(o Quantity) bool                { return q.Raw < o.Raw }
func (q Quantity) LessOrEqual(o Quantity) bool             { return q.Raw <= o.Raw }
func (q Quantity) GreaterThan(o Quantity) bool             { return q.Raw > o.Raw }
func (q Quantity) GreaterOrEqual(o Quantity) bool          { return q.Raw >= o.Raw }
func (q Quantity) IsZero() bool                            { return q.Raw == 0 }
func (q Quantity) IsPositive() bool                        { return q.Raw > 0 }
func (q Quantity) Decimal() decimal.Decimal                { return rawDecimal(q.Raw) }
func (q Quantity) Float64() float64                        { return float64(q.Raw) / float64(FixedScalar) }
func (q Quantity) String() string                          { return formatRaw(q.Raw, q.Precision) }
func (q Quantity) MarshalText() ([]byte, error)            { return []byte(q.String()), nil }
func (q Quantity) WithPrecision(p uint8) Quantity          { return QuantityFromRaw(q.Raw, p) }
func (q Quantity) Mul(p Price) decimal.Decimal             { return q.Decimal().Mul(p.Decimal()) }
func (q Quantity) Scale(f decimal.Decimal) decimal.Decimal { return q.Decimal().Mul(f) }

func (q *Quantity) UnmarshalText(b []byte) error {
	v, err := QuantityFromString(string(b))
	if err != nil {
		return err
	}
	*q = v
	return nil
}
