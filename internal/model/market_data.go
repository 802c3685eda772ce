package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"hftcore/internal/model/enum"
	"hftcore/pkg/exception"
)

// Data is anything flowing through the data engine.
type Data interface {
	Instrument() InstrumentID
	EventTs() UnixNanos
	InitTs() UnixNanos
}

type QuoteTick struct {
	InstrumentID InstrumentID
	BidPrice     Price
	AskPrice     Price
	BidSize      Quantity
	AskSize      Quantity
	TsEvent      UnixNanos
	TsInit       UnixNanos
}

func (q QuoteTick) Instrument() InstrumentID { return q.InstrumentID }
func (q QuoteTick) EventTs() UnixNanos       { return q.TsEvent }
func (q QuoteTick) InitTs() UnixNanos        { return q.TsInit }

// ExtractPrice returns the side requested. Mid carries one extra digit of precision.
func (q QuoteTick) ExtractPrice(pt enum.PriceType) Price {
	switch pt {
	case enum.PriceTypeBid:
		return q.BidPrice
	case enum.PriceTypeAsk:
		return q.AskPrice
	default:
		precision := min(max(q.BidPrice.Precision, q.AskPrice.Precision)+1, FixedPrecision)
		return PriceFromRaw((q.BidPrice.Raw+q.AskPrice.Raw)/2, precision)
	}
}

func (q QuoteTick) ExtractSize(pt enum.PriceType) Quantity {
	switch pt {
	case enum.PriceTypeBid:
		return q.BidSize
	case enum.PriceTypeAsk:
		return q.AskSize
	default:
		precision := min(max(q.BidSize.Precision, q.AskSize.Precision)+1, FixedPrecision)
		return QuantityFromRaw((q.BidSize.Raw+q.AskSize.Raw)/2, precision)
	}
}

type TradeTick struct {
	InstrumentID  InstrumentID
	Price         Price
	Size          Quantity
	AggressorSide enum.AggressorSide
	TradeID       TradeID
	TsEvent       UnixNanos
	TsInit        UnixNanos
}

func (t TradeTick) Instrument() InstrumentID { return t.InstrumentID }
func (t TradeTick) EventTs() UnixNanos       { return t.TsEvent }
func (t TradeTick) InitTs() UnixNanos        { return t.TsInit }

type BarSpecification struct {
	Step        int
	Aggregation enum.BarAggregation
	PriceType   enum.PriceType
}

func (s BarSpecification) IsZero() bool { return s.Step == 0 }

// Interval is the bar duration for time aggregations. Months have no fixed
// duration and return zero, as do non-time aggregations.
func (s BarSpecification) Interval() time.Duration {
	var unit time.Duration
	switch s.Aggregation {
	case enum.BarMillisecond:
		unit = time.Millisecond
	case enum.BarSecond:
		unit = time.Second
	case enum.BarMinute:
		unit = time.Minute
	case enum.BarHour:
		unit = time.Hour
	case enum.BarDay:
		unit = 24 * time.Hour
	case enum.BarWeek:
		unit = 7 * 24 * time.Hour
	default:
		return 0
	}
	return time.Duration(s.Step) * unit
}

func (s BarSpecification) String() string {
	return strconv.Itoa(s.Step) + "-" + s.Aggregation.String() + "-" + s.PriceType.String()
}

func parseBarSpec(parts []string) (BarSpecification, error) {
	if len(parts) != 3 {
		return BarSpecification{}, fmt.Errorf("%w: bar spec expects <step>-<aggregation>-<price_type>", exception.ErrInvalidArgument)
	}
	step, err := strconv.Atoi(parts[0])
	if err != nil || step <= 0 {
		return BarSpecification{}, fmt.Errorf("%w: bar step %q", exception.ErrInvalidArgument, parts[0])
	}
	agg, err := enum.ParseBarAggregation(parts[1])
	if err != nil {
		return BarSpecification{}, err
	}
	pt, err := enum.ParsePriceType(parts[2])
	if err != nil {
		return BarSpecification{}, err
	}
	return BarSpecification{Step: step, Aggregation: agg, PriceType: pt}, nil
}

// BarType identifies a bar series. A composite type aggregates bars of
// Composite spec drawn from CompositeSource.
type BarType struct {
	InstrumentID    InstrumentID
	Spec            BarSpecification
	Source          enum.AggregationSource
	Composite       BarSpecification
	CompositeSource enum.AggregationSource
}

func (b BarType) IsComposite() bool { return !b.Composite.IsZero() }

func (b BarType) IsInternal() bool { return b.Source == enum.AggregationInternal }

// Standard strips the composite part, leaving the bar type that is produced.
func (b BarType) Standard() BarType {
	return BarType{InstrumentID: b.InstrumentID, Spec: b.Spec, Source: b.Source}
}

// SourceBarType returns the bar type a composite aggregates from.
func (b BarType) SourceBarType() BarType {
	if !b.IsComposite() {
		return b
	}
	return BarType{InstrumentID: b.InstrumentID, Spec: b.Composite, Source: b.CompositeSource}
}

func (b BarType) String() string {
	s := b.InstrumentID.String() + "-" + b.Spec.String() + "-" + b.Source.String()
	if b.IsComposite() {
		s += "@" + strconv.Itoa(b.Composite.Step) + "-" + b.Composite.Aggregation.String() + "-" + b.CompositeSource.String()
	}
	return s
}

// ParseBarType parses BTCUSDT.BINANCE-1-MINUTE-LAST-EXTERNAL and the
// composite form ...-5-MINUTE-LAST-INTERNAL@1-MINUTE-EXTERNAL.
func ParseBarType(s string) (BarType, error) {
	standard, composite, isComposite := strings.Cut(s, "@")
	parts := strings.Split(standard, "-")
	if len(parts) < 5 {
		return BarType{}, fmt.Errorf("%w: bar type %q", exception.ErrInvalidArgument, s)
	}
	n := len(parts)
	instrument, err := ParseInstrumentID(strings.Join(parts[:n-4], "-"))
	if err != nil {
		return BarType{}, err
	}
	spec, err := parseBarSpec(parts[n-4 : n-1])
	if err != nil {
		return BarType{}, err
	}
	source, err := enum.ParseAggregationSource(parts[n-1])
	if err != nil {
		return BarType{}, err
	}
	bt := BarType{InstrumentID: instrument, Spec: spec, Source: source}
	if !isComposite {
		return bt, nil
	}
	cparts := strings.Split(composite, "-")
	if len(cparts) != 3 {
		return BarType{}, fmt.Errorf("%w: composite bar type %q", exception.ErrInvalidArgument, s)
	}
	// composite form omits the price type, it is inherited from the outer spec
	cspec, err := parseBarSpec([]string{cparts[0], cparts[1], spec.PriceType.String()})
	if err != nil {
		return BarType{}, err
	}
	csource, err := enum.ParseAggregationSource(cparts[2])
	if err != nil {
		return BarType{}, err
	}
	bt.Composite, bt.CompositeSource = cspec, csource
	return bt, nil
}

func MustBarType(s string) BarType {
	bt, err := ParseBarType(s)
	if err != nil {
		panic(err)
	}
	return bt
}

func (b BarType) MarshalText() ([]byte, error) { return []byte(b.String()), nil }

func (b *BarType) UnmarshalText(p []byte) error {
	v, err := ParseBarType(string(p))
	if err != nil {
		return err
	}
	*b = v
	return nil
}

type Bar struct {
	BarType BarType
	Open    Price
	High    Price
	Low     Price
	Close   Price
	Volume  Quantity
	TsEvent UnixNanos
	TsInit  UnixNanos
}

func (b Bar) Instrument() InstrumentID { return b.BarType.InstrumentID }
func (b Bar) EventTs() UnixNanos       { return b.TsEvent }
func (b Bar) InitTs() UnixNanos        { return b.TsInit }

// IsSingleValue reports whether open, high, low and close are equal.
func (b Bar) IsSingleValue() bool {
	return b.Open.Equal(b.High) && b.High.Equal(b.Low) && b.Low.Equal(b.Close)
}

type MarkPriceUpdate struct {
	InstrumentID InstrumentID
	Value        Price
	TsEvent      UnixNanos
	TsInit       UnixNanos
}

func (m MarkPriceUpdate) Instrument() InstrumentID { return m.InstrumentID }
func (m MarkPriceUpdate) EventTs() UnixNanos       { return m.TsEvent }
func (m MarkPriceUpdate) InitTs() UnixNanos        { return m.TsInit }

type IndexPriceUpdate struct {
	InstrumentID InstrumentID
	Value        Price
	TsEvent      UnixNanos
	TsInit       UnixNanos
}

func (i IndexPriceUpdate) Instrument() InstrumentID { return i.InstrumentID }
func (i IndexPriceUpdate) EventTs() UnixNanos       { return i.TsEvent }
func (i IndexPriceUpdate) InitTs() UnixNanos        { return i.TsInit }

type FundingRateUpdate struct {
	InstrumentID InstrumentID
	Rate         decimal.Decimal
	NextFunding  UnixNanos
	TsEvent      UnixNanos
	TsInit       UnixNanos
}

func (f FundingRateUpdate) Instrument() InstrumentID { return f.InstrumentID }
func (f FundingRateUpdate) EventTs() UnixNanos       { return f.TsEvent }
func (f FundingRateUpdate) InitTs() UnixNanos        { return f.TsInit }

type InstrumentStatus struct {
	InstrumentID InstrumentID
	Action       enum.MarketStatusAction
	Reason       string
	IsTrading    bool
	TsEvent      UnixNanos
	TsInit       UnixNanos
}

func (s InstrumentStatus) Instrument() InstrumentID { return s.InstrumentID }
func (s InstrumentStatus) EventTs() UnixNanos       { return s.TsEvent }
func (s InstrumentStatus) InitTs() UnixNanos        { return s.TsInit }
