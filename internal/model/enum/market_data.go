package enum

type AggressorSide uint8

const (
	AggressorNone AggressorSide = iota
	AggressorBuyer
	AggressorSeller
)

var aggressorNames = []string{"NO_AGGRESSOR", "BUYER", "SELLER"}

func (a AggressorSide) String() string { return name(a, aggressorNames) }

func ParseAggressorSide(s string) (AggressorSide, error) {
	return parse[AggressorSide](s, aggressorNames)
}

type BookAction uint8

const (
	BookActionAdd BookAction = iota + 1
	BookActionUpdate
	BookActionDelete
	BookActionClear
)

var bookActionNames = []string{"", "ADD", "UPDATE", "DELETE", "CLEAR"}

func (a BookAction) String() string { return name(a, bookActionNames) }

func ParseBookAction(s string) (BookAction, error) { return parse[BookAction](s, bookActionNames) }

type BookType uint8

const (
	_bookType_beg BookType = iota
	BookL1MBP
	BookL2MBP
	BookL3MBO
	_bookType_end
)

var bookTypeNames = []string{"", "L1_MBP", "L2_MBP", "L3_MBO"}

func (b BookType) String() string { return name(b, bookTypeNames) }

func (b BookType) IsAvailable() bool { return b > _bookType_beg && b < _bookType_end }

func (b BookType) MarshalText() ([]byte, error) { return []byte(b.String()), nil }

func (b *BookType) UnmarshalText(p []byte) (err error) {
	*b, err = parse[BookType](string(p), bookTypeNames)
	return err
}

type PriceType uint8

const (
	PriceTypeBid PriceType = iota + 1
	PriceTypeAsk
	PriceTypeMid
	PriceTypeLast
	PriceTypeMark
)

var priceTypeNames = []string{"", "BID", "ASK", "MID", "LAST", "MARK"}

func (p PriceType) String() string { return name(p, priceTypeNames) }

func ParsePriceType(s string) (PriceType, error) { return parse[PriceType](s, priceTypeNames) }

type BarAggregation uint8

const (
	_barAggregation_beg BarAggregation = iota
	BarTick
	BarVolume
	BarValue
	BarMillisecond
	BarSecond
	BarMinute
	BarHour
	BarDay
	BarWeek
	BarMonth
	_barAggregation_end
)

var barAggregationNames = []string{"", "TICK", "VOLUME", "VALUE", "MILLISECOND", "SECOND", "MINUTE",
	"HOUR", "DAY", "WEEK", "MONTH"}

func (b BarAggregation) String() string { return name(b, barAggregationNames) }

func (b BarAggregation) IsAvailable() bool { return b > _barAggregation_beg && b < _barAggregation_end }

// IsTime reports whether bars close on clock boundaries.
func (b BarAggregation) IsTime() bool { return b >= BarMillisecond && b <= BarMonth }

func ParseBarAggregation(s string) (BarAggregation, error) {
	return parse[BarAggregation](s, barAggregationNames)
}

type AggregationSource uint8

const (
	AggregationExternal AggregationSource = iota + 1
	AggregationInternal
)

var aggregationSourceNames = []string{"", "EXTERNAL", "INTERNAL"}

func (a AggregationSource) String() string { return name(a, aggregationSourceNames) }

func ParseAggregationSource(s string) (AggregationSource, error) {
	return parse[AggregationSource](s, aggregationSourceNames)
}

type BarIntervalType uint8

const (
	BarIntervalLeftOpen BarIntervalType = iota + 1
	BarIntervalRightOpen
)

var barIntervalNames = []string{"", "LEFT_OPEN", "RIGHT_OPEN"}

func (b BarIntervalType) String() string { return name(b, barIntervalNames) }

func (b BarIntervalType) MarshalText() ([]byte, error) { return []byte(b.String()), nil }

func (b *BarIntervalType) UnmarshalText(p []byte) (err error) {
	*b, err = parse[BarIntervalType](string(p), barIntervalNames)
	return err
}

// DataKind names a subscribable market data stream.
type DataKind uint8

const (
	_dataKind_beg DataKind = iota
	DataInstrument
	DataQuote
	DataTrade
	DataBar
	DataBookDeltas
	DataBookDepth
	DataBookSnapshot
	DataMarkPrice
	DataIndexPrice
	DataFundingRate
	DataInstrumentStatus
	_dataKind_end
)

var dataKindNames = []string{"", "INSTRUMENT", "QUOTE", "TRADE", "BAR", "BOOK_DELTAS", "BOOK_DEPTH",
	"BOOK_SNAPSHOT", "MARK_PRICE", "INDEX_PRICE", "FUNDING_RATE", "INSTRUMENT_STATUS"}

func (d DataKind) String() string { return name(d, dataKindNames) }

func (d DataKind) IsAvailable() bool { return d > _dataKind_beg && d < _dataKind_end }

func ParseDataKind(s string) (DataKind, error) { return parse[DataKind](s, dataKindNames) }

type MarketStatusAction uint8

const (
	MarketStatusNone MarketStatusAction = iota
	MarketStatusPreOpen
	MarketStatusTrading
	MarketStatusPause
	MarketStatusHalt
	MarketStatusClose
)

var marketStatusNames = []string{"NONE", "PRE_OPEN", "TRADING", "PAUSE", "HALT", "CLOSE"}

func (m MarketStatusAction) String() string { return name(m, marketStatusNames) }

func ParseMarketStatusAction(s string) (MarketStatusAction, error) {
	return parse[MarketStatusAction](s, marketStatusNames)
}
