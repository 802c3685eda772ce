package model

import (
	"github.com/shopspring/decimal"

	"hftcore/internal/model/enum"
)

// Record flags carried on book deltas.
const (
	FlagLast     uint8 = 1 << 7
	FlagTOB      uint8 = 1 << 6
	FlagSnapshot uint8 = 1 << 5
	FlagMBP      uint8 = 1 << 4
)

// BookOrder is a resting order or aggregated level in a book. OrderID is
// venue assigned for L3 books and derived for L1/L2.
type BookOrder struct {
	Side    enum.OrderSide
	Price   Price
	Size    Quantity
	OrderID uint64
}

func (o BookOrder) Exposure() decimal.Decimal { return o.Size.Mul(o.Price) }

func (o BookOrder) SignedSize() decimal.Decimal {
	if o.Side == enum.OrderSideSell {
		return o.Size.Decimal().Neg()
	}
	return o.Size.Decimal()
}

type OrderBookDelta struct {
	InstrumentID InstrumentID
	Action       enum.BookAction
	Order        BookOrder
	Flags        uint8
	Sequence     uint64
	TsEvent      UnixNanos
	TsInit       UnixNanos
}

func (d OrderBookDelta) Instrument() InstrumentID { return d.InstrumentID }
func (d OrderBookDelta) EventTs() UnixNanos       { return d.TsEvent }
func (d OrderBookDelta) InitTs() UnixNanos        { return d.TsInit }
func (d OrderBookDelta) IsLast() bool             { return d.Flags&FlagLast != 0 }

func NewClearDelta(id InstrumentID, sequence uint64, tsEvent, tsInit UnixNanos) OrderBookDelta {
	return OrderBookDelta{
		InstrumentID: id,
		Action:       enum.BookActionClear,
		Flags:        FlagSnapshot,
		Sequence:     sequence,
		TsEvent:      tsEvent,
		TsInit:       tsInit,
	}
}

// OrderBookDeltas is a batch published as one unit. Flags, sequence and
// timestamps are taken from the last delta.
type OrderBookDeltas struct {
	InstrumentID InstrumentID
	Deltas       []OrderBookDelta
	Flags        uint8
	Sequence     uint64
	TsEvent      UnixNanos
	TsInit       UnixNanos
}

func NewOrderBookDeltas(id InstrumentID, deltas []OrderBookDelta) OrderBookDeltas {
	d := OrderBookDeltas{InstrumentID: id, Deltas: deltas}
	if n := len(deltas); n > 0 {
		last := deltas[n-1]
		d.Flags, d.Sequence, d.TsEvent, d.TsInit = last.Flags, last.Sequence, last.TsEvent, last.TsInit
	}
	return d
}

func (d OrderBookDeltas) Instrument() InstrumentID { return d.InstrumentID }
func (d OrderBookDeltas) EventTs() UnixNanos       { return d.TsEvent }
func (d OrderBookDeltas) InitTs() UnixNanos        { return d.TsInit }

const DepthLevels = 10

// OrderBookDepth10 is a full top-ten snapshot of both sides.
type OrderBookDepth10 struct {
	InstrumentID InstrumentID
	Bids         [DepthLevels]BookOrder
	Asks         [DepthLevels]BookOrder
	BidCounts    [DepthLevels]uint32
	AskCounts    [DepthLevels]uint32
	Flags        uint8
	Sequence     uint64
	TsEvent      UnixNanos
	TsInit       UnixNanos
}

func (d OrderBookDepth10) Instrument() InstrumentID { return d.InstrumentID }
func (d OrderBookDepth10) EventTs() UnixNanos       { return d.TsEvent }
func (d OrderBookDepth10) InitTs() UnixNanos        { return d.TsInit }
