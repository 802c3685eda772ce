package schema

import (
	"fmt"

	"hftcore/pkg/exception"
)

// SchemaVersion is the current event schema version.
const SchemaVersion uint16 = 1

// EventType defines the category of a journaled or encoded message.
type EventType uint16

const (
	EventUnknown EventType = iota

	EventOrderInitialized
	EventOrderDenied
	EventOrderEmulated
	EventOrderReleased
	EventOrderSubmitted
	EventOrderAccepted
	EventOrderRejected
	EventOrderCanceled
	EventOrderExpired
	EventOrderTriggered
	EventOrderPendingUpdate
	EventOrderPendingCancel
	EventOrderModifyRejected
	EventOrderCancelRejected
	EventOrderUpdated
	EventOrderFilled

	EventPositionOpened
	EventPositionChanged
	EventPositionClosed

	EventAccountState

	EventQuoteTick
	EventTradeTick
	EventBar
	EventOrderBookDelta
	EventOrderBookDeltas
	EventTimeEvent

	_eventType_end
)

var eventTypeNames = [...]string{
	EventUnknown:             "Unknown",
	EventOrderInitialized:    "OrderInitialized",
	EventOrderDenied:         "OrderDenied",
	EventOrderEmulated:       "OrderEmulated",
	EventOrderReleased:       "OrderReleased",
	EventOrderSubmitted:      "OrderSubmitted",
	EventOrderAccepted:       "OrderAccepted",
	EventOrderRejected:       "OrderRejected",
	EventOrderCanceled:       "OrderCanceled",
	EventOrderExpired:        "OrderExpired",
	EventOrderTriggered:      "OrderTriggered",
	EventOrderPendingUpdate:  "OrderPendingUpdate",
	EventOrderPendingCancel:  "OrderPendingCancel",
	EventOrderModifyRejected: "OrderModifyRejected",
	EventOrderCancelRejected: "OrderCancelRejected",
	EventOrderUpdated:        "OrderUpdated",
	EventOrderFilled:         "OrderFilled",
	EventPositionOpened:      "PositionOpened",
	EventPositionChanged:     "PositionChanged",
	EventPositionClosed:      "PositionClosed",
	EventAccountState:        "AccountState",
	EventQuoteTick:           "QuoteTick",
	EventTradeTick:           "TradeTick",
	EventBar:                 "Bar",
	EventOrderBookDelta:      "OrderBookDelta",
	EventOrderBookDeltas:     "OrderBookDeltas",
	EventTimeEvent:           "TimeEvent",
}

// EventTypeCount sizes arrays indexed by EventType.
const EventTypeCount = int(_eventType_end)

func (t EventType) String() string {
	if t < _eventType_end {
		return eventTypeNames[t]
	}
	return eventTypeNames[EventUnknown]
}

func (t EventType) IsAvailable() bool { return t > EventUnknown && t < _eventType_end }

func (t EventType) IsOrderEvent() bool { return t >= EventOrderInitialized && t <= EventOrderFilled }

func (t EventType) IsPositionEvent() bool {
	return t >= EventPositionOpened && t <= EventPositionClosed
}

func (t EventType) IsMarketData() bool { return t >= EventQuoteTick && t <= EventOrderBookDeltas }

func ParseEventType(s string) (EventType, error) {
	for i := EventUnknown + 1; i < _eventType_end; i++ {
		if eventTypeNames[i] == s {
			return i, nil
		}
	}
	return EventUnknown, fmt.Errorf("%w: unknown event type %q", exception.ErrInvalidArgument, s)
}

// Source identifies the component that produced a journaled event.
type Source uint16

const (
	SourceUnknown Source = iota
	SourceExecEngine
	SourceDataEngine
	SourceEmulator
	SourceReconciliation
	SourceRunner
)

var sourceNames = [...]string{"Unknown", "ExecEngine", "DataEngine", "Emulator", "Reconciliation", "Runner"}

func (s Source) String() string {
	if int(s) < len(sourceNames) {
		return sourceNames[s]
	}
	return sourceNames[SourceUnknown]
}

// EventHeader is the common metadata attached to every event.
type EventHeader struct {
	Type    EventType
	Version uint16
	Source  Source
	Flags   uint16
	Seq     uint64
	TsEvent int64
	TsRecv  int64
	TraceID uint64
}

// Header flags.
const (
	FlagReconciliation uint16 = 1 << iota
)

// NewHeader builds a header with the current schema version.
func NewHeader(eventType EventType, source Source, seq uint64, tsEvent, tsRecv int64) EventHeader {
	return EventHeader{
		Type:    eventType,
		Version: SchemaVersion,
		Source:  source,
		Seq:     seq,
		TsEvent: tsEvent,
		TsRecv:  tsRecv,
	}
}
