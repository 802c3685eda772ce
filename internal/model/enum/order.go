package enum

type OrderSide uint8

const (
	OrderSideNone OrderSide = iota
	OrderSideBuy
	OrderSideSell
)

var orderSideNames = []string{"NO_ORDER_SIDE", "BUY", "SELL"}

func (s OrderSide) String() string { return name(s, orderSideNames) }

func (s OrderSide) Opposite() OrderSide {
	switch s {
	case OrderSideBuy:
		return OrderSideSell
	case OrderSideSell:
		return OrderSideBuy
	default:
		return OrderSideNone
	}
}

func ParseOrderSide(s string) (OrderSide, error) { return parse[OrderSide](s, orderSideNames) }

type OrderType uint8

const (
	_orderType_beg OrderType = iota
	OrderTypeMarket
	OrderTypeLimit
	OrderTypeStopMarket
	OrderTypeStopLimit
	OrderTypeMarketToLimit
	OrderTypeMarketIfTouched
	OrderTypeLimitIfTouched
	OrderTypeTrailingStopMarket
	OrderTypeTrailingStopLimit
	_orderType_end
)

var orderTypeNames = []string{"", "MARKET", "LIMIT", "STOP_MARKET", "STOP_LIMIT", "MARKET_TO_LIMIT",
	"MARKET_IF_TOUCHED", "LIMIT_IF_TOUCHED", "TRAILING_STOP_MARKET", "TRAILING_STOP_LIMIT"}

func (t OrderType) String() string { return name(t, orderTypeNames) }

func (t OrderType) IsAvailable() bool { return t > _orderType_beg && t < _orderType_end }

// HasPrice reports whether orders of this type carry a limit price.
func (t OrderType) HasPrice() bool {
	switch t {
	case OrderTypeLimit, OrderTypeStopLimit, OrderTypeLimitIfTouched, OrderTypeTrailingStopLimit, OrderTypeMarketToLimit:
		return true
	}
	return false
}

// HasTriggerPrice reports whether orders of this type carry a trigger price.
func (t OrderType) HasTriggerPrice() bool {
	switch t {
	case OrderTypeStopMarket, OrderTypeStopLimit, OrderTypeMarketIfTouched, OrderTypeLimitIfTouched,
		OrderTypeTrailingStopMarket, OrderTypeTrailingStopLimit:
		return true
	}
	return false
}

func (t OrderType) IsTrailing() bool {
	return t == OrderTypeTrailingStopMarket || t == OrderTypeTrailingStopLimit
}

func ParseOrderType(s string) (OrderType, error) { return parse[OrderType](s, orderTypeNames) }

type TimeInForce uint8

const (
	_timeInForce_beg TimeInForce = iota
	TimeInForceGTC
	TimeInForceIOC
	TimeInForceFOK
	TimeInForceGTD
	TimeInForceDay
	TimeInForceAtTheOpen
	TimeInForceAtTheClose
	_timeInForce_end
)

var timeInForceNames = []string{"", "GTC", "IOC", "FOK", "GTD", "DAY", "AT_THE_OPEN", "AT_THE_CLOSE"}

func (t TimeInForce) String() string { return name(t, timeInForceNames) }

func (t TimeInForce) IsAvailable() bool { return t > _timeInForce_beg && t < _timeInForce_end }

func ParseTimeInForce(s string) (TimeInForce, error) { return parse[TimeInForce](s, timeInForceNames) }

type OrderStatus uint8

const (
	OrderStatusInitialized OrderStatus = iota + 1
	OrderStatusDenied
	OrderStatusEmulated
	OrderStatusReleased
	OrderStatusSubmitted
	OrderStatusAccepted
	OrderStatusRejected
	OrderStatusCanceled
	OrderStatusExpired
	OrderStatusTriggered
	OrderStatusPendingUpdate
	OrderStatusPendingCancel
	OrderStatusPartiallyFilled
	OrderStatusFilled
)

var orderStatusNames = []string{"", "INITIALIZED", "DENIED", "EMULATED", "RELEASED", "SUBMITTED", "ACCEPTED",
	"REJECTED", "CANCELED", "EXPIRED", "TRIGGERED", "PENDING_UPDATE", "PENDING_CANCEL", "PARTIALLY_FILLED", "FILLED"}

func (s OrderStatus) String() string { return name(s, orderStatusNames) }

// IsTerminal reports whether no further transition is possible.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusDenied, OrderStatusRejected, OrderStatusCanceled, OrderStatusExpired, OrderStatusFilled:
		return true
	}
	return false
}

func (s OrderStatus) IsInflight() bool {
	return s == OrderStatusSubmitted || s == OrderStatusPendingUpdate || s == OrderStatusPendingCancel
}

func ParseOrderStatus(s string) (OrderStatus, error) { return parse[OrderStatus](s, orderStatusNames) }

type TriggerType uint8

const (
	TriggerTypeNone TriggerType = iota
	TriggerTypeDefault
	TriggerTypeBidAsk
	TriggerTypeLastPrice
	TriggerTypeDoubleLast
	TriggerTypeDoubleBidAsk
	TriggerTypeLastOrBidAsk
	TriggerTypeMidPoint
	TriggerTypeMarkPrice
	TriggerTypeIndexPrice
)

var triggerTypeNames = []string{"NO_TRIGGER", "DEFAULT", "BID_ASK", "LAST_PRICE", "DOUBLE_LAST",
	"DOUBLE_BID_ASK", "LAST_OR_BID_ASK", "MID_POINT", "MARK_PRICE", "INDEX_PRICE"}

func (t TriggerType) String() string { return name(t, triggerTypeNames) }

func ParseTriggerType(s string) (TriggerType, error) { return parse[TriggerType](s, triggerTypeNames) }

type ContingencyType uint8

const (
	ContingencyNone ContingencyType = iota
	ContingencyOCO
	ContingencyOTO
	ContingencyOUO
)

var contingencyNames = []string{"NO_CONTINGENCY", "OCO", "OTO", "OUO"}

func (c ContingencyType) String() string { return name(c, contingencyNames) }

func ParseContingencyType(s string) (ContingencyType, error) {
	return parse[ContingencyType](s, contingencyNames)
}

type LiquiditySide uint8

const (
	LiquidityNone LiquiditySide = iota
	LiquidityMaker
	LiquidityTaker
)

var liquidityNames = []string{"NO_LIQUIDITY_SIDE", "MAKER", "TAKER"}

func (l LiquiditySide) String() string { return name(l, liquidityNames) }

func ParseLiquiditySide(s string) (LiquiditySide, error) {
	return parse[LiquiditySide](s, liquidityNames)
}

type TrailingOffsetType uint8

const (
	TrailingOffsetNone TrailingOffsetType = iota
	TrailingOffsetPrice
	TrailingOffsetBasisPoints
	TrailingOffsetTicks
)

var trailingOffsetNames = []string{"NO_TRAILING_OFFSET", "PRICE", "BASIS_POINTS", "TICKS"}

func (t TrailingOffsetType) String() string { return name(t, trailingOffsetNames) }

func ParseTrailingOffsetType(s string) (TrailingOffsetType, error) {
	return parse[TrailingOffsetType](s, trailingOffsetNames)
}
