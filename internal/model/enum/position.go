package enum

type PositionSide uint8

const (
	PositionSideNone PositionSide = iota
	PositionSideFlat
	PositionSideLong
	PositionSideShort
)

var positionSideNames = []string{"NO_POSITION_SIDE", "FLAT", "LONG", "SHORT"}

func (s PositionSide) String() string { return name(s, positionSideNames) }

func ParsePositionSide(s string) (PositionSide, error) {
	return parse[PositionSide](s, positionSideNames)
}

type OmsType uint8

const (
	OmsUnspecified OmsType = iota
	OmsNetting
	OmsHedging
)

var omsNames = []string{"UNSPECIFIED", "NETTING", "HEDGING"}

func (o OmsType) String() string { return name(o, omsNames) }

func (o OmsType) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

func (o *OmsType) UnmarshalText(b []byte) (err error) {
	*o, err = parse[OmsType](string(b), omsNames)
	return err
}

type AccountType uint8

const (
	AccountCash AccountType = iota + 1
	AccountMargin
	AccountBetting
)

var accountTypeNames = []string{"", "CASH", "MARGIN", "BETTING"}

func (a AccountType) String() string { return name(a, accountTypeNames) }

func (a AccountType) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

func (a *AccountType) UnmarshalText(b []byte) (err error) {
	*a, err = parse[AccountType](string(b), accountTypeNames)
	return err
}

func ParseAccountType(s string) (AccountType, error) { return parse[AccountType](s, accountTypeNames) }

type TradingState uint8

const (
	TradingActive TradingState = iota + 1
	TradingHalted
	TradingReducing
)

var tradingStateNames = []string{"", "ACTIVE", "HALTED", "REDUCING"}

func (t TradingState) String() string { return name(t, tradingStateNames) }

func (t TradingState) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *TradingState) UnmarshalText(b []byte) (err error) {
	*t, err = parse[TradingState](string(b), tradingStateNames)
	return err
}
