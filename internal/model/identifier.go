package model

import (
	"fmt"
	"strings"
	"unicode"
	"unique"

	"hftcore/pkg/exception"
)

type idKind interface {
	kind() string
}

// Identifier is an interned string value. Equality and hashing are by handle.
type Identifier[K idKind] struct {
	h unique.Handle[string]
}

func newIdentifier[K idKind](s string, validate func(string) error) (Identifier[K], error) {
	var k K
	if s == "" {
		return Identifier[K]{}, fmt.Errorf("%w: %s is empty", exception.ErrInvalidArgument, k.kind())
	}
	if strings.IndexFunc(s, unicode.IsSpace) >= 0 {
		return Identifier[K]{}, fmt.Errorf("%w: %s %q contains whitespace", exception.ErrInvalidArgument, k.kind(), s)
	}
	if validate != nil {
		if err := validate(s); err != nil {
			return Identifier[K]{}, fmt.Errorf("%w: %s %q", err, k.kind(), s)
		}
	}
	return Identifier[K]{h: unique.Make(s)}, nil
}

func must[K idKind](id Identifier[K], err error) Identifier[K] {
	if err != nil {
		panic(err)
	}
	return id
}

func (id Identifier[K]) IsZero() bool { return id.h == unique.Handle[string]{} }

func (id Identifier[K]) String() string {
	if id.IsZero() {
		return ""
	}
	return id.h.Value()
}

func (id Identifier[K]) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *Identifier[K]) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*id = Identifier[K]{}
		return nil
	}
	v, err := newIdentifier[K](string(b), nil)
	if err != nil {
		return err
	}
	*id = v
	return nil
}

func requireHyphen(s string) error {
	i := strings.LastIndexByte(s, '-')
	if i <= 0 || i == len(s)-1 {
		return fmt.Errorf("%w: expected <name>-<tag>", exception.ErrInvalidArgument)
	}
	return nil
}

type (
	traderKind        struct{}
	strategyKind      struct{}
	venueKind         struct{}
	symbolKind        struct{}
	accountKind       struct{}
	clientKind        struct{}
	componentKind     struct{}
	clientOrderKind   struct{}
	venueOrderKind    struct{}
	tradeKind         struct{}
	positionKind      struct{}
	orderListKind     struct{}
	execAlgorithmKind struct{}
)

func (traderKind) kind() string        { return "TraderId" }
func (strategyKind) kind() string      { return "StrategyId" }
func (venueKind) kind() string         { return "Venue" }
func (symbolKind) kind() string        { return "Symbol" }
func (accountKind) kind() string       { return "AccountId" }
func (clientKind) kind() string        { return "ClientId" }
func (componentKind) kind() string     { return "ComponentId" }
func (clientOrderKind) kind() string   { return "ClientOrderId" }
func (venueOrderKind) kind() string    { return "VenueOrderId" }
func (tradeKind) kind() string         { return "TradeId" }
func (positionKind) kind() string      { return "PositionId" }
func (orderListKind) kind() string     { return "OrderListId" }
func (execAlgorithmKind) kind() string { return "ExecAlgorithmId" }

type (
	TraderID        = Identifier[traderKind]
	StrategyID      = Identifier[strategyKind]
	Venue           = Identifier[venueKind]
	Symbol          = Identifier[symbolKind]
	AccountID       = Identifier[accountKind]
	ClientID        = Identifier[clientKind]
	ComponentID     = Identifier[componentKind]
	ClientOrderID   = Identifier[clientOrderKind]
	VenueOrderID    = Identifier[venueOrderKind]
	TradeID         = Identifier[tradeKind]
	PositionID      = Identifier[positionKind]
	OrderListID     = Identifier[orderListKind]
	ExecAlgorithmID = Identifier[execAlgorithmKind]
)

// NewTraderID requires the form <name>-<tag>, e.g. TRADER-001.
func NewTraderID(s string) (TraderID, error) { return newIdentifier[traderKind](s, requireHyphen) }
func MustTraderID(s string) TraderID         { return must[traderKind](NewTraderID(s)) }

// Tag returns the part after the last hyphen.
func TraderTag(id TraderID) string {
	s := id.String()
	return s[strings.LastIndexByte(s, '-')+1:]
}

// ExternalStrategyID owns orders discovered at a venue but not submitted locally.
var ExternalStrategyID = MustStrategyID("EXTERNAL")

func NewStrategyID(s string) (StrategyID, error) { return newIdentifier[strategyKind](s, nil) }
func MustStrategyID(s string) StrategyID         { return must[strategyKind](NewStrategyID(s)) }

func NewVenue(s string) (Venue, error) {
	return newIdentifier[venueKind](s, func(v string) error {
		if strings.ContainsRune(v, '.') {
			return fmt.Errorf("%w: venue may not contain '.'", exception.ErrInvalidArgument)
		}
		return nil
	})
}
func MustVenue(s string) Venue { return must[venueKind](NewVenue(s)) }

func NewSymbol(s string) (Symbol, error) { return newIdentifier[symbolKind](s, nil) }
func MustSymbol(s string) Symbol         { return must[symbolKind](NewSymbol(s)) }

// NewAccountID requires the form <issuer>-<number>.
func NewAccountID(s string) (AccountID, error) { return newIdentifier[accountKind](s, requireHyphen) }
func MustAccountID(s string) AccountID         { return must[accountKind](NewAccountID(s)) }

// AccountIssuer returns the venue that issued the account.
func AccountIssuer(id AccountID) Venue {
	s := id.String()
	return MustVenue(s[:strings.LastIndexByte(s, '-')])
}

func NewClientID(s string) (ClientID, error) { return newIdentifier[clientKind](s, nil) }
func MustClientID(s string) ClientID         { return must[clientKind](NewClientID(s)) }

func NewComponentID(s string) (ComponentID, error) { return newIdentifier[componentKind](s, nil) }
func MustComponentID(s string) ComponentID         { return must[componentKind](NewComponentID(s)) }

func NewClientOrderID(s string) (ClientOrderID, error) { return newIdentifier[clientOrderKind](s, nil) }
func MustClientOrderID(s string) ClientOrderID         { return must[clientOrderKind](NewClientOrderID(s)) }

func NewVenueOrderID(s string) (VenueOrderID, error) { return newIdentifier[venueOrderKind](s, nil) }
func MustVenueOrderID(s string) VenueOrderID         { return must[venueOrderKind](NewVenueOrderID(s)) }

func NewTradeID(s string) (TradeID, error) {
	return newIdentifier[tradeKind](s, func(v string) error {
		if len(v) > 36 {
			return fmt.Errorf("%w: trade id longer than 36 characters", exception.ErrInvalidArgument)
		}
		return nil
	})
}
func MustTradeID(s string) TradeID { return must[tradeKind](NewTradeID(s)) }

func NewPositionID(s string) (PositionID, error) { return newIdentifier[positionKind](s, nil) }
func MustPositionID(s string) PositionID         { return must[positionKind](NewPositionID(s)) }

func NewOrderListID(s string) (OrderListID, error) { return newIdentifier[orderListKind](s, nil) }
func MustOrderListID(s string) OrderListID         { return must[orderListKind](NewOrderListID(s)) }

func NewExecAlgorithmID(s string) (ExecAlgorithmID, error) {
	return newIdentifier[execAlgorithmKind](s, nil)
}

// InstrumentID is <symbol>.<venue>.
type InstrumentID struct {
	Symbol Symbol
	Venue  Venue
}

func NewInstrumentID(symbol Symbol, venue Venue) InstrumentID {
	return InstrumentID{Symbol: symbol, Venue: venue}
}

// ParseInstrumentID splits on the last '.', so symbols may contain dots.
func ParseInstrumentID(s string) (InstrumentID, error) {
	i := strings.LastIndexByte(s, '.')
	if i <= 0 || i == len(s)-1 {
		return InstrumentID{}, fmt.Errorf("%w: instrument id %q: expected <symbol>.<venue>", exception.ErrInvalidArgument, s)
	}
	symbol, err := NewSymbol(s[:i])
	if err != nil {
		return InstrumentID{}, err
	}
	venue, err := NewVenue(s[i+1:])
	if err != nil {
		return InstrumentID{}, err
	}
	return InstrumentID{Symbol: symbol, Venue: venue}, nil
}

func MustInstrumentID(s string) InstrumentID {
	id, err := ParseInstrumentID(s)
	if err != nil {
		panic(err)
	}
	return id
}

func (id InstrumentID) IsZero() bool { return id.Symbol.IsZero() && id.Venue.IsZero() }

func (id InstrumentID) String() string {
	if id.IsZero() {
		return ""
	}
	return id.Symbol.String() + "." + id.Venue.String()
}

func (id InstrumentID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *InstrumentID) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*id = InstrumentID{}
		return nil
	}
	v, err := ParseInstrumentID(string(b))
	if err != nil {
		return err
	}
	*id = v
	return nil
}
