package command

import (
	"fmt"

	"hftcore/internal/model"
	"hftcore/internal/model/enum"
	"hftcore/pkg/exception"
)

// DataBase is embedded by every data command. Either ClientID or Venue
// selects the data client.
type DataBase struct {
	ClientID  model.ClientID
	Venue     model.Venue
	CommandID model.UUID4
	TsInit    model.UnixNanos
}

// DataSpec names the stream a subscription or request is about.
type DataSpec struct {
	Kind         enum.DataKind
	InstrumentID model.InstrumentID
	BarType      model.BarType
	BookType     enum.BookType
	Depth        int
	// IntervalMs is the snapshot interval for DataBookSnapshot.
	IntervalMs int64
	Params     map[string]string
}

func (s DataSpec) Validate() error {
	if !s.Kind.IsAvailable() {
		return fmt.Errorf("%w: data kind %d", exception.ErrInvalidArgument, s.Kind)
	}
	switch s.Kind {
	case enum.DataBar:
		if s.BarType.InstrumentID.IsZero() {
			return fmt.Errorf("%w: bar subscription without bar type", exception.ErrInvalidArgument)
		}
	case enum.DataBookSnapshot:
		if s.IntervalMs <= 0 {
			return fmt.Errorf("%w: book snapshots for %s need a positive interval", exception.ErrInvalidArgument, s.InstrumentID)
		}
		if s.InstrumentID.IsZero() {
			return fmt.Errorf("%w: %s subscription without instrument", exception.ErrInvalidArgument, s.Kind)
		}
	case enum.DataInstrument:
	default:
		if s.InstrumentID.IsZero() {
			return fmt.Errorf("%w: %s subscription without instrument", exception.ErrInvalidArgument, s.Kind)
		}
	}
	return nil
}

// Instrument returns the instrument the stream belongs to.
func (s DataSpec) Instrument() model.InstrumentID {
	if s.Kind == enum.DataBar {
		return s.BarType.InstrumentID
	}
	return s.InstrumentID
}

// Key identifies the stream for subscription bookkeeping.
func (s DataSpec) Key() string {
	switch s.Kind {
	case enum.DataBar:
		return s.Kind.String() + ":" + s.BarType.String()
	case enum.DataBookSnapshot:
		return fmt.Sprintf("%s:%s:%d", s.Kind, s.InstrumentID, s.IntervalMs)
	}
	return s.Kind.String() + ":" + s.InstrumentID.String()
}

type Subscribe struct {
	DataBase
	DataSpec
}

type Unsubscribe struct {
	DataBase
	DataSpec
}

// Request asks a data client for historical data. Start and End bound the
// range when non-zero; Limit caps the item count when positive.
type Request struct {
	DataBase
	DataSpec
	Start model.UnixNanos
	End   model.UnixNanos
	Limit int
}

// Response answers a Request. CorrelationID is the request's CommandID.
type Response struct {
	DataBase
	DataSpec
	CorrelationID model.UUID4
	Data          []model.Data
}
