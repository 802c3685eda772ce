// Package sandbox simulates a venue over the matching core. The execution
// client fills orders against the last quotes and trades it saw; the data
// client replays loaded market data. Both are deterministic under a TestClock.
package sandbox

import (
	"fmt"

	"hftcore/internal/model"
	"hftcore/internal/model/enum"
	"hftcore/pkg/exception"
)

type Config struct {
	Venue       model.Venue
	ClientID    model.ClientID
	AccountID   model.AccountID
	AccountType enum.AccountType
	OmsType     enum.OmsType
	// StartingBalances are reported as the account state on connect.
	StartingBalances []model.Money
	// UseTrades lets trades move the bid and ask when no quotes arrive.
	UseTrades bool
}

// DefaultConfig is a netting margin venue named venue.
func DefaultConfig(venue model.Venue) Config {
	return Config{
		Venue:       venue,
		ClientID:    model.MustClientID(venue.String()),
		AccountID:   model.MustAccountID(venue.String() + "-001"),
		AccountType: enum.AccountMargin,
		OmsType:     enum.OmsNetting,
		UseTrades:   true,
	}
}

func (c Config) Validate() error {
	if c.Venue.IsZero() {
		return fmt.Errorf("%w: sandbox venue is empty", exception.ErrInvalidArgument)
	}
	if c.ClientID.IsZero() || c.AccountID.IsZero() {
		return fmt.Errorf("%w: sandbox %s needs a client and account id", exception.ErrInvalidArgument, c.Venue)
	}
	for _, b := range c.StartingBalances {
		if b.IsNegative() {
			return fmt.Errorf("%w: sandbox %s starting balance %s", exception.ErrInvalidArgument, c.Venue, b)
		}
	}
	return nil
}
