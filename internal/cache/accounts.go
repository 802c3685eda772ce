package cache

import (
	"fmt"
	"slices"
	"strings"

	"hftcore/internal/model"
	"hftcore/internal/state"
	"hftcore/pkg/exception"
)

func (c *Cache) AddAccount(a *state.Account) error {
	if _, ok := c.accounts[a.ID]; ok {
		return fmt.Errorf("%w: account %s", exception.ErrDuplicateKey, a.ID)
	}
	c.accounts[a.ID] = a
	c.ix.venueAccount[model.AccountIssuer(a.ID)] = a.ID
	c.persist("add account", func(db Database) error { return db.AddAccount(a) })
	return nil
}

func (c *Cache) UpdateAccount(a *state.Account) error {
	if _, ok := c.accounts[a.ID]; !ok {
		return fmt.Errorf("%w: update of uncached account %s", exception.ErrUnknownAccount, a.ID)
	}
	c.accounts[a.ID] = a
	c.persist("update account", func(db Database) error { return db.UpdateAccount(a) })
	return nil
}

func (c *Cache) Account(id model.AccountID) (*state.Account, bool) {
	a, ok := c.accounts[id]
	return a, ok
}

func (c *Cache) AccountID(venue model.Venue) (model.AccountID, bool) {
	id, ok := c.ix.venueAccount[venue]
	return id, ok
}

func (c *Cache) AccountForVenue(venue model.Venue) (*state.Account, bool) {
	id, ok := c.ix.venueAccount[venue]
	if !ok {
		return nil, false
	}
	return c.Account(id)
}

// Accounts lists accounts issued by venue, or all when venue is zero.
func (c *Cache) Accounts(venue model.Venue) []*state.Account {
	out := make([]*state.Account, 0, len(c.accounts))
	for id, a := range c.accounts {
		if !venue.IsZero() && model.AccountIssuer(id) != venue {
			continue
		}
		out = append(out, a)
	}
	slices.SortFunc(out, func(x, y *state.Account) int { return strings.Compare(x.ID.String(), y.ID.String()) })
	return out
}
