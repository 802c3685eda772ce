package state

import (
	"fmt"
	"slices"

	"hftcore/internal/model"
	"hftcore/internal/model/enum"
	"hftcore/internal/schema"
	"hftcore/pkg/exception"
)

// AccountBalance holds total = locked + free in one currency.
type AccountBalance struct {
	Total  model.Money
	Locked model.Money
	Free   model.Money
}

// NewAccountBalance derives free from total and locked, clamping locked into [0, total].
func NewAccountBalance(total, locked model.Money) (AccountBalance, error) {
	if total.Currency.Code != locked.Currency.Code {
		return AccountBalance{}, fmt.Errorf("%w: balance currency mismatch %s/%s", exception.ErrInvalidArgument, total.Currency, locked.Currency)
	}
	if total.IsNegative() {
		return AccountBalance{}, fmt.Errorf("%w: negative total balance %s", exception.ErrInvalidArgument, total)
	}
	if locked.IsNegative() {
		locked = model.ZeroMoney(total.Currency)
	}
	if locked.Raw > total.Raw {
		locked = total
	}
	return AccountBalance{Total: total, Locked: locked, Free: total.Sub(locked)}, nil
}

func (b AccountBalance) Currency() model.Currency { return b.Total.Currency }

func (b AccountBalance) validate() error {
	c := b.Total.Currency.Code
	if b.Locked.Currency.Code != c || b.Free.Currency.Code != c {
		return fmt.Errorf("%w: balance currencies differ", exception.ErrInvalidArgument)
	}
	if b.Total.IsNegative() || b.Locked.IsNegative() || b.Free.IsNegative() {
		return fmt.Errorf("%w: negative balance %s", exception.ErrInvalidArgument, b.Total)
	}
	if b.Total.Raw != b.Locked.Raw+b.Free.Raw {
		return fmt.Errorf("%w: total %s != locked %s + free %s", exception.ErrInvalidArgument, b.Total, b.Locked, b.Free)
	}
	return nil
}

// MarginBalance is the margin held against one instrument.
type MarginBalance struct {
	InstrumentID model.InstrumentID
	Initial      model.Money
	Maintenance  model.Money
}

// AccountState is published on events.account.{account_id} and replaces the
// account's balance snapshot when applied.
type AccountState struct {
	AccountID    model.AccountID
	Type         enum.AccountType
	BaseCurrency model.Currency
	Balances     []AccountBalance
	Margins      []MarginBalance
	IsReported   bool
	EventID      model.UUID4
	TsEvent      model.UnixNanos
	TsInit       model.UnixNanos
}

func (*AccountState) EventType() schema.EventType { return schema.EventAccountState }

func (s *AccountState) Validate() error {
	if s.AccountID.IsZero() {
		return fmt.Errorf("%w: account state without account id", exception.ErrInvalidArgument)
	}
	for _, b := range s.Balances {
		if err := b.validate(); err != nil {
			return fmt.Errorf("account %s: %w", s.AccountID, err)
		}
	}
	return nil
}

type Account struct {
	ID           model.AccountID
	Type         enum.AccountType
	BaseCurrency model.Currency

	balances    map[string]AccountBalance
	margins     map[model.InstrumentID]MarginBalance
	commissions map[string]model.Money
	events      []*AccountState
}

func NewAccount(s *AccountState) (*Account, error) {
	a := &Account{
		ID:           s.AccountID,
		Type:         s.Type,
		BaseCurrency: s.BaseCurrency,
		balances:     map[string]AccountBalance{},
		margins:      map[model.InstrumentID]MarginBalance{},
		commissions:  map[string]model.Money{},
	}
	if err := a.Apply(s); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Account) IsCash() bool   { return a.Type == enum.AccountCash }
func (a *Account) IsMargin() bool { return a.Type == enum.AccountMargin }

// Apply replaces balances and margins with the state's snapshot.
func (a *Account) Apply(s *AccountState) error {
	if s.AccountID != a.ID {
		return fmt.Errorf("%w: state for %s applied to %s", exception.ErrInvalidArgument, s.AccountID, a.ID)
	}
	if err := s.Validate(); err != nil {
		return err
	}
	a.balances = make(map[string]AccountBalance, len(s.Balances))
	for _, b := range s.Balances {
		a.balances[b.Currency().Code] = b
	}
	a.margins = make(map[model.InstrumentID]MarginBalance, len(s.Margins))
	for _, m := range s.Margins {
		a.margins[m.InstrumentID] = m
	}
	a.events = append(a.events, s)
	return nil
}

func (a *Account) Balance(c model.Currency) (AccountBalance, bool) {
	b, ok := a.balances[c.Code]
	return b, ok
}

func (a *Account) BalanceTotal(c model.Currency) model.Money {
	if b, ok := a.balances[c.Code]; ok {
		return b.Total
	}
	return model.ZeroMoney(c)
}

func (a *Account) BalanceFree(c model.Currency) model.Money {
	if b, ok := a.balances[c.Code]; ok {
		return b.Free
	}
	return model.ZeroMoney(c)
}

func (a *Account) BalanceLocked(c model.Currency) model.Money {
	if b, ok := a.balances[c.Code]; ok {
		return b.Locked
	}
	return model.ZeroMoney(c)
}

// Balances are sorted by currency code.
func (a *Account) Balances() []AccountBalance {
	out := make([]AccountBalance, 0, len(a.balances))
	for _, b := range a.balances {
		out = append(out, b)
	}
	slices.SortFunc(out, func(x, y AccountBalance) int { return compareStrings(x.Currency().Code, y.Currency().Code) })
	return out
}

func (a *Account) Margin(id model.InstrumentID) (MarginBalance, bool) {
	m, ok := a.margins[id]
	return m, ok
}

func (a *Account) Margins() []MarginBalance {
	out := make([]MarginBalance, 0, len(a.margins))
	for _, m := range a.margins {
		out = append(out, m)
	}
	slices.SortFunc(out, func(x, y MarginBalance) int {
		return compareStrings(x.InstrumentID.String(), y.InstrumentID.String())
	})
	return out
}

func (a *Account) AddCommission(c model.Money) {
	if prev, ok := a.commissions[c.Currency.Code]; ok {
		a.commissions[c.Currency.Code] = prev.Add(c)
		return
	}
	a.commissions[c.Currency.Code] = c
}

func (a *Account) Commission(c model.Currency) model.Money {
	if m, ok := a.commissions[c.Code]; ok {
		return m
	}
	return model.ZeroMoney(c)
}

func (a *Account) LastEvent() *AccountState {
	if len(a.events) == 0 {
		return nil
	}
	return a.events[len(a.events)-1]
}

func (a *Account) Events() []*AccountState { return slices.Clone(a.events) }

// NextState builds an unreported state from the given balances and margins,
// carrying over currencies that are not mentioned.
func (a *Account) NextState(balances []AccountBalance, margins []MarginBalance, ts model.UnixNanos) *AccountState {
	merged := make(map[string]AccountBalance, len(a.balances))
	for k, v := range a.balances {
		merged[k] = v
	}
	for _, b := range balances {
		merged[b.Currency().Code] = b
	}
	mergedMargins := make(map[model.InstrumentID]MarginBalance, len(a.margins))
	for k, v := range a.margins {
		mergedMargins[k] = v
	}
	for _, m := range margins {
		mergedMargins[m.InstrumentID] = m
	}

	s := &AccountState{
		AccountID:    a.ID,
		Type:         a.Type,
		BaseCurrency: a.BaseCurrency,
		EventID:      model.NewUUID4(),
		TsEvent:      ts,
		TsInit:       ts,
	}
	for _, b := range merged {
		s.Balances = append(s.Balances, b)
	}
	slices.SortFunc(s.Balances, func(x, y AccountBalance) int { return compareStrings(x.Currency().Code, y.Currency().Code) })
	for _, m := range mergedMargins {
		s.Margins = append(s.Margins, m)
	}
	slices.SortFunc(s.Margins, func(x, y MarginBalance) int {
		return compareStrings(x.InstrumentID.String(), y.InstrumentID.String())
	})
	return s
}
