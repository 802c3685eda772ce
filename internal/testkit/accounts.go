package testkit

import (
	"hftcore/internal/model"
	"hftcore/internal/model/enum"
	"hftcore/internal/state"
)

// CashState is a reported cash account state with free balances.
func CashState(id model.AccountID, balances ...model.Money) *state.AccountState {
	s := &state.AccountState{
		AccountID:  id,
		Type:       enum.AccountCash,
		IsReported: true,
		EventID:    model.NewUUID4(),
	}
	for _, b := range balances {
		bal, err := state.NewAccountBalance(b, model.ZeroMoney(b.Currency))
		if err != nil {
			panic(err)
		}
		s.Balances = append(s.Balances, bal)
	}
	return s
}

// MarginState is CashState for a margin account.
func MarginState(id model.AccountID, balances ...model.Money) *state.AccountState {
	s := CashState(id, balances...)
	s.Type = enum.AccountMargin
	return s
}
