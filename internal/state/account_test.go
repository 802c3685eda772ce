package state_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hftcore/internal/model"
	"hftcore/internal/state"
	"hftcore/internal/testkit"
	"hftcore/pkg/exception"
)

func TestNewAccountBalanceClampsLocked(t *testing.T) {
	b, err := state.NewAccountBalance(model.MustMoney("100 USD"), model.MustMoney("150 USD"))
	require.NoError(t, err)
	assert.Equal(t, "100.00 USD", b.Locked.String())
	assert.True(t, b.Free.IsZero())

	_, err = state.NewAccountBalance(model.MustMoney("-1 USD"), model.MustMoney("0 USD"))
	require.ErrorIs(t, err, exception.ErrInvalidArgument)
}

func TestAccountApplyReplacesSnapshot(t *testing.T) {
	a, err := state.NewAccount(testkit.CashState(testkit.SimAccount, model.MustMoney("1000 USDT"), model.MustMoney("1 BTC")))
	require.NoError(t, err)
	assert.Equal(t, "1000.00000000 USDT", a.BalanceTotal(model.USDT).String())
	assert.Len(t, a.Balances(), 2)

	require.NoError(t, a.Apply(testkit.CashState(testkit.SimAccount, model.MustMoney("900 USDT"))))
	assert.Equal(t, "900.00000000 USDT", a.BalanceFree(model.USDT).String())
	_, ok := a.Balance(model.BTC)
	assert.False(t, ok)
	assert.Len(t, a.Events(), 2)
}

func TestAccountRejectsInconsistentState(t *testing.T) {
	a, err := state.NewAccount(testkit.CashState(testkit.SimAccount, model.MustMoney("10 USD")))
	require.NoError(t, err)

	bad := testkit.CashState(testkit.SimAccount)
	bad.Balances = []state.AccountBalance{{
		Total:  model.MustMoney("10 USD"),
		Locked: model.MustMoney("3 USD"),
		Free:   model.MustMoney("8 USD"),
	}}
	require.ErrorIs(t, a.Apply(bad), exception.ErrInvalidArgument)
	assert.Equal(t, "10.00 USD", a.BalanceTotal(model.USD).String())
}

func TestAccountNextStateMerges(t *testing.T) {
	a, err := state.NewAccount(testkit.CashState(testkit.SimAccount, model.MustMoney("10 USD"), model.MustMoney("1 BTC")))
	require.NoError(t, err)

	usd, err := state.NewAccountBalance(model.MustMoney("12 USD"), model.MustMoney("2 USD"))
	require.NoError(t, err)
	next := a.NextState([]state.AccountBalance{usd}, nil, 5)
	require.Len(t, next.Balances, 2)
	assert.Equal(t, "BTC", next.Balances[0].Currency().Code)
	assert.False(t, next.IsReported)

	require.NoError(t, a.Apply(next))
	assert.Equal(t, "10.00 USD", a.BalanceFree(model.USD).String())
}
