package wallet

import (
	"context"
	"testing"

	"github.com/miragespace/vpsdash/apperror"
	"github.com/miragespace/vpsdash/db/dbtest"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(Options{Logger: zap.NewNop(), DB: dbtest.New(t)})
	require.NoError(t, err)
	return m
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestNewManager_Validation(t *testing.T) {
	_, err := NewManager(Options{DB: dbtest.New(t)})
	require.Error(t, err)
	_, err = NewManager(Options{Logger: zap.NewNop()})
	require.Error(t, err)
}

func TestApply_DepositAndCharge(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	entry, err := m.Apply(ctx, Change{UserID: "alice", Currency: " USDT ", Kind: KindDeposit, Amount: dec("50.25"), Reference: "order-1"})
	require.NoError(t, err)
	assert.Equal(t, "usdt", entry.Currency)
	assert.True(t, entry.Balance.Equal(dec("50.25")))

	_, err = m.Apply(ctx, Change{UserID: "alice", Currency: "usdt", Kind: KindCharge, Amount: dec("10"), Reference: "server-1"})
	require.NoError(t, err)

	balance, err := m.Balance(ctx, "alice", "usdt")
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec("40.25")), balance.String())

	entries, err := m.Entries(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	wallets, err := m.List(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, wallets, 1)
	assert.Equal(t, "usdt", wallets[0].Currency)
}

func TestApply_InsufficientBalance(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	_, err := m.Apply(ctx, Change{UserID: "bob", Currency: "btc", Kind: KindCharge, Amount: dec("1"), Reference: "server-1"})
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.KindConflict))
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	entries, err := m.Entries(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestApply_DuplicateReferenceRollsBack(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	change := Change{UserID: "carol", Currency: "usdt", Kind: KindDeposit, Amount: dec("20"), Reference: "order-9"}
	_, err := m.Apply(ctx, change)
	require.NoError(t, err)
	_, err = m.Apply(ctx, change)
	require.Error(t, err)

	balance, err := m.Balance(ctx, "carol", "usdt")
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec("20")), balance.String())
}

func TestApply_Validation(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	bad := []Change{
		{Currency: "usdt", Kind: KindDeposit, Amount: dec("1"), Reference: "r"},
		{UserID: "u", Kind: KindDeposit, Amount: dec("1"), Reference: "r"},
		{UserID: "u", Currency: "usdt", Kind: "gift", Amount: dec("1"), Reference: "r"},
		{UserID: "u", Currency: "usdt", Kind: KindDeposit, Amount: dec("0"), Reference: "r"},
		{UserID: "u", Currency: "usdt", Kind: KindDeposit, Amount: dec("1")},
	}
	for _, c := range bad {
		_, err := m.Apply(ctx, c)
		assert.True(t, apperror.Is(err, apperror.KindValidation), "%+v", c)
	}
}

func TestBalance_NoWallet(t *testing.T) {
	m := newTestManager(t)
	balance, err := m.Balance(context.Background(), "nobody", "usdt")
	require.NoError(t, err)
	assert.True(t, balance.IsZero())
}
