package model

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppendUsageTransactionIsIdempotent(t *testing.T) {
	setupTestDB(t)
	ctx := context.Background()

	entry := &CreditTransaction{
		PrincipalId:  1,
		Amount:       -0.002,
		Reference:    "req-abc",
		BalanceAfter: 9.998,
	}
	require.NoError(t, AppendUsageTransaction(ctx, entry))

	// Replay with updated figures: the row is updated, never duplicated.
	replay := &CreditTransaction{
		PrincipalId:  1,
		Amount:       -0.003,
		Reference:    "req-abc",
		BalanceAfter: 9.997,
	}
	require.NoError(t, AppendUsageTransaction(ctx, replay))

	var count int64
	require.NoError(t, DB.Model(&CreditTransaction{}).Where("reference = ?", "req-abc").Count(&count).Error)
	require.EqualValues(t, 1, count)

	stored, err := GetTransactionByReference(ctx, "req-abc")
	require.NoError(t, err)
	require.Equal(t, TransactionKindUsage, stored.Kind)
	require.InDelta(t, -0.003, stored.Amount, 1e-9)
}

func TestAppendUsageTransactionRequiresReference(t *testing.T) {
	setupTestDB(t)
	require.Error(t, AppendUsageTransaction(context.Background(), &CreditTransaction{PrincipalId: 1}))
}

func TestAppendCreditTransactionRejectsUsageKind(t *testing.T) {
	setupTestDB(t)
	err := AppendCreditTransaction(context.Background(), &CreditTransaction{
		PrincipalId: 1,
		Amount:      1,
		Kind:        TransactionKindUsage,
		Reference:   "pay-1",
	})
	require.Error(t, err)
}

// Ledger-matches-state: the transaction sum tracks the balance movement,
// with post_debt rows recording the clamped (actual) debit.
func TestLedgerReconcilesWithBalance(t *testing.T) {
	setupTestDB(t)
	ctx := context.Background()

	initial := 1.0
	require.NoError(t, DB.Create(&Principal{Id: 9, CreditBalance: initial}).Error)

	costs := []struct {
		ref  string
		cost float64
	}{
		{"req-1", 0.3},
		{"req-2", 0.5},
		{"req-3", 0.4}, // only 0.2 left; clamps
	}
	for _, c := range costs {
		debit, postDebt, err := DebitPrincipalBalance(ctx, 9, c.cost)
		require.NoError(t, err)
		p, err := LoadPrincipal(ctx, 9)
		require.NoError(t, err)
		require.NoError(t, AppendUsageTransaction(ctx, &CreditTransaction{
			PrincipalId:  9,
			Amount:       -debit,
			Reference:    c.ref,
			PostDebt:     postDebt,
			BalanceAfter: p.CreditBalance,
		}))
	}

	sum, err := SumTransactions(ctx, 9)
	require.NoError(t, err)

	p, err := LoadPrincipal(ctx, 9)
	require.NoError(t, err)
	require.InDelta(t, p.CreditBalance-initial, sum, 1e-9)
	require.InDelta(t, 0, p.CreditBalance, 1e-9)

	last, err := GetTransactionByReference(ctx, "req-3")
	require.NoError(t, err)
	require.True(t, last.PostDebt)
	require.InDelta(t, -0.2, last.Amount, 1e-9)
}
