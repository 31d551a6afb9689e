package model

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDebitPrincipalBalanceFastPath(t *testing.T) {
	setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, DB.Create(&Principal{Id: 1, CreditBalance: 10}).Error)

	debit, postDebt, err := DebitPrincipalBalance(ctx, 1, 2.5)
	require.NoError(t, err)
	require.False(t, postDebt)
	require.InDelta(t, 2.5, debit, 1e-9)

	p, err := LoadPrincipal(ctx, 1)
	require.NoError(t, err)
	require.InDelta(t, 7.5, p.CreditBalance, 1e-9)
}

func TestDebitPrincipalBalanceClampsToZero(t *testing.T) {
	setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, DB.Create(&Principal{Id: 2, CreditBalance: 0.0001}).Error)

	debit, postDebt, err := DebitPrincipalBalance(ctx, 2, 0.01)
	require.NoError(t, err)
	require.True(t, postDebt)
	require.InDelta(t, 0.0001, debit, 1e-9)

	p, err := LoadPrincipal(ctx, 2)
	require.NoError(t, err)
	require.InDelta(t, 0, p.CreditBalance, 1e-9)
}

func TestDebitPrincipalBalanceZeroCostIsNoop(t *testing.T) {
	setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, DB.Create(&Principal{Id: 3, CreditBalance: 5}).Error)

	debit, postDebt, err := DebitPrincipalBalance(ctx, 3, 0)
	require.NoError(t, err)
	require.False(t, postDebt)
	require.Zero(t, debit)

	p, err := LoadPrincipal(ctx, 3)
	require.NoError(t, err)
	require.InDelta(t, 5, p.CreditBalance, 1e-9)
}

func TestDebitPrincipalBalanceRejectsNegativeCost(t *testing.T) {
	setupTestDB(t)

	_, _, err := DebitPrincipalBalance(context.Background(), 4, -1)
	require.Error(t, err)
}

// The conditional-decrement algebra: applying a serial trace of debits and
// credits always lands on max(0, running sum), with each debit clamped to
// the balance available at its turn.
func TestDebitCreditTraceNeverGoesNegative(t *testing.T) {
	setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, DB.Create(&Principal{Id: 5, CreditBalance: 1.0}).Error)

	trace := []float64{-0.4, -0.8, 0.5, -0.2, -0.6, 2.0, -1.5}
	expected := 1.0
	for _, amount := range trace {
		if amount >= 0 {
			require.NoError(t, CreditPrincipalBalance(ctx, 5, amount))
			expected += amount
			continue
		}
		debit, postDebt, err := DebitPrincipalBalance(ctx, 5, -amount)
		require.NoError(t, err)
		if -amount > expected {
			require.True(t, postDebt)
			require.InDelta(t, expected, debit, 1e-9)
			expected = 0
		} else {
			require.False(t, postDebt)
			expected -= -amount
		}
	}

	p, err := LoadPrincipal(ctx, 5)
	require.NoError(t, err)
	require.InDelta(t, expected, p.CreditBalance, 1e-9)
	require.GreaterOrEqual(t, p.CreditBalance, 0.0)
}

func TestTrialStateTransitions(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	tests := []struct {
		name string
		p    Principal
		want string
	}{
		{"never started", Principal{}, TrialNotStarted},
		{"active", Principal{TrialStartedAt: &past, TrialExpiresAt: &future, TrialTokenCap: 100}, TrialActive},
		{"expired by deadline", Principal{TrialStartedAt: &past, TrialExpiresAt: &past}, TrialExpired},
		{"expired by token cap", Principal{TrialStartedAt: &past, TrialExpiresAt: &future, TrialTokenCap: 100, TrialTokensUsed: 100}, TrialExpired},
		{"converted", Principal{TrialStartedAt: &past, TrialConverted: true}, TrialConverted},
		{"converted by purchase", Principal{TrialStartedAt: &past, TrialExpiresAt: &past, FirstPurchaseAt: &past}, TrialConverted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, tt.p.TrialState(now))
		})
	}
}

func TestBumpPrincipalUsageTracksTrialTokens(t *testing.T) {
	setupTestDB(t)
	ctx := context.Background()

	started := time.Now().Add(-time.Hour)
	require.NoError(t, DB.Create(&Principal{Id: 6, TrialStartedAt: &started, TrialTokenCap: 1000}).Error)

	require.NoError(t, BumpPrincipalUsage(ctx, 6, 120, true))
	require.NoError(t, BumpPrincipalUsage(ctx, 6, 80, true))

	p, err := LoadPrincipal(ctx, 6)
	require.NoError(t, err)
	require.EqualValues(t, 2, p.RequestCount)
	require.EqualValues(t, 200, p.TrialTokensUsed)
}
