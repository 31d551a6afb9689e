package model

import (
	"context"
	"time"

	"github.com/Laisky/errors/v2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/modelrelay/modelrelay/common/config"
)

const (
	PrincipalStatusEnabled  = 1
	PrincipalStatusDisabled = 2
)

// Trial states derived from the trial fields. A principal that never started
// a trial has no trial restrictions; conversion and first purchase both end
// the trial permanently.
const (
	TrialNotStarted = "not_started"
	TrialActive     = "active"
	TrialExpired    = "expired"
	TrialConverted  = "converted"
)

// Principal is an authenticated tenant with a credit balance. The balance is
// USD and never goes negative: DebitBalance clamps at zero and flags the
// shortfall instead.
type Principal struct {
	Id          int64  `json:"id" gorm:"primaryKey"`
	DisplayName string `json:"display_name" gorm:"size:191"`
	Status      int    `json:"status" gorm:"default:1"`

	CreditBalance float64 `json:"credit_balance" gorm:"default:0"`
	PlanId        *int64  `json:"plan_id"`

	TrialStartedAt  *time.Time `json:"trial_started_at"`
	TrialExpiresAt  *time.Time `json:"trial_expires_at"`
	TrialTokenCap   int64      `json:"trial_token_cap"`
	TrialTokensUsed int64      `json:"trial_tokens_used"`
	TrialConverted  bool       `json:"trial_converted"`

	FirstPurchaseAt *time.Time `json:"first_purchase_at"`
	RequestCount    int64      `json:"request_count"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LoadPrincipal fetches a principal row by id.
func LoadPrincipal(ctx context.Context, id int64) (*Principal, error) {
	var p Principal
	if err := DB.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		return nil, errors.Wrapf(err, "load principal %d", id)
	}
	return &p, nil
}

// IsActive reports whether the principal may relay requests at all.
func (p *Principal) IsActive() bool {
	return p.Status == PrincipalStatusEnabled
}

// TrialState derives the trial lifecycle state at the given instant.
func (p *Principal) TrialState(now time.Time) string {
	switch {
	case p.TrialConverted || p.FirstPurchaseAt != nil:
		return TrialConverted
	case p.TrialStartedAt == nil:
		return TrialNotStarted
	case p.TrialExpiresAt != nil && now.After(*p.TrialExpiresAt):
		return TrialExpired
	case p.TrialTokenCap > 0 && p.TrialTokensUsed >= p.TrialTokenCap:
		return TrialExpired
	default:
		return TrialActive
	}
}

// InTrial reports whether trial restrictions apply: the trial has started
// and has not been converted away.
func (p *Principal) InTrial(now time.Time) bool {
	state := p.TrialState(now)
	return state == TrialActive || state == TrialExpired
}

// DebitPrincipalBalance applies the conditional decrement that is the only
// legal balance mutator on the usage path. The fast path is one round trip:
// decrement only when the balance covers the full cost. When it does not,
// a short transaction re-reads the row, clamps the balance to zero, and
// reports the shortfall via postDebt.
func DebitPrincipalBalance(ctx context.Context, id int64, cost float64) (actualDebit float64, postDebt bool, err error) {
	if cost < 0 {
		return 0, false, errors.Errorf("negative debit %f for principal %d", cost, id)
	}
	if cost == 0 {
		return 0, false, nil
	}

	tx := DB.WithContext(ctx).Model(&Principal{}).
		Where("id = ? AND credit_balance >= ?", id, cost).
		Update("credit_balance", gorm.Expr("credit_balance - ?", cost))
	if tx.Error != nil {
		return 0, false, errors.Wrapf(tx.Error, "debit principal %d", id)
	}
	if tx.RowsAffected > 0 {
		return cost, false, nil
	}

	// Balance below cost: clamp to zero inside a transaction so concurrent
	// debits against the same principal serialize on the row.
	err = DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx
		if !UsingSQLite.Load() {
			// SQLite serializes writers already and rejects FOR UPDATE.
			q = q.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		var p Principal
		if err := q.First(&p, "id = ?", id).Error; err != nil {
			return errors.Wrapf(err, "load principal %d for clamped debit", id)
		}
		actualDebit = p.CreditBalance
		if actualDebit < 0 {
			actualDebit = 0
		}
		if actualDebit > cost {
			// Raced with a concurrent top-up; the full cost is covered now.
			actualDebit = cost
		}
		postDebt = actualDebit < cost
		if err := tx.Model(&Principal{}).Where("id = ?", id).
			Update("credit_balance", gorm.Expr("credit_balance - ?", actualDebit)).Error; err != nil {
			return errors.Wrapf(err, "clamp principal %d balance", id)
		}
		return nil
	})
	if err != nil {
		return 0, false, err
	}
	return actualDebit, postDebt, nil
}

// CreditPrincipalBalance adds credit to a principal. Used by refund and
// bonus flows; purchases arrive through external billing.
func CreditPrincipalBalance(ctx context.Context, id int64, amount float64) error {
	if amount <= 0 {
		return errors.Errorf("non-positive credit %f for principal %d", amount, id)
	}
	err := DB.WithContext(ctx).Model(&Principal{}).
		Where("id = ?", id).
		Update("credit_balance", gorm.Expr("credit_balance + ?", amount)).Error
	return errors.Wrapf(err, "credit principal %d", id)
}

// BumpPrincipalUsage increments the request counter and, while a trial is
// running, the trial token tally.
func BumpPrincipalUsage(ctx context.Context, id int64, tokens int64, inTrial bool) error {
	updates := map[string]any{
		"request_count": gorm.Expr("request_count + 1"),
	}
	if inTrial && tokens > 0 {
		updates["trial_tokens_used"] = gorm.Expr("trial_tokens_used + ?", tokens)
	}
	err := DB.WithContext(ctx).Model(&Principal{}).
		Where("id = ?", id).
		Updates(updates).Error
	return errors.Wrapf(err, "bump usage for principal %d", id)
}

// StartTrial arms the trial window using the configured duration and token
// cap. No-op when a trial already started.
func StartTrial(ctx context.Context, id int64) error {
	now := time.Now()
	expires := now.Add(time.Duration(config.TrialDurationDays) * 24 * time.Hour)
	tx := DB.WithContext(ctx).Model(&Principal{}).
		Where("id = ? AND trial_started_at IS NULL", id).
		Updates(map[string]any{
			"trial_started_at": now,
			"trial_expires_at": expires,
			"trial_token_cap":  config.TrialTokenCap,
		})
	if tx.Error != nil {
		return errors.Wrapf(tx.Error, "start trial for principal %d", id)
	}
	return nil
}
