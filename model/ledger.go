package model

import (
	"context"
	"time"

	"github.com/Laisky/errors/v2"
)

// RequestIDMaxLen bounds the reference column so the unique index stays
// cheap on MySQL.
const RequestIDMaxLen = 64

// Transaction kinds. Usage entries are negative; everything else credits.
const (
	TransactionKindUsage    = "usage"
	TransactionKindPurchase = "purchase"
	TransactionKindRefund   = "refund"
	TransactionKindBonus    = "bonus"
	TransactionKindPromo    = "promo"
)

// CreditTransaction is one entry of the append-only credit ledger. Usage
// entries carry the request id as Reference, which makes the ledger joinable
// with activity records and enforces one usage entry per request.
type CreditTransaction struct {
	Id          int64  `json:"id" gorm:"primaryKey"`
	PrincipalId int64  `json:"principal_id" gorm:"index"`
	Amount      float64 `json:"amount"`
	Kind        string `json:"kind" gorm:"size:16;index"`
	// Reference links the entry to its cause: the request id for usage,
	// the payment id for purchases. Unique so replays upsert instead of
	// double-appending.
	Reference string `json:"reference" gorm:"size:64;uniqueIndex"`

	// PostDebt marks a usage entry whose attempted cost exceeded the
	// balance; Amount records the actual clamped debit and Metadata the
	// attempted cost.
	PostDebt     bool    `json:"post_debt"`
	BalanceAfter float64 `json:"balance_after"`
	Metadata     string  `json:"metadata" gorm:"type:text"`

	CreatedAt time.Time `json:"created_at"`
}

// AppendUsageTransaction records the debit for one request. The write is
// idempotent on the request id: a replay (billing retry after a crash, or a
// duplicated tail task) updates the existing row instead of appending a
// second entry. Update-first avoids unique-conflict races without
// dialect-specific upsert clauses.
func AppendUsageTransaction(ctx context.Context, entry *CreditTransaction) error {
	if entry.Reference == "" {
		return errors.New("usage transaction requires a reference")
	}
	if len(entry.Reference) > RequestIDMaxLen {
		entry.Reference = entry.Reference[:RequestIDMaxLen]
	}
	entry.Kind = TransactionKindUsage

	updates := map[string]any{
		"amount":        entry.Amount,
		"post_debt":     entry.PostDebt,
		"balance_after": entry.BalanceAfter,
		"metadata":      entry.Metadata,
	}
	tx := DB.WithContext(ctx).Model(&CreditTransaction{}).
		Where("reference = ?", entry.Reference).
		Updates(updates)
	if tx.Error != nil {
		return errors.Wrap(tx.Error, "update usage transaction")
	}
	if tx.RowsAffected > 0 {
		return nil
	}

	if err := DB.WithContext(ctx).Create(entry).Error; err == nil {
		return nil
	}
	// Create lost a unique race; the row exists now, so update wins.
	err := DB.WithContext(ctx).Model(&CreditTransaction{}).
		Where("reference = ?", entry.Reference).
		Updates(updates).Error
	return errors.Wrap(err, "update usage transaction after create race")
}

// AppendCreditTransaction records a non-usage ledger entry (purchase,
// refund, bonus, promo).
func AppendCreditTransaction(ctx context.Context, entry *CreditTransaction) error {
	switch entry.Kind {
	case TransactionKindPurchase, TransactionKindRefund, TransactionKindBonus, TransactionKindPromo:
	default:
		return errors.Errorf("unsupported transaction kind %q", entry.Kind)
	}
	return errors.Wrap(DB.WithContext(ctx).Create(entry).Error, "append credit transaction")
}

// SumTransactions totals the signed amounts for a principal. Reconciliation
// checks this against balance movement.
func SumTransactions(ctx context.Context, principalId int64) (float64, error) {
	var total *float64
	err := DB.WithContext(ctx).Model(&CreditTransaction{}).
		Where("principal_id = ?", principalId).
		Select("SUM(amount)").
		Scan(&total).Error
	if err != nil {
		return 0, errors.Wrapf(err, "sum transactions for principal %d", principalId)
	}
	if total == nil {
		return 0, nil
	}
	return *total, nil
}

// GetTransactionByReference fetches a ledger entry by its reference.
func GetTransactionByReference(ctx context.Context, reference string) (*CreditTransaction, error) {
	var entry CreditTransaction
	if err := DB.WithContext(ctx).First(&entry, "reference = ?", reference).Error; err != nil {
		return nil, errors.Wrapf(err, "get transaction %q", reference)
	}
	return &entry, nil
}
