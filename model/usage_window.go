package model

import (
	"context"
	"time"

	"github.com/Laisky/errors/v2"
	"gorm.io/gorm"
)

// UsageWindow is the rolling monthly counter backing plan caps. One row per
// (principal, YYYYMM); bumps create the row lazily.
type UsageWindow struct {
	Id          int64  `json:"id" gorm:"primaryKey"`
	PrincipalId int64  `json:"principal_id" gorm:"uniqueIndex:idx_principal_period,priority:1"`
	Period      string `json:"period" gorm:"size:6;uniqueIndex:idx_principal_period,priority:2"`

	RequestCount int64 `json:"request_count"`
	TokenCount   int64 `json:"token_count"`

	UpdatedAt time.Time `json:"updated_at"`
}

// CurrentPeriod formats the YYYYMM bucket for an instant, in UTC so every
// gateway process agrees on window boundaries.
func CurrentPeriod(now time.Time) string {
	return now.UTC().Format("200601")
}

// GetUsageWindow reads the current month's counters, returning zeros when
// the row does not exist yet.
func GetUsageWindow(ctx context.Context, principalId int64, period string) (*UsageWindow, error) {
	var w UsageWindow
	err := DB.WithContext(ctx).
		First(&w, "principal_id = ? AND period = ?", principalId, period).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &UsageWindow{PrincipalId: principalId, Period: period}, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "load usage window %d/%s", principalId, period)
	}
	return &w, nil
}

// BumpUsageWindow adds one request and its token total to the current
// month's counters, creating the row when absent. Update-first keeps the
// hot path to one statement.
func BumpUsageWindow(ctx context.Context, principalId int64, period string, tokens int64) error {
	updates := map[string]any{
		"request_count": gorm.Expr("request_count + 1"),
		"token_count":   gorm.Expr("token_count + ?", tokens),
	}
	tx := DB.WithContext(ctx).Model(&UsageWindow{}).
		Where("principal_id = ? AND period = ?", principalId, period).
		Updates(updates)
	if tx.Error != nil {
		return errors.Wrap(tx.Error, "bump usage window")
	}
	if tx.RowsAffected > 0 {
		return nil
	}

	row := &UsageWindow{
		PrincipalId:  principalId,
		Period:       period,
		RequestCount: 1,
		TokenCount:   tokens,
	}
	if err := DB.WithContext(ctx).Create(row).Error; err == nil {
		return nil
	}
	// Lost the creation race to a concurrent request; update wins now.
	err := DB.WithContext(ctx).Model(&UsageWindow{}).
		Where("principal_id = ? AND period = ?", principalId, period).
		Updates(updates).Error
	return errors.Wrap(err, "bump usage window after create race")
}
