package model

import (
	"context"
	"time"

	"github.com/Laisky/errors/v2"
)

// Plan is a subscription tier that caps monthly volume and optionally
// overrides the per-minute ceilings and the minimum-balance floor. A
// principal without a plan only faces the global rate limits.
type Plan struct {
	Id   int64  `json:"id" gorm:"primaryKey"`
	Name string `json:"name" gorm:"size:64;uniqueIndex"`

	// Monthly caps; zero disables the cap.
	MonthlyRequestCap int64 `json:"monthly_request_cap"`
	MonthlyTokenCap   int64 `json:"monthly_token_cap"`

	// Per-minute ceilings overriding the global defaults; zero keeps the
	// global value.
	RequestsPerMinute int64 `json:"requests_per_minute"`
	TokensPerMinute   int64 `json:"tokens_per_minute"`

	// MinBalanceFloor overrides the global admission floor in USD.
	MinBalanceFloor float64 `json:"min_balance_floor"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GetPlan fetches a plan row by id.
func GetPlan(ctx context.Context, id int64) (*Plan, error) {
	var p Plan
	if err := DB.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		return nil, errors.Wrapf(err, "load plan %d", id)
	}
	return &p, nil
}
