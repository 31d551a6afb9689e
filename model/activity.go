package model

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"

	"github.com/modelrelay/modelrelay/common/logger"
)

// ActivityRecord is the per-request activity log row consumed by analytics:
// who called what, how many tokens it burned, what it cost, and how fast the
// provider answered.
type ActivityRecord struct {
	Id           int64  `json:"id" gorm:"primaryKey"`
	RequestId    string `json:"request_id" gorm:"size:64;uniqueIndex"`
	// AttemptId names the provider attempt that settled the request; a
	// replayed request records the child id of the attempt that won.
	AttemptId    string `json:"attempt_id" gorm:"size:72"`
	PrincipalId  int64  `json:"principal_id" gorm:"index"`
	CredentialId int64  `json:"credential_id"`

	Provider string `json:"provider" gorm:"size:64"`
	Model    string `json:"model" gorm:"size:191"`

	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	ReasoningTokens  int `json:"reasoning_tokens"`

	Cost float64 `json:"cost"`

	FirstTokenMs int64 `json:"first_token_ms"`
	TotalMs      int64 `json:"total_ms"`

	StatusCode int    `json:"status_code"`
	Outcome    string `json:"outcome" gorm:"size:32"`

	CreatedAt time.Time `json:"created_at" gorm:"index"`
}

// AppendActivity records one request's outcome. Idempotent on request id
// with the same update-first discipline as the ledger, since the billing
// tail may replay after a crash.
func AppendActivity(ctx context.Context, record *ActivityRecord) error {
	if record.RequestId == "" {
		return errors.New("activity record requires a request id")
	}
	go pruneOldActivity()

	updates := map[string]any{
		"attempt_id":        record.AttemptId,
		"prompt_tokens":     record.PromptTokens,
		"completion_tokens": record.CompletionTokens,
		"reasoning_tokens":  record.ReasoningTokens,
		"cost":              record.Cost,
		"first_token_ms":    record.FirstTokenMs,
		"total_ms":          record.TotalMs,
		"status_code":       record.StatusCode,
		"outcome":           record.Outcome,
	}
	tx := DB.WithContext(ctx).Model(&ActivityRecord{}).
		Where("request_id = ?", record.RequestId).
		Updates(updates)
	if tx.Error != nil {
		return errors.Wrap(tx.Error, "update activity record")
	}
	if tx.RowsAffected > 0 {
		return nil
	}

	if err := DB.WithContext(ctx).Create(record).Error; err == nil {
		return nil
	}
	err := DB.WithContext(ctx).Model(&ActivityRecord{}).
		Where("request_id = ?", record.RequestId).
		Updates(updates).Error
	return errors.Wrap(err, "update activity record after create race")
}

const activityRetention = 90 * 24 * time.Hour

var muPruneActivity sync.Mutex

// pruneOldActivity trims records past retention. Runs on roughly one write
// in a thousand so no cron entry is needed for small deployments.
func pruneOldActivity() {
	if rand.Float32() > 0.001 {
		return
	}
	if !muPruneActivity.TryLock() {
		return
	}
	defer muPruneActivity.Unlock()

	err := DB.Where("created_at < ?", time.Now().Add(-activityRetention)).
		Delete(&ActivityRecord{}).Error
	if err != nil {
		logger.Logger.Error("failed to prune old activity records", zap.Error(err))
	}
}
