package billing

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/modelrelay/modelrelay/common/ctxkey"
	"github.com/modelrelay/modelrelay/common/graceful"
	"github.com/modelrelay/modelrelay/common/helper"
	"github.com/modelrelay/modelrelay/model"
	"github.com/modelrelay/modelrelay/relay/meta"
	relaymodel "github.com/modelrelay/modelrelay/relay/model"
	"github.com/modelrelay/modelrelay/relay/pricing"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func setupTestDB(t *testing.T) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "modelrelay-test.db")
	db, err := gorm.Open(sqlite.Open(path+"?_busy_timeout=3000"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	prev := model.DB
	model.DB = db
	model.UsingSQLite.Store(true)
	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
		model.DB = prev
	})

	require.NoError(t, db.AutoMigrate(
		&model.Principal{},
		&model.CreditTransaction{},
		&model.ActivityRecord{},
		&model.UsageWindow{},
	))
}

var fixtureSeq atomic.Int64

func nextId() int64 {
	return 200_000 + fixtureSeq.Add(1)
}

func seedPrincipal(t *testing.T, balance float64) *model.Principal {
	t.Helper()
	p := &model.Principal{
		Id:            nextId(),
		DisplayName:   "billing-test",
		Status:        1,
		CreditBalance: balance,
	}
	require.NoError(t, model.DB.Create(p).Error)
	return p
}

func settlementFor(p *model.Principal, cost float64) *Settlement {
	return &Settlement{
		RequestId:    helper.GenRequestID(),
		PrincipalId:  p.Id,
		CredentialId: nextId(),
		ProviderId:   "openai",
		Model:        "gpt-4o-mini",
		Usage: &relaymodel.Usage{
			PromptTokens:     120,
			CompletionTokens: 80,
			TotalTokens:      200,
		},
		CostUSD:      cost,
		StatusCode:   200,
		Outcome:      OutcomeSuccess,
		FirstTokenMs: 150,
		TotalMs:      900,
	}
}

func TestApplyDebitsAndRecords(t *testing.T) {
	setupTestDB(t)
	ctx := context.Background()

	p := seedPrincipal(t, 10)
	s := settlementFor(p, 0.5)
	require.NoError(t, Apply(ctx, s))

	reloaded, err := model.LoadPrincipal(ctx, p.Id)
	require.NoError(t, err)
	require.InDelta(t, 9.5, reloaded.CreditBalance, 1e-9)
	require.Equal(t, int64(1), reloaded.RequestCount)

	entry, err := model.GetTransactionByReference(ctx, s.RequestId)
	require.NoError(t, err)
	require.InDelta(t, -0.5, entry.Amount, 1e-9)
	require.False(t, entry.PostDebt)
	require.Equal(t, model.TransactionKindUsage, entry.Kind)

	var activity model.ActivityRecord
	require.NoError(t, model.DB.First(&activity, "request_id = ?", s.RequestId).Error)
	require.Equal(t, 120, activity.PromptTokens)
	require.Equal(t, 80, activity.CompletionTokens)
	require.InDelta(t, 0.5, activity.Cost, 1e-9)
	require.Equal(t, OutcomeSuccess, activity.Outcome)
	require.Equal(t, int64(150), activity.FirstTokenMs)

	window, err := model.GetUsageWindow(ctx, p.Id, model.CurrentPeriod(time.Now()))
	require.NoError(t, err)
	require.Equal(t, int64(200), window.TokenCount)
}

func TestApplyReplayKeepsSingleLedgerRow(t *testing.T) {
	setupTestDB(t)
	ctx := context.Background()

	p := seedPrincipal(t, 10)
	s := settlementFor(p, 0.25)
	require.NoError(t, Apply(ctx, s))
	require.NoError(t, Apply(ctx, s))

	var ledgerCount, activityCount int64
	require.NoError(t, model.DB.Model(&model.CreditTransaction{}).
		Where("reference = ?", s.RequestId).Count(&ledgerCount).Error)
	require.NoError(t, model.DB.Model(&model.ActivityRecord{}).
		Where("request_id = ?", s.RequestId).Count(&activityCount).Error)
	require.Equal(t, int64(1), ledgerCount)
	require.Equal(t, int64(1), activityCount)
}

func TestApplyClampsDebitAtZero(t *testing.T) {
	setupTestDB(t)
	ctx := context.Background()

	p := seedPrincipal(t, 0.2)
	s := settlementFor(p, 0.5)
	require.NoError(t, Apply(ctx, s))

	reloaded, err := model.LoadPrincipal(ctx, p.Id)
	require.NoError(t, err)
	require.InDelta(t, 0, reloaded.CreditBalance, 1e-9)

	entry, err := model.GetTransactionByReference(ctx, s.RequestId)
	require.NoError(t, err)
	require.True(t, entry.PostDebt)
	require.InDelta(t, -0.2, entry.Amount, 1e-9)

	var activity model.ActivityRecord
	require.NoError(t, model.DB.First(&activity, "request_id = ?", s.RequestId).Error)
	require.InDelta(t, 0.2, activity.Cost, 1e-9)
}

func TestApplyZeroCostSuccessStillLedgers(t *testing.T) {
	setupTestDB(t)
	ctx := context.Background()

	p := seedPrincipal(t, 5)
	s := settlementFor(p, 0)
	require.NoError(t, Apply(ctx, s))

	// A successful request always pairs its activity row with a usage
	// entry, even when the model is free.
	entry, err := model.GetTransactionByReference(ctx, s.RequestId)
	require.NoError(t, err)
	require.InDelta(t, 0, entry.Amount, 1e-9)
	require.Equal(t, model.TransactionKindUsage, entry.Kind)

	var activity model.ActivityRecord
	require.NoError(t, model.DB.First(&activity, "request_id = ?", s.RequestId).Error)
	require.InDelta(t, 0, activity.Cost, 1e-9)

	reloaded, err := model.LoadPrincipal(ctx, p.Id)
	require.NoError(t, err)
	require.InDelta(t, 5, reloaded.CreditBalance, 1e-9)
}

func TestApplyZeroCostErrorSkipsLedger(t *testing.T) {
	setupTestDB(t)
	ctx := context.Background()

	p := seedPrincipal(t, 5)
	s := settlementFor(p, 0)
	s.Outcome = OutcomeError
	s.StatusCode = 502
	require.NoError(t, Apply(ctx, s))

	_, err := model.GetTransactionByReference(ctx, s.RequestId)
	require.Error(t, err)

	var activity model.ActivityRecord
	require.NoError(t, model.DB.First(&activity, "request_id = ?", s.RequestId).Error)
	require.Equal(t, OutcomeError, activity.Outcome)
}

func TestApplyRecordsAttemptId(t *testing.T) {
	setupTestDB(t)
	ctx := context.Background()

	p := seedPrincipal(t, 5)
	s := settlementFor(p, 0.1)
	s.AttemptId = s.RequestId + "-r2"
	require.NoError(t, Apply(ctx, s))

	var activity model.ActivityRecord
	require.NoError(t, model.DB.First(&activity, "request_id = ?", s.RequestId).Error)
	require.Equal(t, s.RequestId+"-r2", activity.AttemptId)

	entry, err := model.GetTransactionByReference(ctx, s.RequestId)
	require.NoError(t, err)
	require.Contains(t, entry.Metadata, `"attempt_id":"`+s.RequestId+`-r2"`)
}

func TestOutcomeOf(t *testing.T) {
	t.Parallel()

	require.Equal(t, OutcomeError, OutcomeOf(nil))
	require.Equal(t, OutcomeError, OutcomeOf(&relaymodel.ErrorWithStatusCode{StatusCode: 502}))
	require.Equal(t, OutcomeAbandoned, OutcomeOf(&relaymodel.ErrorWithStatusCode{
		Class: relaymodel.FailureAbandoned,
	}))
}

func TestSettleRunsAsyncTail(t *testing.T) {
	setupTestDB(t)

	p := seedPrincipal(t, 10)
	requestId := helper.GenRequestID()

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("POST", "/v1/chat/completions", nil)
	c.Set(ctxkey.RequestId, requestId)

	m := &meta.Meta{
		PrincipalId:     p.Id,
		CredentialId:    nextId(),
		ProviderId:      "openai",
		OriginModelName: "gpt-4o-mini",
		Price:           pricing.NewSnapshot("gpt-4o-mini", "openai", 1, 2, 0, 0),
		StartTime:       time.Now(),
	}
	usage := &relaymodel.Usage{PromptTokens: 1000, CompletionTokens: 500, TotalTokens: 1500}

	Settle(c, m, usage, 200, OutcomeSuccess)
	require.True(t, graceful.Wait(5*time.Second))

	entry, err := model.GetTransactionByReference(context.Background(), requestId)
	require.NoError(t, err)
	// 1000 input at $1/MTok plus 500 output at $2/MTok.
	require.InDelta(t, -0.002, entry.Amount, 1e-9)

	reloaded, err := model.LoadPrincipal(context.Background(), p.Id)
	require.NoError(t, err)
	require.InDelta(t, 10-0.002, reloaded.CreditBalance, 1e-9)
}

func TestSettleWithoutPrincipalIsNoOp(t *testing.T) {
	setupTestDB(t)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("POST", "/v1/chat/completions", nil)

	Settle(c, &meta.Meta{}, &relaymodel.Usage{TotalTokens: 10}, 200, OutcomeSuccess)
	require.True(t, graceful.Wait(time.Second))

	var count int64
	require.NoError(t, model.DB.Model(&model.ActivityRecord{}).Count(&count).Error)
	require.Zero(t, count)
}
