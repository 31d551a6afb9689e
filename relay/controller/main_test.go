package controller

import (
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/modelrelay/modelrelay/model"
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
		&model.ChatSession{},
		&model.SessionMessage{},
	))
}

var fixtureSeq atomic.Int64

func nextId() int64 {
	return 300_000 + fixtureSeq.Add(1)
}

func newTestContext(t *testing.T) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("POST", "/v1/chat/completions", nil)
	return c, w
}
