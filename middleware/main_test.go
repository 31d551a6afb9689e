package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/modelrelay/modelrelay/common/client"
	"github.com/modelrelay/modelrelay/model"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestMain(m *testing.M) {
	client.Init()
	os.Exit(m.Run())
}

// setupTestDB points the model package at a fresh on-disk SQLite database,
// mirroring the model package's own harness. Fixture ids are unique across
// the process so the in-memory lookup cache never serves a stale row from a
// previous test's database.
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
		&model.Plan{},
		&model.Credential{},
		&model.CreditTransaction{},
		&model.ActivityRecord{},
		&model.ChatSession{},
		&model.SessionMessage{},
		&model.UsageWindow{},
	))
}

var fixtureSeq atomic.Int64

func nextId() int64 {
	return 100_000 + fixtureSeq.Add(1)
}

// seedPrincipal inserts an enabled principal and one live credential bound
// to it, returning both plus the plaintext bearer key.
func seedPrincipal(t *testing.T, mutate func(p *model.Principal, cred *model.Credential)) (*model.Principal, *model.Credential, string) {
	t.Helper()
	ctx := context.Background()

	p := &model.Principal{
		Id:            nextId(),
		DisplayName:   "acme",
		Status:        model.PrincipalStatusEnabled,
		CreditBalance: 25,
	}
	cred := &model.Credential{
		Id:          nextId(),
		PrincipalId: p.Id,
		Name:        "default",
		Status:      model.CredentialStatusEnabled,
	}
	if mutate != nil {
		mutate(p, cred)
	}
	require.NoError(t, model.DB.WithContext(ctx).Create(p).Error)

	key := "mr_live_" + strings.ReplaceAll(t.Name(), "/", "_") + "_" + strconv.FormatInt(cred.Id, 10)
	require.NoError(t, model.InsertCredential(ctx, cred, key))
	return p, cred, key
}

// newRelayContext builds a gin test context for a chat completion POST with
// the given bearer key and JSON body.
func newRelayContext(key, body string) (*gin.Context, *httptest.ResponseRecorder) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")
	if key != "" {
		c.Request.Header.Set("Authorization", "Bearer "+key)
	}
	return c, w
}
