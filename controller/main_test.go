package controller

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/modelrelay/modelrelay/common/client"
	"github.com/modelrelay/modelrelay/common/ctxkey"
	"github.com/modelrelay/modelrelay/common/helper"
	"github.com/modelrelay/modelrelay/monitor"
	"github.com/modelrelay/modelrelay/relay/catalog"
	"github.com/modelrelay/modelrelay/relay/provider"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestMain(m *testing.M) {
	client.Init()
	os.Exit(m.Run())
}

// chatUpstream serves a minimal OpenAI-compatible upstream: a model listing
// for the catalog and a chat completion endpoint answering with the given
// status. Completion calls are counted so tests can assert attempt counts.
func chatUpstream(t *testing.T, status int, calls *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/models" {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"object": "list",
				"data":   []map[string]string{{"id": "gpt-4o"}},
			})
			return
		}
		atomic.AddInt32(calls, 1)
		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"upstream unavailable","type":"api_error","code":"upstream_down"}}`))
			return
		}
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"model": "gpt-4o",
			"choices": [{"index":0,"message":{"role":"assistant","content":"hello there"},"finish_reason":"stop"}],
			"usage": {"prompt_tokens":5,"completion_tokens":3,"total_tokens":8}
		}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func installBindings(t *testing.T, cfg *provider.Config) {
	t.Helper()
	provider.InstallConfig(context.Background(), cfg)
	catalog.ResetAll()
	monitor.ResetProviderHealth()
	t.Cleanup(func() {
		provider.InstallConfig(context.Background(), &provider.Config{})
		catalog.ResetAll()
		monitor.ResetProviderHealth()
	})
}

func newRelayContext(t *testing.T, chain []string) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	body := `{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}]}`
	c.Request = httptest.NewRequest("POST", "/v1/chat/completions", strings.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")
	c.Set(ctxkey.RequestId, helper.GenRequestID())
	c.Set(ctxkey.RequestModel, "gpt-4o")
	c.Set(ctxkey.ProviderChain, chain)
	return c, w
}
