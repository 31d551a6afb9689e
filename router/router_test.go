package router

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/modelrelay/modelrelay/common/config"
	"github.com/modelrelay/modelrelay/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestEngine() *gin.Engine {
	engine := gin.New()
	engine.Use(middleware.RequestId())
	SetRouter(engine)
	return engine
}

func TestStatusRouteIsOpen(t *testing.T) {
	engine := newTestEngine()

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest("GET", "/api/status", nil))
	require.Equal(t, http.StatusOK, w.Code)
}

func TestRelayRoutesRequireCredential(t *testing.T) {
	engine := newTestEngine()

	for _, path := range []string{
		"/v1/chat/completions",
		"/v1/messages",
		"/v1/responses",
		"/v1/images/generations",
	} {
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, httptest.NewRequest("POST", path, nil))
		require.Equal(t, http.StatusUnauthorized, w.Code, "path %s", path)
		require.NotEmpty(t, w.Header().Get("X-Request-Id"), "path %s", path)
	}
}

func TestModelRoutesRequireCredential(t *testing.T) {
	engine := newTestEngine()

	for _, path := range []string{"/v1/models", "/v1/models/gpt-4o"} {
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, httptest.NewRequest("GET", path, nil))
		require.Equal(t, http.StatusUnauthorized, w.Code, "path %s", path)
	}
}

func TestMetricsRouteFollowsConfig(t *testing.T) {
	prev := config.EnablePrometheusMetrics
	t.Cleanup(func() { config.EnablePrometheusMetrics = prev })

	config.EnablePrometheusMetrics = true
	w := httptest.NewRecorder()
	newTestEngine().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)

	config.EnablePrometheusMetrics = false
	w = httptest.NewRecorder()
	newTestEngine().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, http.StatusNotFound, w.Code)
}
