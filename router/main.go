// Package router wires the HTTP surface: the OpenAI-compatible relay
// routes, the operator API, and the Prometheus scrape endpoint.
package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/modelrelay/modelrelay/common/config"
)

// SetRouter registers every route group on the engine.
func SetRouter(engine *gin.Engine) {
	SetRelayRouter(engine)
	SetApiRouter(engine)
	if config.EnablePrometheusMetrics {
		engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}
}
