package router

import (
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"

	"github.com/modelrelay/modelrelay/controller"
	"github.com/modelrelay/modelrelay/middleware"
)

// SetRelayRouter registers the credential-authenticated relay surface.
// The catalog endpoints sit behind auth alone; the relay endpoints run the
// full admission chain before the failover engine takes over. Relay routes
// skip gzip so SSE chunks flush unbuffered.
func SetRelayRouter(router *gin.Engine) {
	modelsRouter := router.Group("/v1/models")
	modelsRouter.Use(gzip.Gzip(gzip.DefaultCompression), middleware.CredentialAuth())
	{
		modelsRouter.GET("", controller.ListModels)
		modelsRouter.GET("/:model", controller.RetrieveModel)
	}

	relayRouter := router.Group("/v1")
	relayRouter.Use(middleware.CredentialAuth(), middleware.RateLimit(), middleware.Distribute())
	{
		relayRouter.POST("/chat/completions", controller.Relay)
		relayRouter.POST("/messages", controller.Relay)
		relayRouter.POST("/responses", controller.Relay)
		relayRouter.POST("/images/generations", controller.Relay)
	}
}
