package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/modelrelay/modelrelay/common/ctxkey"
	"github.com/modelrelay/modelrelay/common/helper"
)

// RequestId mints the per-request id, echoes it in the X-Request-Id
// response header, and stores it for the billing tail and session appender.
// A client-supplied X-Request-Id is ignored: the id doubles as the billing
// reference, so it must be unforgeable.
func RequestId() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := helper.GenRequestID()
		c.Set(ctxkey.RequestId, id)
		c.Header(helper.RequestIdHeader, id)
		c.Next()
	}
}

// GetRequestId returns the id minted by the RequestId middleware.
func GetRequestId(c *gin.Context) string {
	return c.GetString(ctxkey.RequestId)
}
