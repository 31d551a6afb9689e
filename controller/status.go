package controller

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/modelrelay/modelrelay/common"
	"github.com/modelrelay/modelrelay/monitor"
	"github.com/modelrelay/modelrelay/relay/provider"
)

var startTime = time.Now()

// Status serves GET /api/status: liveness plus a per-provider health view
// for operators. No tenant data leaks here; the endpoint is unauthenticated.
func Status(c *gin.Context) {
	bindings := provider.All()
	providers := make([]gin.H, 0, len(bindings))
	for _, b := range bindings {
		entry := gin.H{
			"id":     b.Id,
			"family": b.Family,
		}
		if until, suspended := monitor.SuspendedUntil(b.Id); suspended {
			entry["suspended_until"] = until.UTC().Format(time.RFC3339)
		}
		providers = append(providers, entry)
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"version":    common.Version,
			"go_version": runtime.Version(),
			"uptime_sec": int64(time.Since(startTime).Seconds()),
			"providers":  providers,
		},
	})
}
