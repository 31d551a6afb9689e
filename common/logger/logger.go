// Package logger wires the process-wide structured logger. Request-scoped
// loggers carrying request and trace ids come from gmw.GetLogger; the global
// Logger serves init paths and background tasks that have no gin context.
package logger

import (
	"context"

	gmw "github.com/Laisky/gin-middlewares/v7"
	glog "github.com/Laisky/go-utils/v6/log"
	"github.com/Laisky/zap"

	"github.com/modelrelay/modelrelay/common/config"
)

// Logger is the shared structured logger.
var Logger glog.Logger = glog.Shared.Named("modelrelay")

// SetupLogger applies the configured log level. Call once from main after
// the environment has been loaded.
func SetupLogger() {
	level := glog.LevelInfo
	if config.DebugEnabled {
		level = glog.LevelDebug
	}
	if err := Logger.ChangeLevel(level); err != nil {
		Logger.Error("failed to change log level", zap.Error(err))
	}
}

// FromContext returns the request-scoped logger when the context wraps a gin
// context, falling back to the global logger otherwise.
func FromContext(ctx context.Context) glog.Logger {
	if ctx != nil {
		if ginCtx, ok := gmw.GetGinCtxFromStdCtx(ctx); ok {
			return gmw.GetLogger(ginCtx)
		}
	}
	return Logger
}
