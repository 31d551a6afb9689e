package main

import (
	"context"
	"net/http"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	gmw "github.com/Laisky/gin-middlewares/v7"
	glog "github.com/Laisky/go-utils/v6/log"
	"github.com/Laisky/zap"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/modelrelay/modelrelay/common"
	"github.com/modelrelay/modelrelay/common/client"
	"github.com/modelrelay/modelrelay/common/config"
	"github.com/modelrelay/modelrelay/common/graceful"
	"github.com/modelrelay/modelrelay/common/logger"
	"github.com/modelrelay/modelrelay/common/telemetry"
	"github.com/modelrelay/modelrelay/middleware"
	"github.com/modelrelay/modelrelay/model"
	"github.com/modelrelay/modelrelay/monitor"
	"github.com/modelrelay/modelrelay/relay/catalog"
	"github.com/modelrelay/modelrelay/relay/provider"
	"github.com/modelrelay/modelrelay/router"
)

func main() {
	// Missing .env is fine; production deployments configure through the
	// process environment.
	_ = godotenv.Load()
	logger.SetupLogger()
	lg := logger.Logger

	startTime := time.Now()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bundle, err := telemetry.InitOpenTelemetry(ctx)
	if err != nil {
		lg.Fatal("failed to initialize OpenTelemetry", zap.Error(err))
	}

	if err := model.InitDB(); err != nil {
		lg.Fatal("failed to initialize database", zap.Error(err))
	}
	if err := common.InitRedisClient(); err != nil {
		lg.Fatal("failed to initialize redis client", zap.Error(err))
	}
	client.Init()
	if err := monitor.InitMonitoring(common.Version, common.BuildTime, runtime.Version(), startTime); err != nil {
		lg.Fatal("failed to initialize monitoring", zap.Error(err))
	}

	if err := provider.LoadAndInstall(ctx, config.ProvidersConfigPath); err != nil {
		lg.Fatal("failed to load provider config",
			zap.String("path", config.ProvidersConfigPath), zap.Error(err))
	}
	if config.ProvidersConfigWatch {
		if err := provider.Watch(ctx, config.ProvidersConfigPath); err != nil {
			lg.Warn("provider config watch unavailable", zap.Error(err))
		}
	}

	catalog.Warmup(ctx)
	cronRunner := cron.New()
	if err := catalog.RegisterCron(cronRunner); err != nil {
		lg.Warn("catalog refresh cron not registered", zap.Error(err))
	}
	cronRunner.Start()

	gin.SetMode(config.GinMode)
	engine := buildEngine()
	router.SetRouter(engine)

	srv := &http.Server{
		Addr:    ":" + config.Port,
		Handler: engine,
	}
	go func() {
		lg.Info("modelrelay listening",
			zap.String("port", config.Port),
			zap.String("version", common.Version))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			lg.Fatal("http server exited", zap.Error(err))
		}
	}()

	<-ctx.Done()
	lg.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cronRunner.Stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		lg.Warn("http server shutdown incomplete", zap.Error(err))
	}
	// Billing tails and session appends drain before the process exits.
	graceful.Wait(time.Duration(config.BillingTimeoutSec) * time.Second)
	if err := bundle.Shutdown(shutdownCtx); err != nil {
		lg.Warn("telemetry shutdown incomplete", zap.Error(err))
	}
	if err := model.CloseDB(); err != nil {
		lg.Warn("database close failed", zap.Error(err))
	}
}

func buildEngine() *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())
	if config.OpenTelemetryEnabled {
		engine.Use(otelgin.Middleware(config.OpenTelemetryServiceName))
	}

	logLevel := glog.LevelInfo
	if config.DebugEnabled {
		logLevel = glog.LevelDebug
	}
	engine.Use(gmw.NewLoggerMiddleware(
		gmw.WithLevel(logLevel.String()),
		gmw.WithLogger(logger.Logger.Named("gin")),
	))
	engine.Use(cors.Default())
	engine.Use(middleware.RequestId())
	return engine
}
