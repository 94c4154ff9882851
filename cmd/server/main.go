package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/duddu/homebridge-smartthings-webhook-server/internal/config"
	"github.com/duddu/homebridge-smartthings-webhook-server/internal/handler"
	"github.com/duddu/homebridge-smartthings-webhook-server/internal/health"
	"github.com/duddu/homebridge-smartthings-webhook-server/internal/httperr"
	"github.com/duddu/homebridge-smartthings-webhook-server/internal/metrics"
	"github.com/duddu/homebridge-smartthings-webhook-server/internal/server"
	"github.com/duddu/homebridge-smartthings-webhook-server/internal/service"
	"github.com/duddu/homebridge-smartthings-webhook-server/internal/smartapp"
	"github.com/duddu/homebridge-smartthings-webhook-server/internal/store"
	"github.com/duddu/homebridge-smartthings-webhook-server/internal/upstream"
)

// Set via -ldflags at build time.
var (
	version  = "dev"
	revision = "unknown"
)

func main() {
	bootLogger, err := zap.NewProduction()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}

	configPath := os.Getenv("HSWS_CONFIG")
	cfg, err := config.Load(configPath)
	if err != nil {
		bootLogger.Fatal("failed to load configuration", zap.Error(err))
	}

	logger := newLogger(cfg.Logging)
	defer logger.Sync()

	logger.Info("starting webhook relay",
		zap.String("version", version),
		zap.String("revision", revision),
		zap.Int("port", cfg.Server.Port),
		zap.String("smart_app_id", cfg.SmartApp.AppID))

	// Backing store: Redis, or the volatile in-memory store for local dev.
	var tenantStore store.TenantStore
	if cfg.Redis.Host != "" {
		redisStore, err := store.NewRedisStore(
			cfg.Redis.Host,
			cfg.Redis.Port,
			cfg.Redis.Password,
			cfg.Redis.DB,
			cfg.Redis.TLSEnabled,
			logger,
		)
		if err != nil {
			logger.Fatal("failed to initialize Redis store", zap.Error(err))
		}
		tenantStore = redisStore
		logger.Info("Redis store initialized",
			zap.String("host", cfg.Redis.Host),
			zap.Int("port", cfg.Redis.Port))
	} else {
		tenantStore = store.NewMemoryStore()
		logger.Warn("no Redis host configured, using volatile in-memory store")
	}
	defer tenantStore.Close()

	m := metrics.NewMetrics()

	upstreamClient := upstream.NewHTTPClient(cfg.SmartApp.APIBaseURL, cfg.SmartApp.RequestTimeout, logger)

	credentialService := service.NewCredentialService(tenantStore, logger)
	tenantService := service.NewTenantService(tenantStore, credentialService, logger)
	eventService := service.NewEventService(tenantStore, logger)
	subscriptionService := service.NewSubscriptionService(tenantStore, credentialService, upstreamClient, logger)

	errh := httperr.NewHandler(logger)
	handlers := handler.NewHandlers(
		subscriptionService, eventService, tenantService,
		errh, m, logger,
		version, revision, cfg.SmartApp.AppID,
	)
	lifecycle := smartapp.NewHandler(tenantService, eventService, m, cfg.SmartApp.AppName, logger)
	healthChecker := health.NewHealthChecker(tenantStore, logger)

	srv := server.NewServer(cfg, handlers, lifecycle, healthChecker, tenantService, errh, logger)
	srv.SetupRoutes()

	if cfg.Metrics.Enabled {
		go func() {
			mux := http.NewServeMux()
			mux.Handle(cfg.Metrics.Path, promhttp.Handler())
			addr := fmt.Sprintf(":%d", cfg.Metrics.Port)
			logger.Info("starting metrics server", zap.String("address", addr))
			if err := http.ListenAndServe(addr, mux); err != nil {
				logger.Error("metrics server failed", zap.Error(err))
			}
		}()
	}

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- srv.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", zap.Error(err))
	case sig := <-sigChan:
		logger.Info("received signal", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
	}

	logger.Info("webhook relay stopped")
}

// newLogger builds the service logger from the logging configuration.
func newLogger(cfg config.LoggingConfig) *zap.Logger {
	level := zapcore.InfoLevel
	if err := level.Set(cfg.Level); err != nil {
		level = zapcore.InfoLevel
	}

	zapCfg := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := zapCfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to build logger: %v", err))
	}
	return logger
}
