package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"redis-limiter/internal/config"
	"redis-limiter/internal/handler"
	"redis-limiter/internal/logger"
	"redis-limiter/internal/metrics"
	"redis-limiter/internal/service"
	"redis-limiter/internal/storage"
)

func main() {
	// Carregar configurações
	configLoader := config.NewConfigLoader()
	cfg, err := configLoader.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Inicializar logger
	appLogger := logger.NewLoggerWithOutput(cfg.LogLevel, cfg.LogFormat, os.Stdout)
	appLogger.Info("Starting Rate Limiter API", map[string]interface{}{
		"version":   "1.0.0",
		"log_level": cfg.LogLevel,
		"port":      cfg.ServerPort,
		"storage":   cfg.StorageType,
	})

	// Inicializar storage
	storageConfig := storage.BuildStorageConfigFromEnv(cfg.StorageType, cfg.RedisHost, cfg.RedisPort, cfg.RedisPassword, cfg.RedisDB)
	recordStore, err := storage.NewStorageFactory().CreateStorage(storageConfig, appLogger)
	if err != nil {
		appLogger.Error("Failed to create storage", err, nil)
		os.Exit(1)
	}
	defer recordStore.Close()

	// Métricas
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	limiterMetrics := metrics.NewMetrics(registry)

	// Inicializar service
	limiter, err := service.NewRateLimiterService(
		recordStore,
		cfg.LimiterName,
		cfg.Rules,
		service.WithLogger(appLogger),
		service.WithMetrics(limiterMetrics),
		service.WithKeyPrefix(cfg.KeyPrefix),
	)
	if err != nil {
		appLogger.Error("Invalid limiter configuration", err, nil)
		os.Exit(1)
	}

	// Inicializar handlers
	handlers := handler.NewHandlers(limiter, appLogger, handler.Options{
		Health:            recordStore,
		Gatherer:          registry,
		ElementHeader:     cfg.ElementHeader,
		TrustProxyHeaders: cfg.TrustProxyHeaders,
	})

	// Configurar Gin
	if cfg.GinMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(gin.LoggerWithFormatter(func(param gin.LogFormatterParams) string {
		return fmt.Sprintf("[%s] \"%s %s %s %d %s \"%s\" %s\"\n",
			param.TimeStamp.Format("2006/01/02 - 15:04:05"),
			param.Method,
			param.Path,
			param.Request.Proto,
			param.StatusCode,
			param.Latency,
			param.Request.UserAgent(),
			param.ErrorMessage,
		)
	}))

	handlers.SetupRoutes(router)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		appLogger.Info("Starting HTTP server", map[string]interface{}{
			"port": cfg.ServerPort,
			"addr": server.Addr,
		})

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("Failed to start server", err, nil)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	appLogger.Info("Rate Limiter API is running", map[string]interface{}{
		"port":    cfg.ServerPort,
		"limiter": cfg.LimiterName,
		"rules":   limiter.Rules(),
		"endpoints": []string{
			"GET  /health",
			"GET  /metrics",
			"GET  /             (rate limited)",
			"GET  /admin/limits",
			"GET  /admin/status",
			"GET  /admin/check",
			"POST /admin/reset",
		},
	})

	<-quit
	appLogger.Info("Shutting down server...", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown", err, nil)
		os.Exit(1)
	}

	appLogger.Info("Server stopped gracefully", nil)
}
