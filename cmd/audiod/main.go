package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"audiod/internal/core/domain"
	"audiod/internal/core/ports"
	"audiod/internal/core/services"
	httphandlers "audiod/internal/handlers/http"
	"audiod/internal/handlers/luna"
	"audiod/internal/infrastructure/distributed"
	"audiod/internal/infrastructure/middleware"
	"audiod/internal/infrastructure/mixer"
	"audiod/internal/infrastructure/monitoring"
	"audiod/internal/infrastructure/policyconfig"
	wssignal "audiod/internal/infrastructure/signal"
	"audiod/pkg/config"
	"audiod/pkg/logger"
	"audiod/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

func loadConfig() (*config.Config, string, error) {
	configPaths := []string{
		"configs/config.yaml",
		"/etc/audiod/config.yaml",
		"config.yaml",
	}
	if path := os.Getenv("AUDIOD_CONFIG"); path != "" {
		configPaths = []string{path}
	}

	for _, path := range configPaths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		cfg, err := config.Load(path)
		return cfg, path, err
	}

	cfg, err := config.Load(configPaths[0])
	return cfg, "", err
}

func main() {
	startTime := time.Now()

	cfg, cfgPath, err := loadConfig()
	if err != nil {
		logger.New("info", "json").Sugar().Fatalw("Invalid configuration", "error", err)
	}

	zapLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()
	if cfgPath == "" {
		log.Info("No config file found, using defaults")
	} else {
		log.Infow("Loaded config", "path", cfgPath)
	}

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("Failed to initialise tracing", "error", err)
	}

	sinkPolicies, err := policyconfig.LoadFile(cfg.Policy.SinkConfigPath, domain.KindSink)
	if err != nil {
		log.Fatalw("Failed to load sink policy", "path", cfg.Policy.SinkConfigPath, "error", err)
	}
	sourcePolicies, err := policyconfig.LoadFile(cfg.Policy.SourceConfigPath, domain.KindSource)
	if err != nil {
		log.Fatalw("Failed to load source policy", "path", cfg.Policy.SourceConfigPath, "error", err)
	}
	log.Infow("Loaded volume policies", "sinks", len(sinkPolicies), "sources", len(sourcePolicies))

	mixerClient, err := mixer.New(cfg, log)
	if err != nil {
		log.Fatalw("Failed to create mixer client", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := wssignal.NewHub(log)
	notifiers := services.NotifierFanout{hub}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = distributed.NewRedisClient(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.PoolSize, log)
		if err != nil {
			log.Fatalw("Failed to connect to Redis", "error", err)
		}
		bus := distributed.NewEventBus(redisClient, cfg.Redis.Channel, uuid.NewString(), cfg.Redis.PublishBuffer, log)
		go bus.Run(ctx)
		notifiers = append(notifiers, bus)
		log.Infow("Status mirror enabled", "channel", cfg.Redis.Channel)
	}

	var metrics ports.PolicyMetrics
	if cfg.Monitoring.PrometheusEnabled {
		metrics = monitoring.NewPrometheusCollector(prometheus.DefaultRegisterer)
	}

	policyService := services.NewVolumePolicyService(sinkPolicies, sourcePolicies, mixerClient, notifiers, log, services.PolicyServiceOptions{
		QueueSize: cfg.Policy.QueueSize,
		Metrics:   metrics,
	})

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		if err := policyService.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Errorw("Volume policy loop failed", "error", err)
		}
	}()
	go hub.Run(ctx)
	go func() {
		if err := mixerClient.Listen(ctx, policyService.HandleMixerEvent); err != nil {
			log.Errorw("Mixer event listener stopped", "error", err)
		}
	}()

	healthChecker := monitoring.NewHealthChecker()
	healthChecker.AddMixerReadinessCheck(policyService, []domain.MixerBackend{domain.BackendPrimary}, cfg.Monitoring.HealthCheckInterval, cfg.Monitoring.HealthCheckTimeout)
	if mixerClient.NATS != nil {
		healthChecker.AddNATSCheck(mixerClient.NATS, cfg.Monitoring.HealthCheckInterval, cfg.Monitoring.HealthCheckTimeout)
	}
	if redisClient != nil {
		healthChecker.AddRedisCheck(redisClient, cfg.Monitoring.HealthCheckInterval, cfg.Monitoring.HealthCheckTimeout)
	}
	healthChecker.StartBackgroundChecks(ctx, log)

	var authService services.AuthService
	if cfg.Auth.Enabled {
		authService = services.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	}

	dispatcher := luna.NewDispatcher(policyService, log)
	audioHandler := httphandlers.NewAudioHandler(dispatcher, logger.NewContextLogger(zapLogger), cfg.Auth.Enabled)
	wsServer := wssignal.NewWebSocketServer(dispatcher, hub, authService, cfg, zapLogger)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(log),
		middleware.RequestIDMiddleware(),
		middleware.TracingMiddleware(),
		middleware.ErrorHandlerMiddleware(log),
	)

	api := router.Group("/")
	if authService != nil {
		api.Use(middleware.OptionalAuthMiddleware(authService))
		httphandlers.NewAuthHandler(authService, cfg.Auth.TokenTTL).SetupRoutes(router)
	}
	api.Use(middleware.NewHTTPRateLimitMiddleware(cfg))
	audioHandler.SetupRoutes(api)

	router.GET(cfg.Bus.Path, gin.WrapF(wsServer.HandleWebSocket))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "healthy",
			"timestamp":   time.Now(),
			"uptime":      time.Since(startTime).String(),
			"connections": wsServer.Connections(),
		})
	})

	router.GET("/ready", func(c *gin.Context) {
		status := healthChecker.CheckAll(c.Request.Context())
		code := http.StatusOK
		if status.Status != "healthy" {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, status)
	})

	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
		log.Info("Prometheus metrics enabled")
	}

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("Starting audiod", "address", cfg.Server.Address, "mixer", cfg.Mixer.Transport)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Errorw("Server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("Received shutdown signal", "signal", sig)
	}

	log.Info("Shutting down audiod...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("Error force closing server", "error", closeErr)
		}
	}

	cancel()
	<-loopDone

	if err := mixerClient.Close(); err != nil {
		log.Errorw("Error closing mixer client", "error", err)
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			log.Errorw("Error closing Redis client", "error", err)
		}
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error shutting down tracer provider", "error", err)
	}

	log.Info("audiod stopped")
}
