package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/finkargo/tip-analytics/internal/analytics"
	"github.com/finkargo/tip-analytics/internal/api"
	"github.com/finkargo/tip-analytics/internal/api/handlers"
	"github.com/finkargo/tip-analytics/internal/config"
	"github.com/finkargo/tip-analytics/internal/engine"
	"github.com/finkargo/tip-analytics/internal/metrics"
	"github.com/finkargo/tip-analytics/internal/providers"
	"github.com/finkargo/tip-analytics/internal/storage/postgres"
	"github.com/finkargo/tip-analytics/internal/storage/redis"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := newLogger(cfg.Log)
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	checks := map[string]handlers.ReadinessCheck{}

	// Database (optional): persisted uploads and the upload log
	var db *postgres.DB
	if cfg.Database.URL != "" {
		if err := postgres.Migrate(cfg.Database, logger); err != nil {
			logger.Fatal("Failed to migrate database", zap.Error(err))
		}
		db, err = postgres.Connect(ctx, cfg.Database, logger)
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer db.Close()
		checks["database"] = db.Healthcheck
	}

	// Redis (optional): shared cache for the CSV provider
	var cache providers.ResponseCache
	if cfg.Redis.URL != "" {
		client, err := redis.Connect(ctx, cfg.Redis.URL, 5, logger)
		if err != nil {
			logger.Fatal("Failed to connect to redis", zap.Error(err))
		}
		defer client.Close()
		cache = redis.NewCache(client, cfg.Redis.KeyPrefix, logger.Named("cache"))
		checks["redis"] = client.Healthcheck
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	chain, err := buildProviders(ctx, cfg, db, cache, logger)
	if err != nil {
		logger.Fatal("Failed to build providers", zap.Error(err))
	}

	service := analytics.NewService(chain, analytics.Options{
		HealthInterval:  cfg.Analytics.HealthInterval,
		ProviderTimeout: cfg.Analytics.ProviderTimeout,
		Logger:          logger.Named("analytics"),
		Recorder:        collector,
	})
	go service.Start(ctx)

	if cfg.Metrics.Enabled && cfg.Metrics.Mimir.URL != "" {
		writer := metrics.NewRemoteWriter(cfg.Metrics.Mimir, registry, logger.Named("remote_write"))
		go writer.Start(ctx)
	}

	handlerOpts := handlers.Options{
		Service: service,
		Checks:  checks,
		Metrics: collector,
		Logger:  logger,
	}
	if db != nil {
		handlerOpts.Uploads = db
	}
	server := api.NewServer(cfg, handlers.NewHandler(handlerOpts), registry, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      server.Router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	logger.Info("API server started",
		zap.String("port", cfg.Server.Port),
		zap.Int("providers", len(chain)),
		zap.Bool("auth_enabled", cfg.Auth.Enabled))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}

func newLogger(cfg config.LogConfig) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.Development {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	return logger
}

func buildProviders(ctx context.Context, cfg *config.Config, db *postgres.DB, cache providers.ResponseCache, logger *zap.Logger) ([]analytics.Provider, error) {
	var chain []analytics.Provider

	if cfg.Providers.RealDataEnabled {
		var store providers.DatasetStore
		if db != nil {
			store = db
		}
		realData := providers.NewRealDataProvider(engine.New(engine.DefaultOptions()), store, logger.Named("realdata"))
		loaded, err := realData.Rehydrate(ctx)
		if err != nil {
			logger.Warn("Failed to rehydrate datasets", zap.Error(err))
		} else if loaded > 0 {
			logger.Info("Rehydrated tenant datasets", zap.Int("tenants", loaded))
		}
		chain = append(chain, realData)
	}

	httpCfg := func(baseURL string) providers.HTTPConfig {
		return providers.HTTPConfig{
			BaseURL:    baseURL,
			APIKey:     cfg.Providers.APIKey,
			HTTPClient: &http.Client{Timeout: cfg.Analytics.ProviderTimeout},
		}
	}

	if cfg.Providers.BackendURL != "" {
		backend, err := providers.NewBackendProvider(httpCfg(cfg.Providers.BackendURL), cfg.Providers.BackendPriority, logger.Named("backend"))
		if err != nil {
			return nil, err
		}
		chain = append(chain, backend)
	}

	if cfg.Providers.CSVURL != "" {
		csv, err := providers.NewCSVProvider(providers.CSVConfig{
			HTTPConfig: httpCfg(cfg.Providers.CSVURL),
			Priority:   cfg.Providers.CSVPriority,
			CacheTTL:   cfg.Providers.CSVCacheTTL,
			Cache:      cache,
			Logger:     logger.Named("csv"),
		})
		if err != nil {
			return nil, err
		}
		chain = append(chain, csv)
	}

	chain = append(chain, providers.NewFallbackProvider(cfg.Analytics.FallbackPriority))
	return chain, nil
}
