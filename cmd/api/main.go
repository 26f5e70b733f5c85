package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/RGAGroup/prayer-mapping-platform-sub000/internal/ai"
	"github.com/RGAGroup/prayer-mapping-platform-sub000/internal/catalog"
	"github.com/RGAGroup/prayer-mapping-platform-sub000/internal/config"
	httpserver "github.com/RGAGroup/prayer-mapping-platform-sub000/internal/http"
	"github.com/RGAGroup/prayer-mapping-platform-sub000/internal/http/handlers"
	"github.com/RGAGroup/prayer-mapping-platform-sub000/internal/lease"
	"github.com/RGAGroup/prayer-mapping-platform-sub000/internal/logging"
	"github.com/RGAGroup/prayer-mapping-platform-sub000/internal/metrics"
	"github.com/RGAGroup/prayer-mapping-platform-sub000/internal/quality"
	"github.com/RGAGroup/prayer-mapping-platform-sub000/internal/repository"
	"github.com/RGAGroup/prayer-mapping-platform-sub000/internal/service"
	"github.com/RGAGroup/prayer-mapping-platform-sub000/internal/worker"
)

func main() {
	dotEnvErr := config.LoadDotEnv(".env", ".env.local")
	cfg := config.Load()

	logger, err := logging.New(logging.Config{Level: cfg.LogLevel, Development: cfg.LogDevelopment})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	if dotEnvErr != nil {
		logger.Warn("failed loading .env files", zap.Error(dotEnvErr))
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("api stopped with error", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	instruments := metrics.New(registry)

	regions, err := catalog.Load(cfg.RegionCatalogPath)
	if err != nil {
		return fmt.Errorf("load region catalog: %w", err)
	}
	logger.Info("region catalog loaded", zap.Int("regions", regions.Len()))

	repo, contents, databaseCheck, repoCloser, err := setupRepository(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer repoCloser()

	locker, redisCheck, lockerCloser := setupLocker(ctx, cfg, logger)
	defer lockerCloser()

	generator, err := setupGenerator(ctx, cfg, logger)
	if err != nil {
		return err
	}

	runner := worker.NewRunner(worker.RunnerConfig{
		Repo:              repo,
		Contents:          contents,
		Generator:         generator,
		Locker:            locker,
		Metrics:           instruments,
		Logger:            logger,
		ItemDelay:         cfg.WorkerItemDelay(),
		RetryBackoff:      cfg.WorkerRetryBackoff(),
		GenerationTimeout: cfg.GenerationTimeout(),
		LeaseTTL:          cfg.LeaseTTL(),
	})

	var spawner service.Runner
	if cfg.WorkerEnabled {
		spawner = runner
	}
	batches := service.NewBatchService(service.BatchServiceDependencies{
		Repo:                 repo,
		Catalog:              regions,
		Runner:               spawner,
		Metrics:              instruments,
		Logger:               logger,
		MaxAttempts:          cfg.QueueMaxAttempts,
		DefaultCostPerRegion: cfg.DefaultCostPerRegion,
	})

	if cfg.WorkerEnabled {
		resumed, err := runner.Resume(ctx)
		if err != nil {
			logger.Error("failed to resume running batches", zap.Error(err))
		}
		logger.Info("worker enabled", zap.Int("resumed_batches", resumed))
	} else {
		logger.Info("worker disabled by configuration")
	}

	api := handlers.NewAPI(batches, logger).WithHealthChecks(map[string]handlers.HealthCheck{
		"postgres": databaseCheck,
		"redis":    redisCheck,
	})
	handler := httpserver.NewRouter(httpserver.RouterDependencies{
		API:            api,
		Metrics:        instruments.Handler(),
		Logger:         logger,
		AuthTokens:     cfg.AuthTokens,
		CORSOrigins:    cfg.CORSAllowedOrigins,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	})
	if len(cfg.AuthTokens) == 0 {
		logger.Warn("API_AUTH_TOKENS not configured, trusting X-Actor-Id header")
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Info("api listening", zap.String("port", cfg.Port))
		errChan <- server.ListenAndServe()
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("serve http: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful http shutdown failed", zap.Error(err))
	}
	if err := runner.Shutdown(shutdownCtx); err != nil {
		logger.Error("worker loops did not stop in time", zap.Error(err))
	}
	return serveErr
}

func setupRepository(
	ctx context.Context,
	cfg config.Config,
	logger *zap.Logger,
) (repository.BatchRepository, repository.RegionContentStore, handlers.HealthCheck, func(), error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not configured, using in-memory repository")
		return repository.NewMemoryBatchRepository(), repository.NewMemoryRegionContentStore(), nil, func() {}, nil
	}

	if cfg.DatabaseAutoMigrate {
		if err := repository.Migrate(cfg.DatabaseURL); err != nil {
			return nil, nil, nil, nil, err
		}
		logger.Info("database migrations applied")
	}

	pool, err := repository.OpenPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	logger.Info("postgres repository initialized")
	return repository.NewPostgresBatchRepository(pool),
		repository.NewPostgresRegionContentStore(pool),
		pool.Ping,
		pool.Close,
		nil
}

func setupLocker(ctx context.Context, cfg config.Config, logger *zap.Logger) (lease.Locker, handlers.HealthCheck, func()) {
	if cfg.RedisAddr == "" {
		logger.Warn("REDIS_ADDR not configured, batch leases are process-local")
		return lease.NewLocalLocker(), nil, func() {}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis unavailable, fallback to process-local leases", zap.Error(err))
		_ = client.Close()
		return lease.NewLocalLocker(), nil, func() {}
	}
	logger.Info("redis lease locker initialized", zap.String("prefix", cfg.RedisLeasePrefix))
	check := func(ctx context.Context) error { return client.Ping(ctx).Err() }
	return lease.NewRedisLocker(client, cfg.RedisLeasePrefix), check, func() {
		_ = client.Close()
	}
}

func setupGenerator(ctx context.Context, cfg config.Config, logger *zap.Logger) (ai.ContentGenerator, error) {
	validator := quality.NewRegionContentValidator(quality.RegionContentValidatorConfig{
		MinScore: cfg.ContentMinQualityScore,
	})

	switch cfg.ContentProvider {
	case "gemini":
		client, err := ai.NewGeminiClient(ctx, ai.GeminiClientConfig{
			APIKey: cfg.GeminiAPIKey,
			Model:  cfg.GeminiModel,
		})
		if err != nil {
			return nil, err
		}
		if !client.Available() {
			logger.Warn("GEMINI_API_KEY not configured, items will fail until a key is set")
		}
		logger.Info("content provider selected", zap.String("provider", "gemini"), zap.String("model", cfg.GeminiModel))
		return ai.NewRegionContentGenerator(ai.RegionContentGeneratorConfig{
			Client:   client,
			Router:   ai.NewModelRouter(ai.ModelRouterConfig{PrimaryModel: cfg.GeminiModel}),
			Validate: validator.Validate,
		}), nil
	case "", "openrouter":
		client := ai.NewOpenRouterClient(ai.OpenRouterClientConfig{
			APIKey:     cfg.OpenRouterAPIKey,
			BaseURL:    cfg.OpenRouterBaseURL,
			Timeout:    cfg.GenerationTimeout(),
			MaxRetries: cfg.OpenRouterMaxRetries,
			SiteURL:    cfg.OpenRouterSiteURL,
			AppName:    cfg.OpenRouterAppName,
		})
		if !client.Available() {
			logger.Warn("OPENROUTER_API_KEY not configured, items will fail until a key is set")
		}
		logger.Info("content provider selected", zap.String("provider", "openrouter"), zap.String("model", cfg.OpenRouterModel))
		return ai.NewRegionContentGenerator(ai.RegionContentGeneratorConfig{
			Client: client,
			Router: ai.NewModelRouter(ai.ModelRouterConfig{
				PrimaryModel:  cfg.OpenRouterModel,
				FallbackModel: cfg.OpenRouterFallbackModel,
			}),
			Validate: validator.Validate,
		}), nil
	default:
		return nil, fmt.Errorf("unknown CONTENT_PROVIDER %q", cfg.ContentProvider)
	}
}
