package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-gsc/pkg/auth"
	"github.com/ekaya-inc/ekaya-gsc/pkg/cache"
	"github.com/ekaya-inc/ekaya-gsc/pkg/config"
	"github.com/ekaya-inc/ekaya-gsc/pkg/crypto"
	"github.com/ekaya-inc/ekaya-gsc/pkg/database"
	"github.com/ekaya-inc/ekaya-gsc/pkg/gsc"
	"github.com/ekaya-inc/ekaya-gsc/pkg/handlers"
	"github.com/ekaya-inc/ekaya-gsc/pkg/logging"
	"github.com/ekaya-inc/ekaya-gsc/pkg/normalize"
	"github.com/ekaya-inc/ekaya-gsc/pkg/retry"
	"github.com/ekaya-inc/ekaya-gsc/pkg/services"
	"github.com/ekaya-inc/ekaya-gsc/pkg/storage"
)

// Version is set at build time via ldflags
var Version = "dev"

const shutdownTimeout = 30 * time.Second

func main() {
	// Load configuration
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("Server failed", zap.Error(err))
	}
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "local" || env == "test" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	logger.Info("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("base_url", cfg.BaseURL),
		zap.String("storage_mode", cfg.Storage.Mode),
		zap.String("redirect_url", cfg.Google.RedirectURL),
		zap.Bool("api_key_enabled", cfg.APIKey != ""))
	if effective, err := cfg.YAML(); err == nil {
		logger.Debug("Effective configuration", zap.ByteString("config", effective))
	}

	cipher, err := crypto.NewAESGCM(cfg.CredentialsKey)
	if err != nil {
		return fmt.Errorf("failed to initialize credential cipher: %w", err)
	}

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("Failed to close storage", zap.Error(err))
		}
	}()

	cacheStore, closeCache, err := openCache(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeCache()

	oauth := auth.NewGoogleOAuth(&cfg.Google, cfg.Google.RedirectURL)
	tokens := auth.NewTokenManager(store.Credentials, oauth, cipher, logger)
	states := auth.NewStateStore(auth.DefaultStateTTL)
	client := gsc.NewClient(cfg.Google.APIBaseURL, cfg.Google.Timeout, logger)
	normalizer := normalize.New()

	fetcher := services.NewFetchEngine(client, tokens, services.NewFetchConfig(&cfg.Import), logger)
	importService := services.NewImportService(store.Jobs, store.Facts, store.Aggregates, fetcher, normalizer, cacheStore, cfg.Import.DayDelay, logger)
	metricsService := services.NewMetricsService(store.Aggregates, normalizer, cacheStore, cfg.Cache.MetricsTTL, logger)
	propertyService := services.NewPropertyService(store.Properties, client, tokens, cacheStore, cfg.Cache.PropertiesTTL, logger)
	healthService := services.NewHealthService(store, cacheStore, tokens, logger)

	router := handlers.NewRouter(handlers.RouterConfig{
		APIKey:     cfg.APIKey,
		Health:     handlers.NewHealthHandler(cfg, healthService, logger),
		Auth:       handlers.NewAuthHandler(tokens, states, logger),
		GSC:        handlers.NewGSCHandler(propertyService, importService, logger),
		Metrics:    handlers.NewMetricsHandler(metricsService, logger),
		Prometheus: promhttp.Handler(),
	}, logger)

	server := &http.Server{
		Addr:              net.JoinHostPort(cfg.BindAddr, cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting ekaya-gsc",
			zap.String("addr", server.Addr),
			zap.String("version", cfg.Version))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	logger.Info("Server stopped")
	return nil
}

// openStore connects the configured storage and applies migrations for Postgres.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*storage.Store, error) {
	if cfg.Storage.Mode == config.StorageModeMemory {
		logger.Warn("Using in-memory storage; data is lost on restart",
			zap.String("sqlite_path", cfg.Storage.SQLitePath))
		return storage.Open(ctx, cfg, nil)
	}

	dbURL := cfg.Database.ConnectionString()
	logger.Info("Connecting to database", zap.String("url", logging.SanitizeConnectionString(dbURL)))

	if err := database.RunMigrations(dbURL, cfg.Storage.MigrationsPath, logger); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	db, err := database.NewConnection(ctx, &database.Config{
		URL:             dbURL,
		MaxConnections:  cfg.Database.MaxConnections,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
		ConnectRetry:    retry.DefaultConfig(),
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store, err := storage.Open(ctx, cfg, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// openCache returns Redis when configured and the in-process cache otherwise.
func openCache(ctx context.Context, cfg *config.Config, logger *zap.Logger) (cache.Cache, func(), error) {
	client, err := database.NewRedisClient(ctx, &cfg.Redis)
	if err != nil {
		return nil, nil, err
	}
	if client == nil {
		logger.Info("Redis not configured; using in-process cache")
		return cache.NewMemoryCache(), func() {}, nil
	}

	logger.Info("Connected to Redis", zap.String("addr", cfg.Redis.Addr()))
	return cache.NewRedisCache(client), func() {
		if err := client.Close(); err != nil {
			logger.Warn("Failed to close Redis client", zap.Error(err))
		}
	}, nil
}
