package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/hotel-cache-proxy/internal/config"
	"github.com/Sternrassler/hotel-cache-proxy/pkg/cache"
	"github.com/Sternrassler/hotel-cache-proxy/pkg/fetch"
	"github.com/Sternrassler/hotel-cache-proxy/pkg/hotels"
	"github.com/Sternrassler/hotel-cache-proxy/pkg/logging"
	"github.com/Sternrassler/hotel-cache-proxy/pkg/ratelimit"
	"github.com/Sternrassler/hotel-cache-proxy/pkg/store"
	"github.com/Sternrassler/hotel-cache-proxy/pkg/store/memory"
	"github.com/Sternrassler/hotel-cache-proxy/pkg/store/postgres"
	"github.com/Sternrassler/hotel-cache-proxy/pkg/store/sqlite"
	"github.com/Sternrassler/hotel-cache-proxy/pkg/upstream"
)

// Application owns every long-lived resource of the service.
type Application struct {
	config *config.Config
	redis  *redis.Client
	store  store.Store
	server *http.Server
	logger zerolog.Logger
}

// NewApplication connects Redis and the durable store and wires the pipeline.
func NewApplication(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Application, error) {
	redisClient := redis.NewClient(&redis.Options{
		Addr:        cfg.Redis.Address(),
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.Database,
		PoolSize:    cfg.Redis.PoolSize,
		DialTimeout: cfg.Redis.DialTimeout,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		redisClient.Close()
		return nil, fmt.Errorf("connect redis at %s: %w", cfg.Redis.Address(), err)
	}
	logger.Info().Str("address", cfg.Redis.Address()).Msg("Connected to Redis")

	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		redisClient.Close()
		return nil, err
	}
	logger.Info().Str("driver", cfg.Store.Driver).Msg("Durable store ready")

	cacheManager := cache.NewManager(redisClient)
	if cfg.Cache.FlushOnStart {
		if n, err := cacheManager.Flush(ctx); err != nil {
			logger.Error().Err(err).Msg("Failed to flush fast cache")
		} else {
			logger.Info().Int("keys", n).Msg("Fast cache flushed")
		}
	}

	tracker := ratelimit.NewTracker(redisClient, logging.WithComponent(logger, "quota"))
	upstreamClient, err := upstream.New(cfg.Upstream.ClientConfig(tracker), logger)
	if err != nil {
		st.Close()
		redisClient.Close()
		return nil, fmt.Errorf("create upstream client: %w", err)
	}

	limiter := ratelimit.NewLimiter(
		ratelimit.NewRedisCounter(redisClient),
		cfg.RateLimit.LimiterConfig(),
		logging.WithComponent(logger, "ratelimit"),
	)
	orchestrator := fetch.New(cacheManager, st, limiter, upstreamClient, cfg.FetchOptions(), logger)

	catalog := hotels.NewCatalog(cfg.Freshness)
	a := &api{
		getter:     orchestrator,
		catalog:    catalog,
		aggregator: hotels.NewAggregator(catalog, orchestrator, cfg.Aggregate.FanoutConfig(), logger),
		checks: []pinger{
			{name: "redis", ping: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }},
			{name: "store", ping: st.Ping},
		},
		quota:  tracker,
		logger: logging.WithComponent(logger, "http"),
	}

	server := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      newRouter(a),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return &Application{
		config: cfg,
		redis:  redisClient,
		store:  st,
		server: server,
		logger: logger,
	}, nil
}

func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		db, err := postgres.Open(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return db, nil
	case config.DriverSQLite:
		db, err := sqlite.New(ctx, cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return db, nil
	case config.DriverMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (app *Application) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		app.logger.Info().Str("address", app.server.Addr).Msg("Starting hotel proxy")
		if err := app.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		app.Close()
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	app.logger.Info().Msg("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), app.config.Server.ShutdownTimeout)
	defer cancel()
	if err := app.server.Shutdown(shutdownCtx); err != nil {
		app.logger.Error().Err(err).Msg("Server forced to shutdown")
	}

	app.Close()
	app.logger.Info().Msg("Server stopped gracefully")
	return nil
}

// Close releases the store and Redis connections.
func (app *Application) Close() {
	if err := app.store.Close(); err != nil {
		app.logger.Error().Err(err).Msg("Error closing durable store")
	}
	if err := app.redis.Close(); err != nil {
		app.logger.Error().Err(err).Msg("Error closing Redis")
	}
}
