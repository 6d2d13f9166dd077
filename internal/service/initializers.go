package service

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xkilldash9x/kleinpost/internal/category"
	"github.com/xkilldash9x/kleinpost/internal/config"
	"github.com/xkilldash9x/kleinpost/internal/network"
	"github.com/xkilldash9x/kleinpost/internal/proxycheck"
	"github.com/xkilldash9x/kleinpost/internal/store"
)

// Store and cache backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendFile     = "file"
	BackendRedis    = "redis"
)

// InitializeStore opens the configured backend. For postgres the returned
// pool is owned by the store; closing the store closes it.
func InitializeStore(ctx context.Context, cfg config.Interface, logger *zap.Logger) (store.Store, *pgxpool.Pool, error) {
	switch cfg.Store().Backend {
	case BackendFile, "":
		f, err := store.OpenFile(cfg.Store().Path)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("File store initialized.", zap.String("path", f.Path()))
		return f, nil, nil

	case BackendMemory:
		logger.Warn("Using the in-memory store. Accounts, proxies and ads are lost on exit.")
		return store.NewMemory(), nil, nil

	case BackendPostgres:
		if cfg.Database().URL == "" {
			return nil, nil, fmt.Errorf("database URL is not configured (hint: check KLEINPOST_DATABASE_URL)")
		}
		poolConfig, err := pgxpool.ParseConfig(cfg.Database().URL)
		if err != nil {
			return nil, nil, fmt.Errorf("unable to parse PGX pool config: %w", err)
		}
		poolConfig.MaxConns = 10
		poolConfig.MinConns = 1
		poolConfig.MaxConnLifetime = 1 * time.Hour
		poolConfig.MaxConnIdleTime = 30 * time.Minute

		pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			return nil, nil, fmt.Errorf("unable to create PGX connection pool: %w", err)
		}
		pg, err := store.NewPostgres(ctx, pool, logger)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			pg.Close()
			return nil, nil, err
		}
		logger.Info("PostgreSQL store initialized.")
		return pg, pool, nil
	}
	return nil, nil, fmt.Errorf("unsupported store backend: %s", cfg.Store().Backend)
}

// InitializeCategoryCache builds the snapshot cache for the category service.
// The redis client is returned so the caller can close it; it is nil for the
// file backend.
func InitializeCategoryCache(cfg config.CategoriesConfig) (category.Cache, *redis.Client, error) {
	switch cfg.Backend {
	case BackendFile, "":
		c, err := category.NewFileCache(cfg.CachePath)
		if err != nil {
			return nil, nil, err
		}
		return c, nil, nil

	case BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		return category.NewRedisCache(client, cfg.Redis.Key), client, nil
	}
	return nil, nil, fmt.Errorf("unsupported category cache backend: %s", cfg.Backend)
}

// InitializeGeoIP opens the offline location database when one is configured.
// A missing or unreadable database only disables enrichment.
func InitializeGeoIP(cfg config.ProxyCheckConfig, logger *zap.Logger) *proxycheck.GeoIP {
	if cfg.GeoIPDatabase == "" {
		return nil
	}
	geo, err := proxycheck.OpenGeoIP(cfg.GeoIPDatabase)
	if err != nil {
		logger.Warn("GeoIP database unavailable, location enrichment disabled.", zap.Error(err))
		return nil
	}
	logger.Debug("GeoIP database opened.", zap.String("path", cfg.GeoIPDatabase))
	return geo
}

// NewHTTPClient builds the shared client for category page requests.
func NewHTTPClient(cfg config.NetworkConfig, logger *zap.Logger) (*http.Client, error) {
	clientCfg := network.NewDefaultClientConfig()
	clientCfg.IgnoreTLSErrors = cfg.IgnoreTLSErrors
	clientCfg.Compression = true
	clientCfg.Logger = logger
	if cfg.Timeout > 0 {
		clientCfg.RequestTimeout = cfg.Timeout
	}
	if cfg.DialTimeout > 0 {
		clientCfg.DialerConfig.Timeout = cfg.DialTimeout
	}
	client, err := network.NewClient(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP client: %w", err)
	}
	return client, nil
}
