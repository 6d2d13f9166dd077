package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/kleinpost/internal/ads"
	"github.com/xkilldash9x/kleinpost/internal/auth"
	"github.com/xkilldash9x/kleinpost/internal/browser/session"
	"github.com/xkilldash9x/kleinpost/internal/category"
	"github.com/xkilldash9x/kleinpost/internal/config"
	"github.com/xkilldash9x/kleinpost/internal/device"
	"github.com/xkilldash9x/kleinpost/internal/proxycheck"
	"github.com/xkilldash9x/kleinpost/internal/publish"
)

// ComponentFactory creates the component set for a command.
// Commands depend on this interface so tests can substitute the wiring.
type ComponentFactory interface {
	Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*Components, error)
}

// concreteFactory is the production implementation of the ComponentFactory.
type concreteFactory struct{}

// NewComponentFactory creates a new production-ready component factory.
func NewComponentFactory() ComponentFactory {
	return &concreteFactory{}
}

// checkerOptions translates the application config into proxy checker options.
func checkerOptions(cfg config.Interface, geo *proxycheck.GeoIP) []proxycheck.Option {
	opts := []proxycheck.Option{
		proxycheck.WithIgnoreTLSErrors(cfg.Network().IgnoreTLSErrors),
	}
	// A nil *GeoIP must not become a non-nil GeoLocator.
	if geo != nil {
		opts = append(opts, proxycheck.WithGeoLocator(geo))
	}
	return opts
}

// Create handles the full dependency injection and initialization of components.
func (f *concreteFactory) Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*Components, error) {
	components := &Components{Config: cfg}

	// Ensure cleanup happens if initialization fails midway.
	var initializationErr error
	defer func() {
		if initializationErr != nil {
			logger.Warn("Initialization failed, shutting down partially created components.", zap.Error(initializationErr))
			components.Shutdown()
		}
	}()

	// 1. Store
	st, pool, err := InitializeStore(ctx, cfg, logger)
	if err != nil {
		initializationErr = fmt.Errorf("failed to initialize store: %w", err)
		return nil, initializationErr
	}
	components.Store = st
	components.DBPool = pool
	logger.Debug("Store initialized.", zap.String("backend", cfg.Store().Backend))

	// 2. Device profiles and browser sessions
	components.Devices = device.NewPool(nil, nil)
	components.Sessions = session.NewManager(cfg.Browser(), cfg.Site(), logger)
	logger.Debug("Session manager initialized.")

	// 3. Proxy validator
	components.geo = InitializeGeoIP(cfg.ProxyCheck(), logger)
	components.Checker = proxycheck.NewChecker(cfg.ProxyCheck(), logger, checkerOptions(cfg, components.geo)...)
	logger.Debug("Proxy checker initialized.")

	// 4. Session authenticator
	components.Auth = auth.New(components.Sessions, components.Devices, cfg.Site(), logger,
		auth.WithStores(st, st),
		auth.WithProxyRetry(cfg.Publish().RetryWithoutProxy),
	)

	// 5. Publisher and ad sync
	components.Publisher = publish.NewPublisher(components.Sessions, components.Devices, st, cfg.Site(), cfg.Publish(), logger)
	components.Ads = ads.NewSyncer(components.Sessions, components.Devices, st, st, cfg.Site(), logger)

	// 6. Category tree
	httpClient, err := NewHTTPClient(cfg.Network(), logger)
	if err != nil {
		initializationErr = err
		return nil, initializationErr
	}
	components.HTTPClient = httpClient

	cache, redisClient, err := InitializeCategoryCache(cfg.Categories())
	if err != nil {
		initializationErr = fmt.Errorf("failed to initialize category cache: %w", err)
		return nil, initializationErr
	}
	components.redis = redisClient
	components.Categories = category.NewService(cache, httpClient, cfg.Site(), cfg.Categories(), logger,
		category.WithUserAgent(cfg.Network().UserAgent),
	)
	logger.Debug("Category service initialized.", zap.String("cache", cfg.Categories().Backend))

	logger.Debug("All components initialized successfully.")
	return components, nil
}
