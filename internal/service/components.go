// Package service assembles the long-lived components behind each command.
package service

import (
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xkilldash9x/kleinpost/internal/ads"
	"github.com/xkilldash9x/kleinpost/internal/auth"
	"github.com/xkilldash9x/kleinpost/internal/browser/session"
	"github.com/xkilldash9x/kleinpost/internal/category"
	"github.com/xkilldash9x/kleinpost/internal/config"
	"github.com/xkilldash9x/kleinpost/internal/device"
	"github.com/xkilldash9x/kleinpost/internal/observability"
	"github.com/xkilldash9x/kleinpost/internal/proxycheck"
	"github.com/xkilldash9x/kleinpost/internal/publish"
	"github.com/xkilldash9x/kleinpost/internal/store"
)

// Components holds every initialized service a command may need.
// Shutdown releases them in reverse order of creation.
type Components struct {
	Config     config.Interface
	Store      store.Store
	Devices    *device.Pool
	Sessions   *session.Manager
	Checker    *proxycheck.Checker
	Auth       *auth.Authenticator
	Publisher  *publish.Publisher
	Categories *category.Service
	Ads        *ads.Syncer
	HTTPClient *http.Client

	// DBPool is set when the postgres backend is in use. The store owns it.
	DBPool *pgxpool.Pool

	geo   *proxycheck.GeoIP
	redis *redis.Client
}

// Shutdown closes all components, ensuring resources are released in the correct order.
func (c *Components) Shutdown() {
	logger := observability.GetLogger()
	logger.Debug("Beginning components shutdown sequence.")

	// 1. Idle HTTP connections.
	if c.HTTPClient != nil {
		c.HTTPClient.CloseIdleConnections()
	}

	// 2. Category cache connection.
	if c.redis != nil {
		if err := c.redis.Close(); err != nil {
			logger.Warn("Error closing redis client.", zap.Error(err))
		} else {
			logger.Debug("Redis client closed.")
		}
	}

	// 3. GeoIP database.
	if c.geo != nil {
		if err := c.geo.Close(); err != nil {
			logger.Warn("Error closing GeoIP database.", zap.Error(err))
		} else {
			logger.Debug("GeoIP database closed.")
		}
	}

	// 4. The store closes the database pool with it.
	if c.Store != nil {
		c.Store.Close()
		logger.Debug("Store closed.")
	}

	logger.Debug("All components shut down.")
}
