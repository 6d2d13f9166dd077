// Package proxycheck verifies that a proxy is reachable, actually carries
// traffic, and does not expose the machine's own egress IP.
package proxycheck

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/kleinpost/api/schemas"
	"github.com/xkilldash9x/kleinpost/internal/config"
	"github.com/xkilldash9x/kleinpost/internal/network"
)

// Probe stages, reported in ProbeResult.Stage on failure.
const (
	StageConnect = "connect"
	StageLookup  = "lookup"
	StageLeak    = "leak"
	StageEnrich  = "enrich"
)

const unknown = "Unknown"

// GeoLocator resolves an IP to a location without network access.
type GeoLocator interface {
	Lookup(ip string) (*schemas.Location, error)
}

// Pinger measures a single round trip to host.
type Pinger interface {
	Ping(ctx context.Context, host string) (time.Duration, error)
}

// Checker probes proxies. A Checker holds no per-probe state and is safe for
// concurrent use, although bulk checks are deliberately serialized.
type Checker struct {
	cfg       config.ProxyCheckConfig
	dialerCfg *network.DialerConfig
	ignoreTLS bool
	logger    *zap.Logger

	geo    GeoLocator
	pinger Pinger
	now    func() time.Time
}

// Option customizes a Checker.
type Option func(*Checker)

// WithGeoLocator enables offline location enrichment.
func WithGeoLocator(g GeoLocator) Option {
	return func(c *Checker) { c.geo = g }
}

// WithPinger replaces the system ping binary.
func WithPinger(p Pinger) Option {
	return func(c *Checker) { c.pinger = p }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(c *Checker) { c.now = now }
}

// WithIgnoreTLSErrors disables certificate verification on lookups.
func WithIgnoreTLSErrors(ignore bool) Option {
	return func(c *Checker) { c.ignoreTLS = ignore }
}

// NewChecker creates a Checker for cfg.
func NewChecker(cfg config.ProxyCheckConfig, logger *zap.Logger, opts ...Option) *Checker {
	if logger == nil {
		logger = zap.NewNop()
	}
	dialerCfg := network.NewDialerConfig()
	if cfg.Timeout > 0 {
		dialerCfg.Timeout = cfg.Timeout
	}
	c := &Checker{
		cfg:       cfg,
		dialerCfg: dialerCfg,
		logger:    logger.Named("proxycheck"),
		now:       time.Now,
	}
	if cfg.PingEnabled {
		c.pinger = systemPinger{}
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Probe runs the full check against p. It never returns an error: every
// failure is reported through the result together with whatever diagnostics
// were gathered before it.
func (c *Checker) Probe(ctx context.Context, p schemas.ProxyDescriptor) schemas.ProbeResult {
	start := c.now()
	res := schemas.ProbeResult{ProxyType: p.Type}
	finish := func() schemas.ProbeResult {
		res.Timestamp = c.now()
		if res.ResponseTime == 0 {
			res.ResponseTime = res.Timestamp.Sub(start)
		}
		return res
	}
	log := c.logger.With(zap.String("proxy", p.String()))

	if err := p.Validate(); err != nil {
		c.fail(&res, schemas.KindNetworkUnreachable, StageConnect, err.Error())
		return finish()
	}

	// 1. Raw connectivity.
	conn := c.checkConnection(ctx, p)
	res.Connection = &conn
	if !conn.OK {
		log.Info("Proxy connection check failed.", zap.String("reason", conn.Message))
		c.fail(&res, schemas.KindNetworkUnreachable, StageConnect, conn.Message)
		return finish()
	}

	// 2. Identity through the proxy, with the direct identity gathered alongside.
	proxied, err := c.newLookupClient(&p)
	if err != nil {
		c.fail(&res, schemas.KindInternal, StageLookup, err.Error())
		return finish()
	}
	direct, err := c.newLookupClient(nil)
	if err != nil {
		c.fail(&res, schemas.KindInternal, StageLookup, err.Error())
		return finish()
	}

	var (
		identity  *lookupResult
		lookupErr error
		directIPs []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		identity, lookupErr = c.lookupIdentity(gctx, proxied)
		return nil
	})
	g.Go(func() error {
		directIPs = c.directIPs(gctx, direct)
		return nil
	})
	_ = g.Wait()
	res.DirectIPs = directIPs

	if ctx.Err() != nil {
		c.fail(&res, schemas.KindNetworkUnreachable, StageLookup, fmt.Sprintf("probe cancelled: %v", ctx.Err()))
		return finish()
	}
	if lookupErr != nil {
		log.Info("Every lookup service failed through the proxy.", zap.Error(lookupErr))
		c.fail(&res, schemas.KindNetworkUnreachable, StageLookup, lookupErr.Error())
		return finish()
	}
	res.ResponseTime = c.now().Sub(start)
	res.IP = identity.IP
	res.ServiceUsed = identity.Service
	res.RawData = identity.Raw

	// 3. Leak detection.
	switch {
	case len(directIPs) == 0 && c.cfg.LeakPolicy == config.LeakPolicyFail:
		c.fail(&res, schemas.KindIdentityLeak, StageLeak, "leak check unavailable: direct IP unknown")
		return finish()
	case len(directIPs) == 0:
		log.Warn("Direct IP could not be determined, skipping leak check.")
		res.LeakCheckSkipped = true
	case slices.Contains(directIPs, identity.IP):
		log.Warn("Proxy is not carrying traffic, egress IP matches the direct IP.", zap.String("ip", identity.IP))
		c.fail(&res, schemas.KindIdentityLeak, StageLeak, "proxy not used: IP matches real")
		return finish()
	}

	// 4. Best-effort enrichment.
	loc := identity.Location
	c.enrich(&loc, identity.IP)
	res.Location = &loc
	res.ISP = identity.ISP
	if res.ISP == "" {
		res.ISP = "Unknown provider"
	}
	if c.pinger != nil {
		if rtt, err := c.pinger.Ping(ctx, p.Host); err == nil {
			res.Ping = &rtt
		} else {
			log.Debug("Ping measurement unavailable.", zap.Error(err))
		}
	}

	res.Success = true
	log.Info("Proxy check passed.", zap.String("ip", res.IP), zap.String("country", loc.Country), zap.String("service", res.ServiceUsed))
	return finish()
}

func (c *Checker) fail(res *schemas.ProbeResult, kind schemas.ErrorKind, stage, msg string) {
	res.Success = false
	res.ErrorKind = kind
	res.Stage = stage
	res.Error = msg
}

// enrich fills location gaps from the offline database and applies the
// "Unknown" defaults for country and city.
func (c *Checker) enrich(loc *schemas.Location, ip string) {
	if c.geo != nil && (loc.Country == "" || loc.City == "" || loc.Region == "" || loc.Timezone == "") {
		geo, err := c.geo.Lookup(ip)
		if err != nil {
			c.logger.Debug("Offline geo lookup failed.", zap.String("ip", ip), zap.Error(err))
		} else if geo != nil {
			fillEmpty(&loc.Country, geo.Country)
			fillEmpty(&loc.City, geo.City)
			fillEmpty(&loc.Region, geo.Region)
			fillEmpty(&loc.Timezone, geo.Timezone)
		}
	}
	fillEmpty(&loc.Country, unknown)
	fillEmpty(&loc.City, unknown)
}

func fillEmpty(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}

// newLookupClient builds a fresh client per probe so connections are never
// shared between the proxied and direct paths.
func (c *Checker) newLookupClient(p *schemas.ProxyDescriptor) (*http.Client, error) {
	cfg := network.NewDefaultClientConfig()
	cfg.Proxy = p
	cfg.Fresh = true
	cfg.IgnoreTLSErrors = c.ignoreTLS
	cfg.DialerConfig = c.dialerCfg
	cfg.Logger = c.logger
	if c.cfg.Timeout > 0 {
		cfg.RequestTimeout = c.cfg.Timeout
	}
	return network.NewClient(cfg)
}
