package proxycheck

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/kleinpost/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	lookupUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
	maxLookupBody   = 64 << 10
)

// lookupPayload covers the response shapes of ipinfo.io, ipify and ip-api.com.
type lookupPayload struct {
	IP         string `json:"ip"`
	Query      string `json:"query"`
	Status     string `json:"status"`
	Message    string `json:"message"`
	Country    string `json:"country"`
	City       string `json:"city"`
	Region     string `json:"region"`
	RegionName string `json:"regionName"`
	Timezone   string `json:"timezone"`
	Org        string `json:"org"`
	ISP        string `json:"isp"`
}

func (p lookupPayload) ip() string {
	if p.IP != "" {
		return p.IP
	}
	return p.Query
}

// hasGeo reports whether the service returned location data itself. ipify
// only returns the address.
func (p lookupPayload) hasGeo() bool {
	return p.Country != "" || p.City != ""
}

type lookupResult struct {
	IP       string
	ISP      string
	Service  string
	Location schemas.Location
	Raw      map[string]any
}

// lookupIdentity tries each configured service through client and returns
// the first egress identity that parses.
func (c *Checker) lookupIdentity(ctx context.Context, client *http.Client) (*lookupResult, error) {
	var errs []error
	for _, service := range c.cfg.LookupServices {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		payload, raw, err := fetchLookup(ctx, client, service)
		if err != nil {
			c.logger.Debug("Lookup service failed.", zap.String("service", service), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", service, err))
			continue
		}

		res := &lookupResult{
			IP:      payload.ip(),
			Service: service,
			Raw:     raw,
		}
		if !payload.hasGeo() && c.cfg.GeoFallbackURL != "" {
			if geo, _, err := fetchLookup(ctx, client, fmt.Sprintf(c.cfg.GeoFallbackURL, res.IP)); err == nil {
				payload.Country, payload.City = geo.Country, geo.City
				payload.Region, payload.RegionName = geo.Region, geo.RegionName
				payload.Timezone, payload.ISP = geo.Timezone, geo.ISP
			} else {
				c.logger.Debug("Geo follow-up lookup failed.", zap.String("ip", res.IP), zap.Error(err))
			}
		}
		res.Location = schemas.Location{
			Country:  payload.Country,
			City:     payload.City,
			Region:   firstNonEmpty(payload.RegionName, payload.Region),
			Timezone: payload.Timezone,
		}
		res.ISP = firstNonEmpty(payload.ISP, payload.Org)
		return res, nil
	}
	if len(errs) == 0 {
		return nil, errors.New("no lookup services configured")
	}
	return nil, fmt.Errorf("all lookup services unreachable through proxy: %w", errors.Join(errs...))
}

// directIPs collects the machine's own egress addresses. Failures are
// tolerated; an empty result means the leak check cannot run.
func (c *Checker) directIPs(ctx context.Context, client *http.Client) []string {
	var ips []string
	seen := make(map[string]bool)
	for _, service := range c.cfg.DirectServices {
		if ctx.Err() != nil {
			break
		}
		payload, _, err := fetchLookup(ctx, client, service)
		if err != nil {
			c.logger.Debug("Direct IP service failed.", zap.String("service", service), zap.Error(err))
			continue
		}
		if ip := payload.ip(); !seen[ip] {
			seen[ip] = true
			ips = append(ips, ip)
		}
	}
	return ips
}

func fetchLookup(ctx context.Context, client *http.Client, target string) (lookupPayload, map[string]any, error) {
	var payload lookupPayload
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return payload, nil, err
	}
	req.Header.Set("User-Agent", lookupUserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return payload, nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return payload, nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxLookupBody))
	if err != nil {
		return payload, nil, fmt.Errorf("failed to read lookup response: %w", err)
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return payload, nil, fmt.Errorf("failed to decode lookup response: %w", err)
	}
	if strings.EqualFold(payload.Status, "fail") {
		return payload, nil, fmt.Errorf("lookup service refused: %s", payload.Message)
	}
	if payload.ip() == "" {
		return payload, nil, errors.New("lookup response carries no IP")
	}

	var raw map[string]any
	_ = json.Unmarshal(body, &raw)
	return payload, raw, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
