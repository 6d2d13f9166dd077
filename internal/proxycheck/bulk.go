package proxycheck

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/kleinpost/api/schemas"
)

// BulkResult pairs a stored proxy with its probe outcome.
type BulkResult struct {
	ProxyID string              `json:"proxyId"`
	Result  schemas.ProbeResult `json:"result"`
}

// ProbeAll probes proxies one after another and pauses for the configured
// delay after each probe finishes. It stops early when ctx is cancelled and
// returns what it has.
func (c *Checker) ProbeAll(ctx context.Context, proxies []schemas.Proxy) []BulkResult {
	results := make([]BulkResult, 0, len(proxies))
	for i, p := range proxies {
		if i > 0 {
			if err := pause(ctx, c.cfg.BulkDelay); err != nil {
				c.logger.Info("Bulk proxy check interrupted.", zap.Int("done", len(results)), zap.Int("total", len(proxies)), zap.Error(err))
				break
			}
		} else if err := ctx.Err(); err != nil {
			c.logger.Info("Bulk proxy check interrupted.", zap.Int("done", 0), zap.Int("total", len(proxies)), zap.Error(err))
			break
		}
		results = append(results, BulkResult{ProxyID: p.ID, Result: c.Probe(ctx, p.Descriptor)})
	}
	return results
}

// pause blocks for d or until ctx is done.
func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// QuickResult is the outcome of a fast availability check.
type QuickResult struct {
	Available  bool                     `json:"available"`
	Status     int                      `json:"status,omitempty"`
	Elapsed    time.Duration            `json:"elapsed"`
	Error      string                   `json:"error,omitempty"`
	Timestamp  time.Time                `json:"timestamp"`
	Connection *schemas.ConnectionCheck `json:"connectionCheck,omitempty"`
}

// QuickCheck verifies connectivity and fetches one fixed URL through the proxy.
func (c *Checker) QuickCheck(ctx context.Context, p schemas.ProxyDescriptor) QuickResult {
	start := c.now()
	res := QuickResult{}
	done := func() QuickResult {
		res.Timestamp = c.now()
		res.Elapsed = res.Timestamp.Sub(start)
		return res
	}

	if err := p.Validate(); err != nil {
		res.Error = err.Error()
		return done()
	}
	conn := c.checkConnection(ctx, p)
	res.Connection = &conn
	if !conn.OK {
		res.Error = conn.Message
		return done()
	}

	client, err := c.newLookupClient(&p)
	if err != nil {
		res.Error = err.Error()
		return done()
	}
	if c.cfg.QuickTimeout > 0 {
		client.Timeout = c.cfg.QuickTimeout
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.QuickCheckURL, nil)
	if err != nil {
		res.Error = err.Error()
		return done()
	}
	req.Header.Set("User-Agent", lookupUserAgent)
	resp, err := client.Do(req)
	if err != nil {
		res.Error = err.Error()
		return done()
	}
	_ = resp.Body.Close()

	res.Status = resp.StatusCode
	res.Available = resp.StatusCode < 400
	return done()
}
