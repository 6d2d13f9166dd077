package stealth

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/kleinpost/api/schemas"
)

//go:embed evasions.js
var evasionsScript string

// scriptConfig is handed to evasions.js.
type scriptConfig struct {
	Platform            string   `json:"platform,omitempty"`
	Languages           []string `json:"languages,omitempty"`
	HardwareConcurrency int      `json:"hardwareConcurrency,omitempty"`
}

// Script returns the new-document script that aligns the navigator with p.
func Script(p schemas.DeviceProfile) (string, error) {
	cfg, err := json.Marshal(scriptConfig{
		Platform:            p.Platform,
		Languages:           p.Languages(),
		HardwareConcurrency: 8,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode evasion config: %w", err)
	}
	return fmt.Sprintf("(%s)(%s);", strings.TrimSpace(evasionsScript), cfg), nil
}

// AcceptLanguage returns the Accept-Language header for p.
func AcceptLanguage(p schemas.DeviceProfile) string {
	if p.AcceptLanguage != "" {
		return p.AcceptLanguage
	}
	langs := p.Languages()
	switch len(langs) {
	case 0:
		return ""
	case 1:
		return langs[0]
	}
	return fmt.Sprintf("%s,%s;q=0.9", langs[0], langs[1])
}

// Apply constructs the CDP actions that make the session present the
// fingerprint of p. origin is the site granted geolocation permission.
func Apply(p schemas.DeviceProfile, origin string, logger *zap.Logger) chromedp.Tasks {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Debug("Applying device profile.",
		zap.String("profile", p.ID),
		zap.String("platform", p.Platform),
		zap.String("timezone", p.Timezone),
	)

	lang := AcceptLanguage(p)
	tasks := chromedp.Tasks{
		network.Enable(),
		emulation.SetUserAgentOverride(p.UserAgent).
			WithPlatform(p.Platform).
			WithAcceptLanguage(lang),
		emulation.SetDeviceMetricsOverride(p.Viewport.Width, p.Viewport.Height, 1, false),
		chromedp.ActionFunc(func(ctx context.Context) error {
			src, err := Script(p)
			if err != nil {
				return err
			}
			if _, err := page.AddScriptToEvaluateOnNewDocument(src).Do(ctx); err != nil {
				return fmt.Errorf("failed to inject evasions script: %w", err)
			}
			return nil
		}),
	}
	if lang != "" {
		tasks = append(tasks, network.SetExtraHTTPHeaders(network.Headers{"Accept-Language": lang}))
	}
	if p.Timezone != "" {
		tasks = append(tasks, emulation.SetTimezoneOverride(p.Timezone))
	}
	if p.Locale != "" {
		tasks = append(tasks, emulation.SetLocaleOverride().WithLocale(p.Locale))
	}
	if g := p.Geolocation; g != nil {
		if origin != "" {
			tasks = append(tasks, browser.GrantPermissions([]browser.PermissionType{browser.PermissionTypeGeolocation}).WithOrigin(origin))
		}
		tasks = append(tasks, emulation.SetGeolocationOverride().
			WithLatitude(g.Latitude).
			WithLongitude(g.Longitude).
			WithAccuracy(g.Accuracy))
	}
	return tasks
}
