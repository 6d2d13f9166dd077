package session

import (
	"fmt"
	"os"
	"strings"

	"github.com/chromedp/chromedp"

	"github.com/xkilldash9x/kleinpost/api/schemas"
	"github.com/xkilldash9x/kleinpost/internal/config"
)

// Flags returns the Chrome switches for one session. Later entries of
// cfg.Args override the computed ones.
func Flags(cfg config.BrowserConfig, profile schemas.DeviceProfile, userDataDir, proxyServer string) map[string]any {
	flags := map[string]any{
		"headless":                 cfg.Headless,
		"no-sandbox":               true,
		"disable-setuid-sandbox":   true,
		"disable-dev-shm-usage":    true,
		"disable-blink-features":   "AutomationControlled",
		"no-first-run":             true,
		"no-default-browser-check": true,
	}
	if profile.Locale != "" {
		flags["lang"] = profile.Locale
	}
	if profile.Viewport.Width > 0 && profile.Viewport.Height > 0 {
		flags["window-size"] = fmt.Sprintf("%d,%d", profile.Viewport.Width, profile.Viewport.Height)
	}
	if userDataDir != "" {
		flags["user-data-dir"] = userDataDir
	}
	if proxyServer != "" {
		flags["proxy-server"] = proxyServer
	}

	for _, arg := range cfg.Args {
		arg = strings.TrimPrefix(strings.TrimSpace(arg), "--")
		if arg == "" {
			continue
		}
		// Handle key=value flags; everything else is a boolean switch.
		if key, value, ok := strings.Cut(arg, "="); ok {
			flags[key] = value
			continue
		}
		flags[arg] = true
	}
	return flags
}

// ExecPath resolves the Chrome binary: the configured path, then CHROME_BIN.
// An empty result lets chromedp search the usual locations.
func ExecPath(cfg config.BrowserConfig) string {
	if cfg.ExecPath != "" {
		return cfg.ExecPath
	}
	return os.Getenv("CHROME_BIN")
}

// allocatorOptions translates flags into chromedp allocator options.
func allocatorOptions(cfg config.BrowserConfig, flags map[string]any) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:], chromedp.NoSandbox)
	for key, value := range flags {
		opts = append(opts, chromedp.Flag(key, value))
	}
	if path := ExecPath(cfg); path != "" {
		opts = append(opts, chromedp.ExecPath(path))
	}
	return opts
}

// proxyServer renders p for --proxy-server. Chrome takes no credentials on
// the command line.
func proxyServer(p schemas.ProxyDescriptor) string {
	scheme := string(p.Type)
	if p.Type == schemas.ProxySOCKS5 {
		scheme = "socks5"
	}
	return scheme + "://" + p.Address()
}

// needsForward reports whether p must be relayed through a local forward.
func needsForward(p schemas.ProxyDescriptor, forwardCredentialed bool) bool {
	return p.IsSocks() || (p.HasCredentials() && forwardCredentialed)
}
