// Package session owns the lifecycle of one browser session: profile
// directory, proxy forward, Chrome process, fingerprint and cookies.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/kleinpost/api/schemas"
	"github.com/xkilldash9x/kleinpost/internal/browser/dom"
	"github.com/xkilldash9x/kleinpost/internal/browser/stealth"
	"github.com/xkilldash9x/kleinpost/internal/config"
	knet "github.com/xkilldash9x/kleinpost/internal/network"
)

// Options describe one session.
type Options struct {
	Profile schemas.DeviceProfile
	Proxy   *schemas.ProxyDescriptor
	Cookies []schemas.Cookie
}

// Body is the work done inside a session.
type Body func(ctx context.Context, page dom.Page) error

// Runner opens sessions.
type Runner interface {
	Run(ctx context.Context, opts Options, body Body) error
}

// With runs body in a session and returns its value.
func With[T any](ctx context.Context, r Runner, opts Options, body func(ctx context.Context, page dom.Page) (T, error)) (T, error) {
	var v T
	err := r.Run(ctx, opts, func(ctx context.Context, page dom.Page) error {
		var err error
		v, err = body(ctx, page)
		return err
	})
	return v, err
}

// Manager creates browser sessions. Each Run owns an isolated Chrome
// process; concurrent runs share nothing.
type Manager struct {
	cfg    config.BrowserConfig
	site   config.SiteConfig
	logger *zap.Logger
}

var _ Runner = (*Manager)(nil)

// NewManager creates a manager.
func NewManager(cfg config.BrowserConfig, site config.SiteConfig, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{cfg: cfg, site: site, logger: logger.Named("session")}
}

// Run opens a session, runs body and tears the session down on every exit
// path, panics included. The configured session timeout bounds the call.
func (m *Manager) Run(ctx context.Context, opts Options, body Body) (err error) {
	if m.cfg.SessionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.SessionTimeout)
		defer cancel()
	}

	s, err := m.open(ctx, opts)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil {
			s.logger.Warn("Session teardown incomplete.", zap.Error(cerr))
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Panic inside session body.", zap.Any("panic", r), zap.String("stack", string(debug.Stack())))
			err = fmt.Errorf("session body panicked: %v", r)
		}
	}()

	return body(ctx, s.page)
}

// session holds the resources of one Run.
type session struct {
	id      string
	logger  *zap.Logger
	page    *Page
	dir     string
	forward *knet.Forward

	tabCancel   context.CancelFunc
	allocCancel context.CancelFunc

	closeOnce sync.Once
	closeErr  error
}

func (m *Manager) open(ctx context.Context, opts Options) (_ *session, err error) {
	s := &session{id: uuid.NewString()}
	s.logger = m.logger.With(zap.String("session_id", s.id), zap.String("profile", opts.Profile.ID))

	// Ensure cleanup happens if initialization fails midway.
	defer func() {
		if err != nil {
			if cerr := s.Close(); cerr != nil {
				s.logger.Debug("Cleanup after failed start incomplete.", zap.Error(cerr))
			}
		}
	}()

	// 1. Profile directory.
	prefix := m.cfg.ProfileDirPrefix
	if prefix == "" {
		prefix = "kl-profile-"
	}
	if s.dir, err = os.MkdirTemp("", prefix); err != nil {
		return nil, fmt.Errorf("failed to create profile directory: %w", err)
	}

	// 2. Proxy routing.
	var server string
	var authProxy *schemas.ProxyDescriptor
	if p := opts.Proxy; p != nil {
		if err := p.Validate(); err != nil {
			return nil, schemas.NewFailure(schemas.KindNetworkUnreachable, "proxy", "invalid proxy", err)
		}
		switch {
		case needsForward(*p, m.cfg.ForwardAllProxies):
			s.forward, err = knet.StartForward(ctx, *p, nil, s.logger)
			if err != nil {
				return nil, schemas.NewFailure(schemas.KindNetworkUnreachable, "proxy", "failed to start proxy forward", err)
			}
			server = s.forward.URL().String()
		default:
			server = proxyServer(*p)
			if p.HasCredentials() {
				authProxy = p
			}
		}
	}

	// 3. Browser process and tab. The process lives as long as ctx.
	flags := Flags(m.cfg, opts.Profile, s.dir, server)
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocatorOptions(m.cfg, flags)...)
	s.allocCancel = allocCancel
	tabOpts := []chromedp.ContextOption{chromedp.WithErrorf(s.logger.Sugar().Debugf)}
	if m.cfg.Debug {
		tabOpts = append(tabOpts, chromedp.WithDebugf(s.logger.Sugar().Debugf))
	}
	tab, tabCancel := chromedp.NewContext(allocCtx, tabOpts...)
	s.tabCancel = tabCancel
	s.page = NewPage(tab, m.cfg.ActionTimeout, s.logger)

	// The first Run allocates the browser and must use the tab context itself.
	if err := chromedp.Run(tab); err != nil {
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}
	if authProxy != nil {
		if err := s.page.run(ctx, enableProxyAuth(tab, *authProxy, s.logger)); err != nil {
			return nil, fmt.Errorf("failed to enable proxy authentication: %w", err)
		}
	}

	// 4. Fingerprint, origin and cookies.
	origin := originOf(m.site.BaseURL)
	if err := s.page.run(ctx, stealth.Apply(opts.Profile, origin, s.logger)); err != nil {
		return nil, fmt.Errorf("failed to apply device profile: %w", err)
	}
	if origin != "" {
		if err := s.page.Navigate(ctx, origin); err != nil {
			return nil, err
		}
	}
	if len(opts.Cookies) > 0 {
		if err := s.page.run(ctx, network.SetCookies(cookieParams(opts.Cookies, m.site))); err != nil {
			return nil, fmt.Errorf("failed to set cookies: %w", err)
		}
	}

	s.logger.Info("Browser session started.",
		zap.Bool("proxied", opts.Proxy != nil),
		zap.Bool("forwarded", s.forward != nil),
		zap.Int("cookies", len(opts.Cookies)),
	)
	return s, nil
}

// Close releases every resource of the session. It is idempotent.
func (s *session) Close() error {
	s.closeOnce.Do(func() {
		var errs []error
		if s.tabCancel != nil {
			s.tabCancel()
		}
		if s.allocCancel != nil {
			s.allocCancel()
		}
		if s.forward != nil {
			if err := s.forward.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close forward: %w", err))
			}
		}
		if s.dir != "" {
			if err := os.RemoveAll(s.dir); err != nil {
				errs = append(errs, fmt.Errorf("remove profile directory: %w", err))
			}
		}
		s.closeErr = errors.Join(errs...)
		s.logger.Debug("Browser session closed.")
	})
	return s.closeErr
}

// enableProxyAuth answers proxy authentication challenges with p's
// credentials and lets every other paused request continue.
func enableProxyAuth(tab context.Context, p schemas.ProxyDescriptor, logger *zap.Logger) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		chromedp.ListenTarget(tab, func(ev any) {
			switch e := ev.(type) {
			case *fetch.EventAuthRequired:
				go func() {
					resp := &fetch.AuthChallengeResponse{
						Response: fetch.AuthChallengeResponseResponseProvideCredentials,
						Username: p.Username,
						Password: p.Password,
					}
					if err := chromedp.Run(tab, fetch.ContinueWithAuth(e.RequestID, resp)); err != nil {
						logger.Debug("Proxy auth response failed.", zap.Error(err))
					}
				}()
			case *fetch.EventRequestPaused:
				go func() {
					if err := chromedp.Run(tab, fetch.ContinueRequest(e.RequestID)); err != nil {
						logger.Debug("Paused request could not continue.", zap.Error(err))
					}
				}()
			}
		})
		return fetch.Enable().WithHandleAuthRequests(true).Do(ctx)
	})
}

// cookieParams converts cookies for network.SetCookies.
func cookieParams(cookies []schemas.Cookie, site config.SiteConfig) []*network.CookieParam {
	params := make([]*network.CookieParam, 0, len(cookies))
	for _, c := range cookies {
		domain := c.Domain
		if domain == "" {
			domain = site.CookieDomain
		}
		path := c.Path
		if path == "" {
			path = "/"
		}
		param := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   domain,
			Path:     path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		}
		switch strings.ToLower(c.SameSite) {
		case "strict":
			param.SameSite = network.CookieSameSiteStrict
		case "lax":
			param.SameSite = network.CookieSameSiteLax
		case "none", "no_restriction":
			param.SameSite = network.CookieSameSiteNone
		}
		if c.Expires != nil && c.Expires.After(time.Unix(0, 0)) {
			exp := cdp.TimeSinceEpoch(*c.Expires)
			param.Expires = &exp
		}
		params = append(params, param)
	}
	return params
}

// originOf returns scheme://host of raw, or "" when raw is not absolute.
func originOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
