// Package auth replays imported cookie sets in a browser session to decide
// whether they still authenticate an account.
package auth

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/kleinpost/api/schemas"
	"github.com/xkilldash9x/kleinpost/internal/browser/dom"
	"github.com/xkilldash9x/kleinpost/internal/browser/session"
	"github.com/xkilldash9x/kleinpost/internal/config"
	"github.com/xkilldash9x/kleinpost/internal/device"
)

// Reasons reported in ValidationResult.Reason.
const (
	ReasonNoCookies      = "no cookies parsed"
	ReasonLoginRedirect  = "redirected to login"
	ReasonNoLoginMarkers = "no signed-in markers on the page"
	ReasonSessionFailed  = "browser session failed"
)

const (
	defaultLoginFragment = "m-einloggen"
	defaultMessagesPath  = "/m-nachrichten.html"
	defaultMyAdsPath     = "/m-meine-anzeigen.html"
)

var loginMarkers = regexp.MustCompile(`(?i)Abmelden|Mein Konto|Nachrichten`)

// AccountStore is the persistence the authenticator needs.
type AccountStore interface {
	CreateAccount(ctx context.Context, a schemas.Account) error
	GetAccount(ctx context.Context, id string) (schemas.Account, error)
	UpdateAccountStatus(ctx context.Context, id string, status schemas.AccountStatus, checkedAt time.Time) error
}

// ProxyStore resolves stored proxies by ID.
type ProxyStore interface {
	GetProxy(ctx context.Context, id string) (schemas.Proxy, error)
}

// Authenticator validates cookie sets.
type Authenticator struct {
	sessions session.Runner
	pool     *device.Pool
	site     config.SiteConfig
	logger   *zap.Logger

	accounts AccountStore
	proxies  ProxyStore

	retryWithoutProxy bool
	now               func() time.Time
}

// Option customizes an Authenticator.
type Option func(*Authenticator)

// WithStores enables ImportAccount and Recheck.
func WithStores(accounts AccountStore, proxies ProxyStore) Option {
	return func(a *Authenticator) {
		a.accounts = accounts
		a.proxies = proxies
	}
}

// WithProxyRetry controls the direct retry after a proxy tunnel failure.
func WithProxyRetry(enabled bool) Option {
	return func(a *Authenticator) { a.retryWithoutProxy = enabled }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(a *Authenticator) { a.now = now }
}

// New creates an authenticator that opens sessions through sessions.
func New(sessions session.Runner, pool *device.Pool, site config.SiteConfig, logger *zap.Logger, opts ...Option) *Authenticator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pool == nil {
		pool = device.NewPool(nil, nil)
	}
	a := &Authenticator{
		sessions:          sessions,
		pool:              pool,
		site:              site,
		logger:            logger.Named("auth"),
		retryWithoutProxy: true,
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// replay is what one session learned about the cookie set.
type replay struct {
	loggedIn   bool
	redirected bool
	profile    *schemas.Profile
}

// Validate replays blob with the given fingerprint and proxy. A nil profile
// picks one from the pool; the profile used is echoed in the result.
func (a *Authenticator) Validate(ctx context.Context, blob string, profile *schemas.DeviceProfile, proxy *schemas.ProxyDescriptor) schemas.ValidationResult {
	res := schemas.ValidationResult{DeviceProfile: a.pool.Resolve(profile)}

	cookies := ParseCookies(blob, a.site.CookieDomain)
	if len(cookies) == 0 {
		res.Reason = ReasonNoCookies
		return res
	}

	run := func(ctx context.Context, p *schemas.ProxyDescriptor) (replay, error) {
		opts := session.Options{Profile: res.DeviceProfile, Proxy: p, Cookies: cookies}
		return session.With(ctx, a.sessions, opts, a.check)
	}

	var (
		out     replay
		retried bool
		err     error
	)
	if a.retryWithoutProxy {
		out, retried, err = session.WithProxyFallback(ctx, a.logger, proxy, run)
	} else {
		out, err = run(ctx, proxy)
	}
	res.RetriedWithoutProxy = retried

	switch {
	case err != nil:
		res.ErrorKind = session.KindOf(err)
		res.Reason = fmt.Sprintf("%s: %s", ReasonSessionFailed, schemas.MessageOf(err))
		a.logger.Warn("Cookie validation failed.", zap.Error(err), zap.Bool("retried_without_proxy", retried))
	case out.loggedIn:
		res.Valid = true
		res.Profile = out.profile
	case out.redirected:
		res.ErrorKind = schemas.KindAuthenticationRejected
		res.Reason = ReasonLoginRedirect
	default:
		res.ErrorKind = schemas.KindAuthenticationRejected
		res.Reason = ReasonNoLoginMarkers
	}

	a.logger.Info("Cookie set validated.",
		zap.Bool("valid", res.Valid),
		zap.String("profile", res.DeviceProfile.ID),
		zap.Int("cookies", len(cookies)),
		zap.String("reason", res.Reason),
	)
	return res
}

// check runs inside the session: it opens the signed-in-only page and then,
// if signed in, scrapes the display profile.
func (a *Authenticator) check(ctx context.Context, page dom.Page) (replay, error) {
	var out replay

	// 1. Signed-in-only page.
	if err := page.Navigate(ctx, a.siteURL(a.site.MessagesPath, defaultMessagesPath)); err != nil {
		return out, err
	}
	current, err := page.URL(ctx)
	if err != nil {
		return out, err
	}
	body, err := page.Text(ctx, dom.Top)
	if err != nil {
		return out, err
	}

	// 2. Classify.
	out.redirected = IsLoginURL(current, a.loginFragment())
	out.loggedIn = !out.redirected && loginMarkers.MatchString(body)
	if !out.loggedIn {
		return out, nil
	}

	// 3. Profile, best effort.
	profile, err := a.scrapeProfile(ctx, page)
	if err != nil {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		a.logger.Debug("Profile scrape failed.", zap.Error(err))
		return out, nil
	}
	out.profile = profile
	return out, nil
}

// profileScript reads the account heading and e-mail from "Meine Anzeigen".
const profileScript = `(() => {
  const heading = Array.from(document.querySelectorAll("h2")).find(h => {
    const sr = h.querySelector("span.sr-only");
    return sr && /profil von/i.test(sr.textContent || "");
  }) || document.querySelector("h2.text-title2");
  const email = document.querySelector("#user-email");
  return {
    name: heading ? heading.textContent.trim() : "",
    email: email ? email.textContent.trim() : "",
  };
})()`

var (
	namePrefix  = regexp.MustCompile(`(?i)profil von`)
	emailPrefix = regexp.MustCompile(`(?i)angemeldet als:\s*`)
)

func (a *Authenticator) scrapeProfile(ctx context.Context, page dom.Page) (*schemas.Profile, error) {
	if err := page.Navigate(ctx, a.siteURL(a.site.MyAdsPath, defaultMyAdsPath)); err != nil {
		return nil, err
	}
	var raw schemas.Profile
	if err := page.Evaluate(ctx, dom.Top, profileScript, &raw); err != nil {
		return nil, err
	}
	p := CleanProfile(raw)
	if p.Name == "" && p.Email == "" {
		return nil, errors.New("profile heading not found")
	}
	return &p, nil
}

// CleanProfile strips the screen-reader and label prefixes from scraped text.
func CleanProfile(raw schemas.Profile) schemas.Profile {
	return schemas.Profile{
		Name:  strings.TrimSpace(namePrefix.ReplaceAllString(raw.Name, "")),
		Email: strings.TrimSpace(emailPrefix.ReplaceAllString(raw.Email, "")),
	}
}

// IsLoginURL reports whether u is the login page.
func IsLoginURL(u, fragment string) bool {
	if fragment == "" {
		fragment = defaultLoginFragment
	}
	return strings.Contains(u, fragment)
}

// -- Account lifecycle --

// errNoStore is returned when the store-backed operations are not configured.
var errNoStore = errors.New("authenticator has no account store")

// ImportAccount validates blob and, when valid, stores a new account bound
// to a freshly picked device profile and the optional proxy.
func (a *Authenticator) ImportAccount(ctx context.Context, blob, proxyID string) (schemas.Account, schemas.ValidationResult, error) {
	if a.accounts == nil {
		return schemas.Account{}, schemas.ValidationResult{}, errNoStore
	}
	proxy, err := a.lookupProxy(ctx, proxyID)
	if err != nil {
		return schemas.Account{}, schemas.ValidationResult{}, err
	}

	res := a.Validate(ctx, blob, nil, proxy)
	if !res.Valid {
		return schemas.Account{}, res, nil
	}

	now := a.now().UTC()
	acc := schemas.Account{
		ID:            uuid.NewString(),
		Label:         Label(res.Profile),
		Cookies:       blob,
		DeviceProfile: res.DeviceProfile,
		ProxyID:       proxyID,
		Status:        schemas.AccountActive,
		LastCheck:     &now,
		CreatedAt:     now,
	}
	if res.Profile != nil {
		acc.Profile = *res.Profile
	}
	if err := a.accounts.CreateAccount(ctx, acc); err != nil {
		return schemas.Account{}, res, fmt.Errorf("failed to store account: %w", err)
	}
	a.logger.Info("Account imported.", zap.String("account_id", acc.ID), zap.String("label", acc.Label))
	return acc, res, nil
}

// Recheck validates a stored account again with its assigned profile and
// proxy and records the outcome.
func (a *Authenticator) Recheck(ctx context.Context, accountID string) (schemas.ValidationResult, error) {
	if a.accounts == nil {
		return schemas.ValidationResult{}, errNoStore
	}
	acc, err := a.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return schemas.ValidationResult{}, err
	}
	proxy, err := a.lookupProxy(ctx, acc.ProxyID)
	if err != nil {
		return schemas.ValidationResult{}, err
	}

	res := a.Validate(ctx, acc.Cookies, &acc.DeviceProfile, proxy)
	status := schemas.AccountInvalid
	switch {
	case res.Valid:
		status = schemas.AccountActive
	case res.ErrorKind != schemas.KindAuthenticationRejected:
		// Network and internal failures leave the cookies unjudged.
		status = schemas.AccountUnknown
	}
	if err := a.accounts.UpdateAccountStatus(ctx, acc.ID, status, a.now().UTC()); err != nil {
		return res, fmt.Errorf("failed to update account status: %w", err)
	}
	return res, nil
}

func (a *Authenticator) lookupProxy(ctx context.Context, id string) (*schemas.ProxyDescriptor, error) {
	if id == "" {
		return nil, nil
	}
	if a.proxies == nil {
		return nil, fmt.Errorf("proxy %s requested but no proxy store is configured", id)
	}
	p, err := a.proxies.GetProxy(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load proxy %s: %w", id, err)
	}
	return &p.Descriptor, nil
}

// Label renders "name (email)", or whichever part is known.
func Label(p *schemas.Profile) string {
	if p == nil {
		return ""
	}
	switch {
	case p.Name != "" && p.Email != "":
		return p.Name + " (" + p.Email + ")"
	case p.Name != "":
		return p.Name
	default:
		return p.Email
	}
}

func (a *Authenticator) loginFragment() string { return a.site.LoginFragment }

func (a *Authenticator) siteURL(path, fallback string) string {
	if path == "" {
		path = fallback
	}
	return strings.TrimRight(a.site.BaseURL, "/") + path
}
