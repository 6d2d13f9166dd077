package auth

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/kleinpost/api/schemas"
	"github.com/xkilldash9x/kleinpost/internal/browser/dom"
	"github.com/xkilldash9x/kleinpost/internal/browser/dom/domtest"
	"github.com/xkilldash9x/kleinpost/internal/browser/session"
	"github.com/xkilldash9x/kleinpost/internal/config"
	"github.com/xkilldash9x/kleinpost/internal/device"
)

// -- Test Setup and Helpers --

var testSite = config.SiteConfig{
	BaseURL:       "https://www.kleinanzeigen.de",
	CookieDomain:  ".kleinanzeigen.de",
	LoginFragment: "m-einloggen",
	MessagesPath:  "/m-nachrichten.html",
	MyAdsPath:     "/m-meine-anzeigen.html",
}

// fakeSessions serves every session from one scripted page.
type fakeSessions struct {
	mu    sync.Mutex
	page  *domtest.Page
	opts  []session.Options
	onRun func(opts session.Options) error
}

func (f *fakeSessions) Run(ctx context.Context, opts session.Options, body session.Body) error {
	f.mu.Lock()
	f.opts = append(f.opts, opts)
	f.mu.Unlock()
	if f.onRun != nil {
		if err := f.onRun(opts); err != nil {
			return err
		}
	}
	return body(ctx, f.page)
}

func (f *fakeSessions) runs() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.opts)
}

// signedInPage answers like the marketplace with a working cookie set.
func signedInPage() *domtest.Page {
	page := domtest.New("about:blank")
	page.OnText = func(p *domtest.Page, _ dom.Target) string {
		if strings.Contains(p.CurrentURL, "m-nachrichten") {
			return "Nachrichten  Mein Konto  Abmelden"
		}
		return ""
	}
	page.OnEvaluate = func(dom.Target, string) (any, error) {
		return map[string]string{"name": "Profil von Erika", "email": "angemeldet als: erika@example.com"}, nil
	}
	return page
}

// loginRedirectPage sends every navigation to the login page.
func loginRedirectPage() *domtest.Page {
	page := domtest.New("about:blank")
	page.OnNavigate = func(p *domtest.Page, _ string) error {
		p.CurrentURL = "https://www.kleinanzeigen.de/m-einloggen.html?targetUrl=/m-nachrichten.html"
		return nil
	}
	page.Doc(dom.Top).Body = "Einloggen Nachrichten"
	return page
}

func newAuthenticator(t *testing.T, sessions session.Runner, opts ...Option) *Authenticator {
	t.Helper()
	pool := device.NewPool(nil, rand.New(rand.NewSource(1)))
	return New(sessions, pool, testSite, zaptest.NewLogger(t), opts...)
}

type memAccounts struct {
	accounts map[string]schemas.Account
	statuses map[string]schemas.AccountStatus
}

func newMemAccounts() *memAccounts {
	return &memAccounts{accounts: map[string]schemas.Account{}, statuses: map[string]schemas.AccountStatus{}}
}

func (m *memAccounts) CreateAccount(_ context.Context, a schemas.Account) error {
	m.accounts[a.ID] = a
	return nil
}

func (m *memAccounts) GetAccount(_ context.Context, id string) (schemas.Account, error) {
	a, ok := m.accounts[id]
	if !ok {
		return schemas.Account{}, errors.New("not found")
	}
	return a, nil
}

func (m *memAccounts) UpdateAccountStatus(_ context.Context, id string, status schemas.AccountStatus, _ time.Time) error {
	m.statuses[id] = status
	return nil
}

type memProxies map[string]schemas.Proxy

func (m memProxies) GetProxy(_ context.Context, id string) (schemas.Proxy, error) {
	p, ok := m[id]
	if !ok {
		return schemas.Proxy{}, errors.New("not found")
	}
	return p, nil
}

// -- Validate Tests --

func TestValidate_EmptyBlobNeedsNoBrowser(t *testing.T) {
	sessions := &fakeSessions{page: signedInPage()}
	a := newAuthenticator(t, sessions)

	for _, blob := range []string{"", "   ", "[]", "\n\n"} {
		res := a.Validate(context.Background(), blob, nil, nil)
		assert.False(t, res.Valid)
		assert.Equal(t, ReasonNoCookies, res.Reason)
		assert.NotEmpty(t, res.DeviceProfile.ID)
	}
	assert.Zero(t, sessions.runs())
}

func TestValidate_SignedIn(t *testing.T) {
	sessions := &fakeSessions{page: signedInPage()}
	a := newAuthenticator(t, sessions)
	profile := device.DefaultProfiles[1]

	res := a.Validate(context.Background(), "access_token=abc\nrefresh=def", &profile, nil)

	require.True(t, res.Valid, res.Reason)
	require.NotNil(t, res.Profile)
	assert.Equal(t, "Erika", res.Profile.Name)
	assert.Equal(t, "erika@example.com", res.Profile.Email)
	assert.Equal(t, "de-mac-chrome", res.DeviceProfile.ID)

	require.Len(t, sessions.opts, 1)
	assert.Len(t, sessions.opts[0].Cookies, 2)
	assert.Equal(t, []string{
		"Navigate https://www.kleinanzeigen.de/m-nachrichten.html",
		"Navigate https://www.kleinanzeigen.de/m-meine-anzeigen.html",
		"Evaluate page",
	}, sessions.page.Calls())
}

func TestValidate_LoginRedirect(t *testing.T) {
	sessions := &fakeSessions{page: loginRedirectPage()}
	a := newAuthenticator(t, sessions)

	res := a.Validate(context.Background(), "access_token=abc", nil, nil)

	assert.False(t, res.Valid)
	assert.Equal(t, schemas.KindAuthenticationRejected, res.ErrorKind)
	assert.Equal(t, ReasonLoginRedirect, res.Reason)
	assert.Equal(t, 1, sessions.page.Count("Navigate"), "no profile scrape after a redirect")
}

func TestValidate_NoMarkers(t *testing.T) {
	page := domtest.New("about:blank")
	page.Doc(dom.Top).Body = "Willkommen"
	a := newAuthenticator(t, &fakeSessions{page: page})

	res := a.Validate(context.Background(), "a=b", nil, nil)
	assert.False(t, res.Valid)
	assert.Equal(t, ReasonNoLoginMarkers, res.Reason)
}

func TestValidate_ProfileScrapeFailureIsNotFatal(t *testing.T) {
	page := signedInPage()
	page.OnEvaluate = func(dom.Target, string) (any, error) { return nil, errors.New("detached") }
	a := newAuthenticator(t, &fakeSessions{page: page})

	res := a.Validate(context.Background(), "a=b", nil, nil)
	assert.True(t, res.Valid)
	assert.Nil(t, res.Profile)
}

func TestValidate_TunnelFailureRetriesDirect(t *testing.T) {
	proxy := &schemas.ProxyDescriptor{Type: schemas.ProxyHTTP, Host: "proxy.test", Port: 8080}
	sessions := &fakeSessions{
		page: signedInPage(),
		onRun: func(opts session.Options) error {
			if opts.Proxy != nil {
				return errors.New("failed to navigate: page load error net::ERR_TUNNEL_CONNECTION_FAILED")
			}
			return nil
		},
	}
	a := newAuthenticator(t, sessions)

	res := a.Validate(context.Background(), "a=b", nil, proxy)
	assert.True(t, res.Valid)
	assert.True(t, res.RetriedWithoutProxy)
	require.Len(t, sessions.opts, 2)
	assert.Nil(t, sessions.opts[1].Proxy)
	assert.Equal(t, sessions.opts[0].Profile, sessions.opts[1].Profile, "the retry keeps the fingerprint")
}

func TestValidate_TunnelFailureWithoutRetry(t *testing.T) {
	proxy := &schemas.ProxyDescriptor{Type: schemas.ProxyHTTP, Host: "proxy.test", Port: 8080}
	sessions := &fakeSessions{
		page:  signedInPage(),
		onRun: func(session.Options) error { return errors.New("net::ERR_TUNNEL_CONNECTION_FAILED") },
	}
	a := newAuthenticator(t, sessions, WithProxyRetry(false))

	res := a.Validate(context.Background(), "a=b", nil, proxy)
	assert.False(t, res.Valid)
	assert.Equal(t, schemas.KindNetworkUnreachable, res.ErrorKind)
	assert.Contains(t, res.Reason, ReasonSessionFailed)
	assert.Equal(t, 1, sessions.runs())
}

// -- Account Lifecycle Tests --

func TestImportAccount(t *testing.T) {
	accounts := newMemAccounts()
	proxies := memProxies{"p1": {ID: "p1", Descriptor: schemas.ProxyDescriptor{Type: schemas.ProxySOCKS5, Host: "10.0.0.1", Port: 1080}}}
	sessions := &fakeSessions{page: signedInPage()}
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a := newAuthenticator(t, sessions, WithStores(accounts, proxies), WithClock(func() time.Time { return fixed }))

	acc, res, err := a.ImportAccount(context.Background(), "a=b", "p1")
	require.NoError(t, err)
	require.True(t, res.Valid)
	assert.NotEmpty(t, acc.ID)
	assert.Equal(t, "Erika (erika@example.com)", acc.Label)
	assert.Equal(t, schemas.AccountActive, acc.Status)
	assert.Equal(t, "p1", acc.ProxyID)
	assert.Equal(t, fixed, acc.CreatedAt)
	assert.Equal(t, res.DeviceProfile, acc.DeviceProfile)
	assert.Contains(t, accounts.accounts, acc.ID)

	require.Len(t, sessions.opts, 1)
	require.NotNil(t, sessions.opts[0].Proxy)
	assert.Equal(t, "10.0.0.1", sessions.opts[0].Proxy.Host)
}

func TestImportAccount_InvalidIsNotStored(t *testing.T) {
	accounts := newMemAccounts()
	a := newAuthenticator(t, &fakeSessions{page: loginRedirectPage()}, WithStores(accounts, nil))

	_, res, err := a.ImportAccount(context.Background(), "a=b", "")
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Empty(t, accounts.accounts)
}

func TestImportAccount_UnknownProxy(t *testing.T) {
	a := newAuthenticator(t, &fakeSessions{page: signedInPage()}, WithStores(newMemAccounts(), memProxies{}))
	_, _, err := a.ImportAccount(context.Background(), "a=b", "missing")
	assert.ErrorContains(t, err, "failed to load proxy missing")
}

func TestRecheck(t *testing.T) {
	accounts := newMemAccounts()
	assigned := device.DefaultProfiles[2]
	accounts.accounts["acc-1"] = schemas.Account{ID: "acc-1", Cookies: "a=b", DeviceProfile: assigned}

	t.Run("active", func(t *testing.T) {
		sessions := &fakeSessions{page: signedInPage()}
		a := newAuthenticator(t, sessions, WithStores(accounts, nil))
		res, err := a.Recheck(context.Background(), "acc-1")
		require.NoError(t, err)
		assert.True(t, res.Valid)
		assert.Equal(t, schemas.AccountActive, accounts.statuses["acc-1"])
		assert.Equal(t, assigned.ID, sessions.opts[0].Profile.ID, "the assigned profile is reused")
	})

	t.Run("invalid", func(t *testing.T) {
		a := newAuthenticator(t, &fakeSessions{page: loginRedirectPage()}, WithStores(accounts, nil))
		_, err := a.Recheck(context.Background(), "acc-1")
		require.NoError(t, err)
		assert.Equal(t, schemas.AccountInvalid, accounts.statuses["acc-1"])
	})

	t.Run("network failure leaves status unknown", func(t *testing.T) {
		sessions := &fakeSessions{page: signedInPage(), onRun: func(session.Options) error { return errors.New("chrome failed to start") }}
		a := newAuthenticator(t, sessions, WithStores(accounts, nil))
		res, err := a.Recheck(context.Background(), "acc-1")
		require.NoError(t, err)
		assert.Equal(t, schemas.KindInternal, res.ErrorKind)
		assert.Equal(t, schemas.AccountUnknown, accounts.statuses["acc-1"])
	})
}

func TestLifecycleWithoutStore(t *testing.T) {
	a := newAuthenticator(t, &fakeSessions{page: signedInPage()})
	_, _, err := a.ImportAccount(context.Background(), "a=b", "")
	assert.ErrorIs(t, err, errNoStore)
	_, err = a.Recheck(context.Background(), "x")
	assert.ErrorIs(t, err, errNoStore)
}

func TestLabel(t *testing.T) {
	assert.Equal(t, "", Label(nil))
	assert.Equal(t, "Erika", Label(&schemas.Profile{Name: "Erika"}))
	assert.Equal(t, "e@x.de", Label(&schemas.Profile{Email: "e@x.de"}))
	assert.Equal(t, "Erika (e@x.de)", Label(&schemas.Profile{Name: "Erika", Email: "e@x.de"}))
}

func TestCleanProfile(t *testing.T) {
	got := CleanProfile(schemas.Profile{Name: "  Profil von  Max Mustermann ", Email: "Angemeldet als:   max@example.com"})
	assert.Equal(t, schemas.Profile{Name: "Max Mustermann", Email: "max@example.com"}, got)
}

func TestIsLoginURL(t *testing.T) {
	assert.True(t, IsLoginURL("https://www.kleinanzeigen.de/m-einloggen.html", ""))
	assert.False(t, IsLoginURL("https://www.kleinanzeigen.de/m-nachrichten.html", "m-einloggen"))
}
