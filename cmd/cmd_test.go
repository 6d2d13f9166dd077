package cmd

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/kleinpost/api/schemas"
	"github.com/xkilldash9x/kleinpost/internal/browser/dom"
	"github.com/xkilldash9x/kleinpost/internal/category"
	"github.com/xkilldash9x/kleinpost/internal/proxycheck"
	"github.com/xkilldash9x/kleinpost/internal/store"
)

// -- Root and Configuration --

func TestRootCmd_VersionFlag(t *testing.T) {
	out, _, err := execute(t, newFakeFactory(nil), "", "--version")
	require.NoError(t, err)
	assert.Equal(t, Version+"\n", out)

	out, _, err = execute(t, newFakeFactory(nil), "", "version")
	require.NoError(t, err)
	assert.Equal(t, Version+"\n", out)
}

func TestConfigFlagOverride(t *testing.T) {
	configFile := createTempFile(t, "config-*.yaml", `
publish:
  max_form_errors: 9
proxycheck:
  leak_policy: fail
browser:
  headless: true
`)
	t.Setenv("KLEINPOST_SITE_BASE_URL", "https://staging.kleinanzeigen.example")

	factory := newFakeFactory(nil)
	_, _, err := execute(t, factory, "", "--config", configFile, "--headful", "proxy", "list")
	require.NoError(t, err)

	cfg := factory.config()
	require.NotNil(t, cfg)
	assert.Equal(t, 9, cfg.Publish().MaxFormErrors, "file beats defaults")
	assert.Equal(t, "fail", string(cfg.ProxyCheck().LeakPolicy))
	assert.False(t, cfg.Browser().Headless, "flag beats file")
	assert.Equal(t, "https://staging.kleinanzeigen.example", cfg.Site().BaseURL, "env beats defaults")
}

func TestConfig_Invalid(t *testing.T) {
	configFile := createTempFile(t, "config-*.yaml", "proxycheck:\n  leak_policy: ignore\n")
	factory := newFakeFactory(nil)

	_, _, err := execute(t, factory, "", "--config", configFile, "proxy", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "leak_policy")
	assert.Nil(t, factory.config(), "no components for an invalid config")
}

func TestArgumentValidation(t *testing.T) {
	_, _, err := execute(t, newFakeFactory(nil), "", "accounts", "recheck")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg(s), received 0")

	_, _, err = execute(t, newFakeFactory(nil), "", "validate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `required flag(s) "cookies" not set`)

	_, _, err = execute(t, newFakeFactory(nil), "", "publish")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `required flag(s) "account" not set`)
}

func TestFactoryFailure(t *testing.T) {
	factory := newFakeFactory(nil)
	factory.err = errors.New("database unreachable")

	_, _, err := execute(t, factory, "", "accounts", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to initialize components: database unreachable")
}

// -- Accounts --

func TestValidateCmd(t *testing.T) {
	t.Run("signed in", func(t *testing.T) {
		factory := newFakeFactory(signedInPage())
		out, _, err := execute(t, factory, "access_token=abc; ekey=1", "validate", "--cookies", "-")
		require.NoError(t, err)

		var res schemas.ValidationResult
		require.NoError(t, json.Unmarshal([]byte(out), &res))
		assert.True(t, res.Valid)
		require.NotNil(t, res.Profile)
		assert.Equal(t, "erika@example.com", res.Profile.Email)

		accounts, err := factory.store.ListAccounts(context.Background())
		require.NoError(t, err)
		assert.Empty(t, accounts, "validate never stores")
	})

	t.Run("login redirect", func(t *testing.T) {
		out, _, err := execute(t, newFakeFactory(loginRedirectPage()), "access_token=abc", "validate", "--cookies", "-")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cookies rejected: redirected to login")

		var res schemas.ValidationResult
		require.NoError(t, json.Unmarshal([]byte(out), &res))
		assert.False(t, res.Valid)
		assert.Equal(t, schemas.KindAuthenticationRejected, res.ErrorKind)
	})

	t.Run("bad proxy", func(t *testing.T) {
		_, _, err := execute(t, newFakeFactory(signedInPage()), "access_token=abc", "validate", "--cookies", "-", "--proxy", "gopher://x:1")
		require.Error(t, err)
	})
}

func TestAccountsLifecycle(t *testing.T) {
	factory := newFakeFactory(signedInPage())
	cookies := createTempFile(t, "cookies-*.txt", "access_token=abc")

	out, _, err := execute(t, factory, "", "accounts", "import", "--cookies", cookies)
	require.NoError(t, err)
	var imported importOutput
	require.NoError(t, json.Unmarshal([]byte(out), &imported))
	require.NotNil(t, imported.Account)
	id := imported.Account.ID
	assert.Equal(t, schemas.AccountActive, imported.Account.Status)
	assert.NotEmpty(t, imported.Account.DeviceProfile.UserAgent)

	out, _, err = execute(t, factory, "", "accounts", "list")
	require.NoError(t, err)
	var listed []schemas.Account
	require.NoError(t, json.Unmarshal([]byte(out), &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, id, listed[0].ID)

	// The cookies stop working: a recheck records the account as invalid.
	factory.sessions.page = loginRedirectPage()
	out, _, err = execute(t, factory, "", "accounts", "recheck", id)
	require.NoError(t, err)
	var res schemas.ValidationResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.False(t, res.Valid)

	out, _, err = execute(t, factory, "", "accounts", "show", id)
	require.NoError(t, err)
	var shown schemas.Account
	require.NoError(t, json.Unmarshal([]byte(out), &shown))
	assert.Equal(t, schemas.AccountInvalid, shown.Status)

	_, _, err = execute(t, factory, "", "accounts", "delete", id)
	require.NoError(t, err)
	_, _, err = execute(t, factory, "", "accounts", "show", id)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestAccountsImport_Rejected(t *testing.T) {
	factory := newFakeFactory(loginRedirectPage())
	out, _, err := execute(t, factory, "access_token=abc", "accounts", "import", "--cookies", "-")
	require.Error(t, err)

	var imported importOutput
	require.NoError(t, json.Unmarshal([]byte(out), &imported))
	assert.Nil(t, imported.Account)
	accounts, _ := factory.store.ListAccounts(context.Background())
	assert.Empty(t, accounts)
}

// -- Proxies --

func TestProxyCmd(t *testing.T) {
	factory := newFakeFactory(nil)

	out, _, err := execute(t, factory, "", "proxy", "add", "socks5://user:pw@10.0.0.1:1080", "--name", "berlin")
	require.NoError(t, err)
	var added schemas.Proxy
	require.NoError(t, json.Unmarshal([]byte(out), &added))
	assert.Equal(t, "berlin", added.Name)
	assert.Equal(t, schemas.ProxySOCKS5, added.Descriptor.Type)
	assert.Equal(t, 1080, added.Descriptor.Port)

	out, _, err = execute(t, factory, "", "proxy", "add", "10.0.0.2:8080")
	require.NoError(t, err)
	var unnamed schemas.Proxy
	require.NoError(t, json.Unmarshal([]byte(out), &unnamed))
	assert.Equal(t, "10.0.0.2:8080", unnamed.Name)

	out, _, err = execute(t, factory, "", "proxy", "list")
	require.NoError(t, err)
	var listed []schemas.Proxy
	require.NoError(t, json.Unmarshal([]byte(out), &listed))
	assert.Len(t, listed, 2)

	_, _, err = execute(t, factory, "", "proxy", "delete", added.ID)
	require.NoError(t, err)
	_, _, err = execute(t, factory, "", "proxy", "delete", added.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, _, err = execute(t, factory, "", "proxy", "add", "not a proxy")
	assert.Error(t, err)
}

func TestResolveProxy(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	require.NoError(t, st.CreateProxy(ctx, schemas.Proxy{ID: "px-1", Descriptor: schemas.ProxyDescriptor{Type: schemas.ProxyHTTP, Host: "10.0.0.9", Port: 3128}}))

	target, err := resolveProxy(ctx, st, "px-1")
	require.NoError(t, err)
	assert.Equal(t, "px-1", target.ID)
	assert.Equal(t, "10.0.0.9", target.Descriptor.Host)

	target, err = resolveProxy(ctx, st, "http://10.0.0.3:8080")
	require.NoError(t, err)
	assert.Empty(t, target.ID, "ad hoc proxies are not recorded")
	assert.Equal(t, 8080, target.Descriptor.Port)

	_, err = resolveProxy(ctx, st, "missing")
	assert.Error(t, err)
}

func TestProxyCheck_InvalidDescriptorIsReported(t *testing.T) {
	factory := newFakeFactory(nil)
	ctx := context.Background()
	require.NoError(t, factory.store.CreateProxy(ctx, schemas.Proxy{ID: "px-bad", Descriptor: schemas.ProxyDescriptor{Type: schemas.ProxyHTTP, Host: "", Port: 0}}))

	out, _, err := execute(t, factory, "", "proxy", "check", "px-bad")
	require.NoError(t, err)
	var res schemas.ProbeResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.False(t, res.Success)
	assert.Equal(t, proxycheck.StageConnect, res.Stage)

	stored, err := factory.store.GetProxy(ctx, "px-bad")
	require.NoError(t, err)
	require.NotNil(t, stored.LastResult, "stored proxies keep their last result")
	assert.False(t, stored.LastResult.Success)
}

// -- Categories, Publish and Ads --

func TestCategoriesCmd_OfflineServesStaticTree(t *testing.T) {
	out, _, err := execute(t, newFakeFactory(nil), "", "categories")
	require.NoError(t, err)
	var tree schemas.CategoryTree
	require.NoError(t, json.Unmarshal([]byte(out), &tree))
	assert.Equal(t, category.SourceFallback, tree.Source)
	assert.NotEmpty(t, tree.Categories)
}

func TestCategoriesCmd_Children(t *testing.T) {
	static := category.StaticTree()
	require.NotEmpty(t, static)
	parent := static[0]

	out, _, err := execute(t, newFakeFactory(nil), "", "categories", "children", parent.ID)
	require.NoError(t, err)
	var children []schemas.CategoryNode
	require.NoError(t, json.Unmarshal([]byte(out), &children))
	assert.Len(t, children, len(parent.Children))

	_, _, err = execute(t, newFakeFactory(nil), "", "categories", "children", "161")
	require.Error(t, err)
	assert.Equal(t, schemas.KindUpstreamUnavailable, schemas.KindOf(err))
}

func TestPublishCmd_UnknownAccount(t *testing.T) {
	_, _, err := execute(t, newFakeFactory(nil), "", "publish", "--account", "nobody", "--title", "Sofa")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPublishFlags_Content(t *testing.T) {
	adFile := createTempFile(t, "ad-*.json", `{"title":"Sofa","description":"Gut erhalten","price":"50","postalCode":"10115"}`)

	root := newRootCommand(newFakeFactory(nil))
	publishCmd, _, err := root.Find([]string{"publish"})
	require.NoError(t, err)
	require.NoError(t, publishCmd.ParseFlags([]string{"--account", "a1", "--file", adFile, "--price", "45", "--image", "a.jpg", "--image", "b.jpg"}))

	f := &publishFlags{adFile: adFile}
	f.ad.Price = "45"
	f.ad.ImagePaths = []string{"a.jpg", "b.jpg"}
	ad, err := f.content(publishCmd)
	require.NoError(t, err)
	assert.Equal(t, "Sofa", ad.Title)
	assert.Equal(t, "45", ad.Price, "flags beat the file")
	assert.Equal(t, "10115", ad.PostalCode)
	assert.Equal(t, []string{"a.jpg", "b.jpg"}, ad.ImagePaths)
}

func TestPublishFlags_ProxyFor(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	require.NoError(t, st.CreateProxy(ctx, schemas.Proxy{ID: "px-1", Descriptor: schemas.ProxyDescriptor{Type: schemas.ProxyHTTP, Host: "10.0.0.1", Port: 8080}}))
	account := schemas.Account{ID: "a1", ProxyID: "px-1"}

	p, err := (&publishFlags{}).proxyFor(ctx, st, account)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "10.0.0.1", p.Host)

	p, err = (&publishFlags{noProxy: true}).proxyFor(ctx, st, account)
	require.NoError(t, err)
	assert.Nil(t, p)

	p, err = (&publishFlags{proxyURL: "socks5://10.0.0.7:1080"}).proxyFor(ctx, st, account)
	require.NoError(t, err)
	assert.Equal(t, schemas.ProxySOCKS5, p.Type)

	_, err = (&publishFlags{}).proxyFor(ctx, st, schemas.Account{ProxyID: "gone"})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestAdsCmd(t *testing.T) {
	factory := newFakeFactory(nil)
	ctx := context.Background()
	require.NoError(t, factory.store.CreateAccount(ctx, schemas.Account{ID: "a1", Cookies: "access_token=abc", Status: schemas.AccountActive}))
	require.NoError(t, factory.store.UpsertAds(ctx, []schemas.Ad{{AccountID: "a1", Title: "Tisch", Price: "20 €", Status: schemas.AdActive}}))

	page := signedInPage()
	page.OnEvaluate = func(dom.Target, string) (any, error) {
		return []map[string]any{{"title": "Sofa", "price": "50 €", "url": "https://x/s-anzeige/sofa/1"}}, nil
	}
	factory.sessions.page = page

	out, _, err := execute(t, factory, "", "ads", "sync", "a1")
	require.NoError(t, err)
	var merged []schemas.Ad
	require.NoError(t, json.Unmarshal([]byte(out), &merged))
	require.Len(t, merged, 2)
	assert.Equal(t, "Sofa", merged[0].Title)
	assert.Equal(t, schemas.AdDeleted, merged[1].Status)

	out, _, err = execute(t, factory, "", "ads", "list", "a1")
	require.NoError(t, err)
	var stored []schemas.Ad
	require.NoError(t, json.Unmarshal([]byte(out), &stored))
	assert.Len(t, stored, 2)
}
