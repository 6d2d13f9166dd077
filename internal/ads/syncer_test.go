package ads

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/kleinpost/api/schemas"
	"github.com/xkilldash9x/kleinpost/internal/browser/dom"
	"github.com/xkilldash9x/kleinpost/internal/browser/dom/domtest"
	"github.com/xkilldash9x/kleinpost/internal/browser/session"
	"github.com/xkilldash9x/kleinpost/internal/config"
	"github.com/xkilldash9x/kleinpost/internal/store"
)

// -- Test Setup and Helpers --

var (
	testSite = config.SiteConfig{
		BaseURL:       "https://www.kleinanzeigen.de",
		CookieDomain:  ".kleinanzeigen.de",
		LoginFragment: "m-einloggen",
		MyAdsPath:     "/m-meine-anzeigen.html",
	}
	syncedAt = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
)

type fakeSessions struct {
	mu   sync.Mutex
	page *domtest.Page
	opts []session.Options
	err  func(session.Options) error
}

func (f *fakeSessions) Run(ctx context.Context, opts session.Options, body session.Body) error {
	f.mu.Lock()
	f.opts = append(f.opts, opts)
	f.mu.Unlock()
	if f.err != nil {
		if err := f.err(opts); err != nil {
			return err
		}
	}
	return body(ctx, f.page)
}

func cardsPage(cards ...Card) *domtest.Page {
	page := domtest.New("about:blank")
	page.OnEvaluate = func(dom.Target, string) (any, error) { return cards, nil }
	return page
}

func newSyncer(t *testing.T, sessions session.Runner, st Store, proxies ProxyStore) *Syncer {
	t.Helper()
	s := NewSyncer(sessions, nil, st, proxies, testSite, zaptest.NewLogger(t))
	s.now = func() time.Time { return syncedAt }
	return s
}

func testAccount() schemas.Account {
	return schemas.Account{ID: "acc-1", Cookies: "access_token=abc", Status: schemas.AccountActive}
}

// -- Card Cleaning Tests --

func TestStatusOf(t *testing.T) {
	assert.Equal(t, schemas.AdActive, StatusOf(nil))
	assert.Equal(t, schemas.AdActive, StatusOf([]string{"VB", "Berlin"}))
	assert.Equal(t, schemas.AdReserved, StatusOf([]string{"Reserviert"}))
	assert.Equal(t, schemas.AdDeleted, StatusOf([]string{"Gelöscht"}))
	assert.Equal(t, schemas.AdDeleted, StatusOf([]string{"Reserviert", "Anzeige entfernt"}), "deletion wins")
}

func TestCleanTitle(t *testing.T) {
	assert.Equal(t, "Sofa", CleanTitle("  Reserviert • Sofa "))
	assert.Equal(t, "Tisch", CleanTitle("Gelöscht - Tisch"))
	assert.Equal(t, "Lampe", CleanTitle("Lampe"))
}

func TestCleanCards(t *testing.T) {
	got := CleanCards([]Card{
		{Title: "Meine Anzeigen"},
		{Title: "Profil von Erika"},
		{Title: ""},
		{Title: "Reserviert Sofa", Price: " 50 €\n VB "},
	})
	require.Len(t, got, 1)
	assert.Equal(t, "Sofa", got[0].Title)
	assert.Equal(t, "50 € VB", got[0].Price)
}

// -- Merge Tests --

func TestMerge(t *testing.T) {
	earlier := syncedAt.Add(-48 * time.Hour)
	remote := []Card{
		{Title: "Sofa", Price: "50 €", URL: "https://x/s-anzeige/sofa/1", Statuses: []string{"Reserviert"}},
		{Title: "Sofa", Price: "50 €", URL: "https://x/s-anzeige/sofa/dup"},
		{Title: "Stuhl", Price: "10 €"},
	}
	stored := []schemas.Ad{
		{AccountID: "acc-1", Title: "Sofa", Price: "50 €", Status: schemas.AdActive, UpdatedAt: earlier},
		{AccountID: "acc-1", Title: "Tisch", Price: "20 €", Image: "tisch.jpg", Status: schemas.AdActive, UpdatedAt: earlier},
		{AccountID: "acc-1", Title: "Alt", Price: "1 €", Status: schemas.AdDeleted, UpdatedAt: earlier},
		{AccountID: "other", Title: "Fremd", Price: "5 €", Status: schemas.AdActive, UpdatedAt: earlier},
	}

	want := []schemas.Ad{
		{AccountID: "acc-1", Title: "Sofa", Price: "50 €", URL: "https://x/s-anzeige/sofa/1", Status: schemas.AdReserved, UpdatedAt: syncedAt},
		{AccountID: "acc-1", Title: "Stuhl", Price: "10 €", Status: schemas.AdActive, UpdatedAt: syncedAt},
		{AccountID: "acc-1", Title: "Tisch", Price: "20 €", Image: "tisch.jpg", Status: schemas.AdDeleted, UpdatedAt: syncedAt},
		{AccountID: "acc-1", Title: "Alt", Price: "1 €", Status: schemas.AdDeleted, UpdatedAt: earlier},
	}
	if diff := cmp.Diff(want, Merge("acc-1", remote, stored, syncedAt)); diff != "" {
		t.Errorf("Merge() mismatch (-want +got):\n%s", diff)
	}
}

func TestMerge_PriceIsPartOfTheIdentity(t *testing.T) {
	stored := []schemas.Ad{{AccountID: "acc-1", Title: "Sofa", Price: "60 €", Status: schemas.AdActive}}
	got := Merge("acc-1", []Card{{Title: "Sofa", Price: "50 €"}}, stored, syncedAt)
	require.Len(t, got, 2)
	assert.Equal(t, schemas.AdDeleted, got[1].Status, "a repriced ad is a new listing")
}

// Verifies an ad recorded at publish time with its bare form price matches
// the card that shows the same price with currency.
func TestMerge_PublishedPriceMatchesDisplayedPrice(t *testing.T) {
	stored := []schemas.Ad{{AccountID: "acc-1", Title: "Sofa", Price: "50", URL: "https://x/s-anzeige/sofa/1", Status: schemas.AdActive}}
	got := Merge("acc-1", []Card{{Title: "Sofa", Price: "50 €"}}, stored, syncedAt)
	require.Len(t, got, 1)
	assert.Equal(t, schemas.AdActive, got[0].Status)
	assert.Equal(t, "50 €", got[0].Price)

	st := store.NewMemory()
	ctx := context.Background()
	require.NoError(t, st.UpsertAds(ctx, stored))
	require.NoError(t, st.UpsertAds(ctx, got))
	list, err := st.ListAds(ctx, "acc-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "https://x/s-anzeige/sofa/1", list[0].URL, "stored URL survives a card without one")
}

// -- Sync Tests --

func TestSync(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	require.NoError(t, st.UpsertAds(ctx, []schemas.Ad{
		{AccountID: "acc-1", Title: "Tisch", Price: "20 €", Status: schemas.AdActive, UpdatedAt: syncedAt.Add(-time.Hour)},
	}))
	sessions := &fakeSessions{page: cardsPage(Card{Title: "Sofa", Price: "50 €", URL: "https://x/s-anzeige/sofa/1"})}

	merged, err := newSyncer(t, sessions, st, nil).Sync(ctx, testAccount())
	require.NoError(t, err)
	require.Len(t, merged, 2)
	assert.Equal(t, []string{"Navigate https://www.kleinanzeigen.de/m-meine-anzeigen.html", "Evaluate page"}, sessions.page.Calls())

	saved, err := st.ListAds(ctx, "acc-1")
	require.NoError(t, err)
	require.Len(t, saved, 2)
	assert.Equal(t, "Tisch", saved[0].Title)
	assert.Equal(t, schemas.AdDeleted, saved[0].Status)
	assert.Equal(t, "Sofa", saved[1].Title)
	assert.Equal(t, schemas.AdActive, saved[1].Status)

	require.Len(t, sessions.opts, 1)
	assert.Len(t, sessions.opts[0].Cookies, 1)
	assert.NotEmpty(t, sessions.opts[0].Profile.UserAgent, "a profile is always resolved")
}

func TestSync_UsesStoredProxy(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	px := schemas.Proxy{ID: "px-1", Descriptor: schemas.ProxyDescriptor{Type: schemas.ProxyHTTP, Host: "10.0.0.1", Port: 8080}}
	require.NoError(t, st.CreateProxy(ctx, px))
	sessions := &fakeSessions{page: cardsPage()}

	account := testAccount()
	account.ProxyID = "px-1"
	_, err := newSyncer(t, sessions, st, st).Sync(ctx, account)
	require.NoError(t, err)
	require.NotNil(t, sessions.opts[0].Proxy)
	assert.Equal(t, "10.0.0.1", sessions.opts[0].Proxy.Host)

	account.ProxyID = "missing"
	_, err = newSyncer(t, sessions, st, st).Sync(ctx, account)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSync_TunnelFailureRetriesDirect(t *testing.T) {
	ctx := context.Background()
	sessions := &fakeSessions{
		page: cardsPage(Card{Title: "Sofa", Price: "50 €"}),
		err: func(o session.Options) error {
			if o.Proxy != nil {
				return errors.New("page load failed: net::ERR_TUNNEL_CONNECTION_FAILED")
			}
			return nil
		},
	}
	st := store.NewMemory()
	s := newSyncer(t, sessions, st, nil)
	proxy := &schemas.ProxyDescriptor{Type: schemas.ProxyHTTP, Host: "10.0.0.1", Port: 8080}

	cards, err := s.Fetch(ctx, testAccount(), proxy)
	require.NoError(t, err)
	assert.Len(t, cards, 1)
	require.Len(t, sessions.opts, 2)
	assert.Nil(t, sessions.opts[1].Proxy)
}

func TestSync_FailuresLeaveStoreUntouched(t *testing.T) {
	ctx := context.Background()

	t.Run("no cookies", func(t *testing.T) {
		st := store.NewMemory()
		sessions := &fakeSessions{page: cardsPage()}
		account := testAccount()
		account.Cookies = "   "

		_, err := newSyncer(t, sessions, st, nil).Sync(ctx, account)
		assert.Equal(t, schemas.KindAuthenticationRejected, schemas.KindOf(err))
		assert.Empty(t, sessions.opts, "no session without cookies")
	})

	t.Run("login redirect", func(t *testing.T) {
		st := store.NewMemory()
		require.NoError(t, st.UpsertAds(ctx, []schemas.Ad{{AccountID: "acc-1", Title: "Tisch", Price: "20 €", Status: schemas.AdActive}}))
		page := cardsPage()
		page.OnNavigate = func(p *domtest.Page, _ string) error {
			p.CurrentURL = "https://www.kleinanzeigen.de/m-einloggen.html"
			return nil
		}

		_, err := newSyncer(t, &fakeSessions{page: page}, st, nil).Sync(ctx, testAccount())
		require.Error(t, err)
		assert.Equal(t, schemas.KindAuthenticationRejected, schemas.KindOf(err))
		assert.True(t, strings.Contains(err.Error(), "redirected to login"))

		saved, _ := st.ListAds(ctx, "acc-1")
		require.Len(t, saved, 1)
		assert.Equal(t, schemas.AdActive, saved[0].Status, "a failed scrape must not delete ads")
	})
}
