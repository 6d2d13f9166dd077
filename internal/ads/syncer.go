// Package ads reconciles an account's remote "Meine Anzeigen" list with the
// stored ad records.
package ads

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/kleinpost/api/schemas"
	"github.com/xkilldash9x/kleinpost/internal/auth"
	"github.com/xkilldash9x/kleinpost/internal/browser/dom"
	"github.com/xkilldash9x/kleinpost/internal/browser/session"
	"github.com/xkilldash9x/kleinpost/internal/config"
	"github.com/xkilldash9x/kleinpost/internal/device"
)

const defaultMyAdsPath = "/m-meine-anzeigen.html"

// Store reads and writes ad records.
type Store interface {
	UpsertAds(ctx context.Context, ads []schemas.Ad) error
	ListAds(ctx context.Context, accountID string) ([]schemas.Ad, error)
}

// ProxyStore resolves an account's stored proxy.
type ProxyStore interface {
	GetProxy(ctx context.Context, id string) (schemas.Proxy, error)
}

// Card is one listing as scraped from the account page.
type Card struct {
	Title    string   `json:"title"`
	Price    string   `json:"price"`
	URL      string   `json:"url"`
	Image    string   `json:"image"`
	Statuses []string `json:"statuses"`
}

// Syncer scrapes and merges ads.
type Syncer struct {
	sessions session.Runner
	pool     *device.Pool
	ads      Store
	proxies  ProxyStore
	site     config.SiteConfig
	logger   *zap.Logger
	retry    bool

	now func() time.Time
}

// NewSyncer creates a syncer. proxies may be nil, in which case accounts are
// synced without their proxy.
func NewSyncer(sessions session.Runner, pool *device.Pool, ads Store, proxies ProxyStore, site config.SiteConfig, logger *zap.Logger) *Syncer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pool == nil {
		pool = device.NewPool(nil, nil)
	}
	return &Syncer{
		sessions: sessions,
		pool:     pool,
		ads:      ads,
		proxies:  proxies,
		site:     site,
		logger:   logger.Named("ads"),
		retry:    true,
		now:      time.Now,
	}
}

// Sync scrapes the account's ads, marks stored ads missing remotely as
// deleted, persists the result and returns it. A failed scrape returns an
// error and leaves the store untouched.
func (s *Syncer) Sync(ctx context.Context, account schemas.Account) ([]schemas.Ad, error) {
	logger := s.logger.With(zap.String("account_id", account.ID))

	// 1. Remote.
	proxy, err := s.proxyFor(ctx, account)
	if err != nil {
		return nil, err
	}
	cards, err := s.Fetch(ctx, account, proxy)
	if err != nil {
		return nil, err
	}

	// 2. Merge with what is stored.
	stored, err := s.ads.ListAds(ctx, account.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list stored ads: %w", err)
	}
	merged := Merge(account.ID, cards, stored, s.now().UTC())

	// 3. Persist.
	if err := s.ads.UpsertAds(ctx, merged); err != nil {
		return nil, fmt.Errorf("failed to store ads: %w", err)
	}
	logger.Info("Ads synchronized.", zap.Int("remote", len(cards)), zap.Int("stored", len(stored)), zap.Int("merged", len(merged)))
	return merged, nil
}

// Fetch opens a session for account and scrapes its ad cards.
func (s *Syncer) Fetch(ctx context.Context, account schemas.Account, proxy *schemas.ProxyDescriptor) ([]Card, error) {
	cookies := auth.ParseCookies(account.Cookies, s.site.CookieDomain)
	if len(cookies) == 0 {
		return nil, schemas.NewFailure(schemas.KindAuthenticationRejected, "cookies", auth.ReasonNoCookies, nil)
	}
	profile := s.pool.Resolve(&account.DeviceProfile)
	run := func(ctx context.Context, px *schemas.ProxyDescriptor) ([]Card, error) {
		opts := session.Options{Profile: profile, Proxy: px, Cookies: cookies}
		return session.With(ctx, s.sessions, opts, s.scrape)
	}
	if !s.retry {
		return run(ctx, proxy)
	}
	cards, _, err := session.WithProxyFallback(ctx, s.logger, proxy, run)
	return cards, err
}

func (s *Syncer) scrape(ctx context.Context, page dom.Page) ([]Card, error) {
	path := s.site.MyAdsPath
	if path == "" {
		path = defaultMyAdsPath
	}
	if err := page.Navigate(ctx, strings.TrimRight(s.site.BaseURL, "/")+path); err != nil {
		return nil, err
	}
	if u, err := page.URL(ctx); err == nil && auth.IsLoginURL(u, s.site.LoginFragment) {
		return nil, schemas.NewFailure(schemas.KindAuthenticationRejected, "my-ads", auth.ReasonLoginRedirect, nil)
	}
	var raw []Card
	if err := page.Evaluate(ctx, dom.Top, cardsScript, &raw); err != nil {
		return nil, err
	}
	return CleanCards(raw), nil
}

func (s *Syncer) proxyFor(ctx context.Context, account schemas.Account) (*schemas.ProxyDescriptor, error) {
	if account.ProxyID == "" || s.proxies == nil {
		return nil, nil
	}
	p, err := s.proxies.GetProxy(ctx, account.ProxyID)
	if err != nil {
		return nil, fmt.Errorf("failed to load proxy %q: %w", account.ProxyID, err)
	}
	return &p.Descriptor, nil
}

// -- Cards --

var (
	reservedRe = regexp.MustCompile(`(?i)reserviert`)
	deletedRe  = regexp.MustCompile(`(?i)gelösch|deleted|entfernt`)
	prefixRe   = regexp.MustCompile(`(?i)^(Reserviert|Gelösch\S*)\s*[•-]?\s*`)
	chromeRe   = regexp.MustCompile(`(?i)Meine Anzeigen|Profil von`)
)

// StatusOf classifies a card by its badge texts. A deletion badge beats a
// reservation badge.
func StatusOf(texts []string) schemas.AdStatus {
	status := schemas.AdActive
	for _, t := range texts {
		if deletedRe.MatchString(t) {
			return schemas.AdDeleted
		}
		if reservedRe.MatchString(t) {
			status = schemas.AdReserved
		}
	}
	return status
}

// CleanTitle strips a leading status badge from a card title.
func CleanTitle(raw string) string {
	return strings.TrimSpace(prefixRe.ReplaceAllString(strings.TrimSpace(raw), ""))
}

// CleanCards normalizes titles and prices and drops page chrome picked up as
// cards.
func CleanCards(raw []Card) []Card {
	out := make([]Card, 0, len(raw))
	for _, c := range raw {
		c.Title = CleanTitle(c.Title)
		c.Price = strings.Join(strings.Fields(c.Price), " ")
		if c.Title == "" || chromeRe.MatchString(c.Title) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// -- Merge --

// Merge builds the reconciled list for accountID: every remote card, then
// every stored ad with no remote card of the same title and price, marked
// deleted. Remote duplicates collapse onto the first card.
func Merge(accountID string, remote []Card, stored []schemas.Ad, now time.Time) []schemas.Ad {
	out := make([]schemas.Ad, 0, len(remote)+len(stored))
	seen := make(map[string]bool, len(remote))
	for _, c := range remote {
		ad := schemas.Ad{
			AccountID: accountID,
			Title:     c.Title,
			Price:     c.Price,
			URL:       c.URL,
			Image:     c.Image,
			Status:    StatusOf(c.Statuses),
			UpdatedAt: now,
		}
		if seen[ad.Key()] {
			continue
		}
		seen[ad.Key()] = true
		out = append(out, ad)
	}
	for _, ad := range stored {
		if ad.AccountID != accountID || seen[ad.Key()] {
			continue
		}
		seen[ad.Key()] = true
		if ad.Status != schemas.AdDeleted {
			ad.Status = schemas.AdDeleted
			ad.UpdatedAt = now
		}
		out = append(out, ad)
	}
	return out
}

// cardsScript collects the listing cards of "Meine Anzeigen". Cards are the
// nearest article, li or div around each ad link, deduplicated.
const cardsScript = `(() => {
  const heading = Array.from(document.querySelectorAll("h1, h2, h3"))
    .find((n) => /Meine Anzeigen/i.test(n.textContent || ""));
  const scope = heading ? (heading.closest("section") || heading.parentElement) : document;
  const links = Array.from(scope.querySelectorAll("a[href*='/s-anzeige/']"));
  const cards = Array.from(new Set(links.map((l) => l.closest("article, li, div")).filter(Boolean)));
  return cards.map((card) => {
    const link = card.querySelector("a[href*='/s-anzeige/']");
    const titleEl = card.querySelector("h2, h3") || link;
    const priceEl = card.querySelector(".price") || card.querySelector("[class*='price']") ||
      card.querySelector("[data-testid*='price']");
    const imageEl = card.querySelector("img") || card.querySelector("[style*='background-image']");
    let image = "";
    if (imageEl && imageEl.tagName.toLowerCase() === "img") {
      image = imageEl.getAttribute("src") || "";
    } else if (imageEl) {
      const m = (imageEl.getAttribute("style") || "").match(/url\(["']?([^"')]+)["']?\)/);
      image = m ? m[1] : "";
    }
    const statuses = Array.from(card.querySelectorAll("span, div"))
      .map((n) => (n.textContent || "").trim())
      .filter((t) => t && t.length < 40);
    return {
      title: titleEl ? titleEl.textContent.trim() : "",
      price: priceEl ? priceEl.textContent.trim() : "",
      url: link ? link.href : "",
      image,
      statuses,
    };
  });
})()`
