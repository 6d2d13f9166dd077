package category

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/kleinpost/api/schemas"
	"github.com/xkilldash9x/kleinpost/internal/config"
)

// Tree sources reported in CategoryTree.Source.
const (
	SourceCache    = "cache"
	SourceLive     = "live"
	SourceFallback = "fallback"
)

const (
	defaultTTL       = 24 * time.Hour
	defaultDepth     = 2
	maxPageBytes     = 8 << 20
	acceptLanguage   = "de-DE,de;q=0.9,en;q=0.8"
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36"
)

// HTTPDoer is the part of *http.Client the service needs.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Service serves the category tree.
type Service struct {
	cache     Cache
	client    HTTPDoer
	base      string
	sources   []string
	ttl       time.Duration
	depth     int
	userAgent string
	limiter   *rate.Limiter
	logger    *zap.Logger

	now func() time.Time
}

// Option tunes a Service.
type Option func(*Service)

// WithUserAgent overrides the User-Agent sent to category pages.
func WithUserAgent(ua string) Option {
	return func(s *Service) {
		if ua != "" {
			s.userAgent = ua
		}
	}
}

// WithClock replaces the clock used for stamping and freshness.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a category service. cache may be nil, in which case
// every call goes live.
func NewService(cache Cache, client HTTPDoer, site config.SiteConfig, cfg config.CategoriesConfig, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if client == nil {
		client = http.DefaultClient
	}
	base := site.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	sources := cfg.Sources
	if len(sources) == 0 {
		sources = []string{base + "/s-kategorie/", base + "/s-kategorie"}
	}
	s := &Service{
		cache:     cache,
		client:    client,
		base:      base,
		sources:   sources,
		ttl:       cfg.CacheTTL,
		depth:     cfg.MaxDepth,
		userAgent: defaultUserAgent,
		limiter:   rate.NewLimiter(rate.Inf, 1),
		logger:    logger.Named("category"),
		now:       time.Now,
	}
	if s.ttl <= 0 {
		s.ttl = defaultTTL
	}
	if s.depth <= 0 {
		s.depth = defaultDepth
	}
	if cfg.RequestInterval > 0 {
		s.limiter = rate.NewLimiter(rate.Every(cfg.RequestInterval), 1)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetCategories returns the cached tree while it is fresh, otherwise a live
// tree. When every live source fails the static tree is served and stored.
// Only cancellation is returned as an error.
func (s *Service) GetCategories(ctx context.Context, forceRefresh bool) (schemas.CategoryTree, error) {
	// 1. Cache.
	if !forceRefresh && s.cache != nil {
		cached, err := s.cache.Load(ctx)
		switch {
		case err != nil && ctx.Err() != nil:
			return schemas.CategoryTree{}, ctx.Err()
		case err != nil:
			s.logger.Warn("Failed to load category cache, refreshing.", zap.Error(err))
		case Fresh(cached, s.ttl, s.now()):
			cached.Source = SourceCache
			return *cached, nil
		}
	}

	// 2. Live, then the static tree.
	tree := schemas.CategoryTree{UpdatedAt: s.now().UTC(), Source: SourceLive}
	nodes, err := s.fetchTree(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return schemas.CategoryTree{}, ctx.Err()
		}
		s.logger.Warn("Category pages unavailable, serving the static tree.",
			zap.String("kind", string(schemas.KindUpstreamUnavailable)), zap.Error(err))
		nodes, tree.Source = StaticTree(), SourceFallback
	}
	tree.Categories = nodes

	// 3. Persist.
	if s.cache != nil {
		if err := s.cache.Store(ctx, tree); err != nil {
			s.logger.Warn("Failed to store category tree.", zap.Error(err))
		}
	}
	s.logger.Info("Category tree refreshed.", zap.String("source", tree.Source), zap.Int("top_level", len(nodes)))
	return tree, nil
}

// GetChildren returns the children of one category. Slug ids are answered
// from the static tree; numeric ids and URLs are fetched live.
func (s *Service) GetChildren(ctx context.Context, idOrURL string) ([]schemas.CategoryNode, error) {
	key := strings.TrimSpace(idOrURL)
	if key == "" {
		return nil, nil
	}
	target := key
	if !isURL(key) {
		if !IsNumericID(key) {
			if node, ok := schemas.Find(StaticTree(), key); ok {
				return node.Children, nil
			}
			return []schemas.CategoryNode{}, nil
		}
		target = buildURL(s.base, key)
	}

	body, err := s.fetchPage(ctx, target)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, schemas.NewFailure(schemas.KindUpstreamUnavailable, "children", "category page unavailable", err)
	}
	nodes, err := ParsePage(body, target)
	if err != nil {
		return nil, schemas.NewFailure(schemas.KindUpstreamUnavailable, "children", "category page unreadable", err)
	}
	return nodes, nil
}

// fetchTree reads the first answering entry point and expands it.
func (s *Service) fetchTree(ctx context.Context) ([]schemas.CategoryNode, error) {
	var (
		body    string
		pageURL string
		lastErr error
	)
	for _, src := range s.sources {
		b, err := s.fetchPage(ctx, src)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.logger.Debug("Category source failed.", zap.String("url", src), zap.Error(err))
			lastErr = err
			continue
		}
		body, pageURL = b, src
		break
	}
	if pageURL == "" {
		return nil, fmt.Errorf("no category source answered: %w", lastErr)
	}

	nodes, err := ParsePage(body, pageURL)
	if err != nil {
		return nil, err
	}
	visited := make(map[string]bool)
	for i := range nodes {
		if err := s.expand(ctx, &nodes[i], s.depth, visited); err != nil {
			return nil, err
		}
	}
	if len(nodes) == 0 {
		return nil, errNoTree
	}
	return nodes, nil
}

// expand fills empty child lists from the node's own page, down to depth
// levels. Each URL is visited at most once. Page failures leave the node as
// is; only cancellation aborts.
func (s *Service) expand(ctx context.Context, node *schemas.CategoryNode, depth int, visited map[string]bool) error {
	if depth <= 0 {
		return nil
	}
	if node.URL == "" {
		node.URL = buildURL(s.base, node.ID)
	}
	if node.URL == "" || visited[node.URL] {
		return nil
	}
	visited[node.URL] = true

	if len(node.Children) == 0 {
		body, err := s.fetchPage(ctx, node.URL)
		switch {
		case err != nil && ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			s.logger.Debug("Category page failed.", zap.String("url", node.URL), zap.Error(err))
		default:
			if children, err := ParsePage(body, node.URL); err == nil {
				node.Children = children
			}
		}
	}
	for i := range node.Children {
		if err := s.expand(ctx, &node.Children[i], depth-1, visited); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) fetchPage(ctx context.Context, u string) (string, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	req.Header.Set("Accept-Language", acceptLanguage)
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("unexpected status %s", resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
